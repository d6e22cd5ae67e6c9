/*
Copyright 2025 The OrgSync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/orgsync/orgsync/internal/xerrors"
)

// GetString returns the trimmed value of the environment variable, or the
// default when unset or blank.
func GetString(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// GetBool parses a boolean environment variable. Accepted forms, case
// insensitively: true/false, 1/0, yes/no. Unset or blank returns the
// default; anything else is a Config error.
func GetBool(key string, def bool) (bool, error) {
	v := GetString(key, "")
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, xerrors.Newf(xerrors.Config, "%s: cannot parse %q as a boolean", key, v)
}

// GetInt parses an integer environment variable. Unset or blank returns
// the default; anything unparsable is a Config error.
func GetInt(key string, def int) (int, error) {
	v := GetString(key, "")
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, xerrors.Newf(xerrors.Config, "%s: cannot parse %q as an integer", key, v)
	}
	return i, nil
}
