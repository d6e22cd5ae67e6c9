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

// Package extract holds what the source extractors share: text
// normalisation, roster persistence, and page merging. The extractors
// themselves live in the subpackages, one per source directory.
package extract

import (
	"context"
	"strings"

	"dario.cat/mergo"
	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"golang.org/x/text/unicode/norm"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/roster"
)

// Error strings.
const (
	errSaveRoster   = "cannot save roster"
	errFmtMergeUser = "cannot merge duplicate roster records for %q"
)

// Normalize prepares a text field for the roster: Unicode is composed to
// NFC so the same name extracted from different sources compares equal,
// and surrounding whitespace is trimmed.
func Normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// SplitList splits a comma separated configuration value, trimming each
// item and dropping empties.
func SplitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// SaveRoster writes the extracted users as the roster document the
// modeller consumes. An empty extraction still writes a document, so a
// stale roster never survives a run that legitimately found nobody.
func SaveRoster(ctx context.Context, store blob.Store, name string, users []roster.User, log logging.Logger) error {
	if users == nil {
		users = []roster.User{}
	}
	if err := store.SaveJSON(ctx, name, roster.Document{Users: users}); err != nil {
		return errors.Wrap(err, errSaveRoster)
	}
	log.Info("Saved roster", "name", name, "users", len(users))
	return nil
}

// MergeByExternalID folds pages of users into one roster. Directories can
// repeat a record across pages while the listing shifts underneath the
// cursor; repeats collapse into a single entry with later non-empty
// fields overriding earlier ones. First-appearance order is kept, and
// users without an external id pass through unmerged.
func MergeByExternalID(pages ...[]roster.User) ([]roster.User, error) {
	var out []roster.User
	index := map[string]int{}
	for _, page := range pages {
		for _, u := range page {
			if u.ExternalID == "" {
				out = append(out, u)
				continue
			}
			i, ok := index[u.ExternalID]
			if !ok {
				index[u.ExternalID] = len(out)
				out = append(out, u)
				continue
			}
			merged := out[i]
			if err := mergo.Merge(&merged, u, mergo.WithOverride); err != nil {
				return nil, errors.Wrapf(err, errFmtMergeUser, u.ExternalID)
			}
			out[i] = merged
		}
	}
	return out, nil
}
