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

// Package version contains the version command.
package version

import (
	"fmt"

	"github.com/alecthomas/kong"

	"github.com/orgsync/orgsync/internal/version"
)

// Cmd prints the client version.
type Cmd struct{}

// Help prints out the help for the version command.
func (c *Cmd) Help() string {
	return `
This command prints the version of orgsync. The version is set at build
time from the most recent git tag.
`
}

// Run prints the version.
func (c *Cmd) Run(k *kong.Context) error {
	_, _ = fmt.Fprintln(k.Stdout, version.New().GetVersionString())
	return nil
}
