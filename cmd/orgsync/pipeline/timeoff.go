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

package pipeline

import (
	"context"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/leave"
	"github.com/orgsync/orgsync/internal/target"
)

// SyncTimeOffCmd records vacation entries as attendance days on the target.
type SyncTimeOffCmd struct {
	File   string `help:"Vacation blob to read. Defaults to vacation.json." optional:""`
	DryRun bool   `help:"Log every intended recording without issuing it." name:"dry-run"`

	store blob.Store
	api   leave.Service
}

// Help prints out the help for the sync-time-off command.
func (c *SyncTimeOffCmd) Help() string {
	return `
This command reads the vacation document written by the HR extractors
and records each entry as an attendance day on the target. Entries whose
email or leave type cannot be resolved are logged and skipped.
Requires TIMECAMP_API_KEY and TIMECAMP_ROOT_GROUP_ID.

Examples:

  # Show which days would be recorded.
  orgsync sync-time-off --dry-run

  # Record from a non-default blob.
  orgsync sync-time-off --file var/vacation-2026.json
`
}

// Run records the vacation document against the target.
func (c *SyncTimeOffCmd) Run(log logging.Logger) error {
	ctx := context.Background()

	p, err := loadProfile()
	if err != nil {
		return err
	}
	if err := p.ValidateTarget(); err != nil {
		return err
	}
	store, err := openStore(ctx, c.store, p, log)
	if err != nil {
		return err
	}

	api := c.api
	if api == nil {
		api = target.New(p, target.WithLogger(log))
	}

	s := leave.New(api, store, p, leave.WithLogger(log), leave.WithDryRun(c.DryRun), leave.WithVacationFile(c.File))
	return s.Run(ctx)
}
