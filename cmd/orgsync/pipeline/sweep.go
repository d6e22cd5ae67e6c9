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

	"github.com/orgsync/orgsync/internal/reconciler"
	"github.com/orgsync/orgsync/internal/target"
)

// RemoveEmptyGroupsCmd deletes groups that hold no users and no subgroups.
type RemoveEmptyGroupsCmd struct {
	DryRun bool `help:"Log every intended deletion without issuing it." name:"dry-run"`

	api reconciler.Service
}

// Help prints out the help for the remove-empty-groups command.
func (c *RemoveEmptyGroupsCmd) Help() string {
	return `
This command removes groups that contain no enabled users and no
subgroups. Deletion runs deepest-first in a single pass; a parent left
empty by the sweep is removed by the next invocation.
Requires TIMECAMP_API_KEY and TIMECAMP_ROOT_GROUP_ID.

Examples:

  # Show which groups would be deleted.
  orgsync remove-empty-groups --dry-run
`
}

// Run sweeps empty groups from the target.
func (c *RemoveEmptyGroupsCmd) Run(log logging.Logger) error {
	ctx := context.Background()

	p, err := loadProfile()
	if err != nil {
		return err
	}
	if err := p.ValidateTarget(); err != nil {
		return err
	}

	api := c.api
	if api == nil {
		api = target.New(p, target.WithLogger(log))
	}

	r := reconciler.New(api, p, reconciler.WithLogger(log), reconciler.WithDryRun(c.DryRun))
	return r.SweepEmptyGroups(ctx)
}
