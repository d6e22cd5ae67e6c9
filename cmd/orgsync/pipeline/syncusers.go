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

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/document"
	"github.com/orgsync/orgsync/internal/reconciler"
	"github.com/orgsync/orgsync/internal/target"
)

const errLoadDocument = "cannot load user document"

// SyncUsersCmd reconciles the target account against the user document.
type SyncUsersCmd struct {
	File   string `help:"Document blob to reconcile from. Defaults to the standard document name." optional:""`
	DryRun bool   `help:"Log every intended mutation without issuing it." name:"dry-run"`

	store blob.Store
	api   reconciler.Service
}

// Help prints out the help for the sync-users command.
func (c *SyncUsersCmd) Help() string {
	return `
This command drives the target account toward the user document written
by prepare: groups are created top-down, users are created, updated, and
deactivated, and the settings of newly created users are finalized.
Requires TIMECAMP_API_KEY and TIMECAMP_ROOT_GROUP_ID.

Examples:

  # Show what a reconcile would change, without changing anything.
  orgsync sync-users --dry-run

  # Reconcile for real.
  orgsync sync-users
`
}

// Run reconciles the target.
func (c *SyncUsersCmd) Run(log logging.Logger) error {
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

	file := c.File
	if file == "" {
		file = document.DefaultName
	}
	var doc document.Document
	if err := store.LoadJSON(ctx, file, &doc); err != nil {
		return errors.Wrap(err, errLoadDocument)
	}

	api := c.api
	if api == nil {
		api = target.New(p, target.WithLogger(log))
	}

	r := reconciler.New(api, p, reconciler.WithLogger(log), reconciler.WithDryRun(c.DryRun))
	return r.Run(ctx, doc)
}
