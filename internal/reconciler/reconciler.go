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

// Package reconciler drives a target account toward the modelled user
// document. It grows the group tree top-down, then creates, updates,
// and deactivates users, and can sweep groups nothing uses any more.
// All mutations are issued sequentially; a failure on one user is
// logged and the run continues, because every mutation is idempotent
// at field granularity.
package reconciler

import (
	"context"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/config"
	"github.com/orgsync/orgsync/internal/document"
	"github.com/orgsync/orgsync/internal/target"
)

// Error strings.
const (
	errListGroups = "cannot list groups"
	errListUsers  = "cannot list users"
)

// A Service is the slice of the target API the reconcilers drive.
// *target.Client implements it; tests substitute a fake.
type Service interface {
	ListUsers(ctx context.Context) ([]target.User, error)
	ListGroups(ctx context.Context) ([]target.Group, error)
	AddGroup(ctx context.Context, name string, parentID target.ID) (target.ID, error)
	DeleteGroup(ctx context.Context, id target.ID) error
	AddUser(ctx context.Context, email string, groupID target.ID) (target.User, error)
	UpdateUser(ctx context.Context, id, groupID target.ID, u target.UserUpdate) error
	UpdateUserSetting(ctx context.Context, id target.ID, name, value string) error
	SetAdditionalEmail(ctx context.Context, id target.ID, email string) error
	AdditionalEmails(ctx context.Context, ids []target.ID) (map[target.ID]string, error)
	ExternalIDs(ctx context.Context, ids []target.ID) (map[target.ID]string, error)
	ManuallyAdded(ctx context.Context, ids []target.ID) (map[target.ID]bool, error)
	UserRoles(ctx context.Context) (map[target.ID][]target.GroupRole, error)
}

var _ Service = (*target.Client)(nil)

// A Reconciler reconciles one target account against a user document.
type Reconciler struct {
	api     Service
	profile config.Profile
	log     logging.Logger
	dryRun  bool
}

// An Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger configures how a Reconciler logs.
func WithLogger(l logging.Logger) Option {
	return func(r *Reconciler) {
		r.log = l
	}
}

// WithDryRun makes the Reconciler log every intended mutation with a
// [DRY RUN] prefix instead of issuing it.
func WithDryRun(dry bool) Option {
	return func(r *Reconciler) {
		r.dryRun = dry
	}
}

// New returns a Reconciler that drives the supplied service toward
// whatever document is passed to Run.
func New(api Service, p config.Profile, opts ...Option) *Reconciler {
	r := &Reconciler{
		api:     api,
		profile: p,
		log:     logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run reconciles the target account against the document: groups first,
// then users, then deactivations, and finally the settings of users
// created during this run. Group creation failures abort the run; a
// failed user mutation only abandons that user.
func (r *Reconciler) Run(ctx context.Context, doc document.Document) error {
	t, err := r.loadTree(ctx)
	if err != nil {
		return err
	}
	if err := r.ensureGroups(ctx, t, doc); err != nil {
		return err
	}

	st, err := r.loadState(ctx)
	if err != nil {
		return err
	}
	created := r.syncUsers(ctx, doc, t, st)
	r.deactivate(ctx, doc, st)
	return r.finalizeNew(ctx, created)
}

// root returns the configured root group id.
func (r *Reconciler) root() target.ID {
	return target.ID(r.profile.RootGroupID)
}
