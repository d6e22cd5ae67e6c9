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

package reconciler

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/orgsync/orgsync/internal/document"
	"github.com/orgsync/orgsync/internal/target"
)

// Error strings.
const (
	errAddUser          = "cannot create user"
	errUpdateUser       = "cannot update user"
	errAdditionalEmails = "cannot fetch additional emails"
	errExternalIDs      = "cannot fetch external ids"
	errManualFlags      = "cannot fetch manually added flags"
	errUserRoles        = "cannot fetch user roles"
	errFmtSetSetting    = "cannot set %s"
)

// state is the target account as read once at the start of the user
// pass. Later mutations do not refresh it; the diffs tolerate stale
// reads because they are idempotent.
type state struct {
	users      []target.User
	byEmail    map[string]*target.User
	byAlias    map[string]*target.User
	byExternal map[string]*target.User
	additional map[target.ID]string
	external   map[target.ID]string
	manual     map[target.ID]bool
	roles      map[target.ID][]target.GroupRole
	processed  map[target.ID]bool
}

// role returns the user's current role id within the given group, or ""
// when no assignment is recorded there.
func (st *state) role(id, groupID target.ID) string {
	for _, gr := range st.roles[id] {
		if gr.GroupID == groupID {
			return gr.RoleID
		}
	}
	return ""
}

// loadState bulk-fetches the users and every per-user setting the pass
// reads, and builds the reverse lookup maps used for matching. The four
// setting reads are independent and read-only, so they share a bounded
// errgroup; mutations stay strictly sequential.
func (r *Reconciler) loadState(ctx context.Context) (*state, error) {
	users, err := r.api.ListUsers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errListUsers)
	}
	ids := make([]target.ID, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}

	var (
		additional map[target.ID]string
		external   map[target.ID]string
		manual     map[target.ID]bool
		roles      map[target.ID][]target.GroupRole
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	g.Go(func() error {
		var err error
		additional, err = r.api.AdditionalEmails(gctx, ids)
		return errors.Wrap(err, errAdditionalEmails)
	})
	g.Go(func() error {
		var err error
		external, err = r.api.ExternalIDs(gctx, ids)
		return errors.Wrap(err, errExternalIDs)
	})
	g.Go(func() error {
		var err error
		manual, err = r.api.ManuallyAdded(gctx, ids)
		return errors.Wrap(err, errManualFlags)
	})
	g.Go(func() error {
		var err error
		roles, err = r.api.UserRoles(gctx)
		return errors.Wrap(err, errUserRoles)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st := &state{
		users:      users,
		byEmail:    make(map[string]*target.User, len(users)),
		byAlias:    map[string]*target.User{},
		byExternal: map[string]*target.User{},
		additional: additional,
		external:   external,
		manual:     manual,
		roles:      roles,
		processed:  map[target.ID]bool{},
	}
	for i := range st.users {
		u := &st.users[i]
		st.byEmail[strings.ToLower(u.Email)] = u
		if alias := strings.ToLower(strings.TrimSpace(additional[u.ID])); alias != "" {
			st.byAlias[alias] = u
		}
		if ext := strings.TrimSpace(external[u.ID]); ext != "" {
			st.byExternal[ext] = u
		}
	}
	return st, nil
}

// How a document user was matched to a target user.
type matchKind int

const (
	matchNone matchKind = iota
	matchEmail
	matchAlias
	matchExternalID
)

// match finds the target user a document user refers to: by primary
// email, then by additional-email alias, then, when configured, by
// recorded external id.
func (r *Reconciler) match(st *state, du document.User) (*target.User, matchKind) {
	if u, ok := st.byEmail[du.Email]; ok {
		return u, matchEmail
	}
	if u, ok := st.byAlias[du.Email]; ok {
		return u, matchAlias
	}
	if r.profile.UpdateEmailOnExternalIDMatch && du.ExternalID != "" {
		if u, ok := st.byExternal[du.ExternalID]; ok {
			return u, matchExternalID
		}
	}
	return nil, matchNone
}

// A pending is a user created during this run, finalised only after the
// user list is refetched and its id is known.
type pending struct {
	user  document.User
	group target.ID
}

// syncUsers walks the document's active users in order, updating matched
// target users and creating the rest. Failures abandon the affected user
// and the pass continues.
func (r *Reconciler) syncUsers(ctx context.Context, doc document.Document, t *tree, st *state) []pending {
	var created []pending
	for _, du := range doc {
		if !du.Active() {
			continue
		}

		if tu, how := r.match(st, du); tu != nil {
			st.processed[tu.ID] = true
			if err := r.updateExisting(ctx, st, t, tu, du, how); err != nil {
				r.log.Info("Cannot update user; continuing", "email", du.Email, "error", err)
			}
			continue
		}

		if r.profile.DisableNewUsers {
			r.log.Debug("Skipping new user; creation is disabled", "email", du.Email)
			continue
		}
		p, err := r.createUser(ctx, t, du)
		if err != nil {
			r.log.Info("Cannot create user; continuing", "email", du.Email, "error", err)
			continue
		}
		if p != nil {
			created = append(created, *p)
		}
	}
	return created
}

// updateExisting diffs one matched user against its document entry and
// applies what changed. Any mutation also clears added_manually, marking
// the record as script-managed.
func (r *Reconciler) updateExisting(ctx context.Context, st *state, t *tree, tu *target.User, du document.User, how matchKind) error {
	if r.profile.IsIgnored(int(tu.ID)) {
		r.log.Debug("Skipping ignored user", "email", tu.Email, "id", tu.ID.String())
		return nil
	}
	if r.profile.DisableManualUserUpdates && st.manual[tu.ID] {
		r.log.Debug("Skipping manually added user; manual updates are disabled", "email", tu.Email, "id", tu.ID.String())
		return nil
	}

	var upd target.UserUpdate
	var changes []string

	if du.Name != "" && du.Name != tu.DisplayName {
		name := du.Name
		upd.DisplayName = &name
		changes = append(changes, fmt.Sprintf("name %q to %q", tu.DisplayName, du.Name))
	}
	if how == matchExternalID && !strings.EqualFold(tu.Email, du.Email) {
		email := du.Email
		upd.Email = &email
		changes = append(changes, fmt.Sprintf("email %q to %q", tu.Email, du.Email))
	}
	if !r.profile.DisableGroupUpdates {
		if gid, ok := t.lookup(du.GroupsBreadcrumb); ok && gid != tu.GroupID {
			upd.GroupID = &gid
			changes = append(changes, fmt.Sprintf("group %s to %s", tu.GroupID, gid))
		}
	}
	if !r.profile.DisableRoleUpdates {
		desired := document.RoleID(du.Role)
		if current := st.role(tu.ID, tu.GroupID); current != "" && current != desired {
			upd.RoleID = &desired
			changes = append(changes, fmt.Sprintf("role %s to %s", current, desired))
		}
	}

	reenable := !tu.Enabled
	if reenable {
		changes = append(changes, "re-enable")
	}

	setAlias := !r.profile.DisableAdditionalEmailSync && du.RealEmail != "" && st.additional[tu.ID] != du.RealEmail
	if setAlias {
		changes = append(changes, fmt.Sprintf("additional email %q to %q", st.additional[tu.ID], du.RealEmail))
	}
	setExternal := !r.profile.DisableExternalIDSync && du.ExternalID != "" && st.external[tu.ID] != du.ExternalID
	if setExternal {
		changes = append(changes, fmt.Sprintf("external id %q to %q", st.external[tu.ID], du.ExternalID))
	}

	if len(changes) == 0 {
		return nil
	}
	if r.dryRun {
		r.log.Info("[DRY RUN] Would update user", "email", du.Email, "changes", strings.Join(changes, ", "))
		return nil
	}
	r.log.Info("Updating user", "email", du.Email, "changes", strings.Join(changes, ", "))

	if upd != (target.UserUpdate{}) {
		if err := r.api.UpdateUser(ctx, tu.ID, tu.GroupID, upd); err != nil {
			return errors.Wrap(err, errUpdateUser)
		}
	}
	if reenable {
		if err := r.api.UpdateUserSetting(ctx, tu.ID, target.SettingDisabledUser, "0"); err != nil {
			return errors.Wrapf(err, errFmtSetSetting, target.SettingDisabledUser)
		}
	}
	if setAlias {
		if err := r.api.SetAdditionalEmail(ctx, tu.ID, du.RealEmail); err != nil {
			return errors.Wrapf(err, errFmtSetSetting, target.SettingAdditionalEmail)
		}
	}
	if setExternal {
		if err := r.api.UpdateUserSetting(ctx, tu.ID, target.SettingExternalID, du.ExternalID); err != nil {
			return errors.Wrapf(err, errFmtSetSetting, target.SettingExternalID)
		}
	}
	if st.manual[tu.ID] {
		if err := r.api.UpdateUserSetting(ctx, tu.ID, target.SettingAddedManually, "0"); err != nil {
			return errors.Wrapf(err, errFmtSetSetting, target.SettingAddedManually)
		}
	}
	return nil
}

// createUser invites one new user into the group its breadcrumb names,
// or under the root group when that group does not exist.
func (r *Reconciler) createUser(ctx context.Context, t *tree, du document.User) (*pending, error) {
	gid, ok := t.lookup(du.GroupsBreadcrumb)
	if !ok {
		gid = t.root
	}
	if r.dryRun {
		r.log.Info("[DRY RUN] Would create user", "email", du.Email, "group", du.GroupsBreadcrumb)
		return nil, nil
	}

	u, err := r.api.AddUser(ctx, du.Email, gid)
	if err != nil {
		return nil, errors.Wrap(err, errAddUser)
	}
	r.log.Info("Created user", "email", du.Email, "id", u.ID.String(), "group", gid.String())
	return &pending{user: du, group: gid}, nil
}

// finalizeNew refetches the user list and settles the settings of users
// created during this run: the script-managed marker, the display name,
// a role beyond the default, the additional email, and the external id.
func (r *Reconciler) finalizeNew(ctx context.Context, created []pending) error {
	if len(created) == 0 {
		return nil
	}
	users, err := r.api.ListUsers(ctx)
	if err != nil {
		return errors.Wrap(err, errListUsers)
	}
	byEmail := make(map[string]target.User, len(users))
	for _, u := range users {
		byEmail[strings.ToLower(u.Email)] = u
	}

	for _, p := range created {
		u, ok := byEmail[p.user.Email]
		if !ok {
			r.log.Info("Created user absent from refreshed list; skipping finalisation", "email", p.user.Email)
			continue
		}
		if err := r.finalizeUser(ctx, u, p); err != nil {
			r.log.Info("Cannot finalise new user; continuing", "email", p.user.Email, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) finalizeUser(ctx context.Context, u target.User, p pending) error {
	if err := r.api.UpdateUserSetting(ctx, u.ID, target.SettingAddedManually, "0"); err != nil {
		return errors.Wrapf(err, errFmtSetSetting, target.SettingAddedManually)
	}
	if p.user.Name != "" && p.user.Name != u.DisplayName {
		name := p.user.Name
		if err := r.api.UpdateUser(ctx, u.ID, p.group, target.UserUpdate{DisplayName: &name}); err != nil {
			return errors.Wrap(err, errUpdateUser)
		}
	}
	if !r.profile.DisableRoleUpdates && p.user.Role != "" && p.user.Role != document.RoleUser {
		role := document.RoleID(p.user.Role)
		if err := r.api.UpdateUser(ctx, u.ID, p.group, target.UserUpdate{RoleID: &role}); err != nil {
			return errors.Wrap(err, errUpdateUser)
		}
	}
	if !r.profile.DisableAdditionalEmailSync && p.user.RealEmail != "" {
		if err := r.api.SetAdditionalEmail(ctx, u.ID, p.user.RealEmail); err != nil {
			return errors.Wrapf(err, errFmtSetSetting, target.SettingAdditionalEmail)
		}
	}
	if !r.profile.DisableExternalIDSync && p.user.ExternalID != "" {
		if err := r.api.UpdateUserSetting(ctx, u.ID, target.SettingExternalID, p.user.ExternalID); err != nil {
			return errors.Wrapf(err, errFmtSetSetting, target.SettingExternalID)
		}
	}
	return nil
}

// deactivate disables every enabled target user the pass did not touch
// whose email is either marked inactive in the document or absent from
// it altogether, both directly and through additional-email aliases.
func (r *Reconciler) deactivate(ctx context.Context, doc document.Document, st *state) {
	if r.profile.DisableUserDeactivation {
		r.log.Debug("Skipping deactivations; deactivation is disabled")
		return
	}

	prepared := make(map[string]bool, len(doc))
	inactive := map[string]bool{}
	for _, du := range doc {
		prepared[du.Email] = true
		if !du.Active() {
			inactive[du.Email] = true
		}
	}

	for i := range st.users {
		tu := &st.users[i]
		if st.processed[tu.ID] || !tu.Enabled || r.profile.IsIgnored(int(tu.ID)) {
			continue
		}
		if r.profile.DisableManualUserUpdates && st.manual[tu.ID] {
			continue
		}

		email := strings.ToLower(tu.Email)
		alias := strings.ToLower(strings.TrimSpace(st.additional[tu.ID]))
		var reason string
		switch {
		case inactive[email]:
			reason = "marked as inactive in source"
		case !prepared[email] && (alias == "" || !prepared[alias]):
			reason = "not present in source"
		default:
			continue
		}

		if r.dryRun {
			r.log.Info("[DRY RUN] Would deactivate user", "email", tu.Email, "reason", reason)
			continue
		}
		if err := r.api.UpdateUserSetting(ctx, tu.ID, target.SettingDisabledUser, "1"); err != nil {
			r.log.Info("Cannot deactivate user; continuing", "email", tu.Email, "error", err)
			continue
		}
		r.log.Info("Deactivated user", "email", tu.Email, "reason", reason)

		if gid := target.ID(r.profile.DisabledUsersGroupID); gid != 0 && gid != tu.GroupID {
			if err := r.api.UpdateUser(ctx, tu.ID, tu.GroupID, target.UserUpdate{GroupID: &gid}); err != nil {
				r.log.Info("Cannot move deactivated user; continuing", "email", tu.Email, "error", err)
			}
		}
	}
}
