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

	"github.com/orgsync/orgsync/internal/target"
)

// fakeTarget is an in-memory stand-in for the target API. Mutating calls
// are journalled in order and applied to its state, so replaying a
// reconcile exercises real read-back behaviour. Reads fail by op name,
// mutations by their exact journal line.
type fakeTarget struct {
	groups     []target.Group
	users      []target.User
	additional map[target.ID]string
	external   map[target.ID]string
	manual     map[target.ID]bool
	roles      map[target.ID][]target.GroupRole

	nextID  target.ID
	journal []string
	fail    map[string]error
}

var _ Service = &fakeTarget{}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		additional: map[target.ID]string{},
		external:   map[target.ID]string{},
		manual:     map[target.ID]bool{},
		roles:      map[target.ID][]target.GroupRole{},
		fail:       map[string]error{},
		nextID:     1000,
	}
}

func (f *fakeTarget) call(line string) error {
	f.journal = append(f.journal, line)
	return f.fail[line]
}

func (f *fakeTarget) ListUsers(_ context.Context) ([]target.User, error) {
	if err := f.fail["ListUsers"]; err != nil {
		return nil, err
	}
	out := make([]target.User, len(f.users))
	copy(out, f.users)
	return out, nil
}

func (f *fakeTarget) ListGroups(_ context.Context) ([]target.Group, error) {
	if err := f.fail["ListGroups"]; err != nil {
		return nil, err
	}
	out := make([]target.Group, len(f.groups))
	copy(out, f.groups)
	return out, nil
}

func (f *fakeTarget) AddGroup(_ context.Context, name string, parentID target.ID) (target.ID, error) {
	if err := f.call(fmt.Sprintf("AddGroup(%s, %s)", name, parentID)); err != nil {
		return 0, err
	}
	f.nextID++
	f.groups = append(f.groups, target.Group{ID: f.nextID, Name: name, ParentID: parentID})
	return f.nextID, nil
}

func (f *fakeTarget) DeleteGroup(_ context.Context, id target.ID) error {
	if err := f.call(fmt.Sprintf("DeleteGroup(%s)", id)); err != nil {
		return err
	}
	kept := f.groups[:0]
	for _, g := range f.groups {
		if g.ID != id {
			kept = append(kept, g)
		}
	}
	f.groups = kept
	return nil
}

func (f *fakeTarget) AddUser(_ context.Context, email string, groupID target.ID) (target.User, error) {
	if err := f.call(fmt.Sprintf("AddUser(%s, %s)", email, groupID)); err != nil {
		return target.User{}, err
	}
	f.nextID++
	u := target.User{
		ID:          f.nextID,
		Email:       email,
		DisplayName: localPart(email),
		GroupID:     groupID,
		Enabled:     true,
	}
	f.users = append(f.users, u)
	f.roles[u.ID] = []target.GroupRole{{GroupID: groupID, RoleID: "3"}}
	return u, nil
}

func (f *fakeTarget) UpdateUser(_ context.Context, id, groupID target.ID, u target.UserUpdate) error {
	var parts []string
	if u.DisplayName != nil {
		parts = append(parts, "name="+*u.DisplayName)
	}
	if u.Email != nil {
		parts = append(parts, "email="+*u.Email)
	}
	if u.GroupID != nil {
		parts = append(parts, "group="+u.GroupID.String())
	}
	if u.RoleID != nil {
		parts = append(parts, "role="+*u.RoleID)
	}
	if err := f.call(fmt.Sprintf("UpdateUser(%s, %s, %s)", id, groupID, strings.Join(parts, " "))); err != nil {
		return err
	}
	for i := range f.users {
		if f.users[i].ID != id {
			continue
		}
		if u.DisplayName != nil {
			f.users[i].DisplayName = *u.DisplayName
		}
		if u.Email != nil {
			f.users[i].Email = *u.Email
		}
		if u.GroupID != nil {
			f.users[i].GroupID = *u.GroupID
		}
	}
	if u.RoleID != nil {
		f.setRole(id, groupID, *u.RoleID)
	}
	return nil
}

func (f *fakeTarget) UpdateUserSetting(_ context.Context, id target.ID, name, value string) error {
	if err := f.call(fmt.Sprintf("UpdateUserSetting(%s, %s, %s)", id, name, value)); err != nil {
		return err
	}
	switch name {
	case target.SettingDisabledUser:
		for i := range f.users {
			if f.users[i].ID == id {
				f.users[i].Enabled = value != "1"
			}
		}
	case target.SettingAddedManually:
		f.manual[id] = value == "1"
	case target.SettingAdditionalEmail:
		f.additional[id] = value
	case target.SettingExternalID:
		f.external[id] = value
	}
	return nil
}

func (f *fakeTarget) SetAdditionalEmail(_ context.Context, id target.ID, email string) error {
	if err := f.call(fmt.Sprintf("SetAdditionalEmail(%s, %s)", id, email)); err != nil {
		return err
	}
	f.additional[id] = email
	return nil
}

func (f *fakeTarget) AdditionalEmails(_ context.Context, ids []target.ID) (map[target.ID]string, error) {
	if err := f.fail["AdditionalEmails"]; err != nil {
		return nil, err
	}
	out := map[target.ID]string{}
	for _, id := range ids {
		if v, ok := f.additional[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeTarget) ExternalIDs(_ context.Context, ids []target.ID) (map[target.ID]string, error) {
	if err := f.fail["ExternalIDs"]; err != nil {
		return nil, err
	}
	out := map[target.ID]string{}
	for _, id := range ids {
		if v, ok := f.external[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeTarget) ManuallyAdded(_ context.Context, ids []target.ID) (map[target.ID]bool, error) {
	if err := f.fail["ManuallyAdded"]; err != nil {
		return nil, err
	}
	out := map[target.ID]bool{}
	for _, id := range ids {
		out[id] = f.manual[id]
	}
	return out, nil
}

func (f *fakeTarget) UserRoles(_ context.Context) (map[target.ID][]target.GroupRole, error) {
	if err := f.fail["UserRoles"]; err != nil {
		return nil, err
	}
	out := make(map[target.ID][]target.GroupRole, len(f.roles))
	for id, grs := range f.roles {
		out[id] = append([]target.GroupRole(nil), grs...)
	}
	return out, nil
}

func (f *fakeTarget) setRole(id, groupID target.ID, role string) {
	for i, gr := range f.roles[id] {
		if gr.GroupID == groupID {
			f.roles[id][i].RoleID = role
			return
		}
	}
	f.roles[id] = append(f.roles[id], target.GroupRole{GroupID: groupID, RoleID: role})
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}
