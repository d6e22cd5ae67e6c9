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

// Package document defines the canonical handoff between the modeller and
// the reconcilers: a flat, email-sorted list of target users. The modeller
// writes it once per run; everything downstream treats it as read-only.
package document

import (
	"encoding/json"
	"sort"
	"strings"
)

// DefaultName is the blob name the modeller writes and the reconciler
// reads when no override is given.
const DefaultName = "var/timecamp_users.json"

// Target roles, in decreasing order of privilege.
const (
	RoleAdministrator = "administrator"
	RoleSupervisor    = "supervisor"
	RoleUser          = "user"
	RoleGuest         = "guest"
)

// Statuses of a target user.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// A User is one fully resolved target account description.
type User struct {
	ExternalID string `json:"timecamp_external_id"`
	Name       string `json:"timecamp_user_name"`
	Email      string `json:"timecamp_email"`

	// RealEmail is present only when it differs from the primary email.
	RealEmail string `json:"timecamp_real_email,omitempty"`

	// GroupsBreadcrumb is the canonical slash separated path of the
	// user's group. "" places the user under the root group.
	GroupsBreadcrumb string `json:"timecamp_groups_breadcrumb"`

	Status string `json:"timecamp_status"`
	Role   string `json:"timecamp_role"`

	// RawData carries the untouched source record for downstream
	// transforms and audits. The pipeline never interprets it.
	RawData json.RawMessage `json:"raw_data,omitempty"`
}

// Active reports whether the user should hold an enabled target account.
func (u User) Active() bool {
	return u.Status == StatusActive
}

// A Document is the emitted user list. The JSON form is a bare array.
type Document []User

// Sort orders the document by email ascending so that identical input
// yields byte-identical output.
func (d Document) Sort() {
	sort.Slice(d, func(i, j int) bool { return d[i].Email < d[j].Email })
}

// ActivePaths returns the set of non-empty breadcrumbs of active users.
// Inactive users keep their breadcrumbs in the document but contribute no
// required group paths.
func (d Document) ActivePaths() map[string]bool {
	paths := map[string]bool{}
	for _, u := range d {
		if u.Active() && u.GroupsBreadcrumb != "" {
			paths[u.GroupsBreadcrumb] = true
		}
	}
	return paths
}

// RoleFromID maps a numeric role id from the source or target to a role
// name. Unknown ids map to the regular user role.
func RoleFromID(id string) string {
	switch strings.TrimSpace(id) {
	case "1":
		return RoleAdministrator
	case "2":
		return RoleSupervisor
	case "5":
		return RoleGuest
	default:
		return RoleUser
	}
}

// RoleID maps a role name to the target's numeric role id.
func RoleID(role string) string {
	switch role {
	case RoleAdministrator:
		return "1"
	case RoleSupervisor:
		return "2"
	case RoleGuest:
		return "5"
	default:
		return "3"
	}
}
