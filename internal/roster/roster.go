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

// Package roster defines the people directory document extractors emit
// and the modeller consumes. A roster is immutable once written; every
// run starts from a freshly extracted document.
package roster

import (
	"bytes"
	"encoding/json"
	"strings"
)

// User statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// A User is one person record from the source directory.
type User struct {
	// ExternalID is the opaque source identifier. It keys the user
	// within a run and links supervisor references.
	ExternalID string `json:"external_id"`

	Name  string `json:"name"`
	Email string `json:"email"`

	// RealEmail is an optional secondary address, kept when the primary
	// is a federated or login form rather than a mailbox.
	RealEmail string `json:"real_email,omitempty"`

	// Department is a slash separated path. May be empty and may carry
	// source-native segments such as OU components.
	Department string `json:"department"`

	JobTitle string `json:"job_title,omitempty"`

	// Status is "active" or "inactive". Anything blank decodes as
	// active.
	Status string `json:"status,omitempty"`

	// SupervisorID references another user's ExternalID. Blank means
	// top-level.
	SupervisorID string `json:"supervisor_id,omitempty"`

	// IsSupervisor is the directory's own account of the relation, for
	// sources that report it directly. nil when the source is silent.
	IsSupervisor *Bool `json:"is_supervisor,omitempty"`

	// Role overrides.
	ForceSupervisorRole  Bool `json:"force_supervisor_role,omitempty"`
	ForceGlobalAdminRole Bool `json:"force_global_admin_role,omitempty"`

	// RawData is passed through untouched for downstream transforms.
	RawData json.RawMessage `json:"raw_data,omitempty"`
}

// UnmarshalJSON decodes a user and applies the ingest invariants: the
// email is lower-cased and a blank status becomes active.
func (u *User) UnmarshalJSON(data []byte) error {
	type alias User
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	a.Email = strings.ToLower(a.Email)
	if strings.TrimSpace(a.Status) == "" {
		a.Status = StatusActive
	}
	*u = User(a)
	return nil
}

// Active reports whether the user is active in the source directory.
func (u User) Active() bool {
	return strings.EqualFold(u.Status, StatusActive)
}

// HasSupervisor reports whether the user references a supervisor.
func (u User) HasSupervisor() bool {
	return strings.TrimSpace(u.SupervisorID) != ""
}

// A Document is the extractor handoff: the full set of users fetched in
// one extraction run.
type Document struct {
	Users []User `json:"users"`
}

// A Bool decodes the boolean dialects found in source exports: JSON
// booleans, the strings true/false/1/0/yes/no in any case, and numbers.
// Unrecognised strings decode as false rather than failing the document.
type Bool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = Bool(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			*b = true
		default:
			*b = false
		}
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = n != 0
	return nil
}

// Bool returns the plain boolean value.
func (b Bool) Bool() bool {
	return bool(b)
}
