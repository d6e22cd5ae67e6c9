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

package roster

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func boolPtr(b bool) *Bool {
	v := Bool(b)
	return &v
}

func TestUserUnmarshalJSON(t *testing.T) {
	cases := map[string]struct {
		reason string
		data   string
		want   User
	}{
		"LowerCasesEmail": {
			reason: "Emails are lower-cased at ingest.",
			data:   `{"external_id":"1","name":"Jan","email":"Jan.Kowalski@Example.COM","department":""}`,
			want: User{
				ExternalID: "1",
				Name:       "Jan",
				Email:      "jan.kowalski@example.com",
				Status:     StatusActive,
			},
		},
		"DefaultsStatusToActive": {
			reason: "A missing status decodes as active.",
			data:   `{"external_id":"1","name":"Jan","email":"jan@example.com","department":"Engineering"}`,
			want: User{
				ExternalID: "1",
				Name:       "Jan",
				Email:      "jan@example.com",
				Department: "Engineering",
				Status:     StatusActive,
			},
		},
		"KeepsInactiveStatus": {
			reason: "An explicit inactive status survives the decode.",
			data:   `{"external_id":"1","name":"Jan","email":"jan@example.com","department":"","status":"inactive"}`,
			want: User{
				ExternalID: "1",
				Name:       "Jan",
				Email:      "jan@example.com",
				Status:     StatusInactive,
			},
		},
		"BooleanSupervisorFlag": {
			reason: "A JSON boolean is_supervisor decodes directly.",
			data:   `{"external_id":"1","name":"Jan","email":"jan@example.com","department":"","is_supervisor":true}`,
			want: User{
				ExternalID:   "1",
				Name:         "Jan",
				Email:        "jan@example.com",
				Status:       StatusActive,
				IsSupervisor: boolPtr(true),
			},
		},
		"StringSupervisorFlag": {
			reason: "String forms of is_supervisor are accepted.",
			data:   `{"external_id":"1","name":"Jan","email":"jan@example.com","department":"","is_supervisor":"Yes"}`,
			want: User{
				ExternalID:   "1",
				Name:         "Jan",
				Email:        "jan@example.com",
				Status:       StatusActive,
				IsSupervisor: boolPtr(true),
			},
		},
		"UnrecognisedStringIsFalse": {
			reason: "An unrecognised is_supervisor string decodes as false instead of failing the document.",
			data:   `{"external_id":"1","name":"Jan","email":"jan@example.com","department":"","is_supervisor":"banana"}`,
			want: User{
				ExternalID:   "1",
				Name:         "Jan",
				Email:        "jan@example.com",
				Status:       StatusActive,
				IsSupervisor: boolPtr(false),
			},
		},
		"NullSupervisorFlagIsUnset": {
			reason: "A JSON null keeps the flag unset.",
			data:   `{"external_id":"1","name":"Jan","email":"jan@example.com","department":"","is_supervisor":null}`,
			want: User{
				ExternalID: "1",
				Name:       "Jan",
				Email:      "jan@example.com",
				Status:     StatusActive,
			},
		},
		"StringForceFlags": {
			reason: "Role overrides are accepted in string form.",
			data:   `{"external_id":"1","name":"Jan","email":"jan@example.com","department":"","force_supervisor_role":"true","force_global_admin_role":false}`,
			want: User{
				ExternalID:          "1",
				Name:                "Jan",
				Email:               "jan@example.com",
				Status:              StatusActive,
				ForceSupervisorRole: true,
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var got User
			if err := json.Unmarshal([]byte(tc.data), &got); err != nil {
				t.Fatalf("\n%s\njson.Unmarshal(): unexpected error: %v", tc.reason, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\njson.Unmarshal(): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestDocumentDecode(t *testing.T) {
	data := `{"users":[
		{"external_id":"2","name":"Anna","email":"ANNA@example.com","department":"Sales","supervisor_id":"1"},
		{"external_id":"1","name":"Jan","email":"jan@example.com","department":"Sales","status":"inactive"}
	]}`

	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		t.Fatalf("json.Unmarshal(): unexpected error: %v", err)
	}

	if len(doc.Users) != 2 {
		t.Fatalf("json.Unmarshal(): want 2 users, got %d", len(doc.Users))
	}
	if doc.Users[0].Email != "anna@example.com" {
		t.Errorf("emails should be lower-cased at ingest, got %q", doc.Users[0].Email)
	}
	if !doc.Users[0].Active() || !doc.Users[0].HasSupervisor() {
		t.Errorf("first user should be active with a supervisor")
	}
	if doc.Users[1].Active() {
		t.Errorf("second user carries an explicit inactive status")
	}
	if doc.Users[1].HasSupervisor() {
		t.Errorf("second user has no supervisor reference")
	}
}
