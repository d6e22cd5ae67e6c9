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

package bamboohr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/roster"
	"github.com/orgsync/orgsync/internal/xerrors"
)

func boolPtr(b bool) *roster.Bool {
	v := roster.Bool(b)
	return &v
}

// journal records dataset requests for inspection after the run.
type journal struct {
	mu     sync.Mutex
	auths  []string
	bodies []map[string]any
}

func (j *journal) add(r *http.Request) map[string]any {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.auths = append(j.auths, r.Header.Get("Authorization"))
	j.bodies = append(j.bodies, body)
	return body
}

func (j *journal) snapshot() (auths []string, bodies []map[string]any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string{}, j.auths...), append([]map[string]any{}, j.bodies...)
}

func newTestExtractor(t *testing.T, cfg Config, handler http.Handler) (*Extractor, blob.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := blob.NewFS(afero.NewMemMapFs(), logging.NewNopLogger())
	now := func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	e, err := New(cfg, store, WithHTTPClient(srv.Client()), WithAPIRoot(srv.URL), WithClock(now))
	if err != nil {
		t.Fatalf("New(...): unexpected error %v", err)
	}
	return e, store
}

func TestRunFetchesAndFilters(t *testing.T) {
	j := &journal{}
	cfg := Config{
		Subdomain:           "corp",
		APIKey:              "secret-key",
		ExcludeFilter:       json.RawMessage(`{"field":"division","operator":"does_not_include","value":["Contractors"]}`),
		ExcludedDepartments: []string{"Classified"},
		SupervisorField:     "customRole",
		SupervisorValue:     "Manager",
		UsersFile:           "var/users.json",
	}

	e, store := newTestExtractor(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := j.add(r)
		w.Header().Set("Content-Type", "application/json")

		switch {
		case body["page"] == float64(1):
			fmt.Fprint(w, `{
				"data":[
					{"employeeNumber":"1","name":"Anna Nowak","email":"Anna@Corp.com","jobInformationDepartment":"Web","jobInformationDivision":"Engineering","jobInformationJobTitle":"Engineer","employmentStatus":"Full-Time","hireDate":"2024-01-01","supervisorId":"3","customRole":"IC"},
					{"employeeNumber":"2","name":"Terminated Tom","email":"tom@corp.com","employmentStatus":"Terminated"}
				],
				"pagination":{"next_page":2}
			}`)

		case body["page"] == float64(2):
			fmt.Fprint(w, `{
				"data":[
					{"employeeNumber":"1","name":"Anna Nowak","email":"Anna@Corp.com","jobInformationDepartment":"Web","jobInformationDivision":"Engineering","jobInformationJobTitle":"Senior Engineer","employmentStatus":"Full-Time","hireDate":"2024-01-01","supervisorId":"3","customRole":"IC"},
					{"employeeNumber":"4","name":"Future Fred","email":"fred@corp.com","hireDate":"2024-07-01"},
					{"employeeNumber":"5","name":"NoEmail Ned","email":""},
					{"employeeNumber":"6","name":"Secret Sue","email":"sue@corp.com","jobInformationDepartment":"Classified"},
					{"employeeNumber":"3","name":"Boss Bella","email":"bella@corp.com","jobInformationDivision":"Engineering","jobInformationJobTitle":"Director","employmentStatus":"Full-Time","supervisorId":"7","customRole":"Manager"}
				],
				"pagination":{"next_page":null}
			}`)

		default:
			fmt.Fprint(w, `{
				"data":[
					{"employeeNumber":"7","name":"Grand Gus","email":"gus@corp.com","jobInformationDepartment":"Board","employmentStatus":"Terminated","customRole":"Manager"}
				]
			}`)
		}
	}))

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run(...): unexpected error %v", err)
	}

	var doc roster.Document
	if err := store.LoadJSON(context.Background(), "var/users.json", &doc); err != nil {
		t.Fatalf("LoadJSON(...): unexpected error %v", err)
	}
	want := []roster.User{
		{ExternalID: "1", Name: "Anna Nowak", Email: "anna@corp.com", Department: "Engineering/Web", JobTitle: "Senior Engineer", Status: "active", SupervisorID: "3", IsSupervisor: boolPtr(false)},
		{ExternalID: "3", Name: "Boss Bella", Email: "bella@corp.com", Department: "Engineering", JobTitle: "Director", Status: "active", SupervisorID: "7", IsSupervisor: boolPtr(true)},
		{ExternalID: "7", Name: "Grand Gus", Email: "gus@corp.com", Department: "Board", Status: "inactive", IsSupervisor: boolPtr(true)},
	}
	if diff := cmp.Diff(want, doc.Users); diff != "" {
		t.Errorf("Run(...): roster -want, +got:\n%s", diff)
	}

	auths, bodies := j.snapshot()
	if len(bodies) != 3 {
		t.Fatalf("Run(...): got %d dataset requests, want 3", len(bodies))
	}

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("secret-key:x"))
	for i, a := range auths {
		if a != wantAuth {
			t.Errorf("request %d: got Authorization %q, want %q", i, a, wantAuth)
		}
	}

	listing := bodies[0]
	filters := listing["filters"].(map[string]any)
	if filters["match"] != "all" {
		t.Errorf("listing request: got match %v, want all", filters["match"])
	}
	chain := filters["filters"].([]any)
	if len(chain) != 2 {
		t.Fatalf("listing request: got %d filters, want the exclusion then the terminated guard", len(chain))
	}
	if got := chain[0].(map[string]any)["field"]; got != "division" {
		t.Errorf("listing request: got first filter field %v, want the configured exclusion", got)
	}
	fields := listing["fields"].([]any)
	if got := fields[len(fields)-1]; got != "customRole" {
		t.Errorf("listing request: got last field %v, want the supervisor rule field", got)
	}

	lookup := bodies[2]
	if _, ok := lookup["page"]; ok {
		t.Errorf("supervisor lookup: pagination must be omitted, got %v", lookup["page"])
	}
	lookupFilters := lookup["filters"].(map[string]any)
	if lookupFilters["match"] != "any" {
		t.Errorf("supervisor lookup: got match %v, want any", lookupFilters["match"])
	}
	ids := lookupFilters["filters"].([]any)
	if len(ids) != 1 || ids[0].(map[string]any)["value"] != "7" {
		t.Errorf("supervisor lookup: got filters %v, want a single employeeNumber equal 7", ids)
	}
}

func TestRunCachesUnresolvableSupervisors(t *testing.T) {
	j := &journal{}
	cfg := Config{Subdomain: "corp", APIKey: "k", UsersFile: "var/users.json"}

	e, store := newTestExtractor(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := j.add(r)
		w.Header().Set("Content-Type", "application/json")
		if _, listing := body["page"]; listing {
			fmt.Fprint(w, `{"data":[{"employeeNumber":"1","name":"Anna","email":"anna@corp.com","supervisorId":"9"}]}`)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run(...): unexpected error %v", err)
	}

	var doc roster.Document
	if err := store.LoadJSON(context.Background(), "var/users.json", &doc); err != nil {
		t.Fatalf("LoadJSON(...): unexpected error %v", err)
	}
	if len(doc.Users) != 1 || doc.Users[0].ExternalID != "1" {
		t.Errorf("Run(...): got users %v, want only the listed employee", doc.Users)
	}

	if _, bodies := j.snapshot(); len(bodies) != 2 {
		t.Errorf("Run(...): got %d requests, want the listing and one cached lookup", len(bodies))
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{Subdomain: "corp"}, nil)
	if !xerrors.Is(err, xerrors.Config) {
		t.Fatalf("New(...): got error %v, want a config error", err)
	}
}

func TestFromEnv(t *testing.T) {
	cases := map[string]struct {
		reason  string
		env     map[string]string
		want    Config
		wantErr bool
	}{
		"SupervisorRule": {
			reason: "The field:value rule splits on the first colon.",
			env: map[string]string{
				"BAMBOOHR_SUBDOMAIN":       "corp",
				"BAMBOOHR_API_KEY":         "k",
				"BAMBOOHR_SUPERVISOR_RULE": "customRole:Team Lead",
			},
			want: Config{
				Subdomain:       "corp",
				APIKey:          "k",
				SupervisorField: "customRole",
				SupervisorValue: "Team Lead",
				UsersFile:       "var/users.json",
			},
		},
		"MalformedRule": {
			reason:  "A rule without a colon is a configuration error rather than a silently ignored knob.",
			env:     map[string]string{"BAMBOOHR_SUPERVISOR_RULE": "customRole"},
			wantErr: true,
		},
		"MalformedFilter": {
			reason:  "An exclusion filter that is not JSON is a configuration error.",
			env:     map[string]string{"BAMBOOHR_EXCLUDE_FILTER": "{not json"},
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			got, err := FromEnv()
			if tc.wantErr {
				if !xerrors.Is(err, xerrors.Config) {
					t.Fatalf("\n%s\nFromEnv(): got error %v, want a config error", tc.reason, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("\n%s\nFromEnv(): unexpected error %v", tc.reason, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nFromEnv(): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestDepartmentJoin(t *testing.T) {
	cases := map[string]struct {
		reason string
		emp    employee
		want   string
	}{
		"Both": {
			reason: "Division nests above department.",
			emp:    employee{Division: "Engineering", Department: "Web"},
			want:   "Engineering/Web",
		},
		"DepartmentOnly": {
			reason: "A lone department stands alone.",
			emp:    employee{Department: "Web"},
			want:   "Web",
		},
		"DivisionOnly": {
			reason: "A lone division stands alone.",
			emp:    employee{Division: "Engineering"},
			want:   "Engineering",
		},
		"Neither": {
			reason: "No organisational data means no group path.",
			emp:    employee{},
			want:   "",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := department(tc.emp); got != tc.want {
				t.Errorf("\n%s\ndepartment(...): got %q, want %q", tc.reason, got, tc.want)
			}
		})
	}
}

func TestNextPageMore(t *testing.T) {
	cases := map[string]struct {
		reason string
		raw    string
		want   bool
	}{
		"Number":     {reason: "A numeric next page continues pagination.", raw: `2`, want: true},
		"String":     {reason: "A string-typed next page continues pagination.", raw: `"2"`, want: true},
		"Null":       {reason: "Null ends pagination.", raw: `null`, want: false},
		"Zero":       {reason: "Zero ends pagination.", raw: `0`, want: false},
		"EmptyValue": {reason: "An empty string ends pagination.", raw: `""`, want: false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var n nextPage
			if err := json.Unmarshal([]byte(tc.raw), &n); err != nil {
				t.Fatalf("\n%s\nUnmarshalJSON(%s): unexpected error %v", tc.reason, tc.raw, err)
			}
			if got := n.More(); got != tc.want {
				t.Errorf("\n%s\nMore() after %s: got %t, want %t", tc.reason, tc.raw, got, tc.want)
			}
		})
	}
}
