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

package azuread

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/roster"
	"github.com/orgsync/orgsync/internal/xerrors"
)

// staticTokens hands out numbered tokens and counts invalidations.
type staticTokens struct {
	mu          sync.Mutex
	minted      int
	invalidated int
}

func (s *staticTokens) Token(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minted++
	return fmt.Sprintf("token-%d", s.minted), nil
}

func (s *staticTokens) Invalidate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
	return nil
}

func (s *staticTokens) counts() (minted, invalidated int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minted, s.invalidated
}

func loadRoster(t *testing.T, store blob.Store, name string) []roster.User {
	t.Helper()
	var doc roster.Document
	if err := store.LoadJSON(context.Background(), name, &doc); err != nil {
		t.Fatalf("LoadJSON(%q): unexpected error %v", name, err)
	}
	return doc.Users
}

func TestRunPagesUsers(t *testing.T) {
	var mu sync.Mutex
	var auths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()

		if r.URL.Path != "/users" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"id":"u-2","displayName":"Bob Stone","userPrincipalName":"Bob.Stone@corp.onmicrosoft.com","department":"Sales"}]}`)
			return
		}
		if got := r.URL.Query().Get("$expand"); got != "manager" {
			t.Errorf("first page request: got $expand %q, want %q", got, "manager")
		}
		fmt.Fprintf(w, `{
			"value":[{
				"id":"u-1",
				"displayName":" Anna Nowak ",
				"mail":"Anna@Corp.com",
				"userPrincipalName":"Anna.Nowak@corp.onmicrosoft.com",
				"department":"Engineering",
				"jobTitle":"Engineer",
				"manager":{"id":"u-9"}
			}],
			"@odata.nextLink":%q
		}`, "http://"+r.Host+"/users?page=2")
	}))
	defer srv.Close()

	ts := &staticTokens{}
	store := blob.NewFS(afero.NewMemMapFs(), logging.NewNopLogger())
	e, err := New(Config{Endpoint: srv.URL + "/users", UsersFile: "var/users.json"}, ts, store, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New(...): unexpected error %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run(...): unexpected error %v", err)
	}

	want := []roster.User{
		{ExternalID: "u-1", Name: "Anna Nowak", Email: "anna.nowak@corp.onmicrosoft.com", Department: "Engineering", JobTitle: "Engineer", Status: "active", SupervisorID: "u-9"},
		{ExternalID: "u-2", Name: "Bob Stone", Email: "bob.stone@corp.onmicrosoft.com", Department: "Sales", Status: "active"},
	}
	if diff := cmp.Diff(want, loadRoster(t, store, "var/users.json")); diff != "" {
		t.Errorf("Run(...): roster -want, +got:\n%s", diff)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, a := range auths {
		if a != "Bearer token-1" {
			t.Errorf("request %d: got Authorization %q, want %q", i, a, "Bearer token-1")
		}
	}
}

func TestRunFiltersByGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/groups":
			if got := r.URL.Query().Get("$filter"); got != "displayName eq 'Engineering'" {
				t.Errorf("group lookup: got $filter %q", got)
			}
			fmt.Fprint(w, `{"value":[{"id":"g-1"}]}`)

		case r.URL.Path == "/groups/g-1/members" && r.URL.Query().Get("page") == "2":
			fmt.Fprint(w, `{"value":[{"id":"u-3","@odata.type":"#microsoft.graph.user"}]}`)

		case r.URL.Path == "/groups/g-1/members":
			fmt.Fprintf(w, `{
				"value":[
					{"id":"u-1","@odata.type":"#microsoft.graph.user"},
					{"id":"d-1","@odata.type":"#microsoft.graph.device"}
				],
				"@odata.nextLink":%q
			}`, "http://"+r.Host+"/groups/g-1/members?page=2")

		case r.URL.Path == "/users":
			fmt.Fprint(w, `{"value":[
				{"id":"u-1","displayName":"Anna","userPrincipalName":"anna@corp.com"},
				{"id":"u-2","displayName":"Outsider","userPrincipalName":"out@corp.com"},
				{"id":"u-3","displayName":"Celia","userPrincipalName":"celia@corp.com"}
			]}`)

		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := blob.NewFS(afero.NewMemMapFs(), logging.NewNopLogger())
	cfg := Config{Endpoint: srv.URL + "/users", FilterGroups: []string{"Engineering"}, UsersFile: "var/users.json"}
	e, err := New(cfg, &staticTokens{}, store, WithHTTPClient(srv.Client()), WithGraphRoot(srv.URL))
	if err != nil {
		t.Fatalf("New(...): unexpected error %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run(...): unexpected error %v", err)
	}

	want := []roster.User{
		{ExternalID: "u-1", Name: "Anna", Email: "anna@corp.com", Status: "active"},
		{ExternalID: "u-3", Name: "Celia", Email: "celia@corp.com", Status: "active"},
	}
	if diff := cmp.Diff(want, loadRoster(t, store, "var/users.json")); diff != "" {
		t.Errorf("Run(...): roster -want, +got:\n%s", diff)
	}
}

func TestRunRefreshesTokenOn401(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-2" {
			t.Errorf("retried request: got Authorization %q, want a fresh token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[{"id":"u-1","displayName":"Anna","userPrincipalName":"anna@corp.com"}]}`)
	}))
	defer srv.Close()

	ts := &staticTokens{}
	store := blob.NewFS(afero.NewMemMapFs(), logging.NewNopLogger())
	e, err := New(Config{Endpoint: srv.URL + "/users", UsersFile: "var/users.json"}, ts, store, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New(...): unexpected error %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run(...): unexpected error %v", err)
	}

	if got := len(loadRoster(t, store, "var/users.json")); got != 1 {
		t.Errorf("Run(...): got %d users, want 1", got)
	}
	if minted, invalidated := ts.counts(); minted != 2 || invalidated != 1 {
		t.Errorf("Run(...): got %d tokens minted and %d invalidations, want 2 and 1", minted, invalidated)
	}
}

func TestRunSurfacesRepeatedUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ts := &staticTokens{}
	store := blob.NewFS(afero.NewMemMapFs(), logging.NewNopLogger())
	e, err := New(Config{Endpoint: srv.URL + "/users"}, ts, store, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New(...): unexpected error %v", err)
	}

	err = e.Run(context.Background())
	if !xerrors.Is(err, xerrors.Unauthorized) {
		t.Fatalf("Run(...): got error %v, want an unauthorized error", err)
	}
	if _, invalidated := ts.counts(); invalidated != 1 {
		t.Errorf("Run(...): got %d invalidations, want exactly 1", invalidated)
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{}, &staticTokens{}, nil)
	if !xerrors.Is(err, xerrors.Config) {
		t.Fatalf("New(...): got error %v, want a config error", err)
	}
}

func TestUserMapping(t *testing.T) {
	cases := map[string]struct {
		reason string
		cfg    Config
		in     graphUser
		want   roster.User
	}{
		"FederatedLogin": {
			reason: "Without the real-email preference, the federated login is the primary address.",
			cfg:    Config{},
			in:     graphUser{ID: "u-1", DisplayName: "Anna", Mail: "Anna@corp.com", UserPrincipalName: "Anna.Nowak@corp.onmicrosoft.com"},
			want:   roster.User{ExternalID: "u-1", Name: "Anna", Email: "anna.nowak@corp.onmicrosoft.com", Status: "active"},
		},
		"PreferRealEmail": {
			reason: "The real-email preference picks the mailbox address when present.",
			cfg:    Config{PreferRealEmail: true},
			in:     graphUser{ID: "u-1", DisplayName: "Anna", Mail: "Anna@corp.com", UserPrincipalName: "anna.nowak@corp.onmicrosoft.com"},
			want:   roster.User{ExternalID: "u-1", Name: "Anna", Email: "anna@corp.com", Status: "active"},
		},
		"PreferRealEmailFallsBack": {
			reason: "The real-email preference falls back to the federated login when no mailbox exists.",
			cfg:    Config{PreferRealEmail: true},
			in:     graphUser{ID: "u-1", DisplayName: "Anna", UserPrincipalName: "anna.nowak@corp.onmicrosoft.com"},
			want:   roster.User{ExternalID: "u-1", Name: "Anna", Email: "anna.nowak@corp.onmicrosoft.com", Status: "active"},
		},
		"Manager": {
			reason: "The expanded manager reference becomes the supervisor id.",
			cfg:    Config{},
			in:     graphUser{ID: "u-1", DisplayName: "Anna", UserPrincipalName: "anna@corp.com", Manager: &graphRef{ID: "u-9"}},
			want:   roster.User{ExternalID: "u-1", Name: "Anna", Email: "anna@corp.com", Status: "active", SupervisorID: "u-9"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tc.cfg.Endpoint = "unused"
			e, err := New(tc.cfg, &staticTokens{}, nil)
			if err != nil {
				t.Fatalf("\n%s\nNew(...): unexpected error %v", tc.reason, err)
			}
			if diff := cmp.Diff(tc.want, e.user(tc.in)); diff != "" {
				t.Errorf("\n%s\nuser(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}
