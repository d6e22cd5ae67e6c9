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

package fetch

import (
	"testing"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/spf13/afero"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/xerrors"
)

func TestFetchCommandsRequireCredentials(t *testing.T) {
	cases := map[string]struct {
		reason string
		clear  []string
		run    func(store blob.Store, log logging.Logger) error
	}{
		"AzureAD": {
			reason: "fetch azuread must refuse to run without Graph credentials.",
			clear:  []string{"AZURE_TENANT_ID", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET"},
			run: func(store blob.Store, log logging.Logger) error {
				return (&azureADCmd{store: store}).Run(log)
			},
		},
		"BambooHR": {
			reason: "fetch bamboohr must refuse to run without an API key and subdomain.",
			clear:  []string{"BAMBOOHR_SUBDOMAIN", "BAMBOOHR_API_KEY"},
			run: func(store blob.Store, log logging.Logger) error {
				return (&bambooHRCmd{store: store}).Run(log)
			},
		},
		"LDAP": {
			reason: "fetch ldap must refuse to run without directory credentials.",
			clear:  []string{"LDAP_HOST", "LDAP_DOMAIN", "LDAP_DN", "LDAP_USERNAME", "LDAP_PASSWORD"},
			run: func(store blob.Store, log logging.Logger) error {
				return (&ldapCmd{store: store}).Run(log)
			},
		},
		"FactorialHR": {
			reason: "fetch factorialhr must refuse to run without an API key.",
			clear:  []string{"FACTORIAL_API_URL", "FACTORIAL_API_KEY"},
			run: func(store blob.Store, log logging.Logger) error {
				return (&factorialHRCmd{store: store}).Run(log)
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			for _, key := range tc.clear {
				t.Setenv(key, "")
			}

			store := blob.NewFS(afero.NewMemMapFs(), logging.NewNopLogger())
			err := tc.run(store, logging.NewNopLogger())
			if err == nil {
				t.Fatalf("\n%s\nRun(...): want a configuration error, got nil", tc.reason)
			}
			if !xerrors.Is(err, xerrors.Config) {
				t.Errorf("\n%s\nRun(...): want a %s error, got %v", tc.reason, xerrors.Config, err)
			}
		})
	}
}
