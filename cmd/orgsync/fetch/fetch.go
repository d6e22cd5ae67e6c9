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

// Package fetch contains the orgsync commands that extract rosters from
// HR and directory sources into the blob store.
package fetch

import (
	"context"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/config"
	"github.com/orgsync/orgsync/internal/extract/azuread"
	"github.com/orgsync/orgsync/internal/extract/bamboohr"
	"github.com/orgsync/orgsync/internal/extract/factorialhr"
	"github.com/orgsync/orgsync/internal/extract/ldap"
	"github.com/orgsync/orgsync/internal/tokens"
)

// Cmd groups the roster extractors. Each subcommand reads its source
// credentials from the environment and writes a roster blob for prepare
// to model.
type Cmd struct {
	AzureAD     azureADCmd     `cmd:"" help:"Fetch users and groups from the Microsoft Graph." name:"azuread"`
	BambooHR    bambooHRCmd    `cmd:"" help:"Fetch the employee directory and time off from BambooHR." name:"bamboohr"`
	LDAP        ldapCmd        `cmd:"" help:"Fetch users from an LDAP or Active Directory tree." name:"ldap"`
	FactorialHR factorialHRCmd `cmd:"" help:"Fetch employees and leaves from FactorialHR." name:"factorialhr"`
}

// Help prints out the help for the fetch command.
func (c *Cmd) Help() string {
	return `
Extractors authenticate against one source of record, normalize what it
returns, and write a roster blob to the configured store. Which blob and
how it is merged is source specific; see the subcommand help.
`
}

// openStore builds the blob store from the environment profile, unless a
// test injected one.
func openStore(ctx context.Context, override blob.Store, log logging.Logger) (blob.Store, error) {
	if override != nil {
		return override, nil
	}
	p, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return blob.FromProfile(ctx, p, log)
}

type azureADCmd struct {
	store blob.Store
}

// Help prints out the help for the fetch azuread command.
func (c *azureADCmd) Help() string {
	return `
Fetches users from the Microsoft Graph, resolves their group memberships
into breadcrumbs, and writes the roster blob. OAuth2 tokens are cached in
the blob store and refreshed when expired.

Requires AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET.
`
}

func (c *azureADCmd) Run(log logging.Logger) error {
	ctx := context.Background()

	cfg, err := azuread.FromEnv()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, c.store, log)
	if err != nil {
		return err
	}
	tm, err := tokens.NewManager(cfg.TenantID, cfg.ClientID, cfg.ClientSecret,
		tokens.WithStore(store, tokens.DefaultCachePath),
		tokens.WithLogger(log))
	if err != nil {
		return err
	}
	e, err := azuread.New(cfg, tm, store, azuread.WithLogger(log))
	if err != nil {
		return err
	}
	return e.Run(ctx)
}

type bambooHRCmd struct {
	store blob.Store
}

// Help prints out the help for the fetch bamboohr command.
func (c *bambooHRCmd) Help() string {
	return `
Fetches the employee directory from BambooHR, merges it into the roster
blob by external ID, and writes upcoming time off to the vacation blob.

Requires BAMBOOHR_API_KEY and BAMBOOHR_SUBDOMAIN.
`
}

func (c *bambooHRCmd) Run(log logging.Logger) error {
	ctx := context.Background()

	cfg, err := bamboohr.FromEnv()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, c.store, log)
	if err != nil {
		return err
	}
	e, err := bamboohr.New(cfg, store, bamboohr.WithLogger(log))
	if err != nil {
		return err
	}
	return e.Run(ctx)
}

type ldapCmd struct {
	store blob.Store
}

// Help prints out the help for the fetch ldap command.
func (c *ldapCmd) Help() string {
	return `
Fetches person entries from an LDAP or Active Directory subtree, derives
group breadcrumbs from their distinguished names, and writes the roster
blob.

Requires LDAP_HOST, LDAP_DOMAIN, LDAP_DN, LDAP_USERNAME and LDAP_PASSWORD.
`
}

func (c *ldapCmd) Run(log logging.Logger) error {
	ctx := context.Background()

	cfg, err := ldap.FromEnv()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, c.store, log)
	if err != nil {
		return err
	}
	e, err := ldap.New(cfg, store, ldap.WithLogger(log))
	if err != nil {
		return err
	}
	return e.Run(ctx)
}

type factorialHRCmd struct {
	store blob.Store
}

// Help prints out the help for the fetch factorialhr command.
func (c *factorialHRCmd) Help() string {
	return `
Fetches employees from FactorialHR, merges them into the roster blob by
external ID, and writes accepted leaves to the vacation blob.

Requires FACTORIAL_API_URL and FACTORIAL_API_KEY.
`
}

func (c *factorialHRCmd) Run(log logging.Logger) error {
	ctx := context.Background()

	cfg, err := factorialhr.FromEnv()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, c.store, log)
	if err != nil {
		return err
	}
	e, err := factorialhr.New(cfg, store, factorialhr.WithLogger(log))
	if err != nil {
		return err
	}
	return e.Run(ctx)
}
