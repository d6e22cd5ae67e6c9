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

// Package azuread extracts the roster from Azure AD through the
// Microsoft Graph API.
package azuread

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/config"
	"github.com/orgsync/orgsync/internal/extract"
	"github.com/orgsync/orgsync/internal/roster"
	"github.com/orgsync/orgsync/internal/tokens"
	"github.com/orgsync/orgsync/internal/transport"
	"github.com/orgsync/orgsync/internal/xerrors"
)

const (
	// DefaultGraphRoot is the Graph API base used for group lookups. The
	// users collection is configured separately because tenants pin it to
	// a regional or beta endpoint.
	DefaultGraphRoot = "https://graph.microsoft.com/v1.0"

	// userSelect is the field projection requested for every user.
	userSelect = "id,displayName,mail,userPrincipalName,department,jobTitle,givenName,surname,mobilePhone,businessPhones,streetAddress,postalCode,manager"

	// pageSize is the $top value Graph pages are requested with.
	pageSize = "100"

	// memberTypeUser marks group members that are users rather than
	// nested groups or devices.
	memberTypeUser = "#microsoft.graph.user"
)

// Error strings.
const (
	errMissingEndpoint = "missing AZURE_SCIM_ENDPOINT"
	errToken           = "cannot obtain access token"
	errNewRequest      = "cannot create graph request"
	errDecodeBody      = "cannot decode graph response"
	errFmtRequest      = "GET %s failed"
	errFmtStatus       = "GET %s returned status %d: %s"
)

// A Config carries the Microsoft Graph connection settings.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Endpoint is the Graph users collection to page through.
	Endpoint string

	// PreferRealEmail prefers the mailbox address over the federated
	// login name when the directory has both.
	PreferRealEmail bool

	// FilterGroups limits the roster to members of the named groups.
	FilterGroups []string

	// UsersFile is the roster blob name to write.
	UsersFile string
}

// FromEnv assembles the Graph configuration from the environment.
func FromEnv() (Config, error) {
	c := Config{
		TenantID:     config.GetString("AZURE_TENANT_ID", ""),
		ClientID:     config.GetString("AZURE_CLIENT_ID", ""),
		ClientSecret: config.GetString("AZURE_CLIENT_SECRET", ""),
		Endpoint:     config.GetString("AZURE_SCIM_ENDPOINT", ""),
		FilterGroups: extract.SplitList(config.GetString("AZURE_FILTER_GROUPS", "")),
		UsersFile:    config.GetString("TIMECAMP_USERS_FILE", config.DefaultUsersFile),
	}
	prefer, err := config.GetBool("AZURE_PREFER_REAL_EMAIL", false)
	if err != nil {
		return Config{}, err
	}
	c.PreferRealEmail = prefer
	return c, nil
}

// A TokenSource supplies Graph bearer tokens. Invalidate drops the
// current token so the next Token call mints a fresh one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(ctx context.Context) error
}

var _ TokenSource = (*tokens.Manager)(nil)

// An Extractor pages users out of Microsoft Graph and writes the roster.
type Extractor struct {
	cfg    Config
	tokens TokenSource
	store  blob.Store

	graph string
	http  *http.Client
	log   logging.Logger
}

// An Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient configures the HTTP client used for Graph requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Extractor) {
		e.http = hc
	}
}

// WithLogger configures how an Extractor logs.
func WithLogger(l logging.Logger) Option {
	return func(e *Extractor) {
		e.log = l
	}
}

// WithGraphRoot overrides the Graph base used for group lookups.
func WithGraphRoot(u string) Option {
	return func(e *Extractor) {
		e.graph = strings.TrimRight(u, "/")
	}
}

// New returns an Extractor for the configured tenant.
func New(cfg Config, ts TokenSource, store blob.Store, opts ...Option) (*Extractor, error) {
	if cfg.Endpoint == "" {
		return nil, xerrors.New(xerrors.Config, errMissingEndpoint)
	}
	if cfg.UsersFile == "" {
		cfg.UsersFile = config.DefaultUsersFile
	}
	e := &Extractor{
		cfg:    cfg,
		tokens: ts,
		store:  store,
		graph:  DefaultGraphRoot,
		http:   transport.NewClient(true),
		log:    logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

type graphRef struct {
	ID string `json:"id"`
}

type graphUser struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"displayName"`
	Mail              string    `json:"mail"`
	UserPrincipalName string    `json:"userPrincipalName"`
	Department        string    `json:"department"`
	JobTitle          string    `json:"jobTitle"`
	Manager           *graphRef `json:"manager"`
}

type userPage struct {
	Value    []graphUser `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type memberPage struct {
	Value []struct {
		ID   string `json:"id"`
		Type string `json:"@odata.type"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

type groupPage struct {
	Value []graphRef `json:"value"`
}

// Run pages every user out of the directory and writes the roster
// document.
func (e *Extractor) Run(ctx context.Context) error {
	members, err := e.memberFilter(ctx)
	if err != nil {
		return err
	}

	query := url.Values{
		"$select": []string{userSelect},
		"$expand": []string{"manager"},
		"$top":    []string{pageSize},
	}

	var pages [][]roster.User
	fetched := 0
	next := ""
	for {
		var p userPage
		if next == "" {
			err = e.get(ctx, e.cfg.Endpoint, query, &p)
		} else {
			err = e.get(ctx, next, nil, &p)
		}
		if err != nil {
			return err
		}

		page := make([]roster.User, 0, len(p.Value))
		for _, gu := range p.Value {
			if members != nil && !members[gu.ID] {
				continue
			}
			page = append(page, e.user(gu))
		}
		pages = append(pages, page)
		fetched += len(page)

		if p.NextLink == "" {
			break
		}
		next = p.NextLink
		e.log.Debug("Fetched user page", "users", fetched)
	}

	users, err := extract.MergeByExternalID(pages...)
	if err != nil {
		return err
	}
	return extract.SaveRoster(ctx, e.store, e.cfg.UsersFile, users, e.log)
}

// user maps one Graph record onto the roster schema.
func (e *Extractor) user(gu graphUser) roster.User {
	email := gu.UserPrincipalName
	if e.cfg.PreferRealEmail && gu.Mail != "" {
		email = gu.Mail
	}

	u := roster.User{
		ExternalID: gu.ID,
		Name:       extract.Normalize(gu.DisplayName),
		Email:      strings.ToLower(email),
		Department: extract.Normalize(gu.Department),
		JobTitle:   extract.Normalize(gu.JobTitle),
		Status:     roster.StatusActive,
	}
	if gu.Manager != nil {
		u.SupervisorID = gu.Manager.ID
	}
	return u
}

// memberFilter resolves the configured group names to the set of member
// ids, or nil when no filtering is configured. An unknown group name
// contributes nothing, so a misspelt filter empties the roster rather
// than silently widening it.
func (e *Extractor) memberFilter(ctx context.Context) (map[string]bool, error) {
	if len(e.cfg.FilterGroups) == 0 {
		return nil, nil
	}

	members := map[string]bool{}
	for _, name := range e.cfg.FilterGroups {
		id, err := e.groupID(ctx, name)
		if err != nil {
			return nil, err
		}
		if id == "" {
			e.log.Info("No group found with the configured name", "group", name)
			continue
		}
		if err := e.groupMembers(ctx, id, members); err != nil {
			return nil, err
		}
	}

	if len(members) == 0 {
		e.log.Info("No users found in the configured filter groups", "groups", strings.Join(e.cfg.FilterGroups, ","))
	}
	return members, nil
}

// groupID resolves a group display name, or "" when the directory has no
// such group.
func (e *Extractor) groupID(ctx context.Context, name string) (string, error) {
	query := url.Values{"$filter": []string{fmt.Sprintf("displayName eq '%s'", name)}}

	var p groupPage
	if err := e.get(ctx, e.graph+"/groups", query, &p); err != nil {
		return "", err
	}
	if len(p.Value) == 0 {
		return "", nil
	}
	return p.Value[0].ID, nil
}

// groupMembers folds the user members of a group into the supplied set,
// following pagination. Nested groups and devices are ignored.
func (e *Extractor) groupMembers(ctx context.Context, id string, into map[string]bool) error {
	query := url.Values{
		"$select": []string{"id"},
		"$top":    []string{pageSize},
	}

	next := ""
	for {
		var p memberPage
		var err error
		if next == "" {
			err = e.get(ctx, e.graph+"/groups/"+id+"/members", query, &p)
		} else {
			err = e.get(ctx, next, nil, &p)
		}
		if err != nil {
			return err
		}

		for _, m := range p.Value {
			if m.Type == memberTypeUser {
				into[m.ID] = true
			}
		}

		if p.NextLink == "" {
			return nil
		}
		next = p.NextLink
	}
}

// get issues one authorised Graph read. A 401 invalidates the cached
// token and retries once with a fresh one; a second 401 surfaces.
func (e *Extractor) get(ctx context.Context, rawurl string, query url.Values, into any) error {
	refreshed := false
	for {
		tok, err := e.tokens.Token(ctx)
		if err != nil {
			return errors.Wrap(err, errToken)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
		if err != nil {
			return errors.Wrap(err, errNewRequest)
		}
		if len(query) > 0 {
			req.URL.RawQuery = query.Encode()
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)

		e.log.Debug("Graph request", "url", req.URL.Redacted())
		resp, err := e.http.Do(req)
		if err != nil {
			return xerrors.Wrap(err, xerrors.Transport, fmt.Sprintf(errFmtRequest, req.URL.Path))
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return xerrors.Wrap(err, xerrors.Transport, fmt.Sprintf(errFmtRequest, req.URL.Path))
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			refreshed = true
			e.log.Info("Graph returned 401; refreshing token and retrying", "url", req.URL.Path)
			if err := e.tokens.Invalidate(ctx); err != nil {
				return err
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized:
			return xerrors.Newf(xerrors.Unauthorized, errFmtStatus, req.URL.Path, resp.StatusCode, snippet(data))

		case resp.StatusCode >= http.StatusBadRequest:
			return xerrors.Newf(xerrors.Transport, errFmtStatus, req.URL.Path, resp.StatusCode, snippet(data))
		}

		return errors.Wrap(json.Unmarshal(data, into), errDecodeBody)
	}
}

// snippet trims a response body down to something loggable.
func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	if s == "" {
		return "<empty body>"
	}
	return s
}
