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

// Package tokens manages OAuth access tokens for the directory service,
// caching them across runs so that a nightly sync does not mint a fresh
// token every time.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/xerrors"
)

// DefaultCachePath is where tokens persist between runs.
const DefaultCachePath = "var/azuread_token.json"

// DefaultScope asks for every Graph permission the application holds.
const DefaultScope = "https://graph.microsoft.com/.default"

const (
	// reuseWindow is how much remaining lifetime a cached access token
	// needs to be worth reusing.
	reuseWindow = 5 * time.Minute

	// refreshTokenLifetime is assumed when the identity provider does
	// not say how long a refresh token lives.
	refreshTokenLifetime = 90 * 24 * time.Hour

	// defaultTokenLifetime is assumed when neither the grant response
	// nor the token itself reveal an expiry.
	defaultTokenLifetime = time.Hour
)

// Error strings.
const (
	errMissingCredentials = "tenant id, client id, and client secret are all required"
	errNewGrantRequest    = "cannot create token request"
	errGrantRequest       = "token request failed"
	errDecodeGrant        = "cannot decode token response"
	errNoAccessToken      = "token response contained no access token"
	errFmtGrantStatus     = "token endpoint returned status %d: %s"
)

// cache is the persisted token document.
type cache struct {
	AccessToken           string `json:"ACCESS_TOKEN,omitempty"`
	ExpiresAt             int64  `json:"TOKEN_EXPIRES_AT,omitempty"`
	RefreshToken          string `json:"REFRESH_TOKEN,omitempty"`
	RefreshTokenExpiresAt int64  `json:"REFRESH_TOKEN_EXPIRES_AT,omitempty"`
}

type grantResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// A Manager mints, caches, and refreshes access tokens for one OAuth
// client. It is safe for concurrent use.
type Manager struct {
	endpoint string
	clientID string
	secret   string
	scope    string

	store blob.Store
	path  string
	http  *http.Client
	log   logging.Logger
	now   func() time.Time

	mu sync.Mutex
}

// An Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient configures the HTTP client used for token requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) {
		m.http = hc
	}
}

// WithLogger configures how a Manager logs.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithStore configures where tokens persist between runs.
func WithStore(s blob.Store, path string) Option {
	return func(m *Manager) {
		m.store = s
		m.path = path
	}
}

// WithEndpoint overrides the token endpoint derived from the tenant id.
func WithEndpoint(u string) Option {
	return func(m *Manager) {
		m.endpoint = u
	}
}

// WithScope overrides the requested scope.
func WithScope(scope string) Option {
	return func(m *Manager) {
		m.scope = scope
	}
}

// WithClock overrides how a Manager reads the current time.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager returns a Manager for the supplied OAuth client. The
// credentials are required; everything else has defaults.
func NewManager(tenantID, clientID, clientSecret string, opts ...Option) (*Manager, error) {
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, xerrors.New(xerrors.Config, errMissingCredentials)
	}
	m := &Manager{
		endpoint: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		clientID: clientID,
		secret:   clientSecret,
		scope:    DefaultScope,
		store:    blob.NewFS(afero.NewOsFs(), logging.NewNopLogger()),
		path:     DefaultCachePath,
		http:     http.DefaultClient,
		log:      logging.NewNopLogger(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Token returns a valid access token: the cached one while it has at
// least five minutes left, a refreshed one while the refresh token
// lives, and a brand new client credentials grant otherwise.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.loadCache(ctx)
	now := m.now()

	if c.AccessToken != "" && time.Unix(c.ExpiresAt, 0).After(now.Add(reuseWindow)) {
		m.log.Debug("Using cached access token")
		return c.AccessToken, nil
	}

	if c.RefreshToken != "" && time.Unix(c.RefreshTokenExpiresAt, 0).After(now) {
		m.log.Info("Refreshing access token")
		form := url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {m.clientID},
			"client_secret": {m.secret},
			"refresh_token": {c.RefreshToken},
		}
		return m.grant(ctx, c, form)
	}

	m.log.Info("Requesting new access token")
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {m.clientID},
		"client_secret": {m.secret},
		"scope":         {m.scope},
	}
	return m.grant(ctx, c, form)
}

// Invalidate drops the cached access token so the next Token call goes
// back to the identity provider. Callers use it after a 401. A still
// valid refresh token survives invalidation.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.loadCache(ctx)
	if c.AccessToken == "" {
		return nil
	}
	c.AccessToken = ""
	c.ExpiresAt = 0
	return m.store.SaveJSON(ctx, m.path, c)
}

func (m *Manager) loadCache(ctx context.Context) cache {
	var c cache
	if err := m.store.LoadJSON(ctx, m.path, &c); err != nil {
		if !blob.IsNotExist(err) {
			m.log.Debug("Cannot load token cache", "path", m.path, "error", err)
		}
		return cache{}
	}
	return c
}

// grant exchanges the supplied form for tokens and persists them. A
// response without a refresh token keeps the previous one, matching how
// the identity provider omits it from client credentials grants.
func (m *Manager) grant(ctx context.Context, prev cache, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, errNewGrantRequest)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", xerrors.Wrap(err, xerrors.Transport, errGrantRequest)
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return "", xerrors.Wrap(err, xerrors.Transport, errGrantRequest)
	}
	if resp.StatusCode != http.StatusOK {
		return "", xerrors.Newf(grantKind(resp.StatusCode), errFmtGrantStatus, resp.StatusCode, grantSnippet(data))
	}

	var g grantResponse
	if err := json.Unmarshal(data, &g); err != nil {
		return "", errors.Wrap(err, errDecodeGrant)
	}
	if g.AccessToken == "" {
		return "", errors.New(errNoAccessToken)
	}

	now := m.now()
	next := cache{
		AccessToken:           g.AccessToken,
		ExpiresAt:             expiryUnix(now, g),
		RefreshToken:          prev.RefreshToken,
		RefreshTokenExpiresAt: prev.RefreshTokenExpiresAt,
	}
	if g.RefreshToken != "" {
		next.RefreshToken = g.RefreshToken
		next.RefreshTokenExpiresAt = now.Add(refreshTokenLifetime).Unix()
	}
	if err := m.store.SaveJSON(ctx, m.path, next); err != nil {
		// The cache is an optimization; a failed write must not cost
		// the token we just minted.
		m.log.Info("Cannot persist token cache", "path", m.path, "error", err)
	}
	return g.AccessToken, nil
}

func grantKind(status int) xerrors.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return xerrors.Unauthorized
	}
	return xerrors.Transport
}

// expiryUnix derives when an access token expires: the grant's
// expires_in wins, then the token's own exp claim, then one hour.
func expiryUnix(now time.Time, g grantResponse) int64 {
	if g.ExpiresIn > 0 {
		return now.Add(time.Duration(g.ExpiresIn) * time.Second).Unix()
	}
	if exp, ok := jwtExpiry(g.AccessToken); ok {
		return exp
	}
	return now.Add(defaultTokenLifetime).Unix()
}

// jwtExpiry reads the exp claim without verifying the signature. The
// token is only inspected for scheduling, never trusted.
func jwtExpiry(raw string) (int64, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return 0, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.Unix(), true
}

func grantSnippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	if s == "" {
		return "<empty body>"
	}
	return s
}
