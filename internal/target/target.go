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

// Package target is the typed client for the time tracking service's
// third party API. It owns the wire shapes, bearer authentication, and
// the retry policies: rate limits back off linearly, group mutations
// additionally tolerate the 403s the server returns while permissions
// on freshly created groups propagate, and transport errors and 5xx
// responses get a single extra try. Callers only ever see a definitive
// success or a surfaced error.
package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"golang.org/x/sync/errgroup"

	"github.com/orgsync/orgsync/internal/config"
	"github.com/orgsync/orgsync/internal/transport"
	"github.com/orgsync/orgsync/internal/xerrors"
)

// Named user settings read and written through the settings endpoint.
const (
	SettingDisabledUser    = "disabled_user"
	SettingAddedManually   = "added_manually"
	SettingAdditionalEmail = "additional_email"
	SettingExternalID      = "external_id"
)

// Error strings.
const (
	errEncodeBody = "cannot encode request body"
	errNewRequest = "cannot create request"
	errReadBody   = "cannot read response body"
	errDecodeBody = "cannot decode response"

	errFmtRequest = "%s %s failed"
	errFmtStatus  = "%s %s returned status %d: %s"
	errFmtRetries = "%s %s still failing after %d attempts"
	errFmtBadDate = "cannot parse vacation date %q"
)

const (
	// settingsBatchSize is how many user ids one settings read may
	// address at once.
	settingsBatchSize = 200

	// settingsFetchers bounds how many setting batches are read
	// concurrently. Reads only; mutations are never issued in parallel.
	settingsFetchers = 4

	dateLayout = "2006-01-02"
)

// An ID is a target-side numeric identifier. The API is inconsistent
// about quoting ids, so decoding accepts both numbers and strings.
type ID int

// String returns the id in the decimal form the API expects in request
// bodies and paths.
func (id ID) String() string { return strconv.Itoa(int(id)) }

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.Errorf("invalid id %q", s)
	}
	*id = ID(n)
	return nil
}

// A flexString decodes values the API serialises inconsistently as
// strings, numbers, or null.
type flexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

// A User is one target account member. Enabled is not part of the users
// endpoint's response; ListUsers populates it from a bulk read of the
// disabled_user setting.
type User struct {
	ID          ID     `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	GroupID     ID     `json:"group_id"`
	Enabled     bool   `json:"-"`
}

// A Group is one node of the target's group tree.
type Group struct {
	ID       ID     `json:"group_id"`
	Name     string `json:"name"`
	ParentID ID     `json:"parent_id"`
}

// A GroupRole is one user's role assignment within one group.
type GroupRole struct {
	GroupID ID
	RoleID  string
}

// A UserUpdate names the per-user fields to change. Nil fields are left
// untouched; each set field becomes its own request, because the API has
// no single endpoint that writes them all.
type UserUpdate struct {
	DisplayName *string
	Email       *string
	GroupID     *ID
	RoleID      *string
}

// A DayType is one attendance day type defined on the target account.
type DayType struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	IsDayOff bool   `json:"isDayOff"`
}

// A Vacation is an absence window recorded one attendance day at a time.
// Start and End are inclusive YYYY-MM-DD dates.
type Vacation struct {
	Start        string
	End          string
	DayTypeID    string
	ShouldBe     int
	VacationTime int
}

// A policy bounds how a request is retried.
type policy struct {
	attempts       int
	delay          time.Duration
	retryForbidden bool
}

var (
	// defaultPolicy backs off linearly on 429.
	defaultPolicy = policy{attempts: 5, delay: 5 * time.Second}

	// groupPolicy is the extended policy for group mutations. The server
	// returns 403 for a while after rapid tree growth, so these retry
	// longer and treat 403 as retriable.
	groupPolicy = policy{attempts: 10, delay: 15 * time.Second, retryForbidden: true}
)

// A Client talks to one target account.
type Client struct {
	base  string
	key   string
	http  *http.Client
	log   logging.Logger
	sleep func(time.Duration)
}

// An Option configures a Client.
type Option func(*Client)

// WithLogger configures how a Client logs.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithHTTPClient configures the HTTP client used for API requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBaseURL overrides the API root derived from the profile.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.base = strings.TrimRight(u, "/")
	}
}

// WithSleeper configures how a Client waits between retries.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// New returns a Client for the account the profile points at.
func New(p config.Profile, opts ...Option) *Client {
	c := &Client{
		base:  p.BaseURL(),
		key:   p.APIKey,
		http:  transport.NewClient(p.SSLVerify),
		log:   logging.NewNopLogger(),
		sleep: time.Sleep,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// do issues one API request under the supplied retry policy, decoding a
// 2xx response into into when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, into any, pol policy) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errEncodeBody)
		}
		payload = b
	}
	u := c.base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	transientRetried := false
	for attempt := 1; attempt <= pol.attempts; attempt++ {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return errors.Wrap(err, errNewRequest)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.key)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !transientRetried {
				transientRetried = true
				c.log.Debug("Transport error; retrying once", "method", method, "path", path, "error", err)
				c.sleep(pol.delay)
				continue
			}
			return xerrors.Wrap(err, xerrors.Transport, fmt.Sprintf(errFmtRequest, method, path))
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close() //nolint:errcheck // Already fully read.
		if err != nil {
			return xerrors.Wrap(err, xerrors.Transport, errReadBody)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if into == nil {
				return nil
			}
			return errors.Wrap(json.Unmarshal(raw, into), errDecodeBody)

		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt == pol.attempts {
				return xerrors.Newf(xerrors.RateLimited, errFmtRetries, method, path, pol.attempts)
			}
			c.log.Debug("Rate limited; backing off", "method", method, "path", path, "attempt", attempt)
			c.sleep(pol.delay * time.Duration(attempt))

		case resp.StatusCode == http.StatusUnauthorized:
			return xerrors.Newf(xerrors.Unauthorized, errFmtStatus, method, path, resp.StatusCode, snippet(raw))

		case resp.StatusCode == http.StatusForbidden && pol.retryForbidden && attempt < pol.attempts:
			c.log.Info("Got 403; waiting for group permissions to propagate",
				"method", method, "path", path, "attempt", attempt)
			c.sleep(pol.delay * time.Duration(attempt))

		case resp.StatusCode >= 500 && !transientRetried:
			transientRetried = true
			c.log.Debug("Server error; retrying once",
				"method", method, "path", path, "status", resp.StatusCode)
			c.sleep(pol.delay)

		default:
			return xerrors.Newf(xerrors.Transport, errFmtStatus, method, path, resp.StatusCode, snippet(raw))
		}
	}
	return xerrors.Newf(xerrors.Transport, errFmtRetries, method, path, pol.attempts)
}

// snippet truncates an error response body for log and error messages.
func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		return s[:200] + "…"
	}
	return s
}

// ListUsers returns every user on the account, enabled state included.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "users", nil, nil, &users, defaultPolicy); err != nil {
		return nil, err
	}
	ids := make([]ID, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	enabled, err := c.UsersEnabled(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Enabled = enabled[users[i].ID]
	}
	return users, nil
}

// ListGroups returns the account's group tree as a flat list.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := c.do(ctx, http.MethodGet, "group", nil, nil, &groups, defaultPolicy); err != nil {
		return nil, err
	}
	return groups, nil
}

// AddGroup creates a group under the supplied parent and returns its id.
func (c *Client) AddGroup(ctx context.Context, name string, parentID ID) (ID, error) {
	body := map[string]string{"name": name, "parent_id": parentID.String()}
	var out struct {
		GroupID ID `json:"group_id"`
	}
	if err := c.do(ctx, http.MethodPut, "group", nil, body, &out, groupPolicy); err != nil {
		return 0, err
	}
	return out.GroupID, nil
}

// DeleteGroup removes a group. The server refuses groups that still hold
// users or children.
func (c *Client) DeleteGroup(ctx context.Context, id ID) error {
	return c.do(ctx, http.MethodDelete, "group/"+id.String(), nil, nil, nil, groupPolicy)
}

// AddUser invites one user into the supplied group with every permission
// toggle off and no invitation email.
func (c *Client) AddUser(ctx context.Context, email string, groupID ID) (User, error) {
	body := map[string]any{
		"email":                       []string{email},
		"tt_global_admin":             "0",
		"tt_can_create_level_1_tasks": "0",
		"can_view_rates":              "0",
		"add_to_all_projects":         "0",
		"send_email":                  "0",
	}
	var out struct {
		UserID ID `json:"user_id"`
	}
	if err := c.do(ctx, http.MethodPost, "group/"+groupID.String()+"/user", nil, body, &out, defaultPolicy); err != nil {
		return User{}, err
	}
	return User{ID: out.UserID, Email: email, GroupID: groupID, Enabled: true}, nil
}

// UpdateUser applies the set fields of the update to one user. The
// display name and email ride the user endpoint; moves and role changes
// ride the membership endpoint of the user's current group.
func (c *Client) UpdateUser(ctx context.Context, id, groupID ID, u UserUpdate) error {
	if u.DisplayName != nil {
		body := map[string]string{"display_name": *u.DisplayName, "user_id": id.String()}
		if err := c.do(ctx, http.MethodPost, "user", nil, body, nil, defaultPolicy); err != nil {
			return err
		}
	}
	if u.Email != nil {
		body := map[string]string{"email": *u.Email, "user_id": id.String()}
		if err := c.do(ctx, http.MethodPost, "user", nil, body, nil, defaultPolicy); err != nil {
			return err
		}
	}
	if u.GroupID != nil {
		body := map[string]string{"group_id": u.GroupID.String(), "user_id": id.String()}
		if err := c.do(ctx, http.MethodPut, "group/"+groupID.String()+"/user", nil, body, nil, defaultPolicy); err != nil {
			return err
		}
	}
	if u.RoleID != nil {
		body := map[string]string{"role_id": *u.RoleID, "user_id": id.String()}
		if err := c.do(ctx, http.MethodPut, "group/"+groupID.String()+"/user", nil, body, nil, defaultPolicy); err != nil {
			return err
		}
	}
	return nil
}

// UpdateUserSetting writes one named setting for one user.
func (c *Client) UpdateUserSetting(ctx context.Context, id ID, name, value string) error {
	body := map[string]string{"name": name, "value": value}
	return c.do(ctx, http.MethodPut, "user/"+id.String()+"/setting", nil, body, nil, defaultPolicy)
}

// SetAdditionalEmail stores a user's secondary address.
func (c *Client) SetAdditionalEmail(ctx context.Context, id ID, email string) error {
	return c.UpdateUserSetting(ctx, id, SettingAdditionalEmail, email)
}

// UserSettings bulk-reads one named setting. Users without a value are
// absent from the result. Batches are read concurrently; this is the
// only place the client parallelises, and only for reads.
func (c *Client) UserSettings(ctx context.Context, ids []ID, name string) (map[ID]string, error) {
	out := make(map[ID]string, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(settingsFetchers)
	for start := 0; start < len(ids); start += settingsBatchSize {
		batch := ids[start:min(start+settingsBatchSize, len(ids))]
		g.Go(func() error {
			got, err := c.settingsBatch(gctx, batch, name)
			if err != nil {
				return err
			}
			mu.Lock()
			for id, v := range got {
				out[id] = v
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) settingsBatch(ctx context.Context, ids []ID, name string) (map[ID]string, error) {
	if len(ids) == 0 {
		return map[ID]string{}, nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	var raw json.RawMessage
	q := url.Values{"name[]": []string{name}}
	if err := c.do(ctx, http.MethodGet, "user/"+strings.Join(parts, ",")+"/setting", q, nil, &raw, defaultPolicy); err != nil {
		return nil, err
	}
	return decodeSettings(raw, name)
}

type settingRecord struct {
	UserID ID         `json:"userId"`
	Name   string     `json:"name"`
	Value  flexString `json:"value"`
}

// decodeSettings handles the two shapes the settings endpoint returns:
// an object keyed by user id holding record lists, and a legacy flat
// list of records. Both decode to the same map.
func decodeSettings(raw []byte, name string) (map[ID]string, error) {
	out := map[ID]string{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return out, nil
	}

	if trimmed[0] == '{' {
		var byUser map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &byUser); err != nil {
			return nil, errors.Wrap(err, errDecodeBody)
		}
		for key, entry := range byUser {
			var id ID
			if err := id.UnmarshalJSON([]byte(key)); err != nil {
				continue
			}
			var records []settingRecord
			if err := json.Unmarshal(entry, &records); err != nil {
				// Users without the setting arrive as non-list values.
				continue
			}
			for _, r := range records {
				if r.Name == name {
					out[id] = string(r.Value)
				}
			}
		}
		return out, nil
	}

	var records []settingRecord
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, errors.Wrap(err, errDecodeBody)
	}
	for _, r := range records {
		if r.Name == name {
			out[r.UserID] = string(r.Value)
		}
	}
	return out, nil
}

// AdditionalEmails bulk-reads the secondary addresses of the supplied
// users.
func (c *Client) AdditionalEmails(ctx context.Context, ids []ID) (map[ID]string, error) {
	return c.UserSettings(ctx, ids, SettingAdditionalEmail)
}

// ExternalIDs bulk-reads the recorded source identifiers of the supplied
// users.
func (c *Client) ExternalIDs(ctx context.Context, ids []ID) (map[ID]string, error) {
	return c.UserSettings(ctx, ids, SettingExternalID)
}

// ManuallyAdded bulk-reads which of the supplied users were created
// outside this pipeline.
func (c *Client) ManuallyAdded(ctx context.Context, ids []ID) (map[ID]bool, error) {
	values, err := c.UserSettings(ctx, ids, SettingAddedManually)
	if err != nil {
		return nil, err
	}
	out := make(map[ID]bool, len(ids))
	for _, id := range ids {
		out[id] = values[id] == "1"
	}
	return out, nil
}

// UsersEnabled bulk-reads the enabled state of the supplied users. Users
// that never had the disabled_user setting written count as enabled.
func (c *Client) UsersEnabled(ctx context.Context, ids []ID) (map[ID]bool, error) {
	values, err := c.UserSettings(ctx, ids, SettingDisabledUser)
	if err != nil {
		return nil, err
	}
	out := make(map[ID]bool, len(ids))
	for _, id := range ids {
		out[id] = values[id] != "1"
	}
	return out, nil
}

// UserRoles returns every user's role assignments across all groups,
// read from the people picker mosaic. Groups whose member set arrives
// list-shaped are empty and carry no assignments.
func (c *Client) UserRoles(ctx context.Context) (map[ID][]GroupRole, error) {
	var out struct {
		Groups map[string]struct {
			GroupID ID              `json:"group_id"`
			Users   json.RawMessage `json:"users"`
		} `json:"groups"`
	}
	if err := c.do(ctx, http.MethodGet, "people_picker", nil, nil, &out, defaultPolicy); err != nil {
		return nil, err
	}

	roles := map[ID][]GroupRole{}
	for _, g := range out.Groups {
		var users map[string]struct {
			RoleID flexString `json:"role_id"`
		}
		if err := json.Unmarshal(g.Users, &users); err != nil {
			continue
		}
		for key, u := range users {
			var id ID
			if err := id.UnmarshalJSON([]byte(key)); err != nil {
				continue
			}
			roles[id] = append(roles[id], GroupRole{GroupID: g.GroupID, RoleID: string(u.RoleID)})
		}
	}
	return roles, nil
}

// DayTypes returns the account's attendance day types keyed by id. The
// endpoint's data field arrives either as an object keyed by id or as a
// list.
func (c *Client) DayTypes(ctx context.Context) (map[string]DayType, error) {
	var out struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "attendance/day_types", nil, nil, &out, defaultPolicy); err != nil {
		return nil, err
	}

	types := map[string]DayType{}
	trimmed := bytes.TrimSpace(out.Data)
	if len(trimmed) == 0 {
		return types, nil
	}
	if trimmed[0] == '{' {
		var byID map[string]DayType
		if err := json.Unmarshal(trimmed, &byID); err != nil {
			return nil, errors.Wrap(err, errDecodeBody)
		}
		for _, dt := range byID {
			types[dt.ID.String()] = dt
		}
		return types, nil
	}
	var list []DayType
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, errors.Wrap(err, errDecodeBody)
	}
	for _, dt := range list {
		types[dt.ID.String()] = dt
	}
	return types, nil
}

// AddVacation records an absence window one attendance day at a time. A
// day that fails to record is logged and skipped so the rest of the
// window still lands; only unparseable dates fail the window outright.
func (c *Client) AddVacation(ctx context.Context, userID ID, v Vacation) error {
	start, err := time.Parse(dateLayout, v.Start)
	if err != nil {
		return xerrors.Wrap(err, xerrors.BusinessRule, fmt.Sprintf(errFmtBadDate, v.Start))
	}
	end, err := time.Parse(dateLayout, v.End)
	if err != nil {
		return xerrors.Wrap(err, xerrors.BusinessRule, fmt.Sprintf(errFmtBadDate, v.End))
	}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		body := []map[string]any{{
			"day":          day.Format(dateLayout),
			"dayTypeId":    v.DayTypeID,
			"shouldBe":     v.ShouldBe,
			"vacationTime": v.VacationTime,
		}}
		if err := c.do(ctx, http.MethodPost, "attendance/"+userID.String()+"/user", nil, body, nil, defaultPolicy); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Info("Cannot record attendance day; continuing",
				"user", userID.String(), "day", day.Format(dateLayout), "error", err)
			continue
		}
		c.log.Debug("Recorded attendance day",
			"user", userID.String(), "day", day.Format(dateLayout), "dayType", v.DayTypeID)
	}
	return nil
}
