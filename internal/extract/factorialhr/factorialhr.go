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

// Package factorialhr extracts approved leave windows from FactorialHR
// and writes the vacation document the leave sync consumes.
package factorialhr

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
	"github.com/orgsync/orgsync/internal/transport"
	"github.com/orgsync/orgsync/internal/vacation"
	"github.com/orgsync/orgsync/internal/xerrors"
)

// defaultLeaveTypeKey maps leave types the configuration does not name.
const defaultLeaveTypeKey = "Default"

// Error strings.
const (
	errMissingCredentials = "FACTORIAL_API_URL and FACTORIAL_API_KEY are both required"
	errInvalidTypeMap     = "FACTORIAL_LEAVE_TYPE_MAP is not a valid JSON object"
	errNewRequest         = "cannot create request"
	errDecodeBody         = "cannot decode response"
	errSaveVacation       = "cannot save vacation document"
	errFmtRequest         = "GET %s failed"
	errFmtStatus          = "GET %s returned status %d: %s"
)

// A Config carries the FactorialHR connection settings.
type Config struct {
	APIURL string
	APIKey string

	// LeaveTypeMap translates FactorialHR leave type names to target day
	// type names. The Default key catches anything unnamed.
	LeaveTypeMap map[string]string

	// VacationFile is the vacation blob name to write.
	VacationFile string
}

// FromEnv assembles the FactorialHR configuration from the environment.
func FromEnv() (Config, error) {
	c := Config{
		APIURL: config.GetString("FACTORIAL_API_URL", ""),
		APIKey: config.GetString("FACTORIAL_API_KEY", ""),
	}

	if raw := config.GetString("FACTORIAL_LEAVE_TYPE_MAP", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.LeaveTypeMap); err != nil {
			return Config{}, xerrors.Wrap(err, xerrors.Config, errInvalidTypeMap)
		}
	}

	return c, nil
}

// An Extractor fetches employees and their leave windows and writes the
// vacation document.
type Extractor struct {
	cfg   Config
	store blob.Store

	http *http.Client
	log  logging.Logger
}

// An Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient configures the HTTP client used for API requests.
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

// New returns an Extractor for the configured FactorialHR account.
func New(cfg Config, store blob.Store, opts ...Option) (*Extractor, error) {
	if cfg.APIURL == "" || cfg.APIKey == "" {
		return nil, xerrors.New(xerrors.Config, errMissingCredentials)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.VacationFile == "" {
		cfg.VacationFile = vacation.DefaultFile
	}

	e := &Extractor{
		cfg:   cfg,
		store: store,
		http:  transport.NewClient(true),
		log:   logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// An employee is the slice of the employees resource the extractor needs:
// the id leaves reference and the addresses it resolves to.
type employee struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	LoginEmail string `json:"login_email"`
}

// A leave is one approved absence window.
type leave struct {
	EmployeeID    int64  `json:"employee_id"`
	StartOn       string `json:"start_on"`
	FinishOn      string `json:"finish_on"`
	LeaveTypeName string `json:"leave_type_name"`
}

type employeesPage struct {
	Data []employee `json:"data"`
}

type leavesPage struct {
	Data []leave `json:"data"`
}

// Run fetches active employees and their leaves, resolves each leave to
// an email and a target leave type, and writes the vacation document.
func (e *Extractor) Run(ctx context.Context) error {
	var emps employeesPage
	if err := e.get(ctx, "resources/employees/employees", url.Values{
		"only_active":   []string{"true"},
		"only_managers": []string{"false"},
	}, &emps); err != nil {
		return err
	}
	e.log.Info("Fetched employees", "count", len(emps.Data))

	byID := make(map[int64]employee, len(emps.Data))
	for _, emp := range emps.Data {
		byID[emp.ID] = emp
	}

	var leaves leavesPage
	if err := e.get(ctx, "resources/timeoff/leaves", url.Values{
		"include_leave_type": []string{"true"},
		"include_duration":   []string{"true"},
	}, &leaves); err != nil {
		return err
	}

	entries := make([]vacation.Entry, 0, len(leaves.Data))
	for _, l := range leaves.Data {
		emp, ok := byID[l.EmployeeID]
		if !ok {
			e.log.Info("Leave references an employee outside the active listing", "employeeID", l.EmployeeID)
		}
		entries = append(entries, vacation.Entry{
			Email:     e.email(emp),
			StartOn:   l.StartOn,
			FinishOn:  l.FinishOn,
			LeaveType: e.leaveType(l.LeaveTypeName),
		})
	}

	if err := e.store.SaveJSON(ctx, e.cfg.VacationFile, vacation.Document{Vacation: entries}); err != nil {
		return errors.Wrap(err, errSaveVacation)
	}
	e.log.Info("Saved vacation document", "name", e.cfg.VacationFile, "entries", len(entries))
	return nil
}

// email prefers the work address and falls back to the login address.
func (e *Extractor) email(emp employee) string {
	if emp.Email != "" {
		return emp.Email
	}
	return emp.LoginEmail
}

// leaveType translates a FactorialHR leave type name, falling back to the
// Default mapping. An empty result marks the entry incomplete, which the
// leave sync skips with a warning.
func (e *Extractor) leaveType(name string) string {
	if t, ok := e.cfg.LeaveTypeMap[name]; ok {
		return t
	}
	return e.cfg.LeaveTypeMap[defaultLeaveTypeKey]
}

// get performs one API request and decodes the response.
func (e *Extractor) get(ctx context.Context, path string, query url.Values, into any) error {
	u := e.cfg.APIURL + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, errNewRequest)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", e.cfg.APIKey)

	e.log.Debug("API request", "url", u)
	resp, err := e.http.Do(req)
	if err != nil {
		return xerrors.Wrap(err, xerrors.Transport, fmt.Sprintf(errFmtRequest, path))
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return xerrors.Wrap(err, xerrors.Transport, fmt.Sprintf(errFmtRequest, path))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return xerrors.Newf(xerrors.Unauthorized, errFmtStatus, path, resp.StatusCode, snippet(data))
	case resp.StatusCode >= http.StatusBadRequest:
		return xerrors.Newf(xerrors.Transport, errFmtStatus, path, resp.StatusCode, snippet(data))
	}

	return errors.Wrap(json.Unmarshal(data, into), errDecodeBody)
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
