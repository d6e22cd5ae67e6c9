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

// Package bamboohr extracts the roster from the BambooHR datasets API.
package bamboohr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/config"
	"github.com/orgsync/orgsync/internal/extract"
	"github.com/orgsync/orgsync/internal/roster"
	"github.com/orgsync/orgsync/internal/transport"
	"github.com/orgsync/orgsync/internal/xerrors"
)

const (
	// DefaultAPIRoot is the BambooHR gateway root. The company subdomain
	// and dataset path are appended per request.
	DefaultAPIRoot = "https://api.bamboohr.com/api/gateway.php"

	// statusTerminated marks employees the roster never carries.
	statusTerminated = "Terminated"

	dateLayout = "2006-01-02"
)

// Error strings.
const (
	errMissingCredentials = "subdomain and api key are both required"
	errInvalidFilter      = "BAMBOOHR_EXCLUDE_FILTER is not valid JSON"
	errInvalidRule        = "BAMBOOHR_SUPERVISOR_RULE must look like field:value"
	errEncodePayload      = "cannot encode dataset query"
	errNewRequest         = "cannot create dataset request"
	errDecodeDataset      = "cannot decode dataset response"
	errFmtRequest         = "POST %s failed"
	errFmtStatus          = "POST %s returned status %d: %s"
)

// datasetFields is the projection requested for every employee.
var datasetFields = []string{
	"employeeNumber",
	"name",
	"email",
	"jobInformationDepartment",
	"jobInformationDivision",
	"jobInformationJobTitle",
	"isSupervisor",
	"supervisorId",
	"employmentStatus",
	"hireDate",
	"status",
	"supervisorEid",
}

// A Config carries the BambooHR connection settings.
type Config struct {
	Subdomain string
	APIKey    string

	// ExcludeFilter is a raw dataset filter object prepended to the
	// employee query, straight from configuration.
	ExcludeFilter json.RawMessage

	// ExcludedDepartments are dropped from the roster after fetching.
	ExcludedDepartments []string

	// SupervisorField and SupervisorValue implement the field:value rule
	// that marks somebody a supervisor.
	SupervisorField string
	SupervisorValue string

	// UsersFile is the roster blob name to write.
	UsersFile string
}

// FromEnv assembles the BambooHR configuration from the environment.
func FromEnv() (Config, error) {
	c := Config{
		Subdomain:           config.GetString("BAMBOOHR_SUBDOMAIN", ""),
		APIKey:              config.GetString("BAMBOOHR_API_KEY", ""),
		ExcludedDepartments: extract.SplitList(config.GetString("BAMBOOHR_EXCLUDED_DEPARTMENTS", "")),
		UsersFile:           config.GetString("TIMECAMP_USERS_FILE", config.DefaultUsersFile),
	}

	if raw := strings.TrimSpace(config.GetString("BAMBOOHR_EXCLUDE_FILTER", "")); raw != "" {
		if !json.Valid([]byte(raw)) {
			return Config{}, xerrors.New(xerrors.Config, errInvalidFilter)
		}
		c.ExcludeFilter = json.RawMessage(raw)
	}

	if rule := strings.TrimSpace(config.GetString("BAMBOOHR_SUPERVISOR_RULE", "")); rule != "" {
		field, value, ok := strings.Cut(rule, ":")
		if !ok || strings.TrimSpace(field) == "" {
			return Config{}, xerrors.New(xerrors.Config, errInvalidRule)
		}
		c.SupervisorField = strings.TrimSpace(field)
		c.SupervisorValue = strings.TrimSpace(value)
	}

	return c, nil
}

// An Extractor pages employees out of the datasets API and writes the
// roster.
type Extractor struct {
	cfg   Config
	store blob.Store

	root string
	http *http.Client
	log  logging.Logger
	now  func() time.Time

	excluded map[string]bool

	// notFound caches employee ids the directory has no record for, so
	// dangling supervisor references are looked up once per run.
	notFound map[string]bool
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

// WithAPIRoot overrides the gateway root.
func WithAPIRoot(u string) Option {
	return func(e *Extractor) {
		e.root = strings.TrimRight(u, "/")
	}
}

// WithClock overrides how an Extractor reads the current time. Hire
// dates in the future are filtered against it.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// New returns an Extractor for the configured company.
func New(cfg Config, store blob.Store, opts ...Option) (*Extractor, error) {
	if cfg.Subdomain == "" || cfg.APIKey == "" {
		return nil, xerrors.New(xerrors.Config, errMissingCredentials)
	}
	if cfg.UsersFile == "" {
		cfg.UsersFile = config.DefaultUsersFile
	}

	e := &Extractor{
		cfg:      cfg,
		store:    store,
		root:     DefaultAPIRoot,
		http:     transport.NewClient(true),
		log:      logging.NewNopLogger(),
		now:      time.Now,
		excluded: map[string]bool{},
		notFound: map[string]bool{},
	}
	for _, dept := range cfg.ExcludedDepartments {
		e.excluded[dept] = true
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// An employee is one dataset row. Fields keeps the raw record so the
// supervisor rule can reference any configured field.
type employee struct {
	EmployeeNumber   string `json:"employeeNumber"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Department       string `json:"jobInformationDepartment"`
	Division         string `json:"jobInformationDivision"`
	JobTitle         string `json:"jobInformationJobTitle"`
	EmploymentStatus string `json:"employmentStatus"`
	HireDate         string `json:"hireDate"`
	SupervisorID     string `json:"supervisorId"`

	Fields map[string]any `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps the raw record.
func (e *employee) UnmarshalJSON(data []byte) error {
	type alias employee
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &a.Fields); err != nil {
		return err
	}
	*e = employee(a)
	return nil
}

// nextPage tolerates the number, string, and null encodings dataset
// pagination shows up with.
type nextPage struct {
	v string
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *nextPage) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		n.v = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n.v = s
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	n.v = strconv.FormatFloat(f, 'f', -1, 64)
	return nil
}

// More reports whether another page follows.
func (n nextPage) More() bool {
	return n.v != "" && n.v != "0"
}

type datasetPage struct {
	Data       []employee `json:"data"`
	Pagination struct {
		NextPage nextPage `json:"next_page"`
	} `json:"pagination"`
}

type filterSet struct {
	Match   string `json:"match"`
	Filters []any  `json:"filters"`
}

type fieldFilter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Run pages every active employee out of the directory, walks the
// reporting chain for supervisors the filters dropped, and writes the
// roster document.
func (e *Extractor) Run(ctx context.Context) error {
	today := e.now().Format(dateLayout)

	var pages [][]roster.User
	for page := 1; ; page++ {
		p, err := e.query(ctx, e.payload(e.listingFilters(), page))
		if err != nil {
			return err
		}

		users := make([]roster.User, 0, len(p.Data))
		for _, emp := range p.Data {
			if e.skip(emp, today) {
				continue
			}
			users = append(users, e.user(emp, roster.StatusActive))
		}
		pages = append(pages, users)

		if !p.Pagination.NextPage.More() {
			break
		}
		e.log.Debug("Fetching next employee page", "page", page+1)
	}

	users, err := extract.MergeByExternalID(pages...)
	if err != nil {
		return err
	}

	supervisors, err := e.missingSupervisors(ctx, users)
	if err != nil {
		return err
	}
	users = append(users, supervisors...)

	return extract.SaveRoster(ctx, e.store, e.cfg.UsersFile, users, e.log)
}

// listingFilters builds the employee listing filter chain: the configured
// exclusion first, then the terminated-status guard.
func (e *Extractor) listingFilters() filterSet {
	fs := []any{}
	if len(e.cfg.ExcludeFilter) > 0 {
		fs = append(fs, e.cfg.ExcludeFilter)
	}
	fs = append(fs, fieldFilter{Field: "employmentStatus", Operator: "does_not_include", Value: []string{statusTerminated}})
	return filterSet{Match: "all", Filters: fs}
}

// payload assembles one dataset query. Page zero omits pagination, which
// the by-id supervisor lookups rely on.
func (e *Extractor) payload(filters filterSet, page int) map[string]any {
	fields := datasetFields
	if e.cfg.SupervisorField != "" {
		fields = append(append([]string{}, datasetFields...), e.cfg.SupervisorField)
	}
	p := map[string]any{"filters": filters, "fields": fields}
	if page > 0 {
		p["page"] = page
	}
	return p
}

// skip reports whether a listed employee stays out of the roster:
// terminated, not yet hired, unreachable by email, or in an excluded
// department.
func (e *Extractor) skip(emp employee, today string) bool {
	if emp.EmploymentStatus == statusTerminated {
		return true
	}
	if emp.HireDate != "" && emp.HireDate > today {
		return true
	}
	if strings.TrimSpace(emp.Email) == "" {
		return true
	}
	return e.excluded[emp.Department]
}

// user maps one dataset row onto the roster schema.
func (e *Extractor) user(emp employee, status string) roster.User {
	return roster.User{
		ExternalID:   emp.EmployeeNumber,
		Name:         extract.Normalize(emp.Name),
		Email:        strings.ToLower(strings.TrimSpace(emp.Email)),
		Department:   department(emp),
		JobTitle:     extract.Normalize(emp.JobTitle),
		Status:       status,
		SupervisorID: emp.SupervisorID,
		IsSupervisor: e.isSupervisor(emp),
	}
}

// department joins division and department the way the directory nests
// them.
func department(emp employee) string {
	div, dep := extract.Normalize(emp.Division), extract.Normalize(emp.Department)
	switch {
	case div != "" && dep != "":
		return div + "/" + dep
	case dep != "":
		return dep
	default:
		return div
	}
}

// isSupervisor applies the configured field:value rule to the raw record.
func (e *Extractor) isSupervisor(emp employee) *roster.Bool {
	b := roster.Bool(false)
	if e.cfg.SupervisorField != "" {
		b = roster.Bool(strings.TrimSpace(fieldString(emp.Fields[e.cfg.SupervisorField])) == e.cfg.SupervisorValue)
	}
	return &b
}

// fieldString renders a raw record value the way it appears in JSON, so
// rules can match numeric and boolean fields as text.
func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// missingSupervisors walks up the reporting chain, fetching referenced
// employees the filtered listing left out. They come back marked inactive
// so the tree keeps its shape without re-activating anyone.
func (e *Extractor) missingSupervisors(ctx context.Context, users []roster.User) ([]roster.User, error) {
	existing := map[string]bool{}
	for _, u := range users {
		if u.ExternalID != "" {
			existing[u.ExternalID] = true
		}
	}

	var out []roster.User
	for {
		missing := e.danglingReferences(append(users, out...), existing)
		if len(missing) == 0 {
			return out, nil
		}

		e.log.Info("Fetching supervisors missing from the filtered listing", "count", len(missing))
		p, err := e.query(ctx, e.payload(anyOf(missing), 0))
		if err != nil {
			return nil, err
		}

		found := map[string]bool{}
		for _, emp := range p.Data {
			if emp.EmployeeNumber == "" {
				continue
			}
			found[emp.EmployeeNumber] = true
			existing[emp.EmployeeNumber] = true
			out = append(out, e.user(emp, roster.StatusInactive))
		}

		for _, id := range missing {
			if !found[id] {
				e.notFound[id] = true
				e.log.Info("Directory has no record for referenced supervisor", "id", id)
			}
		}
	}
}

// danglingReferences lists referenced supervisor ids that are neither
// fetched nor known to be absent, sorted for deterministic queries.
func (e *Extractor) danglingReferences(users []roster.User, existing map[string]bool) []string {
	seen := map[string]bool{}
	var missing []string
	for _, u := range users {
		id := u.SupervisorID
		if id == "" || existing[id] || e.notFound[id] || seen[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	sort.Strings(missing)
	return missing
}

// anyOf builds a filter matching any of the supplied employee ids.
func anyOf(ids []string) filterSet {
	fs := make([]any, 0, len(ids))
	for _, id := range ids {
		fs = append(fs, fieldFilter{Field: "employeeNumber", Operator: "equal", Value: id})
	}
	return filterSet{Match: "any", Filters: fs}
}

// query posts one dataset request and decodes the employee rows.
func (e *Extractor) query(ctx context.Context, payload map[string]any) (datasetPage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return datasetPage{}, errors.Wrap(err, errEncodePayload)
	}

	u := fmt.Sprintf("%s/%s/v1/datasets/employee", e.root, e.cfg.Subdomain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return datasetPage{}, errors.Wrap(err, errNewRequest)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(e.cfg.APIKey, "x")

	e.log.Debug("Dataset request", "url", u)
	resp, err := e.http.Do(req)
	if err != nil {
		return datasetPage{}, xerrors.Wrap(err, xerrors.Transport, fmt.Sprintf(errFmtRequest, req.URL.Path))
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return datasetPage{}, xerrors.Wrap(err, xerrors.Transport, fmt.Sprintf(errFmtRequest, req.URL.Path))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return datasetPage{}, xerrors.Newf(xerrors.Unauthorized, errFmtStatus, req.URL.Path, resp.StatusCode, snippet(data))
	case resp.StatusCode >= http.StatusBadRequest:
		return datasetPage{}, xerrors.Newf(xerrors.Transport, errFmtStatus, req.URL.Path, resp.StatusCode, snippet(data))
	}

	var p datasetPage
	if err := json.Unmarshal(data, &p); err != nil {
		return datasetPage{}, errors.Wrap(err, errDecodeDataset)
	}
	return p, nil
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
