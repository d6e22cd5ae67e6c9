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

// Package ldap extracts the roster from an LDAP or Active Directory
// server. Entries are identified by their objectGUID so the roster stays
// stable across renames and moves between organizational units.
package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/config"
	"github.com/orgsync/orgsync/internal/extract"
	"github.com/orgsync/orgsync/internal/roster"
	"github.com/orgsync/orgsync/internal/xerrors"
)

// Defaults applied when the environment leaves a knob unset.
const (
	// DefaultFilter matches person objects whose userAccountControl bits
	// do not flag the account disabled.
	DefaultFilter = "(&(objectClass=person)(!(userAccountControl:1.2.840.113556.1.4.803:=2)))"

	DefaultPort     = "389"
	DefaultSSLPort  = "636"
	DefaultPageSize = 1000
)

// Error strings.
const (
	errBothTLSModes  = "LDAP_USE_SSL and LDAP_USE_START_TLS are mutually exclusive"
	errConnect       = "cannot connect to directory"
	errStartTLS      = "cannot negotiate StartTLS"
	errBind          = "directory bind failed"
	errSearch        = "directory search failed"
	errFmtMissing    = "missing required LDAP configuration: %s"
	errFmtGUIDLength = "objectGUID is %d bytes, want 16"
)

// searchAttributes is the projection requested for every person entry.
var searchAttributes = []string{
	"objectGUID", "sAMAccountName", "mail", "displayName",
	"department", "title", "givenName", "sn", "mobile",
	"telephoneNumber", "streetAddress", "postalCode", "manager",
	"memberOf",
}

// supervisorAttributes additionally carries the account control bits, as
// missing supervisors are usually entries the disabled-account filter
// dropped.
var supervisorAttributes = append(append([]string{}, searchAttributes...), "userAccountControl")

// A Config carries the directory connection and mapping settings.
type Config struct {
	Host     string
	Port     string
	Domain   string
	BaseDN   string
	Username string
	Password string

	Filter   string
	PageSize uint32

	// Email strategies, applied in this order of precedence. Each takes
	// effect only for entries that carry a sAMAccountName.
	UseSAMAccountNameOnly bool
	UseWindowsLoginEmail  bool
	UseSAMAccountName     bool

	// UseRealEmailAsEmail swaps the kept mailbox address back into the
	// email field after a strategy rewrote it.
	UseRealEmailAsEmail bool

	// EmailDomain overrides the LDAP domain in windows-login addresses.
	EmailDomain string

	// ReplaceEmailDomain picks the address from this domain when the mail
	// attribute carries several.
	ReplaceEmailDomain string

	// UseOUStructure derives the department from the entry's DN instead
	// of its department attribute.
	UseOUStructure bool

	// UseSupervisorGroups additionally fetches managers the person filter
	// dropped, so supervisor-derived groups keep their shape.
	UseSupervisorGroups bool

	// Group names whose members get role overrides.
	SupervisorGroup  string
	GlobalAdminGroup string

	UseSSL      bool
	UseStartTLS bool
	SSLVerify   bool

	// UsersFile is the roster blob name to write.
	UsersFile string
}

// FromEnv assembles the directory configuration from the environment.
func FromEnv() (Config, error) {
	c := Config{
		Host:               config.GetString("LDAP_HOST", ""),
		Port:               config.GetString("LDAP_PORT", DefaultPort),
		Domain:             config.GetString("LDAP_DOMAIN", ""),
		BaseDN:             config.GetString("LDAP_DN", ""),
		Username:           config.GetString("LDAP_USERNAME", ""),
		Password:           config.GetString("LDAP_PASSWORD", ""),
		Filter:             config.GetString("LDAP_FILTER", DefaultFilter),
		EmailDomain:        config.GetString("LDAP_EMAIL_DOMAIN", ""),
		ReplaceEmailDomain: config.GetString("TIMECAMP_REPLACE_EMAIL_DOMAIN", ""),
		SupervisorGroup:    config.GetString("LDAP_SUPERVISOR_GROUP_NAME", ""),
		GlobalAdminGroup:   config.GetString("LDAP_GLOBAL_ADMIN_GROUP_NAME", ""),
		UsersFile:          config.GetString("TIMECAMP_USERS_FILE", config.DefaultUsersFile),
	}

	size, err := config.GetInt("LDAP_PAGE_SIZE", DefaultPageSize)
	if err != nil {
		return Config{}, err
	}
	c.PageSize = uint32(size)

	bools := []struct {
		key  string
		def  bool
		into *bool
	}{
		{"LDAP_USE_SAMACCOUNTNAME_ONLY", false, &c.UseSAMAccountNameOnly},
		{"LDAP_USE_WINDOWS_LOGIN_EMAIL", false, &c.UseWindowsLoginEmail},
		{"LDAP_USE_SAMACCOUNTNAME", false, &c.UseSAMAccountName},
		{"LDAP_USE_REAL_EMAIL_AS_EMAIL", false, &c.UseRealEmailAsEmail},
		{"LDAP_USE_OU_STRUCTURE", false, &c.UseOUStructure},
		{"TIMECAMP_USE_SUPERVISOR_GROUPS", false, &c.UseSupervisorGroups},
		{"LDAP_USE_SSL", false, &c.UseSSL},
		{"LDAP_USE_START_TLS", false, &c.UseStartTLS},
		{"LDAP_SSL_VERIFY", true, &c.SSLVerify},
	}
	for _, b := range bools {
		v, err := config.GetBool(b.key, b.def)
		if err != nil {
			return Config{}, err
		}
		*b.into = v
	}

	// Servers listening on the LDAPS port expect TLS even when nobody
	// said so explicitly.
	if config.GetString("LDAP_USE_SSL", "") == "" && config.GetString("LDAP_USE_START_TLS", "") == "" && c.Port == DefaultSSLPort {
		c.UseSSL = true
	}

	return c, nil
}

// A Directory is the slice of an LDAP connection the extractor uses.
// *ldap.Conn satisfies it.
type Directory interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Close() error
}

var _ Directory = (*ldap.Conn)(nil)

// A Dialer opens a connection for the supplied configuration.
type Dialer func(cfg Config) (Directory, error)

// An Extractor searches the directory and writes the roster.
type Extractor struct {
	cfg   Config
	store blob.Store

	dial Dialer
	log  logging.Logger
}

// An Option configures an Extractor.
type Option func(*Extractor)

// WithLogger configures how an Extractor logs.
func WithLogger(l logging.Logger) Option {
	return func(e *Extractor) {
		e.log = l
	}
}

// WithDialer overrides how the directory connection is opened.
func WithDialer(d Dialer) Option {
	return func(e *Extractor) {
		e.dial = d
	}
}

// New returns an Extractor for the configured directory.
func New(cfg Config, store blob.Store, opts ...Option) (*Extractor, error) {
	var missing []string
	for _, req := range []struct{ name, value string }{
		{"LDAP_HOST", cfg.Host},
		{"LDAP_DOMAIN", cfg.Domain},
		{"LDAP_DN", cfg.BaseDN},
		{"LDAP_USERNAME", cfg.Username},
		{"LDAP_PASSWORD", cfg.Password},
	} {
		if strings.TrimSpace(req.value) == "" {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return nil, xerrors.Newf(xerrors.Config, errFmtMissing, strings.Join(missing, ", "))
	}
	if cfg.UseSSL && cfg.UseStartTLS {
		return nil, xerrors.New(xerrors.Config, errBothTLSModes)
	}

	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.Filter == "" {
		cfg.Filter = DefaultFilter
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.UsersFile == "" {
		cfg.UsersFile = config.DefaultUsersFile
	}

	e := &Extractor{
		cfg:   cfg,
		store: store,
		dial:  dialDirectory,
		log:   logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// dialDirectory opens a plain, LDAPS, or StartTLS connection per the
// configuration.
func dialDirectory(cfg Config) (Directory, error) {
	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: !cfg.SSLVerify, //nolint:gosec // Disabled only by explicit configuration.
	}

	if cfg.UseSSL {
		port := cfg.Port
		if port == DefaultPort {
			port = DefaultSSLPort
		}
		conn, err := ldap.DialURL(fmt.Sprintf("ldaps://%s:%s", cfg.Host, port), ldap.DialWithTLSConfig(tlsConfig))
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	conn, err := ldap.DialURL(fmt.Sprintf("ldap://%s:%s", cfg.Host, cfg.Port))
	if err != nil {
		return nil, err
	}
	if cfg.UseStartTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			_ = conn.Close()
			return nil, xerrors.Wrap(err, xerrors.Transport, errStartTLS)
		}
	}
	return conn, nil
}

// Run binds to the directory, searches everyone the filter matches, and
// writes the roster document.
func (e *Extractor) Run(ctx context.Context) error {
	conn, err := e.dial(e.cfg)
	if err != nil {
		return xerrors.Wrap(err, xerrors.Transport, errConnect)
	}
	defer func() { _ = conn.Close() }()

	bind := e.cfg.Username
	if !strings.Contains(bind, "@") {
		bind += "@" + e.cfg.Domain
	}
	if err := conn.Bind(bind, e.cfg.Password); err != nil {
		return xerrors.Wrap(err, xerrors.Unauthorized, errBind)
	}
	e.log.Debug("Bound to directory", "user", bind)

	s := &session{cfg: e.cfg, conn: conn, log: e.log, managerGUIDs: map[string]string{}}

	users, err := s.users()
	if err != nil {
		return err
	}
	e.log.Info("Fetched directory users", "count", len(users))

	if e.cfg.UseSupervisorGroups {
		users = append(users, s.missingSupervisors(users)...)
	}

	return extract.SaveRoster(ctx, e.store, e.cfg.UsersFile, users, e.log)
}

// A session is one bound connection plus the manager lookups it has
// already resolved. Reporting chains share managers, so the cache saves
// one base-scope search per report after the first.
type session struct {
	cfg  Config
	conn Directory
	log  logging.Logger

	managerGUIDs map[string]string
}

func (s *session) users() ([]roster.User, error) {
	req := ldap.NewSearchRequest(
		s.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		0, 0, false,
		s.cfg.Filter,
		searchAttributes,
		nil,
	)

	s.log.Debug("Searching directory", "base", s.cfg.BaseDN, "filter", s.cfg.Filter, "pageSize", s.cfg.PageSize)
	res, err := s.conn.SearchWithPaging(req, s.cfg.PageSize)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.Transport, errSearch)
	}

	users := make([]roster.User, 0, len(res.Entries))
	for _, entry := range res.Entries {
		users = append(users, s.user(entry))
	}
	return users, nil
}

// user maps one directory entry onto the roster schema.
func (s *session) user(entry *ldap.Entry) roster.User {
	u := roster.User{
		ExternalID:   s.externalID(entry),
		Name:         displayName(entry),
		Email:        selectEmail(entry.GetAttributeValue("mail"), s.cfg.ReplaceEmailDomain),
		Department:   s.department(entry),
		JobTitle:     extract.Normalize(entry.GetAttributeValue("title")),
		Status:       roster.StatusActive,
		SupervisorID: s.manager(entry),
	}

	if s.cfg.SupervisorGroup != "" && inGroup(entry, s.cfg.SupervisorGroup) {
		u.ForceSupervisorRole = true
	}
	if s.cfg.GlobalAdminGroup != "" && inGroup(entry, s.cfg.GlobalAdminGroup) {
		u.ForceGlobalAdminRole = true
	}

	s.loginEmail(&u, entry)
	return u
}

func (s *session) externalID(entry *ldap.Entry) string {
	id, err := guidString(entry.GetRawAttributeValue("objectGUID"))
	if err != nil {
		s.log.Info("Cannot decode objectGUID", "dn", entry.DN, "error", err)
		return "unknown"
	}
	return id
}

func (s *session) department(entry *ldap.Entry) string {
	if s.cfg.UseOUStructure {
		return ouPath(entry.DN)
	}
	return extract.Normalize(entry.GetAttributeValue("department"))
}

// manager resolves the entry's manager DN to that manager's GUID with a
// base-scope search.
func (s *session) manager(entry *ldap.Entry) string {
	dn := entry.GetAttributeValue("manager")
	if dn == "" {
		return ""
	}
	if id, ok := s.managerGUIDs[dn]; ok {
		return id
	}

	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		0, 0, false,
		"(objectClass=*)",
		[]string{"objectGUID"},
		nil,
	)
	res, err := s.conn.Search(req)
	if err != nil || len(res.Entries) == 0 {
		s.log.Info("Cannot resolve manager", "dn", dn, "error", err)
		return ""
	}

	id, err := guidString(res.Entries[0].GetRawAttributeValue("objectGUID"))
	if err != nil {
		s.log.Info("Cannot decode manager objectGUID", "dn", dn, "error", err)
		return ""
	}
	s.managerGUIDs[dn] = id
	return id
}

// loginEmail rewrites the email per the configured account-name strategy,
// keeping the mailbox address as the real email. Strategies apply only to
// entries that carry a sAMAccountName.
func (s *session) loginEmail(u *roster.User, entry *ldap.Entry) {
	sam := entry.GetAttributeValue("sAMAccountName")
	mail := strings.ToLower(entry.GetAttributeValue("mail"))

	switch {
	case s.cfg.UseSAMAccountNameOnly:
		if sam != "" {
			u.Email = strings.ToLower(sam)
			u.RealEmail = mail
		}
	case s.cfg.UseWindowsLoginEmail:
		if sam != "" {
			domain := s.cfg.EmailDomain
			if domain == "" {
				domain = s.cfg.Domain
			}
			u.Email = strings.ToLower(sam + "@" + domain)
			u.RealEmail = mail
		}
	case s.cfg.UseSAMAccountName:
		if sam != "" {
			u.Email = strings.ToLower(sam + "@" + s.cfg.Domain)
			u.RealEmail = mail
		}
	case u.Email == "" && sam != "":
		u.Email = strings.ToLower(sam + "@" + s.cfg.Domain)
		u.RealEmail = mail
	}

	if s.cfg.UseRealEmailAsEmail && u.RealEmail != "" {
		u.Email = u.RealEmail
		u.RealEmail = ""
	}
}

// missingSupervisors fetches managers referenced by the roster but absent
// from it, usually because the person filter dropped their disabled
// accounts. They come back marked inactive so supervisor-derived groups
// keep their shape without re-activating anyone.
func (s *session) missingSupervisors(users []roster.User) []roster.User {
	existing := map[string]bool{}
	for _, u := range users {
		existing[u.ExternalID] = true
	}

	referenced := map[string]bool{}
	for _, u := range users {
		if u.SupervisorID != "" && !existing[u.SupervisorID] {
			referenced[u.SupervisorID] = true
		}
	}
	if len(referenced) == 0 {
		return nil
	}

	// Every supervisor reference came out of the manager cache, so
	// inverting it recovers where each missing record lives.
	dnByGUID := make(map[string]string, len(referenced))
	for dn, id := range s.managerGUIDs {
		if referenced[id] {
			dnByGUID[id] = dn
		}
	}

	ids := make([]string, 0, len(referenced))
	for id := range referenced {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	s.log.Info("Fetching supervisors missing from the filtered search", "count", len(ids))

	var out []roster.User
	for _, id := range ids {
		dn, ok := dnByGUID[id]
		if !ok {
			s.log.Info("No known entry for referenced supervisor", "id", id)
			continue
		}

		req := ldap.NewSearchRequest(
			dn,
			ldap.ScopeBaseObject, ldap.NeverDerefAliases,
			0, 0, false,
			"(objectClass=*)",
			supervisorAttributes,
			nil,
		)
		res, err := s.conn.Search(req)
		if err != nil || len(res.Entries) == 0 {
			s.log.Info("Cannot fetch referenced supervisor", "dn", dn, "error", err)
			continue
		}

		u := s.user(res.Entries[0])
		u.Status = roster.StatusInactive
		out = append(out, u)
		s.log.Debug("Added missing supervisor", "name", u.Name, "email", u.Email)
	}
	return out
}

// displayName falls back to the given name and surname when the entry has
// no display name.
func displayName(entry *ldap.Entry) string {
	if n := extract.Normalize(entry.GetAttributeValue("displayName")); n != "" {
		return n
	}
	full := strings.TrimSpace(entry.GetAttributeValue("givenName") + " " + entry.GetAttributeValue("sn"))
	return extract.Normalize(full)
}

// selectEmail picks one address out of a mail attribute that may carry a
// comma separated list, preferring the configured domain.
func selectEmail(mail, preferredDomain string) string {
	emails := extract.SplitList(strings.ToLower(mail))
	if len(emails) == 0 {
		return ""
	}
	if preferredDomain == "" {
		return emails[0]
	}

	suffix := "@" + strings.ToLower(preferredDomain)
	for _, e := range emails {
		if strings.HasSuffix(e, suffix) {
			return e
		}
	}
	return emails[0]
}

// inGroup reports whether the entry's memberOf attribute names the group.
func inGroup(entry *ldap.Entry, group string) bool {
	needle := "cn=" + strings.ToLower(group) + ","
	for _, dn := range entry.GetAttributeValues("memberOf") {
		if strings.Contains(strings.ToLower(dn), needle) {
			return true
		}
	}
	return false
}

// ouPath renders the entry's organizational units as a slash separated
// path, topmost unit first.
func ouPath(dn string) string {
	if dn == "" {
		return ""
	}
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return ""
	}

	var parts []string
	for i := len(parsed.RDNs) - 1; i >= 0; i-- {
		for _, attr := range parsed.RDNs[i].Attributes {
			if strings.EqualFold(attr.Type, "ou") {
				parts = append(parts, attr.Value)
			}
		}
	}
	return strings.Join(parts, "/")
}

// guidString decodes the mixed-endian binary objectGUID Active Directory
// stores into its canonical textual form.
func guidString(raw []byte) (string, error) {
	if len(raw) != 16 {
		return "", errors.Errorf(errFmtGUIDLength, len(raw))
	}

	b := make([]byte, 16)
	copy(b, raw)
	b[0], b[1], b[2], b[3] = raw[3], raw[2], raw[1], raw[0]
	b[4], b[5] = raw[5], raw[4]
	b[6], b[7] = raw[7], raw[6]

	id, err := uuid.FromBytes(b)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
