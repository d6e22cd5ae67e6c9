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

// Package modeller implements the organisation modelling stage: it derives
// the canonical target user list from a roster. Group breadcrumbs follow
// the configured mode (department paths, the supervisor reporting chain,
// or a hybrid of the two), display names and roles are resolved here, and
// the result is a sorted document the reconcilers consume as-is.
//
// Modelling is pure. The same roster and profile always produce the same
// document, byte for byte.
package modeller

import (
	"regexp"
	"sort"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/config"
	"github.com/orgsync/orgsync/internal/document"
	"github.com/orgsync/orgsync/internal/names"
	"github.com/orgsync/orgsync/internal/roster"
)

// A Modeller maps roster users onto target accounts. Construct with New;
// the zero Modeller is not usable.
type Modeller struct {
	mode                config.Mode
	userFormat          names.Format
	groupFormat         names.Format
	skipPrefixes        string
	rewrites            names.RewriteRules
	exclude             *regexp.Regexp
	emailDomain         string
	useIsSupervisorRole bool
	log                 logging.Logger
}

// New assembles a Modeller from the run profile. The exclusion pattern is
// compiled once here; an invalid pattern is a Config error.
func New(p config.Profile, log logging.Logger) (*Modeller, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	exclude, err := p.CompileExcludeRegex()
	if err != nil {
		return nil, err
	}
	return &Modeller{
		mode:                p.Mode(),
		userFormat:          names.Format{UseJobTitle: p.UseJobTitleNameUsers, ShowExternalID: p.ShowExternalID},
		groupFormat:         names.Format{UseJobTitle: p.UseJobTitleNameGroups, ShowExternalID: p.ShowExternalID},
		skipPrefixes:        p.SkipDepartments,
		rewrites:            names.ParseRewriteRules(p.ChangeGroupsRegex, log),
		exclude:             exclude,
		emailDomain:         p.ReplaceEmailDomain,
		useIsSupervisorRole: p.UseIsSupervisorRole,
		log:                 log,
	}, nil
}

// Model builds the target document for the supplied roster. Users without
// an external id cannot be linked to anything and are not modelled;
// duplicate external ids collapse to the last roster occurrence, duplicate
// emails likewise. Inactive users keep their breadcrumbs so the
// deactivation pass can still locate them. The result is sorted by email.
func (m *Modeller) Model(r roster.Document) document.Document {
	ids := make([]string, 0, len(r.Users))
	byID := make(map[string]roster.User, len(r.Users))
	for _, u := range r.Users {
		if u.ExternalID == "" {
			continue
		}
		if _, seen := byID[u.ExternalID]; !seen {
			ids = append(ids, u.ExternalID)
		}
		byID[u.ExternalID] = u
	}

	// A supervisor is anyone another roster user reports to.
	supervisors := make(map[string]bool)
	killSwitch := false
	for _, u := range r.Users {
		if id := strings.TrimSpace(u.SupervisorID); id != "" {
			supervisors[id] = true
		}
		if u.ForceSupervisorRole.Bool() {
			killSwitch = true
		}
	}
	if killSwitch {
		m.log.Debug("Roster carries forced supervisor roles; derived supervisor roles are disabled")
	}

	var paths map[string]string
	if m.mode != config.ModeDepartment {
		paths = m.supervisorPaths(ids, byID)
	}

	byEmail := make(map[string]document.User, len(ids))
	emails := make([]string, 0, len(ids))
	for _, id := range ids {
		u := byID[id]
		if m.excluded(u) {
			m.log.Debug("Excluding user from target document", "email", u.Email)
			continue
		}
		if _, seen := byEmail[u.Email]; !seen {
			emails = append(emails, u.Email)
		}
		byEmail[u.Email] = m.emit(u, byID, supervisors, paths, killSwitch)
	}

	out := make(document.Document, 0, len(emails))
	for _, email := range emails {
		out = append(out, byEmail[email])
	}
	out.Sort()
	return out
}

// supervisorPaths assigns every supervisor a slash separated path that
// mirrors the reporting chain, top-down: top-level supervisors seed the
// tree and everyone else chains under their own supervisor's path once it
// exists. Supervisors whose supervisor has left the roster are promoted to
// top-level after the chain above them is exhausted. Anything still
// unassigned after that sits on a reporting cycle; the member with the
// lowest external id is promoted so the rest of the chain can resolve.
func (m *Modeller) supervisorPaths(ids []string, byID map[string]roster.User) map[string]string {
	referenced := make(map[string]bool)
	for _, id := range ids {
		if sup := strings.TrimSpace(byID[id].SupervisorID); sup != "" {
			referenced[sup] = true
		}
	}

	order := make([]roster.User, 0, len(referenced))
	for _, id := range ids {
		if referenced[id] {
			order = append(order, byID[id])
		}
	}

	paths := make(map[string]string, len(order))
	for _, s := range order {
		if !s.HasSupervisor() {
			paths[s.ExternalID] = m.groupName(s)
		}
	}

	for {
		for moved := true; moved; {
			moved = false
			for _, s := range order {
				if _, done := paths[s.ExternalID]; done {
					continue
				}
				parent, ok := paths[strings.TrimSpace(s.SupervisorID)]
				if !ok {
					continue
				}
				paths[s.ExternalID] = parent + "/" + m.groupName(s)
				moved = true
			}
		}

		promoted := false
		for _, s := range order {
			if _, done := paths[s.ExternalID]; done {
				continue
			}
			if _, known := byID[strings.TrimSpace(s.SupervisorID)]; known {
				continue
			}
			paths[s.ExternalID] = m.groupName(s)
			promoted = true
		}
		if promoted {
			continue
		}

		var stuck []string
		for _, s := range order {
			if _, done := paths[s.ExternalID]; !done {
				stuck = append(stuck, s.ExternalID)
			}
		}
		if len(stuck) == 0 {
			return paths
		}
		sort.Strings(stuck)
		m.log.Info("Supervisor chain contains a cycle; promoting its first member to top level",
			"members", strings.Join(stuck, ", "), "promoted", stuck[0])
		paths[stuck[0]] = m.groupName(byID[stuck[0]])
	}
}

func (m *Modeller) emit(u roster.User, byID map[string]roster.User, supervisors map[string]bool, paths map[string]string, killSwitch bool) document.User {
	status := document.StatusInactive
	if u.Active() {
		status = document.StatusActive
	}

	tu := document.User{
		ExternalID:       u.ExternalID,
		Name:             names.FormatDisplayName(u.Name, u.JobTitle, u.ExternalID, m.userFormat),
		Email:            names.ReplaceEmailDomain(u.Email, m.emailDomain),
		GroupsBreadcrumb: m.breadcrumb(u, byID, supervisors, paths),
		Status:           status,
		Role:             m.role(u, supervisors, killSwitch),
		RawData:          u.RawData,
	}

	// Global administrators live under the root group wherever the roster
	// places them.
	if u.ForceGlobalAdminRole.Bool() {
		tu.GroupsBreadcrumb = ""
	}

	// The secondary address is only interesting when it differs from the
	// primary before any domain replacement.
	if u.RealEmail != "" && !strings.EqualFold(u.RealEmail, u.Email) {
		tu.RealEmail = names.ReplaceEmailDomain(u.RealEmail, m.emailDomain)
	}
	return tu
}

// breadcrumb derives the raw group path for one user per the modelling
// mode, then normalises it: segment cleanup, prefix strip, rewrite rules.
func (m *Modeller) breadcrumb(u roster.User, byID map[string]roster.User, supervisors map[string]bool, paths map[string]string) string {
	var raw string
	switch m.mode {
	case config.ModeSupervisor:
		raw = m.chainBreadcrumb(u, byID, supervisors, paths)
	case config.ModeHybrid:
		raw = m.hybridBreadcrumb(u, byID, supervisors, paths)
	default:
		raw = u.Department
	}
	return m.rewrites.Apply(names.StripPrefixes(names.CleanPath(raw), m.skipPrefixes))
}

// chainBreadcrumb places a user purely by the reporting chain: supervisors
// at their own path, everyone else at their supervisor's. A user with no
// supervisor and no subordinates lands under the root group.
func (m *Modeller) chainBreadcrumb(u roster.User, byID map[string]roster.User, supervisors map[string]bool, paths map[string]string) string {
	if supervisors[u.ExternalID] {
		return paths[u.ExternalID]
	}
	if !u.HasSupervisor() {
		return ""
	}
	sup := strings.TrimSpace(u.SupervisorID)
	if p, ok := paths[sup]; ok {
		return p
	}
	if s, ok := byID[sup]; ok {
		return m.groupName(s)
	}
	return ""
}

// hybridBreadcrumb nests the supervisor's group under the user's own
// department: the supervisor's bare path component for supervisors, the
// supervisor's group name for their reports. Users without a department
// fall back to the plain reporting chain.
func (m *Modeller) hybridBreadcrumb(u roster.User, byID map[string]roster.User, supervisors map[string]bool, paths map[string]string) string {
	dept := names.CleanPath(u.Department)
	if dept == "" {
		return m.chainBreadcrumb(u, byID, supervisors, paths)
	}
	if supervisors[u.ExternalID] {
		return dept + "/" + lastComponent(paths[u.ExternalID])
	}
	if u.HasSupervisor() {
		if s, ok := byID[strings.TrimSpace(u.SupervisorID)]; ok {
			return dept + "/" + m.groupName(s)
		}
	}
	return dept
}

// role resolves the target role. Forced roles always win; when any roster
// user carries a forced supervisor role, every derived supervisor role is
// suppressed so the forced set is exactly the supervisor set.
func (m *Modeller) role(u roster.User, supervisors map[string]bool, killSwitch bool) string {
	if u.ForceGlobalAdminRole.Bool() {
		return document.RoleAdministrator
	}
	if u.ForceSupervisorRole.Bool() {
		return document.RoleSupervisor
	}
	if killSwitch {
		return document.RoleUser
	}
	if m.useIsSupervisorRole {
		if u.IsSupervisor != nil && u.IsSupervisor.Bool() {
			return document.RoleSupervisor
		}
		return document.RoleUser
	}
	if supervisors[u.ExternalID] {
		return document.RoleSupervisor
	}
	return document.RoleUser
}

// excluded reports whether the exclusion pattern drops the user. The
// candidate string quotes each attribute, so double quotes inside values
// are rewritten to apostrophes before matching.
func (m *Modeller) excluded(u roster.User) bool {
	if m.exclude == nil {
		return false
	}
	return m.exclude.MatchString(excludeCandidate(u))
}

func excludeCandidate(u roster.User) string {
	esc := func(v string) string { return strings.ReplaceAll(v, `"`, "'") }
	return `department="` + esc(u.Department) + `" job_title="` + esc(u.JobTitle) + `" email="` + esc(u.Email) + `"`
}

func (m *Modeller) groupName(u roster.User) string {
	return names.FormatGroupName(u.Name, u.JobTitle, u.ExternalID, m.groupFormat)
}

func lastComponent(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
