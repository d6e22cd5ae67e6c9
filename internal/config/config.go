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

// Package config loads the run profile from the environment. The profile
// is read once at command start-up and is immutable afterwards; every
// knob of the pipeline lives here so that behaviour is reproducible from
// the environment alone.
package config

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/orgsync/orgsync/internal/xerrors"
)

// Error strings.
const (
	errMissingAPIKey      = "missing TIMECAMP_API_KEY"
	errMissingRootGroup   = "missing or invalid TIMECAMP_ROOT_GROUP_ID"
	errMissingS3Bucket    = "use_s3_storage is enabled but S3_BUCKET_NAME is unset"
	errFmtInvalidUserList = "cannot parse ignored user ids"
)

// Defaults applied when a variable is unset.
const (
	DefaultDomain       = "app.timecamp.com"
	DefaultUsersFile    = "var/users.json"
	DefaultLeaveMinutes = 480
)

// A Mode selects how group breadcrumbs are derived from the roster.
type Mode int

// Modelling modes.
const (
	// ModeDepartment derives breadcrumbs from the department path alone.
	ModeDepartment Mode = iota

	// ModeSupervisor derives breadcrumbs from the supervisor chain alone.
	ModeSupervisor

	// ModeHybrid nests a supervisor group under the department path.
	ModeHybrid
)

// String returns a human readable name for the mode.
func (m Mode) String() string {
	switch m {
	case ModeSupervisor:
		return "supervisor"
	case ModeHybrid:
		return "hybrid"
	}
	return "department"
}

// A Profile is the immutable run configuration. Fields map one-to-one
// onto environment variables; see FromEnv for names and defaults.
type Profile struct {
	// Target API access.
	APIKey    string
	Domain    string
	SSLVerify bool

	// RootGroupID is the target tree node the reconciler operates under.
	RootGroupID int

	// IgnoredUserIDs are target-side user ids the reconciler never
	// touches, in any pass.
	IgnoredUserIDs map[int]bool

	// Organisation modelling.
	SkipDepartments       string
	ChangeGroupsRegex     string
	ExcludeRegex          string
	ReplaceEmailDomain    string
	ShowExternalID        bool
	UseJobTitleNameUsers  bool
	UseJobTitleNameGroups bool
	UseSupervisorGroups   bool
	UseDepartmentGroups   bool
	UseIsSupervisorRole   bool

	// Reconciler capability gates. Each disables exactly one kind of
	// mutation and nothing else.
	DisableGroupsCreation      bool
	DisableGroupUpdates        bool
	DisableRoleUpdates         bool
	DisableAdditionalEmailSync bool
	DisableExternalIDSync      bool
	DisableManualUserUpdates   bool
	DisableNewUsers            bool
	DisableUserDeactivation    bool

	// DisabledUsersGroupID, when non-zero, receives deactivated users.
	DisabledUsersGroupID int

	// UpdateEmailOnExternalIDMatch updates the target email in place
	// when an external id matches a user whose email changed, instead
	// of creating a duplicate account.
	UpdateEmailOnExternalIDMatch bool

	// PrepareTransformConfig is inline JSON/YAML, or a path to a file,
	// describing roster transforms applied before modelling.
	PrepareTransformConfig string

	// UsersFile is the roster blob name within the blob store.
	UsersFile string

	// Blob store selection.
	UseS3Storage     bool
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3PathPrefix     string
	S3ForcePathStyle bool

	// Leave sync day values, in minutes.
	LeaveShouldBeMinutes int
	LeaveVacationMinutes int
}

// FromEnv assembles a Profile from the process environment. Unset
// variables take their documented defaults; malformed values are Config
// errors and fatal before any work is attempted.
func FromEnv() (Profile, error) {
	p := Profile{
		APIKey:                 GetString("TIMECAMP_API_KEY", ""),
		Domain:                 GetString("TIMECAMP_DOMAIN", DefaultDomain),
		SkipDepartments:        strings.TrimSpace(GetString("TIMECAMP_SKIP_DEPARTMENTS", "")),
		ChangeGroupsRegex:      GetString("TIMECAMP_CHANGE_GROUPS_REGEX", ""),
		ExcludeRegex:           GetString("TIMECAMP_EXCLUDE_REGEX", ""),
		ReplaceEmailDomain:     GetString("TIMECAMP_REPLACE_EMAIL_DOMAIN", ""),
		PrepareTransformConfig: GetString("TIMECAMP_PREPARE_TRANSFORM_CONFIG", ""),
		UsersFile:              GetString("TIMECAMP_USERS_FILE", DefaultUsersFile),
		S3Bucket:               GetString("S3_BUCKET_NAME", ""),
		S3Region:               GetString("S3_REGION", ""),
		S3Endpoint:             GetString("S3_ENDPOINT_URL", ""),
		S3AccessKey:            GetString("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:            GetString("S3_SECRET_ACCESS_KEY", ""),
		S3PathPrefix:           GetString("S3_PATH_PREFIX", ""),
	}

	bools := []struct {
		key  string
		def  bool
		into *bool
	}{
		{"TIMECAMP_SSL_VERIFY", true, &p.SSLVerify},
		{"TIMECAMP_SHOW_EXTERNAL_ID", true, &p.ShowExternalID},
		{"TIMECAMP_USE_JOB_TITLE_NAME_USERS", false, &p.UseJobTitleNameUsers},
		{"TIMECAMP_USE_JOB_TITLE_NAME_GROUPS", false, &p.UseJobTitleNameGroups},
		{"TIMECAMP_USE_SUPERVISOR_GROUPS", false, &p.UseSupervisorGroups},
		{"TIMECAMP_USE_DEPARTMENT_GROUPS", false, &p.UseDepartmentGroups},
		{"TIMECAMP_USE_IS_SUPERVISOR_ROLE", false, &p.UseIsSupervisorRole},
		{"TIMECAMP_DISABLE_GROUPS_CREATION", false, &p.DisableGroupsCreation},
		{"TIMECAMP_DISABLE_GROUP_UPDATES", false, &p.DisableGroupUpdates},
		{"TIMECAMP_DISABLE_ROLE_UPDATES", false, &p.DisableRoleUpdates},
		{"TIMECAMP_DISABLE_ADDITIONAL_EMAIL_SYNC", false, &p.DisableAdditionalEmailSync},
		{"TIMECAMP_DISABLE_EXTERNAL_ID_SYNC", false, &p.DisableExternalIDSync},
		{"TIMECAMP_DISABLE_MANUAL_USER_UPDATES", false, &p.DisableManualUserUpdates},
		{"TIMECAMP_DISABLE_NEW_USERS", false, &p.DisableNewUsers},
		{"TIMECAMP_DISABLE_USER_DEACTIVATION", false, &p.DisableUserDeactivation},
		{"TIMECAMP_UPDATE_EMAIL_ON_EXTERNAL_ID", false, &p.UpdateEmailOnExternalIDMatch},
		{"USE_S3_STORAGE", false, &p.UseS3Storage},
		{"S3_FORCE_PATH_STYLE", true, &p.S3ForcePathStyle},
	}
	for _, b := range bools {
		v, err := GetBool(b.key, b.def)
		if err != nil {
			return Profile{}, err
		}
		*b.into = v
	}

	ints := []struct {
		key  string
		def  int
		into *int
	}{
		{"TIMECAMP_ROOT_GROUP_ID", 0, &p.RootGroupID},
		{"TIMECAMP_DISABLED_USERS_GROUP_ID", 0, &p.DisabledUsersGroupID},
		{"TIMECAMP_LEAVE_SHOULD_BE_MINUTES", DefaultLeaveMinutes, &p.LeaveShouldBeMinutes},
		{"TIMECAMP_LEAVE_VACATION_MINUTES", DefaultLeaveMinutes, &p.LeaveVacationMinutes},
	}
	for _, i := range ints {
		v, err := GetInt(i.key, i.def)
		if err != nil {
			return Profile{}, err
		}
		*i.into = v
	}

	ids, err := parseIntSet(GetString("TIMECAMP_IGNORED_USER_IDS", ""))
	if err != nil {
		return Profile{}, xerrors.Wrap(errors.Wrap(err, errFmtInvalidUserList), xerrors.Config, "TIMECAMP_IGNORED_USER_IDS")
	}
	p.IgnoredUserIDs = ids

	return p, nil
}

// Mode returns the modelling mode selected by the group knobs.
func (p Profile) Mode() Mode {
	switch {
	case p.UseSupervisorGroups && p.UseDepartmentGroups:
		return ModeHybrid
	case p.UseSupervisorGroups:
		return ModeSupervisor
	default:
		return ModeDepartment
	}
}

// BaseURL returns the target API root for the configured domain. Domains
// that already carry a scheme are used as-is, so plain-HTTP staging
// targets work too.
func (p Profile) BaseURL() string {
	domain := strings.TrimRight(p.Domain, "/")
	if strings.Contains(domain, "://") {
		return domain + "/third_party/api"
	}
	return "https://" + domain + "/third_party/api"
}

// IsIgnored reports whether the reconciler must never touch the supplied
// target user id.
func (p Profile) IsIgnored(userID int) bool {
	return p.IgnoredUserIDs[userID]
}

// Validate checks the parts of the profile every command depends on.
// Target API credentials are checked separately by ValidateTarget so that
// local-only commands run without them.
func (p Profile) Validate() error {
	if p.ExcludeRegex != "" {
		if _, err := regexp.Compile(p.ExcludeRegex); err != nil {
			return xerrors.Wrap(err, xerrors.Config, "TIMECAMP_EXCLUDE_REGEX")
		}
	}
	if p.UseS3Storage && p.S3Bucket == "" {
		return xerrors.New(xerrors.Config, errMissingS3Bucket)
	}
	return nil
}

// ValidateTarget checks the credentials required to talk to the target
// API. Called by every command that reads or mutates the target account.
func (p Profile) ValidateTarget() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.APIKey == "" {
		return xerrors.New(xerrors.Config, errMissingAPIKey)
	}
	if p.RootGroupID <= 0 {
		return xerrors.New(xerrors.Config, errMissingRootGroup)
	}
	return nil
}

// CompileExcludeRegex compiles the exclusion pattern, or returns nil when
// none is configured.
func (p Profile) CompileExcludeRegex() (*regexp.Regexp, error) {
	if p.ExcludeRegex == "" {
		return nil, nil
	}
	re, err := regexp.Compile(p.ExcludeRegex)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.Config, "TIMECAMP_EXCLUDE_REGEX")
	}
	return re, nil
}

func parseIntSet(raw string) (map[int]bool, error) {
	out := map[int]bool{}
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, err := strconv.Atoi(tok)
		if err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, nil
}
