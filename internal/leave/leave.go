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

// Package leave syncs approved absence windows from the vacation document
// into the target's attendance calendar. Entries that cannot be resolved
// to a target user and day type are logged and skipped; the run never
// fails on a single entry.
package leave

import (
	"context"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/config"
	"github.com/orgsync/orgsync/internal/target"
	"github.com/orgsync/orgsync/internal/vacation"
)

// Error strings.
const (
	errLoadVacation = "cannot load vacation document"
	errListDayTypes = "cannot list day types"
	errListUsers    = "cannot list users"
)

// vacationKeyword marks day types that consume vacation allowance.
const vacationKeyword = "vacation"

// A Service is the slice of the target API the leave sync drives.
// *target.Client implements it; tests substitute a fake.
type Service interface {
	DayTypes(ctx context.Context) (map[string]target.DayType, error)
	ListUsers(ctx context.Context) ([]target.User, error)
	AddVacation(ctx context.Context, userID target.ID, v target.Vacation) error
}

var _ Service = (*target.Client)(nil)

// A Syncer records vacation entries as attendance days on the target.
type Syncer struct {
	api     Service
	store   blob.Store
	profile config.Profile

	file   string
	log    logging.Logger
	dryRun bool
}

// An Option configures a Syncer.
type Option func(*Syncer)

// WithLogger configures how a Syncer logs.
func WithLogger(l logging.Logger) Option {
	return func(s *Syncer) {
		s.log = l
	}
}

// WithDryRun makes the Syncer log every intended mutation with a
// [DRY RUN] prefix instead of issuing it.
func WithDryRun(dry bool) Option {
	return func(s *Syncer) {
		s.dryRun = dry
	}
}

// WithVacationFile overrides the vacation blob name to read.
func WithVacationFile(name string) Option {
	return func(s *Syncer) {
		if name != "" {
			s.file = name
		}
	}
}

// New returns a Syncer that records the vacation document against the
// supplied service.
func New(api Service, store blob.Store, p config.Profile, opts ...Option) *Syncer {
	s := &Syncer{
		api:     api,
		store:   store,
		profile: p,
		file:    vacation.DefaultFile,
		log:     logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run reads the vacation document and records each resolvable entry. An
// entry resolves when its email matches a target user and its leave type
// names a target day type; anything else is logged and skipped. A failed
// recording abandons that entry only.
func (s *Syncer) Run(ctx context.Context) error {
	var doc vacation.Document
	if err := s.store.LoadJSON(ctx, s.file, &doc); err != nil {
		return errors.Wrap(err, errLoadVacation)
	}

	dayTypes, err := s.api.DayTypes(ctx)
	if err != nil {
		return errors.Wrap(err, errListDayTypes)
	}
	typeIDByName := make(map[string]string, len(dayTypes))
	dayOff := make(map[string]bool, len(dayTypes))
	for _, dt := range dayTypes {
		typeIDByName[dt.Name] = dt.ID.String()
		dayOff[dt.ID.String()] = dt.IsDayOff
	}

	users, err := s.api.ListUsers(ctx)
	if err != nil {
		return errors.Wrap(err, errListUsers)
	}
	idByEmail := make(map[string]target.ID, len(users))
	for _, u := range users {
		idByEmail[strings.ToLower(u.Email)] = u.ID
	}

	recorded, skipped, failed := 0, 0, 0
	for _, entry := range doc.Vacation {
		userID, knownUser := idByEmail[strings.ToLower(entry.Email)]
		typeID := typeIDByName[entry.LeaveType]

		if !entry.Complete() || !knownUser || typeID == "" {
			s.log.Info("Skipping unresolvable vacation entry",
				"email", entry.Email, "start", entry.StartOn, "finish", entry.FinishOn, "leaveType", entry.LeaveType)
			skipped++
			continue
		}

		v := target.Vacation{
			Start:     entry.StartOn,
			End:       entry.FinishOn,
			DayTypeID: typeID,
		}
		if !dayOff[typeID] {
			v.ShouldBe = s.profile.LeaveShouldBeMinutes
		}
		if strings.Contains(strings.ToLower(entry.LeaveType), vacationKeyword) {
			v.VacationTime = s.profile.LeaveVacationMinutes
		}

		if s.dryRun {
			s.log.Info("[DRY RUN] Would record absence",
				"email", entry.Email, "start", entry.StartOn, "finish", entry.FinishOn, "leaveType", entry.LeaveType)
			recorded++
			continue
		}

		if err := s.api.AddVacation(ctx, userID, v); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Info("Cannot record absence; continuing", "email", entry.Email, "error", err)
			failed++
			continue
		}
		s.log.Info("Recorded absence",
			"email", entry.Email, "start", entry.StartOn, "finish", entry.FinishOn, "leaveType", entry.LeaveType)
		recorded++
	}

	s.log.Info("Leave sync complete", "recorded", recorded, "skipped", skipped, "failed", failed)
	return nil
}
