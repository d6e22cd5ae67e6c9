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

package pipeline

import (
	"context"
	"encoding/json"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/document"
	"github.com/orgsync/orgsync/internal/modeller"
	"github.com/orgsync/orgsync/internal/roster"
	"github.com/orgsync/orgsync/internal/transform"
)

// Error strings.
const (
	errLoadRoster   = "cannot load roster document"
	errDecodeRoster = "cannot decode transformed roster"
	errSaveDocument = "cannot save user document"
)

// PrepareCmd models the extracted roster into the target user document.
type PrepareCmd struct {
	File string `help:"Roster blob to model. Defaults to TIMECAMP_USERS_FILE." optional:""`

	fs    afero.Fs
	store blob.Store
}

// Help prints out the help for the prepare command.
func (c *PrepareCmd) Help() string {
	return `
This command reads the extracted roster from the blob store, applies the
transforms configured by TIMECAMP_PREPARE_TRANSFORM_CONFIG, models the
users into groups and roles, and writes the user document the sync
commands consume. Modelling behaviour is controlled entirely by
TIMECAMP_* environment variables; see the project README for the list.

Examples:

  # Model var/users.json into var/timecamp_users.json.
  orgsync prepare

  # Model a roster extracted to a non-standard name.
  orgsync prepare --file var/contractors.json
`
}

// AfterApply binds the filesystem transform configs are read from.
func (c *PrepareCmd) AfterApply() error {
	c.fs = afero.NewOsFs()
	return nil
}

// Run models the roster.
func (c *PrepareCmd) Run(log logging.Logger) error {
	ctx := context.Background()

	p, err := loadProfile()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, c.store, p, log)
	if err != nil {
		return err
	}

	file := c.File
	if file == "" {
		file = p.UsersFile
	}

	// The roster is held as raw JSON values until the transforms have
	// run, so they see the exact shape the extractors wrote.
	var raw struct {
		Users []any `json:"users"`
	}
	if err := store.LoadJSON(ctx, file, &raw); err != nil {
		return errors.Wrap(err, errLoadRoster)
	}

	eng, err := transform.Load(p.PrepareTransformConfig, c.fs, log)
	if err != nil {
		return err
	}
	if out, changed := eng.Apply(raw.Users); changed {
		raw.Users, _ = out.([]any)
		log.Debug("Applied roster transforms")
	}

	r, err := decodeRoster(raw.Users)
	if err != nil {
		return err
	}

	m, err := modeller.New(p, log)
	if err != nil {
		return err
	}
	doc := m.Model(r)
	doc.Sort()

	if err := store.SaveJSON(ctx, document.DefaultName, doc); err != nil {
		return errors.Wrap(err, errSaveDocument)
	}

	log.Info("Wrote user document", "name", document.DefaultName, "users", len(doc))
	return nil
}

// decodeRoster round-trips the transformed user records into the typed
// roster, which re-applies the ingest invariants to anything a transform
// rewrote.
func decodeRoster(users []any) (roster.Document, error) {
	data, err := json.Marshal(users)
	if err != nil {
		return roster.Document{}, errors.Wrap(err, errDecodeRoster)
	}
	var us []roster.User
	if err := json.Unmarshal(data, &us); err != nil {
		return roster.Document{}, errors.Wrap(err, errDecodeRoster)
	}
	return roster.Document{Users: us}, nil
}
