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

// Package blob persists the JSON documents the pipeline stages hand to
// each other: the roster, the target document, and the vacation blob.
// Backends are the local filesystem and S3-compatible object stores; no
// other package touches a storage SDK.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/spf13/afero"

	"github.com/orgsync/orgsync/internal/config"
)

// Error strings.
const (
	errEncodeJSON = "cannot encode document"
	errDecodeJSON = "cannot decode document"

	errFmtWrite = "cannot write blob %q"
	errFmtRead  = "cannot read blob %q"
)

// A Store saves and loads named JSON documents. LoadJSON returns an error
// satisfying errors.Is(err, fs.ErrNotExist) when the blob is absent.
type Store interface {
	SaveJSON(ctx context.Context, name string, v any) error
	LoadJSON(ctx context.Context, name string, into any) error
	Exists(ctx context.Context, name string) (bool, error)
}

// FromProfile returns the store the profile selects: S3 when
// use_s3_storage is set, the local filesystem otherwise.
func FromProfile(ctx context.Context, p config.Profile, log logging.Logger) (Store, error) {
	if p.UseS3Storage {
		return NewS3(ctx, p, log)
	}
	return NewFS(afero.NewOsFs(), log), nil
}

// encode renders v the way every blob is written: two-space indent, HTML
// escaping off so non-ASCII and URLs survive verbatim, trailing newline.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, errEncodeJSON)
	}
	return buf.Bytes(), nil
}

// An FS stores blobs on a filesystem, with names relative to the working
// directory. Writes go to a temporary file first so a reader never
// observes a torn document.
type FS struct {
	fs  afero.Fs
	log logging.Logger
}

// NewFS returns a filesystem-backed store.
func NewFS(afs afero.Fs, log logging.Logger) *FS {
	return &FS{fs: afs, log: log}
}

// SaveJSON implements Store.
func (s *FS) SaveJSON(_ context.Context, name string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(name); dir != "." && dir != "" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, errFmtWrite, name)
		}
	}

	tmp := name + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, errFmtWrite, name)
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		return errors.Wrapf(err, errFmtWrite, name)
	}

	s.log.Debug("Saved blob to local storage", "name", name, "bytes", len(data))
	return nil
}

// LoadJSON implements Store.
func (s *FS) LoadJSON(_ context.Context, name string, into any) error {
	data, err := afero.ReadFile(s.fs, name)
	if err != nil {
		return errors.Wrapf(err, errFmtRead, name)
	}
	return errors.Wrap(json.Unmarshal(data, into), errDecodeJSON)
}

// Exists implements Store.
func (s *FS) Exists(_ context.Context, name string) (bool, error) {
	return afero.Exists(s.fs, name)
}

// IsNotExist reports whether the error says the blob is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
