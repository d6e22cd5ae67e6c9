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

// Package pipeline implements the orgsync pipeline stages as CLI
// commands: modelling the roster into the user document, reconciling
// the target account, sweeping empty groups, rendering the document,
// and recording leave. Every stage reads its knobs from the process
// environment; flags only select files and dry runs.
package pipeline

import (
	"context"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/config"
)

// loadProfile reads the run profile from the environment and validates
// the parts every command depends on.
func loadProfile() (config.Profile, error) {
	p, err := config.FromEnv()
	if err != nil {
		return config.Profile{}, err
	}
	return p, p.Validate()
}

// openStore returns the blob store the profile selects, unless a test
// already injected one.
func openStore(ctx context.Context, override blob.Store, p config.Profile, log logging.Logger) (blob.Store, error) {
	if override != nil {
		return override, nil
	}
	return blob.FromProfile(ctx, p, log)
}
