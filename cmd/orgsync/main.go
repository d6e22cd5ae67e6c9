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

// Package main implements orgsync, the identity synchronization CLI.
package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/cmd/orgsync/fetch"
	"github.com/orgsync/orgsync/cmd/orgsync/pipeline"
	"github.com/orgsync/orgsync/cmd/orgsync/version"
	logzap "github.com/orgsync/orgsync/internal/log/zap"
)

var _ = kong.Must(&cli{})

// The top-level orgsync CLI.
type cli struct {
	// Subcommands and flags will appear in the CLI help output in the
	// same order they're specified here.
	Prepare           pipeline.PrepareCmd           `cmd:"" help:"Model the extracted roster into the target user document."`
	SyncUsers         pipeline.SyncUsersCmd         `cmd:"" help:"Reconcile the target account against the user document."`
	RemoveEmptyGroups pipeline.RemoveEmptyGroupsCmd `cmd:"" help:"Delete target groups no active user needs."`
	DisplayTree       pipeline.DisplayTreeCmd       `cmd:"" help:"Print the group tree of the user document."`
	SyncTimeOff       pipeline.SyncTimeOffCmd       `cmd:"" help:"Record approved leave in the target attendance calendar."`
	Fetch             fetch.Cmd                     `cmd:"" help:"Extract a roster or vacation document from a source."`
	Version           version.Cmd                   `cmd:"" help:"Print the orgsync version."`

	// Flags.
	Debug bool `env:"ORGSYNC_DEBUG" help:"Run with debug logging." short:"d"`
}

func main() {
	c := &cli{}
	parser := kong.Must(c,
		kong.Name("orgsync"),
		kong.Description("Synchronizes people, groups, and leave from HR and directory sources into the target workspace."),
		// Binding a logger to the kong context makes it available to all
		// commands at runtime. Rebound after parsing, once the debug flag
		// is known.
		kong.BindTo(logging.NewNopLogger(), (*logging.Logger)(nil)),
		kong.ConfigureHelp(kong.HelpOptions{
			FlagsLast:      true,
			Compact:        true,
			WrapUpperBound: 80,
		}),
		kong.UsageOnError())

	kongCtx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	logger := logging.NewLogrLogger(logzap.NewLogger(c.Debug)).WithValues("run_id", uuid.NewString())
	kongCtx.BindTo(logger, (*logging.Logger)(nil))

	kongCtx.FatalIfErrorf(kongCtx.Run())
}
