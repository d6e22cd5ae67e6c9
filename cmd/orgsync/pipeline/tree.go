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

	"github.com/alecthomas/kong"
	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/blob"
	"github.com/orgsync/orgsync/internal/document"
	"github.com/orgsync/orgsync/internal/printer"
)

// DisplayTreeCmd renders the user document as a group tree.
type DisplayTreeCmd struct {
	File     string `help:"Document blob to render. Defaults to the standard document name." optional:""`
	Detailed bool   `help:"List the users of every group below the tree."`
	Format   string `default:"tree" enum:"tree,dot" help:"Output format. One of tree or dot."`

	store blob.Store
}

// Help prints out the help for the display-tree command.
func (c *DisplayTreeCmd) Help() string {
	return `
This command renders the group structure of the user document written by
prepare. It reads only the blob store and never talks to the target, so
it works without target credentials.

Examples:

  # Print the tree with per-group user counts.
  orgsync display-tree

  # Also list every user under their group.
  orgsync display-tree --detailed

  # Emit a DOT graph for graphviz.
  orgsync display-tree --format dot | dot -Tsvg > tree.svg
`
}

// Run renders the document to stdout.
func (c *DisplayTreeCmd) Run(k *kong.Context, log logging.Logger) error {
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
		file = document.DefaultName
	}
	var doc document.Document
	if err := store.LoadJSON(ctx, file, &doc); err != nil {
		return errors.Wrap(err, errLoadDocument)
	}

	var pr printer.Printer = &printer.TreePrinter{Detailed: c.Detailed}
	if c.Format == "dot" {
		pr = &printer.GraphPrinter{}
	}
	return pr.Print(k.Stdout, doc)
}
