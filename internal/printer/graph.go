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

package printer

import (
	"io"

	"github.com/emicklei/dot"
	"github.com/pkg/errors"

	"github.com/orgsync/orgsync/internal/document"
)

const errWriteGraph = "cannot write DOT graph"

// A GraphPrinter renders the group hierarchy as a Graphviz digraph in
// DOT form, ready to pipe into dot(1).
type GraphPrinter struct{}

var _ Printer = (*GraphPrinter)(nil)

// Print writes the DOT form of the document's group tree to w.
func (p *GraphPrinter) Print(w io.Writer, doc document.Document) error {
	root := buildTree(doc)

	g := dot.NewGraph(dot.Directed)
	trunk := g.Node("/")
	trunk.Label("(root group)" + root.suffix())
	trunk.Attr("penwidth", "2")
	addBranch(g, trunk, root, "")

	_, err := io.WriteString(w, g.String())
	return errors.Wrap(err, errWriteGraph)
}

// addBranch adds one node per group and an edge from its parent,
// walking children in name order so the output is stable. Node ids are
// slash prefixed breadcrumbs, which keeps them unique across levels.
func addBranch(g *dot.Graph, parent dot.Node, grp *group, path string) {
	for _, child := range grp.sortedChildren() {
		id := path + "/" + child.name
		n := g.Node(id)
		n.Label(child.name + child.suffix())
		n.Attr("penwidth", "2")
		g.Edge(parent, n)
		addBranch(g, n, child, id)
	}
}
