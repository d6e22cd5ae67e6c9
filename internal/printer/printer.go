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

// Package printer renders the modelled user document for humans: an
// ASCII tree of the group hierarchy under a statistics summary, and the
// same hierarchy as a Graphviz digraph. Printers read the document
// alone and never call the target.
package printer

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/orgsync/orgsync/internal/document"
)

// A Printer renders a modelled user document.
type Printer interface {
	Print(w io.Writer, doc document.Document) error
}

// A group is one node of the breadcrumb hierarchy. Counts cover active
// users assigned directly to the group, not to its subgroups.
type group struct {
	name        string
	children    map[string]*group
	users       int
	supervisors int
}

func newGroup(name string) *group {
	return &group{name: name, children: map[string]*group{}}
}

// buildTree folds the breadcrumbs of all active users into a group
// hierarchy. Users without a breadcrumb are counted on the root itself.
func buildTree(doc document.Document) *group {
	root := newGroup("")
	for _, u := range doc {
		if !u.Active() {
			continue
		}
		n := root
		if u.GroupsBreadcrumb != "" {
			for _, name := range strings.Split(u.GroupsBreadcrumb, "/") {
				child, ok := n.children[name]
				if !ok {
					child = newGroup(name)
					n.children[name] = child
				}
				n = child
			}
		}
		n.users++
		if u.Role == document.RoleSupervisor {
			n.supervisors++
		}
	}
	return root
}

// sortedChildren returns the direct subgroups in name order.
func (g *group) sortedChildren() []*group {
	names := make([]string, 0, len(g.children))
	for name := range g.children {
		names = append(names, name)
	}
	sort.Strings(names)

	children := make([]*group, len(names))
	for i, name := range names {
		children[i] = g.children[name]
	}
	return children
}

// count returns the number of groups below g.
func (g *group) count() int {
	n := len(g.children)
	for _, child := range g.children {
		n += child.count()
	}
	return n
}

// depth returns the number of group levels below g.
func (g *group) depth() int {
	deepest := 0
	for _, child := range g.children {
		if d := child.depth() + 1; d > deepest {
			deepest = d
		}
	}
	return deepest
}

// suffix renders the user count appended to a group's tree line and
// graph label. Groups that only hold subgroups get no suffix.
func (g *group) suffix() string {
	if g.users == 0 {
		return ""
	}
	s := " (" + plural(g.users, "user")
	if g.supervisors > 0 {
		s += ", " + plural(g.supervisors, "supervisor")
	}
	return s + ")"
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
