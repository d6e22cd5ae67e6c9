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
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/orgsync/orgsync/internal/document"
)

// A TreePrinter renders the group hierarchy as an ASCII tree under a
// statistics header.
type TreePrinter struct {
	// Detailed additionally lists every user beneath their group, with
	// role and status markers.
	Detailed bool
}

var _ Printer = (*TreePrinter)(nil)

// Print writes the statistics block and the group tree to w.
func (p *TreePrinter) Print(w io.Writer, doc document.Document) error {
	root := buildTree(doc)
	ew := &errWriter{w: w}

	printStats(ew, doc, root)

	ew.printf("\nGroup structure\n")
	ew.printf("(root group)%s\n", root.suffix())
	printBranch(ew, root, "")

	if p.Detailed {
		printUsers(ew, doc)
	}
	return ew.err
}

func printStats(ew *errWriter, doc document.Document, root *group) {
	var active, supervisors, regular int
	for _, u := range doc {
		if !u.Active() {
			continue
		}
		active++
		switch u.Role {
		case document.RoleSupervisor:
			supervisors++
		case document.RoleUser:
			regular++
		}
	}

	ew.printf("Statistics\n")
	ew.printf("  total users:   %d\n", len(doc))
	ew.printf("  active users:  %d\n", active)
	ew.printf("  supervisors:   %d\n", supervisors)
	ew.printf("  regular users: %d\n", regular)
	if n := root.count(); n > 0 {
		ew.printf("  groups:        %d (max depth %d)\n", n, root.depth())
	} else {
		ew.printf("  groups:        0\n")
	}
}

// printBranch renders the children of g with box drawing connectors,
// recursing with the prefix the connectors established.
func printBranch(ew *errWriter, g *group, prefix string) {
	children := g.sortedChildren()
	for i, child := range children {
		connector, indent := "├── ", "│   "
		if i == len(children)-1 {
			connector, indent = "└── ", "    "
		}
		ew.printf("%s%s%s%s\n", prefix, connector, child.name, child.suffix())
		printBranch(ew, child, prefix+indent)
	}
}

// printUsers lists every user in the document beneath their group,
// inactive users included.
func printUsers(ew *errWriter, doc document.Document) {
	byGroup := map[string][]document.User{}
	for _, u := range doc {
		byGroup[u.GroupsBreadcrumb] = append(byGroup[u.GroupsBreadcrumb], u)
	}

	paths := make([]string, 0, len(byGroup))
	for path := range byGroup {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	ew.printf("\nUsers\n")
	for _, path := range paths {
		name := path
		if name == "" {
			name = "(root group)"
		}
		ew.printf("  %s\n", name)

		users := byGroup[path]
		sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
		for _, u := range users {
			ew.printf("    %s\n", userLine(u))
		}
	}
}

// userLine renders one user with their role and status markers.
func userLine(u document.User) string {
	line := fmt.Sprintf("%s <%s>", u.Name, u.Email)
	if u.RealEmail != "" && u.RealEmail != u.Email {
		line += fmt.Sprintf(" [real: %s]", u.RealEmail)
	}

	marks := make([]string, 0, 2)
	if u.Role != "" && u.Role != document.RoleUser {
		marks = append(marks, u.Role)
	}
	if !u.Active() {
		marks = append(marks, document.StatusInactive)
	}
	if len(marks) > 0 {
		line += " (" + strings.Join(marks, ", ") + ")"
	}
	return line
}

// An errWriter carries the first write error past subsequent prints.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
