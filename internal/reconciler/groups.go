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

package reconciler

import (
	"context"
	"sort"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/orgsync/orgsync/internal/document"
	"github.com/orgsync/orgsync/internal/target"
)

const errFmtAddGroup = "cannot create group %q"

// A childKey addresses one group by its parent and trimmed name, the
// pair the walk uses to reuse existing siblings.
type childKey struct {
	parent target.ID
	name   string
}

// A tree indexes the target's group hierarchy two ways: by full path
// relative to the root group, and by (parent, name) pairs. Paths the
// walk could not create (dry runs, creation disabled) carry synthetic
// negative ids so deeper segments still resolve against the index.
type tree struct {
	root      target.ID
	byPath    map[string]target.ID
	child     map[childKey]target.ID
	synthetic target.ID
}

func newTree(root target.ID) *tree {
	return &tree{
		root:   root,
		byPath: map[string]target.ID{},
		child:  map[childKey]target.ID{},
	}
}

// lookup resolves a breadcrumb to a real group id. The empty breadcrumb
// is the root group; synthetic ids and unindexed paths do not resolve.
func (t *tree) lookup(path string) (target.ID, bool) {
	if path == "" {
		return t.root, true
	}
	id, ok := t.byPath[path]
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// placeholder reserves the next synthetic id for a group that was not
// created.
func (t *tree) placeholder() target.ID {
	t.synthetic--
	return t.synthetic
}

// loadTree fetches the account's groups and indexes them. Groups outside
// the root group's subtree keep their (parent, name) entry but have no
// breadcrumb path.
func (r *Reconciler) loadTree(ctx context.Context) (*tree, error) {
	groups, err := r.api.ListGroups(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errListGroups)
	}

	t := newTree(r.root())
	byID := make(map[target.ID]target.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	for _, g := range groups {
		t.child[childKey{parent: g.ParentID, name: strings.TrimSpace(g.Name)}] = g.ID
		if path, ok := relativePath(byID, g, t.root); ok {
			t.byPath[path] = g.ID
		}
	}
	return t, nil
}

// relativePath walks g's ancestry up to the root group and joins the
// trimmed names below it. Groups that are not descendants of the root,
// and the root itself, have no relative path.
func relativePath(byID map[target.ID]target.Group, g target.Group, root target.ID) (string, bool) {
	if g.ID == root {
		return "", false
	}
	var parts []string
	seen := map[target.ID]bool{}
	for {
		if seen[g.ID] {
			return "", false
		}
		seen[g.ID] = true
		parts = append(parts, strings.TrimSpace(g.Name))
		if g.ParentID == root {
			break
		}
		parent, ok := byID[g.ParentID]
		if !ok {
			return "", false
		}
		g = parent
	}
	reverse(parts)
	return strings.Join(parts, "/"), true
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// requiredPaths returns every group path implied by the document's
// active users, including all ancestor prefixes, ordered parents before
// children. Inactive users contribute nothing, so their groups can
// later be swept when empty.
func requiredPaths(doc document.Document) []string {
	set := doc.ActivePaths()
	for p := range set {
		for {
			i := strings.LastIndex(p, "/")
			if i < 0 {
				break
			}
			p = p[:i]
			set[p] = true
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := strings.Count(out[i], "/"), strings.Count(out[j], "/")
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}

// ensureGroups walks every required path segment by segment, reusing
// same-name siblings under the current parent and creating what is
// missing. Creation is strictly top-down; a child is never attempted
// before its parent's id is known.
func (r *Reconciler) ensureGroups(ctx context.Context, t *tree, doc document.Document) error {
	for _, path := range requiredPaths(doc) {
		if _, ok := t.byPath[path]; ok {
			continue
		}
		parent := t.root
		walked := ""
		for _, part := range strings.Split(path, "/") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if walked == "" {
				walked = part
			} else {
				walked += "/" + part
			}
			if id, ok := t.child[childKey{parent: parent, name: part}]; ok {
				t.byPath[walked] = id
				parent = id
				continue
			}
			id, err := r.createGroup(ctx, t, part, parent)
			if err != nil {
				return err
			}
			t.byPath[walked] = id
			t.child[childKey{parent: parent, name: part}] = id
			parent = id
		}
	}
	return nil
}

func (r *Reconciler) createGroup(ctx context.Context, t *tree, name string, parent target.ID) (target.ID, error) {
	switch {
	case r.dryRun:
		r.log.Info("[DRY RUN] Would create group", "name", name, "parent", parent.String())
		return t.placeholder(), nil
	case r.profile.DisableGroupsCreation:
		r.log.Info("Skipping group creation; creation is disabled", "name", name, "parent", parent.String())
		return t.placeholder(), nil
	}

	id, err := r.api.AddGroup(ctx, name, parent)
	if err != nil {
		return 0, errors.Wrapf(err, errFmtAddGroup, name)
	}
	r.log.Info("Created group", "name", name, "id", id.String(), "parent", parent.String())
	return id, nil
}
