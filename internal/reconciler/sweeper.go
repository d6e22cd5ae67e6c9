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

	"github.com/orgsync/orgsync/internal/target"
)

// SweepEmptyGroups deletes every group that holds no enabled users and
// no child groups. The account root and the configured root group are
// never candidates. Deletion runs deepest-first in a single pass; a
// parent emptied by this sweep is picked up by the next one.
func (r *Reconciler) SweepEmptyGroups(ctx context.Context) error {
	groups, err := r.api.ListGroups(ctx)
	if err != nil {
		return errors.Wrap(err, errListGroups)
	}
	users, err := r.api.ListUsers(ctx)
	if err != nil {
		return errors.Wrap(err, errListUsers)
	}

	byID := make(map[target.ID]target.Group, len(groups))
	children := map[target.ID]int{}
	for _, g := range groups {
		byID[g.ID] = g
	}
	for _, g := range groups {
		if g.ParentID != 0 {
			children[g.ParentID]++
		}
	}
	occupied := map[target.ID]int{}
	for _, u := range users {
		if u.Enabled {
			occupied[u.GroupID]++
		}
	}

	type candidate struct {
		id   target.ID
		path string
	}
	var empties []candidate
	root := r.root()
	for _, g := range groups {
		if g.ID == root || g.ParentID == 0 {
			continue
		}
		if children[g.ID] > 0 || occupied[g.ID] > 0 {
			continue
		}
		empties = append(empties, candidate{id: g.ID, path: absolutePath(byID, g)})
	}
	sort.Slice(empties, func(i, j int) bool {
		di, dj := strings.Count(empties[i].path, "/"), strings.Count(empties[j].path, "/")
		if di != dj {
			return di > dj
		}
		return empties[i].path < empties[j].path
	})

	for _, e := range empties {
		if r.dryRun {
			r.log.Info("[DRY RUN] Would delete empty group", "path", e.path, "id", e.id.String())
			continue
		}
		if err := r.api.DeleteGroup(ctx, e.id); err != nil {
			r.log.Info("Cannot delete empty group; continuing", "path", e.path, "id", e.id.String(), "error", err)
			continue
		}
		r.log.Info("Deleted empty group", "path", e.path, "id", e.id.String())
	}
	return nil
}

// absolutePath joins the trimmed group names from the account root down
// to g, for depth ordering and log lines.
func absolutePath(byID map[target.ID]target.Group, g target.Group) string {
	var parts []string
	seen := map[target.ID]bool{}
	for {
		if seen[g.ID] {
			break
		}
		seen[g.ID] = true
		parts = append(parts, strings.TrimSpace(g.Name))
		parent, ok := byID[g.ParentID]
		if !ok {
			break
		}
		g = parent
	}
	reverse(parts)
	return strings.Join(parts, "/")
}
