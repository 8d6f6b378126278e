// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package automerge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/patchcache/services/patch/text"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

// Stage numbers of an unmerged path.
const (
	stageBase   = 1
	stageOurs   = 2
	stageTheirs = 3
)

// stagedEntry is one side of an unmerged path.
type stagedEntry struct {
	stage int
	entry vcs.TreeEntry
}

// conflictNames label the sides of conflict blocks.
type conflictNames struct {
	base, ours, theirs string
}

// treeMerge is the outcome of merging three trees.
type treeMerge struct {
	tree vcs.ObjectID

	// contentConflicts lists paths written with conflict blocks.
	contentConflicts []string

	// stageConflicts lists paths resolved by stage count.
	stageConflicts []string
}

// mergeTrees performs a three-way merge of trees into a new tree.
//
// Description:
//
//	Paths changed on one side only take that side. Paths changed on both
//	sides to the same entry take it. Text files changed differently on
//	both sides are merged line by line; the result, with conflict blocks
//	where needed, is written as a new blob. Any other conflict is resolved
//	by the stages present: one stage takes it, two stages take the
//	higher, three stages take the base.
func mergeTrees(ctx context.Context, repo vcs.Repository, base, ours, theirs vcs.ObjectID, names conflictNames) (*treeMerge, error) {
	bm, err := treeMap(ctx, repo, base)
	if err != nil {
		return nil, err
	}
	om, err := treeMap(ctx, repo, ours)
	if err != nil {
		return nil, err
	}
	tm, err := treeMap(ctx, repo, theirs)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]struct{}, len(om)+len(tm))
	for _, m := range []map[string]vcs.TreeEntry{bm, om, tm} {
		for p := range m {
			paths[p] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	res := &treeMerge{}
	var out []vcs.TreeEntry
	for _, p := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, hasB := bm[p]
		o, hasO := om[p]
		t, hasT := tm[p]

		switch {
		case sameEntry(o, hasO, t, hasT):
			if hasO {
				out = append(out, o)
			}
		case sameEntry(o, hasO, b, hasB):
			if hasT {
				out = append(out, t)
			}
		case sameEntry(t, hasT, b, hasB):
			if hasO {
				out = append(out, o)
			}
		default:
			ent, content, err := mergePath(ctx, repo, p, b, hasB, o, hasO, t, hasT, names)
			if err != nil {
				return nil, err
			}
			if content {
				res.contentConflicts = append(res.contentConflicts, p)
			} else if ent.Mode != vcs.ModeMissing {
				res.stageConflicts = append(res.stageConflicts, p)
			}
			if ent.Mode != vcs.ModeMissing {
				out = append(out, ent)
			}
		}
	}

	id, err := repo.InsertTree(ctx, dropShadowed(out))
	if err != nil {
		return nil, fmt.Errorf("write merged tree: %w", err)
	}
	res.tree = id
	return res, nil
}

// mergePath resolves a path changed differently on both sides. content is
// true when the result holds conflict blocks.
func mergePath(ctx context.Context, repo vcs.Repository, path string,
	b vcs.TreeEntry, hasB bool, o vcs.TreeEntry, hasO bool, t vcs.TreeEntry, hasT bool,
	names conflictNames) (ent vcs.TreeEntry, content bool, err error) {

	if hasO && hasT && o.Mode.IsFile() && t.Mode.IsFile() && (!hasB || b.Mode.IsFile()) {
		var baseRaw []byte
		if hasB {
			if baseRaw, err = repo.ReadBlob(ctx, b.ID); err != nil {
				return ent, false, err
			}
		}
		oursRaw, err := repo.ReadBlob(ctx, o.ID)
		if err != nil {
			return ent, false, err
		}
		theirsRaw, err := repo.ReadBlob(ctx, t.ID)
		if err != nil {
			return ent, false, err
		}
		if !text.IsBinary(baseRaw) && !text.IsBinary(oursRaw) && !text.IsBinary(theirsRaw) {
			m, err := Merge3(ctx, baseRaw, oursRaw, theirsRaw)
			if err != nil {
				return ent, false, err
			}
			var blob []byte
			if m.HasConflicts() {
				blob = m.Format(names.base, names.ours, names.theirs)
			} else {
				blob = m.Content()
			}
			id, err := repo.InsertBlob(ctx, blob)
			if err != nil {
				return ent, false, fmt.Errorf("write merged blob %s: %w", path, err)
			}
			return vcs.TreeEntry{Path: path, Mode: mergedMode(b, hasB, o, t), ID: id}, m.HasConflicts(), nil
		}
	}

	var stages []stagedEntry
	if hasB {
		stages = append(stages, stagedEntry{stageBase, b})
	}
	if hasO {
		stages = append(stages, stagedEntry{stageOurs, o})
	}
	if hasT {
		stages = append(stages, stagedEntry{stageTheirs, t})
	}
	return resolveStages(stages), false, nil
}

// resolveStages picks the entry of an unmerged path that has no textual
// resolution. One stage takes it, two stages take the higher one (a
// delete/modify conflict keeps the modification) and three stages fall
// back to the base.
func resolveStages(stages []stagedEntry) vcs.TreeEntry {
	switch len(stages) {
	case 0:
		return vcs.TreeEntry{}
	case 1:
		return stages[0].entry
	case 2:
		return stages[1].entry
	default:
		return stages[0].entry
	}
}

// mergedMode picks the mode of a content-merged file: a side that changed
// the mode wins, ours wins when both did.
func mergedMode(b vcs.TreeEntry, hasB bool, o, t vcs.TreeEntry) vcs.FileMode {
	if hasB && o.Mode == b.Mode {
		return t.Mode
	}
	return o.Mode
}

func sameEntry(x vcs.TreeEntry, hasX bool, y vcs.TreeEntry, hasY bool) bool {
	if hasX != hasY {
		return false
	}
	return !hasX || (x.ID == y.ID && x.Mode == y.Mode)
}

func treeMap(ctx context.Context, repo vcs.Repository, tree vcs.ObjectID) (map[string]vcs.TreeEntry, error) {
	if tree.IsZero() || tree == vcs.EmptyTreeID {
		return map[string]vcs.TreeEntry{}, nil
	}
	entries, err := repo.ListTree(ctx, tree)
	if err != nil {
		return nil, fmt.Errorf("list tree %s: %w", tree, err)
	}
	m := make(map[string]vcs.TreeEntry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m, nil
}

// dropShadowed removes entries below a path that is itself a file, which
// happens when one side replaced a directory with a file.
func dropShadowed(entries []vcs.TreeEntry) []vcs.TreeEntry {
	files := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		files[e.Path] = struct{}{}
	}
	out := entries[:0]
	for _, e := range entries {
		if !shadowed(e.Path, files) {
			out = append(out, e)
		}
	}
	return out
}

func shadowed(path string, files map[string]struct{}) bool {
	for i := strings.IndexByte(path, '/'); i >= 0; {
		if _, ok := files[path[:i]]; ok {
			return true
		}
		next := strings.IndexByte(path[i+1:], '/')
		if next < 0 {
			return false
		}
		i += next + 1
	}
	return false
}
