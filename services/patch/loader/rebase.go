// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"context"

	"github.com/AleutianAI/patchcache/services/patch/keys"
	"github.com/AleutianAI/patchcache/services/patch/patchlist"
	"github.com/AleutianAI/patchcache/services/patch/transform"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

// editsDueToRebase finds the edits between two patch sets that come from
// the commits their parents differ by.
//
// Description:
//
//	Only applies when a and b are distinct single-parent commits that are
//	not parent and child and do not share their parent. The parents are
//	diffed, restricted to files either patch set touches, and those edits
//	are moved through each patch set's own diff into the coordinates of
//	a and b. Tree differences on files neither patch set touches are
//	dropped from diffs.
//
// Outputs:
//
//	[]vcs.DiffEntry - The tree differences still worth showing.
//	map[string][]transform.FileEdit - Rebase edits keyed by new path.
//	error - Non-nil if a dependent patch list or tree diff failed.
func (l *Loader) editsDueToRebase(ctx context.Context, repo vcs.Repository, project string,
	key keys.PatchListKey, a, b *vcs.Commit, diffs []vcs.DiffEntry) ([]vcs.DiffEntry, map[string][]transform.FileEdit, error) {

	if a == nil || a.ParentCount() != 1 || b.ParentCount() != 1 ||
		a.Parents[0] == b.ID || b.Parents[0] == a.ID || a.Parents[0] == b.Parents[0] {
		return diffs, nil, nil
	}

	oldList, err := l.source.Get(ctx, keys.AgainstDefaultBase(a.ID, key.Whitespace), project)
	if err != nil {
		return nil, nil, err
	}
	newList, err := l.source.Get(ctx, keys.AgainstDefaultBase(b.ID, key.Whitespace), project)
	if err != nil {
		return nil, nil, err
	}

	touched := make(map[string]struct{})
	for _, pl := range []*patchlist.PatchList{oldList, newList} {
		for _, e := range pl.Entries {
			if e.OldName != "" {
				touched[e.OldName] = struct{}{}
			}
			if e.NewName != "" {
				touched[e.NewName] = struct{}{}
			}
		}
	}

	relevant := make([]vcs.DiffEntry, 0, len(diffs))
	for _, d := range diffs {
		if isTouched(touched, d) {
			relevant = append(relevant, d)
		}
	}

	pa, err := repo.ResolveCommit(ctx, a.Parents[0])
	if err != nil {
		return nil, nil, notAvailable(err, "parent of old commit")
	}
	pb, err := repo.ResolveCommit(ctx, b.Parents[0])
	if err != nil {
		return nil, nil, notAvailable(err, "parent of new commit")
	}
	parentDiffs, err := repo.DiffTrees(ctx, pa.Tree, pb.Tree, l.diffOptions())
	if err != nil {
		return nil, nil, notAvailable(err, "parent tree diff")
	}

	var parentEntries []*patchlist.Entry
	for _, d := range parentDiffs {
		if !isTouched(touched, d) {
			continue
		}
		ent, err := l.fileEntry(ctx, repo, project, pb.ID, d, key.Whitespace)
		if err != nil {
			return nil, nil, err
		}
		parentEntries = append(parentEntries, ent)
	}

	t := transform.New(parentEntries)
	t.TransformSideA(oldList.Entries)
	t.TransformSideB(newList.Entries)
	return relevant, t.EditsPerFilePath(), nil
}

func isTouched(touched map[string]struct{}, d vcs.DiffEntry) bool {
	if _, ok := touched[d.OldPath]; ok && d.OldPath != "" {
		return true
	}
	_, ok := touched[d.NewPath]
	return ok && d.NewPath != ""
}

// rebaseLookupPath is the key of a tree difference in the rebase edits.
func rebaseLookupPath(d vcs.DiffEntry) string {
	if d.Kind == vcs.ChangeDelete {
		return d.OldPath
	}
	return d.NewPath
}
