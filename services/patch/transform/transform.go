// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform remaps edits between trees.
//
// The typical use is rebase transparency: the edits between the parents
// of two patch sets are carried into the coordinates of the patch sets
// themselves, so the loader can tell which hunks exist only because the
// change was rebased.
package transform

import (
	"sort"

	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/patchlist"
)

// FileEdit is an edit together with the file paths it refers to.
//
// A FileEdit without content stands for a file-level change that has no
// line edits, such as a pure rename or a binary modification. OldPath
// and NewPath are never empty: an added file carries its new path on
// both sides and a deleted file its old path.
type FileEdit struct {
	OldPath string
	NewPath string
	Edit    edit.Edit
	Content bool
}

// Equal compares paths and edit ranges.
func (f FileEdit) Equal(o FileEdit) bool {
	if f.OldPath != o.OldPath || f.NewPath != o.NewPath || f.Content != o.Content {
		return false
	}
	return !f.Content || (f.Edit.BeginA == o.Edit.BeginA && f.Edit.EndA == o.Edit.EndA &&
		f.Edit.BeginB == o.Edit.BeginB && f.Edit.EndB == o.Edit.EndB)
}

// Side selects which half of an edit a transformation applies to.
type Side interface {
	path(f FileEdit) string
	withPath(f FileEdit, path string) FileEdit
	begin(e edit.Edit) int
	end(e edit.Edit) int
	shift(e edit.Edit, amount int) edit.Edit
}

type sideA struct{}

func (sideA) path(f FileEdit) string { return f.OldPath }
func (sideA) withPath(f FileEdit, p string) FileEdit {
	f.OldPath = p
	return f
}
func (sideA) begin(e edit.Edit) int { return e.BeginA }
func (sideA) end(e edit.Edit) int { return e.EndA }
func (sideA) shift(e edit.Edit, amount int) edit.Edit { return e.Shift(amount, 0) }

type sideB struct{}

func (sideB) path(f FileEdit) string { return f.NewPath }
func (sideB) withPath(f FileEdit, p string) FileEdit {
	f.NewPath = p
	return f
}
func (sideB) begin(e edit.Edit) int { return e.BeginB }
func (sideB) end(e edit.Edit) int { return e.EndB }
func (sideB) shift(e edit.Edit, amount int) edit.Edit { return e.Shift(0, amount) }

// SideA and SideB are the two transformation strategies.
var (
	SideA Side = sideA{}
	SideB Side = sideB{}
)

// Transformer holds a set of edits and moves them across transformations.
//
// Thread Safety: Not safe for concurrent use.
type Transformer struct {
	edits []FileEdit
}

// New creates a transformer over the edits of the given entries. Magic
// entries are ignored.
func New(entries []*patchlist.Entry) *Transformer {
	t := &Transformer{}
	for _, ent := range entries {
		t.edits = append(t.edits, FileEdits(ent)...)
	}
	return t
}

// FileEdits expands an entry into its file edits. Magic entries yield nil.
func FileEdits(ent *patchlist.Entry) []FileEdit {
	if patchlist.IsMagic(ent.Path()) {
		return nil
	}
	oldPath, newPath := ent.OldName, ent.NewName
	if oldPath == "" {
		oldPath = newPath
	}
	if newPath == "" {
		newPath = oldPath
	}
	if len(ent.Edits) == 0 {
		return []FileEdit{{OldPath: oldPath, NewPath: newPath}}
	}
	out := make([]FileEdit, 0, len(ent.Edits))
	for _, e := range ent.Edits {
		out = append(out, FileEdit{OldPath: oldPath, NewPath: newPath, Edit: e.Bounds(), Content: true})
	}
	return out
}

// TransformSideA moves the side A references of the held edits through
// the given entries, which must describe a diff whose old tree is the
// held edits' side A tree.
func (t *Transformer) TransformSideA(entries []*patchlist.Entry) {
	t.transform(SideA, entries)
}

// TransformSideB moves the side B references of the held edits through
// the given entries, which must describe a diff whose old tree is the
// held edits' side B tree.
func (t *Transformer) TransformSideB(entries []*patchlist.Entry) {
	t.transform(SideB, entries)
}

// Transform applies a transformation using an explicit side strategy.
//
// Description:
//
//	Held edits are grouped by the path of the selected side. For each
//	group with a matching transformation entry (matched on the entry's
//	old path), the edits are swept against the entry's edits in start
//	order: a transformation edit ending at or before a held edit updates
//	the running shift to endB - endA, a held edit ending at or before the
//	next transformation edit is emitted with the current shift, and a held
//	edit overlapping a transformation edit is dropped. Surviving edits
//	take the entry's new path. Held edits of a deleted file are dropped.
//	Groups without a transformation entry are kept as they are.
//
// Inputs:
//
//	side - SideA or SideB.
//	entries - The transformation, as patch list entries.
func (t *Transformer) Transform(side Side, entries []*patchlist.Entry) {
	t.transform(side, entries)
}

func (t *Transformer) transform(side Side, entries []*patchlist.Entry) {
	byOldPath := make(map[string]*patchlist.Entry, len(entries))
	for _, ent := range entries {
		if patchlist.IsMagic(ent.Path()) {
			continue
		}
		key := ent.OldName
		if key == "" {
			key = ent.NewName
		}
		byOldPath[key] = ent
	}

	groups := make(map[string][]FileEdit)
	var order []string
	for _, f := range t.edits {
		p := side.path(f)
		if _, ok := groups[p]; !ok {
			order = append(order, p)
		}
		groups[p] = append(groups[p], f)
	}
	sort.Strings(order)

	var out []FileEdit
	for _, p := range order {
		group := groups[p]
		ent, ok := byOldPath[p]
		if !ok {
			out = append(out, group...)
			continue
		}
		out = append(out, transformFile(side, group, ent)...)
	}
	t.edits = out
}

func transformFile(side Side, held []FileEdit, ent *patchlist.Entry) []FileEdit {
	if ent.ChangeType == patchlist.Deleted {
		return nil
	}
	newPath := ent.NewName

	// File-level edits only follow the rename.
	var out []FileEdit
	var ranged []FileEdit
	for _, f := range held {
		if !f.Content {
			out = append(out, side.withPath(f, newPath))
			continue
		}
		ranged = append(ranged, f)
	}

	sort.SliceStable(ranged, func(i, j int) bool {
		bi, bj := side.begin(ranged[i].Edit), side.begin(ranged[j].Edit)
		if bi != bj {
			return bi < bj
		}
		return side.end(ranged[i].Edit) < side.end(ranged[j].Edit)
	})
	mappings := make([]edit.Edit, len(ent.Edits))
	for i, e := range ent.Edits {
		mappings[i] = e.Bounds()
	}
	sort.SliceStable(mappings, func(i, j int) bool {
		if mappings[i].BeginA != mappings[j].BeginA {
			return mappings[i].BeginA < mappings[j].BeginA
		}
		return mappings[i].EndA < mappings[j].EndA
	})

	shifted := 0
	i, m := 0, 0
	for i < len(ranged) && m < len(mappings) {
		f := ranged[i]
		mapping := mappings[m]
		switch {
		case mapping.EndA <= side.begin(f.Edit):
			shifted = mapping.EndB - mapping.EndA
			m++
		case side.end(f.Edit) <= mapping.BeginA:
			out = append(out, moved(side, f, newPath, shifted))
			i++
		default:
			// Overlaps the transformation; not expressible in the new tree.
			i++
		}
	}
	for ; i < len(ranged); i++ {
		out = append(out, moved(side, ranged[i], newPath, shifted))
	}
	return out
}

func moved(side Side, f FileEdit, path string, amount int) FileEdit {
	f = side.withPath(f, path)
	f.Edit = side.shift(f.Edit, amount)
	return f
}

// Edits returns the held edits.
func (t *Transformer) Edits() []FileEdit {
	return append([]FileEdit(nil), t.edits...)
}

// EditsPerFilePath groups the held edits by their new path.
func (t *Transformer) EditsPerFilePath() map[string][]FileEdit {
	out := make(map[string][]FileEdit)
	for _, f := range t.edits {
		out[f.NewPath] = append(out[f.NewPath], f)
	}
	return out
}

// ContentEdits extracts the line edits of the given file edits.
func ContentEdits(fileEdits []FileEdit) []edit.Edit {
	var out []edit.Edit
	for _, f := range fileEdits {
		if f.Content {
			out = append(out, f.Edit)
		}
	}
	edit.SortByA(out)
	return out
}

// AllDueToRebase reports whether every file edit of ent appears in
// dueToRebase.
func AllDueToRebase(ent *patchlist.Entry, dueToRebase []FileEdit) bool {
	if len(dueToRebase) == 0 {
		return false
	}
	for _, f := range FileEdits(ent) {
		found := false
		for _, r := range dueToRebase {
			if f.Equal(r) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
