// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patchlist holds the computed result of comparing two revisions:
// the PatchList, its per-file entries and the derived DiffSummary.
//
// Values are immutable once built and are shared between cache readers.
package patchlist

import (
	"sort"
	"strings"

	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/keys"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

// Magic file names for the synthetic entries.
const (
	CommitMsg = "/COMMIT_MSG"
	MergeList = "/MERGE_LIST"
)

// IsMagic reports whether path names a synthetic entry.
func IsMagic(path string) bool {
	return path == CommitMsg || path == MergeList
}

// ChangeType is how a file changed.
type ChangeType byte

const (
	Added    ChangeType = 'A'
	Modified ChangeType = 'M'
	Deleted  ChangeType = 'D'
	Renamed  ChangeType = 'R'
	Copied   ChangeType = 'C'
	Rewrite  ChangeType = 'W'
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case Added:
		return "ADDED"
	case Modified:
		return "MODIFIED"
	case Deleted:
		return "DELETED"
	case Renamed:
		return "RENAMED"
	case Copied:
		return "COPIED"
	case Rewrite:
		return "REWRITE"
	default:
		return "UNKNOWN"
	}
}

// PatchType is how the file content is presented.
type PatchType byte

const (
	Unified PatchType = 'U'
	Binary  PatchType = 'B'
	NWay    PatchType = 'N'
)

// String returns the patch type name.
func (p PatchType) String() string {
	switch p {
	case Unified:
		return "UNIFIED"
	case Binary:
		return "BINARY"
	case NWay:
		return "N_WAY"
	default:
		return "UNKNOWN"
	}
}

// Entry is the difference of one file.
//
// OldName is empty for Added entries; NewName is empty for Deleted ones.
// Edits is empty for binary files and gitlinks.
type Entry struct {
	ChangeType ChangeType
	PatchType  PatchType
	OldName    string
	NewName    string
	Header     []byte

	Edits            []edit.Edit
	EditsDueToRebase []edit.Edit

	Insertions int
	Deletions  int
	Size       int64
	SizeDelta  int64

	OldID vcs.ObjectID
	NewID vcs.ObjectID
}

// Path returns the new name, or the old name for deletions.
func (e *Entry) Path() string {
	if e.NewName != "" {
		return e.NewName
	}
	return e.OldName
}

// HeaderLines splits the raw header into lines without terminators.
func (e *Entry) HeaderLines() []string {
	h := strings.TrimSuffix(string(e.Header), "\n")
	if h == "" {
		return nil
	}
	return strings.Split(h, "\n")
}

// PatchList is the comparison of two revisions.
//
// Entries[0] is always the commit message; for merges Entries[1] is the
// merge list. The remaining entries are sorted by path. Insertions and
// Deletions sum the non-magic entries.
type PatchList struct {
	OldID          vcs.ObjectID
	NewID          vcs.ObjectID
	IsMerge        bool
	ComparisonType keys.ComparisonType
	Entries        []*Entry
	Insertions     int
	Deletions      int
}

// New sorts entries into canonical order and computes the totals.
func New(oldID, newID vcs.ObjectID, isMerge bool, cmp keys.ComparisonType, entries []*Entry) *PatchList {
	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return comparePaths(sorted[i].Path(), sorted[j].Path()) < 0
	})

	pl := &PatchList{
		OldID:          oldID,
		NewID:          newID,
		IsMerge:        isMerge,
		ComparisonType: cmp,
		Entries:        sorted,
	}
	for _, e := range sorted {
		if IsMagic(e.Path()) {
			continue
		}
		pl.Insertions += e.Insertions
		pl.Deletions += e.Deletions
	}
	return pl
}

// comparePaths orders the commit message first, the merge list second and
// everything else by byte order.
func comparePaths(a, b string) int {
	ra, rb := magicRank(a), magicRank(b)
	if ra != rb {
		return ra - rb
	}
	return strings.Compare(a, b)
}

func magicRank(p string) int {
	switch p {
	case CommitMsg:
		return 0
	case MergeList:
		return 1
	default:
		return 2
	}
}

// Get returns the entry for path, or nil.
func (p *PatchList) Get(path string) *Entry {
	i := sort.Search(len(p.Entries), func(i int) bool {
		return comparePaths(p.Entries[i].Path(), path) >= 0
	})
	if i < len(p.Entries) && p.Entries[i].Path() == path {
		return p.Entries[i]
	}
	return nil
}

// Paths returns the path of every entry in order.
func (p *PatchList) Paths() []string {
	out := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Path()
	}
	return out
}

// DiffSummary is the lightweight digest of a patch list.
type DiffSummary struct {
	Paths      []string
	Insertions int
	Deletions  int
}

// Summarize derives the summary of a patch list. Renames contribute both
// names; magic entries are skipped.
func Summarize(pl *PatchList) *DiffSummary {
	var paths []string
	for _, e := range pl.Entries {
		if IsMagic(e.Path()) {
			continue
		}
		if e.ChangeType == Renamed {
			paths = append(paths, e.OldName, e.NewName)
			continue
		}
		paths = append(paths, e.Path())
	}
	sort.Strings(paths)
	if paths == nil {
		paths = []string{}
	}
	return &DiffSummary{Paths: paths, Insertions: pl.Insertions, Deletions: pl.Deletions}
}
