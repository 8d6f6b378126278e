// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"testing"

	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/patchlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modified(path string, edits ...edit.Edit) *patchlist.Entry {
	return &patchlist.Entry{ChangeType: patchlist.Modified, OldName: path, NewName: path, Edits: edits}
}

func TestTransformSideA_ShiftsEditsAfterTransformation(t *testing.T) {
	// Rebase edit on lines 10-12 of the old parent.
	tr := New([]*patchlist.Entry{modified("a.go", edit.New(10, 12, 10, 13))})

	// The old patch set inserted three lines at 2.
	tr.TransformSideA([]*patchlist.Entry{modified("a.go", edit.New(2, 2, 2, 5))})

	got := tr.Edits()
	require.Len(t, got, 1)
	assert.Equal(t, edit.New(13, 15, 10, 13), got[0].Edit)
	assert.Equal(t, "a.go", got[0].OldPath)
}

func TestTransformSideB_OnlyMovesSideB(t *testing.T) {
	tr := New([]*patchlist.Entry{modified("a.go", edit.New(10, 12, 10, 13))})
	tr.TransformSideB([]*patchlist.Entry{modified("a.go", edit.New(0, 4, 0, 1))})

	got := tr.Edits()
	require.Len(t, got, 1)
	assert.Equal(t, edit.New(10, 12, 7, 10), got[0].Edit)
}

func TestTransform_EditBeforeTransformationUnchanged(t *testing.T) {
	tr := New([]*patchlist.Entry{modified("a.go", edit.New(1, 2, 1, 2))})
	tr.TransformSideA([]*patchlist.Entry{modified("a.go", edit.New(5, 6, 5, 9))})

	got := tr.Edits()
	require.Len(t, got, 1)
	assert.Equal(t, edit.New(1, 2, 1, 2), got[0].Edit)
}

func TestTransform_OverlappingEditDropped(t *testing.T) {
	tr := New([]*patchlist.Entry{modified("a.go",
		edit.New(1, 2, 1, 2),
		edit.New(5, 7, 5, 7),
		edit.New(20, 21, 20, 22),
	)})
	tr.TransformSideA([]*patchlist.Entry{modified("a.go", edit.New(4, 8, 4, 6))})

	got := tr.Edits()
	require.Len(t, got, 2)
	assert.Equal(t, edit.New(1, 2, 1, 2), got[0].Edit)
	assert.Equal(t, edit.New(18, 19, 20, 22), got[1].Edit)
}

func TestTransform_FollowsRename(t *testing.T) {
	tr := New([]*patchlist.Entry{modified("old.go", edit.New(3, 4, 3, 4))})
	tr.TransformSideB([]*patchlist.Entry{{
		ChangeType: patchlist.Renamed, OldName: "old.go", NewName: "new.go",
		Edits: []edit.Edit{edit.New(0, 0, 0, 1)},
	}})

	per := tr.EditsPerFilePath()
	require.Contains(t, per, "new.go")
	require.Len(t, per["new.go"], 1)
	f := per["new.go"][0]
	assert.Equal(t, "old.go", f.OldPath)
	assert.Equal(t, edit.New(3, 4, 4, 5), f.Edit)
}

func TestTransform_DeletedFileDropsEdits(t *testing.T) {
	tr := New([]*patchlist.Entry{
		modified("gone.go", edit.New(0, 1, 0, 1)),
		modified("kept.go", edit.New(0, 1, 0, 1)),
	})
	tr.TransformSideA([]*patchlist.Entry{{ChangeType: patchlist.Deleted, OldName: "gone.go",
		Edits: []edit.Edit{edit.New(0, 5, 0, 0)}}})

	per := tr.EditsPerFilePath()
	assert.NotContains(t, per, "gone.go")
	assert.Len(t, per["kept.go"], 1)
}

func TestTransform_UntouchedFilesKept(t *testing.T) {
	tr := New([]*patchlist.Entry{modified("x.go", edit.New(4, 5, 4, 5))})
	tr.TransformSideA([]*patchlist.Entry{modified("y.go", edit.New(0, 0, 0, 10))})
	assert.Equal(t, []FileEdit{{OldPath: "x.go", NewPath: "x.go", Edit: edit.New(4, 5, 4, 5), Content: true}}, tr.Edits())
}

func TestNew_SkipsMagicAndKeepsFileLevelEdits(t *testing.T) {
	tr := New([]*patchlist.Entry{
		modified(patchlist.CommitMsg, edit.New(0, 1, 0, 1)),
		{ChangeType: patchlist.Added, NewName: "bin.png", PatchType: patchlist.Binary},
	})
	got := tr.Edits()
	require.Len(t, got, 1)
	assert.Equal(t, FileEdit{OldPath: "bin.png", NewPath: "bin.png"}, got[0])
}

func TestAllDueToRebase(t *testing.T) {
	ent := modified("a.go", edit.New(1, 2, 1, 2), edit.New(8, 9, 8, 10))
	due := []FileEdit{
		{OldPath: "a.go", NewPath: "a.go", Edit: edit.New(1, 2, 1, 2), Content: true},
		{OldPath: "a.go", NewPath: "a.go", Edit: edit.New(8, 9, 8, 10), Content: true},
	}
	assert.True(t, AllDueToRebase(ent, due))
	assert.False(t, AllDueToRebase(ent, due[:1]))
	assert.False(t, AllDueToRebase(ent, nil))

	assert.Equal(t, []edit.Edit{edit.New(1, 2, 1, 2), edit.New(8, 9, 8, 10)}, ContentEdits([]FileEdit{due[1], due[0], {OldPath: "a.go", NewPath: "a.go"}}))
}
