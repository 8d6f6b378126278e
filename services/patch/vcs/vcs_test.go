// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vcs_test

import (
	"context"
	"testing"

	"github.com/AleutianAI/patchcache/pkg/validation"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
	"github.com/AleutianAI/patchcache/services/patch/vcs/vcstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	id, err := vcs.ParseID("4b825dc642cb6eb9a060e54bf8d69288fbee4904")
	require.NoError(t, err)
	assert.Equal(t, vcs.EmptyTreeID, id)
	assert.Equal(t, "4b825dc6", id.Abbreviate(8))
	assert.False(t, id.IsZero())
	assert.True(t, vcs.ZeroID.IsZero())

	_, err = vcs.ParseID("xyz")
	assert.ErrorIs(t, err, vcs.ErrInvalidID)
}

func TestCommit_ShortMessage(t *testing.T) {
	c := &vcs.Commit{Message: "Fix the thing\nacross lines\n\nBody text\n"}
	assert.Equal(t, "Fix the thing across lines", c.ShortMessage())
}

func TestGitRepository_TreeRoundTrip(t *testing.T) {
	b := vcstest.New(t)
	ctx := context.Background()

	tree := b.Tree(map[string]string{
		"a.txt":         "a\n",
		"dir/b.txt":     "b\n",
		"dir/sub/c.txt": "c\n",
		"dir.txt":       "d\n",
	})
	entries, err := b.Repo.ListTree(ctx, tree)
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
		assert.Equal(t, vcs.ModeRegular, e.Mode)
	}
	assert.ElementsMatch(t, []string{"a.txt", "dir/b.txt", "dir/sub/c.txt", "dir.txt"}, paths)

	empty, err := b.Repo.ListTree(ctx, vcs.EmptyTreeID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGitRepository_DiffTrees(t *testing.T) {
	b := vcstest.New(t)
	ctx := context.Background()

	const body = "line one\nline two\nline three\nline four\n"
	oldTree := b.Tree(map[string]string{"keep.txt": "same\n", "mod.txt": "1\n", "gone.txt": "x\n", "old/name.txt": body})
	newTree := b.Tree(map[string]string{"keep.txt": "same\n", "mod.txt": "2\n", "added.txt": "y\n", "new/name.txt": body})

	entries, err := b.Repo.DiffTrees(ctx, oldTree, newTree, vcs.DiffOptions{DetectRenames: true})
	require.NoError(t, err)

	byPath := map[string]vcs.DiffEntry{}
	for _, e := range entries {
		byPath[e.Path()] = e
	}
	require.Len(t, byPath, 4)
	assert.Equal(t, vcs.ChangeModify, byPath["mod.txt"].Kind)
	assert.Equal(t, vcs.ChangeAdd, byPath["added.txt"].Kind)
	assert.Empty(t, byPath["added.txt"].OldPath)
	assert.Equal(t, vcs.ChangeDelete, byPath["gone.txt"].Kind)
	assert.Empty(t, byPath["gone.txt"].NewPath)
	assert.Equal(t, vcs.ChangeRename, byPath["new/name.txt"].Kind)
	assert.Equal(t, "old/name.txt", byPath["new/name.txt"].OldPath)

	fromEmpty, err := b.Repo.DiffTrees(ctx, vcs.EmptyTreeID, newTree, vcs.DiffOptions{})
	require.NoError(t, err)
	assert.Len(t, fromEmpty, 4)
	for _, e := range fromEmpty {
		assert.Equal(t, vcs.ChangeAdd, e.Kind)
	}
}

func TestGitRepository_Refs(t *testing.T) {
	b := vcstest.New(t)
	ctx := context.Background()
	c1 := b.Commit("one", map[string]string{"f": "1"})
	c2 := b.Commit("two", map[string]string{"f": "2"}, c1)

	_, err := b.Repo.ReadRef(ctx, "refs/heads/main")
	assert.ErrorIs(t, err, vcs.ErrRefNotFound)

	require.NoError(t, b.Repo.UpdateRef(ctx, "refs/heads/main", c1, false))
	err = b.Repo.UpdateRef(ctx, "refs/heads/main", c2, false)
	assert.ErrorIs(t, err, vcs.ErrRefConflict)

	require.NoError(t, b.Repo.UpdateRef(ctx, "refs/heads/main", c2, true))
	got, err := b.Repo.ReadRef(ctx, "refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, c2, got)
}

func TestGitRepository_MergeBasesAndRevList(t *testing.T) {
	b := vcstest.New(t)
	ctx := context.Background()

	base := b.Commit("base", map[string]string{"f": "0"})
	left := b.Commit("left", map[string]string{"f": "1"}, base)
	right1 := b.Commit("right one", map[string]string{"f": "2"}, base)
	right2 := b.Commit("right two", map[string]string{"f": "3"}, right1)
	merge := b.Commit("merge", map[string]string{"f": "4"}, left, right2)

	bases, err := b.Repo.MergeBases(ctx, left, right2)
	require.NoError(t, err)
	assert.Equal(t, []vcs.ObjectID{base}, bases)

	commits, err := b.Repo.RevList(ctx, []vcs.ObjectID{right2}, []vcs.ObjectID{left})
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, right2, commits[0].ID)
	assert.Equal(t, right1, commits[1].ID)

	mc, err := b.Repo.ResolveCommit(ctx, merge)
	require.NoError(t, err)
	assert.Equal(t, []vcs.ObjectID{left, right2}, mc.Parents)
}

func TestGitRepository_ResolveMissing(t *testing.T) {
	b := vcstest.New(t)
	_, err := b.Repo.ResolveCommit(context.Background(), vcs.MustParseID("0123456789012345678901234567890123456789"))
	assert.ErrorIs(t, err, vcs.ErrObjectNotFound)
}

func TestOverlay_KeepsWritesInMemory(t *testing.T) {
	b := vcstest.New(t)
	ctx := context.Background()
	c1 := b.Commit("one", map[string]string{"f": "1"})

	ov := b.Repo.Overlay()
	blob, err := ov.InsertBlob(ctx, []byte("transient"))
	require.NoError(t, err)

	data, err := ov.ReadBlob(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, "transient", string(data))

	_, err = b.Repo.ReadBlob(ctx, blob)
	assert.ErrorIs(t, err, vcs.ErrObjectNotFound)

	// Base objects stay visible through the overlay.
	c, err := ov.ResolveCommit(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, "one", c.Message)

	require.NoError(t, ov.UpdateRef(ctx, "refs/x", c1, true))
	_, err = b.Repo.ReadRef(ctx, "refs/x")
	assert.ErrorIs(t, err, vcs.ErrRefNotFound)
}

func TestStaticManager(t *testing.T) {
	b := vcstest.New(t)
	m := vcs.NewStaticManager(b.Repo)

	r, err := m.Open(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, "test", r.Name())

	_, err = m.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, vcs.ErrProjectNotFound)
}

func TestDirManager_Missing(t *testing.T) {
	m := vcs.NewDirManager(t.TempDir())
	_, err := m.Open(context.Background(), "absent")
	assert.ErrorIs(t, err, vcs.ErrProjectNotFound)

	_, err = m.Open(context.Background(), "../escape")
	assert.ErrorIs(t, err, vcs.ErrProjectNotFound)
	assert.ErrorIs(t, err, validation.ErrInvalidName)
}
