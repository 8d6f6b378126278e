// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vcstest builds small in-memory repositories for tests.
package vcstest

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/AleutianAI/patchcache/services/patch/vcs"
	"github.com/go-git/go-git/v5"
)

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// Builder writes commits into an in-memory repository with a
// deterministic clock.
type Builder struct {
	tb    testing.TB
	Repo  *vcs.GitRepository
	clock time.Time
}

// New creates a builder over a fresh repository named "test".
func New(tb testing.TB) *Builder {
	tb.Helper()
	return &Builder{
		tb:    tb,
		Repo:  vcs.NewMemoryRepository("test"),
		clock: epoch,
	}
}

// NewOnDisk creates a builder over a bare repository at dir/name.git,
// which vcs.NewDirManager(dir) opens as project name.
func NewOnDisk(tb testing.TB, dir, name string) *Builder {
	tb.Helper()
	r, err := git.PlainInit(filepath.Join(dir, name+".git"), true)
	if err != nil {
		tb.Fatalf("init repository: %v", err)
	}
	return &Builder{tb: tb, Repo: vcs.NewGitRepository(name, r.Storer), clock: epoch}
}

// Blob stores content.
func (b *Builder) Blob(content string) vcs.ObjectID {
	b.tb.Helper()
	id, err := b.Repo.InsertBlob(context.Background(), []byte(content))
	if err != nil {
		b.tb.Fatalf("insert blob: %v", err)
	}
	return id
}

// Tree stores a tree of regular files.
func (b *Builder) Tree(files map[string]string) vcs.ObjectID {
	b.tb.Helper()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	entries := make([]vcs.TreeEntry, 0, len(files))
	for _, p := range paths {
		entries = append(entries, vcs.TreeEntry{Path: p, Mode: vcs.ModeRegular, ID: b.Blob(files[p])})
	}
	return b.Entries(entries)
}

// Entries stores a tree from explicit leaf entries.
func (b *Builder) Entries(entries []vcs.TreeEntry) vcs.ObjectID {
	b.tb.Helper()
	id, err := b.Repo.InsertTree(context.Background(), entries)
	if err != nil {
		b.tb.Fatalf("insert tree: %v", err)
	}
	return id
}

// Commit stores a commit of files on top of parents.
func (b *Builder) Commit(msg string, files map[string]string, parents ...vcs.ObjectID) vcs.ObjectID {
	b.tb.Helper()
	return b.CommitTree(msg, b.Tree(files), parents...)
}

// CommitTree stores a commit of an existing tree.
func (b *Builder) CommitTree(msg string, tree vcs.ObjectID, parents ...vcs.ObjectID) vcs.ObjectID {
	b.tb.Helper()
	b.clock = b.clock.Add(time.Minute)
	sig := vcs.Signature{Name: "A U Thor", Email: "author@example.com", When: b.clock}
	id, err := b.Repo.InsertCommit(context.Background(), &vcs.Commit{
		Tree:      tree,
		Parents:   parents,
		Author:    sig,
		Committer: sig,
		Message:   msg,
	})
	if err != nil {
		b.tb.Fatalf("insert commit: %v", err)
	}
	return id
}

// Ref points name at id.
func (b *Builder) Ref(name string, id vcs.ObjectID) {
	b.tb.Helper()
	if err := b.Repo.UpdateRef(context.Background(), name, id, true); err != nil {
		b.tb.Fatalf("update ref: %v", err)
	}
}

// Read returns the content of path in commit, failing the test if absent.
func (b *Builder) Read(commit vcs.ObjectID, path string) string {
	b.tb.Helper()
	ctx := context.Background()
	c, err := b.Repo.ResolveCommit(ctx, commit)
	if err != nil {
		b.tb.Fatalf("resolve commit: %v", err)
	}
	entries, err := b.Repo.ListTree(ctx, c.Tree)
	if err != nil {
		b.tb.Fatalf("list tree: %v", err)
	}
	for _, e := range entries {
		if e.Path == path {
			data, err := b.Repo.ReadBlob(ctx, e.ID)
			if err != nil {
				b.tb.Fatalf("read blob: %v", err)
			}
			return string(data)
		}
	}
	b.tb.Fatalf("path %s not found in %s", path, commit)
	return ""
}
