// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vcs is the version-control collaborator consumed by the patch
// engine.
//
// The engine never touches an object store directly. It reads commits,
// trees and blobs, writes synthesized merge objects and moves refs through
// the Repository interface. NewGitRepository adapts a go-git storer;
// Overlay wraps a repository so that writes stay in memory.
package vcs

import (
	"context"
	"errors"
)

var (
	// ErrObjectNotFound is returned when an object id cannot be read.
	ErrObjectNotFound = errors.New("object not found")

	// ErrRefNotFound is returned when a ref does not exist.
	ErrRefNotFound = errors.New("ref not found")

	// ErrRefConflict is returned by a non-forced ref update that lost a race.
	ErrRefConflict = errors.New("ref update conflict")

	// ErrInvalidID is returned for malformed object ids.
	ErrInvalidID = errors.New("invalid object id")

	// ErrProjectNotFound is returned by a Manager for unknown projects.
	ErrProjectNotFound = errors.New("project not found")

	// ErrNotCommit is returned when an id names something other than a commit.
	ErrNotCommit = errors.New("object is not a commit")
)

// Repository is the object store and ref database of one project.
//
// Thread Safety: implementations must be safe for concurrent use.
type Repository interface {
	// Name returns the project name.
	Name() string

	// ResolveCommit reads and parses a commit.
	ResolveCommit(ctx context.Context, id ObjectID) (*Commit, error)

	// ListTree lists blobs, symlinks and gitlinks of a tree recursively.
	ListTree(ctx context.Context, tree ObjectID) ([]TreeEntry, error)

	// DiffTrees lists the path differences between two trees.
	// EmptyTreeID is accepted on either side.
	DiffTrees(ctx context.Context, oldTree, newTree ObjectID, opts DiffOptions) ([]DiffEntry, error)

	// ReadBlob returns the content of a blob.
	ReadBlob(ctx context.Context, id ObjectID) ([]byte, error)

	// BlobSize returns the size of a blob without reading it.
	BlobSize(ctx context.Context, id ObjectID) (int64, error)

	// InsertBlob stores content and returns its id.
	InsertBlob(ctx context.Context, content []byte) (ObjectID, error)

	// InsertTree stores a tree built from leaf entries with full paths.
	InsertTree(ctx context.Context, entries []TreeEntry) (ObjectID, error)

	// InsertCommit stores a commit. The ID field of c is ignored.
	InsertCommit(ctx context.Context, c *Commit) (ObjectID, error)

	// ReadRef resolves a ref name to an object id.
	ReadRef(ctx context.Context, name string) (ObjectID, error)

	// UpdateRef points a ref at id. Without force the update only
	// succeeds when the ref does not exist yet.
	UpdateRef(ctx context.Context, name string, id ObjectID, force bool) error

	// MergeBases returns the best common ancestors of two commits.
	MergeBases(ctx context.Context, a, b ObjectID) ([]ObjectID, error)

	// RevList returns commits reachable from include but not from exclude,
	// newest first.
	RevList(ctx context.Context, include, exclude []ObjectID) ([]*Commit, error)
}

// Manager opens repositories by project name.
type Manager interface {
	Open(ctx context.Context, project string) (Repository, error)
}
