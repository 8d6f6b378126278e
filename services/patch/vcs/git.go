// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// objectStore is the subset of a go-git storage the repository needs.
type objectStore interface {
	storer.EncodedObjectStorer
	storer.ReferenceStorer
}

// GitRepository implements Repository on top of a go-git storer.
//
// Thread Safety:
//
//	Safe for concurrent use. Object writes and ref updates take the write
//	lock; everything else shares the read lock, since go-git's in-memory
//	storage is not synchronized.
type GitRepository struct {
	name string
	mu   sync.RWMutex
	s    objectStore
}

// NewGitRepository wraps a go-git storage (filesystem or memory).
func NewGitRepository(name string, s storage.Storer) *GitRepository {
	return &GitRepository{name: name, s: s}
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository(name string) *GitRepository {
	return NewGitRepository(name, memory.NewStorage())
}

// Name returns the project name.
func (r *GitRepository) Name() string { return r.name }

// ResolveCommit reads and parses a commit.
func (r *GitRepository) ResolveCommit(ctx context.Context, id ObjectID) (*Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, err := object.GetCommit(r.s, plumbing.Hash(id))
	if err != nil {
		return nil, wrapNotFound(err, id)
	}
	return fromGitCommit(c), nil
}

// ListTree lists every non-tree entry under tree with full paths.
func (r *GitRepository) ListTree(ctx context.Context, tree ObjectID) ([]TreeEntry, error) {
	if tree == EmptyTreeID {
		return []TreeEntry{}, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, err := object.GetTree(r.s, plumbing.Hash(tree))
	if err != nil {
		return nil, wrapNotFound(err, tree)
	}
	var out []TreeEntry
	if err := r.walkTree(ctx, t, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GitRepository) walkTree(ctx context.Context, t *object.Tree, prefix string, out *[]TreeEntry) error {
	for _, e := range t.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := path.Join(prefix, e.Name)
		if e.Mode == filemode.Dir {
			sub, err := object.GetTree(r.s, e.Hash)
			if err != nil {
				return wrapNotFound(err, ObjectID(e.Hash))
			}
			if err := r.walkTree(ctx, sub, p, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, TreeEntry{Path: p, Mode: FileMode(e.Mode), ID: ObjectID(e.Hash)})
	}
	return nil
}

// DiffTrees lists path differences between two trees.
func (r *GitRepository) DiffTrees(ctx context.Context, oldTree, newTree ObjectID, opts DiffOptions) ([]DiffEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, err := r.treeOrNil(oldTree)
	if err != nil {
		return nil, err
	}
	b, err := r.treeOrNil(newTree)
	if err != nil {
		return nil, err
	}

	diffOpts := &object.DiffTreeOptions{DetectRenames: opts.DetectRenames}
	if opts.DetectRenames {
		diffOpts.RenameScore = uint(opts.RenameScore)
		if diffOpts.RenameScore == 0 {
			diffOpts.RenameScore = object.DefaultDiffTreeOptions.RenameScore
		}
		diffOpts.RenameLimit = object.DefaultDiffTreeOptions.RenameLimit
	}
	changes, err := object.DiffTreeWithOptions(ctx, a, b, diffOpts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("diff trees %s..%s: %w", oldTree, newTree, err)
	}

	out := make([]DiffEntry, 0, len(changes))
	for _, c := range changes {
		d, err := fromGitChange(c)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *GitRepository) treeOrNil(id ObjectID) (*object.Tree, error) {
	if id.IsZero() || id == EmptyTreeID {
		return nil, nil
	}
	t, err := object.GetTree(r.s, plumbing.Hash(id))
	if err != nil {
		return nil, wrapNotFound(err, id)
	}
	return t, nil
}

// ReadBlob returns the content of a blob.
func (r *GitRepository) ReadBlob(ctx context.Context, id ObjectID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, err := object.GetBlob(r.s, plumbing.Hash(id))
	if err != nil {
		return nil, wrapNotFound(err, id)
	}
	rd, err := b.Reader()
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", id, err)
	}
	defer rd.Close()

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", id, err)
	}
	return data, nil
}

// BlobSize returns the size of a blob.
func (r *GitRepository) BlobSize(ctx context.Context, id ObjectID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, err := object.GetBlob(r.s, plumbing.Hash(id))
	if err != nil {
		return 0, wrapNotFound(err, id)
	}
	return b.Size, nil
}

// InsertBlob stores content.
func (r *GitRepository) InsertBlob(ctx context.Context, content []byte) (ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return ZeroID, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	obj := r.s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return ZeroID, fmt.Errorf("open blob writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return ZeroID, fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return ZeroID, fmt.Errorf("close blob writer: %w", err)
	}
	h, err := r.s.SetEncodedObject(obj)
	if err != nil {
		return ZeroID, fmt.Errorf("store blob: %w", err)
	}
	return ObjectID(h), nil
}

// InsertTree stores nested trees for the given leaf entries.
func (r *GitRepository) InsertTree(ctx context.Context, entries []TreeEntry) (ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return ZeroID, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.insertTreeLocked(entries, "")
}

func (r *GitRepository) insertTreeLocked(entries []TreeEntry, prefix string) (ObjectID, error) {
	var (
		leaves  []object.TreeEntry
		subdirs = map[string][]TreeEntry{}
		order   []string
	)
	for _, e := range entries {
		rel := strings.TrimPrefix(e.Path, prefix)
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			dir := rel[:i]
			if _, seen := subdirs[dir]; !seen {
				order = append(order, dir)
			}
			subdirs[dir] = append(subdirs[dir], e)
			continue
		}
		leaves = append(leaves, object.TreeEntry{Name: rel, Mode: filemode.FileMode(e.Mode), Hash: plumbing.Hash(e.ID)})
	}
	for _, dir := range order {
		id, err := r.insertTreeLocked(subdirs[dir], prefix+dir+"/")
		if err != nil {
			return ZeroID, err
		}
		leaves = append(leaves, object.TreeEntry{Name: dir, Mode: filemode.Dir, Hash: plumbing.Hash(id)})
	}
	sortTreeEntries(leaves)

	t := &object.Tree{Entries: leaves}
	obj := r.s.NewEncodedObject()
	if err := t.Encode(obj); err != nil {
		return ZeroID, fmt.Errorf("encode tree: %w", err)
	}
	h, err := r.s.SetEncodedObject(obj)
	if err != nil {
		return ZeroID, fmt.Errorf("store tree: %w", err)
	}
	return ObjectID(h), nil
}

// sortTreeEntries orders entries the way git does: directories compare as
// if their name ended in '/'.
func sortTreeEntries(entries []object.TreeEntry) {
	key := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(entries, func(i, j int) bool { return key(entries[i]) < key(entries[j]) })
}

// InsertCommit stores a commit.
func (r *GitRepository) InsertCommit(ctx context.Context, c *Commit) (ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return ZeroID, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	parents := make([]plumbing.Hash, len(c.Parents))
	for i, p := range c.Parents {
		parents[i] = plumbing.Hash(p)
	}
	gc := &object.Commit{
		Author:       object.Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
		Committer:    object.Signature{Name: c.Committer.Name, Email: c.Committer.Email, When: c.Committer.When},
		Message:      c.Message,
		TreeHash:     plumbing.Hash(c.Tree),
		ParentHashes: parents,
	}
	obj := r.s.NewEncodedObject()
	if err := gc.Encode(obj); err != nil {
		return ZeroID, fmt.Errorf("encode commit: %w", err)
	}
	h, err := r.s.SetEncodedObject(obj)
	if err != nil {
		return ZeroID, fmt.Errorf("store commit: %w", err)
	}
	return ObjectID(h), nil
}

// ReadRef resolves a ref, following symbolic refs.
func (r *GitRepository) ReadRef(ctx context.Context, name string) (ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return ZeroID, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, err := storer.ResolveReference(r.s, plumbing.ReferenceName(name))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return ZeroID, fmt.Errorf("%w: %s", ErrRefNotFound, name)
		}
		return ZeroID, fmt.Errorf("read ref %s: %w", name, err)
	}
	return ObjectID(ref.Hash()), nil
}

// UpdateRef points name at id.
func (r *GitRepository) UpdateRef(ctx context.Context, name string, id ObjectID, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	refName := plumbing.ReferenceName(name)
	if !force {
		if _, err := r.s.Reference(refName); err == nil {
			return fmt.Errorf("%w: %s exists", ErrRefConflict, name)
		} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("read ref %s: %w", name, err)
		}
	}
	if err := r.s.SetReference(plumbing.NewHashReference(refName, plumbing.Hash(id))); err != nil {
		return fmt.Errorf("update ref %s: %w", name, err)
	}
	return nil
}

// MergeBases returns the best common ancestors of a and b.
func (r *GitRepository) MergeBases(ctx context.Context, a, b ObjectID) ([]ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ca, err := object.GetCommit(r.s, plumbing.Hash(a))
	if err != nil {
		return nil, wrapNotFound(err, a)
	}
	cb, err := object.GetCommit(r.s, plumbing.Hash(b))
	if err != nil {
		return nil, wrapNotFound(err, b)
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return nil, fmt.Errorf("merge base %s %s: %w", a, b, err)
	}
	out := make([]ObjectID, len(bases))
	for i, c := range bases {
		out[i] = ObjectID(c.Hash)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// RevList walks commits reachable from include and not from exclude.
func (r *GitRepository) RevList(ctx context.Context, include, exclude []ObjectID) ([]*Commit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return revList(ctx, func(id ObjectID) (*Commit, error) {
		c, err := object.GetCommit(r.s, plumbing.Hash(id))
		if err != nil {
			return nil, wrapNotFound(err, id)
		}
		return fromGitCommit(c), nil
	}, include, exclude)
}

func fromGitCommit(c *object.Commit) *Commit {
	parents := make([]ObjectID, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = ObjectID(p)
	}
	return &Commit{
		ID:        ObjectID(c.Hash),
		Tree:      ObjectID(c.TreeHash),
		Parents:   parents,
		Author:    Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
		Committer: Signature{Name: c.Committer.Name, Email: c.Committer.Email, When: c.Committer.When},
		Message:   c.Message,
	}
}

func fromGitChange(c *object.Change) (DiffEntry, error) {
	action, err := c.Action()
	if err != nil {
		return DiffEntry{}, fmt.Errorf("classify change: %w", err)
	}
	d := DiffEntry{
		OldPath: c.From.Name,
		NewPath: c.To.Name,
		OldMode: FileMode(c.From.TreeEntry.Mode),
		NewMode: FileMode(c.To.TreeEntry.Mode),
		OldID:   ObjectID(c.From.TreeEntry.Hash),
		NewID:   ObjectID(c.To.TreeEntry.Hash),
	}
	switch action {
	case merkletrie.Insert:
		d.Kind = ChangeAdd
		d.OldPath = ""
	case merkletrie.Delete:
		d.Kind = ChangeDelete
		d.NewPath = ""
	default:
		d.Kind = ChangeModify
		if d.OldPath != d.NewPath {
			d.Kind = ChangeRename
		}
	}
	if d.Kind == ChangeRename || d.Kind == ChangeModify {
		d.Score = 100
	}
	return d, nil
}

func wrapNotFound(err error, id ObjectID) error {
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	if errors.Is(err, plumbing.ErrInvalidType) || errors.Is(err, object.ErrUnsupportedObject) {
		return fmt.Errorf("%w: %s", ErrNotCommit, id)
	}
	return fmt.Errorf("read object %s: %w", id, err)
}
