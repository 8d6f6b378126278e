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
	"errors"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/memory"
)

// overlayStore reads objects from memory first and then from the base
// store. Writes and refs never leave memory.
type overlayStore struct {
	storer.EncodedObjectStorer
	storer.ReferenceStorer
	mem *memory.ObjectStorage
}

func (o *overlayStore) NewEncodedObject() plumbing.EncodedObject {
	return o.mem.NewEncodedObject()
}

func (o *overlayStore) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.Hash, error) {
	return o.mem.SetEncodedObject(obj)
}

func (o *overlayStore) EncodedObject(t plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	obj, err := o.mem.EncodedObject(t, h)
	if err == nil || !errors.Is(err, plumbing.ErrObjectNotFound) {
		return obj, err
	}
	return o.EncodedObjectStorer.EncodedObject(t, h)
}

func (o *overlayStore) HasEncodedObject(h plumbing.Hash) error {
	if err := o.mem.HasEncodedObject(h); err == nil {
		return nil
	}
	return o.EncodedObjectStorer.HasEncodedObject(h)
}

func (o *overlayStore) EncodedObjectSize(h plumbing.Hash) (int64, error) {
	if size, err := o.mem.EncodedObjectSize(h); err == nil {
		return size, nil
	}
	return o.EncodedObjectStorer.EncodedObjectSize(h)
}

// Overlay returns a repository that reads through to r but keeps every
// object and ref it writes in memory. Used when synthesized merge results
// must not be persisted.
func (r *GitRepository) Overlay() *GitRepository {
	st := memory.NewStorage()
	return &GitRepository{
		name: r.name,
		s: &overlayStore{
			EncodedObjectStorer: r.s,
			ReferenceStorer:     st,
			mem:                 &st.ObjectStorage,
		},
	}
}

// Transient returns an in-memory overlay for repositories that support
// one, and repo itself otherwise.
func Transient(repo Repository) Repository {
	if g, ok := repo.(*GitRepository); ok {
		return g.Overlay()
	}
	return repo
}
