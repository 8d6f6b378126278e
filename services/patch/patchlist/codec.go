// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patchlist

import (
	"fmt"

	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/keys"
)

// Marshal encodes a patch list in the cache wire format.
func Marshal(pl *PatchList) []byte {
	e := keys.NewEncoder(256)
	e.Byte(keys.Version)
	e.OptionalID(pl.OldID)
	e.ID(pl.NewID)
	e.Bool(pl.IsMerge)
	pl.ComparisonType.Encode(e)
	e.Uvarint(uint64(len(pl.Entries)))
	for _, ent := range pl.Entries {
		encodeEntry(e, ent)
	}
	return e.Data()
}

// Unmarshal decodes a patch list written by Marshal.
func Unmarshal(data []byte) (*PatchList, error) {
	d := keys.NewDecoder(data)
	if v := d.Byte(); d.Err() == nil && v != keys.Version {
		return nil, fmt.Errorf("%w: patch list version %d", keys.ErrCorrupt, v)
	}
	oldID := d.OptionalID()
	newID := d.ID()
	isMerge := d.Bool()
	cmp := keys.DecodeComparisonType(d)
	n := d.Uvarint()
	if d.Err() != nil {
		return nil, d.Err()
	}
	if n > uint64(d.Remaining()) {
		return nil, fmt.Errorf("%w: entry count %d", keys.ErrCorrupt, n)
	}
	entries := make([]*Entry, 0, n)
	for i := uint64(0); i < n; i++ {
		entries = append(entries, decodeEntry(d))
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return New(oldID, newID, isMerge, cmp, entries), nil
}

func encodeEntry(e *keys.Encoder, ent *Entry) {
	e.Byte(byte(ent.ChangeType))
	e.Byte(byte(ent.PatchType))
	e.String(ent.OldName)
	e.String(ent.NewName)
	e.Blob(ent.Header)
	EncodeEdits(e, ent.Edits)
	EncodeEdits(e, ent.EditsDueToRebase)
	e.Int(ent.Insertions)
	e.Int(ent.Deletions)
	e.Int(int(ent.Size))
	e.Int(int(ent.SizeDelta))
	e.OptionalID(ent.OldID)
	e.OptionalID(ent.NewID)
}

func decodeEntry(d *keys.Decoder) *Entry {
	ent := &Entry{}
	ent.ChangeType = ChangeType(d.Byte())
	ent.PatchType = PatchType(d.Byte())
	ent.OldName = d.String()
	ent.NewName = d.String()
	ent.Header = d.Blob()
	ent.Edits = DecodeEdits(d)
	ent.EditsDueToRebase = DecodeEdits(d)
	ent.Insertions = d.Int()
	ent.Deletions = d.Int()
	ent.Size = int64(d.Int())
	ent.SizeDelta = int64(d.Int())
	ent.OldID = d.OptionalID()
	ent.NewID = d.OptionalID()
	return ent
}

// EncodeEdits writes an edit list. Internal edits follow a presence byte.
func EncodeEdits(e *keys.Encoder, edits []edit.Edit) {
	e.Uvarint(uint64(len(edits)))
	for _, ed := range edits {
		e.Int(ed.BeginA)
		e.Int(ed.EndA)
		e.Int(ed.BeginB)
		e.Int(ed.EndB)
		e.Bool(ed.Internal != nil)
		if ed.Internal != nil {
			EncodeEdits(e, ed.Internal)
		}
	}
}

// DecodeEdits reads an edit list written by EncodeEdits. An empty list
// decodes as nil.
func DecodeEdits(d *keys.Decoder) []edit.Edit {
	n := d.Uvarint()
	if d.Err() != nil {
		return nil
	}
	if n > uint64(d.Remaining()) {
		d.Fail("edit list")
		return nil
	}
	if n == 0 {
		return nil
	}
	edits := make([]edit.Edit, 0, n)
	for i := uint64(0); i < n; i++ {
		ed := edit.New(d.Int(), d.Int(), d.Int(), d.Int())
		if d.Bool() {
			ed.Internal = DecodeEdits(d)
			if ed.Internal == nil {
				ed.Internal = []edit.Edit{}
			}
		}
		edits = append(edits, ed)
	}
	return edits
}

// MarshalSummary encodes a diff summary.
func MarshalSummary(s *DiffSummary) []byte {
	e := keys.NewEncoder(64)
	e.Byte(keys.Version)
	e.Uvarint(uint64(len(s.Paths)))
	for _, p := range s.Paths {
		e.String(p)
	}
	e.Int(s.Insertions)
	e.Int(s.Deletions)
	return e.Data()
}

// UnmarshalSummary decodes a summary written by MarshalSummary.
func UnmarshalSummary(data []byte) (*DiffSummary, error) {
	d := keys.NewDecoder(data)
	if v := d.Byte(); d.Err() == nil && v != keys.Version {
		return nil, fmt.Errorf("%w: summary version %d", keys.ErrCorrupt, v)
	}
	n := d.Uvarint()
	if d.Err() == nil && n > uint64(d.Remaining()) {
		return nil, fmt.Errorf("%w: path count %d", keys.ErrCorrupt, n)
	}
	s := &DiffSummary{Paths: make([]string, 0, n)}
	for i := uint64(0); i < n && d.Err() == nil; i++ {
		s.Paths = append(s.Paths, d.String())
	}
	s.Insertions = d.Int()
	s.Deletions = d.Int()
	if err := d.Err(); err != nil {
		return nil, err
	}
	return s, nil
}
