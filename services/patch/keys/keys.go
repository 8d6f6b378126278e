// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package keys defines the cache keys of the patch engine and the
// comparison descriptor recorded in every patch list.
//
// Keys are plain comparable values. Their binary form is stable and
// versioned so persisted cache entries from an older layout never match.
package keys

import (
	"fmt"

	"github.com/AleutianAI/patchcache/services/patch/linediff"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

// Version prefixes every encoded key. Bump on layout changes.
const Version byte = 1

// ComparisonKind is the variant of a ComparisonType.
type ComparisonKind uint8

const (
	// KindOtherPatchSet compares two unrelated revisions.
	KindOtherPatchSet ComparisonKind = iota

	// KindParent compares a commit with one of its parents.
	KindParent

	// KindAutoMerge compares a merge with its synthesized auto-merge.
	KindAutoMerge
)

// ComparisonType records what the old side of a patch list was.
//
// ParentNum is 1-based and only meaningful for KindParent.
type ComparisonType struct {
	Kind      ComparisonKind
	ParentNum int
}

// AgainstOtherPatchSet is the comparison of two unrelated revisions.
func AgainstOtherPatchSet() ComparisonType {
	return ComparisonType{Kind: KindOtherPatchSet}
}

// AgainstParent is the comparison with parent n (1-based).
func AgainstParent(n int) ComparisonType {
	return ComparisonType{Kind: KindParent, ParentNum: n}
}

// AgainstAutoMerge is the comparison with the auto-merge of a merge.
func AgainstAutoMerge() ComparisonType {
	return ComparisonType{Kind: KindAutoMerge}
}

// IsAgainstParent reports KindParent.
func (c ComparisonType) IsAgainstParent() bool { return c.Kind == KindParent }

// IsAgainstAutoMerge reports KindAutoMerge.
func (c ComparisonType) IsAgainstAutoMerge() bool { return c.Kind == KindAutoMerge }

// IsAgainstParentOrAutoMerge reports either base comparison.
func (c ComparisonType) IsAgainstParentOrAutoMerge() bool {
	return c.IsAgainstParent() || c.IsAgainstAutoMerge()
}

// String renders the comparison for logs.
func (c ComparisonType) String() string {
	switch c.Kind {
	case KindParent:
		return fmt.Sprintf("parent(%d)", c.ParentNum)
	case KindAutoMerge:
		return "auto-merge"
	default:
		return "other-patch-set"
	}
}

// Encode writes the comparison as a kind byte and a parent varint.
func (c ComparisonType) Encode(e *Encoder) {
	e.Byte(byte(c.Kind))
	e.Int(c.ParentNum)
}

// DecodeComparisonType reads a comparison written by Encode. An unknown
// kind fails the decoder with ErrCorrupt.
func DecodeComparisonType(d *Decoder) ComparisonType {
	kind := ComparisonKind(d.Byte())
	parent := d.Int()
	if d.Err() != nil {
		return ComparisonType{}
	}
	if kind > KindAutoMerge {
		d.err = fmt.Errorf("%w: comparison kind %d", ErrCorrupt, kind)
		return ComparisonType{}
	}
	return ComparisonType{Kind: kind, ParentNum: parent}
}

// whitespaceCodes are the single-byte forms of the whitespace policies.
var whitespaceCodes = map[linediff.Whitespace]byte{
	linediff.IgnoreNone:               'N',
	linediff.IgnoreTrailing:           'E',
	linediff.IgnoreLeadingAndTrailing: 'S',
	linediff.IgnoreAll:                'A',
}

func encodeWhitespace(e *Encoder, w linediff.Whitespace) {
	e.Byte(whitespaceCodes[w])
}

func decodeWhitespace(d *Decoder) linediff.Whitespace {
	c := d.Byte()
	for w, code := range whitespaceCodes {
		if code == c {
			return w
		}
	}
	if d.Err() == nil {
		d.err = fmt.Errorf("%w: whitespace code %q", ErrCorrupt, c)
	}
	return linediff.IgnoreNone
}

// PatchListKey identifies one patch list.
//
// A zero OldID means "derive the old side from the new commit's parents";
// ParentNum (1-based, 0 = unset) then selects a parent of a merge.
type PatchListKey struct {
	OldID             vcs.ObjectID
	ParentNum         int
	NewID             vcs.ObjectID
	Whitespace        linediff.Whitespace
	RebaseTransparent bool
}

// AgainstDefaultBase keys the comparison of newID with its default base:
// the single parent, the auto-merge of a merge, or the empty tree of a
// root commit.
func AgainstDefaultBase(newID vcs.ObjectID, ws linediff.Whitespace) PatchListKey {
	return PatchListKey{NewID: newID, Whitespace: ws}
}

// AgainstParentNum keys the comparison of newID with its parent n (1-based).
func AgainstParentNum(newID vcs.ObjectID, n int, ws linediff.Whitespace) PatchListKey {
	return PatchListKey{NewID: newID, ParentNum: n, Whitespace: ws}
}

// AgainstCommit keys the comparison of two explicit commits.
func AgainstCommit(oldID, newID vcs.ObjectID, ws linediff.Whitespace) PatchListKey {
	return PatchListKey{OldID: oldID, NewID: newID, Whitespace: ws}
}

// Encode writes the key.
func (k PatchListKey) Encode(e *Encoder) {
	e.Byte(Version)
	e.OptionalID(k.OldID)
	e.Int(k.ParentNum)
	e.ID(k.NewID)
	encodeWhitespace(e, k.Whitespace)
	e.Bool(k.RebaseTransparent)
}

// Bytes returns the encoded key.
func (k PatchListKey) Bytes() []byte {
	e := NewEncoder(48)
	k.Encode(e)
	return e.Data()
}

// DecodePatchListKey reads a key written by Encode.
func DecodePatchListKey(d *Decoder) (PatchListKey, error) {
	if v := d.Byte(); d.Err() == nil && v != Version {
		return PatchListKey{}, fmt.Errorf("%w: key version %d", ErrCorrupt, v)
	}
	k := PatchListKey{
		OldID:      d.OptionalID(),
		ParentNum:  d.Int(),
		NewID:      d.ID(),
		Whitespace: decodeWhitespace(d),
	}
	k.RebaseTransparent = d.Bool()
	return k, d.Err()
}

// String renders the key for logs.
func (k PatchListKey) String() string {
	old := "default"
	if !k.OldID.IsZero() {
		old = k.OldID.Abbreviate(8)
	} else if k.ParentNum > 0 {
		old = fmt.Sprintf("parent%d", k.ParentNum)
	}
	return fmt.Sprintf("%s..%s/%s", old, k.NewID.Abbreviate(8), k.Whitespace)
}

// IntraLineDiffKey identifies one intraline refinement.
type IntraLineDiffKey struct {
	BlobA            vcs.ObjectID
	BlobB            vcs.ObjectID
	IgnoreWhitespace bool
}

// Encode writes the key.
func (k IntraLineDiffKey) Encode(e *Encoder) {
	e.Byte(Version)
	e.ID(k.BlobA)
	e.ID(k.BlobB)
	e.Bool(k.IgnoreWhitespace)
}

// Bytes returns the encoded key.
func (k IntraLineDiffKey) Bytes() []byte {
	e := NewEncoder(42)
	k.Encode(e)
	return e.Data()
}

// String renders the key for logs.
func (k IntraLineDiffKey) String() string {
	return fmt.Sprintf("%s..%s", k.BlobA.Abbreviate(8), k.BlobB.Abbreviate(8))
}

// DiffSummaryKey identifies one diff summary. It mirrors PatchListKey.
type DiffSummaryKey struct {
	OldID      vcs.ObjectID
	ParentNum  int
	NewID      vcs.ObjectID
	Whitespace linediff.Whitespace
}

// SummaryKeyFor derives the summary key of a patch list key.
func SummaryKeyFor(k PatchListKey) DiffSummaryKey {
	return DiffSummaryKey{OldID: k.OldID, ParentNum: k.ParentNum, NewID: k.NewID, Whitespace: k.Whitespace}
}

// PatchListKey returns the patch list key this summary is computed from.
func (k DiffSummaryKey) PatchListKey() PatchListKey {
	return PatchListKey{OldID: k.OldID, ParentNum: k.ParentNum, NewID: k.NewID, Whitespace: k.Whitespace}
}

// Encode writes the key.
func (k DiffSummaryKey) Encode(e *Encoder) {
	e.Byte(Version)
	e.OptionalID(k.OldID)
	e.Int(k.ParentNum)
	e.ID(k.NewID)
	encodeWhitespace(e, k.Whitespace)
}

// Bytes returns the encoded key.
func (k DiffSummaryKey) Bytes() []byte {
	e := NewEncoder(48)
	k.Encode(e)
	return e.Data()
}

// String renders the key for logs.
func (k DiffSummaryKey) String() string { return k.PatchListKey().String() }
