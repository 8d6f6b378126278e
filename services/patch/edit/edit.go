// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package edit defines the region-of-difference type shared by every stage
// of the patch pipeline.
//
// An Edit describes a half-open range [BeginA, EndA) of sequence A replaced
// by [BeginB, EndB) of sequence B. Line-level edits index lines (0-based);
// character-level edits stored in Internal index runes of the region text.
package edit

import (
	"fmt"
	"sort"
)

// Type classifies an Edit by which sides are empty.
type Type int

const (
	// TypeInsert adds content on side B only.
	TypeInsert Type = iota

	// TypeDelete removes content from side A only.
	TypeDelete

	// TypeReplace changes content on both sides.
	TypeReplace

	// TypeEmpty covers no content on either side.
	TypeEmpty
)

// String returns the lower-case name of the type.
func (t Type) String() string {
	switch t {
	case TypeInsert:
		return "insert"
	case TypeDelete:
		return "delete"
	case TypeReplace:
		return "replace"
	case TypeEmpty:
		return "empty"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Edit is one region of difference.
//
// Internal is only populated for line-level replace edits refined by the
// intraline engine. Its coordinates are rune offsets relative to the start
// of the region on each side.
type Edit struct {
	BeginA int
	EndA   int
	BeginB int
	EndB   int

	Internal []Edit
}

// New returns an edit over the given ranges.
func New(beginA, endA, beginB, endB int) Edit {
	return Edit{BeginA: beginA, EndA: endA, BeginB: beginB, EndB: endB}
}

// Type reports the edit's type.
func (e Edit) Type() Type {
	switch {
	case e.BeginA < e.EndA && e.BeginB < e.EndB:
		return TypeReplace
	case e.BeginA < e.EndA:
		return TypeDelete
	case e.BeginB < e.EndB:
		return TypeInsert
	default:
		return TypeEmpty
	}
}

// LengthA is the number of elements covered on side A.
func (e Edit) LengthA() int { return e.EndA - e.BeginA }

// LengthB is the number of elements covered on side B.
func (e Edit) LengthB() int { return e.EndB - e.BeginB }

// IsEmpty is true when neither side covers anything.
func (e Edit) IsEmpty() bool { return e.Type() == TypeEmpty }

// Valid reports whether both ranges are well formed.
func (e Edit) Valid() bool {
	return e.BeginA >= 0 && e.BeginB >= 0 && e.BeginA <= e.EndA && e.BeginB <= e.EndB
}

// HasInternal reports whether the edit carries character-level refinement.
func (e Edit) HasInternal() bool { return e.Internal != nil }

// Bounds returns a copy of e without internal edits.
func (e Edit) Bounds() Edit {
	return Edit{BeginA: e.BeginA, EndA: e.EndA, BeginB: e.BeginB, EndB: e.EndB}
}

// WithInternal returns a copy of e carrying the given character edits.
func (e Edit) WithInternal(internal []Edit) Edit {
	out := e.Bounds()
	out.Internal = internal
	return out
}

// Shift moves both sides by the given amounts.
func (e Edit) Shift(deltaA, deltaB int) Edit {
	out := e
	out.BeginA += deltaA
	out.EndA += deltaA
	out.BeginB += deltaB
	out.EndB += deltaB
	return out
}

// Before returns the part of e that precedes cut on both sides.
func (e Edit) Before(cut Edit) Edit {
	return Edit{BeginA: e.BeginA, EndA: cut.BeginA, BeginB: e.BeginB, EndB: cut.BeginB}
}

// After returns the part of e that follows cut on both sides.
func (e Edit) After(cut Edit) Edit {
	return Edit{BeginA: cut.EndA, EndA: e.EndA, BeginB: cut.EndB, EndB: e.EndB}
}

// Equal compares ranges and internal edits.
func (e Edit) Equal(o Edit) bool {
	if e.BeginA != o.BeginA || e.EndA != o.EndA || e.BeginB != o.BeginB || e.EndB != o.EndB || len(e.Internal) != len(o.Internal) {
		return false
	}
	if (e.Internal == nil) != (o.Internal == nil) {
		return false
	}
	for i := range e.Internal {
		if !e.Internal[i].Equal(o.Internal[i]) {
			return false
		}
	}
	return true
}

// String renders the edit the way diff tools describe hunks.
func (e Edit) String() string {
	return fmt.Sprintf("%s(%d-%d,%d-%d)", e.Type(), e.BeginA, e.EndA, e.BeginB, e.EndB)
}

// SortByA orders edits by their position on side A, then side B.
func SortByA(edits []Edit) {
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].BeginA != edits[j].BeginA {
			return edits[i].BeginA < edits[j].BeginA
		}
		return edits[i].BeginB < edits[j].BeginB
	})
}

// SortByB orders edits by their position on side B, then side A.
func SortByB(edits []Edit) {
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].BeginB != edits[j].BeginB {
			return edits[i].BeginB < edits[j].BeginB
		}
		return edits[i].BeginA < edits[j].BeginA
	})
}

// Counts returns the number of lines removed (side A) and added (side B).
func Counts(edits []Edit) (deletions, insertions int) {
	for _, e := range edits {
		deletions += e.LengthA()
		insertions += e.LengthB()
	}
	return deletions, insertions
}

// Clone deep-copies a list of edits.
func Clone(edits []Edit) []Edit {
	if edits == nil {
		return nil
	}
	out := make([]Edit, len(edits))
	for i, e := range edits {
		out[i] = e.Bounds()
		if e.Internal != nil {
			out[i].Internal = Clone(e.Internal)
		}
	}
	return out
}
