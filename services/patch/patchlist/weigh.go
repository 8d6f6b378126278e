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

import "github.com/AleutianAI/patchcache/services/patch/edit"

// Memory estimation constants, in bytes.
const (
	listOverhead  = 16 + 4*8 + 2*36
	entryOverhead = 16 + 4*4 + 2*8 + 2*20 + 3*24
	editBytes     = 4*8 + 24
	pathByteCost  = 2
)

// EstimatedMemoryBytes approximates the heap held by the patch list.
//
// Estimates are heuristic: names are charged per byte, headers by length
// and every edit (internal ones included) a fixed amount.
func (p *PatchList) EstimatedMemoryBytes() int64 {
	size := int64(listOverhead)
	for _, e := range p.Entries {
		size += e.EstimatedMemoryBytes()
	}
	return size
}

// EstimatedMemoryBytes approximates the heap held by one entry.
func (e *Entry) EstimatedMemoryBytes() int64 {
	size := int64(entryOverhead)
	size += int64(pathByteCost * (len(e.OldName) + len(e.NewName)))
	size += int64(len(e.Header))
	size += EditsMemoryBytes(e.Edits)
	size += EditsMemoryBytes(e.EditsDueToRebase)
	return size
}

// EstimatedMemoryBytes approximates the heap held by a summary.
func (s *DiffSummary) EstimatedMemoryBytes() int64 {
	size := int64(16 + 2*8 + 24)
	for _, p := range s.Paths {
		size += int64(16 + pathByteCost*len(p))
	}
	return size
}

// EditsMemoryBytes approximates the heap held by an edit list.
func EditsMemoryBytes(edits []edit.Edit) int64 {
	var size int64
	for _, ed := range edits {
		size += editBytes
		if ed.Internal != nil {
			size += EditsMemoryBytes(ed.Internal)
		}
	}
	return size
}
