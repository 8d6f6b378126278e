// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package automerge

import (
	"bytes"
	"context"
	"slices"
	"strings"

	"github.com/AleutianAI/patchcache/services/patch/linediff"
)

// chunkKind classifies a region of merged content.
type chunkKind int

const (
	chunkStable chunkKind = iota
	chunkConflict
)

// chunk is one region of a three-way merge. Stable chunks carry their
// lines in ours; conflict chunks carry all three sides.
type chunk struct {
	kind   chunkKind
	base   []string
	ours   []string
	theirs []string
}

// region is a base range replaced by lines of one side.
type region struct {
	baseStart int
	baseEnd   int
	lines     []string
}

// MergeResult is the outcome of merging one file.
type MergeResult struct {
	chunks []chunk
	eofLF  bool
}

// HasConflicts reports whether any region could not be merged.
func (m *MergeResult) HasConflicts() bool {
	for _, c := range m.chunks {
		if c.kind == chunkConflict {
			return true
		}
	}
	return false
}

// ConflictCount returns the number of conflicting regions.
func (m *MergeResult) ConflictCount() int {
	n := 0
	for _, c := range m.chunks {
		if c.kind == chunkConflict {
			n++
		}
	}
	return n
}

// Merge3 merges ours and theirs, both derived from base, line by line.
//
// Description:
//
//	Both sides are diffed against base. Changes of one side that do not
//	touch a change of the other are taken as they are. Changes that
//	overlap or touch are grouped; a group where both sides produced the
//	same lines is taken once, any other group is a conflict.
//
// Inputs:
//
//	ctx - Bounds the underlying line diffs.
//	base, ours, theirs - File contents.
//
// Outputs:
//
//	*MergeResult - The merged regions.
//	error - Non-nil if ctx was cancelled.
func Merge3(ctx context.Context, base, ours, theirs []byte) (*MergeResult, error) {
	bl, ol, tl := splitLines(base), splitLines(ours), splitLines(theirs)

	ro, err := regions(ctx, bl, ol)
	if err != nil {
		return nil, err
	}
	rt, err := regions(ctx, bl, tl)
	if err != nil {
		return nil, err
	}

	res := &MergeResult{eofLF: endsWithLF(base) || endsWithLF(ours) || endsWithLF(theirs) || len(base)+len(ours)+len(theirs) == 0}
	pos := 0
	stable := func(lines []string) {
		if len(lines) == 0 {
			return
		}
		if n := len(res.chunks); n > 0 && res.chunks[n-1].kind == chunkStable {
			res.chunks[n-1].ours = append(res.chunks[n-1].ours, lines...)
			return
		}
		res.chunks = append(res.chunks, chunk{kind: chunkStable, ours: slices.Clone(lines)})
	}

	i, j := 0, 0
	for i < len(ro) || j < len(rt) {
		switch {
		case j >= len(rt) || (i < len(ro) && ro[i].baseEnd < rt[j].baseStart):
			stable(bl[pos:ro[i].baseStart])
			stable(ro[i].lines)
			pos = ro[i].baseEnd
			i++
		case i >= len(ro) || rt[j].baseEnd < ro[i].baseStart:
			stable(bl[pos:rt[j].baseStart])
			stable(rt[j].lines)
			pos = rt[j].baseEnd
			j++
		default:
			start := min(ro[i].baseStart, rt[j].baseStart)
			end := max(ro[i].baseEnd, rt[j].baseEnd)
			oi, tj := i, j
			i++
			j++
			for grown := true; grown; {
				grown = false
				for i < len(ro) && ro[i].baseStart <= end {
					end = max(end, ro[i].baseEnd)
					i++
					grown = true
				}
				for j < len(rt) && rt[j].baseStart <= end {
					end = max(end, rt[j].baseEnd)
					j++
					grown = true
				}
			}
			stable(bl[pos:start])
			oursLines := apply(bl, start, end, ro[oi:i])
			theirLines := apply(bl, start, end, rt[tj:j])
			if slices.Equal(oursLines, theirLines) {
				stable(oursLines)
			} else {
				res.chunks = append(res.chunks, chunk{
					kind:   chunkConflict,
					base:   slices.Clone(bl[start:end]),
					ours:   oursLines,
					theirs: theirLines,
				})
			}
			pos = end
		}
	}
	stable(bl[pos:])
	return res, nil
}

// Content renders a clean merge result. It must not have conflicts.
func (m *MergeResult) Content() []byte {
	return m.Format("", "", "")
}

// Format renders the merge with diff3 style conflict blocks.
func (m *MergeResult) Format(baseName, oursName, theirsName string) []byte {
	var b bytes.Buffer
	var lines []string
	for _, c := range m.chunks {
		if c.kind == chunkStable {
			lines = append(lines, c.ours...)
			continue
		}
		lines = append(lines, marker("<<<<<<<", oursName))
		lines = append(lines, c.ours...)
		lines = append(lines, marker("|||||||", baseName))
		lines = append(lines, c.base...)
		lines = append(lines, "=======")
		lines = append(lines, c.theirs...)
		lines = append(lines, marker(">>>>>>>", theirsName))
	}
	for i, l := range lines {
		b.WriteString(l)
		if i < len(lines)-1 || m.eofLF || m.HasConflicts() {
			b.WriteByte('\n')
		}
	}
	return b.Bytes()
}

func marker(prefix, name string) string {
	if name == "" {
		return prefix
	}
	return prefix + " " + name
}

func regions(ctx context.Context, base, side []string) ([]region, error) {
	edits, err := linediff.Diff(ctx, base, side, linediff.IgnoreNone, linediff.Myers)
	if err != nil {
		return nil, err
	}
	out := make([]region, len(edits))
	for k, e := range edits {
		out[k] = region{baseStart: e.BeginA, baseEnd: e.EndA, lines: side[e.BeginB:e.EndB]}
	}
	return out, nil
}

// apply rebuilds one side's lines for base[start:end] from its regions.
func apply(base []string, start, end int, rs []region) []string {
	out := []string{}
	p := start
	for _, r := range rs {
		out = append(out, base[p:r.baseStart]...)
		out = append(out, r.lines...)
		p = r.baseEnd
	}
	return append(out, base[p:end]...)
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return []string{}
	}
	s := strings.TrimSuffix(string(b), "\n")
	return strings.Split(s, "\n")
}

func endsWithLF(b []byte) bool {
	return len(b) > 0 && b[len(b)-1] == '\n'
}
