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
	"bytes"
	"fmt"
	"strings"

	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/text"
	"github.com/sourcegraph/go-diff/diff"
)

// DefaultContext is the number of unchanged lines around each hunk.
const DefaultContext = 3

// FormatUnified renders an entry as a git-style unified patch.
//
// Description:
//
//	Extended header lines come from the entry header. Hunks are built from
//	the entry edits over the supplied texts with contextLines lines of
//	context. Binary entries render their header only.
//
// Inputs:
//
//	ent - The entry to render.
//	oldText, newText - File content of both sides. text.Empty for a missing side.
//	contextLines - Context size; negative means DefaultContext.
//
// Outputs:
//
//	[]byte - The patch text.
//	error - Non-nil if the patch printer fails.
func FormatUnified(ent *Entry, oldText, newText *text.Text, contextLines int) ([]byte, error) {
	if contextLines < 0 {
		contextLines = DefaultContext
	}

	fd := &diff.FileDiff{}
	for _, line := range ent.HeaderLines() {
		switch {
		case strings.HasPrefix(line, "--- "):
			fd.OrigName = strings.TrimPrefix(line, "--- ")
		case strings.HasPrefix(line, "+++ "):
			fd.NewName = strings.TrimPrefix(line, "+++ ")
		default:
			fd.Extended = append(fd.Extended, line)
		}
	}
	if ent.PatchType == Binary || fd.OrigName == "" && fd.NewName == "" {
		return fmt.Appendf(nil, "%s\n", strings.Join(fd.Extended, "\n")), nil
	}

	fd.Hunks = buildHunks(ent.Edits, oldText, newText, contextLines)
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return nil, fmt.Errorf("print patch for %s: %w", ent.Path(), err)
	}
	return out, nil
}

// buildHunks groups edits whose context windows touch into hunks.
func buildHunks(edits []edit.Edit, a, b *text.Text, ctx int) []*diff.Hunk {
	hunks := []*diff.Hunk{}
	for i := 0; i < len(edits); {
		j := i
		for j+1 < len(edits) && edits[j+1].BeginA-edits[j].EndA <= 2*ctx {
			j++
		}
		first, last := edits[i], edits[j]

		startA := max(first.BeginA-ctx, 0)
		startB := max(first.BeginB-ctx, 0)
		endA := min(last.EndA+ctx, a.Size())
		endB := min(last.EndB+ctx, b.Size())

		var body bytes.Buffer
		posA := startA
		for _, e := range edits[i : j+1] {
			for ; posA < e.BeginA; posA++ {
				writeLine(&body, ' ', a.Line(posA))
			}
			for k := e.BeginA; k < e.EndA; k++ {
				writeLine(&body, '-', a.Line(k))
			}
			for k := e.BeginB; k < e.EndB; k++ {
				writeLine(&body, '+', b.Line(k))
			}
			posA = e.EndA
		}
		for ; posA < endA; posA++ {
			writeLine(&body, ' ', a.Line(posA))
		}

		hunks = append(hunks, &diff.Hunk{
			OrigStartLine: hunkStart(startA, endA),
			OrigLines:     int32(endA - startA),
			NewStartLine:  hunkStart(startB, endB),
			NewLines:      int32(endB - startB),
			Body:          body.Bytes(),
		})
		i = j + 1
	}
	return hunks
}

// hunkStart converts a 0-based start into the 1-based hunk header form,
// where an empty range names the line before it.
func hunkStart(start, end int) int32 {
	if start == end {
		return int32(start)
	}
	return int32(start + 1)
}

func writeLine(b *bytes.Buffer, prefix byte, line string) {
	b.WriteByte(prefix)
	b.WriteString(line)
	b.WriteByte('\n')
}
