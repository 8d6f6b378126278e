// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intraline

import (
	"errors"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/linediff"
	"github.com/AleutianAI/patchcache/services/patch/text"
)

// coalesceGap is the largest gap, in characters, between two character
// edits that are joined into one.
const coalesceGap = 5

var (
	blankLineRE         = regexp.MustCompile(`^[ \t]*(|[{}]|/\*\*?|\*)[ \t]*$`)
	controlBlockStartRE = regexp.MustCompile(`[{:][ \t]*$`)
)

var (
	// ErrKilled is returned by a computation whose worker was killed.
	ErrKilled = errors.New("intraline computation killed")
	// ErrFuelExhausted is returned when a computation used its step budget.
	ErrFuelExhausted = errors.New("intraline computation out of fuel")
)

// Budget bounds one computation.
//
// Description:
//
//	Every refinement pass calls Step. Step fails once the owning worker's
//	kill switch has fired or the fuel is used up, which makes the
//	computation unwind at its next step.
//
// Thread Safety: The kill switch may be set from any goroutine; Step is
// called only by the computing goroutine.
type Budget struct {
	kill *atomic.Bool
	fuel int64

	// CharDiffTimeout bounds each character diff.
	CharDiffTimeout time.Duration
}

// NewBudget creates a budget watching kill. fuel <= 0 means unlimited.
func NewBudget(kill *atomic.Bool, fuel int64, charDiffTimeout time.Duration) *Budget {
	if kill == nil {
		kill = new(atomic.Bool)
	}
	return &Budget{kill: kill, fuel: fuel, CharDiffTimeout: charDiffTimeout}
}

// Killed reports whether the kill switch has fired.
func (b *Budget) Killed() bool { return b.kill.Load() }

// Step consumes n units of fuel.
func (b *Budget) Step(n int) error {
	if b.kill.Load() {
		return ErrKilled
	}
	if b.fuel > 0 {
		b.fuel -= int64(n)
		if b.fuel <= 0 {
			return ErrFuelExhausted
		}
	}
	return nil
}

// Refine computes the character-level refinement of a file's line edits.
//
// Description:
//
//	Line edits separated only by blank-ish lines, or by a single line
//	opening a control block, are combined first. Every resulting replace
//	edit is then diffed character by character over its line span and
//	the character edits are cleaned up: close edits are coalesced, edits
//	touching their predecessor are merged, common edges are trimmed,
//	whitespace-only edits are anchored at their line start, edits are
//	slid toward line starts and whole-line edits take their line feed.
//
// Inputs:
//
//	b - Step budget; nil means unbounded.
//	a, bText - Old and new file content.
//	lineEdits - Line edits between the two.
//
// Outputs:
//
//	[]edit.Edit - The combined line edits; replace edits carry Internal.
//	error - ErrKilled or ErrFuelExhausted when the budget stops the work.
func Refine(b *Budget, a, bText *text.Text, lineEdits []edit.Edit) ([]edit.Edit, error) {
	if b == nil {
		b = NewBudget(nil, 0, 0)
	}
	edits := edit.Clone(lineEdits)
	if edits == nil {
		edits = []edit.Edit{}
	}
	edits = combineLineEdits(edits, a, bText)

	for i, e := range edits {
		if err := b.Step(1); err != nil {
			return nil, err
		}
		if e.Type() != edit.TypeReplace {
			continue
		}
		ca := newCharText(a, e.BeginA, e.EndA)
		cb := newCharText(bText, e.BeginB, e.EndB)
		if err := b.Step(len(ca) + len(cb)); err != nil {
			return nil, err
		}

		words := linediff.Chars(ca, cb, b.CharDiffTimeout)
		words, err := coalesce(b, words, ca, cb)
		if err != nil {
			return nil, err
		}
		words, err = cleanup(b, words, ca, cb)
		if err != nil {
			return nil, err
		}
		edits[i] = e.WithInternal(words)
	}
	return edits, nil
}

// combineLineEdits joins line edits that are only separated by lines
// carrying no real content, or by one shared line opening a block. These
// are mostly reindents that add or remove control flow.
func combineLineEdits(edits []edit.Edit, a, b *text.Text) []edit.Edit {
	for j := 0; j < len(edits)-1; {
		c, n := edits[j], edits[j+1]
		ad := n.BeginA - c.EndA
		bd := n.BeginB - c.EndB
		if (ad >= 1 && isBlankLineGap(a, c.EndA, n.BeginA)) ||
			(bd >= 1 && isBlankLineGap(b, c.EndB, n.BeginB)) ||
			(ad == 1 && bd == 1 && controlBlockStartRE.MatchString(a.Line(c.EndA))) {
			edits[j] = edit.New(c.BeginA, n.EndA, c.BeginB, n.EndB)
			edits = append(edits[:j+1], edits[j+2:]...)
			continue
		}
		j++
	}
	return edits
}

func isBlankLineGap(t *text.Text, begin, end int) bool {
	for ; begin < end; begin++ {
		if !blankLineRE.MatchString(t.Line(begin)) {
			return false
		}
	}
	return true
}

// coalesce joins character edits that are at most coalesceGap apart on
// either side, provided neither gap holds a line feed.
func coalesce(b *Budget, words []edit.Edit, ca, cb charText) ([]edit.Edit, error) {
	for j := 0; j < len(words)-1; {
		if err := b.Step(1); err != nil {
			return nil, err
		}
		c, n := words[j], words[j+1]
		if n.BeginA-c.EndA <= coalesceGap || n.BeginB-c.EndB <= coalesceGap {
			if !ca.containsLF(c.EndA, n.BeginA) && !cb.containsLF(c.EndB, n.BeginB) {
				words[j] = edit.New(c.BeginA, n.EndA, c.BeginB, n.EndB)
				words = append(words[:j+1], words[j+2:]...)
				continue
			}
		}
		j++
	}
	return words, nil
}

// cleanup applies the per-edit fix-up rules in order.
func cleanup(b *Budget, words []edit.Edit, a, bt charText) ([]edit.Edit, error) {
	for j := 0; j < len(words); j++ {
		if err := b.Step(1); err != nil {
			return nil, err
		}
		c := words[j]
		ab, ae, bb, be := c.BeginA, c.EndA, c.BeginB, c.EndB

		// An insert or delete can end up right against the edit before
		// it once that edit was shifted. Fold it in so "abc" does not
		// render as "-ab+bc". The first edit is never folded into.
		if 1 < j {
			p := words[j-1]
			if p.EndA == ab || p.EndB == bb {
				if p.EndA == ab && p.BeginA < p.EndA {
					ab = p.BeginA
				}
				if p.EndB == bb && p.BeginB < p.EndB {
					bb = p.BeginB
				}
				words = append(words[:j-1], words[j:]...)
				j--
			}
		}

		// Drop identical edges.
		for ab < ae && bb < be && a[ab] == bt[bb] {
			ab++
			bb++
		}
		for ab < ae && bb < be && a[ae-1] == bt[be-1] {
			ae--
			be--
		}

		// A whitespace-only edit is anchored at the start of its line
		// unless the previous edit ends on that line.
		var limitA, limitB int
		if 0 < j {
			limitA, limitB = words[j-1].EndA, words[j-1].EndB
		}
		ab, ae = anchorWhitespace(a, ab, ae, limitA)
		bb, be = anchorWhitespace(bt, bb, be, limitB)

		var err error
		if ab, ae, err = slide(b, a, ab, ae); err != nil {
			return nil, err
		}
		if bb, be, err = slide(b, bt, bb, be); err != nil {
			return nil, err
		}

		// A modified line whose line feed was common takes the line feed.
		ae = includeLF(a, ab, ae)
		be = includeLF(bt, bb, be)

		words[j] = edit.New(ab, ae, bb, be)
	}
	return words, nil
}

// anchorWhitespace moves a span of only whitespace to the start of its
// line. The line feed is searched backwards no further than limit.
func anchorWhitespace(t charText, begin, end, limit int) (int, int) {
	if begin >= end || !t.isWhitespace(begin, end) {
		return begin, end
	}
	lf := begin
	for limit < lf && t[lf] != '\n' {
		lf--
	}
	if lf < begin && t[lf] == '\n' {
		return lf + 1, lf + 1 + end - begin
	}
	return begin, end
}

// slide moves an edit on one side. It first slides left while the
// character before the edit equals its last character, staying on the
// same line. Unless the edit already covers whole lines it then slides
// right while the span repeats, stopping after a line feed.
func slide(b *Budget, t charText, begin, end int) (int, int, error) {
	for 0 < begin && begin < end && t[begin-1] != '\n' && t[begin-1] == t[end-1] {
		if err := b.Step(1); err != nil {
			return 0, 0, err
		}
		begin--
		end--
	}
	if !t.isLineStart(begin) || !t.containsLF(begin, end) {
		for begin < end && end < len(t) && t[begin] == t[end] {
			if err := b.Step(1); err != nil {
				return 0, 0, err
			}
			begin++
			end++
			if t[end-1] == '\n' {
				break
			}
		}
	}
	return begin, end, nil
}

func includeLF(t charText, begin, end int) int {
	if begin < end && t.isLineStart(begin) && end < len(t) && t[end-1] != '\n' && t[end] == '\n' {
		return end + 1
	}
	return end
}

// charText is the rune view of a line range, line feeds included.
type charText []rune

func newCharText(t *text.Text, begin, end int) charText {
	return charText([]rune(t.Lines(begin, end)))
}

func (c charText) isLineStart(i int) bool {
	return i == 0 || c[i-1] == '\n'
}

func (c charText) isWhitespace(begin, end int) bool {
	for _, r := range c[begin:end] {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func (c charText) containsLF(begin, end int) bool {
	return strings.ContainsRune(string(c[begin:end]), '\n')
}
