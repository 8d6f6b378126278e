// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package linediff computes line-level edit lists between two texts.
//
// Two algorithms are available:
//
//	Myers       - sergi/go-diff over a line-to-rune encoding. Honours the
//	              context deadline and degrades to a coarser (still valid)
//	              result when the deadline passes.
//	NoFallback  - pmezard/go-difflib SequenceMatcher. Never consults the
//	              clock; used as the retry after a header timeout.
//
// Lines are compared after whitespace normalization chosen by Whitespace.
package linediff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Algorithm selects the diff implementation.
type Algorithm int

const (
	// Myers is the default deadline-aware algorithm.
	Myers Algorithm = iota

	// NoFallback is the deterministic algorithm used for retries.
	NoFallback
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case Myers:
		return "myers"
	case NoFallback:
		return "no-fallback"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// Whitespace selects how lines are normalized before comparison.
type Whitespace int

const (
	// IgnoreNone compares lines byte for byte.
	IgnoreNone Whitespace = iota

	// IgnoreTrailing ignores whitespace at the end of lines.
	IgnoreTrailing

	// IgnoreLeadingAndTrailing ignores whitespace at both ends of lines.
	IgnoreLeadingAndTrailing

	// IgnoreAll ignores every whitespace character.
	IgnoreAll
)

// String returns the configuration name of the policy.
func (w Whitespace) String() string {
	switch w {
	case IgnoreNone:
		return "IGNORE_NONE"
	case IgnoreTrailing:
		return "IGNORE_TRAILING"
	case IgnoreLeadingAndTrailing:
		return "IGNORE_LEADING_AND_TRAILING"
	case IgnoreAll:
		return "IGNORE_ALL"
	default:
		return fmt.Sprintf("WHITESPACE(%d)", int(w))
	}
}

// ParseWhitespace converts a configuration name into a policy.
func ParseWhitespace(s string) (Whitespace, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "IGNORE_NONE", "NONE":
		return IgnoreNone, nil
	case "IGNORE_TRAILING", "TRAILING":
		return IgnoreTrailing, nil
	case "IGNORE_LEADING_AND_TRAILING", "LEADING_AND_TRAILING":
		return IgnoreLeadingAndTrailing, nil
	case "IGNORE_ALL", "ALL":
		return IgnoreAll, nil
	default:
		return IgnoreNone, fmt.Errorf("%w: %q", ErrUnknownWhitespace, s)
	}
}

var (
	// ErrUnknownWhitespace is returned by ParseWhitespace for unknown names.
	ErrUnknownWhitespace = errors.New("unknown whitespace policy")

	// ErrTooManyLines is returned when the line alphabet exceeds the rune space.
	ErrTooManyLines = errors.New("too many distinct lines for rune encoding")
)

// Normalize applies the whitespace policy to one line.
func (w Whitespace) Normalize(line string) string {
	switch w {
	case IgnoreTrailing:
		return strings.TrimRight(line, " \t\r\f\v")
	case IgnoreLeadingAndTrailing:
		return strings.Trim(line, " \t\r\f\v")
	case IgnoreAll:
		return strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, line)
	default:
		return line
	}
}

// Diff computes the edit list transforming a into b.
//
// Description:
//
//	Lines are normalized with ws before comparison. Edits are returned
//	sorted by position, non-overlapping, and never empty. Adjacent
//	delete/insert pairs are reported as a single replace edit.
//
// Inputs:
//
//	ctx - Bounds the Myers algorithm. A passed deadline yields a coarser
//	      result rather than an error. A cancelled context returns ctx.Err().
//	a, b - Lines without terminators.
//	ws - Whitespace policy.
//	alg - Algorithm to use.
//
// Outputs:
//
//	[]edit.Edit - Line edits.
//	error - Non-nil if the context was cancelled before completion.
func Diff(ctx context.Context, a, b []string, ws Whitespace, alg Algorithm) ([]edit.Edit, error) {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	na := normalizeAll(a, ws)
	nb := normalizeAll(b, ws)

	// Common prefix and suffix are stripped up front; both algorithms
	// then only see the differing middle.
	prefix := commonPrefix(na, nb)
	suffix := commonSuffix(na[prefix:], nb[prefix:])
	midA := na[prefix : len(na)-suffix]
	midB := nb[prefix : len(nb)-suffix]

	var (
		edits []edit.Edit
		err   error
	)
	switch {
	case len(midA) == 0 && len(midB) == 0:
		return []edit.Edit{}, nil
	case len(midA) == 0 || len(midB) == 0:
		edits = []edit.Edit{edit.New(0, len(midA), 0, len(midB))}
	case alg == NoFallback:
		edits = sequenceMatcher(midA, midB)
	default:
		edits, err = myers(ctx, midA, midB)
		if errors.Is(err, ErrTooManyLines) {
			edits, err = sequenceMatcher(midA, midB), nil
		}
	}
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}

	for i := range edits {
		edits[i] = edits[i].Shift(prefix, prefix)
	}
	return edits, nil
}

func normalizeAll(lines []string, ws Whitespace) []string {
	if ws == IgnoreNone {
		return lines
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = ws.Normalize(l)
	}
	return out
}

func commonPrefix(a, b []string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffix(a, b []string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}

// myers runs diffmatchpatch over an encoding that maps each distinct line
// to one rune.
func myers(ctx context.Context, a, b []string) ([]edit.Edit, error) {
	ra, rb, err := encodeLines(a, b)
	if err != nil {
		return nil, err
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		dmp.DiffTimeout = remaining
	}

	diffs := dmp.DiffMainRunes(ra, rb, false)
	return diffsToEdits(diffs), nil
}

// Chars diffs two rune sequences element by element. A positive timeout
// bounds the computation; when it passes the result is coarser but still
// correct.
func Chars(a, b []rune, timeout time.Duration) []edit.Edit {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = timeout
	return diffsToEdits(dmp.DiffMainRunes(a, b, false))
}

// encodeLines assigns each distinct line a rune, skipping the surrogate
// range so that the rune slices survive conversion to string.
func encodeLines(a, b []string) ([]rune, []rune, error) {
	index := make(map[string]rune, len(a)+len(b))
	next := 0
	encode := func(lines []string) ([]rune, error) {
		out := make([]rune, len(lines))
		for i, l := range lines {
			r, ok := index[l]
			if !ok {
				r = lineRune(next)
				if r > utf8.MaxRune {
					return nil, ErrTooManyLines
				}
				index[l] = r
				next++
			}
			out[i] = r
		}
		return out, nil
	}
	ra, err := encode(a)
	if err != nil {
		return nil, nil, err
	}
	rb, err := encode(b)
	if err != nil {
		return nil, nil, err
	}
	return ra, rb, nil
}

func lineRune(n int) rune {
	const surrogateMin, surrogateMax = 0xD800, 0xDFFF
	r := rune(n)
	if r >= surrogateMin {
		r += surrogateMax - surrogateMin + 1
	}
	return r
}

// diffsToEdits folds a diffmatchpatch operation list into edits.
func diffsToEdits(diffs []diffmatchpatch.Diff) []edit.Edit {
	var (
		edits   []edit.Edit
		posA    int
		posB    int
		pending *edit.Edit
	)
	flush := func() {
		if pending != nil {
			edits = append(edits, *pending)
			pending = nil
		}
	}
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			posA += n
			posB += n
		case diffmatchpatch.DiffDelete:
			if pending == nil {
				pending = &edit.Edit{BeginA: posA, EndA: posA, BeginB: posB, EndB: posB}
			}
			posA += n
			pending.EndA = posA
		case diffmatchpatch.DiffInsert:
			if pending == nil {
				pending = &edit.Edit{BeginA: posA, EndA: posA, BeginB: posB, EndB: posB}
			}
			posB += n
			pending.EndB = posB
		}
	}
	flush()
	if edits == nil {
		edits = []edit.Edit{}
	}
	return edits
}

// sequenceMatcher runs difflib and converts its opcodes into edits.
func sequenceMatcher(a, b []string) []edit.Edit {
	m := difflib.NewMatcher(a, b)
	edits := []edit.Edit{}
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		e := edit.New(op.I1, op.I2, op.J1, op.J2)
		// difflib may report a delete followed by an insert at the
		// same point; fold those into one replace.
		if n := len(edits); n > 0 && edits[n-1].EndA == e.BeginA && edits[n-1].EndB == e.BeginB {
			edits[n-1].EndA = e.EndA
			edits[n-1].EndB = e.EndB
			continue
		}
		edits = append(edits, e)
	}
	return edits
}
