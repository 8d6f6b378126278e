// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package text provides line-indexed views of file content and the
// synthetic texts shown for commit messages and merge lists.
package text

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// binaryProbeSize is how many leading bytes are scanned for NUL.
const binaryProbeSize = 8000

// Text is immutable content with a lazily built line index.
//
// Line numbers are 0-based. A final line without a trailing newline still
// counts as a line; a trailing newline does not start an extra empty line.
//
// Thread Safety: Safe for concurrent use.
type Text struct {
	raw []byte

	once    sync.Once
	decoded string
	starts  []int
	charset string
}

// Empty is the text with no lines.
var Empty = New(nil)

// New wraps raw content.
func New(raw []byte) *Text {
	return &Text{raw: raw}
}

// FromString wraps string content.
func FromString(s string) *Text {
	return New([]byte(s))
}

// Raw returns the original bytes.
func (t *Text) Raw() []byte { return t.raw }

// IsBinary reports whether the content looks binary.
func (t *Text) IsBinary() bool {
	return IsBinary(t.raw)
}

// IsBinary reports whether content holds a NUL byte near its start.
func IsBinary(content []byte) bool {
	probe := content
	if len(probe) > binaryProbeSize {
		probe = probe[:binaryProbeSize]
	}
	return bytes.IndexByte(probe, 0) >= 0
}

// Charset returns the name of the encoding used to decode the content.
func (t *Text) Charset() string {
	t.index()
	return t.charset
}

// Size returns the number of lines.
func (t *Text) Size() int {
	t.index()
	return len(t.starts)
}

// Line returns line i without its terminator.
func (t *Text) Line(i int) string {
	t.index()
	start, end := t.lineBounds(i)
	return strings.TrimSuffix(t.decoded[start:end], "\n")
}

// Lines returns lines [start, end) joined with their terminators.
func (t *Text) Lines(start, end int) string {
	t.index()
	if start >= end {
		return ""
	}
	s, _ := t.lineBounds(start)
	_, e := t.lineBounds(end - 1)
	return t.decoded[s:e]
}

// LineStrings returns every line without terminators.
func (t *Text) LineStrings() []string {
	n := t.Size()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = t.Line(i)
	}
	return out
}

// String returns the decoded content.
func (t *Text) String() string {
	t.index()
	return t.decoded
}

// MissingNewlineAtEnd reports whether the last line lacks a terminator.
func (t *Text) MissingNewlineAtEnd() bool {
	t.index()
	return len(t.decoded) > 0 && t.decoded[len(t.decoded)-1] != '\n'
}

func (t *Text) lineBounds(i int) (int, int) {
	start := t.starts[i]
	end := len(t.decoded)
	if i+1 < len(t.starts) {
		end = t.starts[i+1]
	}
	return start, end
}

func (t *Text) index() {
	t.once.Do(func() {
		t.decoded, t.charset = decode(t.raw)
		t.starts = lineStarts(t.decoded)
	})
}

func lineStarts(s string) []int {
	if s == "" {
		return nil
	}
	starts := []int{0}
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// decode converts raw content to UTF-8. Valid UTF-8 is kept as is; other
// content is decoded with the detected charset, falling back to ISO-8859-1
// which maps every byte.
func decode(raw []byte) (string, string) {
	if utf8.Valid(raw) {
		return string(raw), "UTF-8"
	}
	if enc, name := detect(raw); enc != nil {
		if out, err := enc.NewDecoder().Bytes(raw); err == nil {
			return string(out), name
		}
	}
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	return string(out), "ISO-8859-1"
}

func detect(raw []byte) (encoding.Encoding, string) {
	res, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || res == nil || res.Confidence < 50 {
		return nil, ""
	}
	enc, err := htmlindex.Get(res.Charset)
	if err != nil {
		return nil, ""
	}
	return enc, res.Charset
}
