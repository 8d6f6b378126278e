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
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ObjectID is a 20-byte content hash naming a commit, tree or blob.
//
// The zero value means "absent".
type ObjectID [20]byte

// ZeroID is the absent object id.
var ZeroID ObjectID

// EmptyTreeID names the tree with no entries.
var EmptyTreeID = MustParseID("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

// ParseID parses a 40 character hex object id.
func ParseID(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 2*len(id) {
		return ZeroID, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ZeroID, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

// MustParseID is ParseID for constants. Panics on malformed input.
func MustParseID(s string) ObjectID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the 40 character hex form.
func (id ObjectID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is absent.
func (id ObjectID) IsZero() bool { return id == ZeroID }

// Abbreviate returns the first n hex characters.
func (id ObjectID) Abbreviate(n int) string {
	s := id.String()
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[:n]
}

// FileMode is the git tree entry mode.
type FileMode uint32

const (
	ModeMissing    FileMode = 0
	ModeTree       FileMode = 0o040000
	ModeRegular    FileMode = 0o100644
	ModeExecutable FileMode = 0o100755
	ModeSymlink    FileMode = 0o120000
	ModeGitlink    FileMode = 0o160000
)

// IsFile reports whether the mode names blob content (files and symlinks).
func (m FileMode) IsFile() bool {
	return m == ModeRegular || m == ModeExecutable || m == ModeSymlink
}

// IsGitlink reports whether the mode names a submodule commit.
func (m FileMode) IsGitlink() bool { return m == ModeGitlink }

// String returns the octal form used in diff headers.
func (m FileMode) String() string { return fmt.Sprintf("%06o", uint32(m)) }

// Signature identifies an author or committer.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is a parsed commit object.
type Commit struct {
	ID        ObjectID
	Tree      ObjectID
	Parents   []ObjectID
	Author    Signature
	Committer Signature
	Message   string
}

// ParentCount returns the number of parents.
func (c *Commit) ParentCount() int { return len(c.Parents) }

// ShortMessage returns the first paragraph of the message on one line.
func (c *Commit) ShortMessage() string {
	msg := strings.TrimLeft(c.Message, "\n")
	if i := strings.Index(msg, "\n\n"); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.TrimRight(msg, "\n")
	return strings.ReplaceAll(msg, "\n", " ")
}

// TreeEntry is one leaf of a recursively listed tree.
type TreeEntry struct {
	Path string
	Mode FileMode
	ID   ObjectID
}

// ChangeKind classifies a tree diff entry.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeModify
	ChangeDelete
	ChangeRename
	ChangeCopy
)

// String returns the single letter git uses for the change.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "A"
	case ChangeModify:
		return "M"
	case ChangeDelete:
		return "D"
	case ChangeRename:
		return "R"
	case ChangeCopy:
		return "C"
	default:
		return "?"
	}
}

// DiffEntry is one path-level difference between two trees.
//
// OldPath is empty for additions and NewPath is empty for deletions.
type DiffEntry struct {
	Kind    ChangeKind
	OldPath string
	NewPath string
	OldMode FileMode
	NewMode FileMode
	OldID   ObjectID
	NewID   ObjectID
	Score   int
}

// Path returns the new path, or the old path for deletions.
func (d DiffEntry) Path() string {
	if d.NewPath != "" {
		return d.NewPath
	}
	return d.OldPath
}

// DiffOptions tunes tree diffs.
type DiffOptions struct {
	// DetectRenames pairs deleted and added paths with similar content.
	DetectRenames bool

	// RenameScore is the minimum similarity percentage for a rename.
	RenameScore int
}
