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

	"github.com/AleutianAI/patchcache/services/patch/vcs"
	"github.com/sourcegraph/go-diff/diff"
)

const devNull = "/dev/null"

// HeaderInput describes one file for header generation.
type HeaderInput struct {
	ChangeType ChangeType
	OldName    string
	NewName    string
	OldMode    vcs.FileMode
	NewMode    vcs.FileMode
	OldID      vcs.ObjectID
	NewID      vcs.ObjectID
	Score      int
	Binary     bool
}

// FileHeader renders the git-style header of a file entry.
func FileHeader(in HeaderInput) []byte {
	oldName, newName := in.OldName, in.NewName
	if oldName == "" {
		oldName = newName
	}
	if newName == "" {
		newName = oldName
	}

	fd := &diff.FileDiff{Extended: []string{fmt.Sprintf("diff --git a/%s b/%s", oldName, newName)}}
	switch in.ChangeType {
	case Added:
		fd.Extended = append(fd.Extended, fmt.Sprintf("new file mode %s", in.NewMode))
	case Deleted:
		fd.Extended = append(fd.Extended, fmt.Sprintf("deleted file mode %s", in.OldMode))
	case Renamed, Copied:
		verb := "rename"
		if in.ChangeType == Copied {
			verb = "copy"
		}
		fd.Extended = append(fd.Extended,
			fmt.Sprintf("similarity index %d%%", in.Score),
			fmt.Sprintf("%s from %s", verb, in.OldName),
			fmt.Sprintf("%s to %s", verb, in.NewName))
	}
	if in.ChangeType != Added && in.ChangeType != Deleted && in.OldMode != in.NewMode {
		fd.Extended = append(fd.Extended,
			fmt.Sprintf("old mode %s", in.OldMode),
			fmt.Sprintf("new mode %s", in.NewMode))
	}

	if in.OldID != in.NewID {
		index := fmt.Sprintf("index %s..%s", in.OldID.Abbreviate(7), in.NewID.Abbreviate(7))
		if in.OldMode == in.NewMode {
			index += " " + in.NewMode.String()
		}
		fd.Extended = append(fd.Extended, index)
	} else if in.ChangeType == Renamed || in.ChangeType == Copied {
		return printHeader(fd)
	}

	if in.Binary {
		fd.Extended = append(fd.Extended, fmt.Sprintf("Binary files %s and %s differ",
			sideName("a/", in.OldName), sideName("b/", in.NewName)))
		return printHeader(fd)
	}
	fd.OrigName = sideName("a/", in.OldName)
	fd.NewName = sideName("b/", in.NewName)
	fd.Hunks = []*diff.Hunk{}
	return printHeader(fd)
}

// SyntheticHeader renders the header of a magic entry. hasOld is false
// when the old side is empty.
func SyntheticHeader(name string, hasOld bool) []byte {
	old := devNull
	if hasOld {
		old = "a/" + name
	}
	return printHeader(&diff.FileDiff{
		Extended: []string{fmt.Sprintf("diff --git a/%s b/%s", name, name)},
		OrigName: old,
		NewName:  "b/" + name,
		Hunks:    []*diff.Hunk{},
	})
}

// printHeader prints a file diff without hunks. A non-nil empty Hunks
// slice makes the printer emit the ---/+++ lines. The printer only fails
// on writes to its own buffer, which never fail.
func printHeader(fd *diff.FileDiff) []byte {
	out, _ := diff.PrintFileDiff(fd)
	return out
}

func sideName(prefix, name string) string {
	if name == "" {
		return devNull
	}
	return prefix + name
}
