// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intraline refines line-level replace edits into character-level
// edits.
//
// Computation runs on a pool of persistent workers. A request that
// exceeds its timeout kills the worker serving it and reports Timeout;
// the caller falls back to line-level display.
package intraline

import (
	"fmt"

	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/text"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

// Status discriminates an intraline result.
type Status byte

const (
	// StatusEditList means Edits holds the refined edits.
	StatusEditList Status = 'E'
	// StatusDisabled means intraline computation is turned off.
	StatusDisabled Status = 'D'
	// StatusTimeout means the computation did not finish in time.
	StatusTimeout Status = 'T'
	// StatusError means the computation failed.
	StatusError Status = 'X'
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusEditList:
		return "EDIT_LIST"
	case StatusDisabled:
		return "DISABLED"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", byte(s))
	}
}

// IntraLineDiff is the result of refining one file.
//
// Only StatusEditList carries edits. Replace edits in Edits carry their
// character refinement in Internal, with offsets relative to the start
// of the edit's first line on each side.
type IntraLineDiff struct {
	Status Status
	Edits  []edit.Edit
}

// Disabled is the result returned when intraline is turned off.
func Disabled() IntraLineDiff { return IntraLineDiff{Status: StatusDisabled} }

// Timeout is the result returned when a computation ran out of time.
func Timeout() IntraLineDiff { return IntraLineDiff{Status: StatusTimeout} }

// Failed is the result returned when a computation failed.
func Failed() IntraLineDiff { return IntraLineDiff{Status: StatusError} }

// Args carries what is needed to refine one file. Project, Commit and
// Path only label logs and metrics.
type Args struct {
	AText   *text.Text
	BText   *text.Text
	Edits   []edit.Edit
	Project string
	Commit  vcs.ObjectID
	Path    string
}
