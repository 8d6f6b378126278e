// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"errors"

	"github.com/AleutianAI/patchcache/services/patch/automerge"
	"github.com/AleutianAI/patchcache/services/patch/loader"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

// Errors returned by the Service, for use with errors.Is.
var (
	ErrNotAvailable            = loader.ErrNotAvailable
	ErrObjectTooLarge          = loader.ErrObjectTooLarge
	ErrCombinedDiffUnsupported = loader.ErrCombinedDiffUnsupported
	ErrTimeout                 = loader.ErrTimeout
	ErrNoMergeBase             = automerge.ErrNoMergeBase
	ErrObjectNotFound          = vcs.ErrObjectNotFound
	ErrRefNotFound             = vcs.ErrRefNotFound
	ErrProjectNotFound         = vcs.ErrProjectNotFound

	// ErrInvalidPatchSet is returned for a patch set that has neither a
	// revision nor valid change and patch set numbers.
	ErrInvalidPatchSet = errors.New("invalid patch set reference")

	// ErrUnknownCache is returned by ClearCache for a name that is not
	// one of the cache name constants.
	ErrUnknownCache = errors.New("unknown cache")
)

// LoadError carries the key and project of a failed patch list load.
type LoadError = loader.LoadError
