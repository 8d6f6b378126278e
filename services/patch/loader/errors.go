// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/patchcache/services/patch/keys"
)

// Sentinel errors for patch list computation.
var (
	// ErrNotAvailable indicates the repository or one of its objects
	// could not be read. Such failures are transient and never cached.
	ErrNotAvailable = errors.New("patch list not available")

	// ErrObjectTooLarge indicates a blob exceeded the configured size
	// limit. The failure is permanent for the key and may be cached.
	ErrObjectTooLarge = errors.New("object too large")

	// ErrCombinedDiffUnsupported indicates a merge with more than two
	// parents was asked for its default comparison.
	ErrCombinedDiffUnsupported = errors.New("combined diff of octopus merge not supported")

	// ErrTimeout indicates the caller's deadline passed during the load.
	ErrTimeout = errors.New("patch list load timed out")
)

// LoadError carries the key of a failed load.
type LoadError struct {
	Key     keys.PatchListKey
	Project string
	Err     error
}

// Error implements error.
func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s in %s: %v", e.Key, e.Project, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// notAvailable wraps a repository failure. Context errors pass through.
func notAvailable(err error, what string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrNotAvailable, what, err)
}
