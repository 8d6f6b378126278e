// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided names before they reach the
// filesystem or the ref database.
//
// Project names become directory paths under the repository root and ref
// names become files under a repository, so both are restricted to forms
// that cannot escape their directory.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidName is wrapped by every validation failure.
var ErrInvalidName = errors.New("invalid name")

// projectSegment matches one path segment of a project name.
var projectSegment = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._+\-]*$`)

// maxProjectLength bounds project names.
const maxProjectLength = 255

// ValidateProjectName validates a project name such as "tools/gerrit".
//
// Valid names:
//   - 1-255 characters
//   - Segments separated by single slashes
//   - Segments of letters, digits, '.', '_', '+' and '-', not starting
//     with '.', '+' or '-'
//
// Example:
//
//	if err := validation.ValidateProjectName(project); err != nil {
//	    return nil, fmt.Errorf("open %s: %w", project, err)
//	}
//	// Safe to join under the repository root
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: project name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxProjectLength {
		return fmt.Errorf("%w: project name longer than %d bytes", ErrInvalidName, maxProjectLength)
	}
	for _, seg := range strings.Split(name, "/") {
		if !projectSegment.MatchString(seg) {
			return fmt.Errorf("%w: project %q has bad segment %q", ErrInvalidName, name, seg)
		}
	}
	return nil
}

// SanitizeProjectName trims spaces, surrounding slashes and a ".git"
// suffix, then validates the result.
//
//	name, err := validation.SanitizeProjectName(" tools/gerrit.git/ ")
//	// name == "tools/gerrit"
func SanitizeProjectName(name string) (string, error) {
	normalized := strings.Trim(strings.TrimSpace(name), "/")
	normalized = strings.TrimSuffix(normalized, ".git")
	if err := ValidateProjectName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateRefName applies the ref format rules that keep a name inside
// the ref database: no empty or dot-leading components, no "..", no
// control characters or spaces, none of ~^:?*[\ and no ".lock" suffix.
func ValidateRefName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: ref name cannot be empty", ErrInvalidName)
	}
	if name == "@" || strings.Contains(name, "..") || strings.Contains(name, "@{") ||
		strings.HasSuffix(name, ".") || strings.HasSuffix(name, "/") || strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: ref %q", ErrInvalidName, name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(" ~^:?*[\\", r) {
			return fmt.Errorf("%w: ref %q contains %q", ErrInvalidName, name, r)
		}
	}
	for _, comp := range strings.Split(name, "/") {
		if comp == "" || strings.HasPrefix(comp, ".") || strings.HasSuffix(comp, ".lock") {
			return fmt.Errorf("%w: ref %q has bad component %q", ErrInvalidName, name, comp)
		}
	}
	return nil
}
