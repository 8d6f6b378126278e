// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateProjectName(t *testing.T) {
	tests := []struct {
		name    string
		project string
		wantErr bool
	}{
		// Valid names
		{"simple", "gerrit", false},
		{"nested", "tools/gerrit", false},
		{"dots and dashes", "plugins/reviewers-by-blame.v2", false},
		{"underscore start", "_private/x", false},
		{"plus", "c++/core", false},

		// Invalid names - traversal attempts
		{"empty", "", true},
		{"parent", "../etc", true},
		{"nested parent", "a/../../b", true},
		{"absolute", "/srv/git/a", true},
		{"trailing slash", "a/", true},
		{"double slash", "a//b", true},
		{"hidden", ".git", true},
		{"dash start", "-rf", true},
		{"space", "my project", true},
		{"newline", "a\nb", true},
		{"backslash", `a\b`, true},
		{"too long", strings.Repeat("a", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProjectName(tt.project)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProjectName(%q) error = %v, wantErr %v", tt.project, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("error %v does not wrap ErrInvalidName", err)
			}
		})
	}
}

func TestSanitizeProjectName(t *testing.T) {
	tests := []struct {
		name    string
		project string
		want    string
		wantErr bool
	}{
		{"passthrough", "tools/gerrit", "tools/gerrit", false},
		{"git suffix", "tools/gerrit.git", "tools/gerrit", false},
		{"slashes and spaces trimmed", "  /tools/gerrit/ ", "tools/gerrit", false},
		{"invalid rejected", "../x.git", "", true},
		{"only suffix", ".git", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeProjectName(tt.project)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeProjectName(%q) error = %v, wantErr %v", tt.project, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeProjectName(%q) = %q, want %q", tt.project, got, tt.want)
			}
		})
	}
}

func TestValidateRefName(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{"branch", "refs/heads/main", false},
		{"short", "main", false},
		{"change", "refs/changes/34/1234/2", false},
		{"automerge", "refs/cache-automerge/ab/cdef", false},
		{"head", "HEAD", false},

		{"empty", "", true},
		{"at", "@", true},
		{"dotdot", "refs/heads/../x", true},
		{"reflog", "main@{1}", true},
		{"space", "refs/heads/a b", true},
		{"tilde", "main~1", true},
		{"caret", "main^", true},
		{"colon", "a:b", true},
		{"glob", "refs/*", true},
		{"lock", "refs/heads/main.lock", true},
		{"hidden component", "refs/.hidden", true},
		{"leading slash", "/refs/heads/main", true},
		{"trailing slash", "refs/heads/", true},
		{"trailing dot", "refs/heads/main.", true},
		{"empty component", "refs//heads", true},
		{"control", "refs/heads/\x01", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRefName(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRefName(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
		})
	}
}
