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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/patchcache/pkg/validation"
	"github.com/go-git/go-git/v5"
)

// DirManager opens repositories stored under a base directory.
//
// A project "foo/bar" maps to <Root>/foo/bar.git, falling back to
// <Root>/foo/bar. Opened repositories are reused.
type DirManager struct {
	root string

	mu    sync.Mutex
	repos map[string]*GitRepository
}

// NewDirManager creates a manager rooted at dir.
func NewDirManager(dir string) *DirManager {
	return &DirManager{root: dir, repos: make(map[string]*GitRepository)}
}

// Open returns the repository of project.
func (m *DirManager) Open(ctx context.Context, project string) (Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validation.ValidateProjectName(project); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProjectNotFound, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.repos[project]; ok {
		return r, nil
	}

	var lastErr error
	for _, candidate := range []string{
		filepath.Join(m.root, project+".git"),
		filepath.Join(m.root, project),
	} {
		if _, err := os.Stat(candidate); err != nil {
			lastErr = err
			continue
		}
		gr, err := git.PlainOpen(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		r := NewGitRepository(project, gr.Storer)
		m.repos[project] = r
		return r, nil
	}
	if lastErr == nil || errors.Is(lastErr, os.ErrNotExist) || errors.Is(lastErr, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, project)
	}
	return nil, fmt.Errorf("open project %s: %w", project, lastErr)
}

// StaticManager serves a fixed set of repositories.
type StaticManager struct {
	mu    sync.RWMutex
	repos map[string]Repository
}

// NewStaticManager creates a manager over the given repositories.
func NewStaticManager(repos ...Repository) *StaticManager {
	m := &StaticManager{repos: make(map[string]Repository, len(repos))}
	for _, r := range repos {
		m.repos[r.Name()] = r
	}
	return m
}

// Add registers a repository under its name.
func (m *StaticManager) Add(r Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[r.Name()] = r
}

// Open returns the repository of project.
func (m *StaticManager) Open(_ context.Context, project string) (Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.repos[project]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, project)
	}
	return r, nil
}
