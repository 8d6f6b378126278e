// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package automerge synthesizes the auto-merge commit of a two-parent merge.
//
// The auto-merge is what the merge would have looked like had its parents
// been merged automatically. Diffing a merge commit against its auto-merge
// shows only what the author changed while resolving the merge. Results
// are remembered under refs/cache-automerge/ so each merge is synthesized
// once.
package automerge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

// RefPrefix is the namespace of auto-merge refs.
const RefPrefix = "refs/cache-automerge/"

// ErrNoMergeBase is returned when two commits share no history.
var ErrNoMergeBase = errors.New("no merge base")

// Strategy selects how merge bases are combined.
type Strategy string

const (
	// StrategyResolve merges against the first merge base.
	StrategyResolve Strategy = "resolve"
	// StrategyRecursive folds all merge bases into a virtual base.
	StrategyRecursive Strategy = "recursive"
)

// ParseStrategy parses a strategy name. The empty name is StrategyRecursive.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case "", StrategyRecursive:
		return StrategyRecursive, nil
	case StrategyResolve:
		return StrategyResolve, nil
	default:
		return "", fmt.Errorf("unknown merge strategy %q", s)
	}
}

// Config configures a Synthesizer.
type Config struct {
	// IdentName and IdentEmail sign synthesized commits.
	IdentName  string
	IdentEmail string

	// Location is the time zone of synthesized commits. Nil means UTC.
	Location *time.Location

	// Logger receives merge failures. Nil means slog.Default().
	Logger *slog.Logger
}

// Result describes a synthesized auto-merge.
type Result struct {
	// CommitID is the auto-merge commit.
	CommitID vcs.ObjectID

	// Tree is the merged tree.
	Tree vcs.ObjectID

	// Cached is true when the ref already existed.
	Cached bool

	// ContentConflicts lists paths written with conflict blocks.
	ContentConflicts []string

	// StageConflicts lists paths resolved by stage count.
	StageConflicts []string
}

// Synthesizer creates and caches auto-merge commits.
//
// Thread Safety: Safe for concurrent use. Concurrent synthesis of the same
// merge is tolerated; the content is deterministic and the last ref
// update wins.
type Synthesizer struct {
	name   string
	email  string
	loc    *time.Location
	logger *slog.Logger
}

// New creates a Synthesizer.
func New(cfg Config) *Synthesizer {
	if cfg.IdentName == "" {
		cfg.IdentName = "Patch Cache"
	}
	if cfg.IdentEmail == "" {
		cfg.IdentEmail = "patchcache@localhost"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Synthesizer{name: cfg.IdentName, email: cfg.IdentEmail, loc: cfg.Location, logger: cfg.Logger}
}

// RefName returns the auto-merge ref of a merge commit.
func RefName(merge vcs.ObjectID) string {
	h := merge.String()
	return RefPrefix + h[:2] + "/" + h[2:]
}

// Merge returns the auto-merge commit of merge, synthesizing it if needed.
//
// Description:
//
//	An existing auto-merge ref is reused. Otherwise the two parents are
//	merged, conflicts are resolved in the tree (see mergeTrees), a commit
//	"Auto-merge of <id>" with the merge's parents is written and the ref
//	is force-updated.
//
// Inputs:
//
//	ctx - Cancels the merge.
//	repo - Repository holding the merge. Pass vcs.Transient(repo) to keep
//	       synthesized objects out of the repository.
//	merge - The merge commit.
//	strategy - How to combine several merge bases.
//
// Outputs:
//
//	*Result - The auto-merge, or nil when none can be produced: the commit
//	          does not have exactly two parents or the merge itself failed.
//	error - Non-nil only when the ref database or the final commit could
//	        not be read or written.
func (s *Synthesizer) Merge(ctx context.Context, repo vcs.Repository, merge *vcs.Commit, strategy Strategy) (*Result, error) {
	ref := RefName(merge.ID)

	if id, err := repo.ReadRef(ctx, ref); err == nil {
		c, err := repo.ResolveCommit(ctx, id)
		switch {
		case err == nil:
			recordMerge("cached")
			return &Result{CommitID: c.ID, Tree: c.Tree, Cached: true}, nil
		case errors.Is(err, vcs.ErrNotCommit):
			// The ref holds a bare tree; wrap it.
			return s.commit(ctx, repo, ref, id, merge, &treeMerge{tree: id})
		default:
			return nil, fmt.Errorf("read auto-merge %s: %w", ref, err)
		}
	} else if !errors.Is(err, vcs.ErrRefNotFound) {
		return nil, fmt.Errorf("read ref %s: %w", ref, err)
	}

	if merge.ParentCount() != 2 {
		s.logger.Debug("auto-merge needs two parents",
			"commit", merge.ID.String(),
			"parents", merge.ParentCount())
		recordMerge("unsupported")
		return nil, nil
	}

	tm, err := s.mergeParents(ctx, repo, merge, strategy)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("auto-merge failed",
			"project", repo.Name(),
			"commit", merge.ID.String(),
			"strategy", string(strategy),
			"error", err)
		recordMerge("failed")
		return nil, nil
	}
	return s.commit(ctx, repo, ref, tm.tree, merge, tm)
}

func (s *Synthesizer) mergeParents(ctx context.Context, repo vcs.Repository, merge *vcs.Commit, strategy Strategy) (*treeMerge, error) {
	ours, err := repo.ResolveCommit(ctx, merge.Parents[0])
	if err != nil {
		return nil, err
	}
	theirs, err := repo.ResolveCommit(ctx, merge.Parents[1])
	if err != nil {
		return nil, err
	}

	base, err := s.baseTree(ctx, repo, ours.ID, theirs.ID, strategy)
	if errors.Is(err, ErrNoMergeBase) {
		base = vcs.EmptyTreeID
	} else if err != nil {
		return nil, err
	}

	return mergeTrees(ctx, repo, base, ours.Tree, theirs.Tree, conflictNames{
		base:   "BASE",
		ours:   fmt.Sprintf("HEAD   (%s %s)", ours.ID.Abbreviate(6), truncate(ours.ShortMessage(), 60)),
		theirs: fmt.Sprintf("BRANCH (%s %s)", theirs.ID.Abbreviate(6), truncate(theirs.ShortMessage(), 60)),
	})
}

// baseTree returns the tree to merge against.
//
// With StrategyResolve it is the tree of the first merge base. With
// StrategyRecursive several merge bases are merged pairwise, left to
// right, into a virtual base tree; each pair is merged against the tree
// of its own first merge base, or the empty tree.
func (s *Synthesizer) baseTree(ctx context.Context, repo vcs.Repository, a, b vcs.ObjectID, strategy Strategy) (vcs.ObjectID, error) {
	bases, err := repo.MergeBases(ctx, a, b)
	if err != nil {
		return vcs.ZeroID, err
	}
	if len(bases) == 0 {
		return vcs.ZeroID, fmt.Errorf("%s and %s: %w", a.Abbreviate(7), b.Abbreviate(7), ErrNoMergeBase)
	}

	first, err := repo.ResolveCommit(ctx, bases[0])
	if err != nil {
		return vcs.ZeroID, err
	}
	if strategy == StrategyResolve || len(bases) == 1 {
		return first.Tree, nil
	}

	virtual := first.Tree
	prev := first.ID
	for _, id := range bases[1:] {
		next, err := repo.ResolveCommit(ctx, id)
		if err != nil {
			return vcs.ZeroID, err
		}
		pairBase := vcs.EmptyTreeID
		if pb, err := repo.MergeBases(ctx, prev, next.ID); err == nil && len(pb) > 0 {
			c, err := repo.ResolveCommit(ctx, pb[0])
			if err != nil {
				return vcs.ZeroID, err
			}
			pairBase = c.Tree
		}
		tm, err := mergeTrees(ctx, repo, pairBase, virtual, next.Tree, conflictNames{})
		if err != nil {
			return vcs.ZeroID, err
		}
		virtual = tm.tree
		prev = next.ID
	}
	return virtual, nil
}

func (s *Synthesizer) commit(ctx context.Context, repo vcs.Repository, ref string, tree vcs.ObjectID, merge *vcs.Commit, tm *treeMerge) (*Result, error) {
	// One fixed ident at the merge's commit time keeps the id stable.
	ident := vcs.Signature{
		Name:  s.name,
		Email: s.email,
		When:  merge.Committer.When.In(s.loc),
	}
	id, err := repo.InsertCommit(ctx, &vcs.Commit{
		Tree:      tree,
		Parents:   append([]vcs.ObjectID(nil), merge.Parents...),
		Author:    ident,
		Committer: ident,
		Message:   "Auto-merge of " + merge.ID.String() + "\n",
	})
	if err != nil {
		return nil, fmt.Errorf("write auto-merge commit: %w", err)
	}
	if err := repo.UpdateRef(ctx, ref, id, true); err != nil {
		return nil, fmt.Errorf("update %s: %w", ref, err)
	}

	if len(tm.contentConflicts) > 0 || len(tm.stageConflicts) > 0 {
		recordMerge("conflict")
	} else {
		recordMerge("clean")
	}
	return &Result{
		CommitID:         id,
		Tree:             tree,
		ContentConflicts: tm.contentConflicts,
		StageConflicts:   tm.stageConflicts,
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
