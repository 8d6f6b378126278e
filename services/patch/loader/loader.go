// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loader computes patch lists from a repository.
//
// A load resolves the new commit and the old side of the comparison,
// diffs the two trees with rename detection and turns every changed path
// into a patchlist.Entry with line edits. The commit message, and for
// merges the merge list, are prepended as synthetic entries.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/patchcache/services/patch/automerge"
	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/keys"
	"github.com/AleutianAI/patchcache/services/patch/linediff"
	"github.com/AleutianAI/patchcache/services/patch/patchlist"
	"github.com/AleutianAI/patchcache/services/patch/text"
	"github.com/AleutianAI/patchcache/services/patch/transform"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Source provides patch lists, usually through a cache.
type Source interface {
	Get(ctx context.Context, key keys.PatchListKey, project string) (*patchlist.PatchList, error)
}

// Config configures a Loader.
type Config struct {
	// Timeout bounds each file diff before the fallback-free retry.
	Timeout time.Duration

	// HeaderWorkers caps concurrent file diffs. Zero means GOMAXPROCS.
	HeaderWorkers int

	// MaxObjectSize rejects blobs larger than this many bytes. Zero
	// disables the limit.
	MaxObjectSize int64

	// MergeStrategy combines merge bases for auto-merges.
	MergeStrategy automerge.Strategy

	// CacheAutoMerge persists auto-merge commits in the repository.
	// When false they live in an in-memory overlay for one load.
	CacheAutoMerge bool

	// RenameScore is the minimum similarity for rename detection.
	RenameScore int

	// Logger receives load diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Loader computes patch lists.
//
// Thread Safety: Safe for concurrent use.
type Loader struct {
	repos  vcs.Manager
	merger *automerge.Synthesizer
	exec   *HeaderExecutor
	cfg    Config
	logger *slog.Logger
	source Source
}

// New creates a Loader. A nil merger gets a default Synthesizer.
func New(repos vcs.Manager, merger *automerge.Synthesizer, cfg Config) *Loader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MergeStrategy == "" {
		cfg.MergeStrategy = automerge.StrategyRecursive
	}
	if merger == nil {
		merger = automerge.New(automerge.Config{Logger: cfg.Logger})
	}
	l := &Loader{
		repos:  repos,
		merger: merger,
		exec:   NewHeaderExecutor(cfg.HeaderWorkers, cfg.Timeout, cfg.Logger),
		cfg:    cfg,
		logger: cfg.Logger,
	}
	l.source = l
	return l
}

// SetSource routes the patch lists a load depends on, used for rebase
// transparency, through s.
func (l *Loader) SetSource(s Source) {
	if s == nil {
		s = l
	}
	l.source = s
}

// Executor returns the file diff executor.
func (l *Loader) Executor() *HeaderExecutor { return l.exec }

// Get implements Source by loading directly.
func (l *Loader) Get(ctx context.Context, key keys.PatchListKey, project string) (*patchlist.PatchList, error) {
	return l.Load(ctx, key, project)
}

// oldSide is the resolved old side of a comparison. commit is nil when
// the old side is a bare tree.
type oldSide struct {
	commit *vcs.Commit
	tree   vcs.ObjectID
}

func (o *oldSide) id() vcs.ObjectID {
	if o.commit != nil {
		return o.commit.ID
	}
	return o.tree
}

// Load computes the patch list of key in project.
//
// Description:
//
//	The old side is key.OldID when set. Otherwise it is derived from the
//	new commit: the empty tree for a root commit, the parent of a single
//	parent commit, parent ParentNum or the auto-merge of a two-parent
//	merge. Merges with more parents, and merges whose auto-merge cannot
//	be produced, yield only the commit message and merge list entries
//	compared against parent 1.
//
// Inputs:
//
//	ctx - Cancels the load. Its deadline also bounds file diffs.
//	key - The comparison to compute.
//	project - Repository name passed to the Manager.
//
// Outputs:
//
//	*patchlist.PatchList - The comparison.
//	error - A *LoadError wrapping ErrNotAvailable, ErrObjectTooLarge,
//	        ErrTimeout or a context error.
func (l *Loader) Load(ctx context.Context, key keys.PatchListKey, project string) (*patchlist.PatchList, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Loader.Load", trace.WithAttributes(
		attribute.String("patch.project", project),
		attribute.String("patch.key", key.String()),
	))
	defer span.End()

	pl, err := l.load(ctx, key, project)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
			outcome = "timeout"
		case errors.Is(err, ErrObjectTooLarge):
			outcome = "too_large"
		case errors.Is(err, ErrNotAvailable):
			outcome = "not_available"
		}
		recordLoad(start, outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, &LoadError{Key: key, Project: project, Err: err}
	}
	recordLoad(start, "ok")
	span.SetAttributes(attribute.Int("patch.entries", len(pl.Entries)))
	return pl, nil
}

func (l *Loader) load(ctx context.Context, key keys.PatchListKey, project string) (*patchlist.PatchList, error) {
	repo, err := l.repos.Open(ctx, project)
	if err != nil {
		return nil, notAvailable(err, "open "+project)
	}
	if !l.cfg.CacheAutoMerge {
		repo = vcs.Transient(repo)
	}

	b, err := repo.ResolveCommit(ctx, key.NewID)
	if err != nil {
		return nil, notAvailable(err, "new commit")
	}

	old, err := l.resolveOld(ctx, repo, key, b)
	if errors.Is(err, ErrCombinedDiffUnsupported) {
		l.logger.Debug("falling back to first parent",
			"project", project,
			"commit", b.ID.String(),
			"parents", b.ParentCount())
		return l.mergeOnly(ctx, repo, b, key.Whitespace)
	}
	if err != nil {
		return nil, err
	}

	cmp := comparisonType(key, old, b)
	isMerge := b.ParentCount() > 1

	diffs, err := repo.DiffTrees(ctx, old.tree, b.Tree, l.diffOptions())
	if err != nil {
		return nil, notAvailable(err, "tree diff")
	}

	var dueToRebase map[string][]transform.FileEdit
	if key.RebaseTransparent {
		diffs, dueToRebase, err = l.editsDueToRebase(ctx, repo, project, key, old.commit, b, diffs)
		if err != nil {
			return nil, err
		}
	}

	// The old commit message only matters between two patch sets.
	var oldCommit *vcs.Commit
	if !cmp.IsAgainstParentOrAutoMerge() {
		oldCommit = old.commit
	}

	entries := make([]*patchlist.Entry, 0, len(diffs)+2)
	msg, err := l.commitMessage(ctx, repo, oldCommit, b, key.Whitespace)
	if err != nil {
		return nil, err
	}
	entries = append(entries, msg)
	if isMerge {
		ml, err := l.mergeList(ctx, repo, oldCommit, b, cmp, key.Whitespace)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ml)
	}

	files := make([]*patchlist.Entry, len(diffs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.exec.Size())
	for i, d := range diffs {
		g.Go(func() error {
			ent, err := l.fileEntry(gctx, repo, project, b.ID, d, key.Whitespace)
			if err != nil {
				return err
			}
			if due := dueToRebase[rebaseLookupPath(d)]; len(due) > 0 {
				if transform.AllDueToRebase(ent, due) {
					return nil
				}
				if len(ent.Edits) > 0 {
					ent.EditsDueToRebase = transform.ContentEdits(due)
				}
			}
			files[i] = ent
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, f := range files {
		if f != nil {
			entries = append(entries, f)
		}
	}
	return patchlist.New(old.id(), b.ID, isMerge, cmp, entries), nil
}

func (l *Loader) diffOptions() vcs.DiffOptions {
	return vcs.DiffOptions{DetectRenames: true, RenameScore: l.cfg.RenameScore}
}

// resolveOld finds the old side of key.
func (l *Loader) resolveOld(ctx context.Context, repo vcs.Repository, key keys.PatchListKey, b *vcs.Commit) (*oldSide, error) {
	if !key.OldID.IsZero() {
		c, err := repo.ResolveCommit(ctx, key.OldID)
		switch {
		case err == nil:
			return &oldSide{commit: c, tree: c.Tree}, nil
		case errors.Is(err, vcs.ErrNotCommit):
			return &oldSide{tree: key.OldID}, nil
		default:
			return nil, notAvailable(err, "old commit")
		}
	}

	switch b.ParentCount() {
	case 0:
		return &oldSide{tree: vcs.EmptyTreeID}, nil
	case 1:
		return l.parent(ctx, repo, b, 1)
	case 2:
		if key.ParentNum > 0 {
			return l.parent(ctx, repo, b, key.ParentNum)
		}
		ctx, span := tracer.Start(ctx, "Synthesizer.Merge", trace.WithAttributes(
			attribute.String("patch.commit", b.ID.String()),
		))
		res, err := l.merger.Merge(ctx, repo, b, l.cfg.MergeStrategy)
		span.End()
		if err != nil {
			return nil, notAvailable(err, "auto-merge")
		}
		if res == nil {
			return nil, fmt.Errorf("%w: no auto-merge for %s", ErrCombinedDiffUnsupported, b.ID.Abbreviate(8))
		}
		c, err := repo.ResolveCommit(ctx, res.CommitID)
		if err != nil {
			return nil, notAvailable(err, "auto-merge commit")
		}
		return &oldSide{commit: c, tree: c.Tree}, nil
	default:
		return nil, ErrCombinedDiffUnsupported
	}
}

func (l *Loader) parent(ctx context.Context, repo vcs.Repository, b *vcs.Commit, n int) (*oldSide, error) {
	if n < 1 || n > b.ParentCount() {
		return nil, fmt.Errorf("%w: parent %d of %s", ErrNotAvailable, n, b.ID.Abbreviate(8))
	}
	c, err := repo.ResolveCommit(ctx, b.Parents[n-1])
	if err != nil {
		return nil, notAvailable(err, "parent commit")
	}
	return &oldSide{commit: c, tree: c.Tree}, nil
}

// comparisonType classifies the old side relative to the new commit.
func comparisonType(key keys.PatchListKey, old *oldSide, b *vcs.Commit) keys.ComparisonType {
	if old.commit != nil {
		for i, p := range b.Parents {
			if p == old.commit.ID {
				return keys.AgainstParent(i + 1)
			}
		}
	}
	if key.OldID.IsZero() && b.ParentCount() > 0 {
		return keys.AgainstAutoMerge()
	}
	return keys.AgainstOtherPatchSet()
}

// mergeOnly builds the patch list of a merge that cannot be compared
// against its auto-merge.
func (l *Loader) mergeOnly(ctx context.Context, repo vcs.Repository, b *vcs.Commit, ws linediff.Whitespace) (*patchlist.PatchList, error) {
	cmp := keys.AgainstParent(1)
	msg, err := l.commitMessage(ctx, repo, nil, b, ws)
	if err != nil {
		return nil, err
	}
	ml, err := l.mergeList(ctx, repo, nil, b, cmp, ws)
	if err != nil {
		return nil, err
	}
	return patchlist.New(vcs.ZeroID, b.ID, true, cmp, []*patchlist.Entry{msg, ml}), nil
}

func (l *Loader) commitMessage(ctx context.Context, repo vcs.Repository, a, b *vcs.Commit, ws linediff.Whitespace) (*patchlist.Entry, error) {
	aText, bText, err := commitMessageTexts(ctx, repo, a, b)
	if err != nil {
		return nil, err
	}
	return magicEntry(ctx, patchlist.CommitMsg, a != nil, aText, bText, ws)
}

func (l *Loader) mergeList(ctx context.Context, repo vcs.Repository, a, b *vcs.Commit, cmp keys.ComparisonType, ws linediff.Whitespace) (*patchlist.Entry, error) {
	aText, bText, err := mergeListTexts(ctx, repo, a, b, cmp)
	if err != nil {
		return nil, err
	}
	return magicEntry(ctx, patchlist.MergeList, a != nil, aText, bText, ws)
}

// magicEntry diffs the two texts of a synthetic file.
func magicEntry(ctx context.Context, name string, hasOld bool, aText, bText *text.Text, ws linediff.Whitespace) (*patchlist.Entry, error) {
	edits, err := linediff.Diff(ctx, aText.LineStrings(), bText.LineStrings(), ws, linediff.Myers)
	if err != nil {
		return nil, err
	}
	ent := &patchlist.Entry{
		ChangeType: patchlist.Added,
		PatchType:  patchlist.Unified,
		NewName:    name,
		Header:     patchlist.SyntheticHeader(name, hasOld),
		Edits:      edits,
		Size:       int64(len(bText.Raw())),
		SizeDelta:  int64(len(bText.Raw()) - len(aText.Raw())),
	}
	if hasOld {
		ent.ChangeType = patchlist.Modified
		ent.OldName = name
	}
	ent.Deletions, ent.Insertions = edit.Counts(edits)
	return ent, nil
}

// fileEntry turns one tree difference into an entry with line edits.
func (l *Loader) fileEntry(ctx context.Context, repo vcs.Repository, project string, commit vcs.ObjectID, d vcs.DiffEntry, ws linediff.Whitespace) (*patchlist.Entry, error) {
	ent := &patchlist.Entry{
		ChangeType: changeType(d.Kind),
		PatchType:  patchlist.Unified,
		OldName:    d.OldPath,
		NewName:    d.NewPath,
		OldID:      d.OldID,
		NewID:      d.NewID,
	}

	oldSize, err := l.blobSize(ctx, repo, d.OldMode, d.OldID, d.OldPath)
	if err != nil {
		return nil, err
	}
	newSize, err := l.blobSize(ctx, repo, d.NewMode, d.NewID, d.NewPath)
	if err != nil {
		return nil, err
	}
	ent.Size = newSize
	ent.SizeDelta = newSize - oldSize

	binary := false
	if !d.OldMode.IsGitlink() && !d.NewMode.IsGitlink() && d.OldID != d.NewID {
		aRaw, err := readSide(ctx, repo, d.OldMode, d.OldID)
		if err != nil {
			return nil, err
		}
		bRaw, err := readSide(ctx, repo, d.NewMode, d.NewID)
		if err != nil {
			return nil, err
		}
		if text.IsBinary(aRaw) || text.IsBinary(bRaw) {
			binary = true
			ent.PatchType = patchlist.Binary
		} else {
			edits, err := l.exec.run(ctx, &fileDiff{
				project: project,
				commit:  commit,
				entry:   d,
				a:       text.New(aRaw).LineStrings(),
				b:       text.New(bRaw).LineStrings(),
				ws:      ws,
			})
			if err != nil {
				return nil, err
			}
			ent.Edits = edits
		}
	}

	ent.Header = patchlist.FileHeader(patchlist.HeaderInput{
		ChangeType: ent.ChangeType,
		OldName:    d.OldPath,
		NewName:    d.NewPath,
		OldMode:    d.OldMode,
		NewMode:    d.NewMode,
		OldID:      d.OldID,
		NewID:      d.NewID,
		Score:      d.Score,
		Binary:     binary,
	})
	ent.Deletions, ent.Insertions = edit.Counts(ent.Edits)
	filesDiffed.WithLabelValues(ent.PatchType.String()).Inc()
	return ent, nil
}

// blobSize returns the size of a blob side, 0 for non-blob modes.
func (l *Loader) blobSize(ctx context.Context, repo vcs.Repository, mode vcs.FileMode, id vcs.ObjectID, path string) (int64, error) {
	if !mode.IsFile() || id.IsZero() {
		return 0, nil
	}
	n, err := repo.BlobSize(ctx, id)
	if err != nil {
		return 0, notAvailable(err, "size of "+path)
	}
	if l.cfg.MaxObjectSize > 0 && n > l.cfg.MaxObjectSize {
		return 0, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrObjectTooLarge, path, n, l.cfg.MaxObjectSize)
	}
	return n, nil
}

func readSide(ctx context.Context, repo vcs.Repository, mode vcs.FileMode, id vcs.ObjectID) ([]byte, error) {
	if !mode.IsFile() || id.IsZero() {
		return nil, nil
	}
	raw, err := repo.ReadBlob(ctx, id)
	if err != nil {
		return nil, notAvailable(err, "blob "+id.Abbreviate(8))
	}
	return raw, nil
}

func changeType(k vcs.ChangeKind) patchlist.ChangeType {
	switch k {
	case vcs.ChangeAdd:
		return patchlist.Added
	case vcs.ChangeDelete:
		return patchlist.Deleted
	case vcs.ChangeRename:
		return patchlist.Renamed
	case vcs.ChangeCopy:
		return patchlist.Copied
	default:
		return patchlist.Modified
	}
}
