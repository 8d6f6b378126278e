// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/AleutianAI/patchcache/pkg/validation"
	"github.com/AleutianAI/patchcache/services/patch"
	"github.com/AleutianAI/patchcache/services/patch/automerge"
	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/intraline"
	"github.com/AleutianAI/patchcache/services/patch/keys"
	"github.com/AleutianAI/patchcache/services/patch/linediff"
	"github.com/AleutianAI/patchcache/services/patch/loader"
	"github.com/AleutianAI/patchcache/services/patch/patchlist"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

var (
	errNoRevision   = errors.New("a revision or --change and --patchset are required")
	errBadSelection = errors.New("conflicting comparison flags")
	errNoSuchPath   = errors.New("path not in patch list")
	errNoAutoMerge  = errors.New("no auto-merge could be produced")
)

// diffOptions select a comparison and its rendering.
type diffOptions struct {
	project    string
	revision   string
	base       string
	parent     int
	change     int
	patchSet   int
	whitespace string
	rebase     bool
	patch      bool
	context    int
}

// key resolves the options into a patch list key.
func (a *app) key(ctx context.Context, repo vcs.Repository, o diffOptions) (keys.PatchListKey, error) {
	ws, err := linediff.ParseWhitespace(o.whitespace)
	if err != nil {
		return keys.PatchListKey{}, err
	}
	if o.base != "" && o.parent > 0 {
		return keys.PatchListKey{}, fmt.Errorf("%w: --base and --parent", errBadSelection)
	}
	if o.rebase && o.base == "" {
		return keys.PatchListKey{}, fmt.Errorf("%w: --rebase-transparent needs --base", errBadSelection)
	}

	var newID vcs.ObjectID
	switch {
	case o.change > 0:
		if o.revision != "" {
			return keys.PatchListKey{}, fmt.Errorf("%w: revision and --change", errBadSelection)
		}
		if o.patchSet <= 0 {
			return keys.PatchListKey{}, fmt.Errorf("%w: --change %d without --patchset", patch.ErrInvalidPatchSet, o.change)
		}
		newID, err = repo.ReadRef(ctx, patch.PatchSetRefName(o.change, o.patchSet))
	case o.revision != "":
		newID, err = resolveRevision(ctx, repo, o.revision)
	default:
		return keys.PatchListKey{}, errNoRevision
	}
	if err != nil {
		return keys.PatchListKey{}, err
	}

	switch {
	case o.base != "":
		oldID, err := resolveRevision(ctx, repo, o.base)
		if err != nil {
			return keys.PatchListKey{}, err
		}
		key := keys.AgainstCommit(oldID, newID, ws)
		key.RebaseTransparent = o.rebase
		return key, nil
	case o.parent > 0:
		return keys.AgainstParentNum(newID, o.parent, ws), nil
	default:
		return keys.AgainstDefaultBase(newID, ws), nil
	}
}

// resolveRevision accepts a full object id or a ref name, trying
// refs/heads/ and refs/tags/ for short names.
func resolveRevision(ctx context.Context, repo vcs.Repository, rev string) (vcs.ObjectID, error) {
	if id, err := vcs.ParseID(rev); err == nil {
		return id, nil
	}
	if err := validation.ValidateRefName(rev); err != nil {
		return vcs.ZeroID, err
	}
	var firstErr error
	for _, name := range []string{rev, "refs/heads/" + rev, "refs/tags/" + rev} {
		id, err := repo.ReadRef(ctx, name)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, vcs.ErrRefNotFound) {
			return vcs.ZeroID, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return vcs.ZeroID, fmt.Errorf("revision %q: %w", rev, firstErr)
}

// patchList opens the project and returns the patch list selected by o.
func (a *app) patchList(ctx context.Context, o diffOptions) (vcs.Repository, *patchlist.PatchList, error) {
	repo, err := a.repos.Open(ctx, o.project)
	if err != nil {
		return nil, nil, err
	}
	key, err := a.key(ctx, repo, o)
	if err != nil {
		return nil, nil, err
	}
	pl, err := a.svc.Get(ctx, key, o.project)
	if err != nil {
		return nil, nil, err
	}
	return repo, pl, nil
}

func (a *app) diff(ctx context.Context, w io.Writer, o diffOptions) error {
	repo, pl, err := a.patchList(ctx, o)
	if err != nil {
		return err
	}
	if o.patch {
		return writePatch(ctx, w, repo, pl, o.context)
	}
	writeFileList(w, pl)
	return nil
}

func writeFileList(w io.Writer, pl *patchlist.PatchList) {
	old := "-"
	if !pl.OldID.IsZero() {
		old = pl.OldID.Abbreviate(8)
	}
	fmt.Fprintf(w, "%s..%s %s\n", old, pl.NewID.Abbreviate(8), pl.ComparisonType)

	files := 0
	for _, e := range pl.Entries {
		name := e.Path()
		if e.ChangeType == patchlist.Renamed || e.ChangeType == patchlist.Copied {
			name = e.OldName + " -> " + e.NewName
		}
		suffix := ""
		if e.PatchType == patchlist.Binary {
			suffix = " (binary)"
		}
		fmt.Fprintf(w, "%c %5s %5s  %s%s\n", byte(e.ChangeType),
			fmt.Sprintf("+%d", e.Insertions), fmt.Sprintf("-%d", e.Deletions), name, suffix)
		if !patchlist.IsMagic(e.Path()) {
			files++
		}
	}
	fmt.Fprintf(w, "%d files changed, %d insertions(+), %d deletions(-)\n", files, pl.Insertions, pl.Deletions)
}

func writePatch(ctx context.Context, w io.Writer, repo vcs.Repository, pl *patchlist.PatchList, contextLines int) error {
	for _, e := range pl.Entries {
		aText, bText, err := loader.Texts(ctx, repo, pl, e)
		if err != nil {
			return err
		}
		out, err := patchlist.FormatUnified(e, aText, bText, contextLines)
		if err != nil {
			return err
		}
		if _, err := w.Write(out); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) summary(ctx context.Context, w io.Writer, o diffOptions) error {
	repo, err := a.repos.Open(ctx, o.project)
	if err != nil {
		return err
	}
	key, err := a.key(ctx, repo, o)
	if err != nil {
		return err
	}
	sum, err := a.svc.GetDiffSummary(ctx, keys.SummaryKeyFor(key), o.project)
	if err != nil {
		return err
	}
	for _, p := range sum.Paths {
		fmt.Fprintln(w, p)
	}
	fmt.Fprintf(w, "%d paths, %d insertions(+), %d deletions(-)\n", len(sum.Paths), sum.Insertions, sum.Deletions)
	return nil
}

func (a *app) intraline(ctx context.Context, w io.Writer, o diffOptions, path string) error {
	if patchlist.IsMagic(path) {
		return fmt.Errorf("%w: %s is synthetic", errNoSuchPath, path)
	}
	ws, err := linediff.ParseWhitespace(o.whitespace)
	if err != nil {
		return err
	}
	repo, pl, err := a.patchList(ctx, o)
	if err != nil {
		return err
	}
	ent := pl.Get(path)
	if ent == nil {
		return fmt.Errorf("%w: %s", errNoSuchPath, path)
	}
	aText, bText, err := loader.Texts(ctx, repo, pl, ent)
	if err != nil {
		return err
	}

	key := keys.IntraLineDiffKey{
		BlobA:            ent.OldID,
		BlobB:            ent.NewID,
		IgnoreWhitespace: ws != linediff.IgnoreNone,
	}
	res := a.svc.GetIntraLineDiff(ctx, key, &intraline.Args{
		AText:   aText,
		BText:   bText,
		Edits:   ent.Edits,
		Project: o.project,
		Commit:  pl.NewID,
		Path:    path,
	})

	fmt.Fprintf(w, "%s %s\n", path, res.Status)
	for _, e := range res.Edits {
		fmt.Fprintf(w, "%s\n", formatEdit("lines", e))
		for _, in := range e.Internal {
			fmt.Fprintf(w, "  %s\n", formatEdit("chars", in))
		}
	}
	return nil
}

func formatEdit(unit string, e edit.Edit) string {
	return fmt.Sprintf("%s %d-%d => %d-%d", unit, e.BeginA, e.EndA, e.BeginB, e.EndB)
}

func (a *app) automerge(ctx context.Context, w io.Writer, project, rev, strategyName string, dryRun bool) error {
	if strategyName == "" {
		strategyName = a.cfg.Diff.MergeStrategy
	}
	strategy, err := automerge.ParseStrategy(strategyName)
	if err != nil {
		return err
	}
	repo, err := a.repos.Open(ctx, project)
	if err != nil {
		return err
	}
	id, err := resolveRevision(ctx, repo, rev)
	if err != nil {
		return err
	}
	merge, err := repo.ResolveCommit(ctx, id)
	if err != nil {
		return err
	}
	if dryRun {
		repo = vcs.Transient(repo)
	}

	res, err := automerge.New(automerge.Config{Logger: a.logger.Slog()}).Merge(ctx, repo, merge, strategy)
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("%w: %s has %d parents or its merge failed", errNoAutoMerge, merge.ID.Abbreviate(8), merge.ParentCount())
	}

	fmt.Fprintf(w, "commit %s\n", res.CommitID)
	fmt.Fprintf(w, "tree   %s\n", res.Tree)
	fmt.Fprintf(w, "ref    %s\n", automerge.RefName(merge.ID))
	if res.Cached {
		fmt.Fprintln(w, "cached")
	}
	for _, p := range res.ContentConflicts {
		fmt.Fprintf(w, "conflict %s\n", p)
	}
	for _, p := range res.StageConflicts {
		fmt.Fprintf(w, "stage-conflict %s\n", p)
	}
	return nil
}
