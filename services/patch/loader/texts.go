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

	"github.com/AleutianAI/patchcache/services/patch/keys"
	"github.com/AleutianAI/patchcache/services/patch/patchlist"
	"github.com/AleutianAI/patchcache/services/patch/text"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

// Texts returns the content of both sides of ent, an entry of pl, as the
// loader saw it. A missing side is text.Empty. Entries without edits
// (binaries, gitlinks, pure renames) return two empty texts.
func Texts(ctx context.Context, repo vcs.Repository, pl *patchlist.PatchList, ent *patchlist.Entry) (*text.Text, *text.Text, error) {
	switch ent.Path() {
	case patchlist.CommitMsg, patchlist.MergeList:
		return magicTexts(ctx, repo, pl, ent.Path())
	}
	if len(ent.Edits) == 0 {
		return text.Empty, text.Empty, nil
	}
	a, err := blobText(ctx, repo, ent.OldID)
	if err != nil {
		return nil, nil, err
	}
	b, err := blobText(ctx, repo, ent.NewID)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func magicTexts(ctx context.Context, repo vcs.Repository, pl *patchlist.PatchList, name string) (*text.Text, *text.Text, error) {
	b, err := repo.ResolveCommit(ctx, pl.NewID)
	if err != nil {
		return nil, nil, notAvailable(err, "new commit")
	}
	var a *vcs.Commit
	if !pl.ComparisonType.IsAgainstParentOrAutoMerge() && !pl.OldID.IsZero() {
		a, err = repo.ResolveCommit(ctx, pl.OldID)
		if err != nil && !errors.Is(err, vcs.ErrNotCommit) {
			return nil, nil, notAvailable(err, "old commit")
		}
	}
	if name == patchlist.CommitMsg {
		return commitMessageTexts(ctx, repo, a, b)
	}
	return mergeListTexts(ctx, repo, a, b, pl.ComparisonType)
}

func commitMessageTexts(ctx context.Context, repo vcs.Repository, a, b *vcs.Commit) (*text.Text, *text.Text, error) {
	aText := text.Empty
	if a != nil {
		t, err := text.ForCommit(ctx, repo, a)
		if err != nil {
			return nil, nil, notAvailable(err, "old commit message")
		}
		aText = t
	}
	bText, err := text.ForCommit(ctx, repo, b)
	if err != nil {
		return nil, nil, notAvailable(err, "commit message")
	}
	return aText, bText, nil
}

func mergeListTexts(ctx context.Context, repo vcs.Repository, a, b *vcs.Commit, cmp keys.ComparisonType) (*text.Text, *text.Text, error) {
	parent := 1
	if cmp.IsAgainstParent() {
		parent = cmp.ParentNum
	}
	aText := text.Empty
	if a != nil && a.ParentCount() > 1 && parent <= a.ParentCount() {
		t, err := text.ForMergeList(ctx, repo, a, parent)
		if err != nil {
			return nil, nil, notAvailable(err, "old merge list")
		}
		aText = t
	}
	bText, err := text.ForMergeList(ctx, repo, b, parent)
	if err != nil {
		return nil, nil, notAvailable(err, "merge list")
	}
	return aText, bText, nil
}

func blobText(ctx context.Context, repo vcs.Repository, id vcs.ObjectID) (*text.Text, error) {
	if id.IsZero() {
		return text.Empty, nil
	}
	raw, err := repo.ReadBlob(ctx, id)
	if err != nil {
		return nil, notAvailable(err, "blob "+id.Abbreviate(8))
	}
	return text.New(raw), nil
}
