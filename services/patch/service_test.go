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
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/patchcache/services/patch/config"
	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/intraline"
	"github.com/AleutianAI/patchcache/services/patch/keys"
	"github.com/AleutianAI/patchcache/services/patch/linediff"
	"github.com/AleutianAI/patchcache/services/patch/patchlist"
	"github.com/AleutianAI/patchcache/services/patch/storage/badger"
	"github.com/AleutianAI/patchcache/services/patch/text"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
	"github.com/AleutianAI/patchcache/services/patch/vcs/vcstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const project = "test"

type fixture struct {
	b     *vcstest.Builder
	base  vcs.ObjectID
	child vcs.ObjectID
}

func newFixture(t *testing.T) *fixture {
	b := vcstest.New(t)
	base := b.Commit("base", map[string]string{"a.txt": "1\n2\n3\n", "old.txt": "gone\n"})
	child := b.Commit("child", map[string]string{"a.txt": "1\nX\n3\n", "b.txt": "new\n"}, base)
	return &fixture{b: b, base: base, child: child}
}

func newService(t *testing.T, f *fixture, mutate func(*Options)) *Service {
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	s := New(vcs.NewStaticManager(f.b.Repo), opts)
	t.Cleanup(s.Close)
	return s
}

func TestGet_CachesPatchList(t *testing.T) {
	f := newFixture(t)
	s := newService(t, f, nil)
	key := keys.AgainstDefaultBase(f.child, linediff.IgnoreNone)

	first, err := s.Get(context.Background(), key, project)
	require.NoError(t, err)
	assert.Equal(t, []string{patchlist.CommitMsg, "a.txt", "b.txt", "old.txt"}, first.Paths())

	second, err := s.Get(context.Background(), key, project)
	require.NoError(t, err)
	assert.Same(t, first, second)

	lists := s.Stats().Caches[0]
	assert.Equal(t, PatchListCacheName, lists.Name)
	assert.Equal(t, int64(1), lists.Loads)
	assert.Equal(t, int64(1), lists.Hits)
}

func TestGet_RemembersObjectTooLarge(t *testing.T) {
	f := newFixture(t)
	s := newService(t, f, func(o *Options) { o.Loader.MaxObjectSize = 4 })
	key := keys.AgainstDefaultBase(f.child, linediff.IgnoreNone)

	_, err := s.Get(context.Background(), key, project)
	require.ErrorIs(t, err, ErrObjectTooLarge)
	_, err = s.Get(context.Background(), key, project)
	require.ErrorIs(t, err, ErrObjectTooLarge)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, project, le.Project)

	lists := s.Stats().Caches[0]
	assert.Equal(t, int64(1), lists.LoadErrors)
	assert.Equal(t, int64(1), lists.RememberedErrors)
}

func TestGet_RetriesNotAvailable(t *testing.T) {
	f := newFixture(t)
	s := newService(t, f, nil)
	key := keys.AgainstDefaultBase(f.child, linediff.IgnoreNone)

	for i := 0; i < 2; i++ {
		_, err := s.Get(context.Background(), key, "unknown")
		require.ErrorIs(t, err, ErrNotAvailable)
		assert.ErrorIs(t, err, ErrProjectNotFound)
	}
	assert.Equal(t, int64(2), s.Stats().Caches[0].LoadErrors)

	_, err := s.Get(context.Background(), key, project)
	assert.NoError(t, err, "a failed project does not poison the key")
}

func TestPatchSetRefName(t *testing.T) {
	assert.Equal(t, "refs/changes/34/1234/2", PatchSetRefName(1234, 2))
	assert.Equal(t, "refs/changes/05/5/1", PatchSetRefName(5, 1))
	assert.Equal(t, "refs/changes/00/100/3", PatchSetRefName(100, 3))
}

func TestGetForPatchSet(t *testing.T) {
	f := newFixture(t)
	f.b.Ref(PatchSetRefName(1234, 2), f.child)
	s := newService(t, f, nil)
	change := ChangeRef{Project: project, Number: 1234}

	viaRef, err := s.GetForPatchSet(context.Background(), change, PatchSetRef{Number: 2})
	require.NoError(t, err)
	assert.Equal(t, f.child, viaRef.NewID)
	assert.Equal(t, f.base, viaRef.OldID)

	viaRevision, err := s.GetForPatchSet(context.Background(), change, PatchSetRef{Number: 2, Revision: f.child})
	require.NoError(t, err)
	assert.Same(t, viaRef, viaRevision)

	_, err = s.GetForPatchSet(context.Background(), change, PatchSetRef{Number: 9})
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.ErrorIs(t, err, ErrRefNotFound)

	_, err = s.GetForPatchSet(context.Background(), ChangeRef{Project: project}, PatchSetRef{Number: 1})
	assert.ErrorIs(t, err, ErrInvalidPatchSet)
}

func TestGetDiffSummary(t *testing.T) {
	f := newFixture(t)
	s := newService(t, f, nil)
	key := keys.AgainstDefaultBase(f.child, linediff.IgnoreNone)

	sum, err := s.GetDiffSummary(context.Background(), keys.SummaryKeyFor(key), project)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "old.txt"}, sum.Paths)
	assert.Equal(t, 2, sum.Insertions)
	assert.Equal(t, 2, sum.Deletions)

	again, err := s.GetDiffSummary(context.Background(), keys.SummaryKeyFor(key), project)
	require.NoError(t, err)
	assert.Same(t, sum, again)

	_, err = s.Get(context.Background(), key, project)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Stats().Caches[0].Loads, "summary reuses the cached patch list")
}

func intralineArgs() *intraline.Args {
	return &intraline.Args{
		AText:   text.FromString("hello world\n"),
		BText:   text.FromString("hello there\n"),
		Edits:   []edit.Edit{edit.New(0, 1, 0, 1)},
		Project: project,
		Path:    "a.txt",
	}
}

var intralineKey = keys.IntraLineDiffKey{
	BlobA: vcs.MustParseID("1111111111111111111111111111111111111111"),
	BlobB: vcs.MustParseID("2222222222222222222222222222222222222222"),
}

func TestGetIntraLineDiff(t *testing.T) {
	f := newFixture(t)
	s := newService(t, f, nil)

	res := s.GetIntraLineDiff(context.Background(), intralineKey, intralineArgs())
	require.Equal(t, intraline.StatusEditList, res.Status)
	require.Len(t, res.Edits, 1)
	assert.NotEmpty(t, res.Edits[0].Internal)

	again := s.GetIntraLineDiff(context.Background(), intralineKey, intralineArgs())
	assert.Equal(t, res, again)
	assert.Equal(t, int64(1), s.Stats().Caches[1].Hits)
}

func TestGetIntraLineDiff_Disabled(t *testing.T) {
	f := newFixture(t)
	s := newService(t, f, func(o *Options) { o.Intraline.Enabled = false })

	res := s.GetIntraLineDiff(context.Background(), intralineKey, intralineArgs())
	assert.Equal(t, intraline.StatusDisabled, res.Status)
	assert.Zero(t, s.Stats().Caches[1].EntryCount)
}

func TestGetIntraLineDiff_CancelledIsNotCached(t *testing.T) {
	f := newFixture(t)
	s := newService(t, f, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.GetIntraLineDiff(ctx, intralineKey, intralineArgs())
	assert.Equal(t, intraline.StatusTimeout, res.Status)
	assert.Zero(t, s.Stats().Caches[1].EntryCount)
}

func TestNewFromConfig_PersistentTier(t *testing.T) {
	f := newFixture(t)
	store, err := badger.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	cfg := config.DefaultConfig()
	cfg.Diff.MergeStrategy = "resolve"
	key := keys.AgainstDefaultBase(f.child, linediff.IgnoreNone)

	first, err := NewFromConfig(vcs.NewStaticManager(f.b.Repo), &cfg, store, nil)
	require.NoError(t, err)
	defer first.Close()
	want, err := first.Get(context.Background(), key, project)
	require.NoError(t, err)

	second, err := NewFromConfig(vcs.NewStaticManager(f.b.Repo), &cfg, store, nil)
	require.NoError(t, err)
	defer second.Close()
	got, err := second.Get(context.Background(), key, project)
	require.NoError(t, err)

	assert.NotSame(t, want, got)
	assert.Equal(t, want.Paths(), got.Paths())
	assert.Equal(t, want.Get("a.txt").Edits, got.Get("a.txt").Edits)
	assert.Equal(t, want.Insertions, got.Insertions)
	lists := second.Stats().Caches[0]
	assert.Equal(t, int64(1), lists.StoreHits)
	assert.Zero(t, lists.Loads)
}

func TestNewFromConfig_BadStrategy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Diff.MergeStrategy = "octopus"
	_, err := NewFromConfig(vcs.NewStaticManager(), &cfg, nil, nil)
	assert.Error(t, err)
}

func TestStats_Pools(t *testing.T) {
	f := newFixture(t)
	s := newService(t, f, nil)
	s.GetIntraLineDiff(context.Background(), intralineKey, intralineArgs())

	st := s.Stats()
	require.Len(t, st.Caches, 3)
	assert.Equal(t, int64(1), st.IntralineWorkersCreated)
	assert.Zero(t, st.IntralineWorkersKilled)
	assert.Equal(t, 1, st.IntralineWorkersIdle)
	assert.Zero(t, st.HeaderTimeouts)
}

func TestClearCache(t *testing.T) {
	f := newFixture(t)
	s := newService(t, f, nil)
	key := keys.AgainstDefaultBase(f.child, linediff.IgnoreNone)

	first, err := s.Get(context.Background(), key, project)
	require.NoError(t, err)
	require.NoError(t, s.ClearCache(PatchListCacheName))
	assert.Zero(t, s.Stats().Caches[0].EntryCount)

	second, err := s.Get(context.Background(), key, project)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(2), s.Stats().Caches[0].Loads)

	assert.NoError(t, s.ClearCache(IntralineCacheName))
	assert.NoError(t, s.ClearCache(SummaryCacheName))
	assert.ErrorIs(t, s.ClearCache("web_links"), ErrUnknownCache)
}
