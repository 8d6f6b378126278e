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
	"testing"
	"time"

	"github.com/AleutianAI/patchcache/services/patch/automerge"
	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/keys"
	"github.com/AleutianAI/patchcache/services/patch/linediff"
	"github.com/AleutianAI/patchcache/services/patch/patchlist"
	"github.com/AleutianAI/patchcache/services/patch/text"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
	"github.com/AleutianAI/patchcache/services/patch/vcs/vcstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoader(b *vcstest.Builder, cfg Config) *Loader {
	return New(vcs.NewStaticManager(b.Repo), nil, cfg)
}

func load(t *testing.T, l *Loader, key keys.PatchListKey) *patchlist.PatchList {
	t.Helper()
	pl, err := l.Load(context.Background(), key, "test")
	require.NoError(t, err)
	return pl
}

func TestLoad_SingleParent(t *testing.T) {
	b := vcstest.New(t)
	base := b.Commit("base", map[string]string{"a.txt": "1\n2\n3\n"})
	child := b.Commit("child", map[string]string{"a.txt": "1\nX\n3\nadd\n", "b.txt": "new\n"}, base)

	pl := load(t, newLoader(b, Config{CacheAutoMerge: true}), keys.AgainstDefaultBase(child, linediff.IgnoreNone))

	assert.Equal(t, []string{patchlist.CommitMsg, "a.txt", "b.txt"}, pl.Paths())
	assert.Equal(t, keys.AgainstParent(1), pl.ComparisonType)
	assert.Equal(t, base, pl.OldID)
	assert.Equal(t, child, pl.NewID)
	assert.False(t, pl.IsMerge)

	msg := pl.Entries[0]
	assert.Equal(t, patchlist.Added, msg.ChangeType)
	assert.Empty(t, msg.OldName)
	assert.Contains(t, string(msg.Header), "--- /dev/null")

	a := pl.Get("a.txt")
	require.NotNil(t, a)
	assert.Equal(t, patchlist.Modified, a.ChangeType)
	assert.Equal(t, []edit.Edit{edit.New(1, 2, 1, 2), edit.New(3, 3, 3, 4)}, a.Edits)
	assert.Equal(t, int64(10), a.Size)
	assert.Equal(t, int64(4), a.SizeDelta)

	added := pl.Get("b.txt")
	require.NotNil(t, added)
	assert.Equal(t, patchlist.Added, added.ChangeType)
	assert.Empty(t, added.OldName)
	assert.Equal(t, []edit.Edit{edit.New(0, 0, 0, 1)}, added.Edits)

	assert.Equal(t, 3, pl.Insertions)
	assert.Equal(t, 1, pl.Deletions)
}

func TestLoad_NoChangeCommit(t *testing.T) {
	b := vcstest.New(t)
	files := map[string]string{"a.txt": "same\n"}
	base := b.Commit("base", files)
	child := b.Commit("empty", files, base)

	pl := load(t, newLoader(b, Config{}), keys.AgainstDefaultBase(child, linediff.IgnoreNone))
	assert.Equal(t, []string{patchlist.CommitMsg}, pl.Paths())
	assert.Zero(t, pl.Insertions)
	assert.Zero(t, pl.Deletions)
}

func TestLoad_Idempotent(t *testing.T) {
	b := vcstest.New(t)
	base := b.Commit("base", map[string]string{"a.txt": "1\n"})
	child := b.Commit("child", map[string]string{"a.txt": "2\n"}, base)
	l := newLoader(b, Config{})

	key := keys.AgainstDefaultBase(child, linediff.IgnoreNone)
	assert.Equal(t, load(t, l, key), load(t, l, key))
}

func TestLoad_RootCommit(t *testing.T) {
	b := vcstest.New(t)
	root := b.Commit("root", map[string]string{"a.txt": "a\n"})

	pl := load(t, newLoader(b, Config{}), keys.AgainstDefaultBase(root, linediff.IgnoreNone))
	assert.Equal(t, vcs.EmptyTreeID, pl.OldID)
	assert.Equal(t, keys.AgainstOtherPatchSet(), pl.ComparisonType)
	assert.Equal(t, []string{patchlist.CommitMsg, "a.txt"}, pl.Paths())
	assert.Equal(t, patchlist.Added, pl.Entries[0].ChangeType)
}

func TestLoad_OtherPatchSet(t *testing.T) {
	b := vcstest.New(t)
	base := b.Commit("base", map[string]string{"a.txt": "a\n"})
	ps1 := b.Commit("fix", map[string]string{"a.txt": "b\n"}, base)
	ps2 := b.Commit("fix\n\nbetter", map[string]string{"a.txt": "c\n"}, base)

	pl := load(t, newLoader(b, Config{}), keys.AgainstCommit(ps1, ps2, linediff.IgnoreNone))
	assert.Equal(t, keys.AgainstOtherPatchSet(), pl.ComparisonType)
	msg := pl.Entries[0]
	assert.Equal(t, patchlist.Modified, msg.ChangeType)
	assert.Equal(t, patchlist.CommitMsg, msg.OldName)
	assert.Contains(t, string(msg.Header), "--- a/"+patchlist.CommitMsg)
	assert.NotEmpty(t, msg.Edits)
}

func TestLoad_WhitespaceIgnored(t *testing.T) {
	b := vcstest.New(t)
	base := b.Commit("base", map[string]string{"a.txt": "x\ny\n"})
	child := b.Commit("child", map[string]string{"a.txt": "x  \ny\n"}, base)
	l := newLoader(b, Config{})

	pl := load(t, l, keys.AgainstDefaultBase(child, linediff.IgnoreTrailing))
	require.NotNil(t, pl.Get("a.txt"))
	assert.Empty(t, pl.Get("a.txt").Edits)

	pl = load(t, l, keys.AgainstDefaultBase(child, linediff.IgnoreNone))
	assert.Len(t, pl.Get("a.txt").Edits, 1)
}

func mergeFixture(b *vcstest.Builder) (merge, p1, p2 vcs.ObjectID) {
	base := b.Commit("base", map[string]string{"a.txt": "one\n"})
	p1 = b.Commit("add foo", map[string]string{"a.txt": "one\nfoo\n"}, base)
	p2 = b.Commit("add b", map[string]string{"a.txt": "one\n", "b.txt": "b\n"}, base)
	merge = b.Commit("merge", map[string]string{"a.txt": "one\nfoo\n", "b.txt": "b\n", "c.txt": "c\n"}, p1, p2)
	return merge, p1, p2
}

func TestLoad_MergeAgainstAutoMerge(t *testing.T) {
	b := vcstest.New(t)
	m, _, _ := mergeFixture(b)

	pl := load(t, newLoader(b, Config{CacheAutoMerge: true}), keys.AgainstDefaultBase(m, linediff.IgnoreNone))
	assert.True(t, pl.IsMerge)
	assert.Equal(t, keys.AgainstAutoMerge(), pl.ComparisonType)
	assert.Equal(t, []string{patchlist.CommitMsg, patchlist.MergeList, "c.txt"}, pl.Paths())

	ref, err := b.Repo.ReadRef(context.Background(), automerge.RefName(m))
	require.NoError(t, err)
	assert.Equal(t, ref, pl.OldID)
}

func TestLoad_MergeTransientAutoMerge(t *testing.T) {
	b := vcstest.New(t)
	m, _, _ := mergeFixture(b)

	pl := load(t, newLoader(b, Config{CacheAutoMerge: false}), keys.AgainstDefaultBase(m, linediff.IgnoreNone))
	assert.Equal(t, []string{patchlist.CommitMsg, patchlist.MergeList, "c.txt"}, pl.Paths())

	_, err := b.Repo.ReadRef(context.Background(), automerge.RefName(m))
	assert.ErrorIs(t, err, vcs.ErrRefNotFound)
}

func TestLoad_MergeAgainstParent(t *testing.T) {
	b := vcstest.New(t)
	m, _, p2 := mergeFixture(b)

	pl := load(t, newLoader(b, Config{}), keys.AgainstParentNum(m, 2, linediff.IgnoreNone))
	assert.Equal(t, keys.AgainstParent(2), pl.ComparisonType)
	assert.Equal(t, p2, pl.OldID)
	assert.Equal(t, []string{patchlist.CommitMsg, patchlist.MergeList, "a.txt", "c.txt"}, pl.Paths())
}

func TestLoad_OctopusMerge(t *testing.T) {
	b := vcstest.New(t)
	base := b.Commit("base", map[string]string{"a": "a\n"})
	p1 := b.Commit("p1", map[string]string{"a": "a\n", "b": "b\n"}, base)
	p2 := b.Commit("p2", map[string]string{"a": "a\n", "c": "c\n"}, base)
	p3 := b.Commit("p3", map[string]string{"a": "a\n", "d": "d\n"}, base)
	m := b.Commit("octopus", map[string]string{"a": "a\n", "b": "b\n", "c": "c\n", "d": "d\n"}, p1, p2, p3)

	pl := load(t, newLoader(b, Config{}), keys.AgainstDefaultBase(m, linediff.IgnoreNone))
	assert.True(t, pl.IsMerge)
	assert.True(t, pl.OldID.IsZero())
	assert.Equal(t, keys.AgainstParent(1), pl.ComparisonType)
	assert.Equal(t, []string{patchlist.CommitMsg, patchlist.MergeList}, pl.Paths())
}

func TestLoad_Binary(t *testing.T) {
	b := vcstest.New(t)
	base := b.Commit("base", map[string]string{"bin.dat": "a\x00b"})
	child := b.Commit("child", map[string]string{"bin.dat": "a\x00c"}, base)

	pl := load(t, newLoader(b, Config{}), keys.AgainstDefaultBase(child, linediff.IgnoreNone))
	ent := pl.Get("bin.dat")
	require.NotNil(t, ent)
	assert.Equal(t, patchlist.Binary, ent.PatchType)
	assert.Empty(t, ent.Edits)
	assert.Contains(t, string(ent.Header), "Binary files a/bin.dat and b/bin.dat differ")
}

func TestLoad_ObjectTooLarge(t *testing.T) {
	b := vcstest.New(t)
	base := b.Commit("base", map[string]string{"a.txt": "a\n"})
	child := b.Commit("child", map[string]string{"a.txt": "0123456789\n"}, base)

	_, err := newLoader(b, Config{MaxObjectSize: 4}).Load(context.Background(), keys.AgainstDefaultBase(child, linediff.IgnoreNone), "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrObjectTooLarge)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, child, le.Key.NewID)
	assert.Equal(t, "test", le.Project)
}

func TestLoad_NotAvailable(t *testing.T) {
	b := vcstest.New(t)
	b.Commit("base", map[string]string{"a.txt": "a\n"})
	l := newLoader(b, Config{})

	missing := vcs.MustParseID("dddddddddddddddddddddddddddddddddddddddd")
	_, err := l.Load(context.Background(), keys.AgainstDefaultBase(missing, linediff.IgnoreNone), "test")
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.ErrorIs(t, err, vcs.ErrObjectNotFound)

	_, err = l.Load(context.Background(), keys.AgainstDefaultBase(missing, linediff.IgnoreNone), "nope")
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.ErrorIs(t, err, vcs.ErrProjectNotFound)
}

func TestLoad_Cancelled(t *testing.T) {
	b := vcstest.New(t)
	base := b.Commit("base", map[string]string{"a.txt": "a\n"})
	child := b.Commit("child", map[string]string{"a.txt": "b\n"}, base)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newLoader(b, Config{}).Load(ctx, keys.AgainstDefaultBase(child, linediff.IgnoreNone), "test")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNotAvailable)
}

// rebaseFixture builds two patch sets of one change, the second rebased
// onto an upstream commit that edits line 1 of f.txt and u.txt.
func rebaseFixture(b *vcstest.Builder, extra bool) (ps1, ps2 vcs.ObjectID) {
	lines := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
	render := func(edits map[int]string) string {
		s := ""
		for i, l := range lines {
			if r, ok := edits[i]; ok {
				l = r
			}
			s += l + "\n"
		}
		return s
	}

	base0 := b.Commit("base0", map[string]string{"f.txt": render(nil), "u.txt": "u\n"})
	base1 := b.Commit("upstream", map[string]string{"f.txt": render(map[int]string{0: "ONE"}), "u.txt": "U\n"}, base0)
	ps1 = b.Commit("change", map[string]string{"f.txt": render(map[int]string{7: "EIGHT"}), "u.txt": "u\n"}, base0)

	rebased := map[int]string{0: "ONE", 7: "EIGHT"}
	if extra {
		rebased[4] = "FIVE"
	}
	ps2 = b.Commit("change", map[string]string{"f.txt": render(rebased), "u.txt": "U\n"}, base1)
	return ps1, ps2
}

func TestLoad_RebaseTransparentDropsRebaseOnlyFiles(t *testing.T) {
	b := vcstest.New(t)
	ps1, ps2 := rebaseFixture(b, false)
	l := newLoader(b, Config{})

	key := keys.AgainstCommit(ps1, ps2, linediff.IgnoreNone)
	plain := load(t, l, key)
	assert.Equal(t, []string{patchlist.CommitMsg, "f.txt", "u.txt"}, plain.Paths())

	key.RebaseTransparent = true
	pl := load(t, l, key)
	assert.Equal(t, []string{patchlist.CommitMsg}, pl.Paths())
}

func TestLoad_RebaseTransparentMarksRebaseEdits(t *testing.T) {
	b := vcstest.New(t)
	ps1, ps2 := rebaseFixture(b, true)

	key := keys.AgainstCommit(ps1, ps2, linediff.IgnoreNone)
	key.RebaseTransparent = true
	pl := load(t, newLoader(b, Config{}), key)

	assert.Equal(t, []string{patchlist.CommitMsg, "f.txt"}, pl.Paths())
	f := pl.Get("f.txt")
	assert.Equal(t, []edit.Edit{edit.New(0, 1, 0, 1), edit.New(4, 5, 4, 5)}, f.Edits)
	assert.Equal(t, []edit.Edit{edit.New(0, 1, 0, 1)}, f.EditsDueToRebase)
}

type countingSource struct {
	l     *Loader
	calls []keys.PatchListKey
}

func (s *countingSource) Get(ctx context.Context, key keys.PatchListKey, project string) (*patchlist.PatchList, error) {
	s.calls = append(s.calls, key)
	return s.l.Load(ctx, key, project)
}

func TestLoad_RebaseUsesSource(t *testing.T) {
	b := vcstest.New(t)
	ps1, ps2 := rebaseFixture(b, false)
	l := newLoader(b, Config{})
	src := &countingSource{l: l}
	l.SetSource(src)

	key := keys.AgainstCommit(ps1, ps2, linediff.IgnoreNone)
	key.RebaseTransparent = true
	load(t, l, key)

	assert.Equal(t, []keys.PatchListKey{
		keys.AgainstDefaultBase(ps1, linediff.IgnoreNone),
		keys.AgainstDefaultBase(ps2, linediff.IgnoreNone),
	}, src.calls)
}

func TestHeaderExecutor_TimeoutRetriesWithoutFallback(t *testing.T) {
	x := NewHeaderExecutor(1, 20*time.Millisecond, nil)
	var algs []linediff.Algorithm
	results := make(chan linediff.Algorithm, 2)
	x.diff = func(ctx context.Context, a, b []string, ws linediff.Whitespace, alg linediff.Algorithm) ([]edit.Edit, error) {
		results <- alg
		if alg == linediff.Myers {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []edit.Edit{edit.New(0, 1, 0, 1)}, nil
	}

	edits, err := x.run(context.Background(), &fileDiff{project: "p", entry: vcs.DiffEntry{NewPath: "slow.txt"}})
	require.NoError(t, err)
	assert.Equal(t, []edit.Edit{edit.New(0, 1, 0, 1)}, edits)
	assert.Equal(t, int64(1), x.Timeouts())

	algs = append(algs, <-results, <-results)
	assert.ElementsMatch(t, []linediff.Algorithm{linediff.Myers, linediff.NoFallback}, algs)
}

func TestHeaderExecutor_SaturatedFallsBack(t *testing.T) {
	x := NewHeaderExecutor(1, 10*time.Millisecond, nil)
	x.diff = func(ctx context.Context, a, b []string, ws linediff.Whitespace, alg linediff.Algorithm) ([]edit.Edit, error) {
		require.Equal(t, linediff.NoFallback, alg)
		return []edit.Edit{}, nil
	}
	x.slots <- struct{}{}
	defer func() { <-x.slots }()

	edits, err := x.run(context.Background(), &fileDiff{})
	require.NoError(t, err)
	assert.Empty(t, edits)
	assert.Equal(t, int64(1), x.Timeouts())
}

func TestHeaderExecutor_SlotWaitSharesDeadline(t *testing.T) {
	const timeout = 200 * time.Millisecond
	x := NewHeaderExecutor(1, timeout, nil)
	deadlines := make(chan time.Time, 1)
	x.diff = func(ctx context.Context, a, b []string, ws linediff.Whitespace, alg linediff.Algorithm) ([]edit.Edit, error) {
		require.Equal(t, linediff.Myers, alg)
		d, ok := ctx.Deadline()
		require.True(t, ok)
		deadlines <- d
		return []edit.Edit{}, nil
	}
	x.slots <- struct{}{}
	go func() {
		time.Sleep(100 * time.Millisecond)
		<-x.slots
	}()

	start := time.Now()
	_, err := x.run(context.Background(), &fileDiff{})
	require.NoError(t, err)
	assert.Zero(t, x.Timeouts())
	assert.True(t, (<-deadlines).Before(start.Add(timeout+50*time.Millisecond)),
		"the diff gets what is left of the timeout after waiting for a slot")
}

func TestHeaderExecutor_Defaults(t *testing.T) {
	x := NewHeaderExecutor(0, 0, nil)
	assert.Positive(t, x.Size())
	assert.Equal(t, DefaultTimeout, x.Timeout())
}

func TestTexts(t *testing.T) {
	b := vcstest.New(t)
	base := b.Commit("base", map[string]string{"a.txt": "1\n2\n"})
	ps1 := b.Commit("fix", map[string]string{"a.txt": "1\nX\n"}, base)
	ps2 := b.Commit("fix\n\nbetter", map[string]string{"a.txt": "1\nY\n", "bin": "\x00\x01"}, base)
	l := newLoader(b, Config{})
	ctx := context.Background()

	pl := load(t, l, keys.AgainstDefaultBase(ps1, linediff.IgnoreNone))
	a, bt, err := Texts(ctx, b.Repo, pl, pl.Get("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n", a.String())
	assert.Equal(t, "1\nX\n", bt.String())

	a, bt, err = Texts(ctx, b.Repo, pl, pl.Get(patchlist.CommitMsg))
	require.NoError(t, err)
	assert.Same(t, text.Empty, a, "no old message against a parent")
	assert.Contains(t, bt.String(), "Parent:")
	assert.Contains(t, bt.String(), "fix")

	pl = load(t, l, keys.AgainstCommit(ps1, ps2, linediff.IgnoreNone))
	a, bt, err = Texts(ctx, b.Repo, pl, pl.Get(patchlist.CommitMsg))
	require.NoError(t, err)
	assert.NotContains(t, a.String(), "better")
	assert.Contains(t, bt.String(), "better")

	a, bt, err = Texts(ctx, b.Repo, pl, pl.Get("bin"))
	require.NoError(t, err)
	assert.Zero(t, a.Size())
	assert.Zero(t, bt.Size())
}
