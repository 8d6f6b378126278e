// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"bytes"
	"context"
	"testing"

	"github.com/AleutianAI/patchcache/services/patch/cache"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ cache.Store = (*Store)(nil)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	value := bytes.Repeat([]byte("diff --git a/x b/x\n"), 200)
	require.NoError(t, s.Put(ctx, "lists", []byte("k1"), value))

	got, found, err := s.Get(ctx, "lists", []byte("k1"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, value, got)

	_, found, err = s.Get(ctx, "lists", []byte("missing"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_CompressesValues(t *testing.T) {
	s := openTest(t)
	value := bytes.Repeat([]byte("abcdefgh"), 1000)
	assert.Less(t, len(s.wrap(value)), len(value)/10)
}

func TestStore_NamespacesAreIsolated(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "lists", []byte("k"), []byte("list")))
	require.NoError(t, s.Put(ctx, "summaries", []byte("k"), []byte("summary")))

	got, _, err := s.Get(ctx, "lists", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("list"), got)

	n, err := s.Count(ctx, "summaries")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DropNamespace("lists"))
	_, found, err := s.Get(ctx, "lists", []byte("k"))
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = s.Get(ctx, "summaries", []byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStore_Delete(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "ns", []byte("k"), []byte("v")))
	require.NoError(t, s.Delete(ctx, "ns", []byte("k")))
	require.NoError(t, s.Delete(ctx, "ns", []byte("never-written")))

	_, found, err := s.Get(ctx, "ns", []byte("k"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_CorruptEntry(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey("ns", []byte("bad")), []byte{9, 1, 2})
	})
	require.NoError(t, err)

	_, _, err = s.Get(ctx, "ns", []byte("bad"))
	assert.ErrorIs(t, err, ErrCorruptEntry)
}

func TestStore_CancelledContext(t *testing.T) {
	s := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Put(ctx, "ns", []byte("k"), []byte("v")), context.Canceled)
	_, _, err := s.Get(ctx, "ns", []byte("k"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_Closed(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = s.Get(context.Background(), "ns", []byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "lists", []byte("k"), []byte("persistent")))
	require.NoError(t, s.Close())

	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()

	got, found, err := s2.Get(ctx, "lists", []byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("persistent"), got)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestNewGCRunner_Validation(t *testing.T) {
	_, err := newGCRunner(nil, 0, 0.5, nil)
	assert.Error(t, err)
	_, err = newGCRunner(nil, 1, 1.5, nil)
	assert.Error(t, err)
}

func TestStore_BacksCache(t *testing.T) {
	s := openTest(t)
	opts := cache.DefaultOptions("words")
	opts.Store = s
	codec := &cache.Codec[string]{
		Marshal:   func(v string) []byte { return []byte(v) },
		Unmarshal: func(b []byte) (string, error) { return string(b), nil },
	}

	first := cache.New[wordKey, string](opts, nil, codec)
	_, err := first.Get(context.Background(), "hello", func(context.Context, wordKey) (string, error) {
		return "world", nil
	})
	require.NoError(t, err)

	second := cache.New[wordKey, string](opts, nil, codec)
	v, err := second.Get(context.Background(), "hello", func(context.Context, wordKey) (string, error) {
		t.Fatal("value should come from the store")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "world", v)
	assert.Equal(t, int64(1), second.Stats().StoreHits)
}

type wordKey string

func (k wordKey) Bytes() []byte { return []byte(k) }
