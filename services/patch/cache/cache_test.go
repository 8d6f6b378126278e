// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testKey string

func (k testKey) Bytes() []byte { return []byte(k) }

type value struct {
	s string
}

func weighValue(v *value) int64 { return int64(len(v.s)) }

var valueCodec = &Codec[*value]{
	Marshal:   func(v *value) []byte { return []byte(v.s) },
	Unmarshal: func(data []byte) (*value, error) { return &value{s: string(data)}, nil },
}

func constLoad(s string, calls *atomic.Int32) LoadFunc[testKey, *value] {
	return func(ctx context.Context, key testKey) (*value, error) {
		calls.Add(1)
		return &value{s: s}, nil
	}
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(_ context.Context, ns string, key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[ns+"/"+string(key)]
	return v, ok, nil
}

func (m *memStore) Put(_ context.Context, ns string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ns+"/"+string(key)] = value
	return nil
}

func TestGet_LoadsOnceThenHits(t *testing.T) {
	c := New[testKey, *value](DefaultOptions("t"), weighValue, nil)
	var calls atomic.Int32

	v, err := c.Get(context.Background(), "k", constLoad("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, "v", v.s)

	v, err = c.Get(context.Background(), "k", constLoad("other", &calls))
	require.NoError(t, err)
	assert.Equal(t, "v", v.s)
	assert.Equal(t, int32(1), calls.Load())

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Loads)
	assert.Equal(t, 1, s.EntryCount)
	assert.InDelta(t, 50.0, s.HitRate(), 0.001)
}

func TestGet_DeduplicatesConcurrentLoads(t *testing.T) {
	c := New[testKey, *value](DefaultOptions("t"), weighValue, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context, key testKey) (*value, error) {
		calls.Add(1)
		<-release
		return &value{s: "v"}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*value, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k", load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Same(t, results[0], v)
	}
}

func TestGet_RemembersSelectedErrors(t *testing.T) {
	permanent := errors.New("too large")
	opts := DefaultOptions("t")
	opts.RememberError = func(err error) bool { return errors.Is(err, permanent) }
	c := New[testKey, *value](opts, weighValue, nil)

	var calls atomic.Int32
	fail := func(err error) LoadFunc[testKey, *value] {
		return func(ctx context.Context, key testKey) (*value, error) {
			calls.Add(1)
			return nil, err
		}
	}

	_, err := c.Get(context.Background(), "big", fail(permanent))
	assert.ErrorIs(t, err, permanent)
	_, err = c.Get(context.Background(), "big", fail(permanent))
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), c.Stats().RememberedErrors)

	_, ok := c.GetIfPresent("big")
	assert.False(t, ok)

	transient := errors.New("unavailable")
	_, err = c.Get(context.Background(), "flaky", fail(transient))
	assert.ErrorIs(t, err, transient)
	_, err = c.Get(context.Background(), "flaky", fail(transient))
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(3), c.Stats().LoadErrors)
}

func TestGet_RememberedErrorExpires(t *testing.T) {
	permanent := errors.New("too large")
	opts := DefaultOptions("t")
	opts.ErrorTTL = 10 * time.Millisecond
	opts.RememberError = func(error) bool { return true }
	c := New[testKey, *value](opts, weighValue, nil)

	_, err := c.Get(context.Background(), "k", func(context.Context, testKey) (*value, error) { return nil, permanent })
	require.Error(t, err)
	time.Sleep(20 * time.Millisecond)

	var calls atomic.Int32
	v, err := c.Get(context.Background(), "k", constLoad("ok", &calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", v.s)
}

func TestGet_NilValueIsError(t *testing.T) {
	c := New[testKey, *value](DefaultOptions("t"), weighValue, nil)
	_, err := c.Get(context.Background(), "k", func(context.Context, testKey) (*value, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNilValue)
	assert.Zero(t, c.Len())
}

func TestEviction_ByWeightInLRUOrder(t *testing.T) {
	opts := DefaultOptions("t")
	per := int64(entryOverhead + 2 + 100)
	opts.MaxMemoryBytes = 2 * per
	c := New[testKey, *value](opts, weighValue, nil)

	big := string(make([]byte, 100))
	c.Put("k1", &value{s: big})
	c.Put("k2", &value{s: big})
	_, ok := c.GetIfPresent("k1")
	require.True(t, ok)

	c.Put("k3", &value{s: big})
	_, ok = c.GetIfPresent("k2")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.GetIfPresent("k1")
	assert.True(t, ok)
	_, ok = c.GetIfPresent("k3")
	assert.True(t, ok)

	s := c.Stats()
	assert.Equal(t, int64(1), s.MemoryEvictions)
	assert.LessOrEqual(t, s.WeightBytes, opts.MaxMemoryBytes)
}

func TestEviction_KeepsOversizedNewest(t *testing.T) {
	opts := DefaultOptions("t")
	opts.MaxMemoryBytes = 10
	c := New[testKey, *value](opts, weighValue, nil)

	c.Put("k", &value{s: "far too large for the limit"})
	assert.Equal(t, 1, c.Len())
}

func TestEviction_ByCount(t *testing.T) {
	opts := DefaultOptions("t")
	opts.MaxEntries = 3
	c := New[testKey, *value](opts, weighValue, nil)
	for i := 0; i < 5; i++ {
		c.Put(testKey("k"+strconv.Itoa(i)), &value{s: "v"})
	}
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(2), c.Stats().Evictions)
	_, ok := c.GetIfPresent("k0")
	assert.False(t, ok)
}

func TestInvalidateAndClear(t *testing.T) {
	c := New[testKey, *value](DefaultOptions("t"), weighValue, nil)
	c.Put("a", &value{s: "1"})
	c.Put("b", &value{s: "2"})

	c.Invalidate("a")
	_, ok := c.GetIfPresent("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Stats().WeightBytes)
}

func TestStore_FillsAndServesMisses(t *testing.T) {
	store := newMemStore()
	opts := DefaultOptions("lists")
	opts.Store = store

	first := New[testKey, *value](opts, weighValue, valueCodec)
	var calls atomic.Int32
	_, err := first.Get(context.Background(), "k", constLoad("persisted", &calls))
	require.NoError(t, err)

	second := New[testKey, *value](opts, weighValue, valueCodec)
	v, err := second.Get(context.Background(), "k", constLoad("recomputed", &calls))
	require.NoError(t, err)
	assert.Equal(t, "persisted", v.s)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), second.Stats().StoreHits)
	assert.Zero(t, second.Stats().Loads)
}

func TestStore_IgnoredWithoutCodec(t *testing.T) {
	store := newMemStore()
	opts := DefaultOptions("lists")
	opts.Store = store
	c := New[testKey, *value](opts, weighValue, nil)

	var calls atomic.Int32
	_, err := c.Get(context.Background(), "k", constLoad("v", &calls))
	require.NoError(t, err)
	assert.Empty(t, store.data)
}
