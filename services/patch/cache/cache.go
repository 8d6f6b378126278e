// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides the memory-weighted caches in front of the
// patch computations.
//
// Each key is computed at most once at a time: concurrent misses share a
// single load. Entries are evicted least recently used first when their
// summed weight exceeds the limit. Selected load errors are remembered
// like values so permanent failures are not recomputed. An optional
// persistent tier is consulted before computing and filled after.
package cache

import (
	"container/list"
	"context"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is one cached value or remembered error.
type entry[K Key, V any] struct {
	key      K
	value    V
	err      error
	weight   int64
	storedAt time.Time
	elem     *list.Element
}

// Cache is a weighted LRU cache with deduplicated loads.
//
// Thread Safety:
//
//	Cache is safe for concurrent use. The entry map and LRU list are
//	guarded by one mutex; loads run outside it.
type Cache[K Key, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[K, V]
	lru     *list.List
	weight  int64
	flight  singleflight.Group

	opts   Options
	weigh  Weigher[V]
	codec  *Codec[V]
	logger *slog.Logger

	hits             atomic.Int64
	misses           atomic.Int64
	storeHits        atomic.Int64
	loads            atomic.Int64
	loadErrors       atomic.Int64
	rememberedErrors atomic.Int64
	evictions        atomic.Int64
	memoryEvictions  atomic.Int64
}

// New creates a cache. codec may be nil when opts.Store is nil.
func New[K Key, V any](opts Options, weigh Weigher[V], codec *Codec[V]) *Cache[K, V] {
	if opts.MaxMemoryBytes <= 0 {
		opts.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if codec == nil {
		opts.Store = nil
	}
	return &Cache[K, V]{
		entries: make(map[K]*entry[K, V]),
		lru:     list.New(),
		opts:    opts,
		weigh:   weigh,
		codec:   codec,
		logger:  opts.Logger,
	}
}

// Name returns the cache name.
func (c *Cache[K, V]) Name() string { return c.opts.Name }

// Get returns the value of key, loading it on a miss.
//
// Description:
//
//	A memory hit is returned directly, remembered errors included. On a
//	miss concurrent callers for the same key share one load: the
//	persistent tier is read first, then load is called. Successful values
//	are inserted and written to the tier; errors accepted by
//	RememberError are inserted as entries.
//
// Inputs:
//
//	ctx - Passed to load and the persistent tier.
//	key - The cache key.
//	load - Computes the value on a miss.
//
// Outputs:
//
//	V - The value.
//	error - The load error, remembered or fresh.
func (c *Cache[K, V]) Get(ctx context.Context, key K, load LoadFunc[K, V]) (V, error) {
	start := time.Now()
	ctx, span := startCacheSpan(ctx, c.opts.Name, "Get")
	defer span.End()

	if v, err, ok := c.lookup(key); ok {
		recordCacheHit(ctx, c.opts.Name)
		recordCacheGetLatency(ctx, c.opts.Name, time.Since(start), true)
		setCacheSpanResult(span, true)
		return v, err
	}
	recordCacheMiss(ctx, c.opts.Name)

	raw := key.Bytes()
	res, err, _ := c.flight.Do(string(raw), func() (interface{}, error) {
		// A concurrent flight may have filled the entry already.
		if v, err, ok := c.peek(key); ok {
			return v, err
		}
		if v, ok := c.readStore(ctx, raw); ok {
			c.storeHits.Add(1)
			c.insert(key, v, nil)
			return v, nil
		}

		v, err := load(ctx, key)
		if err == nil && isNil(v) {
			err = ErrNilValue
		}
		if err != nil {
			c.loadErrors.Add(1)
			if c.opts.RememberError != nil && c.opts.RememberError(err) {
				c.insert(key, v, err)
			}
			return v, err
		}
		c.loads.Add(1)
		recordCacheLoad(ctx, c.opts.Name)
		c.insert(key, v, nil)
		c.writeStore(ctx, raw, v)
		return v, nil
	})

	recordCacheGetLatency(ctx, c.opts.Name, time.Since(start), false)
	setCacheSpanResult(span, false)
	if err != nil {
		span.RecordError(err)
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// GetIfPresent returns a cached value without loading. Remembered errors
// report as absent.
func (c *Cache[K, V]) GetIfPresent(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.err != nil || c.expiredLocked(e) {
		var zero V
		return zero, false
	}
	c.lru.MoveToFront(e.elem)
	return e.value, true
}

// Put stores a value.
func (c *Cache[K, V]) Put(key K, v V) {
	c.insert(key, v, nil)
}

// Invalidate removes a key.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[K, V])
	c.lru.Init()
	c.weight = 0
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns current statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	n, w := len(c.entries), c.weight
	c.mu.Unlock()

	return Stats{
		Name:             c.opts.Name,
		EntryCount:       n,
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		StoreHits:        c.storeHits.Load(),
		Loads:            c.loads.Load(),
		LoadErrors:       c.loadErrors.Load(),
		RememberedErrors: c.rememberedErrors.Load(),
		Evictions:        c.evictions.Load(),
		MemoryEvictions:  c.memoryEvictions.Load(),
		WeightBytes:      w,
		MaxMemoryBytes:   c.opts.MaxMemoryBytes,
	}
}

// lookup serves a memory hit and counts the outcome.
func (c *Cache[K, V]) lookup(key K) (V, error, bool) {
	v, err, ok := c.peek(key)
	if !ok {
		c.misses.Add(1)
		return v, nil, false
	}
	c.hits.Add(1)
	if err != nil {
		c.rememberedErrors.Add(1)
	}
	return v, err, true
}

func (c *Cache[K, V]) peek(key K) (V, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, nil, false
	}
	if c.expiredLocked(e) {
		c.removeLocked(e)
		var zero V
		return zero, nil, false
	}
	c.lru.MoveToFront(e.elem)
	return e.value, e.err, true
}

// expiredLocked reports whether a remembered error outlived ErrorTTL.
func (c *Cache[K, V]) expiredLocked(e *entry[K, V]) bool {
	return e.err != nil && c.opts.ErrorTTL > 0 && time.Since(e.storedAt) > c.opts.ErrorTTL
}

func (c *Cache[K, V]) insert(key K, v V, err error) {
	w := int64(entryOverhead + len(key.Bytes()))
	if err != nil {
		w += errorWeight
	} else if c.weigh != nil {
		w += c.weigh(v)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}
	e := &entry[K, V]{key: key, value: v, err: err, weight: w, storedAt: time.Now()}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	c.weight += w
	c.evictIfNeededLocked()
}

func (c *Cache[K, V]) removeLocked(e *entry[K, V]) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
	c.weight -= e.weight
}

// evictIfNeededLocked drops least recently used entries until both
// limits hold. The newest entry is kept even when it alone exceeds the
// weight limit.
func (c *Cache[K, V]) evictIfNeededLocked() {
	for c.opts.MaxEntries > 0 && len(c.entries) > c.opts.MaxEntries {
		if !c.evictOldestLocked(false) {
			break
		}
	}
	for c.weight > c.opts.MaxMemoryBytes {
		if !c.evictOldestLocked(true) {
			break
		}
	}
}

func (c *Cache[K, V]) evictOldestLocked(memory bool) bool {
	back := c.lru.Back()
	if back == nil || back == c.lru.Front() {
		return false
	}
	c.removeLocked(back.Value.(*entry[K, V]))
	c.evictions.Add(1)
	if memory {
		c.memoryEvictions.Add(1)
	}
	recordCacheEviction(context.Background(), c.opts.Name)
	return true
}

func (c *Cache[K, V]) readStore(ctx context.Context, raw []byte) (V, bool) {
	var zero V
	if c.opts.Store == nil {
		return zero, false
	}
	data, found, err := c.opts.Store.Get(ctx, c.opts.Name, raw)
	if err != nil {
		c.logger.Warn("persistent cache read failed", "cache", c.opts.Name, "error", err)
		return zero, false
	}
	if !found {
		return zero, false
	}
	v, err := c.codec.Unmarshal(data)
	if err != nil {
		c.logger.Warn("persistent cache entry unreadable", "cache", c.opts.Name, "error", err)
		return zero, false
	}
	return v, true
}

func (c *Cache[K, V]) writeStore(ctx context.Context, raw []byte, v V) {
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.Put(ctx, c.opts.Name, raw, c.codec.Marshal(v)); err != nil {
		c.logger.Warn("persistent cache write failed", "cache", c.opts.Name, "error", err)
	}
}

// isNil reports whether v is a nil pointer, map, slice or interface.
func isNil[V any](v V) bool {
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
