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
	"log/slog"
	"time"
)

// Default configuration values.
const (
	// DefaultMaxMemoryBytes is the default weight limit of one cache.
	DefaultMaxMemoryBytes = 10 << 20

	// entryOverhead is charged per entry on top of the value weight.
	entryOverhead = 96

	// errorWeight is the weight of a remembered error.
	errorWeight = 64
)

// ErrNilValue is returned when a load reports success without a value.
var ErrNilValue = errors.New("loader returned nil value")

// Key is a cache key with a stable binary encoding.
type Key interface {
	comparable
	Bytes() []byte
}

// LoadFunc computes the value of a missing key.
type LoadFunc[K Key, V any] func(ctx context.Context, key K) (V, error)

// Weigher estimates the memory held by a value.
type Weigher[V any] func(v V) int64

// Codec converts values for the persistent tier.
type Codec[V any] struct {
	Marshal   func(v V) []byte
	Unmarshal func(data []byte) (V, error)
}

// Store is a persistent tier behind the in-memory cache.
//
// Thread Safety: implementations must be safe for concurrent use.
type Store interface {
	// Get reads a value. found is false when the key is absent.
	Get(ctx context.Context, namespace string, key []byte) (value []byte, found bool, err error)

	// Put writes a value.
	Put(ctx context.Context, namespace string, key, value []byte) error
}

// Options configures a Cache.
type Options struct {
	// Name labels metrics and logs, and namespaces the persistent tier.
	Name string

	// MaxMemoryBytes bounds the summed entry weights.
	MaxMemoryBytes int64

	// MaxEntries bounds the entry count. Zero means unbounded.
	MaxEntries int

	// ErrorTTL is how long remembered errors are served. Zero keeps them
	// until evicted.
	ErrorTTL time.Duration

	// RememberError selects load errors that are cached like values.
	// Nil remembers nothing.
	RememberError func(err error) bool

	// Store is the optional persistent tier. It requires Codec.
	Store Store

	// Logger receives persistent tier failures. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the defaults for a named cache.
func DefaultOptions(name string) Options {
	return Options{
		Name:           name,
		MaxMemoryBytes: DefaultMaxMemoryBytes,
	}
}

// Stats contains statistics about one cache.
type Stats struct {
	// Name is the cache name.
	Name string

	// EntryCount is the number of entries held, remembered errors included.
	EntryCount int

	// Hits counts lookups served from memory.
	Hits int64

	// Misses counts lookups that were not in memory.
	Misses int64

	// StoreHits counts misses served by the persistent tier.
	StoreHits int64

	// Loads counts successful computations.
	Loads int64

	// LoadErrors counts failed computations.
	LoadErrors int64

	// RememberedErrors counts failures served from memory.
	RememberedErrors int64

	// Evictions counts entries removed to respect the limits.
	Evictions int64

	// MemoryEvictions counts evictions due to the weight limit.
	MemoryEvictions int64

	// WeightBytes is the summed estimated weight.
	WeightBytes int64

	// MaxMemoryBytes is the configured weight limit.
	MaxMemoryBytes int64
}

// HitRate returns the hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}
