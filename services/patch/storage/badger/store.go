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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
)

// envelopeVersion prefixes every stored value.
const envelopeVersion byte = 1

// ErrCorruptEntry is returned when a stored value cannot be decoded.
var ErrCorruptEntry = errors.New("corrupt persisted cache entry")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is a namespaced key/value store with zstd-compressed values.
//
// Keys are stored as "<namespace>\x00<key>" so caches sharing one database
// never collide.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	ttl    time.Duration
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *slog.Logger
	closed atomic.Bool
}

// Open opens a store with the given configuration.
//
// Description:
//
//	Opens the database and starts value log GC when GCInterval is set and
//	the database is on disk.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	s := &Store{db: db, ttl: cfg.EntryTTL, enc: enc, dec: dec, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// OpenInMemory opens an in-memory store for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Get reads a value.
func (s *Store) Get(ctx context.Context, namespace string, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.closed.Load() {
		return nil, false, ErrClosed
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(namespace, key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s entry: %w", namespace, err)
	}

	value, err := s.unwrap(raw)
	if err != nil {
		return nil, false, fmt.Errorf("read %s entry: %w", namespace, err)
	}
	return value, true, nil
}

// Put writes a value, replacing any previous one.
func (s *Store) Put(ctx context.Context, namespace string, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	e := badger.NewEntry(storeKey(namespace, key), s.wrap(value))
	if s.ttl > 0 {
		e = e.WithTTL(s.ttl)
	}
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(e) }); err != nil {
		return fmt.Errorf("write %s entry: %w", namespace, err)
	}
	return nil
}

// Delete removes a value. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, namespace string, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storeKey(namespace, key))
	})
}

// Count returns the number of entries in a namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.closed.Load() {
		return 0, ErrClosed
	}

	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = namespacePrefix(namespace)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// DropNamespace removes every entry of a namespace.
func (s *Store) DropNamespace(namespace string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.DropPrefix(namespacePrefix(namespace))
}

// Close stops GC and closes the database. Safe to call multiple times.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.gc != nil {
		s.gc.stop()
	}
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.logger.Warn("closing zstd encoder", slog.String("error", err.Error()))
	}
	return s.db.Close()
}

func (s *Store) wrap(value []byte) []byte {
	dst := make([]byte, 1, 1+len(value)/2)
	dst[0] = envelopeVersion
	return s.enc.EncodeAll(value, dst)
}

func (s *Store) unwrap(raw []byte) ([]byte, error) {
	if len(raw) == 0 || raw[0] != envelopeVersion {
		return nil, ErrCorruptEntry
	}
	value, err := s.dec.DecodeAll(raw[1:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	return value, nil
}

func namespacePrefix(namespace string) []byte {
	p := make([]byte, 0, len(namespace)+1)
	p = append(p, namespace...)
	return append(p, 0)
}

func storeKey(namespace string, key []byte) []byte {
	return append(namespacePrefix(namespace), key...)
}
