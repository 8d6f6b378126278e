// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intraline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/patchcache/services/patch/keys"
	"github.com/AleutianAI/patchcache/services/patch/patchlist"
)

// Config configures an Engine.
type Config struct {
	Enabled bool
	Pool    PoolConfig
}

// Engine is the entry point for intraline refinement.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	enabled bool
	pool    *WorkerPool
	logger  *slog.Logger
}

// NewEngine creates an engine with its own worker pool.
func NewEngine(cfg Config) *Engine {
	if cfg.Pool.Logger == nil {
		cfg.Pool.Logger = slog.Default()
	}
	return &Engine{
		enabled: cfg.Enabled,
		pool:    NewWorkerPool(cfg.Pool),
		logger:  cfg.Pool.Logger,
	}
}

// Enabled reports whether refinement is turned on.
func (e *Engine) Enabled() bool { return e.enabled }

// Pool returns the engine's worker pool.
func (e *Engine) Pool() *WorkerPool { return e.pool }

// Compute refines the file described by args.
//
// Description:
//
//	Returns Disabled when the engine is off. Otherwise the request runs on
//	the worker pool; failures are reported through the status and never
//	as an error.
//
// Inputs:
//
//	ctx - Ends the wait early; the result is then StatusTimeout.
//	key - Identifies the blob pair, used for logging.
//	args - Texts and line edits to refine.
func (e *Engine) Compute(ctx context.Context, key keys.IntraLineDiffKey, args *Args) IntraLineDiff {
	if !e.enabled {
		return Disabled()
	}
	if args == nil || args.AText == nil || args.BText == nil {
		e.logger.Warn("intraline request without texts", "key", key.String())
		return Failed()
	}
	res := e.pool.Do(ctx, args)
	if res.Status != StatusEditList {
		e.logger.Debug("intraline degraded to line level",
			"key", key.String(),
			"path", args.Path,
			"status", res.Status.String())
	}
	return res
}

// Close stops the engine's idle workers.
func (e *Engine) Close() { e.pool.Close() }

// Marshal encodes a result in the cache wire format.
func Marshal(d IntraLineDiff) []byte {
	enc := keys.NewEncoder(16 + 8*len(d.Edits))
	enc.Byte(keys.Version)
	enc.Byte(byte(d.Status))
	patchlist.EncodeEdits(enc, d.Edits)
	return enc.Data()
}

// Unmarshal decodes a result written by Marshal.
func Unmarshal(data []byte) (IntraLineDiff, error) {
	dec := keys.NewDecoder(data)
	if v := dec.Byte(); dec.Err() == nil && v != keys.Version {
		return IntraLineDiff{}, fmt.Errorf("%w: intraline version %d", keys.ErrCorrupt, v)
	}
	status := Status(dec.Byte())
	edits := patchlist.DecodeEdits(dec)
	if err := dec.Err(); err != nil {
		return IntraLineDiff{}, err
	}
	switch status {
	case StatusEditList, StatusDisabled, StatusTimeout, StatusError:
	default:
		return IntraLineDiff{}, fmt.Errorf("%w: intraline status %d", keys.ErrCorrupt, byte(status))
	}
	return IntraLineDiff{Status: status, Edits: edits}, nil
}

// EstimatedMemoryBytes approximates the heap held by a result.
func (d IntraLineDiff) EstimatedMemoryBytes() int64 {
	return 16 + patchlist.EditsMemoryBytes(d.Edits)
}
