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
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/AleutianAI/patchcache/services/patch/linediff"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds one file diff before it is retried.
const DefaultTimeout = 5 * time.Second

// diffFunc matches linediff.Diff.
type diffFunc func(ctx context.Context, a, b []string, ws linediff.Whitespace, alg linediff.Algorithm) ([]edit.Edit, error)

// fileDiff is one file diff submitted to the executor.
type fileDiff struct {
	project string
	commit  vcs.ObjectID
	entry   vcs.DiffEntry
	a, b    []string
	ws      linediff.Whitespace
}

type diffResult struct {
	edits []edit.Edit
	err   error
}

// HeaderExecutor computes file diffs on a bounded set of goroutines.
//
// Each diff runs with linediff.Myers under a timeout. When the timeout
// passes the caller stops waiting, logs the event and recomputes the
// diff itself with linediff.NoFallback. The timeout covers waiting for a
// slot too, so callers that cannot get one in time take the same path.
//
// Thread Safety: Safe for concurrent use.
type HeaderExecutor struct {
	slots    chan struct{}
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
	diff     diffFunc
	timeouts atomic.Int64
}

// NewHeaderExecutor creates an executor. workers <= 0 means GOMAXPROCS;
// timeout <= 0 means DefaultTimeout; a nil logger means slog.Default().
func NewHeaderExecutor(workers int, timeout time.Duration, logger *slog.Logger) *HeaderExecutor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeaderExecutor{
		slots:   make(chan struct{}, workers),
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		logger:  logger,
		diff:    linediff.Diff,
	}
}

// Size returns the number of concurrent diffs.
func (x *HeaderExecutor) Size() int { return cap(x.slots) }

// Timeout returns the per-diff timeout.
func (x *HeaderExecutor) Timeout() time.Duration { return x.timeout }

// Timeouts returns how many diffs fell back after a timeout.
func (x *HeaderExecutor) Timeouts() int64 { return x.timeouts.Load() }

// run computes the edits of one file diff. Waiting for a slot and the
// diff itself share one deadline.
func (x *HeaderExecutor) run(ctx context.Context, fd *fileDiff) ([]edit.Edit, error) {
	tctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	select {
	case x.slots <- struct{}{}:
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return x.fallback(ctx, fd)
	}

	done := make(chan diffResult, 1)
	go func() {
		defer func() { <-x.slots }()
		edits, err := x.diff(tctx, fd.a, fd.b, fd.ws, linediff.Myers)
		done <- diffResult{edits: edits, err: err}
	}()

	select {
	case r := <-done:
		return r.edits, r.err
	case <-tctx.Done():
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return x.fallback(ctx, fd)
}

func (x *HeaderExecutor) fallback(ctx context.Context, fd *fileDiff) ([]edit.Edit, error) {
	x.timeouts.Add(1)
	headerTimeouts.Inc()
	if x.limiter.Allow() {
		x.logger.Warn("diff timeout reached, retrying without fallback",
			"timeout_ms", x.timeout.Milliseconds(),
			"project", fd.project,
			"commit", fd.commit.String(),
			"path", fd.entry.Path(),
			"old_id", fd.entry.OldID.String(),
			"new_id", fd.entry.NewID.String())
	}
	return x.diff(ctx, fd.a, fd.b, fd.ws, linediff.NoFallback)
}
