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
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/patchcache/services/patch/edit"
	"github.com/google/uuid"
)

// DefaultTimeout is the time a caller waits for one refinement.
const DefaultTimeout = 5 * time.Second

// ComputeFunc performs one refinement on a worker goroutine. It must
// call b.Step regularly so that a killed worker stops promptly.
type ComputeFunc func(b *Budget, args *Args) ([]edit.Edit, error)

// RefineArgs is the default ComputeFunc.
func RefineArgs(b *Budget, args *Args) ([]edit.Edit, error) {
	return Refine(b, args.AText, args.BText, args.Edits)
}

// PoolConfig configures a WorkerPool.
type PoolConfig struct {
	// Timeout is how long a caller waits. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxIdle is the configured idle cap. The effective cap is the larger
	// of this and 1.5 times GOMAXPROCS.
	MaxIdle int

	// Fuel is the step budget per request. Zero means unlimited.
	Fuel int64

	// Compute runs the refinement. Nil means RefineArgs.
	Compute ComputeFunc

	// Logger receives worker lifecycle events. Nil means slog.Default().
	Logger *slog.Logger
}

// WorkerPool runs refinements on persistent worker goroutines.
//
// Description:
//
//	Each worker owns a single-slot input and output channel and serves
//	one request at a time. A caller takes an idle worker, or starts a new
//	one, hands it the request and waits up to the timeout. A worker that
//	answers in time goes back to the idle set unless the set is full, in
//	which case it is stopped. A worker that does not answer in time is
//	killed: its kill switch fires, its computation fails at the next
//	budget step and the goroutine exits without rejoining the idle set.
//
// Thread Safety: Safe for concurrent use.
type WorkerPool struct {
	timeout time.Duration
	maxIdle int
	fuel    int64
	compute ComputeFunc
	logger  *slog.Logger

	mu     sync.Mutex
	idle   []*worker
	closed bool

	created atomic.Int64
	killed  atomic.Int64
}

type response struct {
	edits []edit.Edit
	err   error
}

type worker struct {
	id   string
	in   chan *Args
	out  chan response
	kill atomic.Bool
	done chan struct{}
}

// NewWorkerPool creates an empty pool. Workers start on demand.
func NewWorkerPool(cfg PoolConfig) *WorkerPool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Compute == nil {
		cfg.Compute = RefineArgs
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WorkerPool{
		timeout: cfg.Timeout,
		maxIdle: IdleCap(cfg.MaxIdle),
		fuel:    cfg.Fuel,
		compute: cfg.Compute,
		logger:  cfg.Logger,
	}
}

// IdleCap returns the effective idle cap for a configured value.
func IdleCap(configured int) int {
	return max(runtime.GOMAXPROCS(0)*3/2, configured)
}

// Do refines one file.
//
// Outputs:
//
//	IntraLineDiff - StatusEditList on success, StatusTimeout when the
//	                worker did not answer in time or ctx ended first,
//	                StatusError when the computation failed.
func (p *WorkerPool) Do(ctx context.Context, args *Args) IntraLineDiff {
	if ctx.Err() != nil {
		recordRequest(StatusTimeout, 0)
		return Timeout()
	}
	w, err := p.acquire()
	if err != nil {
		return Failed()
	}
	start := time.Now()
	w.in <- args

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case r := <-w.out:
		p.release(w)
		switch {
		case r.err == nil:
			recordRequest(StatusEditList, time.Since(start))
			return IntraLineDiff{Status: StatusEditList, Edits: r.edits}
		case errors.Is(r.err, ErrFuelExhausted):
			recordRequest(StatusTimeout, time.Since(start))
			return Timeout()
		default:
			p.logger.Warn("intraline computation failed",
				"worker_id", w.id,
				"project", args.Project,
				"commit", args.Commit.String(),
				"path", args.Path,
				"error", r.err)
			recordRequest(StatusError, time.Since(start))
			return Failed()
		}
	case <-timer.C:
		p.discard(w, args, "timeout")
	case <-ctx.Done():
		p.discard(w, args, "cancelled")
	}
	recordRequest(StatusTimeout, time.Since(start))
	return Timeout()
}

// IdleCount returns the number of idle workers.
func (p *WorkerPool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// CreatedCount returns how many workers were started.
func (p *WorkerPool) CreatedCount() int64 { return p.created.Load() }

// KilledCount returns how many workers were killed on timeout.
func (p *WorkerPool) KilledCount() int64 { return p.killed.Load() }

// MaxIdle returns the effective idle cap.
func (p *WorkerPool) MaxIdle() int { return p.maxIdle }

// Close stops all idle workers. Later requests fail with StatusError.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, w := range idle {
		close(w.in)
	}
	idleWorkers.Set(0)
}

func (p *WorkerPool) acquire() (*worker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("intraline pool closed")
	}
	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		idleWorkers.Set(float64(len(p.idle)))
		p.mu.Unlock()
		return w, nil
	}
	p.mu.Unlock()
	return p.startWorker(), nil
}

func (p *WorkerPool) release(w *worker) {
	p.mu.Lock()
	if !p.closed && len(p.idle) < p.maxIdle {
		p.idle = append(p.idle, w)
		idleWorkers.Set(float64(len(p.idle)))
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	close(w.in)
}

func (p *WorkerPool) discard(w *worker, args *Args, reason string) {
	w.kill.Store(true)
	close(w.in)
	p.killed.Add(1)
	workersKilled.Inc()
	p.logger.Warn("intraline worker killed",
		"worker_id", w.id,
		"reason", reason,
		"timeout", p.timeout,
		"project", args.Project,
		"commit", args.Commit.String(),
		"path", args.Path)
}

func (p *WorkerPool) startWorker() *worker {
	w := &worker{
		id:   uuid.NewString(),
		in:   make(chan *Args, 1),
		out:  make(chan response, 1),
		done: make(chan struct{}),
	}
	p.created.Add(1)
	workersCreated.Inc()
	go w.run(p.compute, p.fuel, p.timeout)
	return w
}

func (w *worker) run(compute ComputeFunc, fuel int64, charDiffTimeout time.Duration) {
	defer close(w.done)
	for args := range w.in {
		w.out <- w.serve(compute, NewBudget(&w.kill, fuel, charDiffTimeout), args)
		if w.kill.Load() {
			return
		}
	}
}

func (w *worker) serve(compute ComputeFunc, b *Budget, args *Args) (r response) {
	defer func() {
		if rec := recover(); rec != nil {
			r = response{err: fmt.Errorf("intraline worker %s panicked: %v", w.id, rec)}
		}
	}()
	edits, err := compute(b, args)
	return response{edits: edits, err: err}
}
