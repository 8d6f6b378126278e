// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch is the entry point of the patch cache.
//
// A Service answers four questions for a serving layer, each through its
// own memory-weighted cache:
//
//   - Get: the patch list of a comparison, with line edits per file
//   - GetForPatchSet: the same, for a revision of a reviewable change
//   - GetIntraLineDiff: character-level edits within replaced lines
//   - GetDiffSummary: only the paths a comparison touches
//
// # Usage
//
//	svc, err := patch.NewFromConfig(vcs.NewDirManager(root), cfg, store, logger)
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	pl, err := svc.Get(ctx, keys.AgainstDefaultBase(id, linediff.IgnoreNone), "project")
package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/patchcache/services/patch/automerge"
	"github.com/AleutianAI/patchcache/services/patch/cache"
	"github.com/AleutianAI/patchcache/services/patch/config"
	"github.com/AleutianAI/patchcache/services/patch/intraline"
	"github.com/AleutianAI/patchcache/services/patch/keys"
	"github.com/AleutianAI/patchcache/services/patch/linediff"
	"github.com/AleutianAI/patchcache/services/patch/loader"
	"github.com/AleutianAI/patchcache/services/patch/patchlist"
	"github.com/AleutianAI/patchcache/services/patch/telemetry"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Cache names, also used as persistent tier namespaces.
const (
	PatchListCacheName = "diff"
	IntralineCacheName = "diff_intraline"
	SummaryCacheName   = "diff_summary"
)

const tracerName = "patchcache.service"

// Options configures a Service.
type Options struct {
	// Loader configures patch list computation.
	Loader loader.Config

	// AutoMerge configures the auto-merge synthesizer.
	AutoMerge automerge.Config

	// Intraline configures the intraline engine.
	Intraline intraline.Config

	// PatchListCache, IntralineCache and SummaryCache configure the
	// caches. Name and RememberError are set by the Service.
	PatchListCache cache.Options
	IntralineCache cache.Options
	SummaryCache   cache.Options

	// Store is the optional persistent tier shared by all caches.
	Store cache.Store

	// Logger is used by every component. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the defaults of every component.
func DefaultOptions() Options {
	return Options{
		Loader:         loader.Config{Timeout: loader.DefaultTimeout, CacheAutoMerge: true},
		Intraline:      intraline.Config{Enabled: true},
		PatchListCache: cache.DefaultOptions(PatchListCacheName),
		IntralineCache: cache.DefaultOptions(IntralineCacheName),
		SummaryCache:   cache.DefaultOptions(SummaryCacheName),
	}
}

// Service computes and caches patch lists, summaries and intraline diffs.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	repos     vcs.Manager
	loader    *loader.Loader
	engine    *intraline.Engine
	lists     *cache.Cache[keys.PatchListKey, *patchlist.PatchList]
	intraline *cache.Cache[keys.IntraLineDiffKey, intraline.IntraLineDiff]
	summaries *cache.Cache[keys.DiffSummaryKey, *patchlist.DiffSummary]
	logger    *slog.Logger
}

// New creates a Service reading repositories through repos.
//
// Description:
//
//	Builds the loader, the intraline engine and the three caches. The
//	loader's dependent loads, used for rebase transparency, are routed
//	through the patch list cache. Patch lists failing with
//	ErrObjectTooLarge are remembered; other failures are retried.
//
// Inputs:
//
//	repos - Opens repositories by project name.
//	opts - Component configuration. Start from DefaultOptions().
//
// Outputs:
//
//	*Service - The service. Call Close() when done.
func New(repos vcs.Manager, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Loader.Logger = logger
	opts.AutoMerge.Logger = logger
	opts.Intraline.Pool.Logger = logger

	listOpts := withName(opts.PatchListCache, PatchListCacheName, opts.Store, logger)
	listOpts.RememberError = func(err error) bool { return errors.Is(err, ErrObjectTooLarge) }

	s := &Service{
		repos:  repos,
		loader: loader.New(repos, automerge.New(opts.AutoMerge), opts.Loader),
		engine: intraline.NewEngine(opts.Intraline),
		lists: cache.New[keys.PatchListKey, *patchlist.PatchList](listOpts,
			(*patchlist.PatchList).EstimatedMemoryBytes,
			&cache.Codec[*patchlist.PatchList]{Marshal: patchlist.Marshal, Unmarshal: patchlist.Unmarshal}),
		intraline: cache.New[keys.IntraLineDiffKey, intraline.IntraLineDiff](
			withName(opts.IntralineCache, IntralineCacheName, opts.Store, logger),
			intraline.IntraLineDiff.EstimatedMemoryBytes,
			&cache.Codec[intraline.IntraLineDiff]{Marshal: intraline.Marshal, Unmarshal: intraline.Unmarshal}),
		summaries: cache.New[keys.DiffSummaryKey, *patchlist.DiffSummary](
			withName(opts.SummaryCache, SummaryCacheName, opts.Store, logger),
			(*patchlist.DiffSummary).EstimatedMemoryBytes,
			&cache.Codec[*patchlist.DiffSummary]{Marshal: patchlist.MarshalSummary, Unmarshal: patchlist.UnmarshalSummary}),
		logger: logger,
	}
	s.loader.SetSource(s)
	return s
}

// NewFromConfig creates a Service from a loaded configuration. store may
// be nil.
func NewFromConfig(repos vcs.Manager, cfg *config.Config, store cache.Store, logger *slog.Logger) (*Service, error) {
	strategy, err := automerge.ParseStrategy(cfg.Diff.MergeStrategy)
	if err != nil {
		return nil, fmt.Errorf("merge strategy: %w", err)
	}

	opts := DefaultOptions()
	opts.Logger = logger
	opts.Store = store
	opts.Loader = loader.Config{
		Timeout:        cfg.Diff.Timeout,
		HeaderWorkers:  cfg.Diff.HeaderWorkers,
		MaxObjectSize:  cfg.Diff.MaxObjectSize,
		MergeStrategy:  strategy,
		CacheAutoMerge: cfg.Diff.CacheAutoMerge,
		RenameScore:    cfg.Diff.RenameScore,
	}
	opts.Intraline = intraline.Config{
		Enabled: cfg.Intraline.Enabled,
		Pool: intraline.PoolConfig{
			Timeout: cfg.Intraline.Timeout,
			MaxIdle: cfg.Intraline.MaxIdleWorkers,
			Fuel:    cfg.Intraline.Fuel,
		},
	}
	opts.PatchListCache.MaxMemoryBytes = cfg.Cache.PatchListMemory
	opts.PatchListCache.ErrorTTL = cfg.Cache.ErrorTTL
	opts.IntralineCache.MaxMemoryBytes = cfg.Cache.IntralineMemory
	opts.SummaryCache.MaxMemoryBytes = cfg.Cache.SummaryMemory
	return New(repos, opts), nil
}

func withName(o cache.Options, name string, store cache.Store, logger *slog.Logger) cache.Options {
	o.Name = name
	o.Store = store
	o.Logger = logger
	return o
}

// Get returns the patch list of key in project.
//
// Outputs:
//
//	*patchlist.PatchList - The cached or computed patch list.
//	error - Matches ErrNotAvailable, ErrObjectTooLarge or ErrTimeout
//	        under errors.Is.
func (s *Service) Get(ctx context.Context, key keys.PatchListKey, project string) (*patchlist.PatchList, error) {
	return s.lists.Get(ctx, key, func(ctx context.Context, key keys.PatchListKey) (*patchlist.PatchList, error) {
		return s.loader.Load(ctx, key, project)
	})
}

// GetForPatchSet returns the patch list of a patch set against its
// default base, comparing whitespace exactly.
//
// A patch set without a Revision is resolved through its change ref.
func (s *Service) GetForPatchSet(ctx context.Context, change ChangeRef, ps PatchSetRef) (*patchlist.PatchList, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Service.GetForPatchSet", trace.WithAttributes(
		attribute.String("patch.project", change.Project),
		attribute.Int("patch.change", change.Number),
		attribute.Int("patch.patchset", ps.Number),
	))
	defer span.End()

	rev, err := s.revision(ctx, change, ps)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	pl, err := s.Get(ctx, keys.AgainstDefaultBase(rev, linediff.IgnoreNone), change.Project)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return pl, nil
}

func (s *Service) revision(ctx context.Context, change ChangeRef, ps PatchSetRef) (vcs.ObjectID, error) {
	if !ps.Revision.IsZero() {
		return ps.Revision, nil
	}
	if change.Number <= 0 || ps.Number <= 0 {
		return vcs.ZeroID, fmt.Errorf("%w: change %d patch set %d", ErrInvalidPatchSet, change.Number, ps.Number)
	}
	repo, err := s.repos.Open(ctx, change.Project)
	if err != nil {
		return vcs.ZeroID, fmt.Errorf("%w: open %s: %w", ErrNotAvailable, change.Project, err)
	}
	ref := PatchSetRefName(change.Number, ps.Number)
	id, err := repo.ReadRef(ctx, ref)
	if err != nil {
		return vcs.ZeroID, fmt.Errorf("%w: %s: %w", ErrNotAvailable, ref, err)
	}
	return id, nil
}

// GetIntraLineDiff returns the character-level edits of one file.
//
// Description:
//
//	Refinement failures are reported through the result status and never
//	as an error. Results are cached by blob pair, including timeouts. A
//	result cut short by ctx is returned as a timeout and not cached. With
//	intraline disabled the result is StatusDisabled and nothing is cached.
func (s *Service) GetIntraLineDiff(ctx context.Context, key keys.IntraLineDiffKey, args *intraline.Args) intraline.IntraLineDiff {
	if !s.engine.Enabled() {
		return intraline.Disabled()
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Service.GetIntraLineDiff",
		trace.WithAttributes(attribute.String("patch.intraline_key", key.String())))
	defer span.End()

	res, err := s.intraline.Get(ctx, key, func(ctx context.Context, key keys.IntraLineDiffKey) (intraline.IntraLineDiff, error) {
		res := s.engine.Compute(ctx, key, args)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		return res, nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return intraline.Timeout()
		}
		s.logger.Warn("intraline lookup failed", "key", key.String(), "error", err)
		return intraline.Failed()
	}
	span.SetAttributes(attribute.String("patch.intraline_status", res.Status.String()))
	return res
}

// GetDiffSummary returns the paths touched by a comparison. The summary
// is derived from the cached patch list.
func (s *Service) GetDiffSummary(ctx context.Context, key keys.DiffSummaryKey, project string) (*patchlist.DiffSummary, error) {
	return s.summaries.Get(ctx, key, func(ctx context.Context, key keys.DiffSummaryKey) (*patchlist.DiffSummary, error) {
		pl, err := s.Get(ctx, key.PatchListKey(), project)
		if err != nil {
			return nil, err
		}
		return patchlist.Summarize(pl), nil
	})
}

// Stats describes the caches and worker pools.
type Stats struct {
	Caches []cache.Stats

	// HeaderTimeouts counts file diffs recomputed without fallback.
	HeaderTimeouts int64

	// IntralineWorkersCreated and IntralineWorkersKilled count worker
	// goroutines started and abandoned after a timeout.
	IntralineWorkersCreated int64
	IntralineWorkersKilled  int64

	// IntralineWorkersIdle is the current idle worker count.
	IntralineWorkersIdle int
}

// Stats returns current statistics.
func (s *Service) Stats() Stats {
	pool := s.engine.Pool()
	return Stats{
		Caches:                  []cache.Stats{s.lists.Stats(), s.intraline.Stats(), s.summaries.Stats()},
		HeaderTimeouts:          s.loader.Executor().Timeouts(),
		IntralineWorkersCreated: pool.CreatedCount(),
		IntralineWorkersKilled:  pool.KilledCount(),
		IntralineWorkersIdle:    pool.IdleCount(),
	}
}

// ClearCache drops the in-memory entries of the named cache. The
// persistent tier is left alone.
func (s *Service) ClearCache(name string) error {
	switch name {
	case PatchListCacheName:
		s.lists.Clear()
	case IntralineCacheName:
		s.intraline.Clear()
	case SummaryCacheName:
		s.summaries.Clear()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCache, name)
	}
	s.logger.Info("cache cleared", "cache", name)
	return nil
}

// Close stops the intraline workers.
func (s *Service) Close() {
	s.engine.Close()
}
