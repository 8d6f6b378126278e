// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/AleutianAI/patchcache/pkg/logging"
	"github.com/AleutianAI/patchcache/services/patch"
	"github.com/AleutianAI/patchcache/services/patch/cache"
	"github.com/AleutianAI/patchcache/services/patch/config"
	"github.com/AleutianAI/patchcache/services/patch/storage/badger"
	"github.com/AleutianAI/patchcache/services/patch/telemetry"
	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

// app holds everything a command needs.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	repos   vcs.Manager
	svc     *patch.Service
	closers []func(context.Context) error
}

// openApp loads the configuration and builds the process stack: logger,
// telemetry, the optional persistent tier and the service.
func openApp(ctx context.Context, opts *rootOptions, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.basePath != "" {
		cfg.Repositories.BasePath = opts.basePath
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "patchcache",
		Format:  logging.Format(cfg.Logging.Format),
		Output:  stderr,
	})

	var closers []func(context.Context) error
	fail := func(err error) (*app, error) {
		closeAll(ctx, closers)
		logger.Close()
		return nil, err
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fail(fmt.Errorf("telemetry: %w", err))
	}
	closers = append(closers, shutdown)

	var store cache.Store
	if cfg.Cache.Persist {
		bc := badger.DefaultConfig(cfg.Cache.Directory)
		bc.Logger = logger.Slog()
		bc.EntryTTL = cfg.Cache.EntryTTL
		s, err := badger.Open(bc)
		if err != nil {
			return fail(fmt.Errorf("persistent cache: %w", err))
		}
		store = s
		closers = append(closers, func(context.Context) error { return s.Close() })
	}

	a, err := newApp(cfg, vcs.NewDirManager(cfg.Repositories.BasePath), store, logger)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closers...)
	logger.Debug("patchcache ready",
		"base_path", cfg.Repositories.BasePath,
		"persist", cfg.Cache.Persist)
	return a, nil
}

// newApp builds an app over an existing configuration and repositories.
// store may be nil.
func newApp(cfg *config.Config, repos vcs.Manager, store cache.Store, logger *logging.Logger) (*app, error) {
	svc, err := patch.NewFromConfig(repos, cfg, store, logger.Slog())
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, repos: repos, svc: svc}, nil
}

// Close stops the service and releases telemetry and storage, newest
// first.
func (a *app) Close(ctx context.Context) error {
	a.svc.Close()
	err := closeAll(ctx, a.closers)
	if cerr := a.logger.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func closeAll(ctx context.Context, closers []func(context.Context) error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
