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
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags.
type rootOptions struct {
	configPath string
	basePath   string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "patchcache",
		Short: "Computes and caches diffs of git repositories",
		Long: `patchcache computes patch lists, diff summaries, intraline edits and
auto-merge commits of git repositories, caching each result in memory and
optionally on disk.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (.yaml, .yml or .toml); defaults to $PATCHCACHE_CONFIG")
	root.PersistentFlags().StringVar(&opts.basePath, "repos", "", "directory holding the repositories, overrides repositories.base_path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error, overrides logging.level")

	root.AddCommand(
		newDiffCmd(opts),
		newSummaryCmd(opts),
		newIntralineCmd(opts),
		newAutomergeCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %v\n", err)
		}
	}()
	return fn(ctx, a)
}

func newDiffCmd(root *rootOptions) *cobra.Command {
	opts := diffOptions{}
	cmd := &cobra.Command{
		Use:   "diff <project> [revision]",
		Short: "Prints the patch list of a revision",
		Long: `Prints the files a revision changes against its default base: its only
parent, the auto-merge of a two-parent merge, or nothing for a root commit.
--base, --parent or --change select another comparison. --patch prints
unified diffs instead of the file list.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.project = args[0]
			if len(args) > 1 {
				opts.revision = args[1]
			}
			return withApp(cmd, root, func(ctx context.Context, a *app) error {
				return a.diff(ctx, cmd.OutOrStdout(), opts)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.base, "base", "", "compare against this revision")
	f.IntVar(&opts.parent, "parent", 0, "compare against parent N (1-based) of a merge")
	f.IntVar(&opts.change, "change", 0, "read the revision from this change's patch set ref")
	f.IntVar(&opts.patchSet, "patchset", 0, "patch set number, with --change")
	f.StringVar(&opts.whitespace, "whitespace", "", "none, trailing, leading_and_trailing or all")
	f.BoolVar(&opts.rebase, "rebase-transparent", false, "hide changes brought in by rebasing, with --base")
	f.BoolVar(&opts.patch, "patch", false, "print unified diffs")
	f.IntVar(&opts.context, "context", -1, "context lines around each hunk, with --patch")
	return cmd
}

func newSummaryCmd(root *rootOptions) *cobra.Command {
	opts := diffOptions{}
	cmd := &cobra.Command{
		Use:   "summary <project> <revision>",
		Short: "Prints the paths a revision touches",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.project, opts.revision = args[0], args[1]
			return withApp(cmd, root, func(ctx context.Context, a *app) error {
				return a.summary(ctx, cmd.OutOrStdout(), opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.base, "base", "", "compare against this revision")
	cmd.Flags().IntVar(&opts.parent, "parent", 0, "compare against parent N (1-based) of a merge")
	return cmd
}

func newIntralineCmd(root *rootOptions) *cobra.Command {
	opts := diffOptions{}
	var path string
	cmd := &cobra.Command{
		Use:   "intraline <project> <revision> <path>",
		Short: "Prints the character-level edits of one file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.project, opts.revision, path = args[0], args[1], args[2]
			return withApp(cmd, root, func(ctx context.Context, a *app) error {
				return a.intraline(ctx, cmd.OutOrStdout(), opts, path)
			})
		},
	}
	cmd.Flags().StringVar(&opts.base, "base", "", "compare against this revision")
	cmd.Flags().StringVar(&opts.whitespace, "whitespace", "", "none, trailing, leading_and_trailing or all")
	return cmd
}

func newAutomergeCmd(root *rootOptions) *cobra.Command {
	var (
		strategy string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "automerge <project> <merge>",
		Short: "Creates the auto-merge commit of a two-parent merge",
		Long: `Merges the two parents of a merge commit, writing conflict blocks into
conflicting files, and stores the result under refs/cache-automerge/.
--dry-run keeps every written object in memory.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(ctx context.Context, a *app) error {
				return a.automerge(ctx, cmd.OutOrStdout(), args[0], args[1], strategy, dryRun)
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "recursive or resolve, overrides diff.merge_strategy")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "do not write to the repository")
	return cmd
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the admin HTTP server",
		Long: `Serves health, cache statistics and Prometheus metrics until SIGINT or
SIGTERM, then shuts down gracefully within server.shutdown_timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, root, func(ctx context.Context, a *app) error {
				if listen == "" {
					listen = a.cfg.Server.Listen
				}
				ln, err := net.Listen("tcp", listen)
				if err != nil {
					return fmt.Errorf("listen %s: %w", listen, err)
				}
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return a.serve(ctx, ln)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "host:port, overrides server.listen")
	return cmd
}
