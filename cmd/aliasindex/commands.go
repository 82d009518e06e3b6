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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/aliasindex/pkg/logging"
	"github.com/AleutianAI/aliasindex/services/typeindex/api"
	"github.com/AleutianAI/aliasindex/services/typeindex/config"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	inMemory   bool

	// cfg is loaded by the root PersistentPreRunE.
	cfg config.Config
}

// queryOptions are the flags of the query command.
type queryOptions struct {
	root   string
	limit  int
	scope  string
	asJSON bool
}

// serveOptions are the flags of the serve command.
type serveOptions struct {
	port  int
	watch bool
}

// newRootCmd builds the command tree. Each call returns an independent tree.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "aliasindex",
		Short: "Type-alias candidate index for Rust workspaces",
		Long: `aliasindex fingerprints every type alias in a Rust workspace so that,
given a concrete type, the aliases that might expand to it can be found
without trying every alias in scope.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				if _, err := logging.ParseLevel(opts.logLevel); err != nil {
					return err
				}
				cfg.Logging.Level = opts.logLevel
			}
			if opts.inMemory {
				cfg.Storage.InMemory = true
			}
			opts.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to an aliasindex.yaml config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&opts.inMemory, "in-memory", false, "keep the index in memory instead of on disk")

	indexCmd := &cobra.Command{
		Use:   "index [root]",
		Short: "Index the workspace, rebuilding only changed files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, opts, firstArg(args))
		},
	}

	qopts := &queryOptions{}
	queryCmd := &cobra.Command{
		Use:   "query <type>",
		Short: "List the aliases that might expand to a type",
		Example: `  aliasindex query 'Vec<i32>'
  aliasindex query '&mut [u8]' --root ./crates/core --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, qopts, args[0])
		},
	}
	queryCmd.Flags().StringVar(&qopts.root, "root", "", "workspace root (default: workspace_root from config)")
	queryCmd.Flags().IntVar(&qopts.limit, "limit", 0, "stop after this many candidates (0: no limit)")
	queryCmd.Flags().StringVar(&qopts.scope, "scope", api.ScopeWorkspace,
		fmt.Sprintf("%s or %s", api.ScopeWorkspace, api.ScopeAll))
	queryCmd.Flags().BoolVar(&qopts.asJSON, "json", false, "print the result as JSON")

	watchCmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Index the workspace and keep it current as files change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, firstArg(args))
		},
	}

	sopts := &serveOptions{}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the alias index HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, sopts)
		},
	}
	serveCmd.Flags().IntVar(&sopts.port, "port", 0, "listen port (default: server.port from config)")
	serveCmd.Flags().BoolVar(&sopts.watch, "watch", true, "reindex changed files while serving")

	rootCmd.AddCommand(indexCmd, queryCmd, watchCmd, serveCmd)
	return rootCmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
