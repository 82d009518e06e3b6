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
	"log/slog"
	"time"

	"github.com/AleutianAI/aliasindex/pkg/logging"
	"github.com/AleutianAI/aliasindex/services/typeindex/ast"
	"github.com/AleutianAI/aliasindex/services/typeindex/config"
	"github.com/AleutianAI/aliasindex/services/typeindex/index"
	"github.com/AleutianAI/aliasindex/services/typeindex/indexer"
	badgerstore "github.com/AleutianAI/aliasindex/services/typeindex/storage/badger"
	"github.com/AleutianAI/aliasindex/services/typeindex/telemetry"
)

// app is the wired set of components every command runs on.
type app struct {
	cfg    config.Config
	log    *logging.Logger
	logger *slog.Logger
	idx    *index.AliasIndex
	ix     *indexer.Indexer

	shutdownTelemetry func(context.Context) error
}

// newApp wires logging, telemetry, the store, the index and the indexer.
//
// Description:
//
//	root, when non-empty, replaces cfg.WorkspaceRoot. The store is badger
//	under cfg.StoragePath() unless cfg.Storage.InMemory is set. A badger
//	store written by another index version is wiped on open and logged;
//	the first IndexAll rebuilds it.
//
// Outputs:
//
//	*app  - Ready components. Close must be called.
//	error - Configuration, telemetry or storage failure.
func newApp(ctx context.Context, cfg config.Config, root string) (*app, error) {
	if root != "" {
		cfg.WorkspaceRoot = root
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "aliasindex",
		JSON:    cfg.Logging.JSON,
	})
	logger := log.Slog()
	slog.SetDefault(logger)

	a := &app{cfg: cfg, log: log, logger: logger}

	tcfg := telemetry.DefaultConfig()
	tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	a.shutdownTelemetry, err = telemetry.Init(ctx, tcfg)
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.idx = index.New(store,
		index.WithQueryOptions(index.WithCutoff(cfg.Query.Cutoff)),
		index.WithLogger(logger))

	parser := ast.NewRustParser(
		ast.WithMaxFileSize(cfg.Indexer.MaxFileSize),
		ast.WithParserLogger(logger))
	a.ix, err = indexer.New(a.idx, parser, indexer.Config{
		Root:        cfg.WorkspaceRoot,
		Extensions:  cfg.Extensions,
		ExcludeDirs: cfg.ExcludeDirs,
		Concurrency: cfg.Indexer.Concurrency,
		Logger:      logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (index.Store, error) {
	if cfg.Storage.InMemory {
		logger.Debug("using in-memory index store")
		return index.NewMemoryStore(), nil
	}

	bcfg := badgerstore.DefaultConfig()
	bcfg.Path = cfg.StoragePath()
	bcfg.SyncWrites = cfg.Storage.SyncWrites
	bcfg.GCInterval = cfg.Storage.GCInterval
	bcfg.Logger = logger
	store, err := badgerstore.Open(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("open index store %s: %w", bcfg.Path, err)
	}
	if store.NeedsReindex() {
		logger.Info("index store is new or was reset; full rebuild required", slog.String("path", bcfg.Path))
	}
	return store, nil
}

// Close releases everything newApp acquired. Safe to call on a partially
// built app.
func (a *app) Close() error {
	var errs []error
	if a.idx != nil {
		errs = append(errs, a.idx.Close())
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.shutdownTelemetry(ctx))
		cancel()
	}
	if a.log != nil {
		errs = append(errs, a.log.Close())
	}
	return errors.Join(errs...)
}
