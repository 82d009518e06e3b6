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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/aliasindex/services/typeindex/api"
	"github.com/AleutianAI/aliasindex/services/typeindex/indexer"
	"github.com/AleutianAI/aliasindex/services/typeindex/telemetry"
	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

func runIndex(cmd *cobra.Command, opts *globalOptions, root string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts.cfg, root)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.ix.IndexAll(ctx)
	if err != nil {
		return err
	}
	printRunStats(cmd.OutOrStdout(), a.ix.Root(), stats)
	return nil
}

func runQuery(cmd *cobra.Command, opts *globalOptions, qopts *queryOptions, typ string) error {
	if qopts.scope != api.ScopeWorkspace && qopts.scope != api.ScopeAll {
		return fmt.Errorf("--scope must be %q or %q", api.ScopeWorkspace, api.ScopeAll)
	}
	if qopts.limit < 0 {
		return errors.New("--limit must not be negative")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, opts.cfg, qopts.root)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.ix.IndexAll(ctx); err != nil {
		return err
	}
	resp, err := api.Candidates(ctx, a.ix, api.CandidatesRequest{
		Type:        typ,
		AcceptLimit: qopts.limit,
		Scope:       qopts.scope,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if qopts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printCandidates(out, resp)
	return nil
}

func runWatch(cmd *cobra.Command, opts *globalOptions, root string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts.cfg, root)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.ix.IndexAll(ctx)
	if err != nil {
		return err
	}
	printRunStats(cmd.OutOrStdout(), a.ix.Root(), stats)

	w, err := indexer.NewWatcher(a.ix, indexer.WatcherOptions{Debounce: a.cfg.Indexer.Debounce})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return fmt.Errorf("start watcher: %w", err)
	}
	<-ctx.Done()
	w.Stop()
	a.logger.Info("watch stopped")
	return nil
}

func runServe(cmd *cobra.Command, opts *globalOptions, sopts *serveOptions) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts.cfg, "")
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.Server.Port
	if sopts.port != 0 {
		port = sopts.port
	}

	if _, err := a.ix.IndexAll(ctx); err != nil {
		return err
	}
	if sopts.watch {
		w, err := indexer.NewWatcher(a.ix, indexer.WatcherOptions{Debounce: a.cfg.Indexer.Debounce})
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			w.Stop()
			return fmt.Errorf("start watcher: %w", err)
		}
		defer w.Stop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.NewHandlers(a.ix, a.logger), "aliasindex", telemetry.MetricsHandler())
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving alias index API", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.logger.Info("shutting down API server")
	return srv.Shutdown(shutdownCtx)
}

func printRunStats(w io.Writer, root string, stats indexer.RunStats) {
	fmt.Fprintf(w, "indexed %s: %d rebuilt, %d unchanged, %d removed, %d failed, %d occurrences (%s)\n",
		root, stats.Indexed, stats.Unchanged, stats.Removed, stats.Failed, stats.Occurrences,
		stats.Duration.Round(time.Millisecond))
	for _, e := range stats.Errors {
		fmt.Fprintf(w, "  warning: %s\n", e)
	}
}

func printCandidates(w io.Writer, resp api.CandidatesResponse) {
	fmt.Fprintf(w, "type:         %s\n", resp.Type)
	fmt.Fprintf(w, "fingerprints: %s\n", strings.Join(resp.Fingerprints, " "))
	if !resp.Found {
		fmt.Fprintf(w, "inconclusive: %d raw candidates (cutoff %d); check every alias instead\n",
			resp.RawCount, resp.Cutoff)
		return
	}
	fmt.Fprintf(w, "candidates:   %d of %d raw\n", len(resp.Candidates), resp.RawCount)
	for _, d := range resp.Candidates {
		fmt.Fprintf(w, "  %s:%d\t%s\n", d.Unit, d.Line, declSignature(d))
	}
}

func declSignature(d typeexpr.AliasDecl) string {
	var b strings.Builder
	b.WriteString(d.Name)
	if len(d.Params) > 0 {
		b.WriteString("<" + strings.Join(d.Params, ", ") + ">")
	}
	if d.Type != nil {
		b.WriteString(" = " + d.Type.String())
	}
	return b.String()
}
