// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command aliasindex builds and queries the type-alias candidate index of a
// Rust workspace.
//
// Usage:
//
//	aliasindex index [root]            Index (or refresh) the workspace
//	aliasindex query <type> [--root]   Candidate aliases for a type
//	aliasindex watch [root]            Keep the index current on file changes
//	aliasindex serve [--port]          Serve the HTTP API
//
// Global flags: --config <file>, --log-level debug|info|warn|error.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
