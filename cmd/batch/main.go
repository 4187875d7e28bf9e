// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Email Triage Batch Command
//
// One-shot CLI that triages every message received within a date range and
// logs the run summary. Intended for catching up after downtime and for
// trying a configuration against real mail.
//
// Usage:
//
//	go run ./cmd/batch/ [--since 168h] [--until 2026-03-01T00:00:00Z] [--workers 4] [--dry-run]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adhiiiii6389/email-analysis-bot/internal/app"
	"github.com/adhiiiii6389/email-analysis-bot/internal/config"
	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
)

func main() {
	// Structured JSON logging
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	sinceFlag := flag.String("since", "168h", "Lookback duration (e.g. 168h for 1 week, 720h for 30 days)")
	untilFlag := flag.String("until", "", "End of the window, RFC 3339 (default: now)")
	workersFlag := flag.Int("workers", 0, "Concurrent records (default: pipeline.workers from config)")
	dryRunFlag := flag.Bool("dry-run", false, "Keep records in memory and publish nothing")
	flag.Parse()

	since, err := time.ParseDuration(*sinceFlag)
	if err != nil || since <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q\n", *sinceFlag)
		os.Exit(1)
	}

	end := time.Now().UTC()
	if *untilFlag != "" {
		end, err = time.Parse(time.RFC3339, *untilFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --until time %q: %v\n", *untilFlag, err)
			os.Exit(1)
		}
	}
	window := mailsource.Window{Start: end.Add(-since), End: end}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("invalid log level, using info", "level", cfg.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	components, err := app.Build(ctx, cfg, app.Options{DryRun: *dryRunFlag, Workers: *workersFlag})
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	slog.Info("starting triage batch",
		"start", window.Start.Format(time.RFC3339),
		"end", window.End.Format(time.RFC3339),
		"dry_run", *dryRunFlag,
	)

	// --- Run Batch ---
	summary, runErr := components.Orchestrator.RunBatch(ctx, window)

	if summary != nil {
		if components.Publisher != nil {
			if err := components.Publisher.PublishSummary(ctx, summary); err != nil {
				slog.Error("failed to publish run summary", "error", err)
			} else if n, err := components.Publisher.PublishUrgent(ctx, summary); err != nil {
				slog.Error("failed to publish urgent records", "error", err)
			} else {
				slog.Info("run reported", "urgent_published", n)
			}
		}

		// --- Summary ---
		out, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Fprintln(os.Stderr, string(out))
	}

	if runErr != nil {
		slog.Error("triage batch failed", "error", runErr)
		components.Close()
		os.Exit(1)
	}
}
