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

// Email Triage Service
//
// Entry point for the long-running triage service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to the record store and, when configured, Redis
//  3. Builds the mail source, classifier and drafter
//  4. Polls the mailbox on an interval and runs a triage batch each time
//  5. Serves the operator API (records, stats, responded, redraft)
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/adhiiiii6389/email-analysis-bot/internal/api"
	"github.com/adhiiiii6389/email-analysis-bot/internal/app"
	"github.com/adhiiiii6389/email-analysis-bot/internal/config"
	"github.com/adhiiiii6389/email-analysis-bot/internal/poller"
)

func main() {
	// Structured JSON logging
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("starting email triage service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("invalid log level, using info", "level", cfg.LogLevel)
	}

	slog.Info("configuration loaded",
		"store", cfg.Store.Driver,
		"mail_source", cfg.Mail.Source,
		"provider", cfg.Analysis.Provider,
		"poll_interval", cfg.Pipeline.PollInterval,
		"poll_lookback", cfg.Pipeline.PollLookback,
	)

	// --- Error Reporting ---
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
	}); err != nil {
		slog.Warn("sentry init failed, continuing without error reporting", "error", err)
	}
	defer sentry.Flush(2 * time.Second)

	if cfg.Server.JWTSecret == "" {
		slog.Warn("JWT secret not set: operator endpoints will reject every request")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Pipeline ---
	components, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	// --- Operator API ---
	var checks []api.Check
	if components.Publisher != nil {
		checks = append(checks, api.Check{Name: "redis", Ping: components.Publisher.Ping})
	}
	handler := api.NewHandler(
		components.Store,
		components.Orchestrator,
		api.NewAuthenticator(cfg.Server.JWTSecret),
		checks...,
	)

	serveCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	ready, err := api.Serve(serveCtx, cfg.Server.Port, handler.Routes())
	if err != nil {
		slog.Error("failed to start api server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Poller ---
	var publisher poller.Publisher
	if components.Publisher != nil {
		publisher = components.Publisher
	}
	p := poller.New(components.Orchestrator, publisher, cfg.Pipeline.PollInterval, cfg.Pipeline.PollLookback)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig)

	// Stop polling first. Records the batch had not started stay pending
	// and the next run resumes them.
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		slog.Warn("poller did not stop within 15s, shutting down anyway")
	}

	stopServer()
	slog.Info("email triage service stopped")
}
