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

// Package app wires configuration into a running pipeline. Both binaries
// build their components here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/adhiiiii6389/email-analysis-bot/internal/analysis"
	"github.com/adhiiiii6389/email-analysis-bot/internal/analysis/gemini"
	"github.com/adhiiiii6389/email-analysis-bot/internal/analysis/offline"
	"github.com/adhiiiii6389/email-analysis-bot/internal/analysis/perplexity"
	"github.com/adhiiiii6389/email-analysis-bot/internal/config"
	"github.com/adhiiiii6389/email-analysis-bot/internal/dedup"
	"github.com/adhiiiii6389/email-analysis-bot/internal/draft"
	"github.com/adhiiiii6389/email-analysis-bot/internal/filter"
	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource/eml"
	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource/gmail"
	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource/graph"
	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource/imap"
	"github.com/adhiiiii6389/email-analysis-bot/internal/pipeline"
	"github.com/adhiiiii6389/email-analysis-bot/internal/queue"
	"github.com/adhiiiii6389/email-analysis-bot/internal/store"
)

// Options adjusts how components are built.
type Options struct {
	// DryRun keeps everything in memory: a memory store, a local guard and
	// no Redis publishing.
	DryRun bool

	// Workers overrides the configured worker count when positive.
	Workers int
}

// Components are the wired pipeline and the handles main needs.
type Components struct {
	Orchestrator *pipeline.Orchestrator
	Store        store.Store

	// Redis and Publisher are nil when Redis is not configured or in a dry
	// run.
	Redis     *redis.Client
	Publisher *queue.Publisher

	closers []func()
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build creates every component from cfg. On error anything already opened
// is closed.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	storeCfg := cfg.Store
	if opts.DryRun {
		storeCfg = config.StoreConfig{Driver: "memory"}
	}
	st, closeStore, err := OpenStore(ctx, storeCfg)
	if err != nil {
		return nil, err
	}
	c.Store = st
	c.closers = append(c.closers, closeStore)

	var guard dedup.Guard = dedup.NewLocal()
	if cfg.Redis.URL != "" && !opts.DryRun {
		rdb, err := ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		c.Redis = rdb
		c.closers = append(c.closers, func() { rdb.Close() })
		c.Publisher = queue.NewPublisher(rdb, cfg.Redis.Queue)
		guard = dedup.NewRedisGuard(rdb, cfg.Redis.InflightTTL)
	} else {
		slog.Warn("running without redis: in-process guard, no report publishing")
	}

	src, err := NewSource(ctx, cfg.Mail)
	if err != nil {
		return nil, err
	}

	urgentTerms := cfg.Filter.UrgentTerms
	if len(urgentTerms) == 0 {
		urgentTerms = analysis.DefaultUrgentTerms
	}
	keywords := cfg.Filter.Keywords
	if len(keywords) == 0 {
		keywords = filter.DefaultSupportKeywords
	}

	provider, err := NewProvider(ctx, cfg.Analysis, urgentTerms)
	if err != nil {
		return nil, err
	}
	client := analysis.NewClient(provider, analysis.Options{
		MaxAttempts:    cfg.Analysis.MaxAttempts,
		RequestTimeout: cfg.Analysis.RequestTimeout,
		RateLimitRPS:   cfg.Analysis.RateLimitRPS,
		BackoffInitial: cfg.Analysis.BackoffInitial,
		BackoffMax:     cfg.Analysis.BackoffMax,
	})

	// The offline provider cannot write replies; drafts use templates.
	var gen draft.Generator = client
	if cfg.Analysis.Provider == "offline" {
		gen = nil
	}

	workers := cfg.Pipeline.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	orch, err := pipeline.New(pipeline.Deps{
		Filter:   filter.NewKeyword(keywords),
		Analyzer: client,
		Drafter:  draft.New(gen, draft.Options{}),
		Store:    st,
		Guard:    guard,
		Source:   src,
		Urgency:  analysis.NewUrgencyRule(urgentTerms),
	}, pipeline.Options{
		Workers:      workers,
		BatchTimeout: cfg.Pipeline.BatchTimeout,
	})
	if err != nil {
		return nil, err
	}
	c.Orchestrator = orch

	slog.Info("pipeline wired",
		"store", storeCfg.Driver,
		"mail_source", cfg.Mail.Source,
		"provider", provider.Name(),
		"workers", workers,
		"redis", c.Redis != nil,
		"dry_run", opts.DryRun,
	)
	ok = true
	return c, nil
}

// OpenStore opens the configured record store. The returned func closes it.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), func() {}, nil

	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." && cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("opened sqlite store", "path", cfg.SQLitePath)
		return s, func() { s.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("create postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		s, err := store.NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("connected to PostgreSQL")
		return s, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// ConnectRedis parses url and pings the server.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	slog.Info("connected to Redis")
	return rdb, nil
}

// NewSource builds the configured mail source.
func NewSource(ctx context.Context, cfg config.MailConfig) (mailsource.Source, error) {
	switch cfg.Source {
	case config.SourceGraph:
		client := graph.NewHTTPClient(ctx, cfg.Graph.TenantID, cfg.Graph.ClientID, cfg.Graph.ClientSecret)
		return graph.New(client, graph.Config{
			BaseURL:   cfg.Graph.BaseURL,
			Mailbox:   cfg.Graph.Mailbox,
			PageDelay: cfg.Graph.PageDelay,
		}), nil
	case config.SourceGmail:
		return gmail.New(ctx, gmail.Config{
			CredentialsFile: cfg.Gmail.CredentialsFile,
			User:            cfg.Gmail.User,
			Query:           cfg.Gmail.Query,
		})
	case config.SourceIMAP:
		return imap.New(imap.Config{
			Addr:     cfg.IMAP.Addr,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			Mailbox:  cfg.IMAP.Mailbox,
			TLS:      cfg.IMAP.TLS,
		}), nil
	case config.SourceEML:
		return eml.New(cfg.EMLDir), nil
	}
	return nil, fmt.Errorf("unknown mail source %q", cfg.Source)
}

// NewProvider builds the configured analysis provider.
func NewProvider(ctx context.Context, cfg config.AnalysisConfig, urgentTerms []string) (analysis.Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.New(ctx, gemini.Config{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.GeminiBaseURL,
		})
	case "perplexity":
		return perplexity.New(perplexity.Config{
			APIKey:  cfg.PerplexityAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.PerplexityBaseURL,
		})
	case "offline":
		return offline.New(urgentTerms), nil
	}
	return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
}
