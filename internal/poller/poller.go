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

// Package poller runs triage batches on a fixed interval over a trailing
// lookback window.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
	"github.com/adhiiiii6389/email-analysis-bot/internal/pipeline"
)

// Runner executes one batch.
type Runner interface {
	RunBatch(ctx context.Context, w mailsource.Window) (*pipeline.Summary, error)
}

// Publisher reports finished runs.
type Publisher interface {
	PublishSummary(ctx context.Context, s *pipeline.Summary) error
	PublishUrgent(ctx context.Context, s *pipeline.Summary) (int, error)
}

// Poller periodically runs a batch over [now-lookback, now).
type Poller struct {
	runner    Runner
	publisher Publisher
	interval  time.Duration
	lookback  time.Duration
	now       func() time.Time
}

// New creates a poller. lookback should exceed interval so consecutive
// windows overlap; ingestion is idempotent, so overlap only costs a lookup.
// A nil publisher disables reporting.
func New(runner Runner, publisher Publisher, interval, lookback time.Duration) *Poller {
	if lookback < interval {
		lookback = interval
	}
	return &Poller{
		runner:    runner,
		publisher: publisher,
		interval:  interval,
		lookback:  lookback,
		now:       time.Now,
	}
}

// Run polls once immediately, then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("triage poller starting",
		"interval", p.interval,
		"lookback", p.lookback,
	)

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("triage poller stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll runs one batch and reports it. Errors are logged and sent to Sentry;
// the loop keeps going.
func (p *Poller) poll(ctx context.Context) *pipeline.Summary {
	w := mailsource.Last(p.lookback, p.now().UTC())

	slog.Debug("polling mail source",
		"start", w.Start.Format(time.RFC3339),
		"end", w.End.Format(time.RFC3339),
	)

	summary, err := p.runner.RunBatch(ctx, w)
	if err != nil {
		if ctx.Err() != nil {
			return summary
		}
		slog.Error("triage batch failed", "error", err)
		sentry.WithScope(func(scope *sentry.Scope) {
			if summary != nil {
				scope.SetTag("run_id", summary.RunID)
			}
			scope.SetContext("window", sentry.Context{
				"start": w.Start.Format(time.RFC3339),
				"end":   w.End.Format(time.RFC3339),
			})
			sentry.CaptureException(err)
		})
	}
	if summary == nil || p.publisher == nil {
		return summary
	}

	if err := p.publisher.PublishSummary(ctx, summary); err != nil {
		slog.Error("failed to publish run summary", "run_id", summary.RunID, "error", err)
		sentry.CaptureException(err)
		return summary
	}
	if _, err := p.publisher.PublishUrgent(ctx, summary); err != nil {
		slog.Error("failed to publish urgent records", "run_id", summary.RunID, "error", err)
		sentry.CaptureException(err)
	}
	return summary
}
