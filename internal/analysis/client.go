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

// Package analysis wraps an external language-model provider behind a
// client that never fails the caller: classification results are always
// usable, degrading to the fallback result when the provider rate-limits,
// errors out, or answers in a shape that cannot be normalised.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

var (
	// ErrRateLimited means the provider rejected the call for quota reasons.
	ErrRateLimited = errors.New("analysis provider rate limited")
	// ErrServiceUnavailable means the provider failed or could not be reached.
	ErrServiceUnavailable = errors.New("analysis provider unavailable")
)

// Provider is an external classification and generation endpoint.
// Implementations wrap quota failures in ErrRateLimited and server or
// transport failures in ErrServiceUnavailable; anything else is permanent.
type Provider interface {
	Name() string
	Classify(ctx context.Context, text string) (Payload, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options controls retries and pacing for provider calls.
type Options struct {
	// MaxAttempts caps calls per operation, including the first.
	MaxAttempts    int
	RequestTimeout time.Duration

	// RateLimitRPS is shared by every caller of the client. <=0 disables it.
	RateLimitRPS float64

	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffJitterFrac float64
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.BackoffJitterFrac <= 0 {
		o.BackoffJitterFrac = 0.2
	}
	return o
}

// Client applies rate limiting, bounded retries, and payload normalisation
// on top of a Provider.
type Client struct {
	provider Provider
	limiter  *rate.Limiter
	opts     Options
}

// NewClient creates a client for the given provider.
func NewClient(provider Provider, opts Options) *Client {
	opts = opts.withDefaults()
	c := &Client{provider: provider, opts: opts}
	if opts.RateLimitRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}
	return c
}

// Provider returns the wrapped provider's name.
func (c *Client) Provider() string { return c.provider.Name() }

// Analyze classifies text. The returned result is always usable: when err is
// non-nil the result is models.FallbackAnalysis and err explains why.
func (c *Client) Analyze(ctx context.Context, text string) (models.AnalysisResult, error) {
	var payload Payload
	err := c.retry(ctx, "classify", func(ctx context.Context) error {
		p, err := c.provider.Classify(ctx, text)
		payload = p
		return err
	})
	if err != nil {
		slog.Warn("analysis degraded to fallback",
			"provider", c.provider.Name(),
			"error", err,
		)
		return models.FallbackAnalysis(), err
	}

	result, err := payload.Normalize()
	if err != nil {
		slog.Warn("analysis payload could not be normalised",
			"provider", c.provider.Name(),
			"kind", payload.Kind(),
			"error", err,
		)
		return models.FallbackAnalysis(), err
	}
	return result, nil
}

// Generate produces free text for a prompt. Unlike Analyze it has no
// fallback; the error is returned once the attempt ceiling is reached.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var text string
	err := c.retry(ctx, "generate", func(ctx context.Context) error {
		t, err := c.provider.Generate(ctx, prompt)
		text = t
		return err
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) retry(ctx context.Context, op string, call func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: rate limiter: %w", op, err)
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		err := call(reqCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if !IsTransient(err) || attempt+1 >= c.opts.MaxAttempts {
			return fmt.Errorf("%s after %d attempt(s): %w", op, attempt+1, err)
		}

		sleep := backoffSleep(c.opts.BackoffInitial, c.opts.BackoffMax, c.opts.BackoffJitterFrac, attempt)
		slog.Debug("retrying provider call",
			"provider", c.provider.Name(),
			"op", op,
			"attempt", attempt+1,
			"sleep", sleep,
			"error", err,
		)
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServiceUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
