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

package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// --- Mock provider ---

type scriptedProvider struct {
	mu       sync.Mutex
	payloads []Payload
	errs     []error
	texts    []string
	calls    int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) next() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return i, p.errs[i]
	}
	return i, nil
}

func (p *scriptedProvider) Classify(_ context.Context, _ string) (Payload, error) {
	i, err := p.next()
	if err != nil {
		return Payload{}, err
	}
	if i < len(p.payloads) {
		return p.payloads[i], nil
	}
	return p.payloads[len(p.payloads)-1], nil
}

func (p *scriptedProvider) Generate(_ context.Context, _ string) (string, error) {
	i, err := p.next()
	if err != nil {
		return "", err
	}
	if i < len(p.texts) {
		return p.texts[i], nil
	}
	return "", nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var fastOpts = Options{
	MaxAttempts:    3,
	RequestTimeout: time.Second,
	BackoffInitial: time.Millisecond,
	BackoffMax:     2 * time.Millisecond,
}

var urgentPayload = Structured(map[string]any{
	"sentiment": "negative", "priority": "urgent", "category": "account_support", "confidence": 0.8,
})

func TestAnalyze_Success(t *testing.T) {
	p := &scriptedProvider{payloads: []Payload{urgentPayload}}
	c := NewClient(p, fastOpts)

	got, err := c.Analyze(context.Background(), "cannot log in")
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if got.Priority != models.PriorityUrgent || got.Category != models.CategoryAccountSupport {
		t.Errorf("Analyze() = %+v", got)
	}
}

func TestAnalyze_RetriesTransientThenSucceeds(t *testing.T) {
	p := &scriptedProvider{
		payloads: []Payload{{}, {}, urgentPayload},
		errs:     []error{fmt.Errorf("http 429: %w", ErrRateLimited), fmt.Errorf("http 503: %w", ErrServiceUnavailable)},
	}
	c := NewClient(p, fastOpts)

	got, err := c.Analyze(context.Background(), "text")
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if got.Priority != models.PriorityUrgent {
		t.Errorf("priority = %q, want urgent", got.Priority)
	}
	if n := p.callCount(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestAnalyze_CeilingDegradesToFallback(t *testing.T) {
	p := &scriptedProvider{
		payloads: []Payload{urgentPayload},
		errs:     []error{ErrRateLimited, ErrRateLimited, ErrRateLimited, ErrRateLimited},
	}
	c := NewClient(p, fastOpts)

	got, err := c.Analyze(context.Background(), "text")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if !got.IsFallback() {
		t.Errorf("result = %+v, want fallback", got)
	}
	if n := p.callCount(); n != fastOpts.MaxAttempts {
		t.Errorf("calls = %d, want %d", n, fastOpts.MaxAttempts)
	}
}

func TestAnalyze_PermanentErrorNotRetried(t *testing.T) {
	p := &scriptedProvider{
		payloads: []Payload{urgentPayload},
		errs:     []error{errors.New("invalid api key")},
	}
	c := NewClient(p, fastOpts)

	got, err := c.Analyze(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if !got.IsFallback() {
		t.Errorf("result = %+v, want fallback", got)
	}
	if n := p.callCount(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestAnalyze_MalformedPayloadDegrades(t *testing.T) {
	p := &scriptedProvider{payloads: []Payload{Raw("'str' object has no attribute 'get'")}}
	c := NewClient(p, fastOpts)

	got, err := c.Analyze(context.Background(), "text")
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("error = %v, want ErrMalformedPayload", err)
	}
	if !got.IsFallback() {
		t.Errorf("result = %+v, want fallback", got)
	}
}

func TestGenerate_ReturnsErrorAfterCeiling(t *testing.T) {
	p := &scriptedProvider{errs: []error{ErrServiceUnavailable, ErrServiceUnavailable, ErrServiceUnavailable}}
	c := NewClient(p, fastOpts)

	if _, err := c.Generate(context.Background(), "prompt"); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("error = %v, want ErrServiceUnavailable", err)
	}
}

func TestGenerate_TrimsText(t *testing.T) {
	p := &scriptedProvider{texts: []string{"  Dear customer,\n\nThanks.  \n"}}
	c := NewClient(p, fastOpts)

	got, err := c.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if got != "Dear customer,\n\nThanks." {
		t.Errorf("Generate() = %q", got)
	}
}

func TestAnalyze_ContextCancelledStopsRetrying(t *testing.T) {
	p := &scriptedProvider{payloads: []Payload{urgentPayload}, errs: []error{ErrRateLimited, ErrRateLimited, ErrRateLimited}}
	c := NewClient(p, Options{MaxAttempts: 3, BackoffInitial: time.Hour, BackoffMax: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	got, err := c.Analyze(ctx, "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Analyze blocked for %v", time.Since(start))
	}
	if !got.IsFallback() {
		t.Errorf("result = %+v, want fallback", got)
	}
}

func TestBackoffSleep(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{5, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := backoffSleep(100*time.Millisecond, 500*time.Millisecond, 0, tt.attempt); got != tt.want {
			t.Errorf("backoffSleep(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	for i := 0; i < 50; i++ {
		got := backoffSleep(100*time.Millisecond, time.Second, 0.2, 0)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("jittered sleep %v outside +/-20%%", got)
		}
	}
}

func TestCombinePriority(t *testing.T) {
	tests := []struct {
		rule bool
		ai   models.Priority
		want models.Priority
	}{
		{false, models.PriorityNormal, models.PriorityNormal},
		{true, models.PriorityNormal, models.PriorityUrgent},
		{false, models.PriorityUrgent, models.PriorityUrgent},
		{true, models.PriorityUrgent, models.PriorityUrgent},
	}
	for _, tt := range tests {
		if got := CombinePriority(tt.rule, tt.ai); got != tt.want {
			t.Errorf("CombinePriority(%v, %q) = %q, want %q", tt.rule, tt.ai, got, tt.want)
		}
	}
}

func TestUrgencyRule(t *testing.T) {
	r := NewUrgencyRule(DefaultUrgentTerms)
	if !r.IsUrgent(models.Message{Subject: "Need Support urgently"}) {
		t.Error("expected 'urgently' to fire the rule")
	}
	if !r.IsUrgent(models.Message{Body: "The site is NOT WORKING"}) {
		t.Error("expected 'not working' to fire the rule")
	}
	if r.IsUrgent(models.Message{Subject: "question about pricing", Body: "thanks"}) {
		t.Error("unexpected urgent verdict")
	}
	if NewUrgencyRule(nil).IsUrgent(models.Message{Subject: "urgent"}) {
		t.Error("empty rule fired")
	}
}
