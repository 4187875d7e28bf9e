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

package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
	"github.com/adhiiiii6389/email-analysis-bot/internal/pipeline"
)

// --- Mock runner ---

type mockRunner struct {
	mu      sync.Mutex
	windows []mailsource.Window
	err     error
}

func (m *mockRunner) RunBatch(_ context.Context, w mailsource.Window) (*pipeline.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = append(m.windows, w)
	return &pipeline.Summary{RunID: "run", Window: w}, m.err
}

func (m *mockRunner) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// --- Mock publisher ---

type mockPublisher struct {
	mu        sync.Mutex
	summaries int
	urgent    int
	err       error
}

func (m *mockPublisher) PublishSummary(context.Context, *pipeline.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries++
	return m.err
}

func (m *mockPublisher) PublishUrgent(context.Context, *pipeline.Summary) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urgent++
	return 0, nil
}

func TestPoll_WindowAndPublish(t *testing.T) {
	runner := &mockRunner{}
	pub := &mockPublisher{}
	p := New(runner, pub, time.Minute, 10*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.poll(context.Background())

	if runner.calls() != 1 {
		t.Fatalf("RunBatch called %d times, want 1", runner.calls())
	}
	w := runner.windows[0]
	if !w.Start.Equal(now.Add(-10*time.Minute)) || !w.End.Equal(now) {
		t.Errorf("window = %+v", w)
	}
	if pub.summaries != 1 || pub.urgent != 1 {
		t.Errorf("published summaries/urgent = %d/%d, want 1/1", pub.summaries, pub.urgent)
	}
}

func TestPoll_PublishesPartialSummaryOnError(t *testing.T) {
	runner := &mockRunner{err: errors.New("store unavailable")}
	pub := &mockPublisher{}
	p := New(runner, pub, time.Minute, time.Minute)

	if s := p.poll(context.Background()); s == nil {
		t.Fatal("expected partial summary")
	}
	if pub.summaries != 1 {
		t.Errorf("partial summary not published")
	}
}

func TestPoll_SummaryPublishFailureSkipsUrgent(t *testing.T) {
	pub := &mockPublisher{err: errors.New("redis down")}
	p := New(&mockRunner{}, pub, time.Minute, time.Minute)

	p.poll(context.Background())
	if pub.urgent != 0 {
		t.Errorf("urgent published after summary failure")
	}
}

func TestNew_LookbackAtLeastInterval(t *testing.T) {
	p := New(&mockRunner{}, nil, time.Hour, time.Minute)
	if p.lookback != time.Hour {
		t.Errorf("lookback = %v, want 1h", p.lookback)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	runner := &mockRunner{}
	p := New(runner, nil, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runner.calls() < 2 {
		select {
		case <-deadline:
			t.Fatal("poller did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
