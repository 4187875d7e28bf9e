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

// Package mailsource defines how the pipeline pulls messages from a
// mailbox. Concrete mailboxes live in subpackages.
package mailsource

import (
	"context"
	"iter"
	"sort"
	"time"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// Window is the half-open interval [Start, End) of receipt times a batch
// covers. A zero End means "now".
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Last returns the window covering the d before now.
func Last(d time.Duration, now time.Time) Window {
	return Window{Start: now.Add(-d), End: now}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End.IsZero() || t.Before(w.End)
}

// Source yields the messages received inside a window. The sequence is
// lazy and one-shot; a non-nil error ends it.
type Source interface {
	Fetch(ctx context.Context, w Window) iter.Seq2[models.Message, error]
}

// Static serves a fixed set of messages, oldest first.
type Static struct {
	messages []models.Message
}

// NewStatic creates a source over a copy of msgs.
func NewStatic(msgs ...models.Message) *Static {
	out := append([]models.Message(nil), msgs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return &Static{messages: out}
}

func (s *Static) Fetch(ctx context.Context, w Window) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		for _, m := range s.messages {
			if err := ctx.Err(); err != nil {
				yield(models.Message{}, err)
				return
			}
			if !w.Contains(m.ReceivedAt) {
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}
