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

package models

import (
	"testing"
	"time"
)

func TestStatusRank_Monotonic(t *testing.T) {
	if !(StatusPending.Rank() < StatusAnalyzed.Rank() && StatusAnalyzed.Rank() < StatusResponded.Rank()) {
		t.Fatalf("status ranks out of order: pending=%d analyzed=%d responded=%d",
			StatusPending.Rank(), StatusAnalyzed.Rank(), StatusResponded.Rank())
	}
	if Status("sent").Rank() != -1 {
		t.Errorf("unknown status rank = %d, want -1", Status("sent").Rank())
	}
}

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) (string, error)
		in   string
		want string
		err  bool
	}{
		{"sentiment upper", wrap(ParseSentiment), "NEGATIVE", "negative", false},
		{"sentiment unknown", wrap(ParseSentiment), "angry", "", true},
		{"priority high", wrap(ParsePriority), "High", "urgent", false},
		{"priority low", wrap(ParsePriority), "low", "normal", false},
		{"priority unknown", wrap(ParsePriority), "whenever", "", true},
		{"category spaced", wrap(ParseCategory), "Technical Issue", "technical_issue", false},
		{"category dashed", wrap(ParseCategory), "account-support", "account_support", false},
		{"category unknown", wrap(ParseCategory), "sales", "", true},
		{"status", wrap(ParseStatus), " Analyzed ", "analyzed", false},
		{"status unknown", wrap(ParseStatus), "sent", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(tt.in)
			if tt.err {
				if err == nil {
					t.Errorf("expected error for %q, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func wrap[T ~string](fn func(string) (T, error)) func(string) (string, error) {
	return func(s string) (string, error) {
		v, err := fn(s)
		return string(v), err
	}
}

func TestFallbackAnalysis(t *testing.T) {
	f := FallbackAnalysis()
	if f.Category != CategoryGeneral || f.Priority != PriorityNormal || f.Sentiment != SentimentNeutral || f.Confidence != 0 {
		t.Errorf("fallback = %+v", f)
	}
	if !f.IsFallback() {
		t.Error("IsFallback() = false for the fallback result")
	}
	f.Confidence = 0.4
	if f.IsFallback() {
		t.Error("IsFallback() = true after changing confidence")
	}
}

func TestClone_IsDeep(t *testing.T) {
	now := time.Now()
	rec := NewPendingRecord(Message{ID: "m1", Headers: map[string]string{"X": "1"}}, now)
	rec.Analysis = &AnalysisResult{Keywords: []string{"a"}}
	rec.Extraction = &ExtractionResult{Fields: map[string][]string{"emails": {"a@b.co"}}}
	rec.Draft = &ResponseDraft{Text: "hi"}

	c := rec.Clone()
	c.Message.Headers["X"] = "2"
	c.Analysis.Keywords[0] = "b"
	c.Extraction.Fields["emails"][0] = "x@y.co"
	c.Draft.Text = "changed"

	if rec.Message.Headers["X"] != "1" {
		t.Error("headers aliased")
	}
	if rec.Analysis.Keywords[0] != "a" {
		t.Error("keywords aliased")
	}
	if rec.Extraction.Fields["emails"][0] != "a@b.co" {
		t.Error("extraction aliased")
	}
	if rec.Draft.Text != "hi" {
		t.Error("draft aliased")
	}
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		subject, body, want string
	}{
		{"Help", "my account", "Help\n\nmy account"},
		{"", "body only", "body only"},
		{"subject only", "  ", "subject only"},
	}
	for _, tt := range tests {
		got := Message{Subject: tt.subject, Body: tt.body}.Text()
		if got != tt.want {
			t.Errorf("Text() = %q, want %q", got, tt.want)
		}
	}
}
