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

package draft

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adhiiiii6389/email-analysis-bot/internal/extract"
	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// --- Mock Generator ---

type mockGenerator struct {
	text    string
	err     error
	prompts []string
}

func (m *mockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.text, m.err
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testDrafter(gen Generator) *Drafter {
	return New(gen, Options{Now: func() time.Time { return fixedNow }})
}

func testMessage() models.Message {
	return models.Message{
		ID:      "msg-1",
		Subject: "Need Support urgently",
		Body:    "I cannot log in. Please call me at 555-1234.",
	}
}

func TestDraft_UsesGeneratorText(t *testing.T) {
	gen := &mockGenerator{text: "  Hello,\n\nWe are on it.\n\nBest regards,\nCustomer Support Team  "}
	d := testDrafter(gen)

	a := models.AnalysisResult{Sentiment: models.SentimentNegative, Priority: models.PriorityUrgent, Category: models.CategoryAccountSupport}
	got := d.Draft(context.Background(), testMessage(), a, extract.Extract(testMessage().Text()))

	if got.Templated {
		t.Error("expected generated draft, got template")
	}
	if got.Text != "Hello,\n\nWe are on it.\n\nBest regards,\nCustomer Support Team" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Status != models.DraftDrafted {
		t.Errorf("Status = %q, want drafted", got.Status)
	}
	if !got.GeneratedAt.Equal(fixedNow) {
		t.Errorf("GeneratedAt = %v, want %v", got.GeneratedAt, fixedNow)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("generator called %d times, want 1", len(gen.prompts))
	}
}

func TestDraft_GeneratorErrorFallsBackToTemplate(t *testing.T) {
	d := testDrafter(&mockGenerator{err: errors.New("boom")})

	a := models.AnalysisResult{Sentiment: models.SentimentNegative, Category: models.CategoryBilling}
	got := d.Draft(context.Background(), testMessage(), a, models.ExtractionResult{})

	if !got.Templated {
		t.Error("expected templated draft")
	}
	if !strings.HasPrefix(got.Text, negativeOpener) {
		t.Errorf("negative draft should open with apology, got %q", got.Text)
	}
	if !strings.Contains(got.Text, "billing") {
		t.Errorf("billing template not used: %q", got.Text)
	}
	if !strings.HasSuffix(got.Text, "\n\nBest regards,\nCustomer Support Team") {
		t.Errorf("missing signature: %q", got.Text)
	}
}

func TestDraft_BlankGeneratorOutputFallsBack(t *testing.T) {
	d := testDrafter(&mockGenerator{text: "   \n"})

	got := d.Draft(context.Background(), testMessage(), models.FallbackAnalysis(), models.ExtractionResult{})
	if !got.Templated || strings.TrimSpace(got.Text) == "" {
		t.Errorf("expected non-empty template, got %+v", got)
	}
}

func TestDraft_NilGenerator(t *testing.T) {
	d := testDrafter(nil)

	got := d.Draft(context.Background(), testMessage(), models.FallbackAnalysis(), models.ExtractionResult{})
	if !got.Templated {
		t.Error("expected templated draft")
	}
}

func TestTemplate_SentimentOpeners(t *testing.T) {
	tests := []struct {
		sentiment models.Sentiment
		prefix    string
	}{
		{models.SentimentNegative, negativeOpener},
		{models.SentimentPositive, positiveOpener},
		{models.SentimentNeutral, "Thank you for reporting this issue."},
	}

	for _, tt := range tests {
		t.Run(string(tt.sentiment), func(t *testing.T) {
			got := Template(models.AnalysisResult{Sentiment: tt.sentiment, Category: models.CategoryTechnicalIssue})
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("Template() = %q, want prefix %q", got, tt.prefix)
			}
		})
	}
}

func TestTemplate_EveryCategory(t *testing.T) {
	for _, c := range models.Categories {
		got := Template(models.AnalysisResult{Category: c, Sentiment: models.SentimentNeutral})
		if strings.TrimSpace(got) == "" {
			t.Errorf("Template(%s) is empty", c)
		}
	}

	unknown := Template(models.AnalysisResult{Category: "nonsense"})
	if !strings.Contains(unknown, "a member of our support team") {
		t.Errorf("unknown category should use general template, got %q", unknown)
	}
}

func TestPrompt_IncludesContext(t *testing.T) {
	d := testDrafter(nil)
	msg := testMessage()
	ex := models.ExtractionResult{Fields: map[string][]string{
		extract.FieldRequirements:  {"I need access restored today"},
		extract.FieldTicketNumbers: {"TKT-42"},
		extract.FieldErrorCodes:    {"E1234"},
	}}
	a := models.AnalysisResult{Sentiment: models.SentimentNegative, Priority: models.PriorityUrgent, Category: models.CategoryAccountSupport}

	prompt := d.Prompt(msg, a, ex)

	for _, want := range []string{
		"Category: account_support",
		"Customer sentiment: negative",
		"empathetic",
		"I need access restored today",
		"TKT-42",
		"E1234",
		"password reset",
		"Need Support urgently",
		"<<<EMAIL",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "Deadlines mentioned") {
		t.Error("empty extraction fields should be omitted")
	}
}

func TestKnowledgeBase_LookupFallsBackToGeneral(t *testing.T) {
	got := DefaultKnowledgeBase.Lookup("unknown")
	if len(got.Solutions) == 0 || got.Solutions[0] != DefaultKnowledgeBase[models.CategoryGeneral].Solutions[0] {
		t.Errorf("Lookup(unknown) = %+v, want general entry", got)
	}
}
