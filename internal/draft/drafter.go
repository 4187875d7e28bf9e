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

// Package draft produces reply drafts for analysed messages. The drafter
// has no mail transport: its only output is the returned text, which an
// operator reviews before anything is sent by other means.
package draft

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adhiiiii6389/email-analysis-bot/internal/extract"
	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// Generator produces free text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options configures a Drafter.
type Options struct {
	KnowledgeBase KnowledgeBase
	Now           func() time.Time
}

// Drafter turns an analysis into a reply draft.
type Drafter struct {
	gen Generator
	kb  KnowledgeBase
	now func() time.Time
}

// New creates a drafter. A nil generator makes every draft a template.
func New(gen Generator, opts Options) *Drafter {
	d := &Drafter{gen: gen, kb: opts.KnowledgeBase, now: opts.Now}
	if d.kb == nil {
		d.kb = DefaultKnowledgeBase
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Draft returns a non-empty draft. Generator failures and blank output fall
// back to the category template.
func (d *Drafter) Draft(ctx context.Context, msg models.Message, a models.AnalysisResult, ex models.ExtractionResult) models.ResponseDraft {
	if d.gen != nil {
		text, err := d.gen.Generate(ctx, d.Prompt(msg, a, ex))
		text = strings.TrimSpace(text)
		if err == nil && text != "" {
			return models.ResponseDraft{
				Text:        text,
				GeneratedAt: d.now().UTC(),
				Status:      models.DraftDrafted,
			}
		}
		if err != nil {
			slog.Warn("draft generation failed, using template",
				"message_id", msg.ID,
				"category", a.Category,
				"error", err,
			)
		}
	}

	return models.ResponseDraft{
		Text:        Template(a),
		GeneratedAt: d.now().UTC(),
		Status:      models.DraftDrafted,
		Templated:   true,
	}
}

// Template renders the fixed reply for an analysis.
func Template(a models.AnalysisResult) string {
	body, ok := templates[a.Category]
	if !ok {
		body = templates[models.CategoryGeneral]
	}

	var b strings.Builder
	switch a.Sentiment {
	case models.SentimentNegative:
		b.WriteString(negativeOpener + "\n\n")
	case models.SentimentPositive:
		b.WriteString(positiveOpener + "\n\n")
	}
	b.WriteString(body)
	b.WriteString("\n\n" + signature)
	return b.String()
}

// Prompt assembles the drafting request.
func (d *Drafter) Prompt(msg models.Message, a models.AnalysisResult, ex models.ExtractionResult) string {
	kb := d.kb.Lookup(a.Category)

	var b strings.Builder
	b.WriteString("Write a reply to the customer email below.\n\n")
	fmt.Fprintf(&b, "Category: %s\n", a.Category)
	fmt.Fprintf(&b, "Customer sentiment: %s\n", a.Sentiment)
	fmt.Fprintf(&b, "Priority: %s\n", a.Priority)
	b.WriteString("Tone: " + toneGuidance(a.Sentiment) + "\n")

	writeList(&b, "Customer requirements", ex.Get(extract.FieldRequirements))
	writeList(&b, "Referenced tickets", ex.Get(extract.FieldTicketNumbers))
	writeList(&b, "Error codes", ex.Get(extract.FieldErrorCodes))
	writeList(&b, "Deadlines mentioned", ex.Get(extract.FieldDeadlines))

	writeList(&b, "Common issues in this category", kb.CommonIssues)
	writeList(&b, "Approved guidance", kb.Solutions)

	b.WriteString("\nRequirements:\n")
	b.WriteString("- Address the customer's specific concerns.\n")
	b.WriteString("- Use only the approved guidance above; do not promise refunds, dates, or fixes.\n")
	b.WriteString("- Keep it under 200 words and end with the signature \"" + strings.ReplaceAll(signature, "\n", " / ") + "\".\n")
	b.WriteString("- Output the reply text only.\n")

	fmt.Fprintf(&b, "\nSubject: %s\n<<<EMAIL\n%s\nEMAIL>>>\n", msg.Subject, msg.Body)
	return b.String()
}

func toneGuidance(s models.Sentiment) string {
	switch s {
	case models.SentimentNegative:
		return "empathetic and apologetic; acknowledge the frustration before anything else"
	case models.SentimentPositive:
		return "warm and appreciative"
	}
	return "friendly and professional"
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n" + title + ":\n")
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
}
