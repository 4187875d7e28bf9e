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
	"fmt"
	"strings"
	"time"
)

// Sentiment is the tone the classifier assigned to a message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Priority is either urgent or normal.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityNormal Priority = "normal"
)

// Rank orders priorities for sorting: urgent sorts before normal.
func (p Priority) Rank() int {
	if p == PriorityUrgent {
		return 1
	}
	return 0
}

// Category is the support queue a message belongs to.
type Category string

const (
	CategoryTechnicalIssue Category = "technical_issue"
	CategoryAccountSupport Category = "account_support"
	CategoryProductInquiry Category = "product_inquiry"
	CategoryBilling        Category = "billing"
	CategoryGeneral        Category = "general"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryTechnicalIssue,
	CategoryAccountSupport,
	CategoryProductInquiry,
	CategoryBilling,
	CategoryGeneral,
}

// ParseSentiment accepts a sentiment label in any case.
func ParseSentiment(s string) (Sentiment, error) {
	switch v := Sentiment(strings.ToLower(strings.TrimSpace(s))); v {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return v, nil
	}
	return "", fmt.Errorf("unknown sentiment %q", s)
}

// ParsePriority accepts a priority label in any case. "high" and "critical"
// are read as urgent, "low" and "medium" as normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "urgent", "high", "critical":
		return PriorityUrgent, nil
	case "normal", "low", "medium":
		return PriorityNormal, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// ParseCategory accepts a category label in any case, with spaces or dashes
// in place of underscores.
func ParseCategory(s string) (Category, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, c := range Categories {
		if string(c) == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// AnalysisResult is the classifier's verdict for one message.
type AnalysisResult struct {
	Sentiment  Sentiment `json:"sentiment"`
	Priority   Priority  `json:"priority"`
	Category   Category  `json:"category"`
	Keywords   []string  `json:"keywords,omitempty"`
	Confidence float64   `json:"confidence"`
}

// FallbackAnalysis is substituted whenever the classifier cannot produce a
// usable result.
func FallbackAnalysis() AnalysisResult {
	return AnalysisResult{
		Sentiment:  SentimentNeutral,
		Priority:   PriorityNormal,
		Category:   CategoryGeneral,
		Confidence: 0,
	}
}

// IsFallback reports whether r carries the fallback values.
func (r AnalysisResult) IsFallback() bool {
	f := FallbackAnalysis()
	return r.Sentiment == f.Sentiment &&
		r.Priority == f.Priority &&
		r.Category == f.Category &&
		r.Confidence == f.Confidence &&
		len(r.Keywords) == 0
}

// ExtractionResult maps a field name to the values found for it.
type ExtractionResult struct {
	Fields map[string][]string `json:"fields"`
}

// Get returns the values for a field, or nil.
func (e ExtractionResult) Get(field string) []string {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[field]
}

// DraftStatus tracks a draft's persistence. Drafts are never transmitted, so
// there is no "sent" state.
type DraftStatus string

const (
	DraftDrafted DraftStatus = "drafted"
	DraftStored  DraftStatus = "stored"
)

// ResponseDraft is a generated reply awaiting an operator.
type ResponseDraft struct {
	Text        string      `json:"text"`
	GeneratedAt time.Time   `json:"generated_at"`
	Status      DraftStatus `json:"status"`
	Templated   bool        `json:"templated,omitempty"`
}

// Status is the lifecycle position of a TriageRecord.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzed  Status = "analyzed"
	StatusResponded Status = "responded"
)

// Rank orders statuses. A record's rank never decreases.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAnalyzed:
		return 1
	case StatusResponded:
		return 2
	}
	return -1
}

// ParseStatus accepts a status label in any case.
func ParseStatus(s string) (Status, error) {
	v := Status(strings.ToLower(strings.TrimSpace(s)))
	if v.Rank() < 0 {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return v, nil
}

// TriageRecord is the durable unit tracking one message through analysis
// and drafting.
type TriageRecord struct {
	Message          Message           `json:"message"`
	Status           Status            `json:"status"`
	Priority         Priority          `json:"priority"`
	RuleUrgent       bool              `json:"rule_urgent"`
	Analysis         *AnalysisResult   `json:"analysis,omitempty"`
	AnalysisDegraded bool              `json:"analysis_degraded,omitempty"`
	AnalysisError    string            `json:"analysis_error,omitempty"`
	Extraction       *ExtractionResult `json:"extraction,omitempty"`
	Draft            *ResponseDraft    `json:"draft,omitempty"`
	RespondedBy      string            `json:"responded_by,omitempty"`
	RespondedAt      *time.Time        `json:"responded_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`

	// ClaimToken identifies the in-flight claim taken by Ingest. It lives
	// only in memory and is never stored.
	ClaimToken string `json:"-"`
}

// ID returns the record's key, the source message ID.
func (r *TriageRecord) ID() string { return r.Message.ID }

// NewPendingRecord wraps a freshly seen message.
func NewPendingRecord(msg Message, now time.Time) *TriageRecord {
	return &TriageRecord{
		Message:   msg,
		Status:    StatusPending,
		Priority:  PriorityNormal,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers can mutate the result freely.
func (r *TriageRecord) Clone() *TriageRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Message.To != nil {
		out.Message.To = append([]EmailAddress(nil), r.Message.To...)
	}
	if r.Message.Headers != nil {
		out.Message.Headers = make(map[string]string, len(r.Message.Headers))
		for k, v := range r.Message.Headers {
			out.Message.Headers[k] = v
		}
	}
	if r.Analysis != nil {
		a := *r.Analysis
		a.Keywords = append([]string(nil), r.Analysis.Keywords...)
		out.Analysis = &a
	}
	if r.Extraction != nil {
		fields := make(map[string][]string, len(r.Extraction.Fields))
		for k, v := range r.Extraction.Fields {
			fields[k] = append([]string{}, v...)
		}
		out.Extraction = &ExtractionResult{Fields: fields}
	}
	if r.Draft != nil {
		d := *r.Draft
		out.Draft = &d
	}
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		out.RespondedAt = &t
	}
	return &out
}
