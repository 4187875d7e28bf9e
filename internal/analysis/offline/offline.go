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

// Package offline is a keyword classifier that needs no network access.
// It is used for dry runs and deployments without a model API key.
package offline

import (
	"context"
	"fmt"
	"strings"

	"github.com/adhiiiii6389/email-analysis-bot/internal/analysis"
	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

type categoryRule struct {
	category models.Category
	terms    []string
}

// Checked in order; the first rule with a hit wins.
var categoryRules = []categoryRule{
	{models.CategoryAccountSupport, []string{"login", "password", "access", "account", "sign in"}},
	{models.CategoryProductInquiry, []string{"price", "pricing", "cost", "plan", "upgrade", "subscription"}},
	{models.CategoryTechnicalIssue, []string{"bug", "error", "broken", "not working", "crash"}},
	{models.CategoryBilling, []string{"bill", "payment", "invoice", "charge"}},
}

var (
	positiveTerms = []string{
		"thank", "thanks", "great", "excellent", "love", "appreciate",
		"happy", "pleased", "awesome", "wonderful", "resolved", "fixed",
	}
	negativeTerms = []string{
		"frustrated", "angry", "disappointed", "terrible", "awful", "worst",
		"unacceptable", "annoyed", "upset", "broken", "not working", "problem",
		"issue", "fail", "cannot", "can't", "refund", "complaint",
	}
)

// Provider classifies with fixed keyword lists.
type Provider struct {
	urgency analysis.UrgencyRule
}

// New creates an offline provider. urgentTerms set the priority it reports.
func New(urgentTerms []string) *Provider {
	return &Provider{urgency: analysis.NewUrgencyRule(urgentTerms)}
}

func (p *Provider) Name() string { return "offline" }

// Classify returns a structured payload, so results pass through the same
// normalisation as a remote provider's.
func (p *Provider) Classify(_ context.Context, text string) (analysis.Payload, error) {
	lower := strings.ToLower(text)

	category := models.CategoryGeneral
	var keywords []any
	for _, rule := range categoryRules {
		hits := matches(lower, rule.terms)
		if len(hits) == 0 {
			continue
		}
		category = rule.category
		for _, h := range hits {
			keywords = append(keywords, h)
		}
		break
	}

	pos := len(matches(lower, positiveTerms))
	neg := len(matches(lower, negativeTerms))
	sentiment := models.SentimentNeutral
	switch {
	case neg > pos:
		sentiment = models.SentimentNegative
	case pos > neg:
		sentiment = models.SentimentPositive
	}

	priority := models.PriorityNormal
	if p.urgency.IsUrgent(models.Message{Body: text}) {
		priority = models.PriorityUrgent
	}

	confidence := 0.3
	if category != models.CategoryGeneral {
		confidence = 0.5
	}

	return analysis.Structured(map[string]any{
		"sentiment":  string(sentiment),
		"priority":   string(priority),
		"category":   string(category),
		"keywords":   keywords,
		"confidence": confidence,
	}), nil
}

// Generate is not supported offline; drafts fall back to templates.
func (p *Provider) Generate(_ context.Context, _ string) (string, error) {
	return "", fmt.Errorf("offline provider cannot generate text: %w", analysis.ErrServiceUnavailable)
}

func matches(text string, terms []string) []string {
	var out []string
	for _, t := range terms {
		if strings.Contains(text, t) {
			out = append(out, t)
		}
	}
	return out
}
