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
	"strings"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// DefaultUrgentTerms mark a message urgent regardless of the classifier.
var DefaultUrgentTerms = []string{
	"urgent", "critical", "emergency", "immediately", "asap",
	"cannot access", "broken", "not working", "down", "crashed",
	"failed", "error", "deadline", "important", "escalate",
	"priority", "escalation", "production", "outage", "security",
	"breach", "hack", "compromised",
}

// UrgencyRule is the keyword half of the priority decision.
type UrgencyRule struct {
	terms []string
}

// NewUrgencyRule builds a rule from case-insensitive terms. Blank terms are
// dropped; an empty rule never fires.
func NewUrgencyRule(terms []string) UrgencyRule {
	var r UrgencyRule
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			r.terms = append(r.terms, t)
		}
	}
	return r
}

// IsUrgent reports whether any term occurs in the subject or body.
func (r UrgencyRule) IsUrgent(msg models.Message) bool {
	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(msg.Body)
	for _, t := range r.terms {
		if strings.Contains(subject, t) || strings.Contains(body, t) {
			return true
		}
	}
	return false
}

// CombinePriority merges the rule and classifier signals. Either one saying
// urgent makes the message urgent, so a degraded classifier cannot hide an
// urgent message the rule caught.
func CombinePriority(ruleUrgent bool, classified models.Priority) models.Priority {
	if ruleUrgent || classified == models.PriorityUrgent {
		return models.PriorityUrgent
	}
	return models.PriorityNormal
}
