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

// Package filter decides whether a message is support-related before any
// external call is spent on it.
package filter

import (
	"strings"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// DefaultSupportKeywords is used when the configuration does not list any.
var DefaultSupportKeywords = []string{
	"support", "query", "request", "help", "assistance",
	"issue", "problem", "question", "inquiry", "ticket",
	"bug", "error", "feature", "feedback",
}

// Keyword accepts a message when any keyword appears in its subject or body.
// An empty keyword set accepts nothing.
type Keyword struct {
	keywords []string // lower-cased, non-blank
}

// NewKeyword builds a filter. Blank entries are ignored.
func NewKeyword(keywords []string) *Keyword {
	k := &Keyword{}
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		k.keywords = append(k.keywords, kw)
	}
	return k
}

// Keywords returns the normalised keyword set.
func (k *Keyword) Keywords() []string {
	return append([]string(nil), k.keywords...)
}

// Matches reports whether msg is support-related.
func (k *Keyword) Matches(msg models.Message) bool {
	if len(k.keywords) == 0 {
		return false
	}
	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(msg.Body)
	for _, kw := range k.keywords {
		if strings.Contains(subject, kw) || strings.Contains(body, kw) {
			return true
		}
	}
	return false
}
