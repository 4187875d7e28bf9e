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

// Package extract derives structured fields from message text with a fixed
// pattern set. Extraction is deterministic, never fails, and makes no
// external calls, so it runs alongside the classifier without depending on it.
package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/badoux/checkmail"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// Field names present in every ExtractionResult.
const (
	FieldPhoneNumbers  = "phone_numbers"
	FieldEmails        = "emails"
	FieldURLs          = "urls"
	FieldTicketNumbers = "ticket_numbers"
	FieldErrorCodes    = "error_codes"
	FieldVersions      = "versions"
	FieldDeadlines     = "deadlines"
	FieldAmounts       = "amounts"
	FieldRequirements  = "requirements"
)

// Fields lists every key Extract populates, in a stable order.
var Fields = []string{
	FieldPhoneNumbers,
	FieldEmails,
	FieldURLs,
	FieldTicketNumbers,
	FieldErrorCodes,
	FieldVersions,
	FieldDeadlines,
	FieldAmounts,
	FieldRequirements,
}

const maxRequirementLen = 240

// pattern is one regex feeding one field. group selects the submatch that
// holds the value (0 for the whole match). needDigit discards values with
// no digit, which keeps words like "ticket request" out of id fields.
type pattern struct {
	re        *regexp.Regexp
	group     int
	needDigit bool
}

var patterns = map[string][]pattern{
	FieldPhoneNumbers: {
		{re: regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\b\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b|\b\d{3}[-.]\d{4}\b`)},
		{re: regexp.MustCompile(`\+[2-9]\d{7,14}\b`)},
	},
	FieldEmails: {
		{re: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	},
	FieldURLs: {
		{re: regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)},
	},
	FieldTicketNumbers: {
		{re: regexp.MustCompile(`(?i)\b(?:ticket|case|ref|reference)\s*(?:number|no\.?|#|:)?\s*#?([A-Z0-9][A-Z0-9-]{3,19})\b`), group: 1, needDigit: true},
	},
	FieldErrorCodes: {
		{re: regexp.MustCompile(`(?i)\b(?:error|code|err)(?:\s+(?:code|number|no\.?))?\s*(?:#|:)?\s*([A-Z0-9][A-Z0-9_-]{2,14})\b`), group: 1, needDigit: true},
		{re: regexp.MustCompile(`\bERR_[A-Z_]{3,}\b`)},
		{re: regexp.MustCompile(`\b0x[0-9A-Fa-f]{4,8}\b`)},
	},
	FieldVersions: {
		{re: regexp.MustCompile(`(?i)\b(?:version|ver\.?|v)\s*(\d+(?:\.\d+)+|\d+)\b`), group: 1},
	},
	FieldDeadlines: {
		{re: regexp.MustCompile(`(?i)\b(?:by|before|until|due|no later than)\s+((?:mon|tues|wednes|thurs|fri|satur|sun)day|tomorrow|today|tonight|end of (?:day|week|month)|eod|eow|next (?:week|month|(?:mon|tues|wednes|thurs|fri|satur|sun)day)|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?|\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?|\d{4}-\d{2}-\d{2})\b`), group: 1},
		{re: regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)},
		{re: regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)},
	},
	FieldAmounts: {
		{re: regexp.MustCompile(`\$\s?\d+(?:,\d{3})*(?:\.\d{2})?|(?i:usd)\s?\d+(?:,\d{3})*(?:\.\d{2})?|\b\d+(?:,\d{3})*(?:\.\d{2})?\s?(?i:dollars?)\b`)},
	},
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?\n]+`)
	requirementRe = regexp.MustCompile(`(?i)\b(?:need|needs|needed|want|wants|require|requires|required|request|requested|requesting)\b`)
	hasDigitRe    = regexp.MustCompile(`\d`)
)

const trailingPunct = ".,;:!?"

// Extract runs every pattern over text. All Fields keys are present in the
// result; values are de-duplicated and kept in order of first appearance.
func Extract(text string) models.ExtractionResult {
	out := models.ExtractionResult{Fields: make(map[string][]string, len(Fields))}
	for _, field := range Fields {
		out.Fields[field] = []string{}
	}
	if strings.TrimSpace(text) == "" {
		return out
	}

	for field, pats := range patterns {
		out.Fields[field] = collect(text, field, pats)
	}
	out.Fields[FieldRequirements] = requirements(text)
	return out
}

type hit struct {
	pos int
	val string
}

func collect(text, field string, pats []pattern) []string {
	var hits []hit
	for _, p := range pats {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*p.group], m[2*p.group+1]
			if start < 0 {
				continue
			}
			val := clean(field, text[start:end])
			if val == "" {
				continue
			}
			if p.needDigit && !hasDigitRe.MatchString(val) {
				continue
			}
			hits = append(hits, hit{pos: start, val: val})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	values := []string{}
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		key := strings.ToLower(h.val)
		if seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, h.val)
	}
	return values
}

func clean(field, v string) string {
	v = strings.TrimSpace(v)
	switch field {
	case FieldURLs:
		v = strings.TrimRight(v, trailingPunct)
	case FieldEmails:
		v = strings.TrimRight(v, trailingPunct)
		if checkmail.ValidateFormat(v) != nil {
			return ""
		}
	}
	return v
}

// requirements returns the sentences that state a need or request.
func requirements(text string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, s := range sentenceSplit.Split(text, -1) {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" || !requirementRe.MatchString(s) {
			continue
		}
		if r := []rune(s); len(r) > maxRequirementLen {
			s = strings.TrimSpace(string(r[:maxRequirementLen]))
		}
		if seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	return out
}
