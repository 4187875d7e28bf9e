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

package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// documents holds the JSON-encoded parts of a record. Nil slices map to
// SQL NULL.
type documents struct {
	message    []byte
	analysis   []byte
	extraction []byte
	draft      []byte
}

func encodeDocuments(r *models.TriageRecord) (documents, error) {
	var d documents
	var err error
	if d.message, err = json.Marshal(r.Message); err != nil {
		return d, fmt.Errorf("encode message: %w", err)
	}
	if r.Analysis != nil {
		if d.analysis, err = json.Marshal(r.Analysis); err != nil {
			return d, fmt.Errorf("encode analysis: %w", err)
		}
	}
	if r.Extraction != nil {
		if d.extraction, err = json.Marshal(r.Extraction); err != nil {
			return d, fmt.Errorf("encode extraction: %w", err)
		}
	}
	if r.Draft != nil {
		if d.draft, err = json.Marshal(r.Draft); err != nil {
			return d, fmt.Errorf("encode draft: %w", err)
		}
	}
	return d, nil
}

func (d documents) decodeInto(r *models.TriageRecord) error {
	if err := json.Unmarshal(d.message, &r.Message); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if len(d.analysis) > 0 {
		r.Analysis = &models.AnalysisResult{}
		if err := json.Unmarshal(d.analysis, r.Analysis); err != nil {
			return fmt.Errorf("decode analysis: %w", err)
		}
	}
	if len(d.extraction) > 0 {
		r.Extraction = &models.ExtractionResult{}
		if err := json.Unmarshal(d.extraction, r.Extraction); err != nil {
			return fmt.Errorf("decode extraction: %w", err)
		}
	}
	if len(d.draft) > 0 {
		r.Draft = &models.ResponseDraft{}
		if err := json.Unmarshal(d.draft, r.Draft); err != nil {
			return fmt.Errorf("decode draft: %w", err)
		}
	}
	return nil
}

// listClause renders the WHERE, ORDER BY and LIMIT of a List query.
// placeholder renders the n-th (1-based) bind parameter for the dialect.
func listClause(q Query, placeholder func(n int) string) (string, []any) {
	var conds []string
	var args []any
	add := func(col string, v string) {
		args = append(args, v)
		conds = append(conds, col+" = "+placeholder(len(args)))
	}
	if q.Status != "" {
		add("status", string(q.Status))
	}
	if q.Priority != "" {
		add("priority", string(q.Priority))
	}
	if q.Category != "" {
		add("category", string(q.Category))
	}

	var b strings.Builder
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY CASE priority WHEN 'urgent' THEN 0 ELSE 1 END, received_at, message_id")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		b.WriteString(" LIMIT " + placeholder(len(args)))
	}
	return b.String(), args
}
