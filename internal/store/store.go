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

// Package store persists triage records keyed by source message ID. Three
// backends share one contract: Postgres for deployments, SQLite for single
// node and CLI runs, and an in-memory map for tests and dry runs.
package store

import (
	"context"
	"errors"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

var (
	// ErrNotFound is returned by Get when no record has the requested ID.
	ErrNotFound = errors.New("record not found")

	// ErrStatusRegression is returned by Save when the stored record has
	// already moved past the status being written.
	ErrStatusRegression = errors.New("status regression")
)

// Store is the durable record store.
type Store interface {
	Get(ctx context.Context, id string) (*models.TriageRecord, error)
	Save(ctx context.Context, rec *models.TriageRecord) error
	List(ctx context.Context, q Query) ([]*models.TriageRecord, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}

// Query filters List. Zero-valued fields match everything.
type Query struct {
	Status   models.Status
	Priority models.Priority
	Category models.Category
	Limit    int
}

func (q Query) matches(r *models.TriageRecord) bool {
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.Priority != "" && r.Priority != q.Priority {
		return false
	}
	if q.Category != "" && categoryOf(r) != q.Category {
		return false
	}
	return true
}

// Stats summarises the store contents.
type Stats struct {
	Total       int                      `json:"total"`
	Urgent      int                      `json:"urgent"`
	Pending     int                      `json:"pending"`
	Responded   int                      `json:"responded"`
	ByStatus    map[models.Status]int    `json:"by_status"`
	ByCategory  map[models.Category]int  `json:"by_category"`
	BySentiment map[models.Sentiment]int `json:"by_sentiment"`
}

func newStats() Stats {
	return Stats{
		ByStatus:    map[models.Status]int{},
		ByCategory:  map[models.Category]int{},
		BySentiment: map[models.Sentiment]int{},
	}
}

// add folds n records sharing the given labels into s. Records without an
// analysis contribute to the totals only.
func (s *Stats) add(status models.Status, priority models.Priority, category models.Category, sentiment models.Sentiment, n int) {
	s.Total += n
	s.ByStatus[status] += n
	if category != "" {
		s.ByCategory[category] += n
	}
	if sentiment != "" {
		s.BySentiment[sentiment] += n
	}
	if priority == models.PriorityUrgent {
		s.Urgent += n
	}
	switch status {
	case models.StatusPending:
		s.Pending += n
	case models.StatusResponded:
		s.Responded += n
	}
}

func categoryOf(r *models.TriageRecord) models.Category {
	if r.Analysis == nil {
		return ""
	}
	return r.Analysis.Category
}

func sentimentOf(r *models.TriageRecord) models.Sentiment {
	if r.Analysis == nil {
		return ""
	}
	return r.Analysis.Sentiment
}

// checkTransition enforces that a record's status never moves backwards.
func checkTransition(stored, next models.Status) error {
	if stored.Rank() > next.Rank() {
		return ErrStatusRegression
	}
	return nil
}
