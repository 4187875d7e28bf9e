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
	"context"
	"sort"
	"sync"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// Memory is a process-local Store. Records are cloned on the way in and
// out, so callers never share state with the map.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*models.TriageRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*models.TriageRecord)}
}

func (m *Memory) Get(_ context.Context, id string) (*models.TriageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *Memory) Save(_ context.Context, rec *models.TriageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.ID()]; ok {
		if err := checkTransition(existing.Status, rec.Status); err != nil {
			return err
		}
		next := rec.Clone()
		next.CreatedAt = existing.CreatedAt
		next.ClaimToken = ""
		m.records[rec.ID()] = next
		return nil
	}
	next := rec.Clone()
	next.ClaimToken = ""
	m.records[rec.ID()] = next
	return nil
}

func (m *Memory) List(_ context.Context, q Query) ([]*models.TriageRecord, error) {
	m.mu.RLock()
	var out []*models.TriageRecord
	for _, r := range m.records {
		if q.matches(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if !a.Message.ReceivedAt.Equal(b.Message.ReceivedAt) {
			return a.Message.ReceivedAt.Before(b.Message.ReceivedAt)
		}
		return a.ID() < b.ID()
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := newStats()
	for _, r := range m.records {
		s.add(r.Status, r.Priority, categoryOf(r), sentimentOf(r), 1)
	}
	return s, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
