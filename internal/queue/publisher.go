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

// Package queue publishes run reports to a Redis list so dashboards and
// on-call tooling can consume them without touching the record store.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
	"github.com/adhiiiii6389/email-analysis-bot/internal/pipeline"
)

// Envelope types.
const (
	TypeRunSummary   = "run_summary"
	TypeUrgentRecord = "urgent_record"
)

// Envelope is the JSON document pushed for every report.
type Envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	PublishedAt time.Time       `json:"published_at"`
	Payload     json.RawMessage `json:"payload"`
}

// UrgentRecord announces one urgent record from a run.
type UrgentRecord struct {
	RunID      string    `json:"run_id"`
	MessageID  string    `json:"message_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// Publisher LPUSHes envelopes onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting the named list.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// PublishSummary pushes a run summary.
func (p *Publisher) PublishSummary(ctx context.Context, s *pipeline.Summary) error {
	id, err := p.publish(ctx, TypeRunSummary, s)
	if err != nil {
		return err
	}
	slog.Info("published run summary",
		"envelope_id", id,
		"run_id", s.RunID,
		"queue", p.queueName,
	)
	return nil
}

// PublishUrgent pushes one envelope per urgent entry in the summary's
// processing order and returns how many were sent.
func (p *Publisher) PublishUrgent(ctx context.Context, s *pipeline.Summary) (int, error) {
	sent := 0
	for _, e := range s.ProcessingOrder {
		if e.Priority != models.PriorityUrgent {
			continue
		}
		_, err := p.publish(ctx, TypeUrgentRecord, UrgentRecord{
			RunID:      s.RunID,
			MessageID:  e.MessageID,
			ReceivedAt: e.ReceivedAt,
		})
		if err != nil {
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		slog.Info("published urgent records", "run_id", s.RunID, "count", sent, "queue", p.queueName)
	}
	return sent, nil
}

func (p *Publisher) publish(ctx context.Context, typ string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", typ, err)
	}

	env := Envelope{
		ID:          uuid.New().String(),
		Type:        typ,
		PublishedAt: time.Now().UTC(),
		Payload:     body,
	}
	msg, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(msg)).Err(); err != nil {
		return "", fmt.Errorf("redis LPUSH: %w", err)
	}
	return env.ID, nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
