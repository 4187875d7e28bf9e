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

package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
	"github.com/adhiiiii6389/email-analysis-bot/internal/pipeline"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestPublisher_SummaryAndUrgent(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	queueName := "test:triage:" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, queueName) })

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &pipeline.Summary{
		RunID:    "run-1",
		Total:    3,
		Analyzed: 3,
		Urgent:   1,
		ProcessingOrder: []pipeline.OrderEntry{
			{MessageID: "u", Priority: models.PriorityUrgent, ReceivedAt: now},
			{MessageID: "n1", Priority: models.PriorityNormal, ReceivedAt: now},
			{MessageID: "n2", Priority: models.PriorityNormal, ReceivedAt: now},
		},
	}

	p := NewPublisher(rdb, queueName)
	if err := p.Ping(ctx); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	if err := p.PublishSummary(ctx, s); err != nil {
		t.Fatalf("PublishSummary() error: %v", err)
	}
	sent, err := p.PublishUrgent(ctx, s)
	if err != nil {
		t.Fatalf("PublishUrgent() error: %v", err)
	}
	if sent != 1 {
		t.Errorf("PublishUrgent() sent %d, want 1", sent)
	}

	// LPUSH + RPOP reads oldest first.
	raw, err := rdb.RPop(ctx, queueName).Result()
	if err != nil {
		t.Fatalf("RPOP summary: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != TypeRunSummary || env.ID == "" {
		t.Errorf("envelope = %+v", env)
	}
	var got pipeline.Summary
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if got.RunID != "run-1" || got.Urgent != 1 {
		t.Errorf("summary = %+v", got)
	}

	raw, err = rdb.RPop(ctx, queueName).Result()
	if err != nil {
		t.Fatalf("RPOP urgent: %v", err)
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var urgent UrgentRecord
	if err := json.Unmarshal(env.Payload, &urgent); err != nil {
		t.Fatalf("decode urgent: %v", err)
	}
	if env.Type != TypeUrgentRecord || urgent.MessageID != "u" || urgent.RunID != "run-1" {
		t.Errorf("urgent envelope = %+v, payload = %+v", env, urgent)
	}
}
