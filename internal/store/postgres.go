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
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// Postgres stores triage records in a single table with JSONB documents
// for the nested analysis, extraction and draft.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed store and ensures the
// triage_records table exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure triage schema: %w", err)
	}
	slog.Info("triage store initialised", "driver", "postgres")
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS triage_records (
			message_id        TEXT PRIMARY KEY,
			source            TEXT NOT NULL DEFAULT '',
			sender            TEXT NOT NULL DEFAULT '',
			subject           TEXT NOT NULL DEFAULT '',
			received_at       TIMESTAMPTZ NOT NULL,
			status            TEXT NOT NULL,
			priority          TEXT NOT NULL,
			rule_urgent       BOOLEAN NOT NULL DEFAULT FALSE,
			category          TEXT NOT NULL DEFAULT '',
			sentiment         TEXT NOT NULL DEFAULT '',
			message           JSONB NOT NULL,
			analysis          JSONB,
			analysis_degraded BOOLEAN NOT NULL DEFAULT FALSE,
			analysis_error    TEXT NOT NULL DEFAULT '',
			extraction        JSONB,
			draft             JSONB,
			responded_by      TEXT NOT NULL DEFAULT '',
			responded_at      TIMESTAMPTZ,
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_triage_status ON triage_records(status);
		CREATE INDEX IF NOT EXISTS idx_triage_priority_received ON triage_records(priority, received_at);
		CREATE INDEX IF NOT EXISTS idx_triage_category ON triage_records(category);
	`)
	return err
}

const pgSelect = `
	SELECT message, status, priority, rule_urgent, analysis, analysis_degraded,
	       analysis_error, extraction, draft, responded_by, responded_at,
	       created_at, updated_at
	FROM triage_records`

// Get retrieves a record by message ID.
func (s *Postgres) Get(ctx context.Context, id string) (*models.TriageRecord, error) {
	row := s.pool.QueryRow(ctx, pgSelect+` WHERE message_id = $1`, id)
	r, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Save creates or replaces a record inside a transaction that locks the
// existing row, so concurrent writers cannot move a status backwards.
func (s *Postgres) Save(ctx context.Context, rec *models.TriageRecord) error {
	docs, err := encodeDocuments(rec)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var stored string
	err = tx.QueryRow(ctx,
		`SELECT status FROM triage_records WHERE message_id = $1 FOR UPDATE`, rec.ID(),
	).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("lock record: %w", err)
	default:
		if err := checkTransition(models.Status(stored), rec.Status); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO triage_records
			(message_id, source, sender, subject, received_at, status, priority,
			 rule_urgent, category, sentiment, message, analysis, analysis_degraded,
			 analysis_error, extraction, draft, responded_by, responded_at,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (message_id) DO UPDATE SET
			status            = EXCLUDED.status,
			priority          = EXCLUDED.priority,
			rule_urgent       = EXCLUDED.rule_urgent,
			category          = EXCLUDED.category,
			sentiment         = EXCLUDED.sentiment,
			message           = EXCLUDED.message,
			analysis          = EXCLUDED.analysis,
			analysis_degraded = EXCLUDED.analysis_degraded,
			analysis_error    = EXCLUDED.analysis_error,
			extraction        = EXCLUDED.extraction,
			draft             = EXCLUDED.draft,
			responded_by      = EXCLUDED.responded_by,
			responded_at      = EXCLUDED.responded_at,
			updated_at        = EXCLUDED.updated_at
	`,
		rec.ID(), rec.Message.Source, rec.Message.From.Address, rec.Message.Subject,
		rec.Message.ReceivedAt, string(rec.Status), string(rec.Priority), rec.RuleUrgent,
		string(categoryOf(rec)), string(sentimentOf(rec)), docs.message, docs.analysis,
		rec.AnalysisDegraded, rec.AnalysisError, docs.extraction, docs.draft,
		rec.RespondedBy, rec.RespondedAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return tx.Commit(ctx)
}

// List returns records matching q, urgent first then oldest first.
func (s *Postgres) List(ctx context.Context, q Query) ([]*models.TriageRecord, error) {
	clause, args := listClause(q, func(n int) string { return "$" + strconv.Itoa(n) })
	rows, err := s.pool.Query(ctx, pgSelect+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TriageRecord
	for rows.Next() {
		r, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats aggregates record counts.
func (s *Postgres) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, priority, category, sentiment, COUNT(*)
		FROM triage_records
		GROUP BY status, priority, category, sentiment
	`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	st := newStats()
	for rows.Next() {
		var status, priority, category, sentiment string
		var n int
		if err := rows.Scan(&status, &priority, &category, &sentiment, &n); err != nil {
			return Stats{}, err
		}
		st.add(models.Status(status), models.Priority(priority), models.Category(category), models.Sentiment(sentiment), n)
	}
	return st, rows.Err()
}

// Ping checks connectivity to Postgres.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanPostgres(row pgx.Row) (*models.TriageRecord, error) {
	var (
		r                models.TriageRecord
		docs             documents
		status, priority string
	)
	err := row.Scan(
		&docs.message, &status, &priority, &r.RuleUrgent, &docs.analysis, &r.AnalysisDegraded,
		&r.AnalysisError, &docs.extraction, &docs.draft, &r.RespondedBy, &r.RespondedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = models.Status(status)
	r.Priority = models.Priority(priority)
	if err := docs.decodeInto(&r); err != nil {
		return nil, err
	}
	return &r, nil
}
