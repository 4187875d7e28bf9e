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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// SQLite stores triage records in a local database file. Timestamps are
// stored as Unix nanoseconds.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. An empty path or
// ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := strings.TrimSpace(path)
	inMemory := dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	s := &SQLite{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure triage schema: %w", err)
	}
	slog.Info("triage store initialised", "driver", "sqlite", "path", dsn)
	return s, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS triage_records (
			message_id        TEXT PRIMARY KEY,
			source            TEXT NOT NULL DEFAULT '',
			sender            TEXT NOT NULL DEFAULT '',
			subject           TEXT NOT NULL DEFAULT '',
			received_at       INTEGER NOT NULL,
			status            TEXT NOT NULL,
			priority          TEXT NOT NULL,
			rule_urgent       INTEGER NOT NULL DEFAULT 0,
			category          TEXT NOT NULL DEFAULT '',
			sentiment         TEXT NOT NULL DEFAULT '',
			message           TEXT NOT NULL,
			analysis          TEXT,
			analysis_degraded INTEGER NOT NULL DEFAULT 0,
			analysis_error    TEXT NOT NULL DEFAULT '',
			extraction        TEXT,
			draft             TEXT,
			responded_by      TEXT NOT NULL DEFAULT '',
			responded_at      INTEGER,
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_triage_status ON triage_records(status);`,
		`CREATE INDEX IF NOT EXISTS idx_triage_priority_received ON triage_records(priority, received_at);`,
		`CREATE INDEX IF NOT EXISTS idx_triage_category ON triage_records(category);`,
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

const sqliteSelect = `
	SELECT message, status, priority, rule_urgent, analysis, analysis_degraded,
	       analysis_error, extraction, draft, responded_by, responded_at,
	       created_at, updated_at
	FROM triage_records`

func (s *SQLite) Get(ctx context.Context, id string) (*models.TriageRecord, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelect+` WHERE message_id = ?`, id)
	r, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *SQLite) Save(ctx context.Context, rec *models.TriageRecord) error {
	docs, err := encodeDocuments(rec)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var stored string
	err = tx.QueryRowContext(ctx, `SELECT status FROM triage_records WHERE message_id = ?`, rec.ID()).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read record status: %w", err)
	default:
		if err := checkTransition(models.Status(stored), rec.Status); err != nil {
			return err
		}
	}

	var respondedAt any
	if rec.RespondedAt != nil {
		respondedAt = rec.RespondedAt.UnixNano()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO triage_records
			(message_id, source, sender, subject, received_at, status, priority,
			 rule_urgent, category, sentiment, message, analysis, analysis_degraded,
			 analysis_error, extraction, draft, responded_by, responded_at,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			status            = excluded.status,
			priority          = excluded.priority,
			rule_urgent       = excluded.rule_urgent,
			category          = excluded.category,
			sentiment         = excluded.sentiment,
			message           = excluded.message,
			analysis          = excluded.analysis,
			analysis_degraded = excluded.analysis_degraded,
			analysis_error    = excluded.analysis_error,
			extraction        = excluded.extraction,
			draft             = excluded.draft,
			responded_by      = excluded.responded_by,
			responded_at      = excluded.responded_at,
			updated_at        = excluded.updated_at;`,
		rec.ID(), rec.Message.Source, rec.Message.From.Address, rec.Message.Subject,
		rec.Message.ReceivedAt.UnixNano(), string(rec.Status), string(rec.Priority), rec.RuleUrgent,
		string(categoryOf(rec)), string(sentimentOf(rec)), string(docs.message), nullText(docs.analysis),
		rec.AnalysisDegraded, rec.AnalysisError, nullText(docs.extraction), nullText(docs.draft),
		rec.RespondedBy, respondedAt, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) List(ctx context.Context, q Query) ([]*models.TriageRecord, error) {
	clause, args := listClause(q, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, sqliteSelect+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TriageRecord
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, priority, category, sentiment, COUNT(*)
		FROM triage_records
		GROUP BY status, priority, category, sentiment`)
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

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*models.TriageRecord, error) {
	var (
		r                           models.TriageRecord
		message                     string
		analysis, extraction, draft sql.NullString
		status, priority            string
		respondedAt                 sql.NullInt64
		createdAt, updatedAt        int64
	)
	err := row.Scan(
		&message, &status, &priority, &r.RuleUrgent, &analysis, &r.AnalysisDegraded,
		&r.AnalysisError, &extraction, &draft, &r.RespondedBy, &respondedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = models.Status(status)
	r.Priority = models.Priority(priority)
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if respondedAt.Valid {
		t := time.Unix(0, respondedAt.Int64).UTC()
		r.RespondedAt = &t
	}

	docs := documents{message: []byte(message)}
	if analysis.Valid {
		docs.analysis = []byte(analysis.String)
	}
	if extraction.Valid {
		docs.extraction = []byte(extraction.String)
	}
	if draft.Valid {
		docs.draft = []byte(draft.String)
	}
	if err := docs.decodeInto(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
