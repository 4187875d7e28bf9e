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

// Package pipeline moves messages through the triage state machine:
//
//	pending -[analyse + extract]-> analyzed -[operator confirms]-> responded
//
// At most one caller may work on a message at a time. The in-flight guard
// enforces this across goroutines and processes, and the store refuses any
// write that would move a record's status backwards.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhiiiii6389/email-analysis-bot/internal/analysis"
	"github.com/adhiiiii6389/email-analysis-bot/internal/dedup"
	"github.com/adhiiiii6389/email-analysis-bot/internal/extract"
	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
	"github.com/adhiiiii6389/email-analysis-bot/internal/store"
)

var (
	// ErrDuplicateMessage means the message already has a record past
	// pending, or another caller is processing it. Ingestion is a no-op.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrFiltered means the keyword filter rejected the message. Nothing
	// is stored.
	ErrFiltered = errors.New("message rejected by keyword filter")

	// ErrStoreUnavailable wraps record store and guard failures. It is
	// fatal for a batch.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidTransition means the requested operation does not apply
	// to the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInFlight means another caller holds the record's claim.
	ErrInFlight = errors.New("record is being processed")
)

// Filter decides whether a message enters the pipeline.
type Filter interface {
	Matches(msg models.Message) bool
}

// Analyzer classifies message text. On failure it returns the fallback
// result together with the error.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (models.AnalysisResult, error)
}

// Drafter produces a reply draft. It always returns a usable draft.
type Drafter interface {
	Draft(ctx context.Context, msg models.Message, a models.AnalysisResult, ex models.ExtractionResult) models.ResponseDraft
}

// Urgency is the keyword rule half of the priority union.
type Urgency interface {
	IsUrgent(msg models.Message) bool
}

// Deps are the collaborators an Orchestrator drives. Source may be nil for
// callers that never run batches.
type Deps struct {
	Filter   Filter
	Analyzer Analyzer
	Drafter  Drafter
	Store    store.Store
	Guard    dedup.Guard
	Source   mailsource.Source
	Urgency  Urgency
}

// Options tunes batch execution.
type Options struct {
	// Workers bounds how many records are processed at once.
	Workers int
	// BatchTimeout stops dispatching new records once elapsed. Records
	// already started run to completion. Zero disables it.
	BatchTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Orchestrator runs the triage pipeline.
type Orchestrator struct {
	filter   Filter
	analyzer Analyzer
	drafter  Drafter
	store    store.Store
	guard    dedup.Guard
	source   mailsource.Source
	urgency  Urgency
	opts     Options
}

// New creates an orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	var missing []string
	if deps.Filter == nil {
		missing = append(missing, "filter")
	}
	if deps.Analyzer == nil {
		missing = append(missing, "analyzer")
	}
	if deps.Drafter == nil {
		missing = append(missing, "drafter")
	}
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if deps.Guard == nil {
		missing = append(missing, "guard")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing dependencies: %s", strings.Join(missing, ", "))
	}
	if deps.Urgency == nil {
		deps.Urgency = analysis.NewUrgencyRule(analysis.DefaultUrgentTerms)
	}
	return &Orchestrator{
		filter:   deps.Filter,
		analyzer: deps.Analyzer,
		drafter:  deps.Drafter,
		store:    deps.Store,
		guard:    deps.Guard,
		source:   deps.Source,
		urgency:  deps.Urgency,
		opts:     opts.withDefaults(),
	}, nil
}

// Ingest claims a message for processing. It returns a pending record: the
// stored one when an earlier run left it pending, otherwise a new one that
// is not persisted until Process accepts it. The record carries the claim
// token; the caller holds the claim until Process returns or it calls
// Abandon.
func (o *Orchestrator) Ingest(ctx context.Context, msg models.Message) (*models.TriageRecord, error) {
	if strings.TrimSpace(msg.ID) == "" {
		return nil, errors.New("ingest: message has no id")
	}

	token, ok, err := o.guard.Claim(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w: %v", msg.ID, ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("ingest %s: %w", msg.ID, ErrDuplicateMessage)
	}

	existing, err := o.store.Get(ctx, msg.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec := models.NewPendingRecord(msg, o.now())
		rec.ClaimToken = token
		return rec, nil
	case err != nil:
		o.release(ctx, msg.ID, token)
		return nil, fmt.Errorf("lookup %s: %w: %v", msg.ID, ErrStoreUnavailable, err)
	case existing.Status != models.StatusPending:
		o.release(ctx, msg.ID, token)
		return nil, fmt.Errorf("ingest %s: %w", msg.ID, ErrDuplicateMessage)
	}

	slog.Debug("resuming pending record", "message_id", msg.ID)
	existing.ClaimToken = token
	return existing, nil
}

// Process takes an ingested pending record to analyzed with a stored draft
// and returns the final record. It first refreshes the claim taken by
// Ingest, or claims the record itself when it carries no token, and
// releases the claim on return. A degraded analysis still completes; the
// record carries the fallback result and AnalysisDegraded.
func (o *Orchestrator) Process(ctx context.Context, rec *models.TriageRecord) (*models.TriageRecord, error) {
	token, err := o.hold(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer o.release(ctx, rec.ID(), token)

	if rec.Status != models.StatusPending {
		return nil, fmt.Errorf("process %s from %s: %w", rec.ID(), rec.Status, ErrInvalidTransition)
	}
	if !o.filter.Matches(rec.Message) {
		stored, err := o.stored(ctx, rec.ID())
		if err != nil {
			return nil, err
		}
		if !stored {
			return nil, fmt.Errorf("process %s: %w", rec.ID(), ErrFiltered)
		}
		slog.Debug("keyword filter no longer matches stored record; processing it anyway",
			"message_id", rec.ID(),
		)
	}

	rec = rec.Clone()
	rec.ClaimToken = ""
	rec.RuleUrgent = o.urgency.IsUrgent(rec.Message)
	if rec.RuleUrgent {
		rec.Priority = models.PriorityUrgent
	}
	rec.UpdatedAt = o.now()
	if err := o.save(ctx, rec); err != nil {
		return nil, err
	}

	text := rec.Message.Text()

	var ex models.ExtractionResult
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ex = extract.Extract(text)
	}()
	result, err := o.analyzer.Analyze(ctx, text)
	wg.Wait()

	if err != nil {
		rec.AnalysisDegraded = true
		rec.AnalysisError = err.Error()
		slog.Warn("analysis degraded to fallback",
			"message_id", rec.ID(),
			"error", err,
		)
	}
	rec.Analysis = &result
	rec.Extraction = &ex
	rec.Priority = analysis.CombinePriority(rec.RuleUrgent, result.Priority)
	rec.Status = models.StatusAnalyzed

	d := o.drafter.Draft(ctx, rec.Message, result, ex)
	d.Status = models.DraftStored
	rec.Draft = &d
	rec.UpdatedAt = o.now()

	if err := o.save(ctx, rec); err != nil {
		return nil, err
	}

	slog.Info("record analyzed",
		"message_id", rec.ID(),
		"priority", rec.Priority,
		"category", result.Category,
		"sentiment", result.Sentiment,
		"degraded", rec.AnalysisDegraded,
		"templated_draft", d.Templated,
	)
	return rec, nil
}

// MarkResponded records that an operator handled an analyzed record.
// Marking a responded record again is a no-op that returns it unchanged.
func (o *Orchestrator) MarkResponded(ctx context.Context, id, operator string) (*models.TriageRecord, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil, errors.New("mark responded: operator is required")
	}

	rec, release, err := o.claimStored(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	switch rec.Status {
	case models.StatusResponded:
		return rec, nil
	case models.StatusAnalyzed:
	default:
		return nil, fmt.Errorf("mark %s responded from %s: %w", id, rec.Status, ErrInvalidTransition)
	}

	now := o.now()
	rec.Status = models.StatusResponded
	rec.RespondedBy = operator
	rec.RespondedAt = &now
	rec.UpdatedAt = now
	if err := o.save(ctx, rec); err != nil {
		return nil, err
	}

	slog.Info("record marked responded", "message_id", id, "operator", operator)
	return rec, nil
}

// Redraft regenerates the draft of an analyzed record. The status does not
// change.
func (o *Orchestrator) Redraft(ctx context.Context, id string) (*models.TriageRecord, error) {
	rec, release, err := o.claimStored(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if rec.Status != models.StatusAnalyzed || rec.Analysis == nil {
		return nil, fmt.Errorf("redraft %s from %s: %w", id, rec.Status, ErrInvalidTransition)
	}

	ex := extract.Extract(rec.Message.Text())
	if rec.Extraction != nil {
		ex = *rec.Extraction
	}
	d := o.drafter.Draft(ctx, rec.Message, *rec.Analysis, ex)
	d.Status = models.DraftStored
	rec.Draft = &d
	rec.UpdatedAt = o.now()
	if err := o.save(ctx, rec); err != nil {
		return nil, err
	}

	slog.Info("record redrafted", "message_id", id, "templated_draft", d.Templated)
	return rec, nil
}

// claimStored claims id and loads its record. The returned func releases
// the claim.
func (o *Orchestrator) claimStored(ctx context.Context, id string) (*models.TriageRecord, func(), error) {
	token, ok, err := o.guard.Claim(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("claim %s: %w: %v", id, ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("claim %s: %w", id, ErrInFlight)
	}
	release := func() { o.release(ctx, id, token) }

	rec, err := o.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		release()
		return nil, nil, fmt.Errorf("get %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("get %s: %w: %v", id, ErrStoreUnavailable, err)
	}
	return rec, release, nil
}

func (o *Orchestrator) save(ctx context.Context, rec *models.TriageRecord) error {
	err := o.store.Save(ctx, rec)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrStatusRegression):
		return fmt.Errorf("save %s as %s: %w", rec.ID(), rec.Status, ErrInvalidTransition)
	default:
		return fmt.Errorf("save %s: %w: %v", rec.ID(), ErrStoreUnavailable, err)
	}
}

// stored reports whether id already has a record. A stored pending record
// passed the filter on an earlier run.
func (o *Orchestrator) stored(ctx context.Context, id string) (bool, error) {
	_, err := o.store.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("lookup %s: %w: %v", id, ErrStoreUnavailable, err)
	}
}

// hold makes sure the caller owns rec's claim for the whole of Process. A
// claim that expired while the record waited for a worker is retaken unless
// another caller got there first.
func (o *Orchestrator) hold(ctx context.Context, rec *models.TriageRecord) (string, error) {
	if rec.ClaimToken == "" {
		token, ok, err := o.guard.Claim(ctx, rec.ID())
		if err != nil {
			return "", fmt.Errorf("claim %s: %w: %v", rec.ID(), ErrStoreUnavailable, err)
		}
		if !ok {
			return "", fmt.Errorf("process %s: %w", rec.ID(), ErrInFlight)
		}
		return token, nil
	}

	ok, err := o.guard.Refresh(ctx, rec.ID(), rec.ClaimToken)
	if err != nil {
		return "", fmt.Errorf("refresh claim %s: %w: %v", rec.ID(), ErrStoreUnavailable, err)
	}
	if !ok {
		return "", fmt.Errorf("process %s: claim lost: %w", rec.ID(), ErrInFlight)
	}
	return rec.ClaimToken, nil
}

// Abandon releases the claim Ingest took for rec without processing it.
func (o *Orchestrator) Abandon(ctx context.Context, rec *models.TriageRecord) {
	o.release(ctx, rec.ID(), rec.ClaimToken)
}

// release drops a claim even when ctx is already cancelled. A failed
// release is logged; the claim TTL eventually frees the message.
func (o *Orchestrator) release(ctx context.Context, id, token string) {
	if err := o.guard.Release(context.WithoutCancel(ctx), id, token); err != nil {
		slog.Warn("release claim failed", "message_id", id, "error", err)
	}
}

func (o *Orchestrator) now() time.Time {
	return o.opts.Now().UTC()
}
