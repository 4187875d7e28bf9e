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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
	"github.com/adhiiiii6389/email-analysis-bot/internal/store"
)

// OrderEntry is one analysed record in a summary's processing order.
type OrderEntry struct {
	MessageID  string          `json:"message_id"`
	Priority   models.Priority `json:"priority"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Summary reports the outcome of one batch run.
//
// Total counts distinct messages seen: FilteredIn + FilteredOut +
// Duplicates. Every filtered-in message ends Analyzed, Abandoned (left
// pending for a later run) or counted in FailedAnalysis.
type Summary struct {
	RunID  string            `json:"run_id"`
	Window mailsource.Window `json:"window"`

	Total          int `json:"count_total"`
	FilteredIn     int `json:"count_filtered_in"`
	FilteredOut    int `json:"count_filtered_out"`
	Analyzed       int `json:"count_analyzed"`
	Urgent         int `json:"count_urgent"`
	FailedAnalysis int `json:"count_failed_analysis"`
	Duplicates     int `json:"count_duplicates"`
	Resumed        int `json:"count_resumed"`
	Abandoned      int `json:"count_abandoned"`

	// ProcessingOrder lists analysed records urgent first, then oldest
	// first.
	ProcessingOrder []OrderEntry `json:"processing_order"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// RunBatch ingests and processes every message the source yields for w,
// after first resuming records an earlier run left pending.
//
// Per-record analysis failures are counted, never returned. A store or
// source failure aborts the batch: records already committed stay valid and
// the partial summary is returned with the error.
func (o *Orchestrator) RunBatch(ctx context.Context, w mailsource.Window) (*Summary, error) {
	if o.source == nil {
		return nil, errors.New("run batch: no mail source configured")
	}

	s := &Summary{
		RunID:     uuid.NewString(),
		Window:    w,
		StartedAt: o.now(),
	}
	log := slog.With("run_id", s.RunID)
	log.Info("batch started", "window_start", w.Start, "window_end", w.End)

	queue, err := o.collect(ctx, w, s)
	if err != nil {
		for _, rec := range queue {
			o.Abandon(ctx, rec)
		}
		return o.finish(s, log, err)
	}

	// Rule-urgent records go first; the classifier has not run yet.
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].RuleUrgent != queue[j].RuleUrgent {
			return queue[i].RuleUrgent
		}
		return queue[i].Message.ReceivedAt.Before(queue[j].Message.ReceivedAt)
	})

	dispatchCtx := ctx
	if o.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, o.opts.BatchTimeout)
		defer cancel()
	}

	var processed []*models.TriageRecord
	undispatched, err := runPool(ctx, dispatchCtx, queue, o.opts.Workers, o.Process,
		func(res poolResult[*models.TriageRecord, *models.TriageRecord]) error {
			switch {
			case res.Err == nil:
				rec := res.Output
				processed = append(processed, rec)
				s.Analyzed++
				if rec.Priority == models.PriorityUrgent {
					s.Urgent++
				}
				if rec.AnalysisDegraded {
					s.FailedAnalysis++
				}
				return nil
			case errors.Is(res.Err, ErrStoreUnavailable):
				return res.Err
			case errors.Is(res.Err, ErrInFlight):
				s.FailedAnalysis++
				log.Warn("claim taken by another runner", "message_id", res.Input.ID())
				return nil
			default:
				s.FailedAnalysis++
				log.Error("record processing failed",
					"message_id", res.Input.ID(),
					"error", res.Err,
				)
				return nil
			}
		})

	s.Abandoned = len(undispatched)
	o.abandon(ctx, undispatched, err == nil, log)

	pos := make(map[string]int, len(queue))
	for i, rec := range queue {
		pos[rec.ID()] = i
	}
	sort.Slice(processed, func(i, j int) bool {
		return pos[processed[i].ID()] < pos[processed[j].ID()]
	})
	s.ProcessingOrder = processingOrder(processed)
	return o.finish(s, log, err)
}

// collect resumes stored pending records, then drains the source. It
// returns the claimed, filter-accepted records to process. Stored records
// passed the filter when first seen and are not filtered again.
func (o *Orchestrator) collect(ctx context.Context, w mailsource.Window, s *Summary) ([]*models.TriageRecord, error) {
	var queue []*models.TriageRecord
	seen := make(map[string]bool)

	accept := func(msg models.Message, stored bool) error {
		s.Total++
		rec, err := o.Ingest(ctx, msg)
		switch {
		case errors.Is(err, ErrDuplicateMessage):
			s.Duplicates++
			return nil
		case errors.Is(err, ErrStoreUnavailable):
			return err
		case err != nil:
			s.FilteredOut++
			slog.Warn("message skipped", "message_id", msg.ID, "error", err)
			return nil
		}
		if !stored && !o.filter.Matches(rec.Message) {
			s.FilteredOut++
			o.Abandon(ctx, rec)
			return nil
		}
		rec.RuleUrgent = o.urgency.IsUrgent(rec.Message)
		s.FilteredIn++
		queue = append(queue, rec)
		return nil
	}

	pending, err := o.store.List(ctx, store.Query{Status: models.StatusPending})
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w: %v", ErrStoreUnavailable, err)
	}
	for _, p := range pending {
		seen[p.ID()] = true
		before := len(queue)
		if err := accept(p.Message, true); err != nil {
			return queue, err
		}
		if len(queue) > before {
			s.Resumed++
		}
	}

	for msg, err := range o.source.Fetch(ctx, w) {
		if err != nil {
			return queue, fmt.Errorf("fetch messages: %w", err)
		}
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		if err := accept(msg, false); err != nil {
			return queue, err
		}
	}
	return queue, nil
}

// abandon releases records that were never started. When the store is
// healthy they are saved as pending so the next run resumes them.
func (o *Orchestrator) abandon(ctx context.Context, recs []*models.TriageRecord, persist bool, log *slog.Logger) {
	for _, rec := range recs {
		if persist {
			if err := o.store.Save(context.WithoutCancel(ctx), rec); err != nil {
				log.Warn("could not keep abandoned record pending",
					"message_id", rec.ID(),
					"error", err,
				)
			}
		}
		o.Abandon(ctx, rec)
	}
	if len(recs) > 0 {
		log.Warn("records not started", "abandoned", len(recs), "kept_pending", persist)
	}
}

func (o *Orchestrator) finish(s *Summary, log *slog.Logger, err error) (*Summary, error) {
	s.Elapsed = o.now().Sub(s.StartedAt)
	attrs := []any{
		"total", s.Total,
		"filtered_in", s.FilteredIn,
		"analyzed", s.Analyzed,
		"urgent", s.Urgent,
		"failed_analysis", s.FailedAnalysis,
		"duplicates", s.Duplicates,
		"resumed", s.Resumed,
		"abandoned", s.Abandoned,
		"elapsed", s.Elapsed,
	}
	if err != nil {
		log.Error("batch aborted", append(attrs, "error", err)...)
		return s, err
	}
	log.Info("batch complete", attrs...)
	return s, nil
}

// processingOrder is a stable sort by (priority desc, received asc) over
// records in dispatch order.
func processingOrder(recs []*models.TriageRecord) []OrderEntry {
	out := make([]OrderEntry, len(recs))
	for i, r := range recs {
		out[i] = OrderEntry{MessageID: r.ID(), Priority: r.Priority, ReceivedAt: r.Message.ReceivedAt}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}
