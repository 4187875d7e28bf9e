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

// Package api serves the operator HTTP interface: read access to triage
// records and statistics, and the authenticated actions an operator takes
// after reviewing a draft.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
	"github.com/adhiiiii6389/email-analysis-bot/internal/pipeline"
	"github.com/adhiiiii6389/email-analysis-bot/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Operator performs record transitions.
type Operator interface {
	MarkResponded(ctx context.Context, id, operator string) (*models.TriageRecord, error)
	Redraft(ctx context.Context, id string) (*models.TriageRecord, error)
}

// Check is a named dependency check for /health.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler serves the API routes.
type Handler struct {
	records  store.Store
	operator Operator
	auth     *Authenticator
	checks   []Check
}

// NewHandler creates the API handler. The store is always health-checked;
// extra checks are appended.
func NewHandler(records store.Store, operator Operator, auth *Authenticator, checks ...Check) *Handler {
	all := append([]Check{{Name: "store", Ping: records.Ping}}, checks...)
	return &Handler{
		records:  records,
		operator: operator,
		auth:     auth,
		checks:   all,
	}
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /records", h.listRecords)
	mux.HandleFunc("GET /records/{id}", h.getRecord)
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("POST /records/{id}/responded", h.auth.RequireOperator(h.markResponded))
	mux.HandleFunc("POST /records/{id}/redraft", h.auth.RequireOperator(h.redraft))
	return mux
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			slog.Warn("health check failed", "check", c.Name, "error", err)
			results[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[c.Name] = "ok"
	}
	writeJSON(w, status, map[string]any{
		"status": http.StatusText(status),
		"checks": results,
	})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.records.List(r.Context(), q)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", pipeline.ErrStoreUnavailable, err))
		return
	}
	if recs == nil {
		recs = []*models.TriageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Get(r.Context(), r.PathValue("id"))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		err = fmt.Errorf("%w: %v", pipeline.ErrStoreUnavailable, err)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.records.Stats(r.Context())
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", pipeline.ErrStoreUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) markResponded(w http.ResponseWriter, r *http.Request) {
	rec, err := h.operator.MarkResponded(r.Context(), r.PathValue("id"), OperatorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) redraft(w http.ResponseWriter, r *http.Request) {
	rec, err := h.operator.Redraft(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInvalidTransition), errors.Is(err, pipeline.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func parseQuery(r *http.Request) (store.Query, error) {
	v := r.URL.Query()
	q := store.Query{Limit: defaultListLimit}
	var err error

	if s := v.Get("status"); s != "" {
		if q.Status, err = models.ParseStatus(s); err != nil {
			return q, err
		}
	}
	if s := v.Get("priority"); s != "" {
		if q.Priority, err = models.ParsePriority(s); err != nil {
			return q, err
		}
	}
	if s := v.Get("category"); s != "" {
		if q.Category, err = models.ParseCategory(s); err != nil {
			return q, err
		}
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("invalid limit %q", s)
		}
		q.Limit = min(n, maxListLimit)
	}
	return q, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Serve starts the API server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// accepting connections. The server closes when ctx is cancelled.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind api port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("api server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
	}()

	return ready, nil
}
