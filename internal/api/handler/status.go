// Package handler implements the status API endpoints.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/sdkqual/internal/api/response"
	"github.com/kiranshivaraju/sdkqual/internal/qualifier"
	"github.com/kiranshivaraju/sdkqual/internal/store"
	"github.com/kiranshivaraju/sdkqual/pkg/models"
)

// Pinger is a dependency whose reachability the health check reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusSource exposes the loop's current state.
type StatusSource interface {
	Status() qualifier.Status
}

// Waker ends the loop's post-run wait early.
type Waker interface {
	Wake() bool
}

// NewHealthHandler returns GET /api/v1/health. Each named dependency is
// pinged; any failure reports 503.
func NewHealthHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(deps))
		degraded := false
		for name, p := range deps {
			checks[name] = "ok"
			if err := p.Ping(r.Context()); err != nil {
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

// NewStatusHandler returns GET /api/v1/status.
func NewStatusHandler(src StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, src.Status())
	}
}

// NewRunsHandler returns GET /api/v1/runs. Runs are listed newest first and
// can be narrowed with ?status= and bounded with ?limit=.
func NewRunsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := store.RunFilter{Status: q.Get("status")}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be a positive integer", nil)
				return
			}
			filter.Limit = n
		}
		switch filter.Status {
		case "", models.RunStatusPassed, models.RunStatusFailed, models.RunStatusSkipped, models.RunStatusAborted:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of passed, failed, skipped, aborted", nil)
			return
		}

		runs, err := s.ListRuns(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list runs", nil)
			return
		}
		if runs == nil {
			runs = []*models.Run{}
		}

		response.Collection(w, runs, response.CollectionMeta{Limit: filter.Limit, Count: len(runs)})
	}
}

// NewWakeHandler returns POST /api/v1/wake. woken is false when the loop is
// not in its post-run wait or a wake is already pending.
func NewWakeHandler(wk Waker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.Accepted(w, map[string]bool{"woken": wk.Wake()})
	}
}
