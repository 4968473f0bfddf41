package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/tally/pkg/types"
)

// Progress returns the latest run report.
func (h *Handlers) Progress(w http.ResponseWriter, r *http.Request) {
	if h.latest == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no run attached", nil)
		return
	}
	report, ok := h.latest.Get()
	if !ok {
		h.writeError(w, http.StatusNotFound, "no progress reported yet", nil)
		return
	}
	h.writeJSON(w, report)
}

// Quota returns the current rate tracker snapshot.
func (h *Handlers) Quota(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no rate tracker attached", nil)
		return
	}
	h.writeJSON(w, h.tracker.Snapshot())
}

// GetMetrics returns the stored record for an entity on a date.
func (h *Handlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no metrics store attached", nil)
		return
	}
	entity := chi.URLParam(r, "entityID")
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(types.DateLayout, date); err != nil {
		h.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD", nil)
		return
	}

	rec, err := h.metrics.GetMetrics(r.Context(), types.EntityID(entity), date)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to read metrics", err)
		return
	}
	if rec == nil {
		h.writeError(w, http.StatusNotFound, "metrics not found", nil)
		return
	}
	h.writeJSON(w, rec)
}

// GetCheckpoint returns the last completed date of a backfill job.
func (h *Handlers) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	if h.checkpoints == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no checkpoint store attached", nil)
		return
	}
	job := chi.URLParam(r, "job")
	date, ok, err := h.checkpoints.GetCheckpoint(r.Context(), job)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to read checkpoint", err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "checkpoint not found", nil)
		return
	}
	h.writeJSON(w, map[string]string{"job": job, "date": date})
}
