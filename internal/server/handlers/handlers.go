// Package handlers implements HTTP request handlers for the tally ops API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dwsmith1983/tally/internal/progress"
	"github.com/dwsmith1983/tally/internal/provider"
	"github.com/dwsmith1983/tally/internal/quota"
)

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers read from. Any of them may be nil;
// the matching endpoints then report 503.
type Deps struct {
	Store       Pinger
	Metrics     provider.MetricsReader
	Checkpoints provider.CheckpointStore
	Tracker     *quota.Tracker
	Latest      *progress.Latest
	Logger      *slog.Logger
}

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	store       Pinger
	metrics     provider.MetricsReader
	checkpoints provider.CheckpointStore
	tracker     *quota.Tracker
	latest      *progress.Latest
	logger      *slog.Logger
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handlers{
		store:       d.Store,
		metrics:     d.Metrics,
		checkpoints: d.Checkpoints,
		tracker:     d.Tracker,
		latest:      d.Latest,
		logger:      d.Logger,
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}
