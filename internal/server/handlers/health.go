package handlers

import (
	"net/http"
)

// Health returns the server health status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn("health check ping failed", "error", err)
			status = "degraded"
		}
	}
	h.writeJSON(w, map[string]string{"status": status})
}
