package api

import (
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/Capitan-Parrot/waste-sorter/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// GetStatusHandler returns the runner status.
func (h *Handlers) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.runner.Status())
}

// ListActuationsHandler returns the newest journal entries.
func (h *Handlers) ListActuationsHandler(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "Journal is not configured", http.StatusNotFound)
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	events, err := h.journal.ListActuations(r.Context(), limit)
	if err != nil {
		log.Errorf("API: list actuations: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

// ControlHandler applies ?action=start|stop|reconnect.
func (h *Handlers) ControlHandler(w http.ResponseWriter, r *http.Request) {
	action := models.ControlAction(r.URL.Query().Get("action"))
	if !action.Valid() {
		http.Error(w, "action parameter is required (start/stop/reconnect)", http.StatusBadRequest)
		return
	}

	if err := h.runner.Control(action); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.runner.Status())
}
