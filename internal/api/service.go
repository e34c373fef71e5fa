package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/Capitan-Parrot/waste-sorter/internal/models"
	"github.com/Capitan-Parrot/waste-sorter/internal/runner"
)

type Controller interface {
	Status() runner.Status
	Control(action models.ControlAction) error
}

type Journal interface {
	ListActuations(ctx context.Context, limit int) ([]models.ActuationEvent, error)
}

type Handlers struct {
	runner  Controller
	journal Journal
}

// NewHandlers builds the API handlers. journal may be nil.
func NewHandlers(r Controller, journal Journal) *Handlers {
	return &Handlers{runner: r, journal: journal}
}

// Router registers every endpoint.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", h.GetStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/actuations", h.ListActuationsHandler).Methods(http.MethodGet)
	r.HandleFunc("/control", h.ControlHandler).Methods(http.MethodPost)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("Error writing response: %v", err)
	}
}
