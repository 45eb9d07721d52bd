package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
	"github.com/kubo-market/anomaly-sentinel/internal/service"
)

const defaultEventsLimit = 50

// StreamHandler exposes the stream processor controls.
type StreamHandler struct {
	proc *service.StreamProcessor
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(proc *service.StreamProcessor) *StreamHandler {
	return &StreamHandler{proc: proc}
}

func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/stream", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Get("/status", h.Status)
		r.Get("/events", h.Events)
		r.Get("/report", h.Report)
		r.Put("/rules/{name}", h.SetRule)
		r.Post("/simulate", h.Simulate)
	})
}

// Start handles POST /v1/stream/start
func (h *StreamHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.proc.Start() {
		writeJSON(w, http.StatusConflict, map[string]any{"started": false, "error": "stream processing already running"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"started": true})
}

// Stop handles POST /v1/stream/stop. The loop finishes its current tick
// before halting, so the response may precede the actual stop.
func (h *StreamHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if !h.proc.Stop() {
		writeJSON(w, http.StatusConflict, map[string]any{"stopping": false, "error": "stream processing not running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"stopping": true})
}

// Status handles GET /v1/stream/status
func (h *StreamHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.proc.Status())
}

// Events handles GET /v1/stream/events?limit=
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultEventsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := h.proc.RecentEvents(limit)
	writeJSON(w, http.StatusOK, map[string]any{"count": len(events), "events": events})
}

type setRuleRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetRule handles PUT /v1/stream/rules/{name}
func (h *StreamHandler) SetRule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req setRuleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusUnprocessableEntity, "enabled is required")
		return
	}
	if !h.proc.SetRuleEnabled(name, *req.Enabled) {
		writeError(w, http.StatusNotFound, domain.ErrUnknownRule.Error()+": "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule": name, "enabled": *req.Enabled})
}

type simulateRequest struct {
	RecordName  string `json:"record_name"`
	AnomalyKind string `json:"anomaly_kind"`
}

// Simulate handles POST /v1/stream/simulate
func (h *StreamHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RecordName == "" || req.AnomalyKind == "" {
		writeError(w, http.StatusUnprocessableEntity, "record_name and anomaly_kind are required")
		return
	}

	res, err := h.proc.Simulate(r.Context(), req.RecordName, service.AnomalyKind(req.AnomalyKind))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownAnomalyKind):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, domain.ErrRecordNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}
