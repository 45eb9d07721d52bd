package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kubo-market/anomaly-sentinel/internal/alert"
	"github.com/kubo-market/anomaly-sentinel/internal/domain"
)

const defaultHistoryLimit = 50

// MetricsResetter is reset alongside the alert history on clear.
type MetricsResetter interface {
	ResetMetrics()
}

// AlertHandler exposes the alert dispatcher.
type AlertHandler struct {
	d      *alert.Dispatcher
	stream MetricsResetter
}

// NewAlertHandler creates a new AlertHandler. stream may be nil.
func NewAlertHandler(d *alert.Dispatcher, stream MetricsResetter) *AlertHandler {
	return &AlertHandler{d: d, stream: stream}
}

func (h *AlertHandler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/alerts", func(r chi.Router) {
		r.Post("/", h.Send)
		r.Get("/", h.History)
		r.Delete("/", h.Clear)
		r.Get("/metrics", h.Metrics)
		r.Put("/channels/{name}", h.ConfigureChannel)
		r.Patch("/rules/{name}", h.ConfigureRule)
		r.Post("/test", h.Test)
		r.Post("/export", h.Export)
	})
}

type sendAlertRequest struct {
	Level   string         `json:"level"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// Send handles POST /v1/alerts
func (h *AlertHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendAlertRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	level, err := domain.ParseLevel(req.Level)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	sent, err := h.d.Send(level, req.Title, req.Message, req.Details)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// A suppressed or rate-limited alert is a normal outcome, not an error.
	writeJSON(w, http.StatusOK, map[string]any{"sent": sent})
}

// History handles GET /v1/alerts?limit=&level=&since=
func (h *AlertHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := alert.HistoryQuery{Limit: limit}

	if v := r.URL.Query().Get("level"); v != "" {
		level, err := domain.ParseLevel(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Level = level
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		q.Since = since
	}

	alerts := h.d.History(q)
	writeJSON(w, http.StatusOK, map[string]any{"count": len(alerts), "alerts": alerts})
}

// Metrics handles GET /v1/alerts/metrics
func (h *AlertHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Metrics())
}

type channelRequest struct {
	Enabled *bool `json:"enabled"`
}

// ConfigureChannel handles PUT /v1/alerts/channels/{name}
func (h *AlertHandler) ConfigureChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req channelRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusUnprocessableEntity, "enabled is required")
		return
	}
	if !h.d.ConfigureChannel(name, *req.Enabled) {
		writeError(w, http.StatusNotFound, domain.ErrUnknownChannel.Error()+": "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": name, "enabled": *req.Enabled})
}

// ConfigureRule handles PATCH /v1/alerts/rules/{name}
func (h *AlertHandler) ConfigureRule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var patch alert.RulePatch
	if err := decodeJSON(r, &patch, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !h.d.ConfigureRule(name, patch) {
		writeError(w, http.StatusUnprocessableEntity, "unknown rule or invalid patch for "+name)
		return
	}
	writeJSON(w, http.StatusOK, h.d.Rules())
}

// Test handles POST /v1/alerts/test?level=
func (h *AlertHandler) Test(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("level")
	if raw == "" {
		raw = string(domain.LevelInfo)
	}
	level, err := domain.ParseLevel(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.d.TestAlert(level)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Clear handles DELETE /v1/alerts. It empties the alert history and zeroes
// both the alert and the stream counters.
func (h *AlertHandler) Clear(w http.ResponseWriter, r *http.Request) {
	n := h.d.ClearHistory()
	if h.stream != nil {
		h.stream.ResetMetrics()
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

type exportRequest struct {
	Filename string `json:"filename"`
}

// Export handles POST /v1/alerts/export
func (h *AlertHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	path, err := h.d.Export(req.Filename)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidFilename) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}
