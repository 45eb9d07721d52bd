package handler

import (
	"net/http"
)

// Pinger checks record source connectivity.
type Pinger interface {
	Ping() error
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	source Pinger
	name   string
}

// NewHealthHandler creates a new HealthHandler. name labels the record
// source in the response.
func NewHealthHandler(source Pinger, name string) *HealthHandler {
	return &HealthHandler{source: source, name: name}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.source.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":        "unhealthy",
			"record_source": h.name,
			"error":         err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "healthy",
		"record_source": h.name,
	})
}
