package handler

import (
	"net/http"
)

// Report handles GET /v1/stream/report, a summary of the buffered event log.
func (h *StreamHandler) Report(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.proc.Report())
}
