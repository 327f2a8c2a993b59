package api

import (
	"net/http"

	"github.com/cureliah/backend/internal/app"
)

// ReportErrorHandler ingests a client-side error report. Public and rate limited.
func (h *Handlers) ReportErrorHandler(w http.ResponseWriter, r *http.Request) {
	var in app.ErrorReportInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if in.UserAgent == "" {
		in.UserAgent = r.UserAgent()
	}
	report, err := h.monitoring.ReportError(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "report_error", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": report.ID})
}

// RecordPerformanceHandler ingests one web-vitals sample.
func (h *Handlers) RecordPerformanceHandler(w http.ResponseWriter, r *http.Request) {
	var in app.PerformanceInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	metric, err := h.monitoring.RecordPerformance(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "record_performance", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": metric.ID})
}

// SendEmailHandler sends one templated email for internal callers and admins.
func (h *Handlers) SendEmailHandler(w http.ResponseWriter, r *http.Request) {
	var in app.SendEmailInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id, err := h.email.Send(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "send_email", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}
