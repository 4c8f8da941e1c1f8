package httpapi

import (
	"net/http"
	"strings"
)

const monthSummaryPrefix = "/api/v1/dashboard/months/"
const certificatePrefix = "/api/v1/dashboard/certificates/"

// matchMonthSummary returns the "YYYY-MM" path segment, or "" if path
// doesn't match the month-summary route.
func matchMonthSummary(path string) string {
	if !strings.HasPrefix(path, monthSummaryPrefix) {
		return ""
	}
	return strings.TrimPrefix(path, monthSummaryPrefix)
}

// matchCertificate returns the certificate id path segment, or "" if path
// doesn't match the certificate route.
func matchCertificate(path string) string {
	if !strings.HasPrefix(path, certificatePrefix) {
		return ""
	}
	return strings.TrimPrefix(path, certificatePrefix)
}

func (h *Handler) handleMonthSummary(w http.ResponseWriter, r *http.Request, month string) {
	if month == "" {
		writeError(w, KindInvalidRequest, "month is required", nil)
		return
	}
	view, err := h.Dashboard.MonthSummary(r.Context(), month)
	if err != nil {
		writeError(w, KindInternalError, "failed to load month summary", nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleBatchHistory(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	creditType := r.URL.Query().Get("creditType")
	if month == "" || creditType == "" {
		writeError(w, KindInvalidRequest, "month and creditType query params are required", nil)
		return
	}
	views, err := h.Dashboard.BatchHistory(r.Context(), month, creditType)
	if err != nil {
		writeError(w, KindInternalError, "failed to load batch history", nil)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleCertificate(w http.ResponseWriter, r *http.Request, certificateID string) {
	if certificateID == "" {
		writeError(w, KindInvalidRequest, "certificate id is required", nil)
		return
	}
	view, err := h.Dashboard.Certificate(r.Context(), certificateID)
	if err != nil {
		writeError(w, KindNotFound, "no certificate with that id", nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
