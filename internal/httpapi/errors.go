package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/CShear/regen-compute-credits/pkg/logger"
	"go.uber.org/zap"
)

// Kind is the closed error-kind set from spec §7.
type Kind string

const (
	KindInvalidRequest     Kind = "INVALID_REQUEST"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindNotFound           Kind = "NOT_FOUND"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindInternalError      Kind = "INTERNAL_ERROR"
	KindVerificationFailed Kind = "VERIFICATION_FAILED"
)

var statusForKind = map[Kind]int{
	KindInvalidRequest:     http.StatusBadRequest,
	KindUnauthorized:       http.StatusUnauthorized,
	KindNotFound:           http.StatusNotFound,
	KindRateLimited:        http.StatusTooManyRequests,
	KindServiceUnavailable: http.StatusServiceUnavailable,
	KindInternalError:      http.StatusInternalServerError,
	KindVerificationFailed: http.StatusBadRequest,
}

// apiError is the closed envelope every non-2xx response uses (spec §7):
// {error: {code, message, details?}}.
type apiError struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeError(w http.ResponseWriter, kind Kind, message string, details any) {
	status, ok := statusForKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if kind == KindInternalError {
		logger.Error("httpapi: internal error", zap.String("message", message))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: apiError{Kind: kind, Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("httpapi: failed to encode response", zap.Error(err))
	}
}
