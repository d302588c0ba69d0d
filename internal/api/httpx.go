package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"ledgermark/internal/services"
	"ledgermark/internal/sessions"
)

const requestIDHeader = "X-Request-Id"

// ErrorBody is the payload of a rejected request.
type ErrorBody struct {
	RequestID string      `json:"request_id"`
	Error     ErrorDetail `json:"error"`
}

// ErrorDetail describes why a request was rejected.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewRequestID returns a correlation id for one HTTP request.
func NewRequestID() string { return "req_" + uuid.NewString() }

func requestID(r *http.Request) string {
	if id, ok := services.RequestIDFromContext(r.Context()); ok {
		return id
	}
	return NewRequestID()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeJSON(w, status, ErrorBody{
		RequestID: requestID(r),
		Error:     ErrorDetail{Code: code, Message: message, Details: details},
	})
}

// statusFor maps a rejected request to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, services.ErrDuplicateContent):
		return http.StatusConflict, "duplicate_content"
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusServiceUnavailable, "configuration"
	case errors.Is(err, services.ErrSigningUnavailable):
		return http.StatusServiceUnavailable, "signing_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := services.Details(err).Message
	if status == http.StatusNotFound {
		message = err.Error()
	}
	writeError(w, r, status, code, message, nil)
}
