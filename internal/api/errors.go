package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/dispatch"
	"github.com/nerrad567/firewatch-core/internal/ingest"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeConflict          = "conflict"
	ErrCodeInternal          = "internal_error"
	ErrCodeValidation        = "validation_error"
	ErrCodeDeviceNotFound    = "device_not_found"
	ErrCodeThresholdInvalid  = "threshold_invalid"
	ErrCodeDeviceUnreachable = "device_unreachable"
	ErrCodeUnsupportedMode   = "unsupported_mode"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a domain error onto its HTTP status. Errors with no
// mapping are logged and reported as 500 without detail.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeDeviceNotFound, "device not found")
	case errors.Is(err, device.ErrThresholdInvalid):
		writeError(w, http.StatusBadRequest, ErrCodeThresholdInvalid, err.Error())
	case errors.Is(err, dispatch.ErrDeviceUnreachable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeDeviceUnreachable, "device unreachable")
	case errors.Is(err, dispatch.ErrUnsupportedMode):
		writeError(w, http.StatusBadRequest, ErrCodeUnsupportedMode, err.Error())
	case errors.Is(err, dispatch.ErrInvalidMode),
		errors.Is(err, ingest.ErrInvalidSample),
		errors.Is(err, device.ErrInvalidDevice):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device code already exists")
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeInternalError(w, "internal server error")
	}
}
