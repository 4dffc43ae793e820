package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-hass/internal/hass"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeInternal           = "internal_error"
	ErrCodeMethodNotAllow     = "method_not_allowed"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeGatewayTimeout     = "gateway_timeout"
	ErrCodeBadGateway         = "bad_gateway"
	ErrCodeTooLarge           = "request_too_large"
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

// writeEngineError maps an engine error to a status code.
func writeEngineError(w http.ResponseWriter, err error) {
	var cmdErr *hass.CommandError
	switch {
	case errors.Is(err, hass.ErrEntityNotFound):
		writeNotFound(w, "entity not found")
	case errors.Is(err, hass.ErrResponseTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeGatewayTimeout, "home assistant did not respond in time")
	case errors.As(err, &cmdErr):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, cmdErr.Code+": "+cmdErr.Message)
	case errors.Is(err, hass.ErrCommandFailed):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	case errors.Is(err, hass.ErrNotConnected), errors.Is(err, hass.ErrConnectionLost):
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "not connected to home assistant")
	default:
		writeInternalError(w, "request failed")
	}
}
