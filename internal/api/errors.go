package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes. Connection failures use the failure kind as code.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "unavailable"
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

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeConnectError maps a connect or probe failure onto an HTTP status:
// timeouts are 504, bad connection settings 400, anything the server or
// network refused 502.
func writeConnectError(w http.ResponseWriter, err error) {
	var ce *tds.ClassifiedError
	if !errors.As(err, &ce) {
		writeInternalError(w, err.Error())
		return
	}

	status := http.StatusBadGateway
	switch ce.Kind {
	case tds.KindTimeout:
		status = http.StatusGatewayTimeout
	case tds.KindInvalidConnection:
		status = http.StatusBadRequest
	}
	writeError(w, status, string(ce.Kind), ce.Error())
}
