package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencode-ai/mcphost/internal/mcp"
	"github.com/opencode-ai/mcphost/internal/sanitize"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeConfig         = "CONFIG_ERROR"
	ErrCodeTransport      = "TRANSPORT_ERROR"
	ErrCodeProtocol       = "PROTOCOL_ERROR"
	ErrCodeCanceled       = "CANCELED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// notImplemented writes a not implemented response.
func notImplemented(w http.ResponseWriter) {
	writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "This endpoint is not available")
}

// writeMCPError maps a registry error to a status and code. The message is
// the short error text; details carry the formatted diagnostic and the
// server's origin when known. Everything is sanitized.
func writeMCPError(w http.ResponseWriter, err error) {
	status, code := classify(err)

	var details map[string]any
	if ec, ok := mcp.ContextOf(err); ok {
		details = map[string]any{
			"server":     ec.Server,
			"diagnostic": mcp.FormatError(err),
		}
		if origin := ec.Origin(); origin != "" {
			details["source"] = sanitize.Text(origin)
		}
	}
	writeErrorWithDetails(w, status, code, sanitize.Text(err.Error()), details)
}

func classify(err error) (int, string) {
	var (
		ce *mcp.ConfigError
		te *mcp.TransportError
		pe *mcp.ProtocolError
	)
	switch {
	case errors.Is(err, mcp.ErrServerNotFound), errors.Is(err, mcp.ErrSkillNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, mcp.ErrServerExists), errors.Is(err, mcp.ErrNotConnected):
		return http.StatusConflict, ErrCodeConflict
	case errors.As(err, &ce):
		return http.StatusBadRequest, ErrCodeConfig
	case errors.As(err, &te):
		return http.StatusBadGateway, ErrCodeTransport
	case errors.As(err, &pe):
		return http.StatusBadGateway, ErrCodeProtocol
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeCanceled
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}
