package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/mcphost/internal/mcp"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid input")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var result ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, ErrCodeInvalidRequest, result.Error.Code)
	assert.Equal(t, "Invalid input", result.Error.Message)
	assert.Nil(t, result.Error.Details)
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	writeSuccess(w)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
}

func TestNotImplemented(t *testing.T) {
	w := httptest.NewRecorder()
	notImplemented(w)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	var result ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "NOT_IMPLEMENTED", result.Error.Code)
}

func TestClassify(t *testing.T) {
	ec := mcp.ErrorContext{Server: "git", SourcePath: "/home/alice/.mcp.json", SourceLayer: "project"}
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"server not found", fmt.Errorf("%w: git", mcp.ErrServerNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"skill not found", fmt.Errorf("%w: git_log", mcp.ErrSkillNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"exists", fmt.Errorf("%w: git", mcp.ErrServerExists), http.StatusConflict, ErrCodeConflict},
		{"not connected", mcp.ErrNotConnected, http.StatusConflict, ErrCodeConflict},
		{"config", &mcp.ConfigError{Context: ec, Field: "url", Problem: "bad"}, http.StatusBadRequest, ErrCodeConfig},
		{"transport", &mcp.TransportError{Context: ec, Kind: mcp.TransportRefused, Err: errors.New("refused")}, http.StatusBadGateway, ErrCodeTransport},
		{"protocol", &mcp.ProtocolError{Context: ec, Method: "tools/list", Code: mcp.CodeMethodNotFound}, http.StatusBadGateway, ErrCodeProtocol},
		{"canceled", context.Canceled, http.StatusGatewayTimeout, ErrCodeCanceled},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteMCPError_Details(t *testing.T) {
	w := httptest.NewRecorder()
	writeMCPError(w, &mcp.ConfigError{
		Context: mcp.ErrorContext{Server: "git", SourcePath: "/home/alice/.mcp.json", SourceLayer: "project"},
		Field:   "command",
		Problem: "must not be empty",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var result ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "git", result.Error.Details["server"])
	assert.Equal(t, "project config /home/<user>/.mcp.json", result.Error.Details["source"])
	diag, _ := result.Error.Details["diagnostic"].(string)
	assert.Contains(t, diag, "/home/<user>/.mcp.json")
	assert.NotContains(t, diag, "alice")

	w = httptest.NewRecorder()
	writeMCPError(w, errors.New("plain"))
	result = ErrorResponse{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Nil(t, result.Error.Details)
}
