package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/opencode-ai/mcphost/internal/mcp"
	"github.com/opencode-ai/mcphost/internal/server"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// RequestOption configures HTTP requests
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithQuery adds query parameters
func WithQuery(params map[string]string) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		r.URL.RawQuery = q.Encode()
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, opts...)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body, opts...)
}

// Delete performs HTTP DELETE request
func (c *TestClient) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, opts...)
}

// do performs the actual HTTP request
func (c *TestClient) do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	fullURL := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// ---- MCP Helpers ----

// CallerHeader scopes a request to one caller.
func CallerHeader(caller string) RequestOption {
	return WithHeader(server.HeaderCallerID, caller)
}

// ListServers returns the status of every registered server.
func (c *TestClient) ListServers(ctx context.Context) ([]mcp.ServerStatus, error) {
	var out []mcp.ServerStatus
	return out, c.expect(ctx, http.MethodGet, "/mcp", nil, http.StatusOK, &out)
}

// GetServer returns the status of one server.
func (c *TestClient) GetServer(ctx context.Context, name string) (*mcp.ServerStatus, error) {
	var out mcp.ServerStatus
	return &out, c.expect(ctx, http.MethodGet, "/mcp/"+url.PathEscape(name), nil, http.StatusOK, &out)
}

// AddServer connects a server from a config-file style entry.
func (c *TestClient) AddServer(ctx context.Context, name, owner string, entry map[string]any) (*mcp.ServerStatus, error) {
	var out mcp.ServerStatus
	body := server.AddServerRequest{Name: name, Owner: owner}
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	body.Config = raw
	return &out, c.expect(ctx, http.MethodPost, "/mcp", body, http.StatusCreated, &out)
}

// RemoveServer disconnects a server.
func (c *TestClient) RemoveServer(ctx context.Context, name string) error {
	return c.expect(ctx, http.MethodDelete, "/mcp/"+url.PathEscape(name), nil, http.StatusOK, nil)
}

// ListTools returns the skills visible to the caller set by opts.
func (c *TestClient) ListTools(ctx context.Context, opts ...RequestOption) (*server.SkillsResponse, error) {
	var out server.SkillsResponse
	return &out, c.expect(ctx, http.MethodGet, "/mcp/tools", nil, http.StatusOK, &out, opts...)
}

// CallTool calls one skill with args.
func (c *TestClient) CallTool(ctx context.Context, id string, args any, opts ...RequestOption) (*server.CallResponse, error) {
	var out server.CallResponse
	return &out, c.expect(ctx, http.MethodPost, "/mcp/tool/"+url.PathEscape(id), args, http.StatusOK, &out, opts...)
}

// Reconnect replaces a server's connection.
func (c *TestClient) Reconnect(ctx context.Context, name string) (*mcp.ServerStatus, error) {
	var out mcp.ServerStatus
	return &out, c.expect(ctx, http.MethodPost, "/mcp/"+url.PathEscape(name)+"/reconnect", nil, http.StatusOK, &out)
}

// Reload asks the server to re-read its config files.
func (c *TestClient) Reload(ctx context.Context) (*server.ReloadResponse, error) {
	var out server.ReloadResponse
	return &out, c.expect(ctx, http.MethodPost, "/mcp/reload", nil, http.StatusOK, &out)
}

// StatusError is a response with an unexpected status code.
type StatusError struct {
	StatusCode int
	Detail     server.ErrorDetail
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (c *TestClient) expect(ctx context.Context, method, path string, body any, status int, out any, opts ...RequestOption) error {
	resp, err := c.do(ctx, method, path, body, opts...)
	if err != nil {
		return err
	}
	if resp.StatusCode != status {
		se := &StatusError{StatusCode: resp.StatusCode, Body: resp.String()}
		var er server.ErrorResponse
		if resp.JSON(&er) == nil {
			se.Detail = er.Error
		}
		return se
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}
