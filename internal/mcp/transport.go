package mcp

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/mcphost/internal/logging"
	"github.com/opencode-ai/mcphost/internal/proc"
)

// MaxFrameSize caps a single stdio line and a single HTTP response body.
const MaxFrameSize = 10 << 20

// DefaultQueueSize bounds buffered inbound notifications per connection.
const DefaultQueueSize = 256

// Transport is a bidirectional JSON-RPC channel to one server.
type Transport interface {
	// Connect establishes the channel: spawns the process or prepares the
	// HTTP client. It does not perform the handshake.
	Connect(ctx context.Context) error
	// Send writes a notification or a reply without waiting for an answer.
	Send(ctx context.Context, msg Message) error
	// Request sends method with params and waits for the correlated
	// response. A JSON-RPC error answer is returned as *ProtocolError.
	Request(ctx context.Context, method string, params any) (*Response, error)
	// Receive returns the next inbound notification or server request.
	Receive(ctx context.Context) (Message, error)
	// IsConnected is a cheap, non-blocking liveness check.
	IsConnected() bool
	// Close tears the channel down, failing every pending request.
	Close(ctx context.Context) error
	// ErrorContext describes the server for diagnostics.
	ErrorContext() ErrorContext
}

// TransportOption configures a transport.
type TransportOption func(*transportOptions)

type transportOptions struct {
	logger       zerolog.Logger
	queueSize    int
	maxFrameSize int
	strategy     proc.Strategy
	grace        time.Duration
	httpClient   *http.Client
	goos         string
	lookupEnv    func(string) (string, bool)
}

func defaultTransportOptions() transportOptions {
	return transportOptions{
		logger:       logging.Component("mcp"),
		queueSize:    DefaultQueueSize,
		maxFrameSize: MaxFrameSize,
		strategy:     proc.Default(),
		grace:        proc.DefaultGrace,
		goos:         runtime.GOOS,
		lookupEnv:    lookupEnv,
	}
}

// WithLogger sets the logger used by the transport.
func WithLogger(l zerolog.Logger) TransportOption {
	return func(o *transportOptions) { o.logger = l }
}

// WithQueueSize bounds the inbound notification queue.
func WithQueueSize(n int) TransportOption {
	return func(o *transportOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithMaxFrameSize overrides MaxFrameSize.
func WithMaxFrameSize(n int) TransportOption {
	return func(o *transportOptions) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

// WithTerminateStrategy overrides the process termination strategy.
func WithTerminateStrategy(s proc.Strategy, grace time.Duration) TransportOption {
	return func(o *transportOptions) {
		o.strategy = s
		if grace > 0 {
			o.grace = grace
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its redirect policy is
// overridden so redirects are never followed.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(o *transportOptions) { o.httpClient = c }
}

// NewTransport builds the transport selected by cfg.
func NewTransport(cfg ServerConfig, opts ...TransportOption) Transport {
	if cfg.Transport() == TransportHTTP {
		return NewHTTPTransport(cfg, opts...)
	}
	return NewStdioTransport(cfg, opts...)
}
