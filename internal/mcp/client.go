package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/mcphost/internal/logging"
)

// maxListPages bounds tools/list pagination against servers that never stop
// returning a cursor.
const maxListPages = 1000

// replyTimeout bounds how long answering a server-initiated request may take.
const replyTimeout = 5 * time.Second

// DefaultClientInfo identifies this host in the initialize handshake.
var DefaultClientInfo = Implementation{Name: "mcphost", Version: "1.0.0"}

// NotificationHandler receives server notifications other than the ones the
// client consumes itself.
type NotificationHandler func(ctx context.Context, n *Notification)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientInfo sets the identity sent in initialize.
func WithClientInfo(info Implementation) ClientOption {
	return func(c *Client) { c.info = info }
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithRequestTimeout sets the deadline applied to requests whose context
// has none.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithNotificationHandler adds a handler for inbound notifications.
func WithNotificationHandler(h NotificationHandler) ClientOption {
	return func(c *Client) { c.handlers = append(c.handlers, h) }
}

// Client speaks the MCP protocol over one Transport. It is single-use: a
// reconnect builds a new Client on a new Transport.
type Client struct {
	name      string
	transport Transport
	info      Implementation
	timeout   time.Duration
	log       zerolog.Logger
	handlers  []NotificationHandler

	mu           sync.RWMutex
	state        State
	initResult   *InitializeResult
	toolsChanged func()

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	closeOnce  sync.Once
}

// NewClient returns a client for the named server over t.
func NewClient(name string, t Transport, opts ...ClientOption) *Client {
	c := &Client{
		name:      name,
		transport: t,
		info:      DefaultClientInfo,
		timeout:   DefaultTimeout,
		log:       logging.Component("mcp"),
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("mcp_server", name).Logger()
	return c
}

// Name returns the server name.
func (c *Client) Name() string { return c.name }

// Transport returns the underlying transport.
func (c *Client) Transport() Transport { return c.transport }

// State returns the connection state, first downgrading it to stale if the
// transport has died since the last check.
func (c *Client) State() State {
	c.IsConnected()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// InitializeResult returns the server's handshake answer, or nil before
// Initialize succeeds.
func (c *Client) InitializeResult() *InitializeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initResult
}

// OnToolsChanged registers fn to run when the server announces that its
// tool list changed. Only one callback is kept.
func (c *Client) OnToolsChanged(fn func()) {
	c.mu.Lock()
	c.toolsChanged = fn
	c.mu.Unlock()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("mcp client state")
	}
}

// markStale moves a live connection to stale. Closed clients stay
// disconnected.
func (c *Client) markStale() {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateHandshaked, StateActive:
		c.state = StateStale
		c.mu.Unlock()
		c.log.Warn().Msg("mcp connection is stale")
		return
	}
	c.mu.Unlock()
}

// Connect opens the transport and starts the receive loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected || c.loopDone != nil {
		c.mu.Unlock()
		return fmt.Errorf("mcp server %q: client already used", c.name)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.transport.Connect(ctx); err != nil {
		c.setState(StateFailed)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.loopCancel = cancel
	c.loopDone = make(chan struct{})
	c.mu.Unlock()
	go c.receiveLoop(loopCtx)
	return nil
}

// Initialize performs the handshake and sends notifications/initialized.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	if s := c.State(); s != StateConnecting {
		return nil, fmt.Errorf("mcp server %q: cannot initialize in state %s", c.name, s)
	}

	params := InitializeParams{
		ProtocolVersion: LatestProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.info,
	}
	var result InitializeResult
	if err := c.call(ctx, MethodInitialize, params, &result); err != nil {
		return nil, err
	}
	if !supportedVersion(result.ProtocolVersion) {
		return nil, &ProtocolError{
			Context: c.transport.ErrorContext(),
			Method:  MethodInitialize,
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("unsupported protocol version %q", result.ProtocolVersion),
		}
	}
	if v, ok := c.transport.(interface{ SetProtocolVersion(string) }); ok {
		v.SetProtocolVersion(result.ProtocolVersion)
	}

	// No params field at all: some servers reject an empty object here.
	if err := c.transport.Send(ctx, &Notification{Method: NotificationInitialized}); err != nil {
		c.noteFailure(err)
		return nil, err
	}

	c.mu.Lock()
	c.initResult = &result
	c.state = StateHandshaked
	c.mu.Unlock()

	c.log.Debug().
		Str("server_name", result.ServerInfo.Name).
		Str("server_version", result.ServerInfo.Version).
		Str("protocol", result.ProtocolVersion).
		Msg("mcp handshake complete")
	return &result, nil
}

// ListTools fetches every page of tools/list. A successful listing moves a
// handshaked connection to active.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var (
		tools  []Tool
		cursor string
		seen   = make(map[string]bool)
	)
	for page := 0; ; page++ {
		if page >= maxListPages {
			return nil, c.protocolErr(MethodToolsList, fmt.Sprintf("more than %d pages", maxListPages))
		}
		var params any
		if cursor != "" {
			params = ListToolsParams{Cursor: cursor}
		}
		var result ListToolsResult
		if err := c.call(ctx, MethodToolsList, params, &result); err != nil {
			return nil, err
		}
		tools = append(tools, result.Tools...)

		if result.NextCursor == "" {
			break
		}
		if seen[result.NextCursor] {
			return nil, c.protocolErr(MethodToolsList, fmt.Sprintf("cursor %q repeated", result.NextCursor))
		}
		seen[result.NextCursor] = true
		cursor = result.NextCursor
	}

	c.mu.Lock()
	if c.state == StateHandshaked {
		c.state = StateActive
	}
	c.mu.Unlock()
	return tools, nil
}

// CallTool invokes a tool. A result with IsError set is returned as a
// result, not an error; a JSON-RPC error answer is a *ProtocolError and a
// connection fault a *TransportError.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error) {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	var result ToolResult
	if err := c.call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, nil)
}

// IsConnected reports whether the transport is alive. A dead transport moves
// the client to stale.
func (c *Client) IsConnected() bool {
	if c.transport.IsConnected() {
		return true
	}
	c.markStale()
	return false
}

// Close stops the receive loop and closes the transport.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateDisconnected)
		err = c.transport.Close(ctx)

		c.mu.RLock()
		cancel, done := c.loopCancel, c.loopDone
		c.mu.RUnlock()
		if cancel != nil {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
		}
	})
	return err
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.transport.Request(ctx, method, params)
	if err != nil {
		c.noteFailure(err)
		return err
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return c.protocolErr(method, "invalid result: "+err.Error())
	}
	return nil
}

func (c *Client) protocolErr(method, msg string) *ProtocolError {
	return &ProtocolError{
		Context: c.transport.ErrorContext(),
		Method:  method,
		Code:    CodeInternalError,
		Message: msg,
	}
}

func (c *Client) noteFailure(err error) {
	if IsTransportError(err) && !c.transport.IsConnected() {
		c.markStale()
	}
}

func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.loopDone)
	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Debug().Err(err).Msg("mcp receive loop ended")
				c.markStale()
			}
			return
		}
		switch m := msg.(type) {
		case *Request:
			c.reply(ctx, m)
		case *Notification:
			c.notify(ctx, m)
		}
	}
}

// reply answers a server-initiated request. Only ping is supported.
func (c *Client) reply(ctx context.Context, req *Request) {
	var answer Message
	if req.Method == MethodPing {
		answer = &Response{ID: req.ID, Result: json.RawMessage("{}")}
	} else {
		answer = &ErrorResponse{ID: req.ID, Error: RPCError{
			Code:    CodeMethodNotFound,
			Message: "method not found: " + req.Method,
		}}
	}
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if err := c.transport.Send(ctx, answer); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn().Err(err).Str("method", req.Method).Msg("failed to answer server request")
	}
}

func (c *Client) notify(ctx context.Context, n *Notification) {
	if n.Method == NotificationToolsListChanged {
		c.mu.RLock()
		fn := c.toolsChanged
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	}
	if len(c.handlers) == 0 {
		c.log.Debug().Str("method", n.Method).Msg("mcp notification")
		return
	}
	for _, h := range c.handlers {
		h(ctx, n)
	}
}
