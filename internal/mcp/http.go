package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// HTTP header names used by the streamable HTTP transport.
const (
	HeaderSessionID       = "Mcp-Session-Id"
	HeaderProtocolVersion = "MCP-Protocol-Version"
	acceptHeader          = "application/json, text/event-stream"
)

// HTTPTransport posts JSON-RPC messages to a remote endpoint.
type HTTPTransport struct {
	cfg    ServerConfig
	opts   transportOptions
	log    zerolog.Logger
	client *http.Client
	retry  RetryPolicy
	d      *dispatcher

	mu              sync.RWMutex
	sessionID       string
	protocolVersion string

	started   atomic.Bool
	connected atomic.Bool
	closeOnce sync.Once
}

// headerRoundTripper adds configured headers to every request.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}

func (h *headerRoundTripper) CloseIdleConnections() {
	if c, ok := h.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// NewHTTPTransport returns an unconnected transport for cfg. Redirects are
// never followed, whatever client is supplied.
func NewHTTPTransport(cfg ServerConfig, opts ...TransportOption) *HTTPTransport {
	o := defaultTransportOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger.With().Str("mcp_server", cfg.Name).Str("transport", "http").Logger()

	var client http.Client
	if o.httpClient != nil {
		client = *o.httpClient
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if len(cfg.Headers) > 0 {
		client.Transport = &headerRoundTripper{base: base, headers: cfg.Headers}
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &HTTPTransport{
		cfg:             cfg,
		opts:            o,
		log:             log,
		client:          &client,
		retry:           NewRetryPolicy(cfg.maxRetries(), cfg.retryBackoff()),
		d:               newDispatcher(log, o.queueSize),
		protocolVersion: LatestProtocolVersion,
	}
}

// ErrorContext describes the server.
func (t *HTTPTransport) ErrorContext() ErrorContext {
	return t.cfg.errorContext()
}

func (t *HTTPTransport) transportErr(kind TransportErrorKind, op string, err error) *TransportError {
	return &TransportError{Context: t.ErrorContext(), Kind: kind, Op: op, Err: err}
}

// Connect prepares the transport. No request is made until the handshake.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return errors.New("http transport already started")
	}
	if err := ctx.Err(); err != nil {
		return t.transportErr(TransportTimeout, "connect", err)
	}
	t.connected.Store(true)
	return nil
}

// SetProtocolVersion records the negotiated revision for the version header.
func (t *HTTPTransport) SetProtocolVersion(v string) {
	t.mu.Lock()
	t.protocolVersion = v
	t.mu.Unlock()
}

// SessionID returns the session id issued by the server, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

func (t *HTTPTransport) newRequest(ctx context.Context, method string, body []byte) (*http.Request, string, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.cfg.URL, rdr)
	if err != nil {
		return nil, "", err
	}
	t.mu.RLock()
	session, version := t.sessionID, t.protocolVersion
	t.mu.RUnlock()

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", acceptHeader)
	if version != "" {
		req.Header.Set(HeaderProtocolVersion, version)
	}
	if session != "" {
		req.Header.Set(HeaderSessionID, session)
	}
	return req, session, nil
}

// post performs one attempt and classifies failures.
func (t *HTTPTransport) post(ctx context.Context, op string, body []byte) (*http.Response, error) {
	req, session, err := t.newRequest(ctx, http.MethodPost, body)
	if err != nil {
		return nil, t.transportErr(TransportIO, op, err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.classifyDoError(ctx, op, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode == http.StatusNotFound && session != "" {
		return nil, t.transportErr(TransportSessionExpired, op, fmt.Errorf("session %s rejected", session))
	}
	te := t.transportErr(TransportHTTPStatus, op, nil)
	te.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		te.Err = fmt.Errorf("redirect to %q not followed", resp.Header.Get("Location"))
	case len(bytes.TrimSpace(excerpt)) > 0:
		te.Err = errors.New(strings.TrimSpace(string(excerpt)))
	default:
		te.Err = errors.New(http.StatusText(resp.StatusCode))
	}
	return nil, te
}

func (t *HTTPTransport) classifyDoError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return t.transportErr(TransportTimeout, op, ctxErr)
		}
		return ctxErr
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return t.transportErr(TransportRefused, op, err)
	}
	return t.transportErr(TransportIO, op, err)
}

// exchange posts body with the retry policy and captures the session id.
func (t *HTTPTransport) exchange(ctx context.Context, op string, body []byte) (*http.Response, error) {
	var (
		resp    *http.Response
		attempt int
	)
	err := t.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		r, err := t.post(ctx, op, body)
		if err != nil {
			t.log.Debug().Err(err).Int("attempt", attempt).Str("op", op).Msg("mcp http attempt failed")
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) && te.Kind == TransportSessionExpired {
			t.markBroken(te)
		}
		return nil, err
	}
	if id := resp.Header.Get(HeaderSessionID); id != "" {
		t.mu.Lock()
		if t.sessionID != id {
			t.sessionID = id
			t.log.Debug().Msg("captured mcp session id")
		}
		t.mu.Unlock()
	}
	return resp, nil
}

func (t *HTTPTransport) markBroken(err *TransportError) {
	if t.connected.CompareAndSwap(true, false) {
		t.log.Warn().Err(err).Msg("mcp http session expired")
	}
	t.d.fail(err)
}

// consume delivers every message in a response body. It stops early once
// answered reports true so a long-lived event stream does not block the
// caller.
func (t *HTTPTransport) consume(op string, resp *http.Response, answered func() bool) error {
	defer resp.Body.Close()

	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch ct {
	case "text/event-stream":
		sse := newSSEReader(resp.Body, t.opts.maxFrameSize)
		for {
			ev, err := sse.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				if errors.Is(err, errFrameTooLarge) {
					return t.transportErr(TransportFrameTooLarge, op, err)
				}
				return t.transportErr(TransportIO, op, err)
			}
			if ev.Event != "" && ev.Event != "message" {
				continue
			}
			if err := t.deliverFrame(op, ev.Data); err != nil {
				return err
			}
			if answered() {
				return nil
			}
		}
	case "application/json", "":
		body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.opts.maxFrameSize)+1))
		if err != nil {
			return t.transportErr(TransportIO, op, err)
		}
		if len(body) > t.opts.maxFrameSize {
			return t.transportErr(TransportFrameTooLarge, op, errFrameTooLarge)
		}
		return t.deliverFrame(op, body)
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return t.transportErr(TransportMalformedFrame, op, fmt.Errorf("unexpected content type %q", ct))
	}
}

func (t *HTTPTransport) deliverFrame(op string, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	msgs, err := decodeBatch(data)
	if err != nil {
		te := t.transportErr(TransportMalformedFrame, op, err)
		te.Frame = &FrameError{Line: 1, Snippet: snippet(data, 120)}
		var se *json.SyntaxError
		if errors.As(err, &se) {
			te.Frame.Column = se.Offset
		}
		return te
	}
	for _, m := range msgs {
		t.d.deliver(m)
	}
	return nil
}

func (t *HTTPTransport) checkOpen(op string) error {
	if t.IsConnected() {
		return nil
	}
	if err := t.d.err(); err != nil {
		return err
	}
	return t.transportErr(TransportClosed, op, ErrNotConnected)
}

// Send posts a notification or reply.
func (t *HTTPTransport) Send(ctx context.Context, msg Message) error {
	if err := t.checkOpen("send"); err != nil {
		return err
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	resp, err := t.exchange(ctx, "send", data)
	if err != nil {
		return err
	}
	return t.consume("send", resp, func() bool { return false })
}

// Request posts a request and reads the answer from the JSON body or event
// stream of the same HTTP exchange.
func (t *HTTPTransport) Request(ctx context.Context, method string, params any) (*Response, error) {
	if err := t.checkOpen(method); err != nil {
		return nil, err
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	id, ch, err := t.d.register()
	if err != nil {
		return nil, err
	}
	data, err := EncodeMessage(&Request{ID: NumericID(id), Method: method, Params: raw})
	if err != nil {
		t.d.forget(id)
		return nil, err
	}

	resp, err := t.exchange(ctx, method, data)
	if err != nil {
		t.d.forget(id)
		return nil, err
	}
	if err := t.consume(method, resp, func() bool { return len(ch) > 0 }); err != nil {
		t.d.forget(id)
		return nil, err
	}

	select {
	case msg := <-ch:
		return responseOf(t.ErrorContext(), method, msg)
	default:
	}
	// The exchange is over; nothing else can answer this id.
	t.d.forget(id)
	return nil, t.transportErr(TransportIO, method, errors.New("response ended without an answer"))
}

// Receive returns the next server notification or request.
func (t *HTTPTransport) Receive(ctx context.Context) (Message, error) {
	return t.d.inbound.pop(ctx)
}

// IsConnected reports whether the transport is usable.
func (t *HTTPTransport) IsConnected() bool {
	return t.connected.Load() && !t.d.isClosed()
}

// Close ends the session on the server, best effort, and fails pending
// requests.
func (t *HTTPTransport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		if session := t.SessionID(); session != "" {
			if req, _, err := t.newRequest(ctx, http.MethodDelete, nil); err == nil {
				if resp, err := t.client.Do(req); err == nil {
					_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
					resp.Body.Close()
				}
			}
		}
		t.d.fail(t.transportErr(TransportClosed, "", nil))
		t.client.CloseIdleConnections()
	})
	return nil
}
