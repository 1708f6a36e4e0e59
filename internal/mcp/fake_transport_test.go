package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// fakeTransport answers requests from a handler function and records every
// message sent through it.
type fakeTransport struct {
	name   string
	handle func(method string, params json.RawMessage) (any, error)

	mu         sync.Mutex
	sent       []Message
	methods    []string
	connectErr error

	connected atomic.Bool
	inbound   chan Message
	dead      chan struct{}
	deadOnce  sync.Once
	closes    atomic.Int32
}

func newFakeTransport(name string, handle func(method string, params json.RawMessage) (any, error)) *fakeTransport {
	return &fakeTransport{
		name:    name,
		handle:  handle,
		inbound: make(chan Message, 16),
		dead:    make(chan struct{}),
	}
}

// echoHandshake answers initialize like a well-behaved server and delegates
// everything else to next.
func echoHandshake(next func(method string, params json.RawMessage) (any, error)) func(string, json.RawMessage) (any, error) {
	return func(method string, params json.RawMessage) (any, error) {
		if method == MethodInitialize {
			return InitializeResult{
				ProtocolVersion: LatestProtocolVersion,
				Capabilities:    ServerCapabilities{Tools: &ToolsCapability{ListChanged: true}},
				ServerInfo:      Implementation{Name: "fake", Version: "0.0.1"},
			}, nil
		}
		if next == nil {
			return map[string]any{}, nil
		}
		return next(method, params)
	}
}

func (f *fakeTransport) ErrorContext() ErrorContext {
	return ErrorContext{Server: f.name, Command: []string{"fake-server"}}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected.Store(true)
	return nil
}

func (f *fakeTransport) closedErr() error {
	return &TransportError{Context: f.ErrorContext(), Kind: TransportClosed}
}

func (f *fakeTransport) Send(ctx context.Context, msg Message) error {
	if !f.IsConnected() {
		return f.closedErr()
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Request(ctx context.Context, method string, params any) (*Response, error) {
	if !f.IsConnected() {
		return nil, f.closedErr()
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.methods = append(f.methods, method)
	f.sent = append(f.sent, &Request{Method: method, Params: raw})
	f.mu.Unlock()

	result, err := f.handle(method, raw)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{ID: NumericID(1), Result: data}, nil
}

func (f *fakeTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case m := <-f.inbound:
		return m, nil
	case <-f.dead:
		return nil, f.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) IsConnected() bool { return f.connected.Load() }

// kill simulates the server dying underneath the client.
func (f *fakeTransport) kill() {
	f.connected.Store(false)
	f.deadOnce.Do(func() { close(f.dead) })
}

func (f *fakeTransport) Close(ctx context.Context) error {
	f.closes.Add(1)
	f.kill()
	return nil
}

func (f *fakeTransport) sentMessages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

func (f *fakeTransport) requestedMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func (f *fakeTransport) countMethod(method string) int {
	n := 0
	for _, m := range f.requestedMethods() {
		if m == method {
			n++
		}
	}
	return n
}
