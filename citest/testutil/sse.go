package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HeartbeatEvent is the type recorded for SSE comment lines.
const HeartbeatEvent = "heartbeat"

// ErrStreamClosed is returned by waits once the stream has ended.
var ErrStreamClosed = errors.New("event stream closed")

// SSEEvent is one event read from GET /mcp/events, unwrapped from its
// {"type", "data"} envelope.
type SSEEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ServerEventData is the payload of mcp.server.* and mcp.tools.* events
type ServerEventData struct {
	Server       string `json:"server"`
	ConnectionID string `json:"connectionId"`
	State        string `json:"state"`
	ToolCount    int    `json:"toolCount"`
	Error        string `json:"error"`
}

// ParseServerEvent parses server event data
func (evt *SSEEvent) ParseServerEvent() (*ServerEventData, error) {
	var data ServerEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SSEClient reads an event stream in the background and records every
// event it sees.
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu     sync.Mutex
	events []SSEEvent
	next   int
	notify chan struct{}
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// NewSSEClient creates a new SSE test client
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Connect opens the stream at path and starts reading it.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected content type: %s", ct)
	}

	go func() {
		defer resp.Body.Close()
		c.read(bufio.NewScanner(resp.Body))
	}()
	return nil
}

func (c *SSEClient) read(sc *bufio.Scanner) {
	var name string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				c.record(parseEvent(name, data.String()))
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			c.record(SSEEvent{Type: HeartbeatEvent})
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	c.mu.Lock()
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		c.err = err
	}
	c.mu.Unlock()
	close(c.done)
}

func (c *SSEClient) record(evt SSEEvent) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// parseEvent unwraps the envelope every bus event is sent in. Frames that
// are not an envelope keep the SSE event name.
func parseEvent(name, data string) SSEEvent {
	var env SSEEvent
	if err := json.Unmarshal([]byte(data), &env); err == nil && env.Type != "" {
		return env
	}
	return SSEEvent{Type: name, Data: json.RawMessage(data)}
}

// WaitForEvent returns the next unconsumed event of the given type. Events
// of other types before it are consumed.
func (c *SSEClient) WaitForEvent(eventType string, timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		c.mu.Lock()
		for c.next < len(c.events) {
			evt := c.events[c.next]
			c.next++
			if evt.Type == eventType {
				c.mu.Unlock()
				return &evt, nil
			}
		}
		err := c.err
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.done:
			// drain anything recorded before close
			c.mu.Lock()
			pending := c.next < len(c.events)
			c.mu.Unlock()
			if pending {
				continue
			}
			if err != nil {
				return nil, err
			}
			return nil, ErrStreamClosed
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event: %s", eventType)
		}
	}
}

// WaitForHeartbeat waits for a heartbeat comment.
func (c *SSEClient) WaitForHeartbeat(timeout time.Duration) error {
	_, err := c.WaitForEvent(HeartbeatEvent, timeout)
	return err
}

// CollectEvents waits for d and returns every event not yet consumed.
func (c *SSEClient) CollectEvents(d time.Duration) []SSEEvent {
	select {
	case <-time.After(d):
	case <-c.done:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]SSEEvent(nil), c.events[c.next:]...)
	c.next = len(c.events)
	return out
}

// GetAllEvents returns all received events
func (c *SSEClient) GetAllEvents() []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SSEEvent(nil), c.events...)
}

// Close ends the stream.
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}
