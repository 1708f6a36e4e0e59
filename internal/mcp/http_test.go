package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// httpServer is a scripted streamable HTTP endpoint.
type httpServer struct {
	*httptest.Server
	hits    atomic.Int32
	deletes atomic.Int32

	mu      sync.Mutex
	headers []http.Header
}

func newHTTPServer(t *testing.T, post http.HandlerFunc) *httpServer {
	t.Helper()
	s := &httpServer{}
	r := chi.NewRouter()
	r.Post("/mcp", func(w http.ResponseWriter, req *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		s.headers = append(s.headers, req.Header.Clone())
		s.mu.Unlock()
		post(w, req)
	})
	r.Delete("/mcp", func(w http.ResponseWriter, req *http.Request) {
		s.deletes.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *httpServer) lastHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.headers) == 0 {
		return nil
	}
	return s.headers[len(s.headers)-1]
}

func decodeRequest(t *testing.T, r *http.Request) *Request {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	msg, err := DecodeMessage(body)
	require.NoError(t, err)
	req, _ := msg.(*Request)
	return req
}

func writeResult(w http.ResponseWriter, id RequestID, result string) {
	w.Header().Set("Content-Type", "application/json")
	data, _ := EncodeMessage(&Response{ID: id, Result: json.RawMessage(result)})
	_, _ = w.Write(data)
}

func httpConfig(url string, retries int) ServerConfig {
	return ServerConfig{
		Name:         "remote",
		URL:          url + "/mcp",
		MaxRetries:   &retries,
		RetryBackoff: time.Millisecond,
	}
}

func connectHTTP(t *testing.T, cfg ServerConfig) *HTTPTransport {
	t.Helper()
	tr := NewHTTPTransport(cfg, WithLogger(zerolog.Nop()))
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr
}

func TestHTTP_JSONResponseAndSession(t *testing.T) {
	srv := newHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set(HeaderSessionID, "sess-1")
		writeResult(w, req.ID, `{"tools":[]}`)
	})
	tr := connectHTTP(t, httpConfig(srv.URL, 0))

	resp, err := tr.Request(context.Background(), MethodToolsList, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(resp.Result))
	assert.Equal(t, "sess-1", tr.SessionID())

	h := srv.lastHeader()
	assert.Equal(t, "application/json, text/event-stream", h.Get("Accept"))
	assert.Equal(t, LatestProtocolVersion, h.Get(HeaderProtocolVersion))
	assert.Empty(t, h.Get(HeaderSessionID))

	tr.SetProtocolVersion("2025-03-26")
	require.NoError(t, tr.Send(context.Background(), &Notification{Method: NotificationInitialized}))
	h = srv.lastHeader()
	assert.Equal(t, "sess-1", h.Get(HeaderSessionID), "the session id is sent on every later request")
	assert.Equal(t, "2025-03-26", h.Get(HeaderProtocolVersion))
}

func TestHTTP_ConfiguredHeaders(t *testing.T) {
	srv := newHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, decodeRequest(t, r).ID, `{}`)
	})
	cfg := httpConfig(srv.URL, 0)
	cfg.Headers = map[string]string{"Authorization": "Bearer abc"}
	tr := connectHTTP(t, cfg)

	_, err := tr.Request(context.Background(), MethodPing, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", srv.lastHeader().Get("Authorization"))
}

func TestHTTP_EventStreamResponse(t *testing.T) {
	srv := newHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/tools/list_changed\"}\n\n")
		fmt.Fprintf(w, "id: 2\ndata: {\"jsonrpc\":\"2.0\",\"id\":%s,\n", req.ID)
		fmt.Fprint(w, "data: \"result\":{\"content\":[]}}\n\n")
	})
	tr := connectHTTP(t, httpConfig(srv.URL, 0))

	resp, err := tr.Request(context.Background(), MethodToolsCall, CallToolParams{Name: "x", Arguments: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[]}`, string(resp.Result))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, NotificationToolsListChanged, msg.(*Notification).Method)
}

func TestHTTP_RetriesTransientStatus(t *testing.T) {
	srv := newHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	})
	tr := connectHTTP(t, httpConfig(srv.URL, 2))

	_, err := tr.Request(context.Background(), MethodPing, nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TransportHTTPStatus, te.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Equal(t, int32(3), srv.hits.Load(), "one attempt plus two retries")
	assert.True(t, tr.IsConnected(), "a failed exchange leaves the transport usable")
}

func TestHTTP_RetryThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := newHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeResult(w, req.ID, `{}`)
	})
	tr := connectHTTP(t, httpConfig(srv.URL, 3))

	_, err := tr.Request(context.Background(), MethodPing, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestHTTP_NonTransientStatusNotRetried(t *testing.T) {
	srv := newHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such endpoint", http.StatusNotFound)
	})
	tr := connectHTTP(t, httpConfig(srv.URL, 3))

	_, err := tr.Request(context.Background(), MethodPing, nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TransportHTTPStatus, te.Kind)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestHTTP_SessionExpired(t *testing.T) {
	srv := newHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderSessionID) != "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set(HeaderSessionID, "sess-old")
		writeResult(w, decodeRequest(t, r).ID, `{}`)
	})
	tr := connectHTTP(t, httpConfig(srv.URL, 3))

	_, err := tr.Request(context.Background(), MethodPing, nil)
	require.NoError(t, err)

	_, err = tr.Request(context.Background(), MethodPing, nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TransportSessionExpired, te.Kind)
	assert.Equal(t, int32(2), srv.hits.Load(), "session expiry is not retried")
	assert.False(t, tr.IsConnected())

	_, err = tr.Request(context.Background(), MethodPing, nil)
	assert.Equal(t, TransportSessionExpired, transportKindOf(err))
}

func transportKindOf(err error) TransportErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

func TestHTTP_RedirectNotFollowed(t *testing.T) {
	var followed atomic.Bool
	r := chi.NewRouter()
	r.Post("/mcp", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/elsewhere", http.StatusTemporaryRedirect)
	})
	r.Post("/elsewhere", func(w http.ResponseWriter, req *http.Request) {
		followed.Store(true)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	tr := connectHTTP(t, httpConfig(srv.URL, 0))
	_, err := tr.Request(context.Background(), MethodPing, nil)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusTemporaryRedirect, te.StatusCode)
	assert.Contains(t, te.Error(), "/elsewhere")
	assert.False(t, followed.Load())
	assert.Contains(t, FormatError(err), "redirects are not followed")
}

func TestHTTP_UnexpectedContentType(t *testing.T) {
	srv := newHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>login</html>")
	})
	tr := connectHTTP(t, httpConfig(srv.URL, 0))

	_, err := tr.Request(context.Background(), MethodPing, nil)
	assert.Equal(t, TransportMalformedFrame, transportKindOf(err))
}

func TestHTTP_ResponseWithoutAnswer(t *testing.T) {
	srv := newHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	tr := connectHTTP(t, httpConfig(srv.URL, 0))

	_, err := tr.Request(context.Background(), MethodPing, nil)
	assert.ErrorContains(t, err, "response ended without an answer")
	assert.Zero(t, tr.d.pendingCount())
}

func TestHTTP_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := connectHTTP(t, httpConfig(url, 0))
	_, err := tr.Request(context.Background(), MethodPing, nil)
	assert.Equal(t, TransportRefused, transportKindOf(err))
}

func TestHTTP_CloseDeletesSession(t *testing.T) {
	srv := newHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderSessionID, "sess-9")
		writeResult(w, decodeRequest(t, r).ID, `{}`)
	})
	tr := NewHTTPTransport(httpConfig(srv.URL, 0), WithLogger(zerolog.Nop()))
	require.NoError(t, tr.Connect(context.Background()))

	_, err := tr.Request(context.Background(), MethodPing, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Close(context.Background()))
	require.NoError(t, tr.Close(context.Background()))

	assert.Equal(t, int32(1), srv.deletes.Load())
	assert.False(t, tr.IsConnected())

	_, err = tr.Request(context.Background(), MethodPing, nil)
	assert.Equal(t, TransportClosed, transportKindOf(err))
}
