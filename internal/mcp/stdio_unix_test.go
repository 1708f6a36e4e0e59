//go:build unix

package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/mcphost/internal/proc"
)

func shServer(name, script string) ServerConfig {
	return ServerConfig{Name: name, Command: "/bin/sh", Args: []string{"-c", script}}
}

func startStdio(t *testing.T, cfg ServerConfig, opts ...TransportOption) *StdioTransport {
	t.Helper()
	opts = append([]TransportOption{
		WithLogger(zerolog.Nop()),
		WithTerminateStrategy(proc.Default(), 200*time.Millisecond),
	}, opts...)
	tr := NewStdioTransport(cfg, opts...)
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tr.Close(ctx)
	})
	return tr
}

func TestStdio_RequestResponse(t *testing.T) {
	tr := startStdio(t, shServer("sh", `read line; echo '{"jsonrpc":"2.0","id":1,"result":{"ok":true}}'; sleep 5`))

	resp, err := tr.Request(context.Background(), MethodPing, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
	assert.NotZero(t, tr.Pid())
	assert.True(t, tr.IsConnected())
}

func TestStdio_ErrorResponseIsProtocolError(t *testing.T) {
	tr := startStdio(t, shServer("sh", `read line; echo '{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}'; sleep 5`))

	_, err := tr.Request(context.Background(), "tools/unknown", nil)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeMethodNotFound, pe.Code)
	assert.Equal(t, "tools/unknown", pe.Method)
	assert.True(t, tr.IsConnected(), "protocol errors keep the connection")
}

func TestStdio_ServerRequestIsQueued(t *testing.T) {
	tr := startStdio(t, shServer("sh", `echo '{"jsonrpc":"2.0","id":"s1","method":"ping"}'; sleep 5`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := tr.Receive(ctx)
	require.NoError(t, err)
	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, MethodPing, req.Method)
	assert.Equal(t, `"s1"`, req.ID.String())
}

func TestStdio_OversizedFrameAbortsConnection(t *testing.T) {
	tr := startStdio(t,
		shServer("big", `printf '%0200d\n' 0; sleep 5`),
		WithMaxFrameSize(64))

	require.Eventually(t, tr.d.isClosed, 5*time.Second, 10*time.Millisecond)
	assert.False(t, tr.IsConnected())

	_, err := tr.Request(context.Background(), MethodPing, nil)
	assert.Equal(t, TransportFrameTooLarge, transportKindOf(err))
}

func TestStdio_MalformedFrameAbortsConnection(t *testing.T) {
	tr := startStdio(t, shServer("garbage", `echo 'starting up...'; sleep 5`))

	require.Eventually(t, tr.d.isClosed, 5*time.Second, 10*time.Millisecond)

	var te *TransportError
	require.ErrorAs(t, tr.d.err(), &te)
	assert.Equal(t, TransportMalformedFrame, te.Kind)
	require.NotNil(t, te.Frame)
	assert.Equal(t, 1, te.Frame.Line)
	assert.Equal(t, "starting up...", te.Frame.Snippet)
	assert.Contains(t, FormatError(te), "send logs to stderr")
}

func TestStdio_ExitCapturesStderrTail(t *testing.T) {
	tr := startStdio(t, shServer("crash", `for i in 1 2 3; do echo "line $i" >&2; done; exit 7`))

	require.Eventually(t, tr.d.isClosed, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(tr.ErrorContext().StderrTail) == 3
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"line 1", "line 2", "line 3"}, tr.ErrorContext().StderrTail)

	var te *TransportError
	require.ErrorAs(t, tr.d.err(), &te)
	assert.Equal(t, TransportExited, te.Kind)
	assert.Equal(t, 7, te.ExitCode)
}

func TestStdio_StderrTailIsBounded(t *testing.T) {
	tr := startStdio(t, shServer("noisy", `i=0; while [ $i -lt 50 ]; do echo "err $i" >&2; i=$((i+1)); done; sleep 5`))

	require.Eventually(t, func() bool {
		tail := tr.ErrorContext().StderrTail
		return len(tail) > 0 && tail[len(tail)-1] == "err 49"
	}, 5*time.Second, 10*time.Millisecond)

	tail := tr.ErrorContext().StderrTail
	assert.Len(t, tail, StderrTailLines)
	assert.Equal(t, "err 30", tail[0])
}

func TestStdio_OverlongStderrLineIsTruncated(t *testing.T) {
	// 100 KiB on one line, then ordinary output
	tr := startStdio(t, shServer("chatty",
		`head -c 102400 /dev/zero | tr '\0' 'a' >&2; echo >&2; echo "after 1" >&2; echo "after 2" >&2; sleep 5`))

	require.Eventually(t, func() bool {
		tail := tr.ErrorContext().StderrTail
		return len(tail) > 0 && tail[len(tail)-1] == "after 2"
	}, 5*time.Second, 10*time.Millisecond)

	tail := tr.ErrorContext().StderrTail
	require.Len(t, tail, 3)
	assert.Equal(t, strings.Repeat("a", StderrLineLimit)+truncatedMarker, tail[0])
	assert.Equal(t, []string{"after 1", "after 2"}, tail[1:])
}

func TestStdio_LauncherNotFound(t *testing.T) {
	tr := NewStdioTransport(ServerConfig{Name: "ghost", Command: "definitely-not-a-real-binary-3f9a"}, WithLogger(zerolog.Nop()))
	err := tr.Connect(context.Background())

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TransportNotFound, te.Kind)
	assert.Equal(t, "definitely-not-a-real-binary-3f9a", te.Executable)
	assert.Contains(t, FormatError(err), "PATHEXT")
}

func TestStdio_EnvIsAllowlisted(t *testing.T) {
	t.Setenv("MCPHOST_TEST_SECRET", "hunter2")
	t.Setenv("MCPHOST_TEST_SHARED", "visible")

	cfg := shServer("env", `read line; printf '{"jsonrpc":"2.0","id":1,"result":{"secret":"%s","shared":"%s","extra":"%s"}}\n' "$MCPHOST_TEST_SECRET" "$MCPHOST_TEST_SHARED" "$EXTRA"; sleep 5`)
	cfg.EnvPassthrough = []string{"MCPHOST_TEST_SHARED"}
	cfg.Env = map[string]string{"EXTRA": "override"}
	tr := startStdio(t, cfg)

	resp, err := tr.Request(context.Background(), MethodPing, nil)
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &got))
	assert.Empty(t, got["secret"])
	assert.Equal(t, "visible", got["shared"])
	assert.Equal(t, "override", got["extra"])
}

func TestStdio_CloseTerminatesStubbornServer(t *testing.T) {
	// The server ignores stdin and SIGTERM; only the forced kill ends it.
	tr := startStdio(t, shServer("stubborn", `trap '' TERM; sleep 30 & wait`))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, tr.Close(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, tr.IsConnected())

	_, err := tr.Request(context.Background(), MethodPing, nil)
	assert.Equal(t, TransportClosed, transportKindOf(err))
}

func TestStdio_PendingRequestFailsWhenServerDies(t *testing.T) {
	tr := startStdio(t, shServer("dies", `read line; exit 3`))

	_, err := tr.Request(context.Background(), MethodPing, nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TransportExited, te.Kind)
	assert.Equal(t, 3, te.ExitCode)
	assert.True(t, strings.Contains(te.Error(), "exited with code 3"))
}
