package mcp

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEReader(t *testing.T) {
	stream := ": keepalive\n" +
		"event: message\n" +
		"id: 1\n" +
		"data: {\"a\":\n" +
		"data: 1}\n" +
		"\n" +
		"\n" +
		"event: endpoint\r\n" +
		"data:/mcp?x=1\r\n" +
		"\r\n" +
		"data: tail"

	r := newSSEReader(strings.NewReader(stream), MaxFrameSize)

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Event)
	assert.Equal(t, "1", ev.ID)
	assert.Equal(t, "{\"a\":\n1}", string(ev.Data))

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "endpoint", ev.Event)
	assert.Equal(t, "/mcp?x=1", string(ev.Data))

	ev, err = r.Next()
	require.NoError(t, err, "an unterminated final event is still delivered")
	assert.Empty(t, ev.Event)
	assert.Equal(t, "tail", string(ev.Data))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEReader_EventWithoutDataIsSkipped(t *testing.T) {
	r := newSSEReader(strings.NewReader("event: ping\n\ndata: x\n\n"), MaxFrameSize)
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Empty(t, ev.Event, "fields of a data-less event don't leak into the next")
	assert.Equal(t, "x", string(ev.Data))
}

func TestSSEReader_DataLimit(t *testing.T) {
	stream := "data: " + strings.Repeat("a", 40) + "\n" +
		"data: " + strings.Repeat("b", 40) + "\n\n"
	r := newSSEReader(strings.NewReader(stream), 64)
	_, err := r.Next()
	assert.ErrorIs(t, err, errFrameTooLarge)
}
