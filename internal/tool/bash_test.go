//go:build unix

package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(dir string) *Context {
	return &Context{
		CallerID: "test-caller",
		CallID:   "test-call",
		WorkDir:  dir,
		AbortCh:  make(chan struct{}),
	}
}

func TestBashTool_Execute(t *testing.T) {
	bash := NewBashTool(t.TempDir(), WithShell("/bin/sh"))

	input := json.RawMessage(`{"command": "echo 'Hello from Bash'", "description": "Print hello"}`)
	result, err := bash.Execute(context.Background(), input, testContext(""))
	require.NoError(t, err)

	assert.Contains(t, result.Output, "Hello from Bash")
	assert.Equal(t, "Print hello", result.Title)
	assert.Equal(t, 0, result.Metadata["exit"])
}

func TestBashTool_ExitCode(t *testing.T) {
	bash := NewBashTool(t.TempDir(), WithShell("/bin/sh"))

	input := json.RawMessage(`{"command": "echo oops >&2; exit 3", "description": "Fail"}`)
	result, err := bash.Execute(context.Background(), input, testContext(""))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Metadata["exit"])
	assert.Contains(t, result.Output, "oops")
	assert.NotContains(t, result.Output, "Error:")
}

func TestBashTool_WorkDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644))

	bash := NewBashTool("/", WithShell("/bin/sh"))
	input := json.RawMessage(`{"command": "ls", "description": "List"}`)
	result, err := bash.Execute(context.Background(), input, testContext(dir))
	require.NoError(t, err)
	assert.Contains(t, result.Output, "marker.txt")
}

func TestBashTool_TimeoutKillsProcessGroup(t *testing.T) {
	bash := NewBashTool(t.TempDir(), WithShell("/bin/sh"), WithKillGrace(200*time.Millisecond))

	start := time.Now()
	input := json.RawMessage(`{"command": "sleep 30 & sleep 30", "timeout": 300, "description": "Hang"}`)
	result, err := bash.Execute(context.Background(), input, testContext(""))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 10*time.Second, "background child must not keep the call alive")
	assert.Contains(t, result.Output, "timed out")
	assert.Equal(t, true, result.Metadata["timedOut"])
}

func TestBashTool_ContextCancel(t *testing.T) {
	bash := NewBashTool(t.TempDir(), WithShell("/bin/sh"), WithKillGrace(100*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := bash.Execute(ctx, json.RawMessage(`{"command": "sleep 30", "description": "Hang"}`), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBashTool_OutputTruncated(t *testing.T) {
	bash := NewBashTool(t.TempDir(), WithShell("/bin/sh"))

	input := json.RawMessage(`{"command": "yes x | head -c 40000", "description": "Flood"}`)
	result, err := bash.Execute(context.Background(), input, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result.Output, "(Output truncated)"))
}

func TestBashTool_InvalidInput(t *testing.T) {
	bash := NewBashTool(t.TempDir())

	_, err := bash.Execute(context.Background(), json.RawMessage(`{`), nil)
	assert.Error(t, err)

	_, err = bash.Execute(context.Background(), json.RawMessage(`{"description": "nothing"}`), nil)
	assert.ErrorContains(t, err, "command is required")
}

func TestBashTool_Properties(t *testing.T) {
	bash := NewBashTool(t.TempDir())

	assert.Equal(t, "bash", bash.ID())
	assert.Contains(t, bash.Description(), "command")

	var schema map[string]any
	require.NoError(t, json.Unmarshal(bash.Parameters(), &schema))
	assert.Equal(t, "object", schema["type"])
}
