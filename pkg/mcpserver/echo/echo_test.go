package echo

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callTool(t *testing.T, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool := NewServer().GetTool(name)
	require.NotNil(t, tool, "%s tool should exist", name)

	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := tool.Handler(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "content should be text")
	return text.Text
}

func TestEchoServer_Ping(t *testing.T) {
	result := callTool(t, "ping", map[string]any{})
	assert.False(t, result.IsError)
	assert.Equal(t, "pong", textOf(t, result))
}

func TestEchoServer_Echo(t *testing.T) {
	result := callTool(t, "echo", map[string]any{"message": "hello there"})
	assert.False(t, result.IsError)
	assert.Equal(t, "hello there", textOf(t, result))

	missing := callTool(t, "echo", map[string]any{})
	assert.True(t, missing.IsError)
}

func TestEchoServer_Sum(t *testing.T) {
	tests := []struct {
		name     string
		numbers  []any
		expected string
	}{
		{name: "positive", numbers: []any{1.0, 2.0, 3.0}, expected: "6"},
		{name: "mixed", numbers: []any{10.0, -5.0, 3.5, -2.5}, expected: "6"},
		{name: "empty", numbers: []any{}, expected: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, "sum", map[string]any{"numbers": tt.numbers})
			assert.False(t, result.IsError)
			assert.Equal(t, tt.expected, textOf(t, result))
		})
	}

	bad := callTool(t, "sum", map[string]any{"numbers": []any{"x"}})
	assert.True(t, bad.IsError)
}

func TestEchoServer_Fail(t *testing.T) {
	result := callTool(t, "fail", map[string]any{"reason": "disk on fire"})
	assert.True(t, result.IsError)
	assert.Equal(t, "disk on fire", textOf(t, result))
}

func TestEchoServer_ListsAllTools(t *testing.T) {
	s := NewServer()
	for _, name := range []string{"ping", "echo", "sum", "fail"} {
		assert.NotNil(t, s.GetTool(name), name)
	}
}
