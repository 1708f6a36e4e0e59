package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTool struct {
	id          string
	description string
	params      json.RawMessage
	result      *Result
}

func (m *mockTool) ID() string                  { return m.id }
func (m *mockTool) Description() string         { return m.description }
func (m *mockTool) Parameters() json.RawMessage { return m.params }
func (m *mockTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	if m.result != nil {
		return m.result, nil
	}
	return &Result{Output: "mock result"}, nil
}
func (m *mockTool) EinoTool() einotool.InvokableTool { return NewEinoTool(m) }

func newMockTool(id, description string) *mockTool {
	return &mockTool{
		id:          id,
		description: description,
		params: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path"},
				"count": {"type": "integer"}
			},
			"required": ["path"]
		}`),
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry("/tmp")
	registry.Register(newMockTool("test_tool", "A test tool"))

	got, ok := registry.Get("test_tool")
	require.True(t, ok)
	assert.Equal(t, "test_tool", got.ID())

	_, ok = registry.Get("nonexistent")
	assert.False(t, ok)
}

func TestRegistry_ListIsSorted(t *testing.T) {
	registry := NewRegistry("/tmp")
	registry.Register(newMockTool("gamma", ""))
	registry.Register(newMockTool("alpha", ""))
	registry.Register(newMockTool("beta", ""))

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, registry.IDs())

	tools := registry.List()
	require.Len(t, tools, 3)
	assert.Equal(t, "alpha", tools[0].ID())
}

func TestRegistry_Unregister(t *testing.T) {
	registry := NewRegistry("/tmp")
	registry.Register(newMockTool("echo_ping", ""))
	registry.Register(newMockTool("echo_echo", ""))
	registry.Register(newMockTool("files_read", ""))

	assert.True(t, registry.Unregister("files_read"))
	assert.False(t, registry.Unregister("files_read"))

	assert.Equal(t, 2, registry.UnregisterPrefix("echo_"))
	assert.Empty(t, registry.IDs())
}

func TestRegistry_ToolInfos(t *testing.T) {
	registry := NewRegistry("/tmp")
	registry.Register(newMockTool("reader", "Reads files"))

	infos, err := registry.ToolInfos()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "reader", infos[0].Name)
	assert.Equal(t, "Reads files", infos[0].Desc)
	require.NotNil(t, infos[0].ParamsOneOf)
}

func TestParseJSONSchemaToParams(t *testing.T) {
	params := parseJSONSchemaToParams(newMockTool("x", "").params)
	require.Len(t, params, 2)
	assert.True(t, params["path"].Required)
	assert.Equal(t, "File path", params["path"].Desc)
	assert.False(t, params["count"].Required)

	assert.Nil(t, parseJSONSchemaToParams(json.RawMessage(`not json`)))
}

func TestEinoTool_InvokableRun(t *testing.T) {
	m := newMockTool("reader", "Reads files")
	m.result = &Result{Output: "tool failed visibly", Error: errors.New("boom")}

	out, err := m.EinoTool().InvokableRun(context.Background(), `{"path": "x"}`)
	require.NoError(t, err)
	assert.Equal(t, "tool failed visibly", out)

	info, err := m.EinoTool().Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "reader", info.Name)
}

func TestDefaultRegistry(t *testing.T) {
	registry := DefaultRegistry(t.TempDir())
	_, ok := registry.Get("bash")
	assert.True(t, ok)
}
