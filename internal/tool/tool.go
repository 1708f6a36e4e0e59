// Package tool defines the host's tool interface. Built-in tools and the
// skills discovered on MCP servers both implement it.
package tool

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Tool defines the interface for all tools.
type Tool interface {
	// ID returns the tool identifier.
	ID() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Execute executes the tool with the given input.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)

	// EinoTool returns an Eino-compatible tool implementation.
	EinoTool() einotool.InvokableTool
}

// Context provides execution context to tools.
type Context struct {
	CallerID string
	CallID   string
	WorkDir  string
	AbortCh  <-chan struct{}
	Extra    map[string]any

	// Metadata callback for real-time updates
	OnMetadata func(title string, meta map[string]any)
}

// SetMetadata updates tool execution metadata.
func (c *Context) SetMetadata(title string, meta map[string]any) {
	if c.OnMetadata != nil {
		c.OnMetadata(title, meta)
	}
}

// IsAborted checks if the tool execution has been aborted.
func (c *Context) IsAborted() bool {
	select {
	case <-c.AbortCh:
		return true
	default:
		return false
	}
}

// Result represents the output of a tool execution. A non-nil Error marks
// a failed call whose Output still explains the failure to the model.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    error          `json:"-"`
}

// IsError reports whether the call failed.
func (r *Result) IsError() bool { return r.Error != nil }

// BaseTool provides a base implementation for tools.
type BaseTool struct {
	id          string
	description string
	parameters  json.RawMessage
	execute     func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// NewBaseTool creates a new base tool.
func NewBaseTool(id, description string, params json.RawMessage, execute func(context.Context, json.RawMessage, *Context) (*Result, error)) *BaseTool {
	return &BaseTool{
		id:          id,
		description: description,
		parameters:  params,
		execute:     execute,
	}
}

func (t *BaseTool) ID() string                  { return t.id }
func (t *BaseTool) Description() string         { return t.description }
func (t *BaseTool) Parameters() json.RawMessage { return t.parameters }

func (t *BaseTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	return t.execute(ctx, input, toolCtx)
}

func (t *BaseTool) EinoTool() einotool.InvokableTool { return NewEinoTool(t) }

// NewEinoTool adapts any Tool to Eino's InvokableTool.
func NewEinoTool(t Tool) einotool.InvokableTool {
	return einoAdapter{t}
}

type einoAdapter struct{ Tool }

func (a einoAdapter) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return toolInfo(a.Tool), nil
}

// InvokableRun runs the tool for an Eino agent. Failed results come back as
// text so the model sees the failure; only execution errors abort the run.
func (a einoAdapter) InvokableRun(ctx context.Context, argsJSON string, opts ...einotool.Option) (string, error) {
	res, err := a.Execute(ctx, json.RawMessage(argsJSON), &Context{AbortCh: ctx.Done()})
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

func toolInfo(t Tool) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        t.ID(),
		Desc:        t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(parseJSONSchemaToParams(t.Parameters())),
	}
}

// jsonSchema is the subset of JSON Schema that maps onto Eino parameters.
type jsonSchema struct {
	Type        any                    `json:"type"`
	Description string                 `json:"description"`
	Enum        []any                  `json:"enum"`
	Items       *jsonSchema            `json:"items"`
	Properties  map[string]*jsonSchema `json:"properties"`
	Required    []string               `json:"required"`
}

// parseJSONSchemaToParams converts an object schema's properties to Eino
// parameters. Unparseable schemas yield nil.
func parseJSONSchemaToParams(raw json.RawMessage) map[string]*schema.ParameterInfo {
	var root jsonSchema
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil
	}
	return convertProperties(&root)
}

func convertProperties(s *jsonSchema) map[string]*schema.ParameterInfo {
	if len(s.Properties) == 0 {
		return map[string]*schema.ParameterInfo{}
	}
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}
	params := make(map[string]*schema.ParameterInfo, len(s.Properties))
	for name, prop := range s.Properties {
		if prop == nil {
			continue
		}
		p := convertSchema(prop)
		p.Required = required[name]
		params[name] = p
	}
	return params
}

func convertSchema(s *jsonSchema) *schema.ParameterInfo {
	p := &schema.ParameterInfo{
		Type: dataType(s.Type),
		Desc: s.Description,
	}
	for _, v := range s.Enum {
		if str, ok := v.(string); ok {
			p.Enum = append(p.Enum, str)
		}
	}
	switch p.Type {
	case schema.Array:
		if s.Items != nil {
			p.ElemInfo = convertSchema(s.Items)
		}
	case schema.Object:
		if len(s.Properties) > 0 {
			p.SubParams = convertProperties(s)
		}
	}
	return p
}

// dataType maps a JSON Schema type, which may be a list such as
// ["string", "null"], to an Eino data type. Unknown types become strings.
func dataType(t any) schema.DataType {
	name, _ := t.(string)
	if list, ok := t.([]any); ok {
		for _, v := range list {
			if s, _ := v.(string); s != "" && s != "null" {
				name = s
				break
			}
		}
	}
	switch name {
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}
