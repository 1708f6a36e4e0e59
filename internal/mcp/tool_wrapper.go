package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/opencode-ai/mcphost/internal/sanitize"
	"github.com/opencode-ai/mcphost/internal/tool"
)

// MaxOutputSize caps the text a skill hands back to the host.
const MaxOutputSize = 10 << 20

const truncatedMarker = "\n\n(output truncated)"

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// SkillErrorKind separates failures of a call from failures of the
// connection; they need different remedies.
type SkillErrorKind string

const (
	// SkillErrorTool means the tool ran and reported isError.
	SkillErrorTool SkillErrorKind = "tool"
	// SkillErrorProtocol means the server answered with a JSON-RPC error.
	SkillErrorProtocol SkillErrorKind = "protocol"
	// SkillErrorTransport means the connection failed; reconnect the server.
	SkillErrorTransport SkillErrorKind = "transport"
)

// SkillError is attached to the tool.Result of a failed skill call.
type SkillError struct {
	Server  string
	Tool    string
	Kind    SkillErrorKind
	Code    int
	Message string
	Err     error
}

func (e *SkillError) Error() string {
	switch e.Kind {
	case SkillErrorProtocol:
		return fmt.Sprintf("mcp server %q: tool %s failed: %s (code %d)", e.Server, e.Tool, e.Message, e.Code)
	case SkillErrorTransport:
		return fmt.Sprintf("mcp server %q: connection failed during %s: %s", e.Server, e.Tool, e.Message)
	default:
		return fmt.Sprintf("mcp server %q: tool %s reported an error: %s", e.Server, e.Tool, e.Message)
	}
}

func (e *SkillError) Unwrap() error { return e.Err }

// Skill adapts one discovered tool to the host's tool.Tool interface.
type Skill struct {
	server *ConnectedServer
	tool   Tool
	id     string
}

func newSkill(srv *ConnectedServer, t Tool) *Skill {
	return &Skill{server: srv, tool: t, id: SkillID(srv.Name(), t.Name)}
}

// SkillID is the host-facing tool id: server and tool name joined by an
// underscore, with anything outside [A-Za-z0-9] replaced.
func SkillID(server, toolName string) string {
	return sanitizeToolName(server) + "_" + sanitizeToolName(toolName)
}

func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ID returns the prefixed tool id, e.g. "github_create_issue".
func (s *Skill) ID() string { return s.id }

// Server returns the name of the originating server.
func (s *Skill) Server() string { return s.server.Name() }

// Tool returns the tool definition as discovered.
func (s *Skill) Tool() Tool { return s.tool }

// Description returns the tool description.
func (s *Skill) Description() string {
	if s.tool.Description != "" {
		return s.tool.Description
	}
	return s.tool.DisplayName()
}

// Parameters returns the declared input schema unchanged.
func (s *Skill) Parameters() json.RawMessage {
	if len(s.tool.InputSchema) == 0 {
		return emptyObjectSchema
	}
	return s.tool.InputSchema
}

// Execute calls the tool on its server. Tool and protocol failures come
// back as a result carrying a *SkillError so the agent can read them; only
// cancellation of ctx is returned as an error.
func (s *Skill) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	srv := s.server
	srv.mu.RLock()
	defer srv.mu.RUnlock()

	if srv.client == nil || srv.removed.Load() {
		return s.failure(&SkillError{
			Server:  srv.Name(),
			Tool:    s.tool.Name,
			Kind:    SkillErrorTransport,
			Message: "server is not connected",
			Err:     ErrNotConnected,
		}), nil
	}

	res, err := srv.client.CallTool(ctx, s.tool.Name, input)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !IsTransportError(err) {
			return nil, ctxErr
		}
		return s.failure(s.classify(err)), nil
	}

	output := truncate(res.Text())
	if toolCtx != nil {
		toolCtx.SetMetadata(s.tool.DisplayName(), map[string]any{
			"type":   "mcp",
			"server": srv.Name(),
			"tool":   s.tool.Name,
		})
	}

	if res.IsError {
		return s.failure(&SkillError{
			Server:  srv.Name(),
			Tool:    s.tool.Name,
			Kind:    SkillErrorTool,
			Message: output,
		}), nil
	}

	result := &tool.Result{
		Title:  s.tool.DisplayName(),
		Output: output,
		Metadata: map[string]any{
			"server": srv.Name(),
			"tool":   s.tool.Name,
		},
	}
	if len(res.StructuredContent) > 0 {
		result.Metadata["structuredContent"] = res.StructuredContent
	}
	return result, nil
}

func (s *Skill) classify(err error) *SkillError {
	se := &SkillError{Server: s.server.Name(), Tool: s.tool.Name, Err: err}
	var pe *ProtocolError
	switch {
	case errors.As(err, &pe):
		se.Kind = SkillErrorProtocol
		se.Code = pe.Code
		se.Message = pe.Message
	default:
		se.Kind = SkillErrorTransport
		se.Message = FormatError(err)
	}
	return se
}

// failure builds the result of a failed call. The message is sanitized
// before it reaches the result text or the error string.
func (s *Skill) failure(se *SkillError) *tool.Result {
	se.Message = sanitize.Text(se.Message)
	var out string
	switch se.Kind {
	case SkillErrorTransport:
		out = fmt.Sprintf("MCP server %q is unavailable; the call was not completed.\n%s", se.Server, se.Message)
	case SkillErrorProtocol:
		out = fmt.Sprintf("MCP server %q rejected %s: %s (code %d)", se.Server, se.Tool, se.Message, se.Code)
	default:
		out = se.Message
	}
	return &tool.Result{
		Title:  s.tool.DisplayName(),
		Output: truncate(out),
		Metadata: map[string]any{
			"server":    se.Server,
			"tool":      se.Tool,
			"errorKind": string(se.Kind),
		},
		Error: se,
	}
}

func truncate(s string) string {
	if len(s) <= MaxOutputSize {
		return s
	}
	cut := MaxOutputSize
	// Don't split a UTF-8 sequence.
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + truncatedMarker
}

// EinoTool returns an Eino-compatible tool implementation.
func (s *Skill) EinoTool() einotool.InvokableTool {
	return tool.NewEinoTool(s)
}

// RegisterSkills adds every skill in set to a host tool registry and
// returns how many were registered.
func RegisterSkills(reg *tool.Registry, set SkillSet) int {
	if reg == nil {
		return 0
	}
	for _, s := range set.Skills {
		reg.Register(s)
	}
	return len(set.Skills)
}
