package mcp

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// LatestProtocolVersion is the protocol revision offered in initialize.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists revisions this client can speak, newest
// first. A server may answer initialize with any of them.
var SupportedProtocolVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// Methods and notifications consumed or answered by the client.
const (
	MethodInitialize             = "initialize"
	MethodPing                   = "ping"
	MethodToolsList              = "tools/list"
	MethodToolsCall              = "tools/call"
	NotificationInitialized      = "notifications/initialized"
	NotificationToolsListChanged = "notifications/tools/list_changed"
)

// State is the lifecycle tag of a connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateHandshaked   State = "handshaked"
	StateActive       State = "active"
	StateStale        State = "stale"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Implementation identifies a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// InitializeParams is sent by the client to open a session.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// ToolsCapability is advertised by servers that expose tools.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the subset of server capabilities the client reads.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Tool is a tool definition returned by tools/list.
type Tool struct {
	Name         string           `json:"name"`
	Title        string           `json:"title,omitempty"`
	Description  string           `json:"description,omitempty"`
	InputSchema  json.RawMessage  `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage  `json:"outputSchema,omitempty"`
	Icons        []Icon           `json:"icons,omitempty"`
	Annotations  *ToolAnnotations `json:"annotations,omitempty"`
}

// DisplayName prefers the human title over the programmatic name.
func (t Tool) DisplayName() string {
	if t.Title != "" {
		return t.Title
	}
	if t.Annotations != nil && t.Annotations.Title != "" {
		return t.Annotations.Title
	}
	return t.Name
}

// Icon is a tool icon reference.
type Icon struct {
	Src      string `json:"src"`
	MimeType string `json:"mimeType,omitempty"`
	Sizes    any    `json:"sizes,omitempty"`
}

// ToolAnnotations are untrusted hints about tool behaviour.
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    *bool  `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool  `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool  `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool  `json:"openWorldHint,omitempty"`
}

// ListToolsParams requests one page of tools.
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult is one page of tools.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams invokes a tool.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is one block of tool output.
type Content struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     string          `json:"data,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	URI      string          `json:"uri,omitempty"`
	Name     string          `json:"name,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// ToolResult is the result of tools/call.
type ToolResult struct {
	Content           []Content       `json:"content"`
	IsError           bool            `json:"isError,omitempty"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
}

// Text renders the result for a text-only consumer. Text blocks are joined
// by newlines; other blocks are summarised. When there is no content at all
// the structured content is returned as JSON.
func (r *ToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		switch c.Type {
		case "text", "":
			parts = append(parts, c.Text)
		case "image", "audio":
			parts = append(parts, fmt.Sprintf("[%s: %s]", c.Type, c.MimeType))
		case "resource_link":
			parts = append(parts, fmt.Sprintf("[resource: %s]", c.URI))
		case "resource":
			var res struct {
				URI  string `json:"uri"`
				Text string `json:"text"`
			}
			if json.Unmarshal(c.Resource, &res) == nil && res.Text != "" {
				parts = append(parts, res.Text)
			} else {
				parts = append(parts, fmt.Sprintf("[resource: %s]", res.URI))
			}
		default:
			parts = append(parts, fmt.Sprintf("[%s]", c.Type))
		}
	}
	if len(parts) == 0 && len(r.StructuredContent) > 0 {
		return string(r.StructuredContent)
	}
	return strings.Join(parts, "\n")
}

// ServerStatus is a read-only view of one registry entry.
type ServerStatus struct {
	Name         string   `json:"name"`
	ConnectionID string   `json:"connectionId,omitempty"`
	State        State    `json:"state"`
	Transport    string   `json:"transport"`
	Target       string   `json:"target"`
	ToolCount    int      `json:"toolCount"`
	Scope        string   `json:"scope"`
	Pinned       bool     `json:"pinned,omitempty"`
	Source       string   `json:"source,omitempty"`
	Server       string   `json:"server,omitempty"`
	Protocol     string   `json:"protocolVersion,omitempty"`
	Error        *string  `json:"error,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

func supportedVersion(v string) bool {
	return slices.Contains(SupportedProtocolVersions, v)
}
