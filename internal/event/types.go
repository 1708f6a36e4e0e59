package event

// EventType represents the type of event.
type EventType string

// MCP server lifecycle events.
const (
	ServerConnected    EventType = "mcp.server.connected"
	ServerDisconnected EventType = "mcp.server.disconnected"
	ServerStale        EventType = "mcp.server.stale"
	ServerReconnected  EventType = "mcp.server.reconnected"
	ServerFailed       EventType = "mcp.server.failed"
	ToolsUpdated       EventType = "mcp.tools.updated"
	ToolsDiscoveryFail EventType = "mcp.tools.discovery_failed"
	ConfigChanged      EventType = "config.changed"
)

// ServerData is the payload of every mcp.server.* and mcp.tools.* event.
type ServerData struct {
	Server       string `json:"server"`
	ConnectionID string `json:"connectionId,omitempty"`
	State        string `json:"state"`
	ToolCount    int    `json:"toolCount"`
	// Error is the formatted, sanitized diagnostic, if any.
	Error string `json:"error,omitempty"`
}

// ConfigChangedData is the payload of config.changed.
type ConfigChangedData struct {
	Paths []string `json:"paths"`
}
