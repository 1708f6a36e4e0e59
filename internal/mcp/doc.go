// Package mcp connects the agent host to external Model Context Protocol
// tool servers and exposes their tools as skills.
//
// # Layers
//
// A Transport moves JSON-RPC 2.0 frames. StdioTransport spawns the server
// as a child process with an allowlisted environment and speaks
// newline-delimited JSON over its pipes; HTTPTransport speaks streamable
// HTTP, tracks the Mcp-Session-Id header and retries transient statuses.
// Both route responses to waiting callers by request id and queue
// server-initiated messages for Receive.
//
// A Client runs the protocol over one transport: the versioned
// initialize handshake, paginated tools/list, tools/call and ping. It
// answers server requests it understands and reports tools/list_changed
// through OnToolsChanged.
//
// The Registry owns one ConnectedServer per configured name. Reads go
// through Registry.Skills, which reconnects dead servers once and reports
// the ones that stay down as degraded instead of failing the whole read:
//
//	reg := mcp.NewRegistry(mcp.WithEventBus(bus))
//	if _, err := reg.Connect(ctx, cfg); err != nil {
//		fmt.Println(mcp.FormatError(err))
//	}
//	set := reg.Skills(ctx, callerID)
//	for _, d := range set.Degraded {
//		log.Warn().Str("server", d.Name).Msg(d.Error)
//	}
//
// A Skill wraps one tool of one server. It implements tool.Tool, so it can
// be placed in a tool.Registry with RegisterSkills, and EinoTool adapts it
// for an Eino agent.
//
// # Errors
//
// Failures carry an ErrorContext naming the server, where it was
// configured and, for stdio servers, the last lines of stderr.
// ConfigError, TransportError and ProtocolError separate bad definitions,
// broken connections and server-reported failures. FormatError renders any
// of them as a short sanitized block.
package mcp
