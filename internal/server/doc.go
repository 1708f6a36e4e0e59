// Package server exposes a registry over HTTP for dashboards and for hosts
// that run the registry out of process.
//
// # Endpoints
//
//	GET    /health                   liveness
//	GET    /mcp                      status of every server
//	POST   /mcp                      connect a server: {"name", "owner"?, "config"}
//	GET    /mcp/tools                skills visible to the caller, plus degraded servers
//	GET    /mcp/events               server events as SSE
//	POST   /mcp/reload               re-read config files and reconcile
//	POST   /mcp/tool/{id}            call a skill; the body is its JSON arguments
//	GET    /mcp/{name}               status of one server
//	DELETE /mcp/{name}               disconnect a server
//	POST   /mcp/{name}/reconnect     replace the connection
//	POST   /mcp/{name}/tools/retry   re-run tool discovery
//
// The caller is taken from the X-Caller-ID header or the caller query
// parameter. Servers added with an owner are only visible to that caller.
// Servers added here survive reloads; only DELETE removes them.
//
// Errors use one envelope, {"error": {"code", "message", "details"}}, and
// every diagnostic in it is sanitized. A skill call that fails inside the
// tool or on the connection still answers 200 with isError set, the same
// result the agent would see.
package server
