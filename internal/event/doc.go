/*
Package event provides the pub/sub system the host uses to report MCP server
lifecycle changes.

A Bus is created by the host at startup and passed to whatever publishes or
consumes events; there is no package-level bus.

# Delivery

Subscribe and SubscribeAll register Go callbacks that receive the Event with
its payload type intact. Publish calls each callback in its own goroutine;
PublishSync calls them in order on the caller's goroutine.

Every published event is also mirrored as JSON onto a watermill GoChannel
under Topic. Stream exposes that mirror as a channel of raw JSON and backs
the HTTP event feed.

# Event Types

Server events (payload ServerData):
  - mcp.server.connected: handshake and discovery finished
  - mcp.server.disconnected: removed from the registry
  - mcp.server.stale: liveness check failed
  - mcp.server.reconnected: a stale server came back
  - mcp.server.failed: reconnect failed
  - mcp.tools.updated: tool list replaced
  - mcp.tools.discovery_failed: tools/list failed; server kept with no tools

Config events (payload ConfigChangedData):
  - config.changed: a watched config file changed
*/
package event
