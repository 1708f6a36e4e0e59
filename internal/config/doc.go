// Package config loads MCP server definitions and tracks the per-user
// directories.
//
// # Layers
//
// LoadServers merges definitions from these sources, later ones replacing
// earlier definitions of the same server name:
//
//  1. global: $XDG_CONFIG_HOME/mcphost/mcp.json and mcp.jsonc
//  2. user: ~/.mcphost/mcp.json
//  3. project: .mcp.json, .mcphost/mcp.json[c], mcp.yaml / mcp.yml
//  4. env: the file named by MCPHOST_CONFIG
//  5. inline: JSON in MCPHOST_CONFIG_CONTENT
//
// Every resulting mcp.ServerConfig records the file and layer it came from,
// so connection errors can point back at the definition.
//
// # Format
//
// JSON files may carry comments (tidwall/jsonc). Servers live under
// "mcpServers" or "mcp":
//
//	{
//	  "mcpServers": {
//	    "git": {"command": "uvx", "args": ["mcp-server-git"], "envFile": ".env"},
//	    "search": {"url": "https://mcp.example.com/mcp", "headers": {"Authorization": "Bearer {env:SEARCH_TOKEN}"}}
//	  }
//	}
//
// "command" is a string or an argv array. Durations are Go duration
// strings or milliseconds. {env:VAR} and {file:path} are substituted
// before decoding; relative paths resolve against the config file's
// directory.
//
// # Watching
//
// Watcher reports edits to any of the Files so a long-running host can
// reload and reconcile its registry.
package config
