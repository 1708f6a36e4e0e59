// Command echo-server runs the echo MCP server over stdio, or over
// streamable HTTP when -http is given.
package main

import (
	"flag"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/opencode-ai/mcphost/pkg/mcpserver/echo"
)

func main() {
	httpAddr := flag.String("http", "", "serve streamable HTTP on this address instead of stdio")
	flag.Parse()

	s := echo.NewServer()
	if *httpAddr != "" {
		if err := server.NewStreamableHTTPServer(s).Start(*httpAddr); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
