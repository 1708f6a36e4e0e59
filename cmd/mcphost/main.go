// Package main provides the entry point for the mcphost CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/mcphost/cmd/mcphost/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
