// ./main.go
package main

import (
	"github.com/xkilldash9x/shadowfox-mcp/cmd"
)

// main is the entry point for the shadowfox MCP server.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
