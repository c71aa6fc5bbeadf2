// Clicker MCP server.
// Exposes clicker tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/clicker/internal/mcp"
)

func main() {
	clickerURL := os.Getenv("CLICKER_URL")
	if clickerURL == "" {
		clickerURL = "http://localhost:3001"
	}

	s := server.NewMCPServer(
		"clicker",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(clickerURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
