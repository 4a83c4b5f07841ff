package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported in the MCP handshake.
const Version = "1.0.0"

// NewMCPServer creates a configured MCP server with the packshop tools
// registered. Admin tools are only added when an admin secret is set.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("packshop", Version)
	client := NewClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolListPacks, h.HandleListPacks)
	s.AddTool(ToolGetPack, h.HandleGetPack)
	s.AddTool(ToolCreateOrder, h.HandleCreateOrder)
	s.AddTool(ToolGetOrder, h.HandleGetOrder)

	if client.HasAdmin() {
		s.AddTool(ToolListOrders, h.HandleListOrders)
		s.AddTool(ToolRedeliverOrder, h.HandleRedeliverOrder)
	}

	return s
}
