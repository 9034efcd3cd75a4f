package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-recorder/pkg/status"
)

type healthResult struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Recording   bool   `json:"recording"`
	Maintenance bool   `json:"maintenance"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and whether capture is running.
func RegisterHealthTool(s *server.MCPServer, version string, state *status.State) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := healthResult{Status: "ok", Version: version}
		if state != nil {
			res.Recording = state.IsRecording.Get()
			res.Maintenance = state.Maintenance.Get()
			if res.Maintenance {
				res.Status = "maintenance"
			}
		}
		result, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
