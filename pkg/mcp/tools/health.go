package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"
)

// TableLister reports the tables the schema catalog knows.
type TableLister interface {
	Tables() []catalog.Table
}

type healthResult struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Tables  int    `json:"tables"`
}

// RegisterHealthTool adds a health check tool to the MCP server. It reports
// the server version and how many tables are loaded.
func RegisterHealthTool(s *server.MCPServer, version string, cat TableLister) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := healthResult{Status: "ok", Version: version}
		if cat != nil {
			res.Tables = len(cat.Tables())
		}
		if res.Tables == 0 {
			res.Status = "degraded"
		}
		result, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
