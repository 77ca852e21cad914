package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func auditedServer(t *testing.T) (*server.MCPServer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	audit := NewAuditLogger(zap.New(core))

	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true), server.WithHooks(audit.Hooks()))
	s.AddTool(mcplib.NewTool("ok"), func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		return mcplib.NewToolResultText(`{"row_count":3}`), nil
	})
	s.AddTool(mcplib.NewTool("broken"), func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		return nil, errors.New("database unreachable")
	})
	return s, logs
}

func TestAuditLogger_RecordsToolCall(t *testing.T) {
	s, logs := auditedServer(t)

	s.HandleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ok","arguments":{"session_id":"s1","sql":"SELECT 1 WHERE a = 'x'"}}}`))

	entries := logs.FilterMessage("MCP tool call").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ok", fields["tool"])
	assert.Equal(t, "s1", fields["session_id"])
	assert.Equal(t, true, fields["successful"])

	params := fields["params"].(map[string]any)
	assert.Equal(t, "SELECT 1 WHERE a = '***'", params["sql"])
	result := fields["result"].(map[string]any)
	assert.Equal(t, 3, result["row_count"])
}

func TestAuditLogger_RecordsToolError(t *testing.T) {
	s, logs := auditedServer(t)

	s.HandleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"broken","arguments":{}}}`))

	entries := logs.FilterMessage("MCP tool call failed").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "database unreachable")
}

func TestSanitizeParams(t *testing.T) {
	t.Run("truncates large SQL", func(t *testing.T) {
		result := sanitizeParams(map[string]any{"sql": strings.Repeat("a", 20000)})
		assert.Len(t, result["sql"], maxSQLSize+len("...[truncated]"))
	})

	t.Run("preserves small values", func(t *testing.T) {
		result := sanitizeParams(map[string]any{"sql": "SELECT 1", "limit": 100})
		assert.Equal(t, "SELECT 1", result["sql"])
		assert.Equal(t, 100, result["limit"])
	})

	t.Run("nil input", func(t *testing.T) {
		assert.Nil(t, sanitizeParams(nil))
	})

	t.Run("questions are not redacted", func(t *testing.T) {
		result := sanitizeParams(map[string]any{"question": "complaints for 'Nagpur'"})
		assert.Equal(t, "complaints for 'Nagpur'", result["question"])
	})

	t.Run("hashes sensitive keys", func(t *testing.T) {
		result := sanitizeParams(map[string]any{"api_key": "abc", "nested": map[string]any{"password": "p"}})
		assert.True(t, strings.HasPrefix(result["api_key"].(string), "sha256:"))
		assert.Len(t, result["api_key"], len("sha256:")+16)
		assert.Equal(t, result["api_key"], hashSensitiveValue("abc"))

		nested := result["nested"].(map[string]any)
		assert.True(t, strings.HasPrefix(nested["password"].(string), "sha256:"))
	})
}

func TestRedactSQLStringLiterals(t *testing.T) {
	tests := map[string]string{
		"SELECT 1": "SELECT 1",
		"WHERE name = 'John' AND city = 'New York'":    "WHERE name = '***' AND city = '***'",
		"WHERE name = 'O''Brien'":                      "WHERE name = '***'",
		"WHERE reg_no IN ('MH12AB0001', 'MH12AB0002')": "WHERE reg_no IN ('***', '***')",
	}
	for in, want := range tests {
		assert.Equal(t, want, redactSQLStringLiterals(in), in)
	}
}

func TestIsSQLParam(t *testing.T) {
	assert.True(t, isSQLParam("sql"))
	assert.True(t, isSQLParam("Query"))
	assert.True(t, isSQLParam("generated_sql"))
	assert.False(t, isSQLParam("question"))
}

func TestSummarizeResult(t *testing.T) {
	assert.Nil(t, summarizeResult(nil))

	summary := summarizeResult(&mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Text: strings.Repeat("x", 500)}},
	})
	assert.Equal(t, false, summary["is_error"])
	assert.Equal(t, 1, summary["content_count"])
	assert.Len(t, summary["preview"], 200+len("...[truncated]"))
	_, ok := summary["row_count"]
	assert.False(t, ok)
}
