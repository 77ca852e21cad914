package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/llm"
)

// ToolEvent is one audited tool call.
type ToolEvent struct {
	RequestID  string
	Tool       string
	SessionID  string
	Params     map[string]any
	Successful bool
	Error      string
	Summary    map[string]any
	Duration   time.Duration
}

// AuditLogger writes one structured log entry per MCP tool call.
type AuditLogger struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by JSON-RPC id.
	startTimes sync.Map
}

// NewAuditLogger creates an audit logger.
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.Named("mcp-audit")}
}

// Hooks returns mcp-go Hooks that capture tool call events.
func (a *AuditLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *AuditLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *AuditLogger) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	event := a.buildEvent(ctx, id, req)
	event.Successful = result == nil || !result.IsError
	event.Summary = summarizeResult(result)
	a.record(event)
}

func (a *AuditLogger) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	event := a.buildEvent(ctx, id, req)
	event.Error = err.Error()
	a.record(event)
}

func (a *AuditLogger) loadAndDeleteStart(id any) (time.Time, bool) {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return v.(time.Time), true
	}
	return time.Now(), false
}

func (a *AuditLogger) buildEvent(ctx context.Context, id any, req *mcplib.CallToolRequest) *ToolEvent {
	start, _ := a.loadAndDeleteStart(id)
	event := &ToolEvent{
		RequestID: llm.RequestID(ctx),
		Tool:      req.Params.Name,
		Params:    sanitizeParams(req.Params.Arguments),
		Duration:  time.Since(start),
	}
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		event.SessionID, _ = args["session_id"].(string)
	}
	return event
}

func (a *AuditLogger) record(event *ToolEvent) {
	fields := []zap.Field{
		zap.String("request_id", event.RequestID),
		zap.String("tool", event.Tool),
		zap.String("session_id", event.SessionID),
		zap.Any("params", event.Params),
		zap.Bool("successful", event.Successful),
		zap.Duration("duration", event.Duration),
	}
	if event.Summary != nil {
		fields = append(fields, zap.Any("result", event.Summary))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
		a.logger.Warn("MCP tool call failed", fields...)
		return
	}
	a.logger.Info("MCP tool call", fields...)
}

// maxSQLSize is the maximum size of SQL strings kept in audit entries.
const maxSQLSize = 10240

// sqlStringLiteralPattern matches SQL string literals, including doubled
// quotes inside them.
var sqlStringLiteralPattern = regexp.MustCompile(`'(?:[^']*(?:'')?)*[^']*'`)

var sensitiveParamKeys = []string{"password", "secret", "token", "api_key", "credential"}

func isSensitiveParam(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveParamKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// sanitizeParams truncates SQL, redacts its string literals and hashes
// sensitive values.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = sanitizeValue(k, v)
	}
	return sanitized
}

func sanitizeValue(key string, value any) any {
	if isSensitiveParam(key) {
		return hashSensitiveValue(value)
	}

	switch val := value.(type) {
	case string:
		return sanitizeStringParam(key, val)
	case map[string]any:
		nested := make(map[string]any, len(val))
		for k, v := range val {
			nested[k] = sanitizeValue(k, v)
		}
		return nested
	default:
		return value
	}
}

func sanitizeStringParam(key string, val string) string {
	if len(val) > maxSQLSize {
		val = val[:maxSQLSize] + "...[truncated]"
	}
	if isSQLParam(key) {
		val = redactSQLStringLiterals(val)
	}
	return val
}

// isSQLParam reports whether a parameter key likely holds SQL.
func isSQLParam(key string) bool {
	lower := strings.ToLower(key)
	return lower == "sql" || lower == "query" || strings.HasSuffix(lower, "_sql") || strings.HasSuffix(lower, "_query")
}

// redactSQLStringLiterals replaces string literals with '***' and keeps the
// statement shape.
func redactSQLStringLiterals(sql string) string {
	return sqlStringLiteralPattern.ReplaceAllString(sql, "'***'")
}

// hashSensitiveValue returns a SHA-256 prefix so entries can be correlated
// without storing the value.
func hashSensitiveValue(value any) string {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		str = fmt.Sprintf("%v", v)
	}
	hash := sha256.Sum256([]byte(str))
	return "sha256:" + hex.EncodeToString(hash[:8])
}

// summarizeResult creates a compact summary of the tool result.
func summarizeResult(result *mcplib.CallToolResult) map[string]any {
	if result == nil {
		return nil
	}

	summary := map[string]any{"is_error": result.IsError}
	if len(result.Content) == 0 {
		return summary
	}

	summary["content_count"] = len(result.Content)
	for _, c := range result.Content {
		tc, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		text := tc.Text
		extractRowCount(text, summary)
		if len(text) > 200 {
			text = text[:200] + "...[truncated]"
		}
		summary["preview"] = text
		break
	}
	return summary
}

// extractRowCount copies row_count out of a JSON tool response.
func extractRowCount(text string, summary map[string]any) {
	var partial struct {
		RowCount *int `json:"row_count"`
	}
	if err := json.Unmarshal([]byte(text), &partial); err == nil && partial.RowCount != nil {
		summary["row_count"] = *partial.RowCount
	}
}
