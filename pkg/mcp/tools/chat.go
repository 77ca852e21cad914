package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/services"
)

// SessionClearer drops a session's context.
type SessionClearer interface {
	Clear(ctx context.Context, id string) error
}

// ChatToolDeps contains dependencies for the question tools.
type ChatToolDeps struct {
	Chat     services.ChatService
	Sessions SessionClearer
	Logger   *zap.Logger
}

type askResult struct {
	SessionID string           `json:"session_id"`
	Response  string           `json:"response"`
	SQL       string           `json:"sql,omitempty"`
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows,omitempty"`
	RowCount  int              `json:"row_count"`
	FollowUp  []string         `json:"follow_up,omitempty"`
}

// RegisterChatTools registers ask and clear_session.
func RegisterChatTools(s *server.MCPServer, deps *ChatToolDeps) {
	registerAskTool(s, deps)
	registerClearSessionTool(s, deps)
}

func registerAskTool(s *server.MCPServer, deps *ChatToolDeps) {
	tool := mcp.NewTool(
		"ask",
		mcp.WithDescription(
			"Ask a question about the fleet in plain English: vehicles, plants, complaints, trips, distance and stoppages. "+
				"Reuse the returned session_id for follow-ups such as \"what is the liability of these complaints\" or \"the 2nd vehicle\".",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
		mcp.WithString(
			"session_id",
			mcp.Description("Conversation to continue. Omit to start a new one."),
		),
		mcp.WithBoolean(
			"clear_context",
			mcp.Description("Forget earlier results in this session before answering (default: false)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		resp, err := deps.Chat.Ask(ctx, services.ChatRequest{
			SessionID:    req.GetString("session_id", ""),
			Text:         question,
			ClearContext: req.GetBool("clear_context", false),
		})
		if err != nil {
			return nil, fmt.Errorf("ask: %w", err)
		}
		if resp.Error != "" {
			deps.Logger.Warn("ask tool failed",
				zap.String("session_id", resp.SessionID),
				zap.String("error", resp.Error))
			return NewErrorResultWithDetails("unavailable", resp.Response, map[string]any{"session_id": resp.SessionID}), nil
		}

		jsonResult, err := json.Marshal(askResult{
			SessionID: resp.SessionID,
			Response:  resp.Response,
			SQL:       resp.SQL,
			Columns:   resp.Columns,
			Rows:      resp.Rows,
			RowCount:  len(resp.Rows),
			FollowUp:  resp.FollowUp,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal answer: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

func registerClearSessionTool(s *server.MCPServer, deps *ChatToolDeps) {
	tool := mcp.NewTool(
		"clear_session",
		mcp.WithDescription("Forget the results remembered for a conversation"),
		mcp.WithString(
			"session_id",
			mcp.Required(),
			mcp.Description("Conversation to clear"),
		),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		if err := deps.Sessions.Clear(ctx, id); err != nil {
			switch {
			case errors.Is(err, apperrors.ErrSessionNotFound):
				return NewErrorResult("invalid_session", "session id is empty or malformed"), nil
			case errors.Is(err, apperrors.ErrStoreClosed):
				return NewErrorResult("shutting_down", "the service is shutting down"), nil
			}
			return nil, fmt.Errorf("clear session: %w", err)
		}

		jsonResult, _ := json.Marshal(map[string]any{"session_id": id, "cleared": true})
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}
