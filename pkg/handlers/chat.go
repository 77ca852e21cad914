package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/services"
)

// maxChatBody bounds the request body of POST /api/chat.
const maxChatBody = 64 << 10

// SessionClearer drops a session's context.
type SessionClearer interface {
	Clear(ctx context.Context, id string) error
}

// ChatHandler serves the question endpoint and session management.
type ChatHandler struct {
	chat     services.ChatService
	sessions SessionClearer
	logger   *zap.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(chat services.ChatService, sessions SessionClearer, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, sessions: sessions, logger: logger}
}

// RegisterRoutes registers the chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.Ask)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.ClearSession)
}

// Ask handles POST /api/chat.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req services.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if strings.TrimSpace(req.Text) == "" && !req.ClearContext {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_text", "user_text is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	req.UserID = r.Header.Get("X-User-ID")

	resp, err := h.chat.Ask(r.Context(), req)
	if err != nil {
		// The client went away; nobody reads this.
		h.logger.Debug("Chat request ended early", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	status := http.StatusOK
	if resp.Error != "" {
		status = http.StatusInternalServerError
	}
	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode chat response", zap.Error(err))
	}
}

// ClearSession handles DELETE /api/sessions/{id}.
func (h *ChatHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sessions.Clear(r.Context(), id); err != nil {
		status, code := http.StatusInternalServerError, "clear_failed"
		switch {
		case errors.Is(err, apperrors.ErrSessionNotFound):
			status, code = http.StatusBadRequest, "invalid_session"
		case errors.Is(err, apperrors.ErrStoreClosed):
			status, code = http.StatusServiceUnavailable, "shutting_down"
		}
		if err := ErrorResponse(w, status, code, "Session could not be cleared"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: services.ClearedMessage}); err != nil {
		h.logger.Error("Failed to encode clear response", zap.Error(err))
	}
}
