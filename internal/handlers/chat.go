package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cv-screener/internal/contextutil"
	"cv-screener/internal/conversation"
	"cv-screener/internal/service"
)

// ChatHandler handles session-scoped conversations.
type ChatHandler struct {
	svc service.ConversationService
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(svc service.ConversationService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// ChatRequest represents the HTTP request payload for chat.
// An empty session_id starts a new session.
//
// swagger:model ChatRequest
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
	TopK      int    `json:"top_k,omitempty"`
}

// SessionResponse describes a session and its history.
//
// swagger:model SessionResponse
type SessionResponse struct {
	SessionID  string              `json:"session_id"`
	Turns      []conversation.Turn `json:"turns"`
	CreatedAt  time.Time           `json:"created_at"`
	LastActive time.Time           `json:"last_active"`
}

// ServeHTTP handles POST /api/v1/chat.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.svc.Chat(ctx, service.ChatRequest{
		SessionID: req.SessionID,
		Question:  req.Question,
		TopK:      req.TopK,
		Debug:     debugRequested(r),
	})
	if err != nil {
		handleServiceError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, AnswerResponse{SessionID: resp.SessionID, AskResponse: resp.Answer})
}

// GetSession handles GET /api/v1/chat/{sessionID}.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.svc.Session(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		handleServiceError(w, ctx, err)
		return
	}

	turns := info.Turns
	if turns == nil {
		turns = []conversation.Turn{}
	}
	writeJSON(w, ctx, http.StatusOK, SessionResponse{
		SessionID:  info.ID,
		Turns:      turns,
		CreatedAt:  info.CreatedAt,
		LastActive: info.LastActive,
	})
}

// DeleteSession handles DELETE /api/v1/chat/{sessionID}.
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.svc.DeleteSession(ctx, chi.URLParam(r, "sessionID")); err != nil {
		handleServiceError(w, ctx, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
