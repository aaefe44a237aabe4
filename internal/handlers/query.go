package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"cv-screener/internal/contextutil"
	"cv-screener/internal/conversation"
	"cv-screener/internal/rag"
	"cv-screener/internal/service"
)

// QueryHandler answers stateless questions. The client sends the history.
type QueryHandler struct {
	svc service.ConversationService
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(svc service.ConversationService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

// TurnPayload is one prior message supplied by the client.
//
// swagger:model TurnPayload
type TurnPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueryRequest represents the HTTP request payload for stateless questions.
//
// swagger:model QueryRequest
type QueryRequest struct {
	Question string        `json:"question"`
	TopK     int           `json:"top_k,omitempty"`
	History  []TurnPayload `json:"history,omitempty"`
}

// AnswerResponse is an answer with its sources and metadata. SessionID is
// set only for chat requests.
//
// swagger:model AnswerResponse
type AnswerResponse struct {
	SessionID string `json:"session_id,omitempty"`
	rag.AskResponse
}

// ServeHTTP handles POST /api/v1/query.
//
// swagger:route POST /api/v1/query askQuestion
//
// # Ask a question about the CV corpus
//
// Use the `debug=true` query parameter to include candidate scores,
// visited pipeline states and generation attempts.
//
// responses:
//
//	'200': AnswerResponse
//	'400': ErrorResponse
//	'502': ErrorResponse
//	'503': ErrorResponse
//	'504': ErrorResponse
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	history := make([]conversation.Turn, len(req.History))
	now := time.Now()
	for i, t := range req.History {
		history[i] = conversation.Turn{Role: conversation.Role(t.Role), Content: t.Content, Timestamp: now}
	}

	resp, err := h.svc.Query(ctx, service.QueryRequest{
		Question: req.Question,
		TopK:     req.TopK,
		Debug:    debugRequested(r),
		History:  history,
	})
	if err != nil {
		handleServiceError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, AnswerResponse{AskResponse: resp})
}
