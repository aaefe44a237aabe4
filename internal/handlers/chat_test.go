package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/mock/gomock"

	"cv-screener/internal/conversation"
	"cv-screener/internal/service"
	"cv-screener/internal/service/mocks"
)

const testSessionID = "0b6f4a52-2d4f-4a8e-9d0c-3f1d7e8a9b10"

func chatRouter(h *ChatHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/chat", h.ServeHTTP)
	r.Get("/api/v1/chat/{sessionID}", h.GetSession)
	r.Delete("/api/v1/chat/{sessionID}", h.DeleteSession)
	return r
}

func TestChatHandler_Chat(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockConversationService(ctrl)
	svc.EXPECT().
		Chat(gomock.Any(), service.ChatRequest{SessionID: testSessionID, Question: "And Spark?", TopK: 2}).
		Return(service.ChatResponse{SessionID: testSessionID, Answer: sampleAnswer()}, nil)

	body := `{"session_id":"` + testSessionID + `","question":"And Spark?","top_k":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	chatRouter(NewChatHandler(svc)).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp AnswerResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != testSessionID || resp.Answer != sampleAnswer().Answer {
		t.Errorf("response = %+v", resp)
	}
}

func TestChatHandler_GetSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := mocks.NewMockConversationService(ctrl)
	svc.EXPECT().Session(gomock.Any(), testSessionID).Return(service.SessionInfo{
		ID: testSessionID,
		Turns: []conversation.Turn{
			{Role: conversation.RoleUser, Content: "Who knows Glue?", Timestamp: created},
			{Role: conversation.RoleAssistant, Content: "Evelyn Hamilton [1].", Timestamp: created},
		},
		CreatedAt:  created,
		LastActive: created,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/"+testSessionID, nil)
	w := httptest.NewRecorder()
	chatRouter(NewChatHandler(svc)).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp SessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Turns) != 2 || resp.Turns[1].Role != conversation.RoleAssistant {
		t.Errorf("turns = %+v", resp.Turns)
	}
}

func TestChatHandler_SessionErrors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		mockSetup  func(*mocks.MockConversationService)
		wantStatus int
	}{
		{
			name:   "get unknown session",
			method: http.MethodGet,
			mockSetup: func(m *mocks.MockConversationService) {
				m.EXPECT().Session(gomock.Any(), testSessionID).
					Return(service.SessionInfo{}, fmt.Errorf("%w: %s", service.ErrSessionNotFound, testSessionID))
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:   "delete session",
			method: http.MethodDelete,
			mockSetup: func(m *mocks.MockConversationService) {
				m.EXPECT().DeleteSession(gomock.Any(), testSessionID).Return(nil)
			},
			wantStatus: http.StatusNoContent,
		},
		{
			name:   "delete malformed id",
			method: http.MethodDelete,
			mockSetup: func(m *mocks.MockConversationService) {
				m.EXPECT().DeleteSession(gomock.Any(), testSessionID).
					Return(&service.ValidationError{Field: "session_id", Message: "must be a UUID"})
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			svc := mocks.NewMockConversationService(ctrl)
			tt.mockSetup(svc)

			req := httptest.NewRequest(tt.method, "/api/v1/chat/"+testSessionID, nil)
			w := httptest.NewRecorder()
			chatRouter(NewChatHandler(svc)).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
