package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_answerer.go -package=mocks cv-screener/internal/service Answerer
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_conversation_service.go -package=mocks cv-screener/internal/service ConversationService

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cv-screener/internal/contextutil"
	"cv-screener/internal/conversation"
	"cv-screener/internal/rag"
)

// Answerer answers one question against a conversation history.
// This interface is defined from the service layer's perspective (consumer-first);
// rag.Engine satisfies it.
type Answerer interface {
	AnswerQuestion(ctx context.Context, req rag.AskRequest, history *conversation.History) (rag.AskResponse, error)
}

// QueryRequest is a stateless question with client-held history.
type QueryRequest struct {
	Question string
	TopK     int
	Debug    bool
	History  []conversation.Turn
}

// ChatRequest is a question asked inside a server-side session.
// An empty SessionID starts a new session.
type ChatRequest struct {
	SessionID string
	Question  string
	TopK      int
	Debug     bool
}

// ChatResponse is an answer plus the session it belongs to.
type ChatResponse struct {
	SessionID string
	Answer    rag.AskResponse
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID         string
	Turns      []conversation.Turn
	CreatedAt  time.Time
	LastActive time.Time
}

// ConversationService answers questions, either statelessly or within sessions.
type ConversationService interface {
	// Query answers a question using the history supplied by the caller.
	Query(ctx context.Context, req QueryRequest) (rag.AskResponse, error)
	// Chat answers a question within a session, creating one if needed.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Session returns a snapshot of a session.
	Session(ctx context.Context, id string) (SessionInfo, error)
	// DeleteSession drops a session and its history.
	DeleteSession(ctx context.Context, id string) error
}

// Options configures a conversation service.
type Options struct {
	// MaxHistory bounds the turns kept per session and accepted per query.
	MaxHistory int
	// IdleTTL evicts sessions unused for this long. Zero disables eviction.
	IdleTTL time.Duration
}

type session struct {
	mu         sync.Mutex
	id         string
	history    *conversation.History
	createdAt  time.Time
	lastActive time.Time

	// inFlight counts Chat calls holding the session; guarded by SessionService.mu.
	inFlight int
}

// SessionService implements ConversationService with in-memory sessions.
type SessionService struct {
	answerer Answerer
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewConversationService creates a SessionService.
func NewConversationService(answerer Answerer, opts Options) *SessionService {
	if opts.MaxHistory < 0 {
		opts.MaxHistory = 0
	}
	return &SessionService{
		answerer: answerer,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Query answers a question against a throwaway history built from req.History.
func (s *SessionService) Query(ctx context.Context, req QueryRequest) (rag.AskResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if err := validateQuestion(req.Question); err != nil {
		logger.WarnContext(ctx, "invalid query request", "error", err)
		return rag.AskResponse{}, err
	}
	for i, turn := range req.History {
		if turn.Role != conversation.RoleUser && turn.Role != conversation.RoleAssistant {
			return rag.AskResponse{}, &ValidationError{
				Field:   fmt.Sprintf("history[%d].role", i),
				Message: "must be user or assistant",
			}
		}
	}

	history := conversation.NewHistory(s.opts.MaxHistory)
	history.Append(req.History...)

	resp, err := s.answerer.AnswerQuestion(ctx, rag.AskRequest{
		Question: req.Question,
		TopK:     req.TopK,
		Debug:    req.Debug,
	}, history)
	if err != nil {
		return rag.AskResponse{}, WrapError(err, "failed to answer query")
	}
	return resp, nil
}

// Chat answers within a session. Requests for the same session are serialized
// so the history sees one exchange at a time.
func (s *SessionService) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if err := validateQuestion(req.Question); err != nil {
		logger.WarnContext(ctx, "invalid chat request", "error", err)
		return ChatResponse{}, err
	}

	sess, err := s.acquire(req.SessionID)
	if err != nil {
		return ChatResponse{}, err
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	resp, err := s.answerer.AnswerQuestion(ctx, rag.AskRequest{
		Question: req.Question,
		TopK:     req.TopK,
		Debug:    req.Debug,
	}, sess.history)
	sess.lastActive = s.now()
	if err != nil {
		return ChatResponse{}, WrapError(err, "failed to answer chat message")
	}

	logger.InfoContext(ctx, "chat message answered", "session_id", sess.id, "turns", sess.history.Len())
	return ChatResponse{SessionID: sess.id, Answer: resp}, nil
}

// Session returns a copy of the session's turns.
func (s *SessionService) Session(_ context.Context, id string) (SessionInfo, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return SessionInfo{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return SessionInfo{
		ID:         sess.id,
		Turns:      sess.history.Turns(),
		CreatedAt:  sess.createdAt,
		LastActive: sess.lastActive,
	}, nil
}

// DeleteSession removes the session. Deleting an unknown session is an error.
func (s *SessionService) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.lookup(id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "session deleted", "session_id", id)
	return nil
}

// EvictIdle drops sessions idle longer than the configured TTL and returns
// how many were removed. Sessions with a request in flight are kept, including
// one still waiting for the session lock.
func (s *SessionService) EvictIdle() int {
	if s.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.opts.IdleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if sess.inFlight > 0 || !sess.mu.TryLock() {
			continue
		}
		if sess.lastActive.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
		sess.mu.Unlock()
	}
	return evicted
}

// Run evicts idle sessions every interval until ctx is done.
func (s *SessionService) Run(ctx context.Context, interval time.Duration) {
	if s.opts.IdleTTL <= 0 || interval <= 0 {
		return
	}
	logger := contextutil.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(); n > 0 {
				logger.InfoContext(ctx, "evicted idle sessions", "count", n)
			}
		}
	}
}

// SessionCount returns the number of live sessions.
func (s *SessionService) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// acquire returns the named session, or a new one when id is empty, and
// pins it against eviction until release.
func (s *SessionService) acquire(id string) (*session, error) {
	if id == "" {
		now := s.now()
		sess := &session{
			id:         uuid.New().String(),
			history:    conversation.NewHistory(s.opts.MaxHistory),
			createdAt:  now,
			lastActive: now,
			inFlight:   1,
		}
		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		return sess, nil
	}

	if err := validateSessionID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.inFlight++
	return sess, nil
}

func (s *SessionService) release(sess *session) {
	s.mu.Lock()
	sess.inFlight--
	s.mu.Unlock()
}

func (s *SessionService) lookup(id string) (*session, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

func validateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Field: "session_id", Message: "must be a UUID"}
	}
	return nil
}

func validateQuestion(q string) error {
	if strings.TrimSpace(q) == "" {
		return &ValidationError{Field: "question", Message: "cannot be empty"}
	}
	return nil
}
