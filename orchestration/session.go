package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/memory"
)

// Session scopes one or more goal executions: a correlation ID for
// tracing, a cancellation context, and the session's working memory keys.
type Session struct {
	ID            string
	CorrelationID string
	CreatedAt     time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the session's cancellation context.
func (s *Session) Context() context.Context { return s.ctx }

// Cancel stops all work running under the session.
func (s *Session) Cancel() { s.cancel() }

// SessionManager tracks live sessions and owns their working-store
// cleanup.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	working  *memory.WorkingStore
	logger   core.Logger
}

// NewSessionManager creates a session manager over the working store.
func NewSessionManager(working *memory.WorkingStore, logger core.Logger) *SessionManager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		working:  working,
		logger:   logger,
	}
}

// Ensure returns the session with the given ID, creating it if absent.
// An empty ID creates a fresh session.
func (m *SessionManager) Ensure(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "" {
		id = "session_" + uuid.NewString()
	}
	if s, ok := m.sessions[id]; ok {
		return s
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:            id,
		CorrelationID: uuid.NewString(),
		CreatedAt:     time.Now(),
		ctx:           ctx,
		cancel:        cancel,
	}
	m.sessions[id] = s
	m.logger.Debug("Session created", map[string]interface{}{
		"operation":      "session_create",
		"session_id":     id,
		"correlation_id": s.CorrelationID,
	})
	return s
}

// Get returns a live session.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Cancel propagates cancellation to every task running under the session.
// The session stays registered until Close.
func (m *SessionManager) Cancel(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		s.cancel()
	}
	return ok
}

// Close cancels the session and clears its working memory.
func (m *SessionManager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	if m.working != nil {
		m.working.Clear(id)
	}
	m.logger.Debug("Session closed", map[string]interface{}{
		"operation":  "session_close",
		"session_id": id,
	})
}

// CloseAll shuts down every live session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id)
	}
}
