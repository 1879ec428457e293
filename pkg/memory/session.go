package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/llm"
)

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionCancelled = "cancelled"
)

// Session is one in-flight query conversation.
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id,omitempty"`
	Messages  []llm.Message `json:"messages"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Error     string        `json:"error,omitempty"`

	mu     sync.Mutex
	cancel context.CancelFunc
}

// AddMessage appends one turn.
func (s *Session) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, llm.Message{Role: role, Content: content})
	s.UpdatedAt = time.Now().UTC()
}

// SetStatus updates the session status, recording err on failure.
func (s *Session) SetStatus(status, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.Error = errMsg
	s.UpdatedAt = time.Now().UTC()
}

// SetCancel stores the cancel function for in-flight processing.
func (s *Session) SetCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// Cancel aborts in-flight processing. Returns false when nothing was
// running.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	s.Status = SessionCancelled
	s.UpdatedAt = time.Now().UTC()
	return true
}

// snapshot copies the serializable fields.
func (s *Session) snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]llm.Message, len(s.Messages))
	copy(messages, s.Messages)
	return Session{
		ID:        s.ID,
		UserID:    s.UserID,
		Messages:  messages,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Error:     s.Error,
	}
}

// SessionStore keeps sessions in memory and periodically serializes them
// to data/state/sessions.json.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	path     string
	logger   *slog.Logger
}

func NewSessionStore(dataDir string) (*SessionStore, error) {
	dir := filepath.Join(dataDir, "state")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session state directory: %w", err)
	}
	return &SessionStore{
		sessions: map[string]*Session{},
		path:     filepath.Join(dir, "sessions.json"),
		logger:   slog.Default().With("component", "session-store"),
	}, nil
}

// Create starts a session with the user's first message.
func (ss *SessionStore) Create(userID, firstMessage string) *Session {
	now := time.Now().UTC()
	session := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if firstMessage != "" {
		session.Messages = append(session.Messages, llm.Message{Role: llm.RoleUser, Content: firstMessage})
	}
	ss.mu.Lock()
	ss.sessions[session.ID] = session
	ss.mu.Unlock()
	return session
}

// Get returns a session by ID.
func (ss *SessionStore) Get(sessionID string) (*Session, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	session, ok := ss.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return session, nil
}

// List returns snapshots of every session.
func (ss *SessionStore) List() []Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	out := make([]Session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		out = append(out, s.snapshot())
	}
	return out
}

// Delete removes a session, canceling any in-flight processing.
func (ss *SessionStore) Delete(sessionID string) error {
	ss.mu.Lock()
	session, ok := ss.sessions[sessionID]
	if ok {
		delete(ss.sessions, sessionID)
	}
	ss.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	session.Cancel()
	return nil
}

// Prune drops sessions not updated within maxAge. In-flight sessions are
// cancelled first. Returns the number removed.
func (ss *SessionStore) Prune(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	ss.mu.Lock()
	var stale []*Session
	for id, session := range ss.sessions {
		session.mu.Lock()
		old := session.UpdatedAt.Before(cutoff)
		session.mu.Unlock()
		if old {
			stale = append(stale, session)
			delete(ss.sessions, id)
		}
	}
	ss.mu.Unlock()

	for _, session := range stale {
		session.Cancel()
	}
	return len(stale)
}

// Serialize writes all sessions atomically.
func (ss *SessionStore) Serialize() error {
	return writeJSONAtomic(ss.path, ss.List())
}

// Restore loads previously serialized sessions; in-flight ones come back
// without cancel functions and stay readable only.
func (ss *SessionStore) Restore() error {
	data, err := os.ReadFile(ss.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read sessions file: %w", err)
	}
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("failed to parse sessions file: %w", err)
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for i := range sessions {
		ss.sessions[sessions[i].ID] = &sessions[i]
	}
	return nil
}

// RunSerializer serializes on the configured interval until ctx ends, with
// one final flush on the way out.
func (ss *SessionStore) RunSerializer(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := ss.Serialize(); err != nil {
				ss.logger.Warn("Final session serialization failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := ss.Serialize(); err != nil {
				ss.logger.Warn("Session serialization failed", "error", err)
			}
		}
	}
}
