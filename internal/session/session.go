// Package session holds in-memory chat session state. Sessions accumulate
// messages until server restart; only the conversation log is durable.
package session

import (
	"regexp"
	"sync"
	"time"

	"github.com/echosofme/echos-server/internal/domain"
	"github.com/google/uuid"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Session is one user's chat transcript. The message list is append-only and
// ordered by creation time.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	// turnMu serializes whole chat turns for this session. Turns on
	// different sessions are fully independent.
	turnMu sync.Mutex

	// mu guards messages for concurrent readers while a turn is in flight.
	mu       sync.RWMutex
	messages []domain.Message
}

// LockTurn acquires the per-session turn lock.
func (s *Session) LockTurn() {
	s.turnMu.Lock()
}

// UnlockTurn releases the per-session turn lock.
func (s *Session) UnlockTurn() {
	s.turnMu.Unlock()
}

// Append adds messages to the transcript as one atomic batch. A reader never
// observes a partially appended exchange.
func (s *Session) Append(msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the transcript.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Store is the session registry. Injected rather than module-global so
// lifetime and concurrency discipline stay explicit and testable.
type Store interface {
	// Get returns the session with the given id, if it exists and belongs
	// to userID.
	Get(id, userID string) (*Session, bool)

	// GetOrCreate resolves an existing session or creates a new one. An
	// empty or malformed id, or an id owned by another user, yields a fresh
	// session with a generated id. Returns true if a session was created.
	GetOrCreate(id, userID string) (*Session, bool)

	// Delete removes a session from the registry.
	Delete(id string)
}

// MemoryStore implements Store with an in-process map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Get returns the session with the given id, if it belongs to userID.
func (m *MemoryStore) Get(id, userID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok || sess.UserID != userID {
		return nil, false
	}
	return sess, true
}

// GetOrCreate resolves an existing session or creates a new one.
func (m *MemoryStore) GetOrCreate(id, userID string) (*Session, bool) {
	if id != "" && sessionIDPattern.MatchString(id) {
		m.mu.RLock()
		sess, ok := m.sessions[id]
		m.mu.RUnlock()
		if ok && sess.UserID == userID {
			return sess, false
		}
	} else {
		id = ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the write lock; a concurrent call may have created it.
	if id != "" {
		if sess, ok := m.sessions[id]; ok && sess.UserID == userID {
			return sess, false
		}
	}

	if id == "" || m.sessions[id] != nil {
		id = uuid.NewString()
	}

	sess := &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	m.sessions[id] = sess
	return sess, true
}

// Delete removes a session from the registry.
func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
