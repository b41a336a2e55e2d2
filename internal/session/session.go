// Package session tracks conversation sessions for VoiceDesk. A session holds
// the sliding window of recent turns the resolver sees, plus the carry-over
// references ("delete it", "move that file") that make follow-up utterances
// resolvable.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance or reply within a session.
type Turn struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time
}

// Context carries references from earlier turns so follow-ups can omit them.
type Context struct {
	// LastEmailID is the message the user most recently viewed or acted on.
	LastEmailID string
	// LastFilePath is the file the user most recently found or acted on.
	LastFilePath string
	// LastFolder is the mail folder the user most recently listed.
	LastFolder string
}

// BuildInjection renders the carry-over context as a prompt prefix. Empty
// fields are omitted so a fresh session injects nothing.
func (c Context) BuildInjection() string {
	var parts []string
	if c.LastEmailID != "" {
		parts = append(parts, "[Last email: "+c.LastEmailID+"]")
	}
	if c.LastFilePath != "" {
		parts = append(parts, "[Last file: "+c.LastFilePath+"]")
	}
	if c.LastFolder != "" {
		parts = append(parts, "[Last folder: "+c.LastFolder+"]")
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " ") + "\n"
}

// Session is one user's ongoing conversation.
type Session struct {
	mu sync.RWMutex

	id           string
	createdAt    time.Time
	lastActivity time.Time
	window       []Turn
	windowSize   int
	context      Context
}

// New creates a session with the given sliding window size.
func New(id string, windowSize int) *Session {
	if windowSize < 1 {
		windowSize = 1
	}
	now := time.Now()
	return &Session{
		id:           id,
		createdAt:    now,
		lastActivity: now,
		window:       make([]Turn, 0, windowSize),
		windowSize:   windowSize,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// AddTurn appends a turn, evicting the oldest once the window is full.
// Eviction only narrows what the resolver sees; the transcript log keeps
// every turn.
func (s *Session) AddTurn(role Role, text string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
	s.window = append(s.window, turn)
	if len(s.window) > s.windowSize {
		s.window = s.window[len(s.window)-s.windowSize:]
	}
	s.lastActivity = turn.Timestamp
	return turn
}

// Window returns a copy of the current turn window, oldest first.
func (s *Session) Window() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.window))
	copy(out, s.window)
	return out
}

// Context returns a snapshot of the carry-over references.
func (s *Session) Context() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.context
}

// UpdateContext applies fn to the carry-over context under the session lock.
func (s *Session) UpdateContext(fn func(*Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.context)
}

// Touch marks activity without recording a turn. The orchestrator calls it
// for barge-ins that cancel work but never become turns.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IdleFor reports how long the session has been without activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActivity)
}

// Manager owns all live sessions.
type Manager struct {
	mu sync.RWMutex

	sessions          map[string]*Session
	windowSize        int
	inactivityTimeout time.Duration
}

// ManagerConfig configures session lifetimes.
type ManagerConfig struct {
	// WindowSize is the sliding window length for every session.
	WindowSize int
	// InactivityTimeout expires idle sessions (0 = never).
	InactivityTimeout time.Duration
}

// DefaultManagerConfig returns production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		WindowSize:        8,
		InactivityTimeout: 10 * time.Minute,
	}
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.WindowSize < 1 {
		cfg.WindowSize = DefaultManagerConfig().WindowSize
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		windowSize:        cfg.WindowSize,
		inactivityTimeout: cfg.InactivityTimeout,
	}
}

// GetOrCreate returns the session with the given ID, creating it if absent.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s = New(id, m.windowSize)
	m.sessions[id] = s
	return s
}

// Get returns the session with the given ID, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Remove drops a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// ReapIdle removes sessions idle past the inactivity timeout and returns
// their IDs. With no timeout configured it removes nothing.
func (m *Manager) ReapIdle() []string {
	if m.inactivityTimeout <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped []string
	for id, s := range m.sessions {
		if s.IdleFor() > m.inactivityTimeout {
			delete(m.sessions, id)
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
