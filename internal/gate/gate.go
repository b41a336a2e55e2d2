// Package gate implements the confirmation gate for destructive actions.
// A destructive command never dispatches directly; it is armed here and
// dispatches only after the user approves it within the deadline.
package gate

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/voicedesk/voicedesk/internal/fault"
	"github.com/voicedesk/voicedesk/internal/schema"
)

// State represents a gate's position in the confirmation lifecycle.
type State string

const (
	// StateIdle indicates no confirmation is pending.
	StateIdle State = "idle"
	// StateAwaiting indicates a destructive command is held, waiting for
	// the user's answer.
	StateAwaiting State = "awaiting_confirmation"
	// StateConfirmed indicates the user approved; the command may dispatch once.
	StateConfirmed State = "confirmed"
	// StateCancelled indicates the user refused or a new command superseded
	// the pending one.
	StateCancelled State = "cancelled"
	// StateExpired indicates the deadline passed before the user answered.
	StateExpired State = "expired"
)

// Decision is the outcome of matching an utterance against the lexicons.
type Decision string

const (
	// DecisionApproved means the utterance matched the affirmative lexicon.
	DecisionApproved Decision = "approved"
	// DecisionRefused means the utterance matched the negative lexicon.
	DecisionRefused Decision = "refused"
	// DecisionMismatch means the utterance matched neither lexicon. The
	// caller treats it as a fresh utterance which supersedes the pending
	// command.
	DecisionMismatch Decision = "mismatch"
)

// Pending describes the command a gate is holding.
type Pending struct {
	ID        string
	Command   *schema.StructuredCommand
	Prompt    string
	CreatedAt time.Time
	Deadline  time.Time
}

// Config holds gate timing and the spoken answer lexicons.
type Config struct {
	// Timeout is how long a pending confirmation stays answerable.
	Timeout time.Duration
	// Affirmatives are phrases accepted as approval.
	Affirmatives []string
	// Negatives are phrases accepted as refusal.
	Negatives []string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		Affirmatives: []string{"yes", "yeah", "confirm", "do it", "go ahead", "确认", "确认删除", "是的", "好的"},
		Negatives:    []string{"no", "cancel", "stop", "never mind", "取消", "不要", "算了"},
	}
}

// Gate is one session's confirmation gate. Expiry is evaluated lazily: a
// pending confirmation past its deadline reports StateExpired on the next
// observation, no timer fires.
type Gate struct {
	mu sync.RWMutex

	config  Config
	state   State
	pending *Pending
	now     func() time.Time
}

// New creates a gate in the idle state.
func New(cfg Config) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if len(cfg.Affirmatives) == 0 {
		cfg.Affirmatives = DefaultConfig().Affirmatives
	}
	if len(cfg.Negatives) == 0 {
		cfg.Negatives = DefaultConfig().Negatives
	}
	return &Gate{
		config: cfg,
		state:  StateIdle,
		now:    time.Now,
	}
}

// Arm holds a destructive command pending confirmation. If another command
// was already pending it is superseded: the old one is cancelled and the
// superseded pending entry is returned so the caller can report it.
func (g *Gate) Arm(cmd *schema.StructuredCommand, prompt string) (*Pending, *Pending) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.expireLocked()

	var superseded *Pending
	if g.state == StateAwaiting {
		superseded = g.pending
	}

	now := g.now()
	g.pending = &Pending{
		ID:        uuid.NewString(),
		Command:   cmd,
		Prompt:    prompt,
		CreatedAt: now,
		Deadline:  now.Add(g.config.Timeout),
	}
	g.state = StateAwaiting
	return g.pending, superseded
}

// State returns the current state, applying lazy expiry first.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked()
	return g.state
}

// Pending returns the held command while awaiting confirmation, or nil.
func (g *Gate) Pending() *Pending {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked()
	if g.state != StateAwaiting {
		return nil
	}
	return g.pending
}

// Resolve matches an utterance against the lexicons while a confirmation is
// pending. On approval it returns the held command exactly as armed; the
// gate never rewrites parameters. Resolving an expired gate returns a
// ConfirmationExpired fault; resolving an idle gate returns a
// ConfirmationMismatch fault.
func (g *Gate) Resolve(utterance string) (Decision, *schema.StructuredCommand, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.expireLocked()

	switch g.state {
	case StateExpired:
		pending := g.pending
		g.pending = nil
		g.state = StateIdle
		if pending != nil {
			return DecisionMismatch, nil, fault.New(fault.ConfirmationExpired, "confirmation window closed for %s", pending.Command.Type)
		}
		return DecisionMismatch, nil, fault.New(fault.ConfirmationExpired, "confirmation window closed")
	case StateAwaiting:
		// fall through to lexicon matching
	default:
		return DecisionMismatch, nil, fault.New(fault.ConfirmationMismatch, "no confirmation pending")
	}

	normalized := normalize(utterance)
	switch {
	case matchLexicon(normalized, g.config.Affirmatives):
		cmd := g.pending.Command
		g.pending = nil
		g.state = StateConfirmed
		return DecisionApproved, cmd, nil
	case matchLexicon(normalized, g.config.Negatives):
		g.pending = nil
		g.state = StateCancelled
		return DecisionRefused, nil, nil
	default:
		return DecisionMismatch, nil, nil
	}
}

// Cancel drops any pending confirmation. Used when a new command supersedes
// it or the session ends mid-confirmation.
func (g *Gate) Cancel() *Pending {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.expireLocked()
	if g.state != StateAwaiting {
		return nil
	}
	pending := g.pending
	g.pending = nil
	g.state = StateCancelled
	return pending
}

// Reset returns the gate to idle after a terminal state was observed.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = nil
	g.state = StateIdle
}

// expireLocked moves an overdue pending confirmation to expired. Must hold
// the write lock.
func (g *Gate) expireLocked() {
	if g.state == StateAwaiting && g.pending != nil && g.now().After(g.pending.Deadline) {
		g.state = StateExpired
	}
}

// normalize lowercases an utterance and strips surrounding punctuation so
// "Yes." and "yes" match the same lexicon entry.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

func matchLexicon(normalized string, lexicon []string) bool {
	for _, phrase := range lexicon {
		if normalized == normalize(phrase) {
			return true
		}
	}
	return false
}

// Manager owns one gate per session.
type Manager struct {
	mu     sync.RWMutex
	gates  map[string]*Gate
	config Config
}

// NewManager creates a gate manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		gates:  make(map[string]*Gate),
		config: cfg,
	}
}

// ForSession returns the session's gate, creating it if absent.
func (m *Manager) ForSession(sessionID string) *Gate {
	m.mu.RLock()
	g, ok := m.gates[sessionID]
	m.mu.RUnlock()
	if ok {
		return g
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gates[sessionID]; ok {
		return g
	}
	g = New(m.config)
	m.gates[sessionID] = g
	return g
}

// Drop removes a session's gate, cancelling anything pending.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	g := m.gates[sessionID]
	delete(m.gates, sessionID)
	m.mu.Unlock()

	if g != nil {
		g.Cancel()
	}
}
