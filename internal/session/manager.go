package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// DefaultTimeout is used when a client requests a zero or negative
// session timeout in CreateSession.
const DefaultTimeout = 60 * time.Second

// Manager owns every live Session, keyed by both SessionId and
// AuthenticationToken so a dispatched request (which only carries the
// token) can resolve its session in one lookup. Structured the way the
// teacher's TaskManager owns its task map: one RWMutex, slog for every
// lifecycle transition.
type Manager struct {
	mu         sync.RWMutex
	byID       map[string]*Session
	byToken    map[string]*Session
	maxSessions int
}

// NewManager returns an empty Manager. maxSessions caps concurrent
// sessions; 0 means unbounded.
func NewManager(maxSessions int) *Manager {
	return &Manager{
		byID:        make(map[string]*Session),
		byToken:     make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Create implements CreateSession: mints a SessionId and
// AuthenticationToken, registers the session in State Created (not yet
// usable until Activate succeeds).
func (m *Manager) Create(name string, requestedTimeout time.Duration, now time.Time) (*Session, ua.StatusCode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && len(m.byID) >= m.maxSessions {
		return nil, ua.BadTooManySessions
	}

	timeout := requestedTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s := newSession(newSessionID(), newAuthenticationToken(), name, timeout, now)
	m.byID[s.ID.Key()] = s
	m.byToken[s.AuthenticationToken.Key()] = s
	slog.Info("session created", "session_id", s.ID, "name", name, "timeout", timeout)
	return s, ua.Good
}

// Activate implements ActivateSession: resolves the
// session by authentication token, runs the identity validator, and
// transitions Created/Activated -> Activated, rebinding the channel.
func (m *Manager) Activate(token ua.NodeId, validator Validator, rawIdentity any, channelID uint32) (*Session, ua.StatusCode) {
	s, ok := m.lookupByToken(token)
	if !ok {
		return nil, ua.BadSessionIdInvalid
	}
	if s.State() == StateClosed {
		return nil, ua.BadSessionClosed
	}

	identity, err := validator.Validate(rawIdentity)
	if err != nil {
		slog.Warn("session activation rejected", "session_id", s.ID, "error", err)
		return nil, ua.BadIdentityTokenRejected
	}

	s.activate(identity, channelID)
	slog.Info("session activated", "session_id", s.ID, "identity", identity.DisplayName)
	return s, ua.Good
}

// Resolve looks up an activated session by authentication token for
// request dispatch: any other state is rejected.
func (m *Manager) Resolve(token ua.NodeId, now time.Time) (*Session, ua.StatusCode) {
	s, ok := m.lookupByToken(token)
	if !ok {
		return nil, ua.BadSessionIdInvalid
	}
	switch s.State() {
	case StateClosed:
		return nil, ua.BadSessionClosed
	case StateCreated:
		return nil, ua.BadSessionNotActivated
	}
	if s.Expired(now) {
		m.Close(s.ID)
		return nil, ua.BadSessionClosed
	}
	s.Touch(now)
	return s, ua.Good
}

// Close implements CloseSession: removes the session from both
// indices and marks it Closed so in-flight references observe the
// terminal state.
func (m *Manager) Close(id ua.NodeId) {
	m.mu.Lock()
	s, ok := m.byID[id.Key()]
	if ok {
		delete(m.byID, id.Key())
		delete(m.byToken, s.AuthenticationToken.Key())
	}
	m.mu.Unlock()
	if ok {
		s.close()
		slog.Info("session closed", "session_id", id)
	}
}

// SweepExpired closes every session idle past its timeout; intended to
// run on a periodic scheduler tick, grounded
// on the teacher's scheduler-driven housekeeping pattern.
func (m *Manager) SweepExpired(now time.Time) int {
	m.mu.RLock()
	var expired []ua.NodeId
	for _, s := range m.byID {
		if s.Expired(now) {
			expired = append(expired, s.ID)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.Close(id)
	}
	return len(expired)
}

func (m *Manager) lookupByToken(token ua.NodeId) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byToken[token.Key()]
	return s, ok
}

// Count returns the number of live (non-closed) sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
