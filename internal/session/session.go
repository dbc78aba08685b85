// Package session implements the Session and SessionManager of
// : CreateSession/ActivateSession/CloseSession, the
// authentication-token-gated dispatch every later service request goes
// through, and the idle-timeout sweep that closes abandoned sessions.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// State is the Session lifecycle state.
type State uint8

const (
	StateCreated State = iota
	StateActivated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateActivated:
		return "Activated"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is one client's authenticated conversation with the server.
// A Session is bound to exactly one SecureChannel at a time but
// survives a channel being renewed or even re-established (
// "Session" — this is the protocol detail that makes Session and
// SecureChannel independent lifetimes).
type Session struct {
	mu sync.RWMutex

	ID                  ua.NodeId
	AuthenticationToken ua.NodeId
	Name                string
	Identity            Identity

	state           State
	secureChannelID uint32
	timeout         time.Duration
	lastActivity    time.Time

	// SubscriptionIDs are the subscription ids this session owns.
	// subscription.Engine.CloseSession does not read this set; it
	// matches subscriptions by authentication token.
	subscriptionIDs map[uint32]struct{}
}

func newSession(id, token ua.NodeId, name string, timeout time.Duration, now time.Time) *Session {
	return &Session{
		ID:                  id,
		AuthenticationToken: token,
		Name:                name,
		state:               StateCreated,
		timeout:             timeout,
		lastActivity:        now,
		subscriptionIDs:     make(map[uint32]struct{}),
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Timeout reports the session's idle timeout.
func (s *Session) Timeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeout
}

// Touch records activity, resetting the idle timeout clock. Every
// service request dispatched through this session must call Touch
//.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// Expired reports whether the session has been idle past its timeout.
func (s *Session) Expired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateClosed {
		return false
	}
	return now.Sub(s.lastActivity) > s.timeout
}

// BindChannel rebinds this session to a (possibly new) SecureChannel,
// allowed at any time— a client may reconnect with a
// fresh channel and resume the same session via ActivateSession.
func (s *Session) BindChannel(channelID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secureChannelID = channelID
}

// BoundChannel returns the SecureChannel id this session currently trusts.
func (s *Session) BoundChannel() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secureChannelID
}

func (s *Session) activate(identity Identity, channelID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Identity = identity
	s.secureChannelID = channelID
	s.state = StateActivated
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// AddSubscription records ownership of a subscription id.
func (s *Session) AddSubscription(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptionIDs[id] = struct{}{}
}

// RemoveSubscription drops ownership of a subscription id.
func (s *Session) RemoveSubscription(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptionIDs, id)
}

// SubscriptionIDs returns a snapshot of owned subscription ids.
func (s *Session) SubscriptionIDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint32, 0, len(s.subscriptionIDs))
	for id := range s.subscriptionIDs {
		out = append(out, id)
	}
	return out
}

// newSessionID mints a GUID-identified NodeId in namespace 1, the
// server's application namespace,// SessionId be globally unguessable.
func newSessionID() ua.NodeId {
	return ua.NewGUIDNodeId(1, uuid.New())
}

// newAuthenticationToken mints the opaque token ActivateSession and
// every subsequent request must present.
func newAuthenticationToken() ua.NodeId {
	return ua.NewGUIDNodeId(1, uuid.New())
}
