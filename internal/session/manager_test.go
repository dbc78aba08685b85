package session

import (
	"testing"
	"time"

	"github.com/coriolis-automation/opcua-server/pkg/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndActivate(t *testing.T) {
	m := NewManager(0)
	now := time.Now()

	s, status := m.Create("client-1", time.Minute, now)
	require.Equal(t, ua.Good, status)
	assert.Equal(t, StateCreated, s.State())

	activated, status := m.Activate(s.AuthenticationToken, AnonymousValidator{}, nil, 7)
	require.Equal(t, ua.Good, status)
	assert.Equal(t, StateActivated, activated.State())
	assert.Equal(t, uint32(7), activated.BoundChannel())
}

func TestActivateUnknownToken(t *testing.T) {
	m := NewManager(0)
	_, status := m.Activate(ua.NewGUIDNodeId(1, [16]byte{}), AnonymousValidator{}, nil, 1)
	assert.Equal(t, ua.BadSessionIdInvalid, status)
}

func TestActivateRejectedIdentity(t *testing.T) {
	m := NewManager(0)
	now := time.Now()
	s, _ := m.Create("client-1", time.Minute, now)

	v := UserNameValidator{Credentials: map[string][]byte{"alice": []byte("secret")}}
	_, status := m.Activate(s.AuthenticationToken, v, UserNameToken{UserName: "alice", Password: []byte("wrong")}, 1)
	assert.Equal(t, ua.BadIdentityTokenRejected, status)
}

func TestResolveRequiresActivation(t *testing.T) {
	m := NewManager(0)
	now := time.Now()
	s, _ := m.Create("client-1", time.Minute, now)

	_, status := m.Resolve(s.AuthenticationToken, now)
	assert.Equal(t, ua.BadSessionNotActivated, status)

	_, status = m.Activate(s.AuthenticationToken, AnonymousValidator{}, nil, 1)
	require.Equal(t, ua.Good, status)

	resolved, status := m.Resolve(s.AuthenticationToken, now)
	require.Equal(t, ua.Good, status)
	assert.Equal(t, s.ID, resolved.ID)
}

func TestSweepExpired(t *testing.T) {
	m := NewManager(0)
	now := time.Now()
	s, _ := m.Create("client-1", time.Millisecond, now)
	m.Activate(s.AuthenticationToken, AnonymousValidator{}, nil, 1)

	later := now.Add(time.Second)
	closed := m.SweepExpired(later)
	assert.Equal(t, 1, closed)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, m.Count())
}

func TestCloseSession(t *testing.T) {
	m := NewManager(0)
	now := time.Now()
	s, _ := m.Create("client-1", time.Minute, now)
	m.Close(s.ID)
	assert.Equal(t, StateClosed, s.State())

	_, status := m.Resolve(s.AuthenticationToken, now)
	assert.Equal(t, ua.BadSessionIdInvalid, status)
}

func TestMaxSessionsEnforced(t *testing.T) {
	m := NewManager(1)
	now := time.Now()
	_, status := m.Create("client-1", time.Minute, now)
	require.Equal(t, ua.Good, status)

	_, status = m.Create("client-2", time.Minute, now)
	assert.Equal(t, ua.BadTooManySessions, status)
}
