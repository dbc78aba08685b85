package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/coriolis-automation/opcua-server/internal/addressspace"
	"github.com/coriolis-automation/opcua-server/pkg/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngineWithVariable(t *testing.T) (*Engine, ua.NodeId) {
	t.Helper()
	as, err := addressspace.New(0)
	require.NoError(t, err)
	require.NoError(t, addressspace.SeedStandardNamespace(as))

	id := ua.NewNumericNodeId(1, 1)
	v, err := addressspace.NewVariableNode(id, ua.QualifiedName{Name: "Temp"}, ua.LocalizedText{Text: "Temp"}, addressspace.VariableOptions{
		DataType:    ua.NewNumericNodeId(0, 11), // Double
		ValueRank:   -1,
		AccessLevel: ua.AccessLevelCurrentRead | ua.AccessLevelCurrentWrite,
	})
	require.NoError(t, err)
	require.NoError(t, as.Insert(v))

	return NewEngine(as, time.Millisecond), id
}

func TestEngineCreateSubscriptionAndMonitoredItem(t *testing.T) {
	e, nodeID := newEngineWithVariable(t)
	authToken := ua.NewGUIDNodeId(1, [16]byte{1})

	s, status := e.Create(authToken, time.Millisecond, 0, 10, 0)
	require.Equal(t, ua.Good, status)

	results, status := e.CreateMonitoredItems(s.ID, []MonitoredItemRequest{
		{NodeID: nodeID, AttributeID: ua.AttrValue, ClientHandle: 1, SamplingInterval: time.Millisecond, QueueSize: 5},
	})
	require.Equal(t, ua.Good, status)
	require.Len(t, results, 1)
	assert.Equal(t, ua.Good, results[0].Status)
}

func TestEngineCreateMonitoredItemUnknownNode(t *testing.T) {
	e, _ := newEngineWithVariable(t)
	authToken := ua.NewGUIDNodeId(1, [16]byte{2})
	s, _ := e.Create(authToken, time.Millisecond, 0, 10, 0)

	results, status := e.CreateMonitoredItems(s.ID, []MonitoredItemRequest{
		{NodeID: ua.NewNumericNodeId(9, 9), AttributeID: ua.AttrValue, ClientHandle: 1},
	})
	require.Equal(t, ua.Good, status)
	assert.Equal(t, ua.BadNodeIdUnknown, results[0].Status)
}

func TestEnginePublishDeliversDataChange(t *testing.T) {
	e, nodeID := newEngineWithVariable(t)
	authToken := ua.NewGUIDNodeId(1, [16]byte{3})

	s, _ := e.Create(authToken, time.Millisecond, 0, 10, 0)
	_, status := e.CreateMonitoredItems(s.ID, []MonitoredItemRequest{
		{NodeID: nodeID, AttributeID: ua.AttrValue, ClientHandle: 7, SamplingInterval: time.Millisecond, QueueSize: 5},
	})
	require.Equal(t, ua.Good, status)

	status = e.addressSpace.Write(nodeID, ua.AttrValue, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeDouble, 42.0), time.Now()))
	require.Equal(t, ua.Good, status)

	e.sampleAll(time.Now().Add(2 * time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := &PublishRequest{Result: make(chan PublishResult, 1)}
	res := e.Publish(ctx, authToken, req)

	require.Equal(t, ua.Good, res.Status)
	require.Len(t, res.Notification.DataChanges, 1)
	assert.Equal(t, uint32(7), res.Notification.DataChanges[0].ClientHandle)
	assert.Equal(t, 42.0, res.Notification.DataChanges[0].Value.Value.Value)
}

func TestEngineCloseSessionRemovesSubscriptions(t *testing.T) {
	e, _ := newEngineWithVariable(t)
	authToken := ua.NewGUIDNodeId(1, [16]byte{4})
	s, _ := e.Create(authToken, time.Millisecond, 0, 10, 0)

	e.CloseSession(authToken)
	_, ok := e.Get(s.ID)
	assert.False(t, ok)
}

func TestEngineDeleteMonitoredItemsUnknownID(t *testing.T) {
	e, _ := newEngineWithVariable(t)
	authToken := ua.NewGUIDNodeId(1, [16]byte{5})
	s, _ := e.Create(authToken, time.Millisecond, 0, 10, 0)

	statuses, status := e.DeleteMonitoredItems(s.ID, []uint32{999})
	require.Equal(t, ua.Good, status)
	assert.Equal(t, ua.BadMonitoredItemIdInvalid, statuses[0])
}
