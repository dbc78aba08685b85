package subscription

import (
	"testing"
	"time"

	"github.com/coriolis-automation/opcua-server/pkg/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitoredItemDeadbandAbsolute(t *testing.T) {
	item := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), ua.AttrValue, time.Millisecond, 10, false, DataChangeFilter{
		Deadband:      DeadbandAbsolute,
		DeadbandValue: 5,
	})

	now := time.Now()
	enq := item.Sample(ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeDouble, 10.0), now), now)
	assert.True(t, enq)

	enq = item.Sample(ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeDouble, 12.0), now), now)
	assert.False(t, enq, "change of 2 should not pass a deadband of 5")

	enq = item.Sample(ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeDouble, 20.0), now), now)
	assert.True(t, enq, "change of 10 should pass a deadband of 5")
}

func TestMonitoredItemQueueDiscardOldest(t *testing.T) {
	item := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), ua.AttrValue, time.Millisecond, 2, true, DataChangeFilter{})
	now := time.Now()
	item.Sample(ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeInt32, int32(1)), now), now)
	item.Sample(ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeInt32, int32(2)), now), now)
	item.Sample(ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeInt32, int32(3)), now), now)

	queued := item.Drain()
	require.Len(t, queued, 2)
	assert.Equal(t, int32(2), queued[0].Value.Value)
	assert.Equal(t, int32(3), queued[1].Value.Value)
}

func TestSubscriptionTickKeepAlive(t *testing.T) {
	s := New(1, ua.NewGUIDNodeId(1, [16]byte{}), time.Millisecond, 0, 2, 0)
	s.Activate()

	now := time.Now()
	_, ok := s.Tick(now)
	assert.False(t, ok, "nothing due yet at t=0")

	t1 := now.Add(2 * time.Millisecond)
	_, ok = s.Tick(t1)
	assert.False(t, ok, "first empty interval only increments keepalive counter")

	t2 := t1.Add(2 * time.Millisecond)
	msg, ok := s.Tick(t2)
	require.True(t, ok)
	assert.Empty(t, msg.DataChanges)
	assert.Equal(t, StateKeepAlive, s.State())
}

func TestSubscriptionTickDataChangeAndRepublish(t *testing.T) {
	s := New(1, ua.NewGUIDNodeId(1, [16]byte{}), time.Millisecond, 0, 10, 0)
	s.Activate()
	item := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), ua.AttrValue, time.Millisecond, 10, false, DataChangeFilter{})
	s.AddMonitoredItem(item, 42)

	now := time.Now()
	item.Sample(ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeInt32, int32(7)), now), now)

	t1 := now.Add(2 * time.Millisecond)
	msg, ok := s.Tick(t1)
	require.True(t, ok)
	require.Len(t, msg.DataChanges, 1)
	assert.Equal(t, uint32(42), msg.DataChanges[0].ClientHandle)
	assert.Equal(t, uint32(1), msg.SequenceNumber)

	replay, status := s.Republish(1)
	require.Equal(t, ua.Good, status)
	assert.Equal(t, msg.SequenceNumber, replay.SequenceNumber)

	_, status = s.Republish(99)
	assert.Equal(t, ua.BadMessageNotAvailable, status)
}

func TestSubscriptionAcknowledge(t *testing.T) {
	s := New(1, ua.NewGUIDNodeId(1, [16]byte{}), time.Millisecond, 0, 10, 0)
	s.Activate()
	item := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), ua.AttrValue, time.Millisecond, 10, false, DataChangeFilter{})
	s.AddMonitoredItem(item, 1)
	now := time.Now()
	item.Sample(ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeInt32, int32(1)), now), now)
	s.Tick(now.Add(2 * time.Millisecond))

	assert.True(t, s.AcknowledgeSequence(1))
	_, status := s.Republish(1)
	assert.Equal(t, ua.BadMessageNotAvailable, status)
}
