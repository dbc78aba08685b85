package subscription

import (
	"sync"
	"time"

	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// State is the Subscription state machine of : Normal
// publishes on schedule, Late means publishing fell behind a missed
// interval with data waiting, KeepAlive means the interval elapsed
// with nothing to report, Closed is terminal. Tick never moves a
// subscription into Late; it only switches between Normal, KeepAlive
// and Closed.
type State uint8

const (
	StateCreating State = iota
	StateNormal
	StateLate
	StateKeepAlive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "Creating"
	case StateNormal:
		return "Normal"
	case StateLate:
		return "Late"
	case StateKeepAlive:
		return "KeepAlive"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// NotificationMessage is one Publish response payload: a sequence
// number and the DataChange notifications packed into it.
type NotificationMessage struct {
	SequenceNumber uint32
	PublishTime    time.Time
	DataChanges    []MonitoredItemNotification
}

// MonitoredItemNotification pairs a MonitoredItem's client handle with its sampled value.
type MonitoredItemNotification struct {
	ClientHandle uint32
	Value        ua.DataValue
}

// Subscription owns a set of MonitoredItems and packs their queued
// samples into NotificationMessages on its publishing interval,
// keeping a retransmission queue for Republish.
type Subscription struct {
	mu sync.Mutex

	ID                 uint32
	SessionAuthToken   ua.NodeId
	PublishingInterval time.Duration
	LifetimeCount      uint32
	MaxKeepAliveCount  uint32
	MaxNotifications   uint32
	PublishingEnabled  bool

	state State

	items map[uint32]*MonitoredItem

	lastPublishAt    time.Time
	keepAliveCounter uint32
	lifetimeCounter  uint32

	nextSequence uint32
	retransmit   map[uint32]NotificationMessage

	// ClientHandles maps MonitoredItem id -> the client-chosen handle
	// echoed back in notifications.
	clientHandles map[uint32]uint32
}

// New constructs a Subscription in state Creating; the
// caller transitions it to Normal once CreateSubscription completes.
func New(id uint32, authToken ua.NodeId, publishingInterval time.Duration, lifetimeCount, maxKeepAliveCount, maxNotifications uint32) *Subscription {
	return &Subscription{
		ID:                 id,
		SessionAuthToken:   authToken,
		PublishingInterval: publishingInterval,
		LifetimeCount:      lifetimeCount,
		MaxKeepAliveCount:  maxKeepAliveCount,
		MaxNotifications:   maxNotifications,
		PublishingEnabled:  true,
		state:              StateCreating,
		items:              make(map[uint32]*MonitoredItem),
		retransmit:         make(map[uint32]NotificationMessage),
		clientHandles:      make(map[uint32]uint32),
	}
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activate transitions Creating -> Normal.
func (s *Subscription) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCreating {
		s.state = StateNormal
	}
}

// Close transitions to Closed, a terminal state.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// AddMonitoredItem registers an item under this subscription.
func (s *Subscription) AddMonitoredItem(item *MonitoredItem, clientHandle uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	s.clientHandles[item.ID] = clientHandle
}

// RemoveMonitoredItem deletes an item; ok is false if it wasn't found.
func (s *Subscription) RemoveMonitoredItem(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	delete(s.clientHandles, id)
	return true
}

// Items returns a snapshot of owned MonitoredItems.
func (s *Subscription) Items() []*MonitoredItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MonitoredItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out
}

// SetPublishingMode implements SetPublishingMode.
func (s *Subscription) SetPublishingMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PublishingEnabled = enabled
}

// Tick evaluates the publishing-interval timer at `now` against the
// Normal/KeepAlive state machine. It returns a
// NotificationMessage when one should be sent (either data available
// or the keep-alive count elapsed), or ok=false when nothing is due
// yet. The caller is responsible for actually sending the message and
// for the Publish-request-queue side of this (that lives in Engine).
func (s *Subscription) Tick(now time.Time) (NotificationMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed || !s.PublishingEnabled {
		return NotificationMessage{}, false
	}
	if now.Sub(s.lastPublishAt) < s.PublishingInterval {
		return NotificationMessage{}, false
	}

	hasData := false
	for _, item := range s.items {
		if item.HasQueued() {
			hasData = true
			break
		}
	}

	if !hasData {
		if s.lastPublishAt.IsZero() {
			// First evaluation starts the interval clock; no interval has elapsed yet.
			s.lastPublishAt = now
			return NotificationMessage{}, false
		}
		s.keepAliveCounter++
		if s.keepAliveCounter < s.MaxKeepAliveCount {
			s.lifetimeCounter++
			if s.LifetimeCount > 0 && s.lifetimeCounter >= s.LifetimeCount {
				s.state = StateClosed
			}
			return NotificationMessage{}, false
		}
		// KeepAlive: send an empty notification to prove liveness.
		s.keepAliveCounter = 0
		s.lifetimeCounter = 0
		s.lastPublishAt = now
		s.state = StateKeepAlive
		return NotificationMessage{SequenceNumber: 0, PublishTime: now}, true
	}

	s.lifetimeCounter = 0

	var changes []MonitoredItemNotification
	for id, item := range s.items {
		for _, dv := range item.Drain() {
			changes = append(changes, MonitoredItemNotification{
				ClientHandle: s.clientHandles[id],
				Value:        dv,
			})
			if s.MaxNotifications > 0 && uint32(len(changes)) >= s.MaxNotifications {
				break
			}
		}
	}

	s.keepAliveCounter = 0
	s.lastPublishAt = now
	if s.state != StateClosed {
		s.state = StateNormal
	}

	s.nextSequence++
	msg := NotificationMessage{SequenceNumber: s.nextSequence, PublishTime: now, DataChanges: changes}
	s.retransmit[msg.SequenceNumber] = msg
	return msg, true
}

// Republish implements the Republish service: returns a
// previously sent NotificationMessage by sequence number, or
// BadMessageNotAvailable if it was never sent or has already been
// acknowledged/evicted.
func (s *Subscription) Republish(sequenceNumber uint32) (NotificationMessage, ua.StatusCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.retransmit[sequenceNumber]
	if !ok {
		return NotificationMessage{}, ua.BadMessageNotAvailable
	}
	return msg, ua.Good
}

// AcknowledgeSequence evicts a notification from the retransmission
// queue once the client has confirmed receipt (this Publish
// request "SubscriptionAcknowledgements").
func (s *Subscription) AcknowledgeSequence(sequenceNumber uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.retransmit[sequenceNumber]; !ok {
		return false
	}
	delete(s.retransmit, sequenceNumber)
	return true
}
