package subscription

import (
	"math"
	"sync"
	"time"

	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// DeadbandType selects how MonitoredItem.Filter suppresses
// unchanged-enough samples.
type DeadbandType uint8

const (
	DeadbandNone DeadbandType = iota
	DeadbandAbsolute
	DeadbandPercent
)

// DataChangeFilter mirrors the wire DataChangeFilter structure: which
// change triggers a notification, and by how much.
type DataChangeFilter struct {
	Deadband     DeadbandType
	DeadbandValue float64
	EURangeLow    float64 // used by DeadbandPercent
	EURangeHigh   float64
}

// passes reports whether newValue differs from last enough to notify,
//: DeadbandNone always notifies; Absolute compares
// |new-old| against DeadbandValue; Percent scales DeadbandValue against
// the configured EU range.
func (f DataChangeFilter) passes(last, next float64, hadLast bool) bool {
	if !hadLast || f.Deadband == DeadbandNone {
		return true
	}
	diff := math.Abs(next - last)
	switch f.Deadband {
	case DeadbandAbsolute:
		return diff >= f.DeadbandValue
	case DeadbandPercent:
		span := f.EURangeHigh - f.EURangeLow
		if span <= 0 {
			return true
		}
		return (diff/span)*100 >= f.DeadbandValue
	default:
		return true
	}
}

// MonitoringMode is the client-controlled sampling state for one item
//.
type MonitoringMode uint8

const (
	MonitoringDisabled MonitoringMode = iota
	MonitoringSampling
	MonitoringReporting
)

// MonitoredItem samples one (NodeId, AttributeId) pair on an interval
// and queues DataValue changes for its owning Subscription to pack
// into notifications.
type MonitoredItem struct {
	mu sync.Mutex

	ID              uint32
	NodeID          ua.NodeId
	AttributeID     ua.AttributeId
	SamplingInterval time.Duration
	QueueSize       uint32
	DiscardOldest   bool
	Mode            MonitoringMode
	Filter          DataChangeFilter

	lastSampledAt time.Time
	lastValue     ua.DataValue
	hasLastValue  bool
	lastNumeric   float64
	hasLastNumeric bool

	queue []ua.DataValue
}

// NewMonitoredItem constructs an item in MonitoringReporting mode,
// this default for CreateMonitoredItems.
func NewMonitoredItem(id uint32, nodeID ua.NodeId, attr ua.AttributeId, samplingInterval time.Duration, queueSize uint32, discardOldest bool, filter DataChangeFilter) *MonitoredItem {
	if queueSize == 0 {
		queueSize = 1
	}
	return &MonitoredItem{
		ID:               id,
		NodeID:           nodeID,
		AttributeID:      attr,
		SamplingInterval: samplingInterval,
		QueueSize:        queueSize,
		DiscardOldest:    discardOldest,
		Mode:             MonitoringReporting,
		Filter:           filter,
	}
}

// DueAt reports when this item should next be sampled.
func (m *MonitoredItem) DueAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSampledAt.Add(m.SamplingInterval)
}

// Sample evaluates a freshly read DataValue against the filter and, if
// it should be reported, enqueues it. now is recorded
// as the sampling instant regardless of outcome so DueAt advances.
func (m *MonitoredItem) Sample(dv ua.DataValue, now time.Time) (enqueued bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSampledAt = now

	if m.Mode != MonitoringReporting {
		return false
	}

	numeric, isNumeric := toFloat64(dv.Value.Value)
	if isNumeric {
		if !m.Filter.passes(m.lastNumeric, numeric, m.hasLastNumeric) {
			return false
		}
		m.lastNumeric = numeric
		m.hasLastNumeric = true
	} else if m.hasLastValue && dv.Value.Equal(m.lastValue.Value) && dv.Status == m.lastValue.Status {
		return false
	}

	m.lastValue = dv
	m.hasLastValue = true
	m.enqueue(dv)
	return true
}

func (m *MonitoredItem) enqueue(dv ua.DataValue) {
	if uint32(len(m.queue)) >= m.QueueSize {
		if m.DiscardOldest {
			m.queue = m.queue[1:]
		} else {
			return // discard the new value, keep the queue as-is
		}
	}
	m.queue = append(m.queue, dv)
}

// Drain removes and returns all queued values, oldest first.
func (m *MonitoredItem) Drain() []ua.DataValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

// HasQueued reports whether any samples are waiting to be packed into
// a notification.
func (m *MonitoredItem) HasQueued() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) > 0
}

// SetMode updates the client-controlled monitoring mode
// (SetMonitoringMode service, ).
func (m *MonitoredItem) SetMode(mode MonitoringMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Mode = mode
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
