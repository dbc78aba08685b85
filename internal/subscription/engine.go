package subscription

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coriolis-automation/opcua-server/internal/addressspace"
	"github.com/coriolis-automation/opcua-server/internal/metrics"
	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// PublishRequest is a pending Publish call waiting to be matched with a
// due NotificationMessage — a Publish request is a credit the session
// spends, not a poll. The engine resolves it by sending on Result
// exactly once.
type PublishRequest struct {
	SubscriptionHint uint32 // 0 = any subscription owned by this session
	Acknowledgements []uint32
	Result           chan PublishResult
}

// PublishResult is what a pending PublishRequest resolves to.
type PublishResult struct {
	SubscriptionID uint32
	Notification   NotificationMessage
	MoreNotifications bool
	Status         ua.StatusCode
}

// Engine owns every live Subscription and drives their publishing
// timers from one goroutine, the way the teacher's Scheduler owns one
// goroutine-free map plus atomic ID counters — here the map is driven
// by a ticking sampler goroutine instead, since Subscriptions need
// wall-clock driven sampling rather than one-shot jobs.
type Engine struct {
	mu            sync.RWMutex
	subscriptions map[uint32]*Subscription
	nextID        uint32

	addressSpace *addressspace.AddressSpace

	// pending holds Publish requests queued per authentication token,
	// FIFO, released as notifications become due.
	pendingMu sync.Mutex
	pending   map[string][]*PublishRequest

	samplingInterval time.Duration
	cancel           context.CancelFunc
	done             chan struct{}
}

// NewEngine constructs an Engine sampling at samplingInterval — the
// granularity at which every MonitoredItem's DueAt is checked,
// independent of each item's own SamplingInterval. A server may
// coalesce sampling onto a coarser internal clock.
func NewEngine(as *addressspace.AddressSpace, samplingInterval time.Duration) *Engine {
	if samplingInterval <= 0 {
		samplingInterval = 50 * time.Millisecond
	}
	return &Engine{
		subscriptions:    make(map[uint32]*Subscription),
		addressSpace:     as,
		pending:          make(map[string][]*PublishRequest),
		samplingInterval: samplingInterval,
	}
}

// Start launches the sampling/publishing goroutine.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(ctx)
}

// Stop halts the sampling goroutine and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.samplingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.sampleAll(now)
			e.publishAll(now)
		}
	}
}

func (e *Engine) sampleAll(now time.Time) {
	e.mu.RLock()
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, s := range e.subscriptions {
		subs = append(subs, s)
	}
	e.mu.RUnlock()

	for _, s := range subs {
		for _, item := range s.Items() {
			if now.Before(item.DueAt()) {
				continue
			}
			dv := e.addressSpace.Read(item.NodeID, item.AttributeID)
			item.Sample(dv, now)
		}
	}
}

func (e *Engine) publishAll(now time.Time) {
	e.mu.RLock()
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, s := range e.subscriptions {
		subs = append(subs, s)
	}
	e.mu.RUnlock()

	for _, s := range subs {
		msg, ok := s.Tick(now)
		if !ok {
			continue
		}
		if s.State() == StateClosed {
			e.Remove(s.ID)
		}
		e.deliver(s, msg)
	}
}

// deliver hands msg to the next queued Publish request for s's owning
// session (tracked by authentication token), or leaves it in the
// retransmission queue if none is waiting — a later Publish or
// Republish will pick it up.
func (e *Engine) deliver(s *Subscription, msg NotificationMessage) {
	key := s.SessionAuthToken.Key()
	e.pendingMu.Lock()
	queue := e.pending[key]
	if len(queue) == 0 {
		e.pendingMu.Unlock()
		return
	}
	req := queue[0]
	e.pending[key] = queue[1:]
	e.pendingMu.Unlock()

	metrics.NotificationsPublishedTotal.WithLabelValues(notificationKind(msg)).Inc()
	req.Result <- PublishResult{SubscriptionID: s.ID, Notification: msg, Status: ua.Good}
}

// notificationKind labels msg for the NotificationsPublishedTotal metric.
func notificationKind(msg NotificationMessage) string {
	if len(msg.DataChanges) == 0 {
		return "keep_alive"
	}
	return "data_change"
}

// Create implements CreateSubscription.
func (e *Engine) Create(authToken ua.NodeId, publishingInterval time.Duration, lifetimeCount, maxKeepAliveCount, maxNotifications uint32) (*Subscription, ua.StatusCode) {
	id := atomic.AddUint32(&e.nextID, 1)
	s := New(id, authToken, publishingInterval, lifetimeCount, maxKeepAliveCount, maxNotifications)
	s.Activate()

	e.mu.Lock()
	e.subscriptions[id] = s
	e.mu.Unlock()
	metrics.SubscriptionsOpen.Set(float64(e.Count()))

	slog.Info("subscription created", "subscription_id", id, "publishing_interval", publishingInterval)
	return s, ua.Good
}

// Count returns the number of live subscriptions.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}

// monitoredItemCount returns the total number of monitored items across
// every live subscription.
func (e *Engine) monitoredItemCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, s := range e.subscriptions {
		n += len(s.Items())
	}
	return n
}

// Get resolves a subscription by id.
func (e *Engine) Get(id uint32) (*Subscription, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.subscriptions[id]
	return s, ok
}

// Remove implements DeleteSubscriptions: removes and
// closes the subscription.
func (e *Engine) Remove(id uint32) bool {
	e.mu.Lock()
	s, ok := e.subscriptions[id]
	if ok {
		delete(e.subscriptions, id)
	}
	e.mu.Unlock()
	if ok {
		s.Close()
		metrics.SubscriptionsOpen.Set(float64(e.Count()))
		metrics.MonitoredItemsTotal.Set(float64(e.monitoredItemCount()))
		slog.Info("subscription deleted", "subscription_id", id)
	}
	return ok
}

// CreateMonitoredItems implements CreateMonitoredItems.
func (e *Engine) CreateMonitoredItems(subID uint32, items []MonitoredItemRequest) ([]MonitoredItemResult, ua.StatusCode) {
	s, ok := e.Get(subID)
	if !ok {
		return nil, ua.BadSubscriptionIdInvalid
	}
	results := make([]MonitoredItemResult, len(items))
	for i, req := range items {
		if _, ok := e.addressSpace.Find(req.NodeID); !ok {
			results[i] = MonitoredItemResult{Status: ua.BadNodeIdUnknown}
			continue
		}
		id := atomic.AddUint32(&e.nextID, 1)
		item := NewMonitoredItem(id, req.NodeID, req.AttributeID, req.SamplingInterval, req.QueueSize, req.DiscardOldest, req.Filter)
		s.AddMonitoredItem(item, req.ClientHandle)
		results[i] = MonitoredItemResult{MonitoredItemID: id, Status: ua.Good, RevisedSamplingInterval: req.SamplingInterval, RevisedQueueSize: item.QueueSize}
	}
	metrics.MonitoredItemsTotal.Set(float64(e.monitoredItemCount()))
	return results, ua.Good
}

// DeleteMonitoredItems implements DeleteMonitoredItems.
func (e *Engine) DeleteMonitoredItems(subID uint32, itemIDs []uint32) ([]ua.StatusCode, ua.StatusCode) {
	s, ok := e.Get(subID)
	if !ok {
		return nil, ua.BadSubscriptionIdInvalid
	}
	out := make([]ua.StatusCode, len(itemIDs))
	for i, id := range itemIDs {
		if s.RemoveMonitoredItem(id) {
			out[i] = ua.Good
		} else {
			out[i] = ua.BadMonitoredItemIdInvalid
		}
	}
	metrics.MonitoredItemsTotal.Set(float64(e.monitoredItemCount()))
	return out, ua.Good
}

// MonitoredItemRequest is the CreateMonitoredItems request-item shape.
type MonitoredItemRequest struct {
	NodeID           ua.NodeId
	AttributeID      ua.AttributeId
	ClientHandle     uint32
	SamplingInterval time.Duration
	QueueSize        uint32
	DiscardOldest    bool
	Filter           DataChangeFilter
}

// MonitoredItemResult is the CreateMonitoredItems response-item shape.
type MonitoredItemResult struct {
	MonitoredItemID         uint32
	Status                  ua.StatusCode
	RevisedSamplingInterval time.Duration
	RevisedQueueSize        uint32
}

// Publish implements the Publish service: enqueues req
// for authToken's session and returns once a notification is ready, ctx
// is cancelled, or the request times out. A subscription already
// holding an undelivered notification is delivered immediately rather
// than queued.
func (e *Engine) Publish(ctx context.Context, authToken ua.NodeId, req *PublishRequest) PublishResult {
	for _, seq := range req.Acknowledgements {
		e.acknowledgeAcrossSessionSubscriptions(authToken, seq)
	}

	if result, ok := e.tryImmediateDelivery(authToken); ok {
		return result
	}

	key := authToken.Key()
	e.pendingMu.Lock()
	e.pending[key] = append(e.pending[key], req)
	e.pendingMu.Unlock()

	select {
	case res := <-req.Result:
		return res
	case <-ctx.Done():
		e.removePending(key, req)
		return PublishResult{Status: ua.BadTimeout}
	}
}

func (e *Engine) tryImmediateDelivery(authToken ua.NodeId) (PublishResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.subscriptions {
		if s.SessionAuthToken.Key() != authToken.Key() {
			continue
		}
		if msg, ok := s.Tick(time.Now()); ok {
			metrics.NotificationsPublishedTotal.WithLabelValues(notificationKind(msg)).Inc()
			return PublishResult{SubscriptionID: s.ID, Notification: msg, Status: ua.Good}, true
		}
	}
	return PublishResult{}, false
}

func (e *Engine) acknowledgeAcrossSessionSubscriptions(authToken ua.NodeId, seq uint32) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.subscriptions {
		if s.SessionAuthToken.Key() == authToken.Key() {
			s.AcknowledgeSequence(seq)
		}
	}
}

func (e *Engine) removePending(key string, req *PublishRequest) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	queue := e.pending[key]
	for i, r := range queue {
		if r == req {
			e.pending[key] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

// CloseSession deletes every subscription the closing session owned,
// rather than transferring them to another session, since
// TransferSubscriptions is not implemented.
func (e *Engine) CloseSession(authToken ua.NodeId) {
	e.mu.RLock()
	var toRemove []uint32
	for id, s := range e.subscriptions {
		if s.SessionAuthToken.Key() == authToken.Key() {
			toRemove = append(toRemove, id)
		}
	}
	e.mu.RUnlock()
	for _, id := range toRemove {
		e.Remove(id)
	}
}
