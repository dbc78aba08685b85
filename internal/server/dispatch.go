package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/coriolis-automation/opcua-server/internal/addressspace"
	"github.com/coriolis-automation/opcua-server/internal/codec"
	"github.com/coriolis-automation/opcua-server/internal/metrics"
	"github.com/coriolis-automation/opcua-server/internal/session"
	"github.com/coriolis-automation/opcua-server/internal/subscription"
	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// Services bundles the domain-layer subsystems a driver dispatches
// decoded requests to. One instance is shared by every connection a
// Listener accepts.
type Services struct {
	AddressSpace *addressspace.AddressSpace
	Sessions     *session.Manager
	Subscriptions *subscription.Engine
	Identity     session.Validator
}

// dispatch decodes kind's body from raw, runs the matching service
// against svc, and returns the encoded response body plus the kind of
// message to frame it as. Any decode failure or session-resolution
// failure is reported as a ServiceFault-shaped response instead of
// tearing the channel down.
func dispatch(ctx context.Context, svc *Services, kind codec.MessageKind, raw []byte, channelID uint32, now time.Time) (codec.MessageKind, []byte) {
	start := time.Now()
	name := serviceName(kind)
	respKind, respBody := dispatchService(ctx, svc, kind, raw, channelID, now)

	result := "good"
	if respKind == codec.KindServiceFault {
		result = "bad"
	}
	metrics.ServiceRequestsTotal.WithLabelValues(name, result).Inc()
	metrics.ServiceRequestLatencySeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return respKind, respBody
}

// serviceName gives dispatch's metrics a stable label per message kind.
func serviceName(kind codec.MessageKind) string {
	switch kind {
	case codec.KindCreateSessionRequest:
		return "create_session"
	case codec.KindActivateSessionRequest:
		return "activate_session"
	case codec.KindCloseSessionRequest:
		return "close_session"
	case codec.KindReadRequest:
		return "read"
	case codec.KindWriteRequest:
		return "write"
	case codec.KindBrowseRequest:
		return "browse"
	case codec.KindBrowseNextRequest:
		return "browse_next"
	case codec.KindCreateSubscriptionRequest:
		return "create_subscription"
	case codec.KindDeleteSubscriptionsRequest:
		return "delete_subscriptions"
	case codec.KindSetPublishingModeRequest:
		return "set_publishing_mode"
	case codec.KindCreateMonitoredItemsRequest:
		return "create_monitored_items"
	case codec.KindDeleteMonitoredItemsRequest:
		return "delete_monitored_items"
	case codec.KindPublishRequest:
		return "publish"
	case codec.KindRepublishRequest:
		return "republish"
	default:
		return "unknown"
	}
}

func dispatchService(ctx context.Context, svc *Services, kind codec.MessageKind, raw []byte, channelID uint32, now time.Time) (codec.MessageKind, []byte) {
	r := codec.NewReader(raw)
	switch kind {
	case codec.KindCreateSessionRequest:
		req, err := decodeCreateSessionRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		s, status := svc.Sessions.Create(req.ClientName, req.RequestedTimeout, now)
		if status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		metrics.SessionsOpen.Set(float64(svc.Sessions.Count()))
		resp := createSessionResponse{
			Header:              respHeader(req.Header.RequestHandle, ua.Good, now),
			SessionID:           s.ID,
			AuthenticationToken: s.AuthenticationToken,
			RevisedTimeout:      s.Timeout(),
		}
		return codec.KindCreateSessionResponse, encodeCreateSessionResponse(resp)

	case codec.KindActivateSessionRequest:
		req, err := decodeActivateSessionRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		identity := identityFromWire(req)
		_, status := svc.Sessions.Activate(req.Header.AuthenticationToken, svc.Identity, identity, channelID)
		if status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		return codec.KindActivateSessionResponse, encodeSimpleResponse(respHeader(req.Header.RequestHandle, ua.Good, now))

	case codec.KindCloseSessionRequest:
		h, err := readReqHeader(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		svc.Sessions.Close(h.AuthenticationToken)
		svc.Subscriptions.CloseSession(h.AuthenticationToken)
		metrics.SessionsOpen.Set(float64(svc.Sessions.Count()))
		return codec.KindCloseSessionResponse, encodeSimpleResponse(respHeader(h.RequestHandle, ua.Good, now))

	case codec.KindReadRequest:
		req, err := decodeReadRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		if _, status := svc.Sessions.Resolve(req.Header.AuthenticationToken, now); status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		results := make([]ua.DataValue, len(req.NodesToRead))
		for i, item := range req.NodesToRead {
			results[i] = svc.AddressSpace.Read(item.NodeID, item.Attr)
		}
		return codec.KindReadResponse, encodeReadResponse(respHeader(req.Header.RequestHandle, ua.Good, now), results)

	case codec.KindWriteRequest:
		req, err := decodeWriteRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		if _, status := svc.Sessions.Resolve(req.Header.AuthenticationToken, now); status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		results := make([]ua.StatusCode, len(req.NodesToWrite))
		for i, item := range req.NodesToWrite {
			results[i] = svc.AddressSpace.Write(item.NodeID, item.Attr, item.Value)
		}
		return codec.KindWriteResponse, encodeWriteResponse(respHeader(req.Header.RequestHandle, ua.Good, now), results)

	case codec.KindBrowseRequest:
		req, err := decodeBrowseRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		if _, status := svc.Sessions.Resolve(req.Header.AuthenticationToken, now); status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		results, cp, status := svc.AddressSpace.Browse(req.NodeID, req.Direction, req.ReferenceType, req.MaxResults)
		if status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		return codec.KindBrowseResponse, encodeBrowseResponse(respHeader(req.Header.RequestHandle, ua.Good, now), results, cp)

	case codec.KindBrowseNextRequest:
		req, err := decodeBrowseNextRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		if _, status := svc.Sessions.Resolve(req.Header.AuthenticationToken, now); status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		results, cp, status := svc.AddressSpace.BrowseNext(req.ContinuationPoint, req.ReleaseContinuationPoints)
		if status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		return codec.KindBrowseNextResponse, encodeBrowseResponse(respHeader(req.Header.RequestHandle, ua.Good, now), results, cp)

	case codec.KindCreateSubscriptionRequest:
		req, err := decodeCreateSubscriptionRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		if _, status := svc.Sessions.Resolve(req.Header.AuthenticationToken, now); status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		s, status := svc.Subscriptions.Create(req.Header.AuthenticationToken, req.PublishingInterval, req.LifetimeCount, req.MaxKeepAliveCount, req.MaxNotificationsPerPublish)
		if status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		return codec.KindCreateSubscriptionResponse, encodeCreateSubscriptionResponse(respHeader(req.Header.RequestHandle, ua.Good, now), s.ID, req.PublishingInterval, req.LifetimeCount, req.MaxKeepAliveCount)

	case codec.KindDeleteSubscriptionsRequest:
		req, err := decodeDeleteSubscriptionsRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		if _, status := svc.Sessions.Resolve(req.Header.AuthenticationToken, now); status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		statuses := make([]ua.StatusCode, len(req.SubscriptionIDs))
		for i, id := range req.SubscriptionIDs {
			if svc.Subscriptions.Remove(id) {
				statuses[i] = ua.Good
			} else {
				statuses[i] = ua.BadSubscriptionIdInvalid
			}
		}
		return codec.KindDeleteSubscriptionsResponse, encodeStatusCodeArrayResponse(respHeader(req.Header.RequestHandle, ua.Good, now), statuses)

	case codec.KindSetPublishingModeRequest:
		req, err := decodeSetPublishingModeRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		if _, status := svc.Sessions.Resolve(req.Header.AuthenticationToken, now); status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		statuses := make([]ua.StatusCode, len(req.SubscriptionIDs))
		for i, id := range req.SubscriptionIDs {
			if s, ok := svc.Subscriptions.Get(id); ok {
				s.SetPublishingMode(req.PublishingEnabled)
				statuses[i] = ua.Good
			} else {
				statuses[i] = ua.BadSubscriptionIdInvalid
			}
		}
		return codec.KindSetPublishingModeResponse, encodeStatusCodeArrayResponse(respHeader(req.Header.RequestHandle, ua.Good, now), statuses)

	case codec.KindCreateMonitoredItemsRequest:
		req, err := decodeCreateMonitoredItemsRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		if _, status := svc.Sessions.Resolve(req.Header.AuthenticationToken, now); status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		items := make([]subscription.MonitoredItemRequest, len(req.ItemsToCreate))
		for i, it := range req.ItemsToCreate {
			items[i] = subscription.MonitoredItemRequest{
				NodeID: it.NodeID, AttributeID: it.Attr, ClientHandle: it.ClientHandle,
				SamplingInterval: it.SamplingInterval, QueueSize: it.QueueSize, DiscardOldest: it.DiscardOldest,
			}
		}
		results, status := svc.Subscriptions.CreateMonitoredItems(req.SubscriptionID, items)
		if status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		return codec.KindCreateMonitoredItemsResponse, encodeCreateMonitoredItemsResponse(respHeader(req.Header.RequestHandle, ua.Good, now), results)

	case codec.KindDeleteMonitoredItemsRequest:
		req, err := decodeDeleteMonitoredItemsRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		if _, status := svc.Sessions.Resolve(req.Header.AuthenticationToken, now); status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		statuses, status := svc.Subscriptions.DeleteMonitoredItems(req.SubscriptionID, req.MonitoredItemIDs)
		if status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		return codec.KindDeleteMonitoredItemsResponse, encodeStatusCodeArrayResponse(respHeader(req.Header.RequestHandle, ua.Good, now), statuses)

	case codec.KindPublishRequest:
		req, err := decodePublishRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		if _, status := svc.Sessions.Resolve(req.Header.AuthenticationToken, now); status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		preq := &subscription.PublishRequest{Acknowledgements: req.Acknowledgements, Result: make(chan subscription.PublishResult, 1)}
		res := svc.Subscriptions.Publish(ctx, req.Header.AuthenticationToken, preq)
		if res.Status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, res.Status, now)
		}
		return codec.KindPublishResponse, encodePublishResponse(respHeader(req.Header.RequestHandle, ua.Good, now), res.SubscriptionID, res.Notification)

	case codec.KindRepublishRequest:
		req, err := decodeRepublishRequest(r)
		if err != nil {
			return faultResponse(kind, 0, ua.BadDecodingError, now)
		}
		if _, status := svc.Sessions.Resolve(req.Header.AuthenticationToken, now); status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		s, ok := svc.Subscriptions.Get(req.SubscriptionID)
		if !ok {
			return faultResponse(kind, req.Header.RequestHandle, ua.BadSubscriptionIdInvalid, now)
		}
		msg, status := s.Republish(req.SequenceNumber)
		if status != ua.Good {
			return faultResponse(kind, req.Header.RequestHandle, status, now)
		}
		metrics.NotificationsPublishedTotal.WithLabelValues("republish").Inc()
		return codec.KindRepublishResponse, encodePublishResponse(respHeader(req.Header.RequestHandle, ua.Good, now), req.SubscriptionID, msg)

	default:
		slog.Warn("unhandled message kind", "kind", kind)
		return faultResponse(kind, 0, ua.BadNotImplemented, now)
	}
}

func faultResponse(kind codec.MessageKind, reqHandle uint32, status ua.StatusCode, now time.Time) (codec.MessageKind, []byte) {
	w := codec.NewWriter()
	writeResHeader(w, respHeader(reqHandle, status, now))
	return codec.KindServiceFault, w.Bytes()
}

func identityFromWire(req activateSessionRequest) any {
	switch req.IdentityKind {
	case 1:
		return session.UserNameToken{UserName: req.UserName, Password: req.Password}
	case 2:
		return session.X509Token{Certificate: req.Certificate}
	case 3:
		return session.IssuedToken{TokenData: req.TokenData}
	default:
		return nil
	}
}
