package codec

import (
	"time"

	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// MessageKind tags a SupportedMessage. The exhaustive Part 6 message
// catalogue is out of scope — these are the kinds this server's wire
// contract requires it to accept, plus ServiceFault for error
// propagation.
type MessageKind uint32

const (
	KindHello MessageKind = iota + 1
	KindAcknowledge
	KindOpenSecureChannelRequest
	KindOpenSecureChannelResponse
	KindCloseSecureChannelRequest
	KindGetEndpointsRequest
	KindGetEndpointsResponse
	KindFindServersRequest
	KindFindServersResponse
	KindCreateSessionRequest
	KindCreateSessionResponse
	KindActivateSessionRequest
	KindActivateSessionResponse
	KindCloseSessionRequest
	KindCloseSessionResponse
	KindReadRequest
	KindReadResponse
	KindWriteRequest
	KindWriteResponse
	KindBrowseRequest
	KindBrowseResponse
	KindBrowseNextRequest
	KindBrowseNextResponse
	KindTranslateBrowsePathsToNodeIdsRequest
	KindTranslateBrowsePathsToNodeIdsResponse
	KindCreateSubscriptionRequest
	KindCreateSubscriptionResponse
	KindModifySubscriptionRequest
	KindModifySubscriptionResponse
	KindDeleteSubscriptionsRequest
	KindDeleteSubscriptionsResponse
	KindSetPublishingModeRequest
	KindSetPublishingModeResponse
	KindPublishRequest
	KindPublishResponse
	KindRepublishRequest
	KindRepublishResponse
	KindCreateMonitoredItemsRequest
	KindCreateMonitoredItemsResponse
	KindModifyMonitoredItemsRequest
	KindModifyMonitoredItemsResponse
	KindDeleteMonitoredItemsRequest
	KindDeleteMonitoredItemsResponse
	KindServiceFault
)

// RequestHeader carries the fields every Service request shares.
type RequestHeader struct {
	AuthenticationToken ua.NodeId
	Timestamp           time.Time
	RequestHandle        uint32
	TimeoutHint          time.Duration // advisory, 
}

// ResponseHeader carries the fields every Service response shares.
type ResponseHeader struct {
	Timestamp     time.Time
	RequestHandle uint32
	ServiceResult ua.StatusCode
}

// Message is the SupportedMessage abstraction: a tagged
// variant over every protocol message kind. Body holds the concrete Go
// struct matching Kind (e.g. *OpenSecureChannelRequest); handlers type
// assert it and fail with ua.BadUnexpectedError on mismatch, per the
// "Polymorphic messages" design note.
type Message struct {
	Kind    MessageKind
	Header  *RequestHeader  // set on requests
	ResHdr  *ResponseHeader // set on responses
	Body    any
	RequestID uint32 // chunk-layer correlation id, not a protocol field
}

// Body returns body type-asserted to T, or the zero value and false if
// msg is mis-dispatched (wrong Kind routed to the wrong handler).
func Body[T any](msg *Message) (T, bool) {
	v, ok := msg.Body.(T)
	return v, ok
}

// ServiceFaultBody is the body of a KindServiceFault message: a
// per-service error returned as a normal response rather than tearing
// down the channel.
type ServiceFaultBody struct {
	ResponseHeader ResponseHeader
}

// NewServiceFault builds a ServiceFault message carrying status,
// matching the request's handle.
func NewServiceFault(reqHandle uint32, status ua.StatusCode, now time.Time) *Message {
	return &Message{
		Kind: KindServiceFault,
		ResHdr: &ResponseHeader{
			Timestamp:     now,
			RequestHandle: reqHandle,
			ServiceResult: status,
		},
		Body: &ServiceFaultBody{ResponseHeader: ResponseHeader{Timestamp: now, RequestHandle: reqHandle, ServiceResult: status}},
	}
}
