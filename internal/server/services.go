package server

import (
	"time"

	"github.com/coriolis-automation/opcua-server/internal/addressspace"
	"github.com/coriolis-automation/opcua-server/internal/codec"
	"github.com/coriolis-automation/opcua-server/internal/securechannel"
	"github.com/coriolis-automation/opcua-server/internal/subscription"
	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// This file implements the request/response wire bodies for each
// service. Every field the corresponding invariant or edge case
// actually inspects is encoded; the exhaustive Part 4 field catalogue
// (diagnostics masks, locale ids, and similar passthrough-only
// fields) is left out — wire-format fidelity beyond what the server's
// own behavior exercises is out of scope.

func readReqHeader(r *codec.Reader) (codec.RequestHeader, error) {
	token, err := codec.DecodeNodeId(r)
	if err != nil {
		return codec.RequestHeader{}, err
	}
	ts, err := r.ReadDateTime()
	if err != nil {
		return codec.RequestHeader{}, err
	}
	handle, err := r.ReadUint32()
	if err != nil {
		return codec.RequestHeader{}, err
	}
	timeoutMs, err := r.ReadUint32()
	if err != nil {
		return codec.RequestHeader{}, err
	}
	return codec.RequestHeader{
		AuthenticationToken: token,
		Timestamp:           ts,
		RequestHandle:       handle,
		TimeoutHint:         time.Duration(timeoutMs) * time.Millisecond,
	}, nil
}

func writeResHeader(w *codec.Writer, h codec.ResponseHeader) {
	w.WriteDateTime(h.Timestamp)
	w.WriteUint32(h.RequestHandle)
	w.WriteUint32(uint32(h.ServiceResult))
}

func respHeader(reqHandle uint32, status ua.StatusCode, now time.Time) codec.ResponseHeader {
	return codec.ResponseHeader{Timestamp: now, RequestHandle: reqHandle, ServiceResult: status}
}

// --- OpenSecureChannel / CloseSecureChannel ---

func decodeOpenSecureChannelRequest(r *codec.Reader, senderCert []byte) (*securechannel.OpenSecureChannelRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return nil, err
	}
	clientPV, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	reqType, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	mode, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	nonce, _, err := r.ReadByteString()
	if err != nil {
		return nil, err
	}
	lifetimeMs, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return &securechannel.OpenSecureChannelRequest{
		Header:                h,
		ClientProtocolVersion: clientPV,
		RequestType:           securechannel.SecurityTokenRequestType(reqType),
		SecurityMode:          securechannel.SecurityMode(mode),
		ClientNonce:           nonce,
		RequestedLifetime:     time.Duration(lifetimeMs) * time.Millisecond,
		SenderCertificate:     senderCert,
	}, nil
}

func encodeOpenSecureChannelResponse(reqHandle uint32, now time.Time, serverPV uint32, resp *securechannel.OpenSecureChannelResponse) []byte {
	w := codec.NewWriter()
	writeResHeader(w, respHeader(reqHandle, ua.Good, now))
	w.WriteUint32(serverPV)
	w.WriteUint32(resp.ChannelID)
	w.WriteUint32(resp.TokenID)
	w.WriteDateTime(resp.CreatedAt)
	w.WriteUint32(uint32(resp.RevisedLifetime.Milliseconds()))
	w.WriteByteString(resp.ServerNonce)
	return w.Bytes()
}

// --- CreateSession ---

type createSessionRequest struct {
	Header          codec.RequestHeader
	ClientName      string
	RequestedTimeout time.Duration
}

func decodeCreateSessionRequest(r *codec.Reader) (createSessionRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return createSessionRequest{}, err
	}
	name, _, err := r.ReadString()
	if err != nil {
		return createSessionRequest{}, err
	}
	timeoutMs, err := r.ReadFloat64()
	if err != nil {
		return createSessionRequest{}, err
	}
	return createSessionRequest{Header: h, ClientName: name, RequestedTimeout: time.Duration(timeoutMs) * time.Millisecond}, nil
}

type createSessionResponse struct {
	Header              codec.ResponseHeader
	SessionID           ua.NodeId
	AuthenticationToken ua.NodeId
	RevisedTimeout      time.Duration
}

func encodeCreateSessionResponse(resp createSessionResponse) []byte {
	w := codec.NewWriter()
	writeResHeader(w, resp.Header)
	codec.EncodeNodeId(w, resp.SessionID)
	codec.EncodeNodeId(w, resp.AuthenticationToken)
	w.WriteFloat64(float64(resp.RevisedTimeout.Milliseconds()))
	return w.Bytes()
}

// --- ActivateSession ---

type activateSessionRequest struct {
	Header       codec.RequestHeader
	IdentityKind byte // 0=anonymous, 1=username, 2=x509, 3=issued
	UserName     string
	Password     []byte
	Certificate  []byte
	TokenData    []byte
}

func decodeActivateSessionRequest(r *codec.Reader) (activateSessionRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return activateSessionRequest{}, err
	}
	kind, err := r.ReadByte()
	if err != nil {
		return activateSessionRequest{}, err
	}
	req := activateSessionRequest{Header: h, IdentityKind: kind}
	switch kind {
	case 1:
		name, _, err := r.ReadString()
		if err != nil {
			return activateSessionRequest{}, err
		}
		pw, _, err := r.ReadByteString()
		if err != nil {
			return activateSessionRequest{}, err
		}
		req.UserName, req.Password = name, pw
	case 2:
		cert, _, err := r.ReadByteString()
		if err != nil {
			return activateSessionRequest{}, err
		}
		req.Certificate = cert
	case 3:
		data, _, err := r.ReadByteString()
		if err != nil {
			return activateSessionRequest{}, err
		}
		req.TokenData = data
	}
	return req, nil
}

func encodeSimpleResponse(h codec.ResponseHeader) []byte {
	w := codec.NewWriter()
	writeResHeader(w, h)
	return w.Bytes()
}

// --- Read ---

type readValueID struct {
	NodeID ua.NodeId
	Attr   ua.AttributeId
}

type readRequest struct {
	Header     codec.RequestHeader
	NodesToRead []readValueID
}

func decodeReadRequest(r *codec.Reader) (readRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return readRequest{}, err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return readRequest{}, err
	}
	items := make([]readValueID, 0, max0(count))
	for i := int32(0); i < count; i++ {
		id, err := codec.DecodeNodeId(r)
		if err != nil {
			return readRequest{}, err
		}
		attr, err := r.ReadUint32()
		if err != nil {
			return readRequest{}, err
		}
		items = append(items, readValueID{NodeID: id, Attr: ua.AttributeId(attr)})
	}
	return readRequest{Header: h, NodesToRead: items}, nil
}

func encodeReadResponse(h codec.ResponseHeader, results []ua.DataValue) []byte {
	w := codec.NewWriter()
	writeResHeader(w, h)
	w.WriteInt32(int32(len(results)))
	for _, dv := range results {
		encodeDataValue(w, dv)
	}
	return w.Bytes()
}

func encodeDataValue(w *codec.Writer, dv ua.DataValue) {
	codec.EncodeVariant(w, dv.Value)
	w.WriteUint32(uint32(dv.Status))
	w.WriteBool(dv.HasSourceTime)
	if dv.HasSourceTime {
		w.WriteDateTime(dv.SourceTimestamp)
	}
	w.WriteBool(dv.HasServerTime)
	if dv.HasServerTime {
		w.WriteDateTime(dv.ServerTimestamp)
	}
}

func decodeDataValue(r *codec.Reader) (ua.DataValue, error) {
	v, err := codec.DecodeVariant(r)
	if err != nil {
		return ua.DataValue{}, err
	}
	statusRaw, err := r.ReadUint32()
	if err != nil {
		return ua.DataValue{}, err
	}
	hasSrc, err := r.ReadBool()
	if err != nil {
		return ua.DataValue{}, err
	}
	dv := ua.DataValue{Value: v, Status: ua.StatusCode(statusRaw), HasSourceTime: hasSrc}
	if hasSrc {
		t, err := r.ReadDateTime()
		if err != nil {
			return ua.DataValue{}, err
		}
		dv.SourceTimestamp = t
	}
	hasSrv, err := r.ReadBool()
	if err != nil {
		return ua.DataValue{}, err
	}
	dv.HasServerTime = hasSrv
	if hasSrv {
		t, err := r.ReadDateTime()
		if err != nil {
			return ua.DataValue{}, err
		}
		dv.ServerTimestamp = t
	}
	return dv, nil
}

// --- Write ---

type writeValue struct {
	NodeID ua.NodeId
	Attr   ua.AttributeId
	Value  ua.DataValue
}

type writeRequest struct {
	Header       codec.RequestHeader
	NodesToWrite []writeValue
}

func decodeWriteRequest(r *codec.Reader) (writeRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return writeRequest{}, err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return writeRequest{}, err
	}
	items := make([]writeValue, 0, max0(count))
	for i := int32(0); i < count; i++ {
		id, err := codec.DecodeNodeId(r)
		if err != nil {
			return writeRequest{}, err
		}
		attr, err := r.ReadUint32()
		if err != nil {
			return writeRequest{}, err
		}
		dv, err := decodeDataValue(r)
		if err != nil {
			return writeRequest{}, err
		}
		items = append(items, writeValue{NodeID: id, Attr: ua.AttributeId(attr), Value: dv})
	}
	return writeRequest{Header: h, NodesToWrite: items}, nil
}

func encodeWriteResponse(h codec.ResponseHeader, results []ua.StatusCode) []byte {
	w := codec.NewWriter()
	writeResHeader(w, h)
	w.WriteInt32(int32(len(results)))
	for _, s := range results {
		w.WriteUint32(uint32(s))
	}
	return w.Bytes()
}

// --- Browse / BrowseNext ---

type browseRequest struct {
	Header        codec.RequestHeader
	NodeID        ua.NodeId
	Direction     ua.BrowseDirection
	ReferenceType ua.NodeId
	MaxResults    int
}

func decodeBrowseRequest(r *codec.Reader) (browseRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return browseRequest{}, err
	}
	id, err := codec.DecodeNodeId(r)
	if err != nil {
		return browseRequest{}, err
	}
	dir, err := r.ReadByte()
	if err != nil {
		return browseRequest{}, err
	}
	refType, err := codec.DecodeNodeId(r)
	if err != nil {
		return browseRequest{}, err
	}
	max, err := r.ReadUint32()
	if err != nil {
		return browseRequest{}, err
	}
	return browseRequest{Header: h, NodeID: id, Direction: ua.BrowseDirection(dir), ReferenceType: refType, MaxResults: int(max)}, nil
}

type browseNextRequest struct {
	Header            codec.RequestHeader
	ReleaseContinuationPoints bool
	ContinuationPoint []byte
}

func decodeBrowseNextRequest(r *codec.Reader) (browseNextRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return browseNextRequest{}, err
	}
	release, err := r.ReadBool()
	if err != nil {
		return browseNextRequest{}, err
	}
	cp, _, err := r.ReadByteString()
	if err != nil {
		return browseNextRequest{}, err
	}
	return browseNextRequest{Header: h, ReleaseContinuationPoints: release, ContinuationPoint: cp}, nil
}

func encodeBrowseResponse(h codec.ResponseHeader, results []addressspace.BrowseResult, cp []byte) []byte {
	w := codec.NewWriter()
	writeResHeader(w, h)
	w.WriteInt32(int32(len(results)))
	for _, res := range results {
		codec.EncodeNodeId(w, res.ReferenceType)
		w.WriteBool(res.IsForward)
		codec.EncodeNodeId(w, res.TargetID)
		w.WriteUint32(uint32(res.TargetClass))
		encodeQualifiedName(w, res.BrowseName)
		encodeLocalizedText(w, res.DisplayName)
	}
	w.WriteByteString(cp)
	return w.Bytes()
}

func encodeQualifiedName(w *codec.Writer, qn ua.QualifiedName) {
	w.WriteUint16(qn.NamespaceIndex)
	w.WriteString(qn.Name, true)
}

func encodeLocalizedText(w *codec.Writer, lt ua.LocalizedText) {
	mask := byte(0)
	if lt.Locale != "" {
		mask |= 1
	}
	if lt.Text != "" {
		mask |= 2
	}
	w.WriteByte(mask)
	if mask&1 != 0 {
		w.WriteString(lt.Locale, true)
	}
	if mask&2 != 0 {
		w.WriteString(lt.Text, true)
	}
}

func max0(n int32) int32 {
	if n < 0 {
		return 0
	}
	return n
}

// --- CreateSubscription ---

type createSubscriptionRequest struct {
	Header              codec.RequestHeader
	PublishingInterval  time.Duration
	LifetimeCount       uint32
	MaxKeepAliveCount   uint32
	MaxNotificationsPerPublish uint32
	PublishingEnabled   bool
}

func decodeCreateSubscriptionRequest(r *codec.Reader) (createSubscriptionRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return createSubscriptionRequest{}, err
	}
	intervalMs, err := r.ReadFloat64()
	if err != nil {
		return createSubscriptionRequest{}, err
	}
	lifetime, err := r.ReadUint32()
	if err != nil {
		return createSubscriptionRequest{}, err
	}
	keepAlive, err := r.ReadUint32()
	if err != nil {
		return createSubscriptionRequest{}, err
	}
	maxNotif, err := r.ReadUint32()
	if err != nil {
		return createSubscriptionRequest{}, err
	}
	enabled, err := r.ReadBool()
	if err != nil {
		return createSubscriptionRequest{}, err
	}
	return createSubscriptionRequest{
		Header:                     h,
		PublishingInterval:         time.Duration(intervalMs) * time.Millisecond,
		LifetimeCount:              lifetime,
		MaxKeepAliveCount:          keepAlive,
		MaxNotificationsPerPublish: maxNotif,
		PublishingEnabled:          enabled,
	}, nil
}

func encodeCreateSubscriptionResponse(h codec.ResponseHeader, subID uint32, revisedInterval time.Duration, lifetime, keepAlive uint32) []byte {
	w := codec.NewWriter()
	writeResHeader(w, h)
	w.WriteUint32(subID)
	w.WriteFloat64(float64(revisedInterval.Milliseconds()))
	w.WriteUint32(lifetime)
	w.WriteUint32(keepAlive)
	return w.Bytes()
}

// --- DeleteSubscriptions ---

type deleteSubscriptionsRequest struct {
	Header          codec.RequestHeader
	SubscriptionIDs []uint32
}

func decodeDeleteSubscriptionsRequest(r *codec.Reader) (deleteSubscriptionsRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return deleteSubscriptionsRequest{}, err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return deleteSubscriptionsRequest{}, err
	}
	ids := make([]uint32, 0, max0(count))
	for i := int32(0); i < count; i++ {
		id, err := r.ReadUint32()
		if err != nil {
			return deleteSubscriptionsRequest{}, err
		}
		ids = append(ids, id)
	}
	return deleteSubscriptionsRequest{Header: h, SubscriptionIDs: ids}, nil
}

func encodeStatusCodeArrayResponse(h codec.ResponseHeader, statuses []ua.StatusCode) []byte {
	w := codec.NewWriter()
	writeResHeader(w, h)
	w.WriteInt32(int32(len(statuses)))
	for _, s := range statuses {
		w.WriteUint32(uint32(s))
	}
	return w.Bytes()
}

// --- SetPublishingMode ---

type setPublishingModeRequest struct {
	Header            codec.RequestHeader
	PublishingEnabled bool
	SubscriptionIDs   []uint32
}

func decodeSetPublishingModeRequest(r *codec.Reader) (setPublishingModeRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return setPublishingModeRequest{}, err
	}
	enabled, err := r.ReadBool()
	if err != nil {
		return setPublishingModeRequest{}, err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return setPublishingModeRequest{}, err
	}
	ids := make([]uint32, 0, max0(count))
	for i := int32(0); i < count; i++ {
		id, err := r.ReadUint32()
		if err != nil {
			return setPublishingModeRequest{}, err
		}
		ids = append(ids, id)
	}
	return setPublishingModeRequest{Header: h, PublishingEnabled: enabled, SubscriptionIDs: ids}, nil
}

// --- CreateMonitoredItems / DeleteMonitoredItems ---

type monitoredItemCreateWire struct {
	NodeID           ua.NodeId
	Attr             ua.AttributeId
	ClientHandle     uint32
	SamplingInterval time.Duration
	QueueSize        uint32
	DiscardOldest    bool
}

type createMonitoredItemsRequest struct {
	Header         codec.RequestHeader
	SubscriptionID uint32
	ItemsToCreate  []monitoredItemCreateWire
}

func decodeCreateMonitoredItemsRequest(r *codec.Reader) (createMonitoredItemsRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return createMonitoredItemsRequest{}, err
	}
	subID, err := r.ReadUint32()
	if err != nil {
		return createMonitoredItemsRequest{}, err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return createMonitoredItemsRequest{}, err
	}
	items := make([]monitoredItemCreateWire, 0, max0(count))
	for i := int32(0); i < count; i++ {
		id, err := codec.DecodeNodeId(r)
		if err != nil {
			return createMonitoredItemsRequest{}, err
		}
		attr, err := r.ReadUint32()
		if err != nil {
			return createMonitoredItemsRequest{}, err
		}
		handle, err := r.ReadUint32()
		if err != nil {
			return createMonitoredItemsRequest{}, err
		}
		intervalMs, err := r.ReadFloat64()
		if err != nil {
			return createMonitoredItemsRequest{}, err
		}
		queueSize, err := r.ReadUint32()
		if err != nil {
			return createMonitoredItemsRequest{}, err
		}
		discard, err := r.ReadBool()
		if err != nil {
			return createMonitoredItemsRequest{}, err
		}
		items = append(items, monitoredItemCreateWire{
			NodeID:           id,
			Attr:             ua.AttributeId(attr),
			ClientHandle:     handle,
			SamplingInterval: time.Duration(intervalMs) * time.Millisecond,
			QueueSize:        queueSize,
			DiscardOldest:    discard,
		})
	}
	return createMonitoredItemsRequest{Header: h, SubscriptionID: subID, ItemsToCreate: items}, nil
}

func encodeCreateMonitoredItemsResponse(h codec.ResponseHeader, results []subscription.MonitoredItemResult) []byte {
	w := codec.NewWriter()
	writeResHeader(w, h)
	w.WriteInt32(int32(len(results)))
	for _, res := range results {
		w.WriteUint32(res.MonitoredItemID)
		w.WriteUint32(uint32(res.Status))
		w.WriteFloat64(float64(res.RevisedSamplingInterval.Milliseconds()))
		w.WriteUint32(res.RevisedQueueSize)
	}
	return w.Bytes()
}

type deleteMonitoredItemsRequest struct {
	Header          codec.RequestHeader
	SubscriptionID  uint32
	MonitoredItemIDs []uint32
}

func decodeDeleteMonitoredItemsRequest(r *codec.Reader) (deleteMonitoredItemsRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return deleteMonitoredItemsRequest{}, err
	}
	subID, err := r.ReadUint32()
	if err != nil {
		return deleteMonitoredItemsRequest{}, err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return deleteMonitoredItemsRequest{}, err
	}
	ids := make([]uint32, 0, max0(count))
	for i := int32(0); i < count; i++ {
		id, err := r.ReadUint32()
		if err != nil {
			return deleteMonitoredItemsRequest{}, err
		}
		ids = append(ids, id)
	}
	return deleteMonitoredItemsRequest{Header: h, SubscriptionID: subID, MonitoredItemIDs: ids}, nil
}

// --- Publish / Republish ---

type publishRequestWire struct {
	Header           codec.RequestHeader
	Acknowledgements []uint32
}

func decodePublishRequest(r *codec.Reader) (publishRequestWire, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return publishRequestWire{}, err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return publishRequestWire{}, err
	}
	acks := make([]uint32, 0, max0(count))
	for i := int32(0); i < count; i++ {
		seq, err := r.ReadUint32()
		if err != nil {
			return publishRequestWire{}, err
		}
		acks = append(acks, seq)
	}
	return publishRequestWire{Header: h, Acknowledgements: acks}, nil
}

func encodePublishResponse(h codec.ResponseHeader, subID uint32, msg subscription.NotificationMessage) []byte {
	w := codec.NewWriter()
	writeResHeader(w, h)
	w.WriteUint32(subID)
	w.WriteUint32(msg.SequenceNumber)
	w.WriteDateTime(msg.PublishTime)
	w.WriteInt32(int32(len(msg.DataChanges)))
	for _, dc := range msg.DataChanges {
		w.WriteUint32(dc.ClientHandle)
		encodeDataValue(w, dc.Value)
	}
	return w.Bytes()
}

type republishRequest struct {
	Header         codec.RequestHeader
	SubscriptionID uint32
	SequenceNumber uint32
}

func decodeRepublishRequest(r *codec.Reader) (republishRequest, error) {
	h, err := readReqHeader(r)
	if err != nil {
		return republishRequest{}, err
	}
	subID, err := r.ReadUint32()
	if err != nil {
		return republishRequest{}, err
	}
	seq, err := r.ReadUint32()
	if err != nil {
		return republishRequest{}, err
	}
	return republishRequest{Header: h, SubscriptionID: subID, SequenceNumber: seq}, nil
}
