package server

import (
	"fmt"

	"github.com/coriolis-automation/opcua-server/internal/codec"
)

// HelloMessage is the client's HEL payload.
type HelloMessage struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

// AcknowledgeMessage is the server's ACK reply, carrying the
// server-side caps the client must honor from then on.
type AcknowledgeMessage struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

func decodeHello(body []byte) (HelloMessage, error) {
	r := codec.NewReader(body)
	pv, err := r.ReadUint32()
	if err != nil {
		return HelloMessage{}, err
	}
	rbs, err := r.ReadUint32()
	if err != nil {
		return HelloMessage{}, err
	}
	sbs, err := r.ReadUint32()
	if err != nil {
		return HelloMessage{}, err
	}
	mms, err := r.ReadUint32()
	if err != nil {
		return HelloMessage{}, err
	}
	mcc, err := r.ReadUint32()
	if err != nil {
		return HelloMessage{}, err
	}
	ep, _, err := r.ReadString()
	if err != nil {
		return HelloMessage{}, err
	}
	return HelloMessage{
		ProtocolVersion:   pv,
		ReceiveBufferSize: rbs,
		SendBufferSize:    sbs,
		MaxMessageSize:    mms,
		MaxChunkCount:     mcc,
		EndpointURL:       ep,
	}, nil
}

func encodeAcknowledge(ack AcknowledgeMessage) []byte {
	w := codec.NewWriter()
	w.WriteUint32(ack.ProtocolVersion)
	w.WriteUint32(ack.ReceiveBufferSize)
	w.WriteUint32(ack.SendBufferSize)
	w.WriteUint32(ack.MaxMessageSize)
	w.WriteUint32(ack.MaxChunkCount)
	return w.Bytes()
}

// negotiate applies the rule that the server never accepts a
// client's proposed buffer/message/chunk limits as-is, it takes the
// minimum of its own configured cap and the client's request (0 from
// either side means "no limit", handled below).
func negotiate(clientVal, serverCap uint32) uint32 {
	if serverCap == 0 {
		return clientVal
	}
	if clientVal == 0 || clientVal > serverCap {
		return serverCap
	}
	return clientVal
}

// ErrProtocolVersionUnsupported is returned by validateHello when the
// client's protocol version cannot be serviced.
var ErrProtocolVersionUnsupported = fmt.Errorf("server: unsupported protocol version")

func validateHello(h HelloMessage, minVersion uint32) error {
	if h.ProtocolVersion < minVersion {
		return ErrProtocolVersionUnsupported
	}
	return nil
}
