package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coriolis-automation/opcua-server/internal/codec"
)

func encodeHello(h HelloMessage) []byte {
	w := codec.NewWriter()
	w.WriteUint32(h.ProtocolVersion)
	w.WriteUint32(h.ReceiveBufferSize)
	w.WriteUint32(h.SendBufferSize)
	w.WriteUint32(h.MaxMessageSize)
	w.WriteUint32(h.MaxChunkCount)
	w.WriteString(h.EndpointURL, true)
	return w.Bytes()
}

func TestDecodeHello_RoundTrip(t *testing.T) {
	h := HelloMessage{
		ProtocolVersion:   0,
		ReceiveBufferSize: 65536,
		SendBufferSize:    65536,
		MaxMessageSize:    1 << 20,
		MaxChunkCount:     64,
		EndpointURL:       "opc.tcp://127.0.0.1:4855",
	}
	decoded, err := decodeHello(encodeHello(h))
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestDecodeHello_ShortBodyFails(t *testing.T) {
	_, err := decodeHello([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestEncodeAcknowledge(t *testing.T) {
	ack := AcknowledgeMessage{ProtocolVersion: 0, ReceiveBufferSize: 1, SendBufferSize: 2, MaxMessageSize: 3, MaxChunkCount: 4}
	raw := encodeAcknowledge(ack)
	require.Len(t, raw, 20)

	r := codec.NewReader(raw)
	pv, _ := r.ReadUint32()
	rbs, _ := r.ReadUint32()
	sbs, _ := r.ReadUint32()
	mms, _ := r.ReadUint32()
	mcc, _ := r.ReadUint32()
	assert.Equal(t, ack, AcknowledgeMessage{pv, rbs, sbs, mms, mcc})
}

func TestNegotiate(t *testing.T) {
	cases := []struct {
		name              string
		clientVal, serverCap, want uint32
	}{
		{"server unlimited takes client value", 100, 0, 100},
		{"client unlimited takes server cap", 0, 500, 500},
		{"both unlimited stays zero", 0, 0, 0},
		{"client below cap wins", 100, 500, 100},
		{"client above cap is clamped", 1000, 500, 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, negotiate(tc.clientVal, tc.serverCap))
		})
	}
}

func TestValidateHello_RejectsOldProtocolVersion(t *testing.T) {
	err := validateHello(HelloMessage{ProtocolVersion: 0}, 1)
	assert.ErrorIs(t, err, ErrProtocolVersionUnsupported)
}

func TestValidateHello_AcceptsAtOrAboveMinimum(t *testing.T) {
	require.NoError(t, validateHello(HelloMessage{ProtocolVersion: 1}, 1))
	require.NoError(t, validateHello(HelloMessage{ProtocolVersion: 2}, 1))
}
