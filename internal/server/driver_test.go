package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coriolis-automation/opcua-server/internal/addressspace"
	"github.com/coriolis-automation/opcua-server/internal/codec"
	"github.com/coriolis-automation/opcua-server/internal/securechannel"
	"github.com/coriolis-automation/opcua-server/internal/session"
	"github.com/coriolis-automation/opcua-server/internal/subscription"
)

func writeChunk(t *testing.T, conn net.Conn, msgType string, body []byte) {
	t.Helper()
	w := codec.NewWriter()
	hdr := codec.ChunkHeader{MessageType: msgType, ChunkType: codec.ChunkTypeFinal, TotalSize: uint32(12 + len(body))}
	hdr.Encode(w)
	full := append(w.Bytes(), body...)
	_, err := conn.Write(full)
	require.NoError(t, err)
}

func readChunk(t *testing.T, conn net.Conn) (codec.ChunkHeader, []byte) {
	t.Helper()
	raw := make([]byte, 12)
	_, err := readFull(conn, raw)
	require.NoError(t, err)
	hdr, err := codec.DecodeChunkHeader(codec.NewReader(raw))
	require.NoError(t, err)
	body := make([]byte, hdr.TotalSize-12)
	_, err = readFull(conn, body)
	require.NoError(t, err)
	return hdr, body
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func newTestServices(t *testing.T) *Services {
	t.Helper()
	as, err := addressspace.New(0)
	require.NoError(t, err)
	require.NoError(t, addressspace.SeedStandardNamespace(as))
	return &Services{
		AddressSpace:  as,
		Sessions:      session.NewManager(10),
		Subscriptions: subscription.NewEngine(as, 100*time.Millisecond),
		Identity:      session.AnonymousValidator{},
	}
}

func TestDriver_HelloAcknowledgeHandshake(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	limits := Limits{
		ReceiveBufferSize: 65536,
		SendBufferSize:    65536,
		MaxMessageSize:    1 << 20,
		MaxChunkCount:     64,
		HelloTimeout:      2 * time.Second,
	}
	d := newDriver(serverConn, limits, newTestServices(t), securechannel.NewService(0))

	errCh := make(chan error, 1)
	go func() { errCh <- d.handshakeHello() }()

	hello := HelloMessage{
		ProtocolVersion:   0,
		ReceiveBufferSize: 32768,
		SendBufferSize:    32768,
		MaxMessageSize:    1 << 18,
		MaxChunkCount:     32,
		EndpointURL:       "opc.tcp://127.0.0.1:4855",
	}
	writeChunk(t, clientConn, codec.MsgTypeHello, encodeHello(hello))

	hdr, body := readChunk(t, clientConn)
	require.Equal(t, "ACK", hdr.MessageType)

	r := codec.NewReader(body)
	pv, _ := r.ReadUint32()
	require.Equal(t, uint32(0), pv)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshakeHello did not return")
	}
}

func TestDriver_HelloRejectsUnsupportedProtocolVersion(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	limits := Limits{HelloTimeout: 2 * time.Second, MinProtocolVersion: 5}
	d := newDriver(serverConn, limits, newTestServices(t), securechannel.NewService(0))

	errCh := make(chan error, 1)
	go func() { errCh <- d.handshakeHello() }()

	writeChunk(t, clientConn, codec.MsgTypeHello, encodeHello(HelloMessage{ProtocolVersion: 0}))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrProtocolVersionUnsupported)
	case <-time.After(2 * time.Second):
		t.Fatal("handshakeHello did not return")
	}
}

func TestDriver_HelloRejectsWrongMessageType(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	limits := Limits{HelloTimeout: 2 * time.Second}
	d := newDriver(serverConn, limits, newTestServices(t), securechannel.NewService(0))

	errCh := make(chan error, 1)
	go func() { errCh <- d.handshakeHello() }()

	writeChunk(t, clientConn, codec.MsgTypeMSG, []byte{})

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshakeHello did not return")
	}
}
