package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/coriolis-automation/opcua-server/internal/codec"
	"github.com/coriolis-automation/opcua-server/internal/metrics"
	"github.com/coriolis-automation/opcua-server/internal/securechannel"
	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// Limits bounds the buffer/message/chunk sizes this server advertises
// in its ACK. Zero fields are treated as unlimited.
type Limits struct {
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	HelloTimeout      time.Duration
	MinProtocolVersion uint32
}

// DefaultLimits matches the conservative defaults the teacher's own
// transport layer picks for a first deployment: generous enough for
// interop testing, small enough to bound one misbehaving client.
var DefaultLimits = Limits{
	ReceiveBufferSize: 64 * 1024,
	SendBufferSize:    64 * 1024,
	MaxMessageSize:    16 * 1024 * 1024,
	MaxChunkCount:     256,
	HelloTimeout:      5 * time.Second,
}

// driver owns one accepted TCP connection end to end: the HEL/ACK
// handshake, the OpenSecureChannel/CloseSecureChannel exchange,
// chunking of outbound responses, and routing decoded request bodies
// to Services. Inbound chunks are not reassembled: each received chunk
// is handled as a complete message. Exactly one goroutine runs a driver's loop, so Channel's
// crypto state needs no locking beyond what Channel itself documents.
type driver struct {
	conn    net.Conn
	r       *bufio.Reader
	limits  Limits
	services *Services
	channelService *securechannel.Service
	channel *securechannel.Channel

	helloProtocolVersion uint32
	negotiated           AcknowledgeMessage
	clientMaxMessageSize uint32
	clientMaxChunkCount  uint32
	clientMaxChunkSize   uint32
}

func newDriver(conn net.Conn, limits Limits, services *Services, chSvc *securechannel.Service) *driver {
	return &driver{
		conn:           conn,
		r:              bufio.NewReader(conn),
		limits:         limits,
		services:       services,
		channelService: chSvc,
		channel:        securechannel.NewChannel(0, 1, 0),
	}
}

// run drives the connection until it closes or ctx is cancelled.
func (d *driver) run(ctx context.Context) {
	defer d.conn.Close()
	defer func() {
		if d.channelService.State.Issued {
			metrics.ChannelsOpen.Dec()
			d.channelService.State.Issued = false
		}
	}()

	if err := d.handshakeHello(); err != nil {
		slog.Warn("hello handshake failed", "remote", d.conn.RemoteAddr(), "error", err)
		return
	}

	for {
		if dl, ok := ctx.Deadline(); ok {
			_ = d.conn.SetReadDeadline(dl)
		}
		hdr, body, err := d.readChunk()
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "remote", d.conn.RemoteAddr(), "error", err)
			}
			return
		}
		if err := d.handleChunk(ctx, hdr, body); err != nil {
			slog.Warn("connection teardown", "remote", d.conn.RemoteAddr(), "error", err)
			return
		}
	}
}

// handshakeHello reads HEL, validates it, and replies ACK
// with server-negotiated caps, all within HelloTimeout.
func (d *driver) handshakeHello() error {
	_ = d.conn.SetReadDeadline(time.Now().Add(d.limits.HelloTimeout))
	defer d.conn.SetReadDeadline(time.Time{})

	hdr, body, err := d.readChunk()
	if err != nil {
		return err
	}
	if hdr.MessageType != codec.MsgTypeHello {
		return fmt.Errorf("server: expected HEL, got %s", hdr.MessageType)
	}
	hello, err := decodeHello(body)
	if err != nil {
		return err
	}
	if err := validateHello(hello, d.limits.MinProtocolVersion); err != nil {
		return err
	}
	d.helloProtocolVersion = hello.ProtocolVersion
	d.clientMaxMessageSize = negotiate(hello.MaxMessageSize, d.limits.MaxMessageSize)
	d.clientMaxChunkCount = negotiate(hello.MaxChunkCount, d.limits.MaxChunkCount)
	d.clientMaxChunkSize = negotiate(hello.ReceiveBufferSize, d.limits.SendBufferSize)

	ack := AcknowledgeMessage{
		ProtocolVersion:   hello.ProtocolVersion,
		ReceiveBufferSize: negotiate(hello.SendBufferSize, d.limits.ReceiveBufferSize),
		SendBufferSize:    d.clientMaxChunkSize,
		MaxMessageSize:    d.clientMaxMessageSize,
		MaxChunkCount:     d.clientMaxChunkCount,
	}
	d.negotiated = ack
	return d.writeRaw("ACK", encodeAcknowledge(ack))
}

// readChunk reads one 12-byte ChunkHeader plus TotalSize-12 bytes of
// body (still including any security header + sequence header + wire
// payload the caller must parse further).
func (d *driver) readChunk() (codec.ChunkHeader, []byte, error) {
	raw := make([]byte, 12)
	if _, err := io.ReadFull(d.r, raw); err != nil {
		return codec.ChunkHeader{}, nil, err
	}
	hdr, err := codec.DecodeChunkHeader(codec.NewReader(raw))
	if err != nil {
		return codec.ChunkHeader{}, nil, err
	}
	if hdr.TotalSize < 12 {
		return codec.ChunkHeader{}, nil, fmt.Errorf("server: chunk total size %d shorter than header", hdr.TotalSize)
	}
	bodyLen := int(hdr.TotalSize) - 12
	if d.limits.MaxMessageSize > 0 && bodyLen > int(d.limits.MaxMessageSize) {
		return codec.ChunkHeader{}, nil, fmt.Errorf("server: chunk body %d exceeds message size cap", bodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return codec.ChunkHeader{}, nil, err
	}
	return hdr, body, nil
}

func (d *driver) writeRaw(messageType string, payload []byte) error {
	w := codec.NewWriter()
	hdr := codec.ChunkHeader{MessageType: messageType, ChunkType: codec.ChunkTypeFinal, TotalSize: uint32(12 + len(payload)), SecureChannelID: d.channel.ID}
	hdr.Encode(w)
	full := append(w.Bytes(), payload...)
	_, err := d.conn.Write(full)
	return err
}

// handleChunk routes one inbound chunk by its wire message type.
func (d *driver) handleChunk(ctx context.Context, hdr codec.ChunkHeader, body []byte) error {
	switch hdr.MessageType {
	case codec.MsgTypeOPN:
		return d.handleOpen(body)
	case codec.MsgTypeCLO:
		return fmt.Errorf("connection closed by CLO")
	case codec.MsgTypeMSG:
		return d.handleMessage(ctx, hdr, body)
	default:
		return fmt.Errorf("server: unexpected message type %q", hdr.MessageType)
	}
}

func (d *driver) handleOpen(body []byte) error {
	r := codec.NewReader(body)
	asymHdr, err := codec.DecodeAsymmetricSecurityHeader(r)
	if err != nil {
		return err
	}
	if _, err := codec.DecodeSequenceHeader(r); err != nil {
		return err
	}
	policy, err := securechannel.PolicyByURI(asymHdr.SecurityPolicyURI)
	if err != nil {
		policy = securechannel.PolicyNone
	}
	d.channel.Policy = policy

	req, err := decodeOpenSecureChannelRequest(r, asymHdr.SenderCertificate)
	if err != nil {
		return err
	}
	resp, fault, err := d.channelService.Open(d.channel, req, d.helloProtocolVersion, time.Now())
	if err != nil {
		return err
	}
	if fault != nil {
		return d.writeRaw(codec.MsgTypeErr, encodeSimpleResponse(respHeader(req.Header.RequestHandle, *fault, time.Now())))
	}
	return d.writeRaw(codec.MsgTypeOPN, encodeOpenSecureChannelResponse(req.Header.RequestHandle, time.Now(), d.helloProtocolVersion, resp))
}

func (d *driver) handleMessage(ctx context.Context, hdr codec.ChunkHeader, body []byte) error {
	r := codec.NewReader(body)
	if _, err := codec.DecodeSymmetricSecurityHeader(r); err != nil {
		return err
	}
	seqHdr, err := codec.DecodeSequenceHeader(r)
	if err != nil {
		return err
	}
	if !d.channel.CheckRecvSequence(seqHdr.SequenceNumber) {
		return fmt.Errorf("server: sequence number gap detected")
	}

	protected := body[len(body)-r.Remaining():] // remaining unread bytes are the protected payload
	plain, status := d.channel.Unprotect(nil, protected)
	if status != ua.Good {
		return fmt.Errorf("server: %s", status)
	}

	kind, payload, err := decodeMessageEnvelope(plain)
	if err != nil {
		return err
	}

	respKind, respBody := dispatch(ctx, d.services, kind, payload, d.channel.ID, time.Now())
	return d.sendResponse(respKind, respBody, seqHdr.RequestID)
}

func (d *driver) sendResponse(kind codec.MessageKind, body []byte, requestID uint32) error {
	envelope := encodeMessageEnvelope(kind, body)
	protected, err := d.channel.Protect(nil, envelope)
	if err != nil {
		return err
	}
	chunks, lastSeq, status := codec.SplitMessage(codec.MsgTypeMSG, d.channel.ID, protected, int(d.clientMaxChunkSize), int(d.clientMaxChunkCount), int(d.clientMaxMessageSize), d.channel.CurrentSendSequence(), requestID, ua.BadResponseTooLarge)
	if status != ua.Good {
		return fmt.Errorf("server: %s", status)
	}
	d.channel.SetSendSequence(lastSeq)
	for _, c := range chunks {
		w := codec.NewWriter()
		c.Header.Encode(w)
		symHdr := codec.SymmetricSecurityHeader{TokenID: d.channel.TokenID}
		symHdr.Encode(w)
		c.SequenceHdr.Encode(w)
		out := append(w.Bytes(), c.Payload...)
		if _, err := d.conn.Write(out); err != nil {
			return err
		}
	}
	return nil
}

// decodeMessageEnvelope reads the small server-internal framing this
// implementation prefixes onto every MSG payload: a MessageKind
// discriminant followed by the service body. The exhaustive Part 6
// TypeId/NamespaceURI ExpandedNodeId envelope is not reproduced, since
// nothing here inspects it.
func decodeMessageEnvelope(body []byte) (codec.MessageKind, []byte, error) {
	r := codec.NewReader(body)
	raw, err := r.ReadUint32()
	if err != nil {
		return 0, nil, err
	}
	rest := body[len(body)-r.Remaining():]
	return codec.MessageKind(raw), rest, nil
}

func encodeMessageEnvelope(kind codec.MessageKind, body []byte) []byte {
	w := codec.NewWriter()
	w.WriteUint32(uint32(kind))
	return append(w.Bytes(), body...)
}
