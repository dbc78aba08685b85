package codec

import (
	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// Chunk type codes and message type codes, named the way
// the teacher names frame-type bytes in cs104-style APCI headers
// (single uppercase letters / three-letter codes rather than magic
// numbers scattered through the code).
const (
	MsgTypeHello    = "HEL"
	MsgTypeMSG      = "MSG"
	MsgTypeOPN      = "OPN"
	MsgTypeCLO      = "CLO"
	MsgTypeErr      = "ERR"
	ChunkTypeFinal        byte = 'F'
	ChunkTypeIntermediate byte = 'C'
	ChunkTypeAbort        byte = 'A'
)

const chunkHeaderSize = 12

// SequenceWrap is the non-obvious OPC UA Part 6 wraparound constant:
// sequence numbers increment by one per chunk and wrap from this value
// back to 1, never reaching 2^32-1.
const SequenceWrap uint32 = 4294966271

// NextSequenceNumber advances a per-direction sequence counter,
// applying the wraparound rule exactly.
func NextSequenceNumber(current uint32) uint32 {
	if current >= SequenceWrap {
		return 1
	}
	return current + 1
}

// ChunkHeader is the 12-byte header prefixing every chunk.
type ChunkHeader struct {
	MessageType   string // 3 bytes
	ChunkType     byte
	TotalSize     uint32
	SecureChannelID uint32
}

func (h ChunkHeader) ByteLen() int { return chunkHeaderSize }

func (h ChunkHeader) Encode(w *Writer) {
	w.buf = append(w.buf, h.MessageType[0], h.MessageType[1], h.MessageType[2])
	w.WriteByte(h.ChunkType)
	w.WriteUint32(h.TotalSize)
	w.WriteUint32(h.SecureChannelID)
}

func DecodeChunkHeader(r *Reader) (ChunkHeader, error) {
	b, err := r.take(3)
	if err != nil {
		return ChunkHeader{}, err
	}
	ct, err := r.ReadByte()
	if err != nil {
		return ChunkHeader{}, err
	}
	size, err := r.ReadUint32()
	if err != nil {
		return ChunkHeader{}, err
	}
	chanID, err := r.ReadUint32()
	if err != nil {
		return ChunkHeader{}, err
	}
	return ChunkHeader{
		MessageType:     string(b),
		ChunkType:       ct,
		TotalSize:       size,
		SecureChannelID: chanID,
	}, nil
}

// AsymmetricSecurityHeader precedes the sequence header on OPN chunks.
type AsymmetricSecurityHeader struct {
	SecurityPolicyURI      string
	SenderCertificate      []byte // nil if policy None
	ReceiverCertThumbprint []byte
}

func (h AsymmetricSecurityHeader) ByteLen() int {
	return 4 + len(h.SecurityPolicyURI) + 4 + len(h.SenderCertificate) + 4 + len(h.ReceiverCertThumbprint)
}

func (h AsymmetricSecurityHeader) Encode(w *Writer) {
	w.WriteString(h.SecurityPolicyURI, true)
	w.WriteByteString(h.SenderCertificate)
	w.WriteByteString(h.ReceiverCertThumbprint)
}

func DecodeAsymmetricSecurityHeader(r *Reader) (AsymmetricSecurityHeader, error) {
	uri, _, err := r.ReadString()
	if err != nil {
		return AsymmetricSecurityHeader{}, err
	}
	sender, _, err := r.ReadByteString()
	if err != nil {
		return AsymmetricSecurityHeader{}, err
	}
	thumb, _, err := r.ReadByteString()
	if err != nil {
		return AsymmetricSecurityHeader{}, err
	}
	return AsymmetricSecurityHeader{SecurityPolicyURI: uri, SenderCertificate: sender, ReceiverCertThumbprint: thumb}, nil
}

// SymmetricSecurityHeader precedes the sequence header on MSG/CLO chunks.
type SymmetricSecurityHeader struct {
	TokenID uint32
}

func (h SymmetricSecurityHeader) ByteLen() int { return 4 }

func (h SymmetricSecurityHeader) Encode(w *Writer) { w.WriteUint32(h.TokenID) }

func DecodeSymmetricSecurityHeader(r *Reader) (SymmetricSecurityHeader, error) {
	id, err := r.ReadUint32()
	return SymmetricSecurityHeader{TokenID: id}, err
}

// SequenceHeader is the plaintext header following the security header.
type SequenceHeader struct {
	SequenceNumber uint32
	RequestID      uint32
}

func (h SequenceHeader) ByteLen() int { return 8 }

func (h SequenceHeader) Encode(w *Writer) {
	w.WriteUint32(h.SequenceNumber)
	w.WriteUint32(h.RequestID)
}

func DecodeSequenceHeader(r *Reader) (SequenceHeader, error) {
	seq, err := r.ReadUint32()
	if err != nil {
		return SequenceHeader{}, err
	}
	reqID, err := r.ReadUint32()
	if err != nil {
		return SequenceHeader{}, err
	}
	return SequenceHeader{SequenceNumber: seq, RequestID: reqID}, nil
}

// Protector signs/encrypts an outbound chunk payload and
// verifies/decrypts an inbound one. internal/securechannel.Channel
// implements this; the chunker depends only on the interface to avoid
// an import cycle between the framing and crypto layers.
type Protector interface {
	// Protect signs then encrypts header+payload for sending, per the
	// channel's current security mode; policy None is a no-op.
	Protect(header []byte, payload []byte) ([]byte, error)
	// Unprotect decrypts then verifies an inbound chunk's payload
	// region; returns ua.BadSecurityChecksFailed on signature failure.
	Unprotect(header []byte, protected []byte) ([]byte, ua.StatusCode)
}

// Chunk is one decoded inbound chunk, reassembled payload still opaque
// bytes (the Message decode happens one layer up, once all chunks of a
// logical message are joined).
type Chunk struct {
	Header      ChunkHeader
	SequenceHdr SequenceHeader
	Payload     []byte
}

// SplitMessage breaks an encoded message body into one or more chunks
// no larger than maxChunkSize, each carrying its own sequence number
// counted up from seqStart (advanced once per chunk, wraparound applied).
// It rejects the whole message, before producing any chunk, if it
// would need more than maxChunkCount chunks or exceed maxMessageSize —
// : "rejected ... before sending any chunk".
func SplitMessage(messageType string, channelID uint32, body []byte, maxChunkSize, maxChunkCount, maxMessageSize int, seqStart uint32, requestID uint32, tooLargeStatus ua.StatusCode) ([]Chunk, uint32, ua.StatusCode) {
	if maxMessageSize > 0 && len(body) > maxMessageSize {
		return nil, seqStart, tooLargeStatus
	}
	headerOverhead := chunkHeaderSize + 4 /* symmetric token */ + 8 /* sequence header */
	perChunkPayload := maxChunkSize - headerOverhead
	if perChunkPayload <= 0 {
		return nil, seqStart, tooLargeStatus
	}
	count := (len(body) + perChunkPayload - 1) / perChunkPayload
	if count == 0 {
		count = 1
	}
	if maxChunkCount > 0 && count > maxChunkCount {
		return nil, seqStart, tooLargeStatus
	}

	chunks := make([]Chunk, 0, count)
	seq := seqStart
	off := 0
	for i := 0; i < count; i++ {
		end := off + perChunkPayload
		if end > len(body) {
			end = len(body)
		}
		chunkType := ChunkTypeIntermediate
		if i == count-1 {
			chunkType = ChunkTypeFinal
		}
		seq = NextSequenceNumber(seq)
		chunks = append(chunks, Chunk{
			Header: ChunkHeader{
				MessageType:     messageType,
				ChunkType:       chunkType,
				SecureChannelID: channelID,
			},
			SequenceHdr: SequenceHeader{SequenceNumber: seq, RequestID: requestID},
			Payload:     body[off:end],
		})
		off = end
	}
	return chunks, seq, ua.Good
}

// ReassembleMessage concatenates payloads from a set of chunks
// belonging to the same logical message, in arrival order. The caller
// is responsible for verifying the sequence numbers are gap-free
// before calling this.
func ReassembleMessage(chunks []Chunk) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c.Payload)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c.Payload...)
	}
	return out
}
