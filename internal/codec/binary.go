// Package codec implements the length-prefixed little-endian binary
// encoding of primitive and structured OPC UA types.
//
// Every encodable type offers three operations, mirroring the manual
// bounds-checked parsing style the teacher uses for wire headers
// (compare internal/core/decoder/ethernet.go in the retrieval pack):
// ByteLen (exact encoded size without writing), Encode (write to an
// io.Writer, returning bytes written) and Decode (read from a
// *Reader, returning a decoding error on short read or an
// over-limit length prefix).
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// MaxByteStringLength is the hard cap on any single array or string
// length prefix.
const MaxByteStringLength = 64 * 1024 * 1024

// DecodeError reports a framing-layer decoding failure; callers map it
// to ua.BadDecodingError.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "codec: decoding error: " + e.Reason }

func decodeErrorf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// Reader is a bounds-tracked cursor over a decode buffer. It never
// panics on short input — every Read* method returns an error instead,
// which matches the rule that decoding fails with BadDecodingError on
// short read rather than panicking.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, decodeErrorf("short read: need %d bytes, have %d", n, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (r *Reader) ReadInt16() (int16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return mathFloat32frombits(v), nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return mathFloat64frombits(v), nil
}

// readLength reads an Int32 length prefix and validates it: -1 means
// null (returned as ok=false), otherwise it must be non-negative and
// within MaxByteStringLength.
func (r *Reader) readLength() (n int32, ok bool, err error) {
	n, err = r.ReadInt32()
	if err != nil {
		return 0, false, err
	}
	if n == -1 {
		return 0, false, nil
	}
	if n < 0 {
		return 0, false, decodeErrorf("negative length prefix %d", n)
	}
	if n > MaxByteStringLength {
		return 0, false, decodeErrorf("length prefix %d exceeds hard cap %d", n, MaxByteStringLength)
	}
	return n, true, nil
}

// ReadString reads an Int32-length-prefixed UTF-8 string; -1 length
// decodes to "" with ok=false (null string).
func (r *Reader) ReadString() (s string, ok bool, err error) {
	n, ok, err := r.readLength()
	if err != nil || !ok {
		return "", ok, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// ReadByteString reads an Int32-length-prefixed byte string; -1 length
// decodes to nil with ok=false.
func (r *Reader) ReadByteString() (b []byte, ok bool, err error) {
	n, ok, err := r.readLength()
	if err != nil || !ok {
		return nil, ok, err
	}
	raw, err := r.take(int(n))
	if err != nil {
		return nil, false, err
	}
	return append([]byte(nil), raw...), true, nil
}

// ReadDateTime reads an Int64 100ns-tick count since 1601-01-01 UTC.
func (r *Reader) ReadDateTime() (time.Time, error) {
	ticks, err := r.ReadInt64()
	if err != nil {
		return time.Time{}, err
	}
	return epoch1601.Add(time.Duration(ticks) * 100), nil
}

var epoch1601 = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// Writer accumulates an encoded buffer.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteTo(dst io.Writer) (int, error) { return dst.Write(w.buf) }

func (w *Writer) WriteByte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) WriteBool(b bool) {
	if b {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(mathFloat32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(mathFloat64bits(v)) }

// WriteString writes an Int32-length-prefixed UTF-8 string; ok=false
// writes the null encoding (-1).
func (w *Writer) WriteString(s string, ok bool) {
	if !ok {
		w.WriteInt32(-1)
		return
	}
	w.WriteInt32(int32(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteByteString writes an Int32-length-prefixed byte string; nil b
// writes the null encoding (-1).
func (w *Writer) WriteByteString(b []byte) {
	if b == nil {
		w.WriteInt32(-1)
		return
	}
	w.WriteInt32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteDateTime writes t as an Int64 100ns-tick count since 1601.
func (w *Writer) WriteDateTime(t time.Time) {
	ticks := t.Sub(epoch1601) / 100
	w.WriteInt64(int64(ticks))
}

// NodeId encoding uses a compact form selected by IdType; ByteLen and
// Encode/Decode must agree exactly.

func ByteLenNodeId(id ua.NodeId) int {
	switch id.IdType {
	case ua.IdTypeNumeric:
		if id.Numeric <= 0xFF && id.Namespace == 0 {
			return 2 // encoding 0: byte
		}
		if id.Numeric <= 0xFFFF && id.Namespace <= 0xFF {
			return 4 // encoding 1: namespace byte + uint16
		}
		return 7 // encoding 2: namespace uint16 + uint32
	case ua.IdTypeString:
		return 1 + 2 + 4 + len(id.Str)
	case ua.IdTypeGUID:
		return 1 + 2 + 16
	case ua.IdTypeByteString:
		return 1 + 2 + 4 + len(id.Bytes)
	default:
		return 3
	}
}

func EncodeNodeId(w *Writer, id ua.NodeId) {
	switch id.IdType {
	case ua.IdTypeNumeric:
		switch {
		case id.Numeric <= 0xFF && id.Namespace == 0:
			w.WriteByte(0)
			w.WriteByte(byte(id.Numeric))
		case id.Numeric <= 0xFFFF && id.Namespace <= 0xFF:
			w.WriteByte(1)
			w.WriteByte(byte(id.Namespace))
			w.WriteUint16(uint16(id.Numeric))
		default:
			w.WriteByte(2)
			w.WriteUint16(id.Namespace)
			w.WriteUint32(id.Numeric)
		}
	case ua.IdTypeString:
		w.WriteByte(3)
		w.WriteUint16(id.Namespace)
		w.WriteString(id.Str, true)
	case ua.IdTypeGUID:
		w.WriteByte(4)
		w.WriteUint16(id.Namespace)
		guid := id.GUID
		w.buf = append(w.buf, guid[:]...)
	case ua.IdTypeByteString:
		w.WriteByte(5)
		w.WriteUint16(id.Namespace)
		w.WriteByteString(id.Bytes)
	}
}

func DecodeNodeId(r *Reader) (ua.NodeId, error) {
	enc, err := r.ReadByte()
	if err != nil {
		return ua.NodeId{}, err
	}
	switch enc {
	case 0:
		b, err := r.ReadByte()
		if err != nil {
			return ua.NodeId{}, err
		}
		return ua.NewNumericNodeId(0, uint32(b)), nil
	case 1:
		nsByte, err := r.ReadByte()
		if err != nil {
			return ua.NodeId{}, err
		}
		v, err := r.ReadUint16()
		if err != nil {
			return ua.NodeId{}, err
		}
		return ua.NewNumericNodeId(uint16(nsByte), uint32(v)), nil
	case 2:
		ns, err := r.ReadUint16()
		if err != nil {
			return ua.NodeId{}, err
		}
		v, err := r.ReadUint32()
		if err != nil {
			return ua.NodeId{}, err
		}
		return ua.NewNumericNodeId(ns, v), nil
	case 3:
		ns, err := r.ReadUint16()
		if err != nil {
			return ua.NodeId{}, err
		}
		s, _, err := r.ReadString()
		if err != nil {
			return ua.NodeId{}, err
		}
		return ua.NewStringNodeId(ns, s), nil
	case 4:
		ns, err := r.ReadUint16()
		if err != nil {
			return ua.NodeId{}, err
		}
		raw, err := r.take(16)
		if err != nil {
			return ua.NodeId{}, err
		}
		id, err := uuidFromBytes(raw)
		if err != nil {
			return ua.NodeId{}, decodeErrorf("invalid GUID: %v", err)
		}
		return ua.NewGUIDNodeId(ns, id), nil
	case 5:
		ns, err := r.ReadUint16()
		if err != nil {
			return ua.NodeId{}, err
		}
		b, _, err := r.ReadByteString()
		if err != nil {
			return ua.NodeId{}, err
		}
		return ua.NewByteStringNodeId(ns, b), nil
	default:
		return ua.NodeId{}, decodeErrorf("unknown NodeId encoding 0x%02X", enc)
	}
}
