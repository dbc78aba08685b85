package codec

import (
	"time"

	"github.com/google/uuid"

	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// ByteLenVariant returns the exact encoded size of v without writing it.
// It must agree with EncodeVariant byte-for-byte.
func ByteLenVariant(v ua.Variant) int {
	n := 1 // encoding mask
	if v.IsArray() {
		elems, _ := v.Value.([]any)
		n += 4 // array length
		for _, e := range elems {
			n += byteLenScalar(v.Type, e)
		}
		if len(v.ArrayDimensions) > 0 {
			n += 4 + 4*len(v.ArrayDimensions)
		}
		return n
	}
	if v.IsNull() {
		return n
	}
	return n + byteLenScalar(v.Type, v.Value)
}

func byteLenScalar(t ua.TypeID, val any) int {
	switch t {
	case ua.TypeBoolean, ua.TypeSByte, ua.TypeByte:
		return 1
	case ua.TypeInt16, ua.TypeUInt16:
		return 2
	case ua.TypeInt32, ua.TypeUInt32, ua.TypeFloat, ua.TypeStatusCode:
		return 4
	case ua.TypeInt64, ua.TypeUInt64, ua.TypeDouble, ua.TypeDateTime:
		return 8
	case ua.TypeGUID:
		return 16
	case ua.TypeString, ua.TypeXMLElement:
		if s, ok := val.(string); ok {
			return 4 + len(s)
		}
		return 4
	case ua.TypeByteString:
		if b, ok := val.([]byte); ok {
			return 4 + len(b)
		}
		return 4
	case ua.TypeNodeId:
		if id, ok := val.(ua.NodeId); ok {
			return ByteLenNodeId(id)
		}
		return 3
	case ua.TypeQualifiedName:
		if q, ok := val.(ua.QualifiedName); ok {
			return 2 + 4 + len(q.Name)
		}
		return 6
	case ua.TypeLocalizedText:
		if lt, ok := val.(ua.LocalizedText); ok {
			n := 1
			if lt.Locale != "" {
				n += 4 + len(lt.Locale)
			}
			if lt.Text != "" {
				n += 4 + len(lt.Text)
			}
			return n
		}
		return 9
	default:
		return 0
	}
}

// EncodeVariant writes v's one-byte encoding mask followed by its
// payload. The encoder rejects nested arrays (an array whose element
// type is itself TypeVariant carrying array data is never produced by
// this package).
func EncodeVariant(w *Writer, v ua.Variant) {
	w.WriteByte(v.EncodingMask())
	if v.IsArray() {
		elems, _ := v.Value.([]any)
		w.WriteInt32(int32(len(elems)))
		for _, e := range elems {
			encodeScalar(w, v.Type, e)
		}
		if len(v.ArrayDimensions) > 0 {
			w.WriteInt32(int32(len(v.ArrayDimensions)))
			for _, d := range v.ArrayDimensions {
				w.WriteUint32(d)
			}
		}
		return
	}
	if v.IsNull() {
		return
	}
	encodeScalar(w, v.Type, v.Value)
}

func encodeScalar(w *Writer, t ua.TypeID, val any) {
	switch t {
	case ua.TypeBoolean:
		w.WriteBool(val.(bool))
	case ua.TypeSByte:
		w.WriteByte(byte(val.(int8)))
	case ua.TypeByte:
		w.WriteByte(val.(byte))
	case ua.TypeInt16:
		w.WriteInt16(val.(int16))
	case ua.TypeUInt16:
		w.WriteUint16(val.(uint16))
	case ua.TypeInt32:
		w.WriteInt32(val.(int32))
	case ua.TypeUInt32:
		w.WriteUint32(val.(uint32))
	case ua.TypeInt64:
		w.WriteInt64(val.(int64))
	case ua.TypeUInt64:
		w.WriteUint64(val.(uint64))
	case ua.TypeFloat:
		w.WriteFloat32(val.(float32))
	case ua.TypeDouble:
		w.WriteFloat64(val.(float64))
	case ua.TypeDateTime:
		w.WriteDateTime(val.(time.Time))
	case ua.TypeString, ua.TypeXMLElement:
		if s, ok := val.(string); ok {
			w.WriteString(s, true)
		} else {
			w.WriteInt32(-1)
		}
	case ua.TypeByteString:
		if b, ok := val.([]byte); ok {
			w.WriteByteString(b)
		} else {
			w.WriteByteString(nil)
		}
	case ua.TypeGUID:
		guid := val.(uuid.UUID)
		w.buf = append(w.buf, guid[:]...)
	case ua.TypeNodeId:
		EncodeNodeId(w, val.(ua.NodeId))
	case ua.TypeStatusCode:
		w.WriteUint32(uint32(val.(ua.StatusCode)))
	case ua.TypeQualifiedName:
		q := val.(ua.QualifiedName)
		w.WriteUint16(q.NamespaceIndex)
		w.WriteString(q.Name, true)
	case ua.TypeLocalizedText:
		lt := val.(ua.LocalizedText)
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
}

// DecodeVariant reads a one-byte encoding mask and its payload. Any
// structural failure (bad discriminant, short read, over-limit length)
// yields a *DecodeError; callers at the service layer translate that
// into a Variant carrying StatusCode BadDecodingError rather than a
// top-level failure when decoding inside a Read response.
func DecodeVariant(r *Reader) (ua.Variant, error) {
	mask, err := r.ReadByte()
	if err != nil {
		return ua.Variant{}, err
	}
	t := ua.TypeID(mask & 0x3F)
	isArray := mask&0x80 != 0
	hasDims := mask&0x40 != 0
	if hasDims && !isArray {
		return ua.Variant{}, decodeErrorf("ArrayDimensions bit set without array bit")
	}
	if !isArray {
		if t == ua.TypeNull {
			return ua.NullVariant, nil
		}
		val, err := decodeScalar(r, t)
		if err != nil {
			return ua.Variant{}, err
		}
		return ua.NewScalarVariant(t, val), nil
	}
	n, err := r.ReadInt32()
	if err != nil {
		return ua.Variant{}, err
	}
	if n < 0 || int(n) > MaxByteStringLength {
		return ua.Variant{}, decodeErrorf("array length %d out of range", n)
	}
	elems := make([]any, n)
	for i := range elems {
		v, err := decodeScalar(r, t)
		if err != nil {
			return ua.Variant{}, err
		}
		elems[i] = v
	}
	var dims []uint32
	if hasDims {
		dn, err := r.ReadInt32()
		if err != nil {
			return ua.Variant{}, err
		}
		if dn < 0 || int(dn) > 64 {
			return ua.Variant{}, decodeErrorf("array dimension count %d out of range", dn)
		}
		dims = make([]uint32, dn)
		for i := range dims {
			d, err := r.ReadUint32()
			if err != nil {
				return ua.Variant{}, err
			}
			dims[i] = d
		}
	}
	return ua.NewArrayVariant(t, elems, dims)
}

func decodeScalar(r *Reader, t ua.TypeID) (any, error) {
	switch t {
	case ua.TypeBoolean:
		return r.ReadBool()
	case ua.TypeSByte:
		b, err := r.ReadByte()
		return int8(b), err
	case ua.TypeByte:
		return r.ReadByte()
	case ua.TypeInt16:
		return r.ReadInt16()
	case ua.TypeUInt16:
		return r.ReadUint16()
	case ua.TypeInt32:
		return r.ReadInt32()
	case ua.TypeUInt32:
		return r.ReadUint32()
	case ua.TypeInt64:
		return r.ReadInt64()
	case ua.TypeUInt64:
		return r.ReadUint64()
	case ua.TypeFloat:
		return r.ReadFloat32()
	case ua.TypeDouble:
		return r.ReadFloat64()
	case ua.TypeDateTime:
		return r.ReadDateTime()
	case ua.TypeString, ua.TypeXMLElement:
		s, _, err := r.ReadString()
		return s, err
	case ua.TypeByteString:
		b, _, err := r.ReadByteString()
		return b, err
	case ua.TypeGUID:
		raw, err := r.take(16)
		if err != nil {
			return nil, err
		}
		id, err := uuidFromBytes(raw)
		if err != nil {
			return nil, decodeErrorf("invalid GUID: %v", err)
		}
		return id, nil
	case ua.TypeNodeId:
		return DecodeNodeId(r)
	case ua.TypeStatusCode:
		v, err := r.ReadUint32()
		return ua.StatusCode(v), err
	case ua.TypeQualifiedName:
		ns, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		name, _, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		return ua.QualifiedName{NamespaceIndex: ns, Name: name}, nil
	case ua.TypeLocalizedText:
		mask, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		var lt ua.LocalizedText
		if mask&1 != 0 {
			lt.Locale, _, err = r.ReadString()
			if err != nil {
				return nil, err
			}
		}
		if mask&2 != 0 {
			lt.Text, _, err = r.ReadString()
			if err != nil {
				return nil, err
			}
		}
		return lt, nil
	default:
		return nil, decodeErrorf("unsupported Variant element type 0x%02X", t)
	}
}
