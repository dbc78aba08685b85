package ua

import "fmt"

// TypeID is the low six bits of a Variant's encoding mask: the element
// type carried by the Variant (scalar or, if ArrayLen >= 0, array
// element type).
type TypeID uint8

const (
	TypeNull TypeID = iota
	TypeBoolean
	TypeSByte
	TypeByte
	TypeInt16
	TypeUInt16
	TypeInt32
	TypeUInt32
	TypeInt64
	TypeUInt64
	TypeFloat
	TypeDouble
	TypeString
	TypeDateTime
	TypeGUID
	TypeByteString
	TypeXMLElement
	TypeNodeId
	TypeExpandedNodeId
	TypeStatusCode
	TypeQualifiedName
	TypeLocalizedText
	TypeExtensionObject
	TypeVariant
	TypeDataValue
)

// Variant is a tagged union over the OPC UA scalar and array types.
// A scalar Variant has ArrayLen == -1. An array Variant has ArrayLen
// >= 0 and, if ArrayDimensions is non-empty, carries its rank: the
// product of ArrayDimensions must equal ArrayLen (enforced by
// NewArrayVariant, never by direct struct construction).
type Variant struct {
	Type  TypeID
	Value any // scalar Go value, or []any holding `ArrayLen` elements of `Type`

	ArrayLen        int // -1 for scalar
	ArrayDimensions []uint32
}

// NewScalarVariant wraps a single value of the given type.
func NewScalarVariant(t TypeID, v any) Variant {
	return Variant{Type: t, Value: v, ArrayLen: -1}
}

// NewArrayVariant wraps a flat element slice with optional dimensions.
// It enforces the invariant from : a Variant carrying array
// data also carries its rank and per-dimension lengths, and the flat
// element count equals the product of dimensions, when dimensions are
// given at all (a plain 1-D array may omit ArrayDimensions).
func NewArrayVariant(t TypeID, elems []any, dims []uint32) (Variant, error) {
	if len(dims) > 0 {
		product := uint32(1)
		for _, d := range dims {
			product *= d
		}
		if int(product) != len(elems) {
			return Variant{}, fmt.Errorf("ua: array dimensions %v do not match element count %d", dims, len(elems))
		}
	}
	return Variant{
		Type:            t,
		Value:           elems,
		ArrayLen:        len(elems),
		ArrayDimensions: append([]uint32(nil), dims...),
	}, nil
}

// IsArray reports whether the Variant carries array data.
func (v Variant) IsArray() bool { return v.ArrayLen >= 0 }

// NullVariant is the empty Variant used for unset attributes.
var NullVariant = Variant{Type: TypeNull, ArrayLen: -1}

func (v Variant) IsNull() bool { return v.Type == TypeNull && v.ArrayLen < 0 }

// EncodingMask packs the one-byte Variant discriminant used on the
// wire: low six bits = element type, bit 6 = ArrayDimensions present,
// bit 7 = is-array. The encoder must never set bit 6 without bit 7 —
// nested/dimensioned scalars are invalid.
func (v Variant) EncodingMask() byte {
	mask := byte(v.Type) & 0x3F
	if v.IsArray() {
		mask |= 0x80
		if len(v.ArrayDimensions) > 0 {
			mask |= 0x40
		}
	}
	return mask
}

// Equal performs a deep, type-aware comparison used by codec round-trip
// tests; Go's == is not sufficient because array Variants hold slices.
func (v Variant) Equal(other Variant) bool {
	if v.Type != other.Type || v.ArrayLen != other.ArrayLen {
		return false
	}
	if !v.IsArray() {
		return v.Value == other.Value
	}
	a, aok := v.Value.([]any)
	b, bok := other.Value.([]any)
	if !aok || !bok || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	if len(v.ArrayDimensions) != len(other.ArrayDimensions) {
		return false
	}
	for i := range v.ArrayDimensions {
		if v.ArrayDimensions[i] != other.ArrayDimensions[i] {
			return false
		}
	}
	return true
}
