package ua

import (
	"fmt"

	"github.com/google/uuid"
)

// IdType discriminates the identifier carried by a NodeId.
type IdType uint8

const (
	IdTypeNumeric IdType = iota
	IdTypeString
	IdTypeGUID
	IdTypeByteString
)

// NodeId is a two-part identifier: a namespace index and a
// variant-kind identifier (numeric, string, GUID or byte string).
// Equality and hashing span both parts, so NodeId is safe as a map key
// only through its Key() string — the struct itself holds a []byte for
// the ByteString case, which is not comparable with ==.
type NodeId struct {
	Namespace uint16
	IdType    IdType

	Numeric uint32
	Str     string
	GUID    uuid.UUID
	Bytes   []byte
}

// NewNumericNodeId builds a NodeId with a numeric identifier.
func NewNumericNodeId(ns uint16, id uint32) NodeId {
	return NodeId{Namespace: ns, IdType: IdTypeNumeric, Numeric: id}
}

// NewStringNodeId builds a NodeId with a string identifier.
func NewStringNodeId(ns uint16, id string) NodeId {
	return NodeId{Namespace: ns, IdType: IdTypeString, Str: id}
}

// NewGUIDNodeId builds a NodeId with a GUID identifier.
func NewGUIDNodeId(ns uint16, id uuid.UUID) NodeId {
	return NodeId{Namespace: ns, IdType: IdTypeGUID, GUID: id}
}

// NewByteStringNodeId builds a NodeId with a byte-string identifier.
func NewByteStringNodeId(ns uint16, id []byte) NodeId {
	return NodeId{Namespace: ns, IdType: IdTypeByteString, Bytes: append([]byte(nil), id...)}
}

// NullNodeId is the zero-of-all sentinel used for "no node".
var NullNodeId = NodeId{}

// IsNull reports whether this is the null NodeId.
func (n NodeId) IsNull() bool {
	return n.Namespace == 0 && n.IdType == IdTypeNumeric && n.Numeric == 0
}

// Key returns a comparable, hashable string uniquely identifying this
// NodeId — used as the AddressSpace map key since the struct itself
// holds a slice field.
func (n NodeId) Key() string {
	switch n.IdType {
	case IdTypeNumeric:
		return fmt.Sprintf("ns=%d;i=%d", n.Namespace, n.Numeric)
	case IdTypeString:
		return fmt.Sprintf("ns=%d;s=%s", n.Namespace, n.Str)
	case IdTypeGUID:
		return fmt.Sprintf("ns=%d;g=%s", n.Namespace, n.GUID.String())
	case IdTypeByteString:
		return fmt.Sprintf("ns=%d;b=%x", n.Namespace, n.Bytes)
	default:
		return fmt.Sprintf("ns=%d;?", n.Namespace)
	}
}

func (n NodeId) String() string { return n.Key() }

// ExpandedNodeId extends NodeId with an optional namespace URI and
// server index. Session ids and authentication tokens are plain
// GUID NodeIds, not ExpandedNodeIds.
type ExpandedNodeId struct {
	NodeId
	NamespaceURI string
	ServerIndex  uint32
}

// QualifiedName pairs a namespace index with a name, used for BrowseName.
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

func (q QualifiedName) String() string { return fmt.Sprintf("%d:%s", q.NamespaceIndex, q.Name) }

// LocalizedText pairs an optional locale with text, used for DisplayName
// and Description.
type LocalizedText struct {
	Locale string
	Text   string
}
