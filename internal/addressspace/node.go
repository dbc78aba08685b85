// Package addressspace implements the server's typed object graph: a
// flat node table keyed by NodeId with references stored as
// (source, target, type) tuples rather than pointers, so the
// inherently cyclic reference graph (hierarchical + HasTypeDefinition)
// never needs cyclic ownership.
package addressspace

import (
	"fmt"
	"sync"
	"time"

	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// Base is the common node state every node class carries (
// "Node"): identity, typing, the attribute table and outgoing
// references. Concrete node "classes" here are just Base values
// constructed through a class-specific constructor that enforces that
// class's required attributes — OPC UA's class hierarchy does not need
// a Go type hierarchy, since the invariant differences are entirely in
// which attributes are required, not in behavior.
type Base struct {
	mu sync.RWMutex

	NodeClass   ua.NodeClass
	NodeID      ua.NodeId
	BrowseName  ua.QualifiedName
	DisplayName ua.LocalizedText

	attributes map[ua.AttributeId]ua.DataValue
	references []Reference
}

// Reference is a (source, target, type) tuple with direction, stored
// on the source node; AddressSpace separately maintains the inverse
// index.
type Reference struct {
	Source    ua.NodeId
	Target    ua.NodeId
	Type      ua.NodeId
	Direction ua.BrowseDirection
}

func newBase(class ua.NodeClass, id ua.NodeId, browseName ua.QualifiedName, displayName ua.LocalizedText) *Base {
	return &Base{
		NodeClass:   class,
		NodeID:      id,
		BrowseName:  browseName,
		DisplayName: displayName,
		attributes:  make(map[ua.AttributeId]ua.DataValue),
	}
}

// SetAttribute stores attr unconditionally; used by constructors and
// by AddressSpace.write after access-control checks pass.
func (b *Base) SetAttribute(attr ua.AttributeId, dv ua.DataValue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attributes[attr] = dv
}

// Attribute reads attr; ok is false if it was never set.
func (b *Base) Attribute(attr ua.AttributeId) (ua.DataValue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dv, ok := b.attributes[attr]
	return dv, ok
}

// AddReference appends a reference if not already present (idempotent).
func (b *Base) AddReference(ref Reference) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.references {
		if existing == ref {
			return
		}
	}
	b.references = append(b.references, ref)
}

// References returns a snapshot copy of this node's outgoing references.
func (b *Base) References() []Reference {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Reference, len(b.references))
	copy(out, b.references)
	return out
}

// requiredAttributeSets names the attributes that are mandatory
// per node class. A missing one at insert() time is BadAttributeIdInvalid.
var requiredAttributeSets = map[ua.NodeClass][]ua.AttributeId{
	ua.NodeClassVariable: {
		ua.AttrValue, ua.AttrDataType, ua.AttrValueRank,
		ua.AttrAccessLevel, ua.AttrUserAccessLevel, ua.AttrHistorizing,
	},
	ua.NodeClassObject:        {ua.AttrEventNotifier},
	ua.NodeClassMethod:        {ua.AttrExecutable, ua.AttrUserExecutable},
	ua.NodeClassObjectType:    {ua.AttrIsAbstract},
	ua.NodeClassVariableType:  {ua.AttrValue, ua.AttrDataType, ua.AttrValueRank, ua.AttrIsAbstract},
	ua.NodeClassReferenceType: {ua.AttrIsAbstract, ua.AttrSymmetric},
	ua.NodeClassDataType:      {ua.AttrIsAbstract},
	ua.NodeClassView:          {ua.AttrContainsNoLoops, ua.AttrEventNotifier},
}

// checkRequiredAttributes returns BadAttributeIdInvalid if b is
// missing any attribute its node class requires.
func checkRequiredAttributes(b *Base) error {
	for _, attr := range requiredAttributeSets[b.NodeClass] {
		if _, ok := b.Attribute(attr); !ok {
			return fmt.Errorf("addressspace: node %s missing required attribute %d for class %s", b.NodeID, attr, b.NodeClass)
		}
	}
	return nil
}

// VariableOptions configures NewVariableNode.
type VariableOptions struct {
	DataType      ua.NodeId
	ValueRank     int32 // -1 = scalar, 0 = any-dimension array, N = fixed rank
	ArrayDims     []uint32
	AccessLevel   byte
	Historizing   bool
	MinSampling   time.Duration
}

// NewVariableNode builds a Variable node with its required attributes
// populated. Value is left BadWaitingForInitialData until first
// written, mirroring original_source/variable.rs, which defaults
// Historizing false and cross-checks ValueRank against ArrayDimensions
// at construction rather than deferring the check to write time.
func NewVariableNode(id ua.NodeId, browseName ua.QualifiedName, displayName ua.LocalizedText, opts VariableOptions) (*Base, error) {
	if opts.ValueRank > 0 && len(opts.ArrayDims) != int(opts.ValueRank) {
		return nil, fmt.Errorf("addressspace: ArrayDimensions length %d does not match ValueRank %d", len(opts.ArrayDims), opts.ValueRank)
	}
	b := newBase(ua.NodeClassVariable, id, browseName, displayName)
	b.SetAttribute(ua.AttrValue, ua.BadDataValue(ua.BadWaitingForInitialData))
	b.SetAttribute(ua.AttrDataType, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeNodeId, opts.DataType), time.Now()))
	b.SetAttribute(ua.AttrValueRank, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeInt32, opts.ValueRank), time.Now()))
	if len(opts.ArrayDims) > 0 {
		dims := make([]any, len(opts.ArrayDims))
		for i, d := range opts.ArrayDims {
			dims[i] = d
		}
		v, err := ua.NewArrayVariant(ua.TypeUInt32, dims, nil)
		if err != nil {
			return nil, err
		}
		b.SetAttribute(ua.AttrArrayDimensions, ua.NewGoodDataValue(v, time.Now()))
	}
	accessLevel := opts.AccessLevel
	if accessLevel == 0 {
		accessLevel = ua.AccessLevelCurrentRead
	}
	b.SetAttribute(ua.AttrAccessLevel, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeByte, accessLevel), time.Now()))
	b.SetAttribute(ua.AttrUserAccessLevel, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeByte, accessLevel), time.Now()))
	b.SetAttribute(ua.AttrHistorizing, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeBoolean, opts.Historizing), time.Now()))
	b.SetAttribute(ua.AttrMinimumSamplingInterval, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeDouble, float64(opts.MinSampling.Milliseconds())), time.Now()))
	return b, nil
}

// NewObjectNode builds an Object node.
func NewObjectNode(id ua.NodeId, browseName ua.QualifiedName, displayName ua.LocalizedText, eventNotifier byte) *Base {
	b := newBase(ua.NodeClassObject, id, browseName, displayName)
	b.SetAttribute(ua.AttrEventNotifier, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeByte, eventNotifier), time.Now()))
	return b
}

// NewMethodNode builds a Method node.
func NewMethodNode(id ua.NodeId, browseName ua.QualifiedName, displayName ua.LocalizedText, executable bool) *Base {
	b := newBase(ua.NodeClassMethod, id, browseName, displayName)
	b.SetAttribute(ua.AttrExecutable, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeBoolean, executable), time.Now()))
	b.SetAttribute(ua.AttrUserExecutable, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeBoolean, executable), time.Now()))
	return b
}

// NewObjectTypeNode builds an ObjectType node.
func NewObjectTypeNode(id ua.NodeId, browseName ua.QualifiedName, displayName ua.LocalizedText, isAbstract bool) *Base {
	b := newBase(ua.NodeClassObjectType, id, browseName, displayName)
	b.SetAttribute(ua.AttrIsAbstract, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeBoolean, isAbstract), time.Now()))
	return b
}

// NewReferenceTypeNode builds a ReferenceType node.
func NewReferenceTypeNode(id ua.NodeId, browseName ua.QualifiedName, displayName ua.LocalizedText, symmetric bool) *Base {
	b := newBase(ua.NodeClassReferenceType, id, browseName, displayName)
	b.SetAttribute(ua.AttrIsAbstract, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeBoolean, false), time.Now()))
	b.SetAttribute(ua.AttrSymmetric, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeBoolean, symmetric), time.Now()))
	return b
}

// NewDataTypeNode builds a DataType node.
func NewDataTypeNode(id ua.NodeId, browseName ua.QualifiedName, displayName ua.LocalizedText) *Base {
	b := newBase(ua.NodeClassDataType, id, browseName, displayName)
	b.SetAttribute(ua.AttrIsAbstract, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeBoolean, false), time.Now()))
	return b
}
