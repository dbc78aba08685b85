package addressspace

import (
	"testing"
	"time"

	"github.com/coriolis-automation/opcua-server/pkg/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeededSpace(t *testing.T) *AddressSpace {
	t.Helper()
	a, err := New(0)
	require.NoError(t, err)
	require.NoError(t, SeedStandardNamespace(a))
	return a
}

func TestSeedStandardNamespace(t *testing.T) {
	a := newSeededSpace(t)

	root, ok := a.Find(NodeIDRootFolder)
	require.True(t, ok)
	assert.Equal(t, ua.NodeClassObject, root.NodeClass)

	results, cp, status := a.Browse(NodeIDRootFolder, ua.BrowseDirectionForward, ua.NullNodeId, 0)
	require.Equal(t, ua.Good, status)
	assert.Nil(t, cp)
	assert.Len(t, results, 3) // Objects, Types, Views
}

func TestInsertRejectsDuplicate(t *testing.T) {
	a := newSeededSpace(t)
	n := NewObjectNode(ua.NewNumericNodeId(1, 1), ua.QualifiedName{Name: "Thing"}, ua.LocalizedText{Text: "Thing"}, 0)
	require.NoError(t, a.Insert(n))

	dup := NewObjectNode(ua.NewNumericNodeId(1, 1), ua.QualifiedName{Name: "Thing2"}, ua.LocalizedText{Text: "Thing2"}, 0)
	assert.Error(t, a.Insert(dup))
}

func TestInsertRejectsMissingRequiredAttributes(t *testing.T) {
	a := newSeededSpace(t)
	bare := newBase(ua.NodeClassVariable, ua.NewNumericNodeId(1, 2), ua.QualifiedName{Name: "Bare"}, ua.LocalizedText{Text: "Bare"})
	assert.Error(t, a.Insert(bare))
}

func TestReadUnknownNode(t *testing.T) {
	a := newSeededSpace(t)
	dv := a.Read(ua.NewNumericNodeId(9, 9), ua.AttrValue)
	assert.Equal(t, ua.BadNodeIdUnknown, dv.Status)
}

func TestReadUnsetAttribute(t *testing.T) {
	a := newSeededSpace(t)
	dv := a.Read(NodeIDRootFolder, ua.AttrDescription)
	assert.Equal(t, ua.BadAttributeIdInvalid, dv.Status)
}

func TestWriteValueRespectsAccessLevel(t *testing.T) {
	a := newSeededSpace(t)
	id := ua.NewNumericNodeId(1, 10)
	v, err := NewVariableNode(id, ua.QualifiedName{Name: "ReadOnly"}, ua.LocalizedText{Text: "ReadOnly"}, VariableOptions{
		DataType:    NodeIDBaseDataType,
		ValueRank:   -1,
		AccessLevel: ua.AccessLevelCurrentRead,
	})
	require.NoError(t, err)
	require.NoError(t, a.Insert(v))

	status := a.Write(id, ua.AttrValue, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeInt32, int32(1)), time.Now()))
	assert.Equal(t, ua.BadAttributeIdInvalid, status)
}

func TestWriteValueSucceedsWhenWritable(t *testing.T) {
	a := newSeededSpace(t)
	id := ua.NewNumericNodeId(1, 11)
	opts := VariableOptions{
		DataType:    ua.NewNumericNodeId(0, 6), // Int32
		ValueRank:   -1,
		AccessLevel: ua.AccessLevelCurrentRead | ua.AccessLevelCurrentWrite,
	}
	v, err := NewVariableNode(id, ua.QualifiedName{Name: "Writable"}, ua.LocalizedText{Text: "Writable"}, opts)
	require.NoError(t, err)
	require.NoError(t, a.Insert(v))

	status := a.Write(id, ua.AttrValue, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeInt32, int32(42)), time.Now()))
	require.Equal(t, ua.Good, status)

	dv := a.Read(id, ua.AttrValue)
	assert.Equal(t, int32(42), dv.Value.Value)
}

func TestWriteRejectsTypeMismatch(t *testing.T) {
	a := newSeededSpace(t)
	id := ua.NewNumericNodeId(1, 12)
	opts := VariableOptions{
		DataType:    ua.NewNumericNodeId(0, 6), // Int32
		ValueRank:   -1,
		AccessLevel: ua.AccessLevelCurrentRead | ua.AccessLevelCurrentWrite,
	}
	v, err := NewVariableNode(id, ua.QualifiedName{Name: "Typed"}, ua.LocalizedText{Text: "Typed"}, opts)
	require.NoError(t, err)
	require.NoError(t, a.Insert(v))

	status := a.Write(id, ua.AttrValue, ua.NewGoodDataValue(ua.NewScalarVariant(ua.TypeString, "nope"), time.Now()))
	assert.Equal(t, ua.BadTypeMismatch, status)
}

func TestBrowseContinuationPoint(t *testing.T) {
	a := newSeededSpace(t)
	parent := NewObjectNode(ua.NewNumericNodeId(1, 100), ua.QualifiedName{Name: "Parent"}, ua.LocalizedText{Text: "Parent"}, 0)
	require.NoError(t, a.Insert(parent))

	for i := 0; i < 5; i++ {
		child := NewObjectNode(ua.NewNumericNodeId(1, 200+uint32(i)), ua.QualifiedName{Name: "Child"}, ua.LocalizedText{Text: "Child"}, 0)
		require.NoError(t, a.Insert(child))
		require.NoError(t, a.AddReference(parent.NodeID, child.NodeID, ua.ReferenceTypeHasComponent, ua.BrowseDirectionForward))
	}

	page1, cp, status := a.Browse(parent.NodeID, ua.BrowseDirectionForward, ua.NullNodeId, 2)
	require.Equal(t, ua.Good, status)
	require.Len(t, page1, 2)
	require.NotNil(t, cp)

	page2, cp2, status := a.BrowseNext(cp, false)
	require.Equal(t, ua.Good, status)
	require.Len(t, page2, 2)
	require.NotNil(t, cp2)

	page3, cp3, status := a.BrowseNext(cp2, false)
	require.Equal(t, ua.Good, status)
	require.Len(t, page3, 1)
	assert.Nil(t, cp3)
}

func TestBrowseNextUnknownContinuationPoint(t *testing.T) {
	a := newSeededSpace(t)
	_, _, status := a.BrowseNext([]byte("not-a-real-token"), false)
	assert.Equal(t, ua.BadContinuationPointInvalid, status)
}

func TestAddReferenceUnknownEndpoint(t *testing.T) {
	a := newSeededSpace(t)
	err := a.AddReference(NodeIDRootFolder, ua.NewNumericNodeId(9, 9), ua.ReferenceTypeOrganizes, ua.BrowseDirectionForward)
	assert.Error(t, err)
}
