package ua

// AttributeId names a node attribute.
type AttributeId uint32

const (
	AttrNodeId AttributeId = iota + 1
	AttrNodeClass
	AttrBrowseName
	AttrDisplayName
	AttrDescription
	AttrWriteMask
	AttrUserWriteMask
	AttrIsAbstract
	AttrSymmetric
	AttrInverseName
	AttrContainsNoLoops
	AttrEventNotifier
	AttrValue
	AttrDataType
	AttrValueRank
	AttrArrayDimensions
	AttrAccessLevel
	AttrUserAccessLevel
	AttrMinimumSamplingInterval
	AttrHistorizing
	AttrExecutable
	AttrUserExecutable
)

// NodeClass is one of the eight OPC UA node classes.
type NodeClass uint32

const (
	NodeClassObject NodeClass = 1 << iota
	NodeClassVariable
	NodeClassMethod
	NodeClassObjectType
	NodeClassVariableType
	NodeClassReferenceType
	NodeClassDataType
	NodeClassView
)

func (c NodeClass) String() string {
	switch c {
	case NodeClassObject:
		return "Object"
	case NodeClassVariable:
		return "Variable"
	case NodeClassMethod:
		return "Method"
	case NodeClassObjectType:
		return "ObjectType"
	case NodeClassVariableType:
		return "VariableType"
	case NodeClassReferenceType:
		return "ReferenceType"
	case NodeClassDataType:
		return "DataType"
	case NodeClassView:
		return "View"
	default:
		return "Unknown"
	}
}

// AccessLevel bits for AttrAccessLevel / AttrUserAccessLevel.
const (
	AccessLevelCurrentRead  byte = 1 << 0
	AccessLevelCurrentWrite byte = 1 << 1
	AccessLevelHistoryRead  byte = 1 << 2
	AccessLevelHistoryWrite byte = 1 << 3
)

// BrowseDirection constrains a browse/reference-add operation.
type BrowseDirection uint8

const (
	BrowseDirectionForward BrowseDirection = iota
	BrowseDirectionInverse
	BrowseDirectionBoth
)

// Standard reference type identifiers used by the seeded namespace and
// by browse/reference operations. Numeric ids per OPC UA Part 3.
var (
	ReferenceTypeOrganizes        = NewNumericNodeId(0, 35)
	ReferenceTypeHasComponent     = NewNumericNodeId(0, 47)
	ReferenceTypeHasProperty      = NewNumericNodeId(0, 46)
	ReferenceTypeHasTypeDefinition = NewNumericNodeId(0, 40)
	ReferenceTypeHasSubtype       = NewNumericNodeId(0, 45)
)
