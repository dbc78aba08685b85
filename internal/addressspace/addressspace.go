package addressspace

import (
	"fmt"
	"sync"

	"github.com/coriolis-automation/opcua-server/internal/metrics"
	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// AddressSpace is the server's node table: a flat map keyed by
// NodeId.Key() with references stored on the source node and mirrored
// into an inverse index, so browse can walk both directions without
// scanning the whole table.
type AddressSpace struct {
	mu sync.RWMutex

	nodes   map[string]*Base
	inverse map[string][]Reference // keyed by target.Key()

	continuations *continuationTable
}

// New returns an empty AddressSpace. continuationCacheSize bounds the
// number of in-flight Browse continuation points; 0 selects a sensible
// default.
func New(continuationCacheSize int) (*AddressSpace, error) {
	ct, err := newContinuationTable(continuationCacheSize)
	if err != nil {
		return nil, err
	}
	return &AddressSpace{
		nodes:         make(map[string]*Base),
		inverse:       make(map[string][]Reference),
		continuations: ct,
	}, nil
}

// Insert adds a node, rejecting duplicates and nodes missing
// attributes their class requires.
func (a *AddressSpace) Insert(n *Base) error {
	if err := checkRequiredAttributes(n); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	key := n.NodeID.Key()
	if _, exists := a.nodes[key]; exists {
		return fmt.Errorf("addressspace: node %s already exists", n.NodeID)
	}
	a.nodes[key] = n
	metrics.AddressSpaceNodes.Set(float64(len(a.nodes)))
	return nil
}

// Find looks up a node by id.
func (a *AddressSpace) Find(id ua.NodeId) (*Base, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, ok := a.nodes[id.Key()]
	return n, ok
}

// AddReference links source -> target via refType, both directions
// recorded so browse can walk the graph either way. Both endpoints
// must already exist.
func (a *AddressSpace) AddReference(source, target, refType ua.NodeId, direction ua.BrowseDirection) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	src, ok := a.nodes[source.Key()]
	if !ok {
		return fmt.Errorf("addressspace: source node %s not found (%s)", source, ua.BadNodeIdUnknown)
	}
	if _, ok := a.nodes[target.Key()]; !ok {
		return fmt.Errorf("addressspace: target node %s not found (%s)", target, ua.BadNodeIdUnknown)
	}
	ref := Reference{Source: source, Target: target, Type: refType, Direction: direction}
	src.AddReference(ref)
	a.inverse[target.Key()] = append(a.inverse[target.Key()], ref)
	return nil
}

// Read implements the Read service's per-attribute semantics: unknown
// node is BadNodeIdUnknown, attribute absent from this node class is
// BadAttributeIdInvalid, otherwise the stored DataValue (which itself
// may carry a Bad status, e.g. an unwritten Variable's Value).
func (a *AddressSpace) Read(id ua.NodeId, attr ua.AttributeId) ua.DataValue {
	n, ok := a.Find(id)
	if !ok {
		return ua.BadDataValue(ua.BadNodeIdUnknown)
	}
	dv, ok := n.Attribute(attr)
	if !ok {
		return ua.BadDataValue(ua.BadAttributeIdInvalid)
	}
	return dv
}

// Write implements the Write service's attribute semantics: unknown
// node -> BadNodeIdUnknown, attribute not present on this node ->
// BadAttributeIdInvalid (for Value, also a node that is not a Variable
// or VariableType, or whose AccessLevel lacks the CurrentWrite bit),
// value type mismatch against the node's declared DataType ->
// BadTypeMismatch. Attributes other than Value have no writability
// check: any attribute the node already carries is overwritten.
func (a *AddressSpace) Write(id ua.NodeId, attr ua.AttributeId, dv ua.DataValue) ua.StatusCode {
	n, ok := a.Find(id)
	if !ok {
		return ua.BadNodeIdUnknown
	}
	if attr == ua.AttrValue {
		if n.NodeClass != ua.NodeClassVariable && n.NodeClass != ua.NodeClassVariableType {
			return ua.BadAttributeIdInvalid
		}
		alDV, _ := n.Attribute(ua.AttrAccessLevel)
		al, _ := alDV.Value.Value.(byte)
		if al&ua.AccessLevelCurrentWrite == 0 {
			return ua.BadAttributeIdInvalid
		}
		dtDV, _ := n.Attribute(ua.AttrDataType)
		declared, _ := dtDV.Value.Value.(ua.NodeId)
		if !declared.IsNull() && !valueMatchesDataType(dv.Value, declared) {
			return ua.BadTypeMismatch
		}
	} else if _, ok := n.Attribute(attr); !ok {
		return ua.BadAttributeIdInvalid
	}
	n.SetAttribute(attr, dv)
	return ua.Good
}

// valueMatchesDataType is a pragmatic check: the server's built-in
// scalar DataTypes map 1:1 onto TypeID, so we compare the Variant's
// TypeID against the numeric identifier of declared when declared is
// in namespace 0. Full subtype matching is not attempted.
func valueMatchesDataType(v ua.Variant, declared ua.NodeId) bool {
	if declared.Namespace != 0 || declared.IdType != ua.IdTypeNumeric {
		return true
	}
	expected, ok := builtinDataTypeByVariantType[v.Type]
	if !ok {
		return true
	}
	return expected == declared.Numeric
}

// builtinDataTypeByVariantType maps ua.TypeID to the OPC UA Part 6
// numeric NodeId of the corresponding built-in DataType node.
var builtinDataTypeByVariantType = map[ua.TypeID]uint32{
	ua.TypeBoolean:  1,
	ua.TypeSByte:    2,
	ua.TypeByte:     3,
	ua.TypeInt16:    4,
	ua.TypeUInt16:   5,
	ua.TypeInt32:    6,
	ua.TypeUInt32:   7,
	ua.TypeInt64:    8,
	ua.TypeUInt64:   9,
	ua.TypeFloat:    10,
	ua.TypeDouble:   11,
	ua.TypeString:   12,
	ua.TypeDateTime: 13,
	ua.TypeGUID:     14,
	ua.TypeByteString: 15,
	ua.TypeStatusCode: 19,
}

// BrowseResult is one entry of a Browse/BrowseNext response.
type BrowseResult struct {
	ReferenceType ua.NodeId
	IsForward     bool
	TargetID      ua.NodeId
	TargetClass   ua.NodeClass
	BrowseName    ua.QualifiedName
	DisplayName   ua.LocalizedText
}

// Browse returns up to maxResults references from id in the requested
// direction, optionally filtered by refType (NullNodeId matches all
// types). When more results remain than maxResults allows, a
// continuation point is minted and returned; pass it to BrowseNext to
// resume.
func (a *AddressSpace) Browse(id ua.NodeId, direction ua.BrowseDirection, refType ua.NodeId, maxResults int) ([]BrowseResult, []byte, ua.StatusCode) {
	n, ok := a.Find(id)
	if !ok {
		return nil, nil, ua.BadNodeIdUnknown
	}
	all := a.collectBrowseCandidates(n, direction, refType)
	return a.page(all, maxResults)
}

// BrowseNext resumes a paged Browse using a previously issued
// continuation point; an unrecognized or expired point is
// BadContinuationPointInvalid, and releaseOnly discards the point
// without returning further results.
func (a *AddressSpace) BrowseNext(cp []byte, releaseOnly bool) ([]BrowseResult, []byte, ua.StatusCode) {
	remaining, maxResults, ok := a.continuations.resume(cp)
	if !ok {
		return nil, nil, ua.BadContinuationPointInvalid
	}
	if releaseOnly {
		return nil, nil, ua.Good
	}
	return a.page(remaining, maxResults)
}

func (a *AddressSpace) collectBrowseCandidates(n *Base, direction ua.BrowseDirection, refType ua.NodeId) []BrowseResult {
	var out []BrowseResult
	if direction == ua.BrowseDirectionForward || direction == ua.BrowseDirectionBoth {
		for _, ref := range n.References() {
			if !refType.IsNull() && ref.Type.Key() != refType.Key() {
				continue
			}
			out = append(out, a.toBrowseResult(ref, true))
		}
	}
	if direction == ua.BrowseDirectionInverse || direction == ua.BrowseDirectionBoth {
		a.mu.RLock()
		inv := append([]Reference(nil), a.inverse[n.NodeID.Key()]...)
		a.mu.RUnlock()
		for _, ref := range inv {
			if !refType.IsNull() && ref.Type.Key() != refType.Key() {
				continue
			}
			out = append(out, a.toBrowseResult(ref, false))
		}
	}
	return out
}

func (a *AddressSpace) toBrowseResult(ref Reference, forward bool) BrowseResult {
	target := ref.Target
	if !forward {
		target = ref.Source
	}
	res := BrowseResult{ReferenceType: ref.Type, IsForward: forward, TargetID: target}
	if tn, ok := a.Find(target); ok {
		res.TargetClass = tn.NodeClass
		res.BrowseName = tn.BrowseName
		res.DisplayName = tn.DisplayName
	}
	return res
}

func (a *AddressSpace) page(all []BrowseResult, maxResults int) ([]BrowseResult, []byte, ua.StatusCode) {
	if maxResults <= 0 || len(all) <= maxResults {
		return all, nil, ua.Good
	}
	page, rest := all[:maxResults], all[maxResults:]
	cp, err := a.continuations.create(rest, maxResults)
	if err != nil {
		return page, nil, ua.Good
	}
	return page, cp, ua.Good
}
