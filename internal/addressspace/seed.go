package addressspace

import (
	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// standard numeric NodeIds this server seeds into namespace 0 at
// startup ( "AddressSpace": "a server MUST expose the
// standard namespace's root hierarchy"). Only the minimal root/folder
// skeleton is seeded; the bulk of OPC UA's standard type hierarchy is
// out of scope per 's Non-goals.
var (
	NodeIDRootFolder       = ua.NewNumericNodeId(0, 84)
	NodeIDObjectsFolder    = ua.NewNumericNodeId(0, 85)
	NodeIDTypesFolder      = ua.NewNumericNodeId(0, 86)
	NodeIDViewsFolder      = ua.NewNumericNodeId(0, 87)
	NodeIDServerObject     = ua.NewNumericNodeId(0, 2253)
	NodeIDBaseDataType     = ua.NewNumericNodeId(0, 24)
	NodeIDBaseObjectType   = ua.NewNumericNodeId(0, 58)
	NodeIDBaseVariableType = ua.NewNumericNodeId(0, 62)
)

// SeedStandardNamespace populates a freshly constructed AddressSpace
// with the root folder hierarchy and the handful of reference types
// every Browse path needs to resolve. Applications then
// add their own Object/Variable nodes under NodeIDObjectsFolder.
func SeedStandardNamespace(a *AddressSpace) error {
	folder := func(id ua.NodeId, name string) *Base {
		return NewObjectNode(id, ua.QualifiedName{Name: name}, ua.LocalizedText{Text: name}, 0)
	}

	root := folder(NodeIDRootFolder, "Root")
	objects := folder(NodeIDObjectsFolder, "Objects")
	types := folder(NodeIDTypesFolder, "Types")
	views := folder(NodeIDViewsFolder, "Views")
	server := folder(NodeIDServerObject, "Server")

	for _, n := range []*Base{root, objects, types, views, server} {
		if err := a.Insert(n); err != nil {
			return err
		}
	}

	refTypes := []struct {
		id        ua.NodeId
		name      string
		symmetric bool
	}{
		{ua.ReferenceTypeOrganizes, "Organizes", false},
		{ua.ReferenceTypeHasComponent, "HasComponent", false},
		{ua.ReferenceTypeHasProperty, "HasProperty", false},
		{ua.ReferenceTypeHasTypeDefinition, "HasTypeDefinition", false},
		{ua.ReferenceTypeHasSubtype, "HasSubtype", false},
	}
	for _, rt := range refTypes {
		n := NewReferenceTypeNode(rt.id, ua.QualifiedName{Name: rt.name}, ua.LocalizedText{Text: rt.name}, rt.symmetric)
		if err := a.Insert(n); err != nil {
			return err
		}
	}

	baseTypes := []struct {
		id   ua.NodeId
		name string
	}{
		{NodeIDBaseDataType, "BaseDataType"},
	}
	for _, bt := range baseTypes {
		if err := a.Insert(NewDataTypeNode(bt.id, ua.QualifiedName{Name: bt.name}, ua.LocalizedText{Text: bt.name})); err != nil {
			return err
		}
	}
	if err := a.Insert(NewObjectTypeNode(NodeIDBaseObjectType, ua.QualifiedName{Name: "BaseObjectType"}, ua.LocalizedText{Text: "BaseObjectType"}, true)); err != nil {
		return err
	}
	variableOpts := VariableOptions{DataType: NodeIDBaseDataType, ValueRank: -1}
	baseVarType, err := NewVariableNode(NodeIDBaseVariableType, ua.QualifiedName{Name: "BaseVariableType"}, ua.LocalizedText{Text: "BaseVariableType"}, variableOpts)
	if err != nil {
		return err
	}
	if err := a.Insert(baseVarType); err != nil {
		return err
	}

	organizes := func(from, to ua.NodeId) error {
		return a.AddReference(from, to, ua.ReferenceTypeOrganizes, ua.BrowseDirectionForward)
	}
	if err := organizes(root.NodeID, objects.NodeID); err != nil {
		return err
	}
	if err := organizes(root.NodeID, types.NodeID); err != nil {
		return err
	}
	if err := organizes(root.NodeID, views.NodeID); err != nil {
		return err
	}
	if err := a.AddReference(objects.NodeID, server.NodeID, ua.ReferenceTypeOrganizes, ua.BrowseDirectionForward); err != nil {
		return err
	}

	return nil
}
