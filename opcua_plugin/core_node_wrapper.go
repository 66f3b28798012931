// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcua_plugin

import (
	"context"
	"fmt"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
)

// NodeBrowser is the part of a remote node the method engine, the DataType
// resolver and the diagnostic browser need.
type NodeBrowser interface {
	// Attributes retrieves multiple attributes of the node
	Attributes(ctx context.Context, attrs ...ua.AttributeID) ([]*ua.DataValue, error)

	// BrowseName retrieves the browse name of the node
	BrowseName(ctx context.Context) (*ua.QualifiedName, error)

	// ReferencedNodes retrieves nodes referenced by this node based on specified criteria
	ReferencedNodes(ctx context.Context, refType uint32, browseDir ua.BrowseDirection, nodeClassMask ua.NodeClass, includeSubtypes bool) ([]NodeBrowser, error)

	// Children retrieves the hierarchical children of the node
	Children(ctx context.Context, refType uint32, nodeClassMask ua.NodeClass) ([]NodeBrowser, error)

	ID() *ua.NodeID
}

type OpcuaNodeWrapper struct {
	n *opcua.Node
}

func NewOpcuaNodeWrapper(n *opcua.Node) *OpcuaNodeWrapper {
	return &OpcuaNodeWrapper{n: n}
}

func (n *OpcuaNodeWrapper) Attributes(ctx context.Context, attrs ...ua.AttributeID) ([]*ua.DataValue, error) {
	return n.n.Attributes(ctx, attrs...)
}

func (n *OpcuaNodeWrapper) BrowseName(ctx context.Context) (*ua.QualifiedName, error) {
	return n.n.BrowseName(ctx)
}

func (n *OpcuaNodeWrapper) ReferencedNodes(ctx context.Context, refType uint32, browseDir ua.BrowseDirection, nodeClassMask ua.NodeClass, includeSubtypes bool) ([]NodeBrowser, error) {
	refs, err := n.n.ReferencedNodes(ctx, refType, browseDir, nodeClassMask, includeSubtypes)
	if err != nil {
		return nil, err
	}
	return wrapNodes(refs), nil
}

func (n *OpcuaNodeWrapper) Children(ctx context.Context, refType uint32, nodeClassMask ua.NodeClass) ([]NodeBrowser, error) {
	children, err := n.n.Children(ctx, refType, nodeClassMask)
	if err != nil {
		return nil, err
	}
	return wrapNodes(children), nil
}

func (n *OpcuaNodeWrapper) ID() *ua.NodeID {
	return n.n.ID
}

func wrapNodes(nodes []*opcua.Node) []NodeBrowser {
	result := make([]NodeBrowser, 0, len(nodes))
	for _, node := range nodes {
		result = append(result, NewOpcuaNodeWrapper(node))
	}
	return result
}

// inputArguments returns the declared input arguments of a method node.
// A method without an InputArguments property takes no arguments.
func inputArguments(ctx context.Context, method NodeBrowser) ([]*ua.Argument, error) {
	props, err := method.ReferencedNodes(ctx, id.HasProperty, ua.BrowseDirectionForward, ua.NodeClassVariable, true)
	if err != nil {
		return nil, fmt.Errorf("browse properties of %s: %w", method.ID(), err)
	}

	for _, prop := range props {
		name, err := prop.BrowseName(ctx)
		if err != nil {
			return nil, fmt.Errorf("browse name of %s: %w", prop.ID(), err)
		}
		if name == nil || name.Name != "InputArguments" {
			continue
		}

		attrs, err := prop.Attributes(ctx, ua.AttributeIDValue)
		if err != nil {
			return nil, fmt.Errorf("read InputArguments of %s: %w", method.ID(), err)
		}
		if len(attrs) == 0 || attrs[0] == nil {
			return nil, fmt.Errorf("read InputArguments of %s: empty response", method.ID())
		}
		if !isGood(attrs[0].Status) {
			return nil, fmt.Errorf("read InputArguments of %s: %w", method.ID(), attrs[0].Status)
		}
		if attrs[0].Value == nil {
			return nil, nil
		}
		return decodeArguments(attrs[0].Value.Value())
	}
	return nil, nil
}

func decodeArguments(raw any) ([]*ua.Argument, error) {
	objects, ok := raw.([]*ua.ExtensionObject)
	if !ok {
		return nil, fmt.Errorf("unexpected InputArguments value of type %T", raw)
	}
	args := make([]*ua.Argument, 0, len(objects))
	for i, obj := range objects {
		if obj == nil {
			return nil, fmt.Errorf("InputArguments[%d] is empty", i)
		}
		switch a := obj.Value.(type) {
		case *ua.Argument:
			args = append(args, a)
		case ua.Argument:
			args = append(args, &a)
		default:
			return nil, fmt.Errorf("InputArguments[%d] has unexpected type %T", i, obj.Value)
		}
	}
	return args, nil
}

// methodParent returns the object a method node hangs off, which is the
// object the method has to be called on.
func methodParent(ctx context.Context, method NodeBrowser) (*ua.NodeID, error) {
	parents, err := method.ReferencedNodes(ctx, id.HierarchicalReferences, ua.BrowseDirectionInverse, ua.NodeClassAll, true)
	if err != nil {
		return nil, fmt.Errorf("browse parent of %s: %w", method.ID(), err)
	}
	if len(parents) == 0 {
		return nil, fmt.Errorf("%s: %w", method.ID(), ErrNoMethodParent)
	}
	return parents[0].ID(), nil
}

// superType returns the direct supertype of a type node, or nil at the root.
func superType(ctx context.Context, typeNode NodeBrowser) (*ua.NodeID, error) {
	supers, err := typeNode.ReferencedNodes(ctx, id.HasSubtype, ua.BrowseDirectionInverse, ua.NodeClassAll, true)
	if err != nil {
		return nil, fmt.Errorf("browse supertype of %s: %w", typeNode.ID(), err)
	}
	if len(supers) == 0 {
		return nil, nil
	}
	return supers[0].ID(), nil
}
