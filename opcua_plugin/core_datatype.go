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

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	lru "github.com/hashicorp/golang-lru"
)

const (
	// DefaultDataTypeCacheSize bounds the number of DataType nodes whose
	// variant type is remembered between calls.
	DefaultDataTypeCacheSize = 256

	// maxSuperTypeDepth stops the walk on servers with broken type hierarchies.
	maxSuperTypeDepth = 16

	lastBuiltinTypeID = 25
)

// DataTypeResolver turns the DataType node id of a method argument into the
// variant type the argument has to be encoded as. Vendor types are resolved
// by following HasSubtype references up to a built-in type.
type DataTypeResolver struct {
	cache *lru.Cache
}

func NewDataTypeResolver(size int) (*DataTypeResolver, error) {
	if size <= 0 {
		size = DefaultDataTypeCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &DataTypeResolver{cache: cache}, nil
}

// VariantType resolves dataType to a variant type. Lookups that fail are not
// cached so a later cycle can retry them.
func (r *DataTypeResolver) VariantType(ctx context.Context, s Session, dataType *ua.NodeID) (ua.TypeID, error) {
	if dataType == nil {
		return ua.TypeIDVariant, nil
	}
	if t, ok := builtinVariantType(dataType); ok {
		return t, nil
	}

	key := dataType.String()
	if cached, ok := r.cache.Get(key); ok {
		return cached.(ua.TypeID), nil
	}

	current := dataType
	for depth := 0; depth < maxSuperTypeDepth; depth++ {
		parent, err := superType(ctx, s.Node(current))
		if err != nil {
			return ua.TypeIDVariant, err
		}
		if parent == nil {
			break
		}
		if t, ok := builtinVariantType(parent); ok {
			r.cache.Add(key, t)
			return t, nil
		}
		current = parent
	}

	return ua.TypeIDVariant, fmt.Errorf("data type %s does not derive from a built-in type", dataType)
}

// Len is the number of cached resolutions.
func (r *DataTypeResolver) Len() int {
	return r.cache.Len()
}

func builtinVariantType(n *ua.NodeID) (ua.TypeID, bool) {
	if n.Namespace() != 0 || n.Type() != ua.NodeIDTypeNumeric && n.Type() != ua.NodeIDTypeTwoByte && n.Type() != ua.NodeIDTypeFourByte {
		return 0, false
	}
	v := n.IntID()
	switch {
	case v >= 1 && v <= lastBuiltinTypeID:
		return ua.TypeID(v), true
	case v == id.Enumeration:
		return ua.TypeIDInt32, true
	}
	return 0, false
}
