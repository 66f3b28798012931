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
	"strings"

	"github.com/gopcua/opcua/ua"
)

// valueClassVariantTypes maps the application level value classes onto the
// variant type used on the wire. Keys are upper case.
var valueClassVariantTypes = map[string]ua.TypeID{
	"FLOAT64":     ua.TypeIDDouble,
	"DOUBLE":      ua.TypeIDDouble,
	"FLOAT":       ua.TypeIDDouble,
	"LREAL":       ua.TypeIDDouble,
	"UNIXTIMEF64": ua.TypeIDDouble,

	"FLOAT32":     ua.TypeIDFloat,
	"SINGLE":      ua.TypeIDFloat,
	"REAL":        ua.TypeIDFloat,
	"UNIXTIMEF32": ua.TypeIDFloat,

	"UINT64": ua.TypeIDUint64,

	"INT64":       ua.TypeIDInt64,
	"UNIXTIMEI64": ua.TypeIDInt64,

	"INT32": ua.TypeIDInt32,

	"UINT32":      ua.TypeIDUint32,
	"DWORD":       ua.TypeIDUint32,
	"UNIXTIMEI32": ua.TypeIDUint32,

	"INT16": ua.TypeIDInt16,
	"INT":   ua.TypeIDInt16,

	"UINT":   ua.TypeIDUint16,
	"UINT16": ua.TypeIDUint16,
	"WORD":   ua.TypeIDUint16,

	"INT8": ua.TypeIDSByte,

	"UINT8": ua.TypeIDByte,
	"BYTE":  ua.TypeIDByte,

	"BOOL":    ua.TypeIDBoolean,
	"BOOLEAN": ua.TypeIDBoolean,
}

// ValueClassToVariantType returns the variant type for a value class name.
// The lookup is case-insensitive; unknown names map to the untyped Variant.
func ValueClassToVariantType(name string) ua.TypeID {
	if t, ok := valueClassVariantTypes[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return t
	}
	return ua.TypeIDVariant
}

// variantTypeName returns the short name of a variant type, e.g. "Double".
func variantTypeName(t ua.TypeID) string {
	return strings.TrimPrefix(t.String(), "TypeID")
}

// nodeClassName returns the short name of a node class, e.g. "Method".
func nodeClassName(c ua.NodeClass) string {
	return strings.TrimPrefix(c.String(), "NodeClass")
}
