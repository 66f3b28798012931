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
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gopcua/opcua/ua"
)

// CoercionError is returned when a literal cannot be represented as the
// requested variant type.
type CoercionError struct {
	Value string
	Type  ua.TypeID
	Err   error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot convert %q to %s: %v", e.Value, variantTypeName(e.Type), e.Err)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}

// StringToVariant parses s into a variant of type t.
func StringToVariant(s string, t ua.TypeID) (*ua.Variant, error) {
	v, err := parseLiteral(strings.TrimSpace(s), t)
	if err != nil {
		return nil, &CoercionError{Value: s, Type: t, Err: err}
	}
	variant, err := ua.NewVariant(v)
	if err != nil {
		return nil, &CoercionError{Value: s, Type: t, Err: err}
	}
	return variant, nil
}

func parseLiteral(s string, t ua.TypeID) (any, error) {
	switch t {
	case ua.TypeIDBoolean:
		switch strings.ToLower(s) {
		case "true", "on", "1":
			return true, nil
		}
		return false, nil
	case ua.TypeIDSByte:
		i, err := strconv.ParseInt(s, 10, 8)
		return int8(i), err
	case ua.TypeIDByte:
		i, err := strconv.ParseUint(s, 10, 8)
		return uint8(i), err
	case ua.TypeIDInt16:
		i, err := strconv.ParseInt(s, 10, 16)
		return int16(i), err
	case ua.TypeIDUint16:
		i, err := strconv.ParseUint(s, 10, 16)
		return uint16(i), err
	case ua.TypeIDInt32:
		i, err := strconv.ParseInt(s, 10, 32)
		return int32(i), err
	case ua.TypeIDUint32:
		i, err := strconv.ParseUint(s, 10, 32)
		return uint32(i), err
	case ua.TypeIDInt64:
		return strconv.ParseInt(s, 10, 64)
	case ua.TypeIDUint64:
		return strconv.ParseUint(s, 10, 64)
	case ua.TypeIDFloat:
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	case ua.TypeIDDouble:
		return strconv.ParseFloat(s, 64)
	case ua.TypeIDString:
		return s, nil
	case ua.TypeIDByteString:
		return []byte(s), nil
	case ua.TypeIDDateTime:
		return time.Parse(time.RFC3339, s)
	case ua.TypeIDNodeID:
		return ua.ParseNodeID(s)
	case ua.TypeIDVariant:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported variant type %s", variantTypeName(t))
	}
}

// truncateToInteger turns a numeric value or literal into its integer part,
// rendered as a decimal literal. It is used for the single retry after a
// failed coercion, e.g. "7.9" into an INT16 slot becomes "7".
func truncateToInteger(value any) (string, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	default:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(formatValue(value)), 64)
		if err != nil {
			return "", false
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(math.Trunc(f), 'f', 0, 64), true
}

// formatValue renders a value as the literal the coercion table consumes.
func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
