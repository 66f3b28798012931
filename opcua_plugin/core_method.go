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

	"github.com/gopcua/opcua/ua"
	"github.com/redpanda-data/benthos/v4/public/service"
)

// MethodCaller invokes the remote method behind a variable with its
// configured arguments marshalled to the types the server declares.
type MethodCaller struct {
	Device string
	Types  *DataTypeResolver
	Log    *service.Logger
}

// Invoke calls the method node of v. With value == nil the call is a read
// and the first output argument is the result. With a value the call is a
// write; the result is the first output argument if the method returns one,
// else the written value itself.
func (m *MethodCaller) Invoke(ctx context.Context, s Session, v *Variable, value any) (result any, err error) {
	defer func() { RecordMethodCall(m.Device, err) }()

	method := s.Node(v.NodeID)
	declared, err := inputArguments(ctx, method)
	if err != nil {
		return nil, err
	}

	configured := v.SortedArguments()
	if len(configured) != len(declared) {
		return nil, fmt.Errorf("%s has %d configured arguments, server declares %d: %w",
			v.Name, len(configured), len(declared), ErrArgumentCountMismatch)
	}

	inputs := make([]*ua.Variant, len(configured))
	for i, arg := range configured {
		inputs[i], err = m.argumentVariant(ctx, s, v, arg, declared[i], value)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", v.Name, arg.Position, err)
		}
	}

	parent, err := methodParent(ctx, method)
	if err != nil {
		return nil, err
	}

	m.Log.Debugf("Calling %s on object %s with %d arguments", v.NodeID, parent, len(inputs))
	res, err := s.Call(ctx, &ua.CallMethodRequest{
		ObjectID:       parent,
		MethodID:       v.NodeID,
		InputArguments: inputs,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("call of %s returned no result", v.Name)
	}
	if !isGood(res.StatusCode) {
		return nil, fmt.Errorf("call of %s: %w", v.Name, res.StatusCode)
	}

	if len(res.OutputArguments) > 0 && res.OutputArguments[0] != nil {
		return res.OutputArguments[0].Value(), nil
	}
	return value, nil
}

func (m *MethodCaller) argumentVariant(ctx context.Context, s Session, v *Variable, arg MethodArgument, declared *ua.Argument, value any) (*ua.Variant, error) {
	switch arg.Kind {
	case ArgumentDeviceType:
		var dataType *ua.NodeID
		if declared != nil {
			dataType = declared.DataType
		}
		t, err := m.Types.VariantType(ctx, s, dataType)
		if err != nil {
			return nil, err
		}
		return coerceWithRetry(arg.Value, t)
	case ArgumentValueClass:
		if value == nil {
			return nil, ErrValueRequired
		}
		return coerceWithRetry(value, ValueClassToVariantType(v.ValueClass))
	default:
		return nil, fmt.Errorf("unknown argument kind %d", arg.Kind)
	}
}

// coerceWithRetry converts value into a variant of type t. If that fails the
// value is truncated to an integer and converted once more.
func coerceWithRetry(value any, t ua.TypeID) (*ua.Variant, error) {
	variant, err := StringToVariant(formatValue(value), t)
	if err == nil {
		return variant, nil
	}
	truncated, ok := truncateToInteger(value)
	if !ok {
		return nil, err
	}
	variant, retryErr := StringToVariant(truncated, t)
	if retryErr != nil {
		return nil, err
	}
	return variant, nil
}
