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
	"sync"
	"time"

	"github.com/gopcua/opcua/ua"
	"golang.org/x/exp/slices"
)

// ArgumentKind selects where the type of a method argument comes from.
type ArgumentKind int

const (
	// ArgumentDeviceType is a configured literal coerced into the DataType the
	// server declares for the argument slot.
	ArgumentDeviceType ArgumentKind = iota
	// ArgumentValueClass is the value being written, coerced into the variant
	// type of the variable's value class.
	ArgumentValueClass
)

func (k ArgumentKind) String() string {
	switch k {
	case ArgumentDeviceType:
		return "device"
	case ArgumentValueClass:
		return "value_class"
	default:
		return "unknown"
	}
}

// MethodArgument is one configured input argument of a method-backed variable.
type MethodArgument struct {
	Position int
	Kind     ArgumentKind
	Value    string
}

// Variable maps an application variable onto a remote node.
type Variable struct {
	ID              int
	Name            string
	NodeID          *ua.NodeID
	Readable        bool
	Writable        bool
	ValueClass      string
	MethodArguments []MethodArgument
	Policy          UpdatePolicy

	mu        sync.Mutex
	lastValue any
	lastTime  time.Time
	hasValue  bool
}

// Update offers a freshly observed value to the variable. The cached value is
// replaced only when the update policy accepts the observation.
func (v *Variable) Update(value any, ts time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	policy := v.Policy
	if policy == nil {
		policy = AlwaysAccept{}
	}
	if !policy.Accept(Observation{
		Previous:     v.lastValue,
		PreviousTime: v.lastTime,
		HasPrevious:  v.hasValue,
		Value:        value,
		Time:         ts,
	}) {
		return false
	}

	v.lastValue = value
	v.lastTime = ts
	v.hasValue = true
	return true
}

// Last returns the cached value and its timestamp.
func (v *Variable) Last() (any, time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastValue, v.lastTime, v.hasValue
}

// SortedArguments returns the method arguments in ascending position order.
func (v *Variable) SortedArguments() []MethodArgument {
	args := slices.Clone(v.MethodArguments)
	slices.SortStableFunc(args, func(a, b MethodArgument) int {
		return a.Position - b.Position
	})
	return args
}

// Sample is an accepted observation of a variable.
type Sample struct {
	Variable  *Variable
	Value     any
	Timestamp time.Time
}
