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
	"reflect"
	"time"
)

// Observation is what an UpdatePolicy decides on.
type Observation struct {
	Previous     any
	PreviousTime time.Time
	HasPrevious  bool
	Value        any
	Time         time.Time
}

// UpdatePolicy decides whether an observation replaces the cached value of a
// variable and is emitted as a sample.
type UpdatePolicy interface {
	Accept(o Observation) bool
}

// UpdatePolicyFunc adapts a plain function to UpdatePolicy.
type UpdatePolicyFunc func(o Observation) bool

func (f UpdatePolicyFunc) Accept(o Observation) bool { return f(o) }

// AlwaysAccept accepts every observation.
type AlwaysAccept struct{}

func (AlwaysAccept) Accept(Observation) bool { return true }

// OnChange accepts an observation when its value differs from the cached one.
// A non-zero MaxAge forces an accept once the cached value is older than it.
type OnChange struct {
	MaxAge time.Duration
}

func (p OnChange) Accept(o Observation) bool {
	if !o.HasPrevious || expired(o, p.MaxAge) {
		return true
	}
	return !valuesEqual(o.Previous, o.Value)
}

// AbsoluteDeadband accepts numeric observations whose distance to the cached
// value exceeds Threshold. A threshold of 0 suppresses exact duplicates only.
// Non-numeric values behave like OnChange.
type AbsoluteDeadband struct {
	Threshold float64
	MaxAge    time.Duration
}

func (p AbsoluteDeadband) Accept(o Observation) bool {
	if !o.HasPrevious || expired(o, p.MaxAge) {
		return true
	}
	prev, okPrev := toFloat(o.Previous)
	cur, okCur := toFloat(o.Value)
	if !okPrev || !okCur {
		return !valuesEqual(o.Previous, o.Value)
	}
	return math.Abs(cur-prev) > p.Threshold
}

// NewUpdatePolicy builds a policy from its configuration name.
// Valid names are "always", "on_change" and "absolute".
func NewUpdatePolicy(name string, deadband float64, maxAge time.Duration) (UpdatePolicy, error) {
	switch name {
	case "", "always":
		return AlwaysAccept{}, nil
	case "on_change":
		return OnChange{MaxAge: maxAge}, nil
	case "absolute":
		if deadband < 0 {
			return nil, fmt.Errorf("deadband must not be negative, got %v", deadband)
		}
		return AbsoluteDeadband{Threshold: deadband, MaxAge: maxAge}, nil
	default:
		return nil, fmt.Errorf("unknown update policy %q", name)
	}
}

func expired(o Observation, maxAge time.Duration) bool {
	return maxAge > 0 && o.Time.Sub(o.PreviousTime) >= maxAge
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
