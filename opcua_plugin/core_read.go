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
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gopcua/opcua/ua"
	"github.com/redpanda-data/benthos/v4/public/service"
	"golang.org/x/time/rate"
)

// failureLogInterval is how often the same variable may log a warning.
const failureLogInterval = time.Minute

// ReadEngine runs read cycles against one device.
type ReadEngine struct {
	Device   string
	Endpoint Endpoint
	Conn     *ConnectionManager
	Caller   *MethodCaller
	Log      *service.Logger

	// Now stamps samples; it defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	limiters map[int]*rate.Limiter
}

// ReadAll opens a session, reads every readable variable and closes the
// session again. An unreachable device yields an empty slice.
func (e *ReadEngine) ReadAll(ctx context.Context, variables []*Variable) []Sample {
	log := e.Log.With("cycle", uuid.NewString())

	s, err := e.Conn.Open(ctx, e.Endpoint)
	if err != nil {
		log.Debugf("Skipping cycle: %v", err)
		RecordCycle(e.Device, cycleOutcomeUnreachable)
		return []Sample{}
	}
	defer func() { _ = e.Conn.Close(ctx, s) }()

	samples, lost := e.readWith(ctx, s, variables, log)
	if lost != nil {
		e.Conn.MarkLost(lost)
	}
	return samples
}

// readWith reads the variables over an already open session. Besides the
// samples it returns the first error that means the session is gone.
func (e *ReadEngine) readWith(ctx context.Context, s Session, variables []*Variable, log *service.Logger) ([]Sample, error) {
	samples := []Sample{}
	var lost error

	for _, v := range variables {
		if v == nil || !v.Readable {
			continue
		}
		if ctx.Err() != nil {
			log.Debugf("Cycle cancelled before reading %s", v.Name)
			break
		}

		value, err := e.readVariable(ctx, s, v)
		ts := e.now()
		if err != nil {
			kind := Classify(err)
			RecordReadFailure(e.Device, kind)
			e.logFailure(log, v, kind, err)
			if lost == nil && isConnectionLost(err) {
				lost = err
			}
			continue
		}
		if value == nil {
			continue
		}
		if v.Update(value, ts) {
			samples = append(samples, Sample{Variable: v, Value: value, Timestamp: ts})
		}
	}

	if len(samples) == 0 {
		RecordCycle(e.Device, cycleOutcomeEmpty)
	} else {
		RecordCycle(e.Device, cycleOutcomeOK)
	}
	return samples, lost
}

// readVariable reads the Value attribute of a node. Method nodes have no
// Value attribute; those are read by calling the method.
func (e *ReadEngine) readVariable(ctx context.Context, s Session, v *Variable) (any, error) {
	dv, err := s.ReadValue(ctx, v.NodeID)
	if errors.Is(err, ua.StatusBadAttributeIDInvalid) {
		return e.Caller.Invoke(ctx, s, v, nil)
	}
	if err != nil {
		return nil, err
	}
	if dv == nil || dv.Value == nil {
		return nil, nil
	}
	return dv.Value.Value(), nil
}

func (e *ReadEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *ReadEngine) logFailure(log *service.Logger, v *Variable, kind FailureKind, err error) {
	e.mu.Lock()
	if e.limiters == nil {
		e.limiters = map[int]*rate.Limiter{}
	}
	limiter, ok := e.limiters[v.ID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(failureLogInterval), 1)
		e.limiters[v.ID] = limiter
	}
	e.mu.Unlock()

	if limiter.Allow() {
		log.Warnf("Reading %s (%s) failed (%s): %v", v.Name, v.NodeID, kind, err)
		return
	}
	log.Debugf("Reading %s failed (%s): %v", v.Name, kind, err)
}
