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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redpanda-data/benthos/v4/public/service"
)

const (
	// SessionModePerCycle opens and closes a session for every cycle.
	SessionModePerCycle = "per_cycle"
	// SessionModePersistent keeps one session open across cycles and only
	// reopens it after the connection was lost.
	SessionModePersistent = "persistent"
)

// Handler is the device facade the scheduler talks to. Every method blocks
// until its exchange with the device is over; cycles of one handler never
// overlap.
type Handler interface {
	// Connect prepares the handler for cycles. Only the persistent mode
	// holds a session between cycles and opens it here.
	Connect(ctx context.Context) error
	ReadAll(ctx context.Context) []Sample
	Write(ctx context.Context, variableID int, value any) ([]Sample, error)
	Reachability() ReachabilityState
	Variables() []*Variable
	Close(ctx context.Context) error
}

// HandlerDeps is everything a handler is built from.
type HandlerDeps struct {
	Device            string
	Endpoint          Endpoint
	Variables         []*Variable
	Dialer            Dialer
	Store             RecordStore
	Diagnostics       DiagnosticsConfig
	DataTypeCacheSize int
	Log               *service.Logger
	Now               func() time.Time
}

// NewHandler builds the handler for a session mode.
func NewHandler(mode string, deps HandlerDeps) (Handler, error) {
	if deps.Dialer == nil {
		return nil, fmt.Errorf("device %s: no dialer configured", deps.Device)
	}

	switch mode {
	case "", SessionModePerCycle:
		d, err := newDevice(deps)
		if err != nil {
			return nil, err
		}
		return &perCycleHandler{device: d}, nil
	case SessionModePersistent:
		d, err := newDevice(deps)
		if err != nil {
			return nil, err
		}
		return &persistentHandler{device: d}, nil
	default:
		return nil, fmt.Errorf("%q: %w", mode, ErrUnknownSessionMode)
	}
}

// device holds what both session modes share.
type device struct {
	name      string
	variables []*Variable
	byID      map[int]*Variable
	conn      *ConnectionManager
	engine    *ReadEngine
	caller    *MethodCaller
	log       *service.Logger

	// mu serialises cycles and writes of this device.
	mu sync.Mutex
}

func newDevice(deps HandlerDeps) (*device, error) {
	types, err := NewDataTypeResolver(deps.DataTypeCacheSize)
	if err != nil {
		return nil, err
	}

	log := deps.Log.With("device", deps.Device)
	byID := make(map[int]*Variable, len(deps.Variables))
	for _, v := range deps.Variables {
		if _, dup := byID[v.ID]; dup {
			return nil, fmt.Errorf("device %s: duplicate variable id %d", deps.Device, v.ID)
		}
		byID[v.ID] = v
	}

	conn := NewConnectionManager(deps.Device, deps.Dialer, deps.Store, deps.Diagnostics, log)
	conn.Types = types
	caller := &MethodCaller{Device: deps.Device, Types: types, Log: log}
	log.Infof("Configured %d variables for %s", len(deps.Variables), describeEndpoint(deps.Endpoint))

	return &device{
		name:      deps.Device,
		variables: deps.Variables,
		byID:      byID,
		conn:      conn,
		caller:    caller,
		log:       log,
		engine: &ReadEngine{
			Device:   deps.Device,
			Endpoint: deps.Endpoint,
			Conn:     conn,
			Caller:   caller,
			Log:      log,
			Now:      deps.Now,
		},
	}, nil
}

func (d *device) Reachability() ReachabilityState {
	return d.conn.Reachability()
}

func (d *device) Variables() []*Variable {
	return d.variables
}

func (d *device) writable(variableID int) (*Variable, error) {
	v, ok := d.byID[variableID]
	if !ok {
		return nil, fmt.Errorf("id %d on %s: %w", variableID, d.name, ErrUnknownVariable)
	}
	if !v.Writable {
		return nil, fmt.Errorf("%s on %s: %w", v.Name, d.name, ErrNotWritable)
	}
	return v, nil
}

// write invokes the method behind v and turns an accepted result into a
// sample.
func (d *device) write(ctx context.Context, s Session, v *Variable, value any) ([]Sample, error) {
	result, err := d.caller.Invoke(ctx, s, v, value)
	if err != nil {
		d.log.Warnf("Writing %s failed (%s): %v", v.Name, Classify(err), err)
		return []Sample{}, err
	}
	if result == nil {
		return []Sample{}, nil
	}
	ts := d.engine.now()
	if !v.Update(result, ts) {
		return []Sample{}, nil
	}
	return []Sample{{Variable: v, Value: result, Timestamp: ts}}, nil
}

type perCycleHandler struct {
	*device
}

func (h *perCycleHandler) Connect(context.Context) error {
	return nil
}

func (h *perCycleHandler) ReadAll(ctx context.Context) []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.ReadAll(ctx, h.variables)
}

func (h *perCycleHandler) Write(ctx context.Context, variableID int, value any) ([]Sample, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, err := h.writable(variableID)
	if err != nil {
		return nil, err
	}

	s, err := h.conn.Open(ctx, h.engine.Endpoint)
	if err != nil {
		return []Sample{}, err
	}
	defer func() { _ = h.conn.Close(ctx, s) }()

	samples, err := h.write(ctx, s, v, value)
	if isConnectionLost(err) {
		h.conn.MarkLost(err)
	}
	return samples, err
}

// Close is a no-op; sessions never outlive a cycle in this mode.
func (h *perCycleHandler) Close(context.Context) error {
	return nil
}

type persistentHandler struct {
	*device
	session Session
}

func (h *persistentHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.ensureSession(ctx)
	return err
}

func (h *persistentHandler) ReadAll(ctx context.Context) []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	log := h.log.With("cycle", uuid.NewString())
	s, err := h.ensureSession(ctx)
	if err != nil {
		log.Debugf("Skipping cycle: %v", err)
		RecordCycle(h.name, cycleOutcomeUnreachable)
		return []Sample{}
	}

	samples, lost := h.engine.readWith(ctx, s, h.variables, log)
	if lost != nil {
		h.dropSession(ctx, lost)
	}
	return samples
}

func (h *persistentHandler) Write(ctx context.Context, variableID int, value any) ([]Sample, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, err := h.writable(variableID)
	if err != nil {
		return nil, err
	}

	s, err := h.ensureSession(ctx)
	if err != nil {
		return []Sample{}, err
	}

	samples, err := h.write(ctx, s, v, value)
	if isConnectionLost(err) {
		h.dropSession(ctx, err)
	}
	return samples, err
}

func (h *persistentHandler) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.session
	h.session = nil
	return h.conn.Close(ctx, s)
}

func (h *persistentHandler) ensureSession(ctx context.Context) (Session, error) {
	if h.session != nil {
		return h.session, nil
	}
	s, err := h.conn.Open(ctx, h.engine.Endpoint)
	if err != nil {
		return nil, err
	}
	h.session = s
	return s, nil
}

func (h *persistentHandler) dropSession(ctx context.Context, cause error) {
	h.log.Warnf("Session to %s lost, reopening on the next cycle: %v", h.name, cause)
	h.conn.MarkLost(cause)
	_ = h.conn.Close(ctx, h.session)
	h.session = nil
}
