// Copyright 2023 UMH Systems GmbH
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
	"strconv"
	"sync"
	"time"

	"github.com/redpanda-data/benthos/v4/public/service"
)

var OPCUAPollConfigSpec = newDeviceConfigSpec().
	Summary("Polls variables of an OPC UA device").
	Description("Reads all readable variables of one OPC UA device every `pollInterval`. Variables backed by a method node are read by calling the method. Each accepted value becomes one message.").
	Field(service.NewDurationField("pollInterval").
		Description("Time between the start of two read cycles.").
		Default("5s"))

func init() {
	err := service.RegisterBatchInput(
		"opcua_poll", OPCUAPollConfigSpec,
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.BatchInput, error) {
			return newOPCUAPollInput(conf, mgr)
		})
	if err != nil {
		panic(err)
	}
}

// OPCUAPollInput emits one batch per read cycle.
type OPCUAPollInput struct {
	Handler      Handler
	Device       string
	PollInterval time.Duration
	Log          *service.Logger

	mu        sync.Mutex
	lastCycle time.Time
}

func newOPCUAPollInput(conf *service.ParsedConfig, mgr *service.Resources) (service.BatchInput, error) {
	cfg, err := ParseDeviceConfig(conf)
	if err != nil {
		return nil, err
	}
	pollInterval, err := conf.FieldDuration("pollInterval")
	if err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	handler, err := newHandlerFromConfig(cfg, mgr)
	if err != nil {
		return nil, err
	}

	return service.AutoRetryNacksBatched(&OPCUAPollInput{
		Handler:      handler,
		Device:       cfg.Deps.Device,
		PollInterval: pollInterval,
		Log:          mgr.Logger(),
	}), nil
}

// newHandlerFromConfig wires the gopcua dialer and the record store into a
// handler. Components with the same device configuration get the same one.
func newHandlerFromConfig(cfg *DeviceConfig, mgr *service.Resources) (Handler, error) {
	return deviceHandlers.acquire(deviceConfigKey(cfg), func() (Handler, error) {
		deps := cfg.Deps
		deps.Log = mgr.Logger()
		deps.Dialer = NewGopcuaDialer(mgr.Logger())
		deps.Store = newRecordStore(mgr, cfg.CacheResource)
		return NewHandler(cfg.SessionMode, deps)
	})
}

// Connect prepares the handler. An unreachable device is not an error here;
// cycles keep retrying and yield empty batches meanwhile.
func (g *OPCUAPollInput) Connect(ctx context.Context) error {
	g.Log.Infof("Polling %d variables of %s every %s", len(g.Handler.Variables()), g.Device, g.PollInterval)
	if err := g.Handler.Connect(ctx); err != nil {
		g.Log.Warnf("Device %s is not reachable yet: %v", g.Device, err)
	}
	return nil
}

// ReadBatch waits for the next poll tick and runs one read cycle. A cycle
// without samples yields an empty batch.
func (g *OPCUAPollInput) ReadBatch(ctx context.Context) (service.MessageBatch, service.AckFunc, error) {
	if err := g.waitForTick(ctx); err != nil {
		return nil, nil, err
	}

	samples := g.Handler.ReadAll(ctx)
	batch := samplesToBatch(g.Device, samples, g.Log)
	return batch, func(context.Context, error) error {
		// Nacks are retried automatically when we use service.AutoRetryNacks
		return nil
	}, nil
}

func (g *OPCUAPollInput) waitForTick(ctx context.Context) error {
	g.mu.Lock()
	wait := time.Duration(0)
	if !g.lastCycle.IsZero() {
		wait = g.PollInterval - time.Since(g.lastCycle)
	}
	g.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	g.mu.Lock()
	g.lastCycle = time.Now()
	g.mu.Unlock()
	return nil
}

func (g *OPCUAPollInput) Close(ctx context.Context) error {
	return g.Handler.Close(ctx)
}

// samplesToBatch turns samples into messages carrying the variable in their
// metadata.
func samplesToBatch(device string, samples []Sample, log *service.Logger) service.MessageBatch {
	batch := make(service.MessageBatch, 0, len(samples))
	for _, s := range samples {
		payload, tagType, err := valueToPayload(s.Value)
		if err != nil {
			log.Errorf("Encoding value of %s failed: %v", s.Variable.Name, err)
			continue
		}
		msg := service.NewMessage(payload)
		msg.MetaSet("opcua_device", device)
		msg.MetaSet("opcua_variable", s.Variable.Name)
		msg.MetaSet("opcua_variable_id", strconv.Itoa(s.Variable.ID))
		msg.MetaSet("opcua_node_id", s.Variable.NodeID.String())
		msg.MetaSet("opcua_value_class", s.Variable.ValueClass)
		msg.MetaSet("opcua_tag_type", tagType)
		msg.MetaSet("opcua_timestamp_ms", strconv.FormatInt(s.Timestamp.UnixMilli(), 10))
		batch = append(batch, msg)
	}
	return batch
}
