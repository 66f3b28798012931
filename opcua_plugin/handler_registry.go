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

	"github.com/cespare/xxhash/v2"
)

// handlerRegistry hands out one Handler per device configuration. An
// opcua_poll input and an opcua_method processor configured for the same
// device therefore share the session, the reachability state and the cached
// values, so written values take part in the change detection of the poll.
type handlerRegistry struct {
	mu      sync.Mutex
	entries map[uint64]*sharedHandler
}

var deviceHandlers = newHandlerRegistry()

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{entries: map[uint64]*sharedHandler{}}
}

type sharedHandler struct {
	handler Handler
	refs    int
}

// acquire returns a reference to the handler registered under key and builds
// it first when there is none. Every reference must be closed; the last Close
// closes the handler itself.
func (r *handlerRegistry) acquire(key uint64, build func() (Handler, error)) (Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		h, err := build()
		if err != nil {
			return nil, err
		}
		entry = &sharedHandler{handler: h}
		r.entries[key] = entry
	}
	entry.refs++
	return &handlerRef{Handler: entry.handler, release: func(ctx context.Context) error {
		return r.release(ctx, key)
	}}, nil
}

func (r *handlerRegistry) release(ctx context.Context, key uint64) error {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, key)
	r.mu.Unlock()

	return entry.handler.Close(ctx)
}

// size is the number of live handlers.
func (r *handlerRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// handlerRef is one component's view on a shared handler.
type handlerRef struct {
	Handler

	once    sync.Once
	release func(ctx context.Context) error
}

func (h *handlerRef) Close(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		err = h.release(ctx)
	})
	return err
}

// deviceConfigKey fingerprints everything that shapes a handler. Components
// share a handler only when their device configurations are identical.
func deviceConfigKey(cfg *DeviceConfig) uint64 {
	d := xxhash.New()
	deps := cfg.Deps
	ep := deps.Endpoint

	fmt.Fprintf(d, "%s|%s|%s|%s|%s|%s|%s|%t|%s|%s\n",
		deps.Device, cfg.SessionMode, cfg.CacheResource, ep.URL(), ep.Username, ep.Password,
		ep.SecurityMode+"/"+ep.SecurityPolicy, ep.DirectConnect, ep.ServerCertificateFingerprint,
		ep.Timeout.String()+"/"+ep.SessionTimeout.String())
	fmt.Fprintf(d, "%t|%d|%v|%d\n", deps.Diagnostics.Enabled, deps.Diagnostics.MaxLength,
		deps.Diagnostics.Roots, deps.DataTypeCacheSize)
	for _, v := range deps.Variables {
		fmt.Fprintf(d, "%d|%s|%s|%t|%t|%s|%v|%#v\n",
			v.ID, v.Name, v.NodeID, v.Readable, v.Writable, v.ValueClass, v.MethodArguments, v.Policy)
	}
	return d.Sum64()
}
