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
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	"github.com/redpanda-data/benthos/v4/public/service"
)

const (
	DefaultConnectTimeout         = 10 * time.Second
	DefaultMaxRemoteObjectsLength = 5000

	// RemoteDevicesObjectsField is the device record field the diagnostic
	// tree is persisted to.
	RemoteDevicesObjectsField = "remote_devices_objects"
)

// Endpoint is the connection configuration of one device.
type Endpoint struct {
	Scheme   string
	Host     string
	Port     int
	Path     string
	Username string
	Password string

	Timeout        time.Duration
	SessionTimeout time.Duration

	SecurityMode                 string
	SecurityPolicy               string
	ServerCertificateFingerprint string
	DirectConnect                bool
}

// URL renders the endpoint URI, e.g. "opc.tcp://10.0.0.5:4840/".
func (e Endpoint) URL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "tcp"
	}
	path := e.Path
	if path == "" {
		path = "/"
	}
	return "opc." + scheme + "://" + e.Host + ":" + strconv.Itoa(e.Port) + path
}

// ConnState is the coarse reachability of a device.
type ConnState int

const (
	StateUnknown ConnState = iota
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ReachabilityState is the connection history of a device as seen by the
// connection manager.
type ReachabilityState struct {
	State               ConnState
	Connected           bool
	ConsecutiveFailures int
	LastFailureReason   string
	LastChange          time.Time
}

// DeviceRecord is the persisted part of a device the connection manager
// writes diagnostics to.
type DeviceRecord struct {
	Name                 string
	RemoteDevicesObjects string
}

// RecordStore persists selected fields of a device record.
type RecordStore interface {
	BulkUpdate(ctx context.Context, record *DeviceRecord, fields []string) error
}

// DiagnosticsConfig controls the node tree capture on (re)connect.
type DiagnosticsConfig struct {
	Enabled   bool
	Roots     []*ua.NodeID
	MaxLength int
}

// ConnectionManager opens and closes sessions for one device and keeps its
// reachability state.
type ConnectionManager struct {
	Device      string
	Dialer      Dialer
	Store       RecordStore
	Diagnostics DiagnosticsConfig
	Log         *service.Logger

	// Types resolves vendor data types in the captured tree. Without it only
	// built-in data types are named.
	Types *DataTypeResolver

	mu       sync.Mutex
	state    ReachabilityState
	record   DeviceRecord
	treeHash uint64
	treeSet  bool
}

func NewConnectionManager(device string, dialer Dialer, store RecordStore, diag DiagnosticsConfig, log *service.Logger) *ConnectionManager {
	return &ConnectionManager{
		Device:      device,
		Dialer:      dialer,
		Store:       store,
		Diagnostics: diag,
		Log:         log,
		record:      DeviceRecord{Name: device},
	}
}

// Reachability returns a copy of the current reachability state.
func (m *ConnectionManager) Reachability() ReachabilityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open establishes a session within the endpoint's timeout. Failures are
// recorded in the reachability state with a readable reason. After a
// recovery or the very first connect the remote node tree is captured.
func (m *ConnectionManager) Open(ctx context.Context, ep Endpoint) (Session, error) {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := m.Dialer.Dial(dialCtx, ep)
	if err == nil && dialCtx.Err() != nil {
		// Connected after the deadline fired; do not hand out a session the
		// caller already gave up on.
		_ = m.Close(ctx, session)
		session, err = nil, dialCtx.Err()
	}
	if err != nil {
		reason, kind := m.failureReason(ctx, dialCtx, err)
		m.recordFailure(reason, kind, err)
		return nil, fmt.Errorf("%s: %w", reason, err)
	}

	if m.recordSuccess() && m.Diagnostics.Enabled {
		captureCtx, cancelCapture := context.WithTimeout(ctx, timeout)
		m.captureTree(captureCtx, session)
		cancelCapture()
	}
	return session, nil
}

// Close releases a session. Closing nil is a no-op. The close request is not
// bound to the caller's cancellation so a cancelled cycle still frees the
// server-side session.
func (m *ConnectionManager) Close(ctx context.Context, s Session) error {
	if s == nil {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SessionTimeout)
	defer cancel()
	if err := s.Close(closeCtx); err != nil {
		m.Log.Debugf("Closing session to %s: %v", m.Device, err)
		return err
	}
	return nil
}

// MarkLost records that an open session stopped working. The device counts
// as disconnected until the next successful Open, which then captures the
// node tree again.
func (m *ConnectionManager) MarkLost(err error) {
	m.recordFailure("Connection to "+m.Device+" lost", Classify(err), err)
}

// failureReason names a failed connect and the kind it is counted as. An
// expired dial context wins over whatever error the dialer returned.
func (m *ConnectionManager) failureReason(parent, dialCtx context.Context, err error) (string, FailureKind) {
	switch {
	case errors.Is(parent.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return "Cancelled while connecting to " + m.Device, FailureCancelled
	case errors.Is(dialCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ua.StatusBadTimeout):
		return "Timeout connecting to " + m.Device, FailureTimeout
	default:
		return "Connect call to " + m.Device + " failed", Classify(err)
	}
}

func (m *ConnectionManager) recordFailure(reason string, kind FailureKind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.State != StateDisconnected {
		m.Log.Warnf("Device %s is not accessible: %s: %v", m.Device, reason, err)
		m.state.State = StateDisconnected
		m.state.LastChange = time.Now()
	} else {
		m.Log.Debugf("Device %s is still not accessible: %v", m.Device, err)
	}
	m.state.Connected = false
	m.state.ConsecutiveFailures++
	m.state.LastFailureReason = reason

	RecordConnectFailure(m.Device, kind)
}

// recordSuccess marks the device connected and reports whether the connect
// followed a period of unknown or failed reachability.
func (m *ConnectionManager) recordSuccess() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	recovered := m.state.State != StateConnected || m.state.ConsecutiveFailures > 0
	if m.state.State == StateDisconnected {
		m.Log.Infof("Device %s is accessible again after %d failed attempts", m.Device, m.state.ConsecutiveFailures)
	}
	if m.state.State != StateConnected {
		m.state.LastChange = time.Now()
	}
	m.state.State = StateConnected
	m.state.Connected = true
	m.state.ConsecutiveFailures = 0
	m.state.LastFailureReason = ""
	return recovered
}

// captureTree browses the configured roots and persists the formatted tree.
// Every failure is logged and swallowed.
func (m *ConnectionManager) captureTree(ctx context.Context, s Session) {
	roots := m.Diagnostics.Roots
	if len(roots) == 0 {
		roots = []*ua.NodeID{ua.NewNumericNodeID(0, id.ObjectsFolder)}
	}

	var lookup DataTypeLookup
	if m.Types != nil {
		lookup = func(ctx context.Context, dataType *ua.NodeID) (ua.TypeID, error) {
			return m.Types.VariantType(ctx, s, dataType)
		}
	}

	var entries []TreeEntry
	for _, root := range roots {
		rootEntries, err := BrowseTree(ctx, s.Node(root), lookup)
		if err != nil {
			m.Log.Debugf("Browsing %s on %s failed: %v", root, m.Device, err)
		}
		entries = append(entries, rootEntries...)
	}

	maxLength := m.Diagnostics.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxRemoteObjectsLength
	}
	tree := FormatTree(entries, maxLength)
	hash := xxhash.Sum64String(tree)

	m.mu.Lock()
	unchanged := m.treeSet && m.treeHash == hash
	m.mu.Unlock()
	if unchanged || m.Store == nil {
		return
	}

	record := m.record
	record.RemoteDevicesObjects = tree
	if err := m.Store.BulkUpdate(ctx, &record, []string{RemoteDevicesObjectsField}); err != nil {
		m.Log.Warnf("Storing the node tree of %s failed: %v", m.Device, err)
		return
	}

	m.mu.Lock()
	m.record = record
	m.treeHash = hash
	m.treeSet = true
	m.mu.Unlock()
	m.Log.Debugf("Stored node tree of %s (%d entries, %d bytes)", m.Device, len(entries), len(tree))
}

// describeEndpoint is used in log lines and never contains credentials.
func describeEndpoint(ep Endpoint) string {
	var b strings.Builder
	b.WriteString(ep.URL())
	if ep.SecurityPolicy != "" {
		b.WriteString(" policy=" + ep.SecurityPolicy)
	}
	if ep.Username != "" {
		b.WriteString(" user=" + ep.Username)
	}
	return b.String()
}
