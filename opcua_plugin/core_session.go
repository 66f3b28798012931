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

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
)

// Session is an open protocol session to one device. A Session is owned by a
// single cycle and must not be used concurrently.
type Session interface {
	// ReadValue reads the Value attribute of a node. A bad per-node status is
	// returned as the error.
	ReadValue(ctx context.Context, nodeID *ua.NodeID) (*ua.DataValue, error)

	// Call invokes a method.
	Call(ctx context.Context, req *ua.CallMethodRequest) (*ua.CallMethodResult, error)

	// Node returns a browsable handle for a node of the session's server.
	Node(nodeID *ua.NodeID) NodeBrowser

	Close(ctx context.Context) error
}

// Dialer opens sessions. The session is fully established when Dial returns
// without error; on error nothing is left open.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Session, error)
}

type clientSession struct {
	client *opcua.Client
}

func (s *clientSession) ReadValue(ctx context.Context, nodeID *ua.NodeID) (*ua.DataValue, error) {
	resp, err := s.client.Read(ctx, &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: nodeID, AttributeID: ua.AttributeIDValue},
		},
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Results) == 0 || resp.Results[0] == nil {
		return nil, errors.New("read returned no result")
	}
	if status := resp.Results[0].Status; !isGood(status) {
		return nil, status
	}
	return resp.Results[0], nil
}

func (s *clientSession) Call(ctx context.Context, req *ua.CallMethodRequest) (*ua.CallMethodResult, error) {
	return s.client.Call(ctx, req)
}

func (s *clientSession) Node(nodeID *ua.NodeID) NodeBrowser {
	return NewOpcuaNodeWrapper(s.client.Node(nodeID))
}

func (s *clientSession) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
