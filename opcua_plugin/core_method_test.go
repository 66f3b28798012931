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

package opcua_plugin_test

import (
	"context"
	"errors"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redpanda-data/benthos/v4/public/service"

	. "github.com/united-manufacturing-hub/opcua-daq/opcua_plugin"
)

func declaredArgument(name string, dataType uint32) *ua.Argument {
	return &ua.Argument{Name: name, DataType: ua.NewNumericNodeID(0, dataType), ValueRank: -1}
}

var _ = Describe("MethodCaller", func() {
	var (
		ctx     context.Context
		session *MockSession
		caller  *MethodCaller
		parent  *ua.NodeID
	)

	BeforeEach(func() {
		ctx = context.Background()
		session = NewMockSession()
		parent = ua.NewNumericNodeID(2, 1)
		types, err := NewDataTypeResolver(0)
		Expect(err).NotTo(HaveOccurred())
		caller = &MethodCaller{Device: "press-1", Types: types, Log: service.MockResources().Logger()}
	})

	It("coerces a value_class argument into the variable's value class", func() {
		v := newTestVariable(1, "speed")
		v.ValueClass = "INT16"
		v.MethodArguments = []MethodArgument{{Position: 0, Kind: ArgumentValueClass}}
		session.addMethod(v.NodeID, parent, declaredArgument("speed", id.Int16))

		result, err := caller.Invoke(ctx, session, v, "7")
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("7"))

		call := session.lastCall()
		Expect(call.InputArguments).To(HaveLen(1))
		Expect(call.InputArguments[0].Type()).To(Equal(ua.TypeIDInt16))
		Expect(call.InputArguments[0].Value()).To(Equal(int16(7)))
		Expect(call.ObjectID.String()).To(Equal(parent.String()))
		Expect(call.MethodID.String()).To(Equal(v.NodeID.String()))
	})

	It("does not call the method when the argument counts differ", func() {
		v := newTestVariable(1, "speed")
		v.MethodArguments = []MethodArgument{{Position: 0, Kind: ArgumentValueClass}}
		session.addMethod(v.NodeID, parent,
			declaredArgument("mode", id.Int32),
			declaredArgument("speed", id.Double))

		result, err := caller.Invoke(ctx, session, v, "1.5")
		Expect(err).To(MatchError(ErrArgumentCountMismatch))
		Expect(result).To(BeNil())
		Expect(session.callCount()).To(BeZero())
		Expect(Classify(err)).To(Equal(FailureConfig))
	})

	It("resolves device arguments through the declared DataType", func() {
		v := newTestVariable(1, "recipe")
		v.ValueClass = "FLOAT64"
		v.MethodArguments = []MethodArgument{
			{Position: 1, Kind: ArgumentValueClass},
			{Position: 0, Kind: ArgumentDeviceType, Value: "3"},
		}
		session.addMethod(v.NodeID, parent,
			declaredArgument("slot", id.UInt16),
			declaredArgument("value", id.Double))

		_, err := caller.Invoke(ctx, session, v, 12.5)
		Expect(err).NotTo(HaveOccurred())

		args := session.lastCall().InputArguments
		Expect(args).To(HaveLen(2))
		Expect(args[0].Value()).To(Equal(uint16(3)))
		Expect(args[1].Value()).To(Equal(12.5))
	})

	It("walks vendor data types up to their built-in supertype", func() {
		vendorType := ua.NewNumericNodeID(3, 3001)
		typeNode := createMockObjectNode(3, 3001, "Temperature")
		typeNode.addInverse(id.HasSubtype, createMockObjectNode(0, id.Double, "Double"))
		session.addNode(typeNode)

		v := newTestVariable(1, "limit")
		v.MethodArguments = []MethodArgument{{Position: 0, Kind: ArgumentDeviceType, Value: "80.5"}}
		session.addMethod(v.NodeID, parent, &ua.Argument{Name: "limit", DataType: vendorType, ValueRank: -1})

		_, err := caller.Invoke(ctx, session, v, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(session.lastCall().InputArguments[0].Value()).To(Equal(80.5))
		Expect(caller.Types.Len()).To(Equal(1))
	})

	It("truncates to an integer once when the first coercion fails", func() {
		v := newTestVariable(1, "speed")
		v.ValueClass = "INT32"
		v.MethodArguments = []MethodArgument{{Position: 0, Kind: ArgumentValueClass}}
		session.addMethod(v.NodeID, parent, declaredArgument("speed", id.Int32))

		_, err := caller.Invoke(ctx, session, v, "7.9")
		Expect(err).NotTo(HaveOccurred())
		Expect(session.lastCall().InputArguments[0].Value()).To(Equal(int32(7)))
	})

	It("reports the original coercion error when the retry fails too", func() {
		v := newTestVariable(1, "speed")
		v.ValueClass = "INT32"
		v.MethodArguments = []MethodArgument{{Position: 0, Kind: ArgumentValueClass}}
		session.addMethod(v.NodeID, parent, declaredArgument("speed", id.Int32))

		_, err := caller.Invoke(ctx, session, v, "fast")
		var coercion *CoercionError
		Expect(errors.As(err, &coercion)).To(BeTrue())
		Expect(coercion.Value).To(Equal("fast"))
		Expect(Classify(err)).To(Equal(FailureCoercion))
		Expect(session.callCount()).To(BeZero())
	})

	It("requires a value for value_class arguments", func() {
		v := newTestVariable(1, "speed")
		v.MethodArguments = []MethodArgument{{Position: 0, Kind: ArgumentValueClass}}
		session.addMethod(v.NodeID, parent, declaredArgument("speed", id.Double))

		_, err := caller.Invoke(ctx, session, v, nil)
		Expect(err).To(MatchError(ErrValueRequired))
		Expect(session.callCount()).To(BeZero())
	})

	It("accepts declared arguments read with a Good subcode", func() {
		v := newTestVariable(1, "speed")
		v.ValueClass = "INT16"
		v.MethodArguments = []MethodArgument{{Position: 0, Kind: ArgumentValueClass}}
		method := session.addMethod(v.NodeID, parent, declaredArgument("speed", id.Int16))
		method.forward[id.HasProperty][0].(*MockOpcuaNode).valueStatus = ua.StatusGoodClamped

		_, err := caller.Invoke(ctx, session, v, "7")
		Expect(err).NotTo(HaveOccurred())
		Expect(session.lastCall().InputArguments).To(HaveLen(1))
	})

	It("returns the first output argument", func() {
		v := newTestVariable(1, "counter")
		session.addMethod(v.NodeID, parent)
		session.callResults[v.NodeID.String()] = &ua.CallMethodResult{
			StatusCode:      ua.StatusOK,
			OutputArguments: []*ua.Variant{ua.MustVariant("ok"), ua.MustVariant(int32(1))},
		}

		result, err := caller.Invoke(ctx, session, v, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("ok"))
	})

	It("fails on a bad call status", func() {
		v := newTestVariable(1, "counter")
		session.addMethod(v.NodeID, parent)
		session.callResults[v.NodeID.String()] = &ua.CallMethodResult{StatusCode: ua.StatusBadMethodInvalid}

		_, err := caller.Invoke(ctx, session, v, nil)
		Expect(err).To(MatchError(ua.StatusBadMethodInvalid))
		Expect(Classify(err)).To(Equal(FailureNotApplicable))
	})

	It("fails when the method has no parent object", func() {
		v := newTestVariable(1, "orphan")
		session.addNode(&MockOpcuaNode{id: v.NodeID, nodeClass: ua.NodeClassMethod})

		_, err := caller.Invoke(ctx, session, v, nil)
		Expect(err).To(MatchError(ErrNoMethodParent))
		Expect(session.callCount()).To(BeZero())
	})
})

var _ = Describe("Writing through a handler", func() {
	var (
		ctx     context.Context
		session *MockSession
		dialer  *MockDialer
		clock   *fakeClock
		v       *Variable
	)

	BeforeEach(func() {
		ctx = context.Background()
		session = NewMockSession()
		dialer = &MockDialer{sessions: []*MockSession{session}}
		clock = newFakeClock()

		v = newTestVariable(1, "speed")
		v.ValueClass = "INT16"
		v.Writable = true
		v.MethodArguments = []MethodArgument{{Position: 0, Kind: ArgumentValueClass}}
		session.addMethod(v.NodeID, ua.NewNumericNodeID(2, 1), declaredArgument("speed", id.Int16))
	})

	It("emits the written value when the method has no output and the policy accepts", func() {
		handler := newTestHandler(SessionModePerCycle, dialer, nil, clock, v)

		samples, err := handler.Write(ctx, v.ID, "7")
		Expect(err).NotTo(HaveOccurred())
		Expect(samples).To(HaveLen(1))
		Expect(samples[0].Value).To(Equal("7"))
		Expect(session.closeCount()).To(Equal(1))

		cached, _, ok := v.Last()
		Expect(ok).To(BeTrue())
		Expect(cached).To(Equal("7"))
	})

	It("emits nothing when the policy rejects the written value", func() {
		v.Policy = UpdatePolicyFunc(func(Observation) bool { return false })
		handler := newTestHandler(SessionModePerCycle, dialer, nil, clock, v)

		samples, err := handler.Write(ctx, v.ID, "7")
		Expect(err).NotTo(HaveOccurred())
		Expect(samples).To(BeEmpty())
		Expect(session.callCount()).To(Equal(1))

		_, _, ok := v.Last()
		Expect(ok).To(BeFalse())
	})

	It("returns the call error with no samples", func() {
		session.callErr = ua.StatusBadTimeout
		handler := newTestHandler(SessionModePerCycle, dialer, nil, clock, v)

		samples, err := handler.Write(ctx, v.ID, "7")
		Expect(err).To(MatchError(ua.StatusBadTimeout))
		Expect(samples).To(BeEmpty())
	})

	It("rejects unknown and read-only variables without dialing", func() {
		readOnly := newTestVariable(2, "temperature")
		handler := newTestHandler(SessionModePerCycle, dialer, nil, clock, v, readOnly)

		_, err := handler.Write(ctx, 99, "1")
		Expect(err).To(MatchError(ErrUnknownVariable))

		_, err = handler.Write(ctx, readOnly.ID, "1")
		Expect(err).To(MatchError(ErrNotWritable))
		Expect(dialer.dialCount()).To(BeZero())
	})
})
