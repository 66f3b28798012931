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
	"time"

	"github.com/gopcua/opcua/ua"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redpanda-data/benthos/v4/public/service"
)

// stallingDialer waits for the dial deadline and then fails with err.
type stallingDialer struct {
	err error
}

func (d stallingDialer) Dial(ctx context.Context, _ Endpoint) (Session, error) {
	<-ctx.Done()
	return nil, d.err
}

var _ = Describe("Metrics", func() {
	BeforeEach(func() {
		ResetMetrics()
	})

	It("counts cycles by outcome", func() {
		RecordCycle("press-1", cycleOutcomeOK)
		RecordCycle("press-1", cycleOutcomeOK)
		RecordCycle("press-1", cycleOutcomeUnreachable)

		Expect(testutil.ToFloat64(opcuaCyclesTotal.WithLabelValues("press-1", cycleOutcomeOK))).To(Equal(float64(2)))
		Expect(testutil.ToFloat64(opcuaCyclesTotal.WithLabelValues("press-1", cycleOutcomeUnreachable))).To(Equal(float64(1)))
		Expect(testutil.ToFloat64(opcuaCyclesTotal.WithLabelValues("press-1", cycleOutcomeEmpty))).To(BeZero())
	})

	DescribeTable("labels method calls with the failure class",
		func(err error, expectedOutcome string) {
			RecordMethodCall("press-1", err)
			Expect(testutil.ToFloat64(opcuaMethodCallsTotal.WithLabelValues("press-1", expectedOutcome))).To(Equal(float64(1)))
		},
		Entry("success", nil, "ok"),
		Entry("timeout", context.DeadlineExceeded, "timeout"),
		Entry("server timeout", ua.StatusBadTimeout, "timeout"),
		Entry("cancelled", context.Canceled, "cancelled"),
		Entry("not a method", ua.StatusBadMethodInvalid, "not_applicable"),
		Entry("argument mismatch", ErrArgumentCountMismatch, "config"),
		Entry("coercion", &CoercionError{Value: "x", Type: ua.TypeIDInt16, Err: errors.New("bad")}, "coercion"),
		Entry("anything else", errors.New("boom"), "other"),
	)

	It("counts read and connect failures per device", func() {
		RecordReadFailure("press-1", FailureTimeout)
		RecordReadFailure("press-2", FailureTimeout)
		RecordConnectFailure("press-1", FailureOther)

		Expect(testutil.ToFloat64(opcuaReadFailuresTotal.WithLabelValues("press-1", "timeout"))).To(Equal(float64(1)))
		Expect(testutil.ToFloat64(opcuaReadFailuresTotal.WithLabelValues("press-2", "timeout"))).To(Equal(float64(1)))
		Expect(testutil.ToFloat64(opcuaConnectFailuresTotal.WithLabelValues("press-1", "other"))).To(Equal(float64(1)))
	})

	It("labels a connect failure the same way as its reason", func() {
		dialer := stallingDialer{err: errors.New("read tcp 10.0.0.5:4840: i/o timeout")}
		m := NewConnectionManager("press-1", dialer, nil, DiagnosticsConfig{}, service.MockResources().Logger())

		_, err := m.Open(context.Background(), Endpoint{Host: "10.0.0.5", Port: 4840, Timeout: 20 * time.Millisecond})
		Expect(err).To(HaveOccurred())
		Expect(m.Reachability().LastFailureReason).To(Equal("Timeout connecting to press-1"))
		Expect(testutil.ToFloat64(opcuaConnectFailuresTotal.WithLabelValues("press-1", "timeout"))).To(Equal(float64(1)))
		Expect(testutil.ToFloat64(opcuaConnectFailuresTotal.WithLabelValues("press-1", "other"))).To(BeZero())
	})

	It("counts a lost session as a connect failure", func() {
		m := NewConnectionManager("press-1", stallingDialer{}, nil, DiagnosticsConfig{}, service.MockResources().Logger())
		m.MarkLost(ua.StatusBadTimeout)

		Expect(m.Reachability().State).To(Equal(StateDisconnected))
		Expect(testutil.ToFloat64(opcuaConnectFailuresTotal.WithLabelValues("press-1", "timeout"))).To(Equal(float64(1)))
	})
})

var _ = Describe("isConnectionLost", func() {
	It("recognises statuses that end a session", func() {
		Expect(isConnectionLost(ua.StatusBadSessionIDInvalid)).To(BeTrue())
		Expect(isConnectionLost(ua.StatusBadSecureChannelClosed)).To(BeTrue())
		Expect(isConnectionLost(ua.StatusBadNodeIDUnknown)).To(BeFalse())
		Expect(isConnectionLost(nil)).To(BeFalse())
	})
})
