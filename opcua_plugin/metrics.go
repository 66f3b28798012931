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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// opcuaCyclesTotal counts read cycles by outcome (ok, empty, unreachable)
	opcuaCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opcua_daq_cycles_total",
			Help: "Total number of OPC UA read cycles by outcome",
		},
		[]string{"device", "outcome"},
	)

	// opcuaReadFailuresTotal tracks skipped variables by reason
	opcuaReadFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opcua_daq_read_failures_total",
			Help: "Total number of OPC UA variable reads that produced no sample, by reason",
		},
		[]string{"device", "reason"},
	)

	opcuaMethodCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opcua_daq_method_calls_total",
			Help: "Total number of OPC UA method calls by outcome",
		},
		[]string{"device", "outcome"},
	)

	opcuaConnectFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opcua_daq_connect_failures_total",
			Help: "Total number of failed OPC UA session opens by reason",
		},
		[]string{"device", "reason"},
	)
)

const (
	cycleOutcomeOK          = "ok"
	cycleOutcomeEmpty       = "empty"
	cycleOutcomeUnreachable = "unreachable"
)

// RecordCycle increments the cycle counter.
func RecordCycle(device, outcome string) {
	opcuaCyclesTotal.WithLabelValues(device, outcome).Inc()
}

// RecordReadFailure increments the read failure counter with the error's class.
func RecordReadFailure(device string, kind FailureKind) {
	opcuaReadFailuresTotal.WithLabelValues(device, string(kind)).Inc()
}

// RecordMethodCall increments the method call counter. A successful call is
// recorded with outcome "ok", a failed one with its failure class.
func RecordMethodCall(device string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(Classify(err))
	}
	opcuaMethodCallsTotal.WithLabelValues(device, outcome).Inc()
}

func RecordConnectFailure(device string, kind FailureKind) {
	opcuaConnectFailuresTotal.WithLabelValues(device, string(kind)).Inc()
}

// ResetMetrics resets all OPC UA metrics (for testing)
func ResetMetrics() {
	opcuaCyclesTotal.Reset()
	opcuaReadFailuresTotal.Reset()
	opcuaMethodCallsTotal.Reset()
	opcuaConnectFailuresTotal.Reset()
}
