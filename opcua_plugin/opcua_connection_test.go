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
	"time"

	"github.com/gopcua/opcua/ua"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/united-manufacturing-hub/opcua-daq/opcua_plugin"
)

var _ = Describe("ParseDeviceConfig", func() {
	parse := func(yaml string) (*DeviceConfig, error) {
		conf, err := OPCUAPollConfigSpec.ParseYAML(yaml, nil)
		if err != nil {
			return nil, err
		}
		return ParseDeviceConfig(conf)
	}

	It("applies defaults", func() {
		cfg, err := parse(`
host: 10.0.0.5
variables: []
`)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Deps.Device).To(Equal("10.0.0.5"))
		Expect(cfg.SessionMode).To(Equal(SessionModePerCycle))
		Expect(cfg.CacheResource).To(BeEmpty())
		Expect(cfg.Deps.Endpoint.URL()).To(Equal("opc.tcp://10.0.0.5:4840/"))
		Expect(cfg.Deps.Endpoint.Timeout).To(Equal(10 * time.Second))
		Expect(cfg.Deps.Endpoint.SessionTimeout).To(Equal(10 * time.Second))
		Expect(cfg.Deps.DataTypeCacheSize).To(Equal(DefaultDataTypeCacheSize))
		Expect(cfg.Deps.Diagnostics.Enabled).To(BeTrue())
		Expect(cfg.Deps.Diagnostics.MaxLength).To(Equal(DefaultMaxRemoteObjectsLength))
		Expect(cfg.Deps.Variables).To(BeEmpty())
	})

	It("parses variables with their method arguments", func() {
		cfg, err := parse(`
deviceName: press-1
host: plc.local
port: 4841
sessionMode: persistent
diagnostics:
  roots: ["ns=2;s=Line1"]
  cache: trees
variables:
  - id: 1
    name: speed
    namespaceIndex: 2
    identifier: Line1.Speed
    updatePolicy: absolute
    deadband: 0.5
  - id: 2
    name: setSpeed
    namespaceIndex: 2
    identifier: "i=7001"
    readable: false
    writable: true
    valueClass: INT16
    methodArguments:
      - position: 1
        dataType: value_class
      - position: 0
        value: "3"
`)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Deps.Device).To(Equal("press-1"))
		Expect(cfg.SessionMode).To(Equal(SessionModePersistent))
		Expect(cfg.CacheResource).To(Equal("trees"))
		Expect(cfg.Deps.Diagnostics.Roots).To(HaveLen(1))
		Expect(cfg.Deps.Diagnostics.Roots[0].StringID()).To(Equal("Line1"))

		vars := cfg.Deps.Variables
		Expect(vars).To(HaveLen(2))
		Expect(vars[0].NodeID.String()).To(Equal("ns=2;s=Line1.Speed"))
		Expect(vars[0].Readable).To(BeTrue())
		Expect(vars[0].Writable).To(BeFalse())
		Expect(vars[0].ValueClass).To(Equal("FLOAT64"))
		Expect(vars[0].Policy).To(Equal(AbsoluteDeadband{Threshold: 0.5}))

		Expect(vars[1].NodeID.IntID()).To(Equal(uint32(7001)))
		Expect(vars[1].Readable).To(BeFalse())
		Expect(vars[1].Writable).To(BeTrue())
		Expect(vars[1].SortedArguments()).To(Equal([]MethodArgument{
			{Position: 0, Kind: ArgumentDeviceType, Value: "3"},
			{Position: 1, Kind: ArgumentValueClass, Value: ""},
		}))
	})

	It("rejects an empty host", func() {
		_, err := parse(`
host: ""
variables: []
`)
		Expect(err).To(MatchError(ContainSubstring("host")))
	})

	It("rejects a port out of range", func() {
		_, err := parse(`
host: plc
port: 70000
variables: []
`)
		Expect(err).To(MatchError(ContainSubstring("out of range")))
	})

	It("names the variable that failed to parse", func() {
		_, err := parse(`
host: plc
variables:
  - id: 1
    name: broken
    identifier: ""
`)
		Expect(err).To(MatchError(ContainSubstring("variables[0]")))
	})
})

var _ = Describe("ParseVariableNodeID", func() {
	DescribeTable("builds node ids",
		func(ns int, identifier string, expected string) {
			n, err := ParseVariableNodeID(ns, identifier)
			Expect(err).NotTo(HaveOccurred())
			Expect(n.String()).To(Equal(expected))
		},
		Entry("numeric", 2, "1001", "ns=2;i=1001"),
		Entry("string", 3, "Line1.Speed", "ns=3;s=Line1.Speed"),
		Entry("explicit numeric", 2, "i=5", "ns=2;i=5"),
		Entry("explicit string that looks numeric", 2, "s=42", "ns=2;s=42"),
		Entry("namespace zero", 0, "85", "i=85"),
	)

	It("parses guid identifiers", func() {
		n, err := ParseVariableNodeID(1, "g=72962b91-fa75-4ae6-8d28-b404dc7daf63")
		Expect(err).NotTo(HaveOccurred())
		Expect(n.Type()).To(Equal(ua.NodeIDTypeGUID))
	})

	It("rejects empty identifiers and bad namespaces", func() {
		_, err := ParseVariableNodeID(1, " ")
		Expect(err).To(HaveOccurred())
		_, err = ParseVariableNodeID(-1, "1")
		Expect(err).To(HaveOccurred())
		_, err = ParseVariableNodeID(70000, "1")
		Expect(err).To(HaveOccurred())
	})
})
