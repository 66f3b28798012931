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

var _ = Describe("ValueClassToVariantType", func() {
	DescribeTable("maps value classes case-insensitively",
		func(name string, expected ua.TypeID) {
			Expect(ValueClassToVariantType(name)).To(Equal(expected))
		},
		Entry("FLOAT64", "FLOAT64", ua.TypeIDDouble),
		Entry("lower case", "float64", ua.TypeIDDouble),
		Entry("mixed case", "Float32", ua.TypeIDFloat),
		Entry("padded", "  int16 ", ua.TypeIDInt16),
		Entry("LREAL", "lreal", ua.TypeIDDouble),
		Entry("REAL", "REAL", ua.TypeIDFloat),
		Entry("DWORD", "dword", ua.TypeIDUint32),
		Entry("WORD", "Word", ua.TypeIDUint16),
		Entry("BYTE", "byte", ua.TypeIDByte),
		Entry("INT8", "INT8", ua.TypeIDSByte),
		Entry("UINT64", "uint64", ua.TypeIDUint64),
		Entry("INT64", "INT64", ua.TypeIDInt64),
		Entry("UNIXTIMEI64", "unixtimeI64", ua.TypeIDInt64),
		Entry("BOOL", "bool", ua.TypeIDBoolean),
		Entry("unknown", "frobnicate", ua.TypeIDVariant),
		Entry("empty", "", ua.TypeIDVariant),
	)
})

var _ = Describe("StringToVariant", func() {
	DescribeTable("parses literals into the requested type",
		func(literal string, t ua.TypeID, expected any) {
			v, err := StringToVariant(literal, t)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Value()).To(Equal(expected))
		},
		Entry("int16", "7", ua.TypeIDInt16, int16(7)),
		Entry("negative int32", "-42", ua.TypeIDInt32, int32(-42)),
		Entry("uint16", "65535", ua.TypeIDUint16, uint16(65535)),
		Entry("sbyte", "-8", ua.TypeIDSByte, int8(-8)),
		Entry("byte", "255", ua.TypeIDByte, uint8(255)),
		Entry("uint64", "18446744073709551615", ua.TypeIDUint64, uint64(18446744073709551615)),
		Entry("double", "3.25", ua.TypeIDDouble, 3.25),
		Entry("float", "1.5", ua.TypeIDFloat, float32(1.5)),
		Entry("surrounding spaces", " 12 ", ua.TypeIDInt64, int64(12)),
		Entry("true", "TRUE", ua.TypeIDBoolean, true),
		Entry("on", "on", ua.TypeIDBoolean, true),
		Entry("one", "1", ua.TypeIDBoolean, true),
		Entry("anything else is false", "nope", ua.TypeIDBoolean, false),
		Entry("string", "hello", ua.TypeIDString, "hello"),
		Entry("variant integer", "12", ua.TypeIDVariant, int64(12)),
		Entry("variant float", "1.25", ua.TypeIDVariant, 1.25),
		Entry("variant string", "abc", ua.TypeIDVariant, "abc"),
	)

	DescribeTable("rejects literals that do not fit",
		func(literal string, t ua.TypeID) {
			_, err := StringToVariant(literal, t)
			var coercion *CoercionError
			Expect(err).To(BeAssignableToTypeOf(coercion))
			Expect(Classify(err)).To(Equal(FailureCoercion))
		},
		Entry("fraction into int16", "7.5", ua.TypeIDInt16),
		Entry("overflow int16", "40000", ua.TypeIDInt16),
		Entry("negative uint32", "-1", ua.TypeIDUint32),
		Entry("text into double", "warm", ua.TypeIDDouble),
		Entry("empty into int32", "", ua.TypeIDInt32),
		Entry("unsupported type", "x", ua.TypeIDExtensionObject),
	)

	It("parses RFC 3339 timestamps", func() {
		v, err := StringToVariant("2025-03-01T12:00:00Z", ua.TypeIDDateTime)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Type()).To(Equal(ua.TypeIDDateTime))
		Expect(v.Value()).To(BeTemporally("==", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
	})

	It("parses node ids", func() {
		v, err := StringToVariant("ns=2;s=Line1.Speed", ua.TypeIDNodeID)
		Expect(err).NotTo(HaveOccurred())
		n, ok := v.Value().(*ua.NodeID)
		Expect(ok).To(BeTrue())
		Expect(n.Namespace()).To(Equal(uint16(2)))
		Expect(n.StringID()).To(Equal("Line1.Speed"))
	})
})
