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

	"github.com/gopcua/opcua/ua"
)

var (
	ErrArgumentCountMismatch = errors.New("method argument count does not match the server declaration")
	ErrValueRequired         = errors.New("method argument requires a value but none was given")
	ErrNotWritable           = errors.New("variable is not writable")
	ErrUnknownVariable       = errors.New("unknown variable")
	ErrUnknownSessionMode    = errors.New("unknown session mode")
	ErrNoSession             = errors.New("no open session")
	ErrNoMethodParent        = errors.New("method node has no parent object")
	ErrNoSuitableEndpoint    = errors.New("no suitable endpoint found")
	ErrFingerprintMismatch   = errors.New("server certificate fingerprint does not match")
)

// FailureKind is the category of a failed read, call or connect.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureTimeout       FailureKind = "timeout"
	FailureCancelled     FailureKind = "cancelled"
	FailureNotApplicable FailureKind = "not_applicable"
	FailureConfig        FailureKind = "config"
	FailureCoercion      FailureKind = "coercion"
	FailureOther         FailureKind = "other"
)

// Classify maps an error onto its FailureKind. It is the only place where
// errors are categorised for logging and metrics.
func Classify(err error) FailureKind {
	var coercionErr *CoercionError
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ua.StatusBadTimeout):
		return FailureTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, ua.StatusBadRequestCancelledByClient):
		return FailureCancelled
	case errors.Is(err, ua.StatusBadAttributeIDInvalid), errors.Is(err, ua.StatusBadNotReadable),
		errors.Is(err, ua.StatusBadNotExecutable), errors.Is(err, ua.StatusBadMethodInvalid):
		return FailureNotApplicable
	case errors.Is(err, ErrArgumentCountMismatch), errors.Is(err, ErrValueRequired),
		errors.Is(err, ErrNotWritable), errors.Is(err, ErrUnknownVariable), errors.Is(err, ErrNoMethodParent),
		errors.Is(err, ErrNoSuitableEndpoint), errors.Is(err, ErrFingerprintMismatch):
		return FailureConfig
	case errors.As(err, &coercionErr):
		return FailureCoercion
	default:
		return FailureOther
	}
}

// isConnectionLost reports whether err means the session cannot be used any
// more and has to be reopened.
func isConnectionLost(err error) bool {
	return errors.Is(err, ua.StatusBadSessionIDInvalid) ||
		errors.Is(err, ua.StatusBadSessionClosed) ||
		errors.Is(err, ua.StatusBadCommunicationError) ||
		errors.Is(err, ua.StatusBadConnectionClosed) ||
		errors.Is(err, ua.StatusBadTimeout) ||
		errors.Is(err, ua.StatusBadConnectionRejected) ||
		errors.Is(err, ua.StatusBadServerNotConnected) ||
		errors.Is(err, ua.StatusBadSecureChannelClosed)
}

// isGood reports whether status has Good severity. Good codes may carry a
// non-zero subcode, e.g. GoodClamped.
func isGood(status ua.StatusCode) bool {
	return uint32(status)&0xC0000000 == 0
}
