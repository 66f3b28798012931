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
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gopcua/opcua/ua"
	"golang.org/x/crypto/sha3"
)

// userTokenType picks the authentication for an endpoint. Credentials are
// used as soon as both a username and a password are configured.
func (e Endpoint) userTokenType() ua.UserTokenType {
	if e.Username != "" && e.Password != "" {
		return ua.UserTokenTypeUserName
	}
	return ua.UserTokenTypeAnonymous
}

func (e Endpoint) securityMode() ua.MessageSecurityMode {
	if e.SecurityMode == "" {
		return ua.MessageSecurityModeNone
	}
	return ua.MessageSecurityModeFromString(e.SecurityMode)
}

func (e Endpoint) securityPolicyURI() string {
	if e.SecurityPolicy == "" {
		return ua.SecurityPolicyURINone
	}
	return ua.FormatSecurityPolicyURI(e.SecurityPolicy)
}

// isUserTokenSupported checks if the endpoint supports the selected user token authentication.
func isUserTokenSupported(endpoint *ua.EndpointDescription, selectedAuth ua.UserTokenType) bool {
	for _, token := range endpoint.UserIdentityTokens {
		if token != nil && selectedAuth == token.TokenType {
			return true
		}
	}
	return false
}

// selectEndpoint returns the discovered endpoint matching the configured
// security mode, security policy and authentication.
func selectEndpoint(endpoints []*ua.EndpointDescription, ep Endpoint) (*ua.EndpointDescription, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("server returned no endpoints: %w", ErrNoSuitableEndpoint)
	}

	mode := ep.securityMode()
	policy := ep.securityPolicyURI()
	auth := ep.userTokenType()

	for _, endpoint := range endpoints {
		if endpoint == nil {
			continue
		}
		if endpoint.SecurityMode == mode &&
			endpoint.SecurityPolicyURI == policy &&
			isUserTokenSupported(endpoint, auth) {
			return endpoint, nil
		}
	}

	return nil, fmt.Errorf("mode %s, policy %s, auth %s: %w", mode, policy, auth, ErrNoSuitableEndpoint)
}

// directEndpoint describes the configured endpoint without asking the server.
// It is used when endpoint discovery is disabled.
func directEndpoint(ep Endpoint) *ua.EndpointDescription {
	return &ua.EndpointDescription{
		EndpointURL:       ep.URL(),
		SecurityMode:      ep.securityMode(),
		SecurityPolicyURI: ep.securityPolicyURI(),
	}
}

// replaceHostInEndpointURL swaps the authority of a discovered endpoint URL
// for the configured one. Servers often advertise hostnames that do not
// resolve from the client's network.
func replaceHostInEndpointURL(endpointURL, hostPort string) string {
	scheme := "opc.tcp://"
	rest := endpointURL
	if i := strings.Index(endpointURL, "://"); i >= 0 {
		scheme = endpointURL[:i+3]
		rest = endpointURL[i+3:]
	}

	slash := strings.Index(rest, "/")
	if slash == -1 {
		return scheme + hostPort
	}
	return scheme + hostPort + rest[slash:]
}

// ServerCertificateFingerprint is the hex encoded SHA3-512 hash of a DER
// encoded server certificate.
func ServerCertificateFingerprint(der []byte) string {
	sum := sha3.Sum512(der)
	return hex.EncodeToString(sum[:])
}

func verifyServerCertificate(endpoint *ua.EndpointDescription, expected string) error {
	if expected == "" {
		return nil
	}
	if len(endpoint.ServerCertificate) == 0 {
		return fmt.Errorf("endpoint %s presents no certificate: %w", endpoint.EndpointURL, ErrFingerprintMismatch)
	}
	actual := ServerCertificateFingerprint(endpoint.ServerCertificate)
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return fmt.Errorf("endpoint %s has fingerprint %s: %w", endpoint.EndpointURL, actual, ErrFingerprintMismatch)
	}
	return nil
}
