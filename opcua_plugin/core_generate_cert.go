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
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/url"
	"time"
)

// ClientCertificate is a generated application instance certificate.
type ClientCertificate struct {
	TLS            tls.Certificate
	PrivateKey     *rsa.PrivateKey
	ApplicationURI string
}

// GenerateClientCertificate creates a self-signed OPC UA client certificate
// whose key size and signature algorithm fit the given security policy.
func GenerateClientCertificate(validFor time.Duration, securityPolicy string) (*ClientCertificate, error) {
	rsaBits := 2048
	signatureAlgorithm := x509.SHA256WithRSA
	switch securityPolicy {
	case "Basic256":
		signatureAlgorithm = x509.SHA1WithRSA
	case "Basic128Rsa15":
		rsaBits = 1024
		signatureAlgorithm = x509.SHA1WithRSA
	}

	priv, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	clientUID := randomString(8)
	appURI, err := url.Parse("urn:opcua-daq:client-" + clientUID)
	if err != nil {
		return nil, err
	}

	// Start at the beginning of the year so PLCs with a skewed clock still
	// accept the certificate.
	now := time.Now().UTC()
	notBefore := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)

	// 127 bits keep the DER encoded serial positive.
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   "opcua-daq-" + clientUID,
			Organization: []string{"UMH"},
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validFor),
		BasicConstraintsValid: true,
		SignatureAlgorithm:    signatureAlgorithm,
		URIs:                  []*url.URL{appURI},
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		KeyUsage: x509.KeyUsageDigitalSignature |
			x509.KeyUsageContentCommitment |
			x509.KeyUsageKeyEncipherment |
			x509.KeyUsageDataEncipherment |
			x509.KeyUsageCertSign,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &ClientCertificate{
		TLS:            cert,
		PrivateKey:     priv,
		ApplicationURI: appURI.String(),
	}, nil
}
