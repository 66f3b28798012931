package opcua_plugin

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/redpanda-data/benthos/v4/public/service"
)

const (
	SessionTimeout       = 5 * time.Second
	certificateValidity  = 10 * 365 * 24 * time.Hour
	clientApplicationURN = "urn:opcua-daq"
)

// GopcuaDialer opens sessions with gopcua. Generated client certificates are
// kept per security policy so reconnects do not present a new identity.
type GopcuaDialer struct {
	Log *service.Logger

	mu    sync.Mutex
	certs map[string]*ClientCertificate
}

func NewGopcuaDialer(log *service.Logger) *GopcuaDialer {
	return &GopcuaDialer{Log: log, certs: map[string]*ClientCertificate{}}
}

// Dial discovers the server's endpoints unless DirectConnect is set, picks the
// one matching the configuration and connects to it. Automatic reconnects
// are disabled; reconnecting is up to the caller.
func (d *GopcuaDialer) Dial(ctx context.Context, ep Endpoint) (Session, error) {
	endpoint, err := d.resolveEndpoint(ctx, ep)
	if err != nil {
		return nil, err
	}

	opts, err := d.clientOptions(endpoint, ep)
	if err != nil {
		return nil, err
	}

	c, err := opcua.NewClient(endpoint.EndpointURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", endpoint.EndpointURL, err)
	}

	if err := c.Connect(ctx); err != nil {
		// A failed handshake can leave the secure channel half open.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SessionTimeout)
		defer cancel()
		_ = c.Close(closeCtx)
		return nil, err
	}

	return &clientSession{client: c}, nil
}

func (d *GopcuaDialer) resolveEndpoint(ctx context.Context, ep Endpoint) (*ua.EndpointDescription, error) {
	if ep.DirectConnect {
		d.Log.Debugf("Directly connecting to the endpoint %s", ep.URL())
		return directEndpoint(ep), nil
	}

	endpoints, err := opcua.GetEndpoints(ctx, ep.URL())
	if err != nil {
		return nil, fmt.Errorf("fetch endpoints from %s: %w", ep.URL(), err)
	}

	hostPort := ep.Host + ":" + strconv.Itoa(ep.Port)
	for _, endpoint := range endpoints {
		if endpoint != nil {
			endpoint.EndpointURL = replaceHostInEndpointURL(endpoint.EndpointURL, hostPort)
		}
	}

	endpoint, err := selectEndpoint(endpoints, ep)
	if err != nil {
		return nil, err
	}
	if err := verifyServerCertificate(endpoint, ep.ServerCertificateFingerprint); err != nil {
		return nil, err
	}
	return endpoint, nil
}

func (d *GopcuaDialer) clientOptions(endpoint *ua.EndpointDescription, ep Endpoint) ([]opcua.Option, error) {
	auth := ep.userTokenType()
	opts := []opcua.Option{
		opcua.SecurityFromEndpoint(endpoint, auth),
		opcua.SessionName("opcua-daq"),
		opcua.ApplicationName("opcua-daq"),
		opcua.AutoReconnect(false),
	}

	if auth == ua.UserTokenTypeUserName {
		opts = append(opts, opcua.AuthUsername(ep.Username, ep.Password))
	}

	if endpoint.SecurityPolicyURI != ua.SecurityPolicyURINone {
		cert, err := d.certificate(ep.SecurityPolicy)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			opcua.PrivateKey(cert.PrivateKey),
			opcua.Certificate(cert.TLS.Certificate[0]),
			opcua.ApplicationURI(cert.ApplicationURI),
		)
	} else {
		opts = append(opts, opcua.ApplicationURI(clientApplicationURN))
	}

	sessionTimeout := ep.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = SessionTimeout
	}
	opts = append(opts, opcua.SessionTimeout(sessionTimeout))
	if ep.Timeout > 0 {
		opts = append(opts, opcua.DialTimeout(ep.Timeout), opcua.RequestTimeout(ep.Timeout))
	}
	return opts, nil
}

func (d *GopcuaDialer) certificate(policy string) (*ClientCertificate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cert, ok := d.certs[policy]; ok {
		return cert, nil
	}
	cert, err := GenerateClientCertificate(certificateValidity, policy)
	if err != nil {
		return nil, err
	}
	d.Log.Infof("Generated client certificate %s for security policy %s", cert.ApplicationURI, policy)
	d.certs[policy] = cert
	return cert, nil
}
