package link

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

func init() {
	Register("tls", tlsOpener{})
}

// tlsOpener wraps tcpOpener's framing with crypto/tls; certificate material
// is out of scope for this build (spec.md carries no PKI configuration
// surface) so InsecureSkipVerify is accepted via a locator param for local
// testing, matching how zenoh-pico's own TLS link exposes a
// disable-verification knob for development use.
type tlsOpener struct{}

func (tlsOpener) Open(ctx context.Context, loc Locator) (Link, error) {
	cfg := &tls.Config{InsecureSkipVerify: loc.Params["insecure"] == "true"} //nolint:gosec // dev-only opt-in knob, see doc comment
	var d tls.Dialer
	d.Config = cfg
	conn, err := d.DialContext(ctx, "tcp", loc.Address)
	if err != nil {
		return nil, fmt.Errorf("dial tls %s: %w", loc.Address, err)
	}
	return newTCPLink(conn), nil
}

func (tlsOpener) Listen(ctx context.Context, loc Locator) (Listener, error) {
	cert, err := tls.LoadX509KeyPair(loc.Params["cert"], loc.Params["key"])
	if err != nil {
		return nil, fmt.Errorf("load tls keypair for %s: %w", loc.Address, err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	var lc net.ListenConfig
	inner, err := lc.Listen(ctx, "tcp", loc.Address)
	if err != nil {
		return nil, fmt.Errorf("listen tls %s: %w", loc.Address, err)
	}
	return &tcpListener{ln: tls.NewListener(inner, cfg)}, nil
}
