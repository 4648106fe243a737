// Package link implements the transport-independent link abstraction of
// spec.md §4.4: a uniform open/listen/send/recv surface over TCP, TLS, UDP
// (unicast and multicast), WebSocket and raw Ethernet, plus scheme
// recognition for locators this build does not carry a socket
// implementation for.
//
// Grounded on the teacher's internal/netio package: Sender/Listener/Receiver
// split, context-aware blocking calls, slog-based per-link logging.
package link

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// Flow distinguishes a stream-oriented link (TCP, TLS, WebSocket) from a
// datagram-oriented one (UDP unicast/multicast) (spec.md §4.4).
type Flow uint8

// Link flows.
const (
	FlowStream Flow = iota
	FlowDatagram
)

// Capabilities describes what a Link guarantees (spec.md §4.4).
type Capabilities struct {
	Reliable  bool
	Flow      Flow
	Multicast bool
}

// Locator is a parsed endpoint address: scheme/address[?k=v&...] (spec.md
// §4.4, §6). Query parameters are scheme-specific (e.g. udp multicast
// iface=eth0).
type Locator struct {
	Scheme  string
	Address string
	Params  map[string]string
	Raw     string
}

// ParseLocator parses a locator string of the form
// "scheme/address[?k=v&...]", the wire form zenoh-pico uses for HELLO
// locators and session config connect/listen endpoints.
func ParseLocator(s string) (Locator, error) {
	schemeSep := strings.Index(s, "/")
	if schemeSep <= 0 {
		return Locator{}, fmt.Errorf("locator %q: %w", s, zerr.ErrLocatorInvalid)
	}
	scheme := s[:schemeSep]
	rest := s[schemeSep+1:]

	address := rest
	params := map[string]string{}
	if q := strings.Index(rest, "?"); q >= 0 {
		address = rest[:q]
		for _, kv := range strings.Split(rest[q+1:], "&") {
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return Locator{}, fmt.Errorf("locator %q: %w", s, zerr.ErrLocatorInvalid)
			}
			params[parts[0]] = parts[1]
		}
	}
	if address == "" {
		return Locator{}, fmt.Errorf("locator %q: %w", s, zerr.ErrLocatorInvalid)
	}

	if !Recognized(scheme) {
		return Locator{}, fmt.Errorf("locator %q: %w", s, zerr.ErrLocatorUnknownScheme)
	}

	return Locator{Scheme: scheme, Address: address, Params: params, Raw: s}, nil
}

// String renders l back to its wire form.
func (l Locator) String() string {
	if len(l.Params) == 0 {
		return l.Scheme + "/" + l.Address
	}
	var b strings.Builder
	b.WriteString(l.Scheme)
	b.WriteByte('/')
	b.WriteString(l.Address)
	b.WriteByte('?')
	first := true
	for k, v := range l.Params {
		if !first {
			b.WriteByte('&')
		}
		first = false
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}

// Link is an open point-to-point or multicast-group connection (spec.md
// §4.4). Send/Recv operate on whole batches: stream links such as tcp add
// and strip the 16-bit length-prefix framing (spec.md §4.2 "Framing for
// stream transports") inside Send/Recv, so callers see one batch per call.
type Link interface {
	Capabilities() Capabilities
	MTU() int
	Send(batch []byte) error
	// Recv reads one batch into buf, returning the number of bytes read and,
	// for datagram/multicast links, the sender's address (zero value for
	// stream links, per spec.md §4.4).
	Recv(buf []byte) (n int, remote netip.AddrPort, err error)
	Close() error
}

// Listener accepts inbound Links on a bound locator (spec.md §4.4 `listen`).
type Listener interface {
	Accept(ctx context.Context) (Link, error)
	Close() error
}

// Opener is the per-scheme constructor pair a scheme registers (spec.md
// §4.4 `open`/`listen`).
type Opener interface {
	Open(ctx context.Context, loc Locator) (Link, error)
	Listen(ctx context.Context, loc Locator) (Listener, error)
}

var registry = map[string]Opener{}

// Register associates scheme with an Opener. Called from each scheme
// file's package init.
func Register(scheme string, o Opener) {
	registry[scheme] = o
}

// recognizedOnly marks schemes spec.md §4.4 requires this build to
// recognize but not implement (serial, bt — no retrieval-pack library
// provides a serial/Bluetooth SPP transport; see DESIGN.md).
var recognizedOnly = map[string]bool{
	"serial": true,
	"bt":     true,
}

// Recognized reports whether scheme is a supported or recognized-only
// locator scheme.
func Recognized(scheme string) bool {
	if _, ok := registry[scheme]; ok {
		return true
	}
	return recognizedOnly[scheme]
}

// Open dials loc via its scheme's registered Opener.
func Open(ctx context.Context, loc Locator) (Link, error) {
	o, ok := registry[loc.Scheme]
	if !ok {
		if recognizedOnly[loc.Scheme] {
			return nil, fmt.Errorf("open %s: %w", loc, zerr.ErrLinkUnsupportedPlatform)
		}
		return nil, fmt.Errorf("open %s: %w", loc, zerr.ErrLocatorUnknownScheme)
	}
	link, err := o.Open(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", loc, err)
	}
	return link, nil
}

// Listen binds loc via its scheme's registered Opener.
func Listen(ctx context.Context, loc Locator) (Listener, error) {
	o, ok := registry[loc.Scheme]
	if !ok {
		if recognizedOnly[loc.Scheme] {
			return nil, fmt.Errorf("listen %s: %w", loc, zerr.ErrLinkUnsupportedPlatform)
		}
		return nil, fmt.Errorf("listen %s: %w", loc, zerr.ErrLocatorUnknownScheme)
	}
	ln, err := o.Listen(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", loc, err)
	}
	return ln, nil
}
