package link

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// defaultUDPMTU is a conservative datagram payload size that avoids IP
// fragmentation on typical paths (spec.md §4.4: datagram links omit the
// stream length prefix; each datagram is one batch).
const defaultUDPMTU = 1472

func init() {
	Register("udp", udpOpener{})
}

type udpOpener struct{}

// Open dials a UDP unicast peer. A multicast Address is not dialed here:
// Open hands it to openMulticast (multicast.go), which joins the group.
func (udpOpener) Open(ctx context.Context, loc Locator) (Link, error) {
	addr, err := net.ResolveUDPAddr("udp", loc.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", loc.Address, err)
	}
	if isMulticastAddr(addr) {
		return openMulticast(ctx, loc, addr)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", loc.Address)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", loc.Address, err)
	}
	return &udpLink{conn: conn}, nil
}

func (udpOpener) Listen(ctx context.Context, loc Locator) (Listener, error) {
	addr, err := net.ResolveUDPAddr("udp", loc.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", loc.Address, err)
	}
	if isMulticastAddr(addr) {
		return listenMulticast(ctx, loc, addr)
	}
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", loc.Address)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", loc.Address, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen udp %s: unexpected conn type", loc.Address)
	}
	return &udpListener{conn: conn}, nil
}

func isMulticastAddr(addr *net.UDPAddr) bool {
	return addr.IP != nil && addr.IP.IsMulticast()
}

// udpLink is a connected unicast UDP link: datagram, unreliable, no
// multicast (spec.md §4.4).
type udpLink struct {
	conn   net.Conn
	mu     sync.Mutex
	closed bool
}

func (l *udpLink) Capabilities() Capabilities {
	return Capabilities{Reliable: false, Flow: FlowDatagram, Multicast: false}
}

func (l *udpLink) MTU() int { return defaultUDPMTU }

func (l *udpLink) Send(batch []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("send: %w", zerr.ErrClosed)
	}
	if _, err := l.conn.Write(batch); err != nil {
		return fmt.Errorf("send udp datagram: %w", zerr.ErrTxFailed)
	}
	return nil
}

func (l *udpLink) Recv(buf []byte) (int, netip.AddrPort, error) {
	n, err := l.conn.Read(buf)
	if err != nil {
		return 0, netip.AddrPort{}, fmt.Errorf("recv udp datagram: %w", zerr.ErrRxFailed)
	}
	var remote netip.AddrPort
	if a, ok := l.conn.RemoteAddr().(*net.UDPAddr); ok {
		if ip, ok2 := netip.AddrFromSlice(a.IP); ok2 {
			remote = netip.AddrPortFrom(ip.Unmap(), uint16(a.Port))
		}
	}
	return n, remote, nil
}

func (l *udpLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("close udp link: %w", err)
	}
	return nil
}

// udpListener accepts "connections" for a listening unicast UDP socket by
// yielding a single pre-bound Link on first Accept, matching the
// datagram-listener shape zenoh-pico's own UDP listen link uses (there is
// no per-peer handshake to accept).
type udpListener struct {
	conn     *net.UDPConn
	mu       sync.Mutex
	accepted bool
}

func (l *udpListener) Accept(ctx context.Context) (Link, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.accepted {
		<-ctx.Done()
		return nil, fmt.Errorf("accept udp: %w", ctx.Err())
	}
	l.accepted = true
	return &udpLink{conn: l.conn}, nil
}

func (l *udpListener) Close() error {
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("close udp listener: %w", err)
	}
	return nil
}
