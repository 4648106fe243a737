package link

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// multicastTTL matches zenoh-pico's default scouting/JOIN multicast hop
// limit (spec.md §4.6: peers on the same multicast group discover each
// other via JOIN).
const multicastTTL = 1

func openMulticast(_ context.Context, loc Locator, addr *net.UDPAddr) (Link, error) {
	iface, err := resolveIface(loc.Params["iface"])
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bind multicast sender socket: %w", err)
	}
	if err := joinGroup(conn, addr, iface); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &multicastLink{conn: conn, group: addr, iface: iface}, nil
}

func listenMulticast(ctx context.Context, loc Locator, addr *net.UDPAddr) (Listener, error) {
	iface, err := resolveIface(loc.Params["iface"])
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setReusable(c)
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp", fmt.Sprintf(":%d", addr.Port))
	if err != nil {
		return nil, fmt.Errorf("bind multicast listen socket: %w", err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("bind multicast listen socket: unexpected conn type")
	}

	if err := joinGroup(conn, addr, iface); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &multicastListener{link: &multicastLink{conn: conn, group: addr, iface: iface}}, nil
}

func resolveIface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("resolve interface %s: %w", name, zerr.ErrConfigInsertFailed)
	}
	return iface, nil
}

// joinGroup subscribes conn to addr's multicast group on iface (nil means
// the OS default interface), configuring TTL/loop via the x/net packet
// connection wrappers the way zenoh-pico's own scouting link joins
// 224.0.0.224 / ff0?::224 for discovery (spec.md §4.6/§4.9).
func joinGroup(conn *net.UDPConn, group *net.UDPAddr, iface *net.Interface) error {
	if group.IP.To4() != nil {
		p := ipv4.NewPacketConn(conn)
		if err := p.JoinGroup(iface, &net.UDPAddr{IP: group.IP}); err != nil {
			return fmt.Errorf("join ipv4 multicast group %s: %w", group.IP, err)
		}
		if err := p.SetMulticastTTL(multicastTTL); err != nil {
			return fmt.Errorf("set ipv4 multicast ttl: %w", err)
		}
		if err := p.SetMulticastLoopback(true); err != nil {
			return fmt.Errorf("set ipv4 multicast loopback: %w", err)
		}
		return nil
	}
	p := ipv6.NewPacketConn(conn)
	if err := p.JoinGroup(iface, &net.UDPAddr{IP: group.IP}); err != nil {
		return fmt.Errorf("join ipv6 multicast group %s: %w", group.IP, err)
	}
	if err := p.SetMulticastHopLimit(multicastTTL); err != nil {
		return fmt.Errorf("set ipv6 multicast hop limit: %w", err)
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		return fmt.Errorf("set ipv6 multicast loopback: %w", err)
	}
	return nil
}

// multicastLink sends to and receives from a joined multicast group
// (spec.md §4.4: multicast links report the sender's address on Recv).
type multicastLink struct {
	conn   *net.UDPConn
	group  *net.UDPAddr
	iface  *net.Interface
	mu     sync.Mutex
	closed bool
}

func (l *multicastLink) Capabilities() Capabilities {
	return Capabilities{Reliable: false, Flow: FlowDatagram, Multicast: true}
}

func (l *multicastLink) MTU() int { return defaultUDPMTU }

func (l *multicastLink) Send(batch []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("send: %w", zerr.ErrClosed)
	}
	if _, err := l.conn.WriteToUDP(batch, l.group); err != nil {
		return fmt.Errorf("send multicast datagram: %w", zerr.ErrTxFailed)
	}
	return nil
}

func (l *multicastLink) Recv(buf []byte) (int, netip.AddrPort, error) {
	n, src, err := l.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, netip.AddrPort{}, fmt.Errorf("recv multicast datagram: %w", zerr.ErrRxFailed)
	}
	ip, ok := netip.AddrFromSlice(src.IP)
	if !ok {
		return n, netip.AddrPort{}, nil
	}
	return n, netip.AddrPortFrom(ip.Unmap(), uint16(src.Port)), nil
}

func (l *multicastLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("close multicast link: %w", err)
	}
	return nil
}

// multicastListener yields the single pre-joined multicastLink: a
// multicast group has no per-peer accept handshake (spec.md §4.6 — peers
// are discovered via JOIN messages received on this shared link, not via
// Accept).
type multicastListener struct {
	link     *multicastLink
	mu       sync.Mutex
	accepted bool
}

func (l *multicastListener) Accept(ctx context.Context) (Link, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.accepted {
		<-ctx.Done()
		return nil, fmt.Errorf("accept multicast: %w", ctx.Err())
	}
	l.accepted = true
	return l.link, nil
}

func (l *multicastListener) Close() error {
	return l.link.Close()
}
