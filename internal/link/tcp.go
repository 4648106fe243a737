package link

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// defaultTCPMTU bounds a single stream-framed batch (spec.md §4.2's 16-bit
// length prefix caps a batch at 65535 bytes; this is a practical default
// well under that ceiling).
const defaultTCPMTU = 65000

func init() {
	Register("tcp", tcpOpener{})
}

type tcpOpener struct{}

func (tcpOpener) Open(ctx context.Context, loc Locator) (Link, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", loc.Address)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", loc.Address, err)
	}
	return newTCPLink(conn), nil
}

func (tcpOpener) Listen(ctx context.Context, loc Locator) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", loc.Address)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", loc.Address, err)
	}
	return &tcpListener{ln: ln}, nil
}

// tcpLink implements Link over a single *net.TCPConn, applying the
// length-prefixed batch framing spec.md §4.2 requires for stream
// transports.
type tcpLink struct {
	conn   net.Conn
	mu     sync.Mutex
	closed bool
}

func newTCPLink(conn net.Conn) *tcpLink {
	return &tcpLink{conn: conn}
}

func (l *tcpLink) Capabilities() Capabilities {
	return Capabilities{Reliable: true, Flow: FlowStream, Multicast: false}
}

func (l *tcpLink) MTU() int { return defaultTCPMTU }

// Send writes batch preceded by its 16-bit little-endian length.
func (l *tcpLink) Send(batch []byte) error {
	if len(batch) > 0xffff {
		return fmt.Errorf("send tcp batch of %d bytes: %w", len(batch), zerr.ErrTxFailed)
	}
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(batch)))
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("send: %w", zerr.ErrClosed)
	}
	if _, err := l.conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("send tcp header: %w", zerr.ErrTxFailed)
	}
	if _, err := l.conn.Write(batch); err != nil {
		return fmt.Errorf("send tcp payload: %w", zerr.ErrTxFailed)
	}
	return nil
}

// Recv reads one length-prefixed batch into buf.
func (l *tcpLink) Recv(buf []byte) (int, netip.AddrPort, error) {
	var hdr [2]byte
	if _, err := readFull(l.conn, hdr[:]); err != nil {
		return 0, netip.AddrPort{}, fmt.Errorf("recv tcp header: %w", zerr.ErrRxFailed)
	}
	n := int(binary.LittleEndian.Uint16(hdr[:]))
	if n > len(buf) {
		return 0, netip.AddrPort{}, fmt.Errorf("recv tcp batch of %d into %d-byte buffer: %w", n, len(buf), zerr.ErrRxFailed)
	}
	if _, err := readFull(l.conn, buf[:n]); err != nil {
		return 0, netip.AddrPort{}, fmt.Errorf("recv tcp payload: %w", zerr.ErrRxFailed)
	}
	return n, netip.AddrPort{}, nil
}

func (l *tcpLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("close tcp link: %w", err)
	}
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept(ctx context.Context) (Link, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("accept tcp: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, net.ErrClosed) {
				return nil, fmt.Errorf("accept tcp: %w", zerr.ErrClosed)
			}
			return nil, fmt.Errorf("accept tcp: %w", r.err)
		}
		return newTCPLink(r.conn), nil
	}
}

func (l *tcpListener) Close() error {
	if err := l.ln.Close(); err != nil {
		return fmt.Errorf("close tcp listener: %w", err)
	}
	return nil
}
