package transport_test

import (
	"bytes"
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/link"
	"github.com/zenoh-pico-go/zenohpico/internal/transport"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
)

// fakeMulticastLink is an internal/link.Link test double whose Recv
// delivers datagrams injected by the test via inject, tagged with an
// arbitrary sender address, matching the real multicast link's contract
// of handing back the sender's address per spec.md §4.6.
type fakeMulticastLink struct {
	mu     sync.Mutex
	ch     chan datagram
	closed bool
	sent   [][]byte
}

type datagram struct {
	data []byte
	addr netip.AddrPort
}

func newFakeMulticastLink() *fakeMulticastLink {
	return &fakeMulticastLink{ch: make(chan datagram, 16)}
}

func (f *fakeMulticastLink) inject(addr netip.AddrPort, data []byte) {
	f.ch <- datagram{data: data, addr: addr}
}

func (f *fakeMulticastLink) Capabilities() link.Capabilities {
	return link.Capabilities{Reliable: false, Flow: link.FlowDatagram, Multicast: true}
}

func (f *fakeMulticastLink) MTU() int { return 1472 }

func (f *fakeMulticastLink) Send(batch []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), batch...))
	return nil
}

func (f *fakeMulticastLink) Recv(buf []byte) (int, netip.AddrPort, error) {
	dg, ok := <-f.ch
	if !ok {
		return 0, netip.AddrPort{}, iobuf.ErrEOF
	}
	n := copy(buf, dg.data)
	return n, dg.addr, nil
}

func (f *fakeMulticastLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

func encodeJoinBytes(t *testing.T, j wire.Join) []byte {
	t.Helper()
	w := iobuf.NewExpandableWBuf(256)
	if err := wire.EncodeJoin(w, j); err != nil {
		t.Fatalf("encode join: %v", err)
	}
	return w.Bytes()
}

func encodeFrameBytes(t *testing.T, fh wire.FrameHeader, payload []byte) []byte {
	t.Helper()
	w := iobuf.NewExpandableWBuf(256)
	if err := wire.EncodeFrameHeader(w, fh); err != nil {
		t.Fatalf("encode frame header: %v", err)
	}
	if err := w.WriteBytes(payload); err != nil {
		t.Fatalf("write frame payload: %v", err)
	}
	return w.Bytes()
}

func TestMulticastPeerJoinAndFrameDelivery(t *testing.T) {
	t.Parallel()

	l := newFakeMulticastLink()
	selfZID := wire.NewZID([]byte{0x01})
	peerZID := wire.NewZID([]byte{0x02})
	peerAddr := netip.MustParseAddrPort("10.0.0.2:7447")

	m := transport.NewMulticast(l, transport.Config{
		ZID: selfZID, WhatAmI: 1, SNResolution: 256, BatchSize: 1024, Lease: 5 * time.Second,
	})

	joined := make(chan *transport.Peer, 1)
	gotFrame := make(chan []byte, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = m.Run(ctx, transport.MulticastHandler{
			OnPeerJoined: func(p *transport.Peer) {
				select {
				case joined <- p:
				default:
				}
			},
			OnFramePayload: func(_ *transport.Peer, _ wire.Reliability, payload []byte) {
				select {
				case gotFrame <- append([]byte(nil), payload...):
				default:
				}
			},
		})
	}()

	l.inject(peerAddr, encodeJoinBytes(t, wire.Join{
		Version: 9, WhatAmI: 1, ZID: peerZID, SNResolution: 256, BatchSize: 1024,
		LeaseMs: 5000, NextSNReliable: 0, NextSNBestEffort: 0,
	}))

	select {
	case p := <-joined:
		if !p.ZID.Equal(peerZID) {
			t.Fatalf("joined peer zid = %s, want %s", p.ZID, peerZID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnPeerJoined")
	}

	payload := []byte("multicast-sample")
	l.inject(peerAddr, encodeFrameBytes(t, wire.FrameHeader{Reliability: wire.ReliabilityBestEffort, SN: 0}, payload))

	select {
	case got := <-gotFrame:
		if !bytes.Equal(got, payload) {
			t.Fatalf("frame payload = %q, want %q", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnFramePayload")
	}
}

func TestMulticastUnknownAddressDatagramDropped(t *testing.T) {
	t.Parallel()

	l := newFakeMulticastLink()
	m := transport.NewMulticast(l, transport.Config{
		ZID: wire.NewZID([]byte{0x01}), WhatAmI: 1, SNResolution: 256, BatchSize: 1024, Lease: 5 * time.Second,
	})

	gotFrame := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = m.Run(ctx, transport.MulticastHandler{
			OnFramePayload: func(*transport.Peer, wire.Reliability, []byte) {
				gotFrame <- struct{}{}
			},
		})
	}()

	unknown := netip.MustParseAddrPort("10.0.0.9:7447")
	l.inject(unknown, encodeFrameBytes(t, wire.FrameHeader{Reliability: wire.ReliabilityBestEffort, SN: 0}, []byte("x")))

	select {
	case <-gotFrame:
		t.Fatal("want datagram from unknown peer dropped, not delivered")
	case <-time.After(300 * time.Millisecond):
		// expected: nothing delivered
	}
}
