package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/link"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
)

// joinInterval is how often a Multicast transport re-emits its own JOIN
// (spec.md §4.6 "a JOIN re-emission interval").
const joinInterval = 2500 * time.Millisecond

// leaseTickInterval is the lease scheduler's tick period. It must be
// smaller than any peer's lease to detect expiry promptly.
const leaseTickInterval = 1 * time.Second

// MulticastHandler receives events from a running Multicast transport.
type MulticastHandler struct {
	OnFramePayload func(peer *Peer, reliability wire.Reliability, payload []byte)
	OnPeerJoined   func(peer *Peer)
	OnPeerDropped  func(peer *Peer)
}

// Multicast is the C6 multicast transport: a single shared link (spec.md
// §4.6) over which peers are discovered via periodic JOIN, and FRAME/
// FRAGMENT payloads are attributed to a peer by source address.
type Multicast struct {
	cfg  Config
	link link.Link

	mu       sync.Mutex
	peers    *PeerTable
	snTxRel  *SNCounter
	snTxBE   *SNCounter
}

// NewMulticast builds a Multicast transport over an already-joined
// multicast link (internal/link's "udp" opener with a multicast address,
// or any Link whose Capabilities().Multicast is true).
func NewMulticast(l link.Link, cfg Config) *Multicast {
	if cfg.SNResolution == 0 {
		cfg.SNResolution = 1 << 28
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLeaseMs * time.Millisecond
	}
	snTxRel := NewSNCounter(cfg.SNResolution)
	snTxBE := NewSNCounter(cfg.SNResolution)
	return &Multicast{
		cfg:     cfg,
		link:    l,
		peers:   NewPeerTable(),
		snTxRel: snTxRel,
		snTxBE:  snTxBE,
	}
}

// Peers returns a snapshot of currently known peers.
func (m *Multicast) Peers() []*Peer { return m.peers.Snapshot() }

// Send broadcasts one FRAME carrying a single encoded network message to
// every peer reachable on the multicast group.
func (m *Multicast) Send(reliability wire.Reliability, encode func(w *iobuf.WBuf) error) error {
	m.mu.Lock()
	counter := m.snTxBE
	if reliability == wire.ReliabilityReliable {
		counter = m.snTxRel
	}
	sn := counter.NextTX()
	m.mu.Unlock()

	w := iobuf.NewExpandableWBuf(m.link.MTU())
	if err := wire.EncodeFrameHeader(w, wire.FrameHeader{Reliability: reliability, SN: sn}); err != nil {
		return err
	}
	if err := encode(w); err != nil {
		return err
	}
	return m.link.Send(w.Bytes())
}

func (m *Multicast) sendJoin() error {
	m.mu.Lock()
	join := wire.Join{
		Version:          protocolVersion,
		WhatAmI:          m.cfg.WhatAmI,
		ZID:              m.cfg.ZID,
		SNResolution:     m.cfg.SNResolution,
		BatchSize:        m.cfg.BatchSize,
		LeaseMs:          uint64(m.cfg.Lease / time.Millisecond),
		NextSNReliable:   m.snTxRel.tx,
		NextSNBestEffort: m.snTxBE.tx,
	}
	m.mu.Unlock()

	w := iobuf.NewExpandableWBuf(m.link.MTU())
	if err := wire.EncodeJoin(w, join); err != nil {
		return err
	}
	return m.link.Send(w.Bytes())
}

// Run drives the receive loop, the JOIN re-emission ticker, and the lease
// scheduler until ctx is canceled.
func (m *Multicast) Run(ctx context.Context, h MulticastHandler) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.recvLoop(gCtx, h) })
	g.Go(func() error { return m.joinLoop(gCtx) })
	g.Go(func() error { return m.tickLoop(gCtx, h) })

	return g.Wait()
}

func (m *Multicast) recvLoop(ctx context.Context, h MulticastHandler) error {
	buf := make([]byte, recvBufSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, addr, err := m.link.Recv(buf)
		if err != nil {
			return fmt.Errorf("recv multicast datagram: %w", err)
		}
		z := iobuf.NewZBuf(append([]byte(nil), buf[:n]...))
		msg, err := wire.DecodeTransportMessage(z)
		if err != nil {
			continue // malformed datagram from a misbehaving or unrelated sender
		}

		if msg.ID == wire.TransportIDJoin {
			m.handleJoin(msg.Join, addr, h)
			continue
		}

		peer, ok := m.peers.ByAddr(addr)
		if !ok {
			continue // spec.md §4.6: unmatched datagrams are dropped silently
		}
		m.peers.MarkReceived(peer)

		switch msg.ID {
		case wire.TransportIDFrame:
			if peer.AcceptFrame(msg.Frame.Reliability, msg.Frame.SN) {
				if h.OnFramePayload != nil {
					h.OnFramePayload(peer, msg.Frame.Reliability, z.Remaining())
				}
			} else {
				peer.Defrag(msg.Frame.Reliability).Reset()
			}
		case wire.TransportIDFragment:
			if !peer.AcceptFrame(msg.Fragment.Reliability, msg.Fragment.SN) {
				peer.Defrag(msg.Fragment.Reliability).Reset()
				continue
			}
			full, ferr := peer.Defrag(msg.Fragment.Reliability).Push(msg.Fragment.FragmentPayload, msg.Fragment.More)
			if ferr == nil && full != nil && h.OnFramePayload != nil {
				h.OnFramePayload(peer, msg.Fragment.Reliability, full)
			}
		case wire.TransportIDKeepAlive:
			// liveness already recorded via MarkReceived above.
		}
	}
}

func (m *Multicast) handleJoin(j wire.Join, addr netip.AddrPort, h MulticastHandler) {
	if j.ZID.Equal(m.cfg.ZID) {
		return // our own re-emitted JOIN, looped back by the multicast group
	}
	res := m.peers.OnJoin(j, addr)
	if res.Evicted != nil && h.OnPeerDropped != nil {
		h.OnPeerDropped(res.Evicted)
	}
	if res.IsNew && h.OnPeerJoined != nil {
		h.OnPeerJoined(res.Peer)
	}
}

func (m *Multicast) joinLoop(ctx context.Context) error {
	ticker := time.NewTicker(joinInterval)
	defer ticker.Stop()
	if err := m.sendJoin(); err != nil {
		m.cfg.logger().Warn("send initial join", slog.String("error", err.Error()))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.sendJoin(); err != nil {
				return fmt.Errorf("send join: %w", err)
			}
		}
	}
}

func (m *Multicast) tickLoop(ctx context.Context, h MulticastHandler) error {
	ticker := time.NewTicker(leaseTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			evicted := m.peers.Tick(leaseTickInterval)
			if h.OnPeerDropped != nil {
				for _, p := range evicted {
					h.OnPeerDropped(p)
				}
			}
		}
	}
}
