package transport

import (
	"net/netip"
	"sync"
	"time"

	"github.com/zenoh-pico-go/zenohpico/internal/wire"
)

// Peer is one remote participant known to a Multicast transport via JOIN
// (spec.md §4.6 "Maintains a set of known peers keyed by remote ZID. Each
// peer has its own SN state and lease").
type Peer struct {
	ZID          wire.ZID
	WhatAmI      uint8
	SNResolution uint64
	BatchSize    uint16
	Addr         netip.AddrPort

	snRxReliable   *SNCounter
	snRxBestEffort *SNCounter
	DefragReliable   Defragmenter
	DefragBestEffort Defragmenter

	nextLease time.Duration // counts down to zero; reset on JOIN
	leaseMs   uint64
	received  bool // seen traffic since the last lease-scheduler window
}

// AcceptFrame applies the SN-acceptance rule (spec.md §4.5, reused here
// per-peer for C6) on the given reliability channel.
func (p *Peer) AcceptFrame(reliability wire.Reliability, sn uint64) bool {
	counter := p.snRxBestEffort
	if reliability == wire.ReliabilityReliable {
		counter = p.snRxReliable
	}
	return counter.AcceptRX(sn)
}

// Defrag returns the per-reliability defrag buffer for this peer.
func (p *Peer) Defrag(reliability wire.Reliability) *Defragmenter {
	if reliability == wire.ReliabilityReliable {
		return &p.DefragReliable
	}
	return &p.DefragBestEffort
}

func newPeerFromJoin(j wire.Join, addr netip.AddrPort) *Peer {
	p := &Peer{
		ZID:            j.ZID,
		WhatAmI:        j.WhatAmI,
		SNResolution:   j.SNResolution,
		BatchSize:      j.BatchSize,
		Addr:           addr,
		leaseMs:        j.LeaseMs,
		nextLease:      time.Duration(j.LeaseMs) * time.Millisecond,
		received:       true,
		snRxReliable:   NewSNCounter(j.SNResolution),
		snRxBestEffort: NewSNCounter(j.SNResolution),
	}
	p.snRxReliable.SeedRX(j.NextSNReliable)
	p.snRxBestEffort.SeedRX(j.NextSNBestEffort)
	return p
}

// refresh applies a JOIN from an already-known peer: resets its lease and
// reconciles parameters (spec.md §4.6 "A JOIN from a known peer refreshes
// its lease and reconciles parameters (conflict -> evict)"). It returns
// false if the JOIN conflicts with previously negotiated parameters (a
// change in sn_resolution, which would desynchronize the SN ring), in
// which case the caller must evict and re-insert the peer instead.
func (p *Peer) refresh(j wire.Join, addr netip.AddrPort) bool {
	if p.SNResolution != j.SNResolution {
		return false
	}
	p.Addr = addr
	p.WhatAmI = j.WhatAmI
	p.BatchSize = j.BatchSize
	p.leaseMs = j.LeaseMs
	p.nextLease = time.Duration(j.LeaseMs) * time.Millisecond
	p.received = true
	return true
}

// PeerTable is the multicast transport's set of known peers, keyed by
// remote ZID and indexed by source address for per-datagram lookup
// (spec.md §4.6 "the sender is identified by the datagram's source
// address, resolved to a peer record").
type PeerTable struct {
	mu     sync.Mutex
	byZID  map[string]*Peer
	byAddr map[netip.AddrPort]*Peer
}

// NewPeerTable builds an empty peer table.
func NewPeerTable() *PeerTable {
	return &PeerTable{
		byZID:  make(map[string]*Peer),
		byAddr: make(map[netip.AddrPort]*Peer),
	}
}

// ByAddr looks up the peer associated with a datagram's source address.
// Datagrams from unmatched addresses are dropped silently by the caller
// unless they carry a JOIN (spec.md §4.6).
func (t *PeerTable) ByAddr(addr netip.AddrPort) (*Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byAddr[addr]
	return p, ok
}

// JoinResult reports what OnJoin did, for the caller to fire drop/new-peer
// notifications appropriately.
type JoinResult struct {
	Peer      *Peer
	IsNew     bool
	Evicted   *Peer // non-nil if a conflicting prior record was evicted first
}

// OnJoin applies an inbound JOIN (spec.md §4.6).
func (t *PeerTable) OnJoin(j wire.Join, addr netip.AddrPort) JoinResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := j.ZID.String()
	if existing, ok := t.byZID[key]; ok {
		if existing.refresh(j, addr) {
			t.byAddr[addr] = existing
			return JoinResult{Peer: existing}
		}
		t.evictLocked(existing)
		np := newPeerFromJoin(j, addr)
		t.byZID[key] = np
		t.byAddr[addr] = np
		return JoinResult{Peer: np, IsNew: true, Evicted: existing}
	}

	np := newPeerFromJoin(j, addr)
	t.byZID[key] = np
	t.byAddr[addr] = np
	return JoinResult{Peer: np, IsNew: true}
}

// MarkReceived records that traffic other than a JOIN arrived from peer,
// satisfying the lease scheduler's "received" window check.
func (t *PeerTable) MarkReceived(p *Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.received = true
}

// Tick advances every peer's lease countdown by elapsed and evicts any peer
// whose next_lease has reached zero without traffic since the last window
// (spec.md §4.6 "Lease scheduler"). It returns the evicted peers so the
// caller can run their drop handlers (spec.md §4.6 "Eviction").
func (t *PeerTable) Tick(elapsed time.Duration) []*Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []*Peer
	for _, p := range t.byZID {
		p.nextLease -= elapsed
		if p.nextLease <= 0 {
			if !p.received {
				evicted = append(evicted, p)
				continue
			}
			p.nextLease = time.Duration(p.leaseMs) * time.Millisecond
		}
		p.received = false
	}
	for _, p := range evicted {
		t.evictLocked(p)
	}
	return evicted
}

func (t *PeerTable) evictLocked(p *Peer) {
	delete(t.byZID, p.ZID.String())
	delete(t.byAddr, p.Addr)
}

// Snapshot returns every currently known peer, for introspection/metrics.
func (t *PeerTable) Snapshot() []*Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Peer, 0, len(t.byZID))
	for _, p := range t.byZID {
		out = append(out, p)
	}
	return out
}
