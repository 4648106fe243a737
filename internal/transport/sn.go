package transport

// SNCounter tracks a per-(peer, reliability) sequence number ring of size
// Resolution (spec.md §3 "Per-peer transport state", §4.5 "Sequence
// numbers & frames"). Zero value is not usable; construct with NewSNCounter.
type SNCounter struct {
	resolution uint64
	tx         uint64 // next value Next will hand out
	rx         uint64 // last accepted rx sn
	rxValid    bool   // false until the first frame has been accepted
}

// NewSNCounter builds a counter for a ring of the given resolution
// (spec.md §3: sn lives in [0, sn_resolution)). resolution must be > 0;
// a zero resolution is treated as 1 to avoid a divide-by-zero in Precedes.
func NewSNCounter(resolution uint64) *SNCounter {
	if resolution == 0 {
		resolution = 1
	}
	return &SNCounter{resolution: resolution}
}

// SeedRX installs the receive side's initial sn, per spec.md §4.5's
// handshake rule `sn_rx = (initial_sn - 1) mod N`: the counter is
// considered "primed" so the very first inbound frame at initial_sn
// satisfies Precedes.
func (c *SNCounter) SeedRX(initialSN uint64) {
	c.rx = (initialSN + c.resolution - 1) % c.resolution
	c.rxValid = true
}

// SeedTX installs the local initial tx sn (the value this side advertised
// in its OPEN/JOIN as initial_sn / next_sns).
func (c *SNCounter) SeedTX(initialSN uint64) {
	c.tx = initialSN % c.resolution
}

// NextTX returns the next outbound sn for this channel and advances the
// counter modulo the resolution (spec.md §4.5: "acquire sn = sn_tx[r],
// increment modulo sn_resolution").
func (c *SNCounter) NextTX() uint64 {
	sn := c.tx
	c.tx = (c.tx + 1) % c.resolution
	return sn
}

// Precedes reports whether b comes after a in the ring of size N, per
// spec.md §3: `precedes(a,b) = (b - a) mod N < N/2`.
func Precedes(a, b, n uint64) bool {
	if n == 0 {
		n = 1
	}
	diff := (b + n - a%n) % n
	return diff < n/2
}

// AcceptRX applies spec.md §4.5's inbound acceptance rule: a frame at sn
// is accepted iff precedes(sn_rx, sn) holds, in which case sn_rx is
// advanced to sn and AcceptRX returns true. Otherwise sn_rx is left
// untouched and AcceptRX returns false; the caller must reset that
// reliability's defrag buffer (spec.md §4.5, §8 S5) to avoid stitching
// fragments across the rejected gap.
func (c *SNCounter) AcceptRX(sn uint64) bool {
	if !c.rxValid {
		c.rx = sn
		c.rxValid = true
		return true
	}
	if !Precedes(c.rx, sn, c.resolution) {
		return false
	}
	c.rx = sn
	return true
}

// LastRX returns the last accepted receive sn, for JOIN's next_sns
// advertisement and tests.
func (c *SNCounter) LastRX() uint64 { return c.rx }
