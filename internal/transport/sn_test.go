package transport_test

import (
	"testing"

	"github.com/zenoh-pico-go/zenohpico/internal/transport"
)

// TestPrecedesBoundary checks spec.md §8 property 5: for all N >= 2 and
// a in [0,N): precedes(a, (a+1) mod N) = true and
// precedes(a, (a + floor(N/2) + 1) mod N) = false.
func TestPrecedesBoundary(t *testing.T) {
	t.Parallel()
	for _, n := range []uint64{2, 3, 4, 16, 255, 256} {
		for a := uint64(0); a < n; a++ {
			next := (a + 1) % n
			if !transport.Precedes(a, next, n) {
				t.Errorf("n=%d a=%d: precedes(a, a+1) = false, want true", n, a)
			}
			far := (a + n/2 + 1) % n
			if transport.Precedes(a, far, n) {
				t.Errorf("n=%d a=%d: precedes(a, a+N/2+1) = true, want false", n, a)
			}
		}
	}
}

func TestSNCounterTXWrapsAtResolution(t *testing.T) {
	t.Parallel()
	c := transport.NewSNCounter(4)
	for i, want := range []uint64{0, 1, 2, 3, 0, 1} {
		if got := c.NextTX(); got != want {
			t.Fatalf("iteration %d: NextTX() = %d, want %d", i, got, want)
		}
	}
}

func TestSNCounterSeedRXAcceptsInitialSN(t *testing.T) {
	t.Parallel()
	c := transport.NewSNCounter(16)
	c.SeedRX(5)
	if !c.AcceptRX(5) {
		t.Fatal("want initial sn accepted")
	}
	if c.LastRX() != 5 {
		t.Fatalf("LastRX() = %d, want 5", c.LastRX())
	}
}

// TestSNWrapAndStaleRejection mirrors spec.md §8 S5: sn_resolution = 16,
// frames 0..15 then 0,1 in order are all accepted; a stale frame with
// sn=14 injected after the second cycle's sn=1 is rejected and does not
// move sn_rx.
func TestSNWrapAndStaleRejection(t *testing.T) {
	t.Parallel()
	c := transport.NewSNCounter(16)
	c.SeedRX(15) // so the very first frame at sn=0 is accepted, like a fresh session

	var seq []uint64
	for i := uint64(0); i < 16; i++ {
		seq = append(seq, i)
	}
	seq = append(seq, 0, 1)

	for _, sn := range seq {
		if !c.AcceptRX(sn) {
			t.Fatalf("sn=%d: want accepted", sn)
		}
	}
	if c.LastRX() != 1 {
		t.Fatalf("LastRX() = %d, want 1", c.LastRX())
	}

	if c.AcceptRX(14) {
		t.Fatal("stale sn=14 after sn=1: want rejected")
	}
	if c.LastRX() != 1 {
		t.Fatalf("LastRX() after stale reject = %d, want unchanged 1", c.LastRX())
	}
}
