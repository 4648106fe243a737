package iobuf_test

import (
	"bytes"
	"testing"

	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
)

// TestZBufReadExact verifies basic cursor advancement and short-read
// detection (spec.md §4.3).
func TestZBufReadExact(t *testing.T) {
	t.Parallel()

	z := iobuf.NewZBuf([]byte("hello world"))

	got, err := z.ReadExact(5)
	if err != nil {
		t.Fatalf("ReadExact(5): unexpected error: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadExact(5) = %q, want %q", got, "hello")
	}
	if z.Len() != 6 {
		t.Errorf("Len() = %d, want 6", z.Len())
	}

	if _, err := z.ReadExact(100); err == nil {
		t.Error("ReadExact(100) on short buffer: expected error, got none")
	}
}

// TestZBufCompact verifies that Compact reclaims the read prefix.
func TestZBufCompact(t *testing.T) {
	t.Parallel()

	z := iobuf.NewZBuf([]byte("abcdef"))
	if _, err := z.ReadExact(3); err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	z.Compact()

	if z.Len() != 3 {
		t.Fatalf("Len() after compact = %d, want 3", z.Len())
	}
	if !bytes.Equal(z.Remaining(), []byte("def")) {
		t.Errorf("Remaining() after compact = %q, want %q", z.Remaining(), "def")
	}
}

// TestFixedWBufFull verifies that a fixed WBuf reports ErrFull on overflow
// and never grows past its declared capacity (used for single-MTU datagram
// batches, spec.md §4.3).
func TestFixedWBufFull(t *testing.T) {
	t.Parallel()

	w := iobuf.NewFixedWBuf(4)
	if err := w.WriteBytes([]byte("ab")); err != nil {
		t.Fatalf("WriteBytes: unexpected error: %v", err)
	}
	if err := w.WriteBytes([]byte("cd")); err != nil {
		t.Fatalf("WriteBytes: unexpected error: %v", err)
	}
	if err := w.WriteBytes([]byte("e")); err == nil {
		t.Error("WriteBytes past capacity: expected ErrFull, got none")
	}
}

// TestExpandableWBufGrows verifies that an expandable WBuf accepts writes
// past its initial capacity hint (used for outbound fragmentation staging,
// spec.md §4.6).
func TestExpandableWBufGrows(t *testing.T) {
	t.Parallel()

	w := iobuf.NewExpandableWBuf(2)
	big := bytes.Repeat([]byte{0x42}, 1024)

	if err := w.WriteBytes(big); err != nil {
		t.Fatalf("WriteBytes: unexpected error: %v", err)
	}
	if w.Len() != len(big) {
		t.Errorf("Len() = %d, want %d", w.Len(), len(big))
	}
}

// TestSiphon verifies that Siphon moves bytes from a ZBuf into a WBuf
// without exceeding available input.
func TestSiphon(t *testing.T) {
	t.Parallel()

	z := iobuf.NewZBuf([]byte("0123456789"))
	w := iobuf.NewExpandableWBuf(0)

	n, err := iobuf.Siphon(w, z, 4)
	if err != nil {
		t.Fatalf("Siphon: unexpected error: %v", err)
	}
	if n != 4 || string(w.Bytes()) != "0123" {
		t.Errorf("Siphon moved %q (n=%d), want \"0123\" (n=4)", w.Bytes(), n)
	}

	// Requesting more than remains should siphon only what's left.
	n, err = iobuf.Siphon(w, z, 100)
	if err != nil {
		t.Fatalf("Siphon: unexpected error: %v", err)
	}
	if n != 6 {
		t.Errorf("Siphon(100) on 6 remaining bytes moved n=%d, want 6", n)
	}
}
