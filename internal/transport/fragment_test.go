package transport_test

import (
	"bytes"
	"testing"

	"github.com/zenoh-pico-go/zenohpico/internal/transport"
)

func TestDefragmenterReassemblesInOrder(t *testing.T) {
	t.Parallel()
	var d transport.Defragmenter

	if full, err := d.Push([]byte("hel"), true); err != nil || full != nil {
		t.Fatalf("first push: full=%v err=%v", full, err)
	}
	if !d.Pending() {
		t.Fatal("want Pending() = true mid-reassembly")
	}
	if full, err := d.Push([]byte("lo"), true); err != nil || full != nil {
		t.Fatalf("second push: full=%v err=%v", full, err)
	}
	full, err := d.Push([]byte(" world"), false)
	if err != nil {
		t.Fatalf("final push: %v", err)
	}
	if !bytes.Equal(full, []byte("hello world")) {
		t.Fatalf("reassembled = %q, want %q", full, "hello world")
	}
	if d.Pending() {
		t.Fatal("want Pending() = false after completion")
	}
}

func TestDefragmenterResetDropsPartial(t *testing.T) {
	t.Parallel()
	var d transport.Defragmenter
	if _, err := d.Push([]byte("partial"), true); err != nil {
		t.Fatalf("push: %v", err)
	}
	d.Reset()
	if d.Pending() {
		t.Fatal("want Pending() = false after Reset")
	}
	full, err := d.Push([]byte("fresh"), false)
	if err != nil {
		t.Fatalf("push after reset: %v", err)
	}
	if !bytes.Equal(full, []byte("fresh")) {
		t.Fatalf("reassembled = %q, want %q", full, "fresh")
	}
}
