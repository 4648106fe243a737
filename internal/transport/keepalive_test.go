package transport_test

import (
	"testing"
	"time"

	"github.com/zenoh-pico-go/zenohpico/internal/transport"
)

func TestKeepaliveIntervalFractionOfLease(t *testing.T) {
	t.Parallel()
	got := transport.KeepaliveInterval(4 * time.Second)
	want := 1 * time.Second
	if got != want {
		t.Fatalf("KeepaliveInterval(4s) = %v, want %v", got, want)
	}
}

func TestLeaseTimerExpiry(t *testing.T) {
	t.Parallel()
	now := time.Now()
	lt := transport.NewLeaseTimer(100*time.Millisecond, now)

	if lt.Expired(now.Add(50 * time.Millisecond)) {
		t.Fatal("want not expired within lease")
	}
	if !lt.Expired(now.Add(200 * time.Millisecond)) {
		t.Fatal("want expired past lease")
	}

	lt.Touch(now.Add(150 * time.Millisecond))
	if lt.Expired(now.Add(200 * time.Millisecond)) {
		t.Fatal("want not expired shortly after Touch")
	}
}
