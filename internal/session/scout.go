package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/link"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
)

// ScoutConfig parameterizes a scout() call (spec.md §4.9).
type ScoutConfig struct {
	Locator     string // scouting multicast locator, e.g. "udp/224.0.0.224:7446"
	What        uint8
	ZID         wire.ZID
	Timeout     time.Duration
	ExitOnFirst bool
	Logger      *slog.Logger
}

// Hello is one discovered peer (spec.md §4.9 "HELLO records (zid,
// whatami, version, locators)").
type Hello struct {
	ZID      wire.ZID
	WhatAmI  uint8
	Version  uint8
	Locators []string
}

// Scout opens a datagram link to cfg.Locator, emits one SCOUT, and
// collects HELLO replies until cfg.Timeout elapses or, if
// cfg.ExitOnFirst, one reply arrives (spec.md §4.9). Malformed datagrams
// are dropped and logged, never aborting the scan. Grounded on
// internal/netio/listener.go's ctx-checked receive loop that silently
// drops packets failing validation and keeps reading.
func Scout(ctx context.Context, cfg ScoutConfig) ([]Hello, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loc, err := link.ParseLocator(cfg.Locator)
	if err != nil {
		return nil, fmt.Errorf("scout: %w", err)
	}

	scoutCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	l, err := link.Open(scoutCtx, loc)
	if err != nil {
		return nil, fmt.Errorf("scout: open %s: %w", cfg.Locator, err)
	}
	defer l.Close()

	// recvLoop's blocking Recv has no deadline of its own; closing the
	// link from a ctx.Done() watcher is how every other blocking receive
	// in this package (internal/transport.Unicast/Multicast.Run) gets
	// unblocked on cancellation.
	go func() {
		<-scoutCtx.Done()
		_ = l.Close()
	}()

	w := iobuf.NewExpandableWBuf(32)
	if err := wire.EncodeScout(w, wire.Scout{What: cfg.What, ZID: cfg.ZID}); err != nil {
		return nil, fmt.Errorf("scout: encode: %w", err)
	}
	if err := l.Send(w.Bytes()); err != nil {
		return nil, fmt.Errorf("scout: send: %w", err)
	}

	var hellos []Hello
	buf := make([]byte, l.MTU())
	for {
		n, _, err := l.Recv(buf)
		if err != nil {
			if scoutCtx.Err() != nil {
				return hellos, nil
			}
			return hellos, fmt.Errorf("scout: recv: %w", err)
		}

		z := iobuf.NewZBuf(append([]byte(nil), buf[:n]...))
		msg, err := wire.DecodeTransportMessage(z)
		if err != nil {
			logger.Warn("scout: dropping malformed datagram", "err", err)
			continue
		}
		if msg.ID != wire.TransportIDHello {
			continue
		}

		hellos = append(hellos, Hello{
			ZID:      msg.Hello.ZID,
			WhatAmI:  msg.Hello.WhatAmI,
			Version:  msg.Hello.Version,
			Locators: msg.Hello.Locators,
		})
		if cfg.ExitOnFirst {
			return hellos, nil
		}
	}
}
