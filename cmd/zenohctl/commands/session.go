package commands

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/zenoh-pico-go/zenohpico/internal/session"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
)

// openSession dials connectAddr and returns a short-lived *session.Session,
// mirroring cmd/gobfdctl's client-per-invocation shape (there: a
// ConnectRPC client against a long-lived daemon; here: a direct unicast
// session dial, since zenoh-pico has no separate control-plane daemon to
// proxy through).
func openSession(ctx context.Context) (*session.Session, error) {
	zid, err := randomZID()
	if err != nil {
		return nil, fmt.Errorf("generate zid: %w", err)
	}

	sessMode := session.ModeClient
	if mode == "peer" {
		sessMode = session.ModePeer
	}

	sess, err := session.Open(ctx, session.Config{
		Connect:      connectAddr,
		Mode:         sessMode,
		ZID:          zid,
		SNResolution: 1 << 32,
		BatchSize:    2048,
		Logger:       slog.New(slog.DiscardHandler),
	})
	if err != nil {
		return nil, fmt.Errorf("open session to %s: %w", connectAddr, err)
	}
	return sess, nil
}

func randomZID() (wire.ZID, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return wire.ZID{}, fmt.Errorf("read random bytes: %w", err)
	}
	return wire.NewZID(buf[:]), nil
}
