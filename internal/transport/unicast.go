package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/link"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// protocolVersion is the wire version this build speaks (spec.md §4.5
// "Mismatched versions ... end in CLOSE").
const protocolVersion = 0x09

// recvBufSize bounds a single inbound batch; large enough for any
// reasonable negotiated batch_size.
const recvBufSize = 128 * 1024

// Config carries the local parameters a Unicast transport proposes during
// the handshake (spec.md §4.5, §6).
type Config struct {
	ZID          wire.ZID
	WhatAmI      uint8
	SNResolution uint64
	BatchSize    uint16
	Lease        time.Duration
	Logger       *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Unicast is one established (or handshaking) point-to-point transport
// session atop a single internal/link.Link (spec.md §4.5). It owns the
// handshake FSM, per-reliability sequence-number counters and defrag
// buffers, and the lease/keepalive liveness check.
type Unicast struct {
	cfg  Config
	link link.Link

	mu          sync.Mutex
	state       State
	remoteZID   wire.ZID
	remoteVer   uint8
	lease       time.Duration
	snTxRel     *SNCounter
	snTxBE      *SNCounter
	snRxRel     *SNCounter
	snRxBE      *SNCounter
	defragRel   Defragmenter
	defragBE    Defragmenter
	leaseTimer  *LeaseTimer
	transmitted bool
}

// RemoteZID returns the peer's session id, valid once the handshake has
// completed.
func (u *Unicast) RemoteZID() wire.ZID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.remoteZID
}

// State returns the current handshake/liveness state.
func (u *Unicast) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func sendBatch(l link.Link, encode func(w *iobuf.WBuf) error) error {
	w := iobuf.NewExpandableWBuf(l.MTU())
	if err := encode(w); err != nil {
		return err
	}
	return l.Send(w.Bytes())
}

// recvMessage reads one batch off the link and decodes its leading
// transport message. framePayload holds the batch's remaining bytes when
// the message is a FRAME — a sequence of still-encoded network messages
// that wire.DecodeTransportMessage deliberately leaves undecoded (see its
// doc comment); it is nil for every other message id.
func recvMessage(l link.Link) (msg wire.TransportMessage, framePayload []byte, err error) {
	buf := make([]byte, recvBufSize)
	n, _, err := l.Recv(buf)
	if err != nil {
		return wire.TransportMessage{}, nil, fmt.Errorf("recv batch: %w", err)
	}
	z := iobuf.NewZBuf(buf[:n])
	msg, err = wire.DecodeTransportMessage(z)
	if err != nil {
		return wire.TransportMessage{}, nil, err
	}
	if msg.ID == wire.TransportIDFrame {
		framePayload = append([]byte(nil), z.Remaining()...)
	}
	return msg, framePayload, nil
}

// Dial performs the client side of the handshake over an already-open
// link (spec.md §4.5 "Client sends INIT ... server responds ... client
// sends OPEN ... server replies OPEN") and returns an Established
// Unicast transport, or an error if the peer rejects the proposal.
func Dial(ctx context.Context, l link.Link, cfg Config) (*Unicast, error) {
	if cfg.SNResolution == 0 {
		cfg.SNResolution = 1 << 28
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLeaseMs * time.Millisecond
	}
	u := &Unicast{cfg: cfg, link: l, state: StateInit}
	logger := cfg.logger()

	res := ApplyEvent(u.state, EventSendInit)
	u.state = res.NewState
	if err := sendBatch(l, func(w *iobuf.WBuf) error {
		return wire.EncodeInit(w, wire.Init{
			Version:      protocolVersion,
			WhatAmI:      cfg.WhatAmI,
			ZID:          cfg.ZID,
			SNResolution: cfg.SNResolution,
			BatchSize:    cfg.BatchSize,
		})
	}); err != nil {
		return nil, fmt.Errorf("send init: %w", zerr.ErrTxFailed)
	}

	msg, _, err := recvMessage(l)
	if err != nil {
		return nil, err
	}
	if msg.ID == wire.TransportIDClose {
		return nil, fmt.Errorf("peer closed handshake: reason %s: %w", msg.Close.Reason, zerr.ErrClosed)
	}
	if msg.ID != wire.TransportIDInit || !msg.Init.IsAck {
		return nil, fmt.Errorf("expected INIT ack, got id %d: %w", msg.ID, zerr.ErrMessageUnknown)
	}
	if err := u.validateInitAck(msg.Init); err != nil {
		u.abortHandshake(l, zerr.CloseReasonInvalid)
		return nil, err
	}

	res = ApplyEvent(u.state, EventRecvInitAck)
	u.state = res.NewState

	initialSN := uint64(0)
	if err := sendBatch(l, func(w *iobuf.WBuf) error {
		return wire.EncodeOpen(w, wire.Open{
			LeaseMs:   uint64(cfg.Lease / time.Millisecond),
			InitialSN: initialSN,
			Cookie:    msg.Init.Cookie,
		})
	}); err != nil {
		return nil, fmt.Errorf("send open: %w", zerr.ErrTxFailed)
	}

	openMsg, _, err := recvMessage(l)
	if err != nil {
		return nil, err
	}
	if openMsg.ID == wire.TransportIDClose {
		return nil, fmt.Errorf("peer closed handshake: reason %s: %w", openMsg.Close.Reason, zerr.ErrClosed)
	}
	if openMsg.ID != wire.TransportIDOpen || !openMsg.Open.IsAck {
		return nil, fmt.Errorf("expected OPEN ack, got id %d: %w", openMsg.ID, zerr.ErrMessageUnknown)
	}

	u.remoteZID = msg.Init.ZID
	u.remoteVer = msg.Init.Version
	u.lease = time.Duration(openMsg.Open.LeaseMs) * time.Millisecond
	u.installSNState(initialSN, openMsg.Open.InitialSN)

	res = ApplyEvent(u.state, EventRecvOpenAck)
	u.state = res.NewState
	u.leaseTimer = NewLeaseTimer(u.lease, time.Now())

	logger.Info("unicast transport established",
		slog.String("role", "client"),
		slog.String("remote_zid", u.remoteZID.String()),
		slog.Duration("lease", u.lease),
	)
	return u, nil
}

// AcceptUnicast performs the listener side of the handshake over an
// already-accepted link (spec.md §4.5), symmetric to Dial.
func AcceptUnicast(ctx context.Context, l link.Link, cfg Config) (*Unicast, error) {
	if cfg.SNResolution == 0 {
		cfg.SNResolution = 1 << 28
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLeaseMs * time.Millisecond
	}
	u := &Unicast{cfg: cfg, link: l, state: StateInit}
	logger := cfg.logger()

	initMsg, _, err := recvMessage(l)
	if err != nil {
		return nil, err
	}
	if initMsg.ID != wire.TransportIDInit || initMsg.Init.IsAck {
		return nil, fmt.Errorf("expected INIT proposal, got id %d: %w", initMsg.ID, zerr.ErrMessageUnknown)
	}
	if initMsg.Init.Version != protocolVersion {
		u.abortHandshake(l, zerr.CloseReasonUnsupported)
		return nil, fmt.Errorf("version mismatch %d != %d: %w", initMsg.Init.Version, protocolVersion, zerr.ErrVersionMismatch)
	}

	res := ApplyEvent(u.state, EventRecvInit)
	u.state = res.NewState

	cookie := newCookie(cfg.ZID, initMsg.Init.ZID)
	if err := sendBatch(l, func(w *iobuf.WBuf) error {
		return wire.EncodeInit(w, wire.Init{
			IsAck:        true,
			Version:      protocolVersion,
			WhatAmI:      cfg.WhatAmI,
			ZID:          cfg.ZID,
			SNResolution: cfg.SNResolution,
			BatchSize:    cfg.BatchSize,
			Cookie:       cookie,
		})
	}); err != nil {
		return nil, fmt.Errorf("send init ack: %w", zerr.ErrTxFailed)
	}

	openMsg, _, err := recvMessage(l)
	if err != nil {
		return nil, err
	}
	if openMsg.ID == wire.TransportIDClose {
		return nil, fmt.Errorf("peer closed handshake: reason %s: %w", openMsg.Close.Reason, zerr.ErrClosed)
	}
	if openMsg.ID != wire.TransportIDOpen || openMsg.Open.IsAck {
		return nil, fmt.Errorf("expected OPEN proposal, got id %d: %w", openMsg.ID, zerr.ErrMessageUnknown)
	}
	if !bytesEqual(openMsg.Open.Cookie, cookie) {
		u.abortHandshake(l, zerr.CloseReasonInvalid)
		return nil, fmt.Errorf("cookie mismatch: %w", zerr.ErrCookieMismatch)
	}

	res = ApplyEvent(u.state, EventRecvOpen)
	u.state = res.NewState

	initialSN := uint64(0)
	if err := sendBatch(l, func(w *iobuf.WBuf) error {
		return wire.EncodeOpen(w, wire.Open{
			IsAck:     true,
			LeaseMs:   uint64(cfg.Lease / time.Millisecond),
			InitialSN: initialSN,
		})
	}); err != nil {
		return nil, fmt.Errorf("send open ack: %w", zerr.ErrTxFailed)
	}

	u.remoteZID = initMsg.Init.ZID
	u.remoteVer = initMsg.Init.Version
	u.lease = time.Duration(openMsg.Open.LeaseMs) * time.Millisecond
	u.installSNState(initialSN, openMsg.Open.InitialSN)
	u.leaseTimer = NewLeaseTimer(u.lease, time.Now())

	logger.Info("unicast transport established",
		slog.String("role", "listener"),
		slog.String("remote_zid", u.remoteZID.String()),
		slog.Duration("lease", u.lease),
	)
	return u, nil
}

func (u *Unicast) validateInitAck(in wire.Init) error {
	if in.Version != protocolVersion {
		return fmt.Errorf("version mismatch %d != %d: %w", in.Version, protocolVersion, zerr.ErrVersionMismatch)
	}
	if in.SNResolution != u.cfg.SNResolution {
		return fmt.Errorf("sn_resolution mismatch %d != %d: %w", in.SNResolution, u.cfg.SNResolution, zerr.ErrSNResolutionMismatch)
	}
	if len(in.Cookie) == 0 {
		return fmt.Errorf("missing cookie in INIT ack: %w", zerr.ErrCookieMismatch)
	}
	return nil
}

func (u *Unicast) installSNState(localInitialSN, remoteInitialSN uint64) {
	u.snTxRel = NewSNCounter(u.cfg.SNResolution)
	u.snTxRel.SeedTX(localInitialSN)
	u.snTxBE = NewSNCounter(u.cfg.SNResolution)
	u.snTxBE.SeedTX(localInitialSN)
	u.snRxRel = NewSNCounter(u.cfg.SNResolution)
	u.snRxRel.SeedRX(remoteInitialSN)
	u.snRxBE = NewSNCounter(u.cfg.SNResolution)
	u.snRxBE.SeedRX(remoteInitialSN)
}

func (u *Unicast) abortHandshake(l link.Link, reason zerr.CloseReason) {
	_ = sendBatch(l, func(w *iobuf.WBuf) error {
		return wire.EncodeClose(w, wire.Close{Reason: reason})
	})
}

// Send wraps a single encoded network message in a FRAME and transmits it
// on the reliability channel's sequence-number stream (spec.md §4.5
// "acquire sn = sn_tx[r], increment modulo sn_resolution, wrap a batch of
// network messages into a FRAME, send").
func (u *Unicast) Send(reliability wire.Reliability, encode func(w *iobuf.WBuf) error) error {
	u.mu.Lock()
	counter := u.snTxBE
	if reliability == wire.ReliabilityReliable {
		counter = u.snTxRel
	}
	sn := counter.NextTX()
	u.mu.Unlock()

	err := sendBatch(u.link, func(w *iobuf.WBuf) error {
		if err := wire.EncodeFrameHeader(w, wire.FrameHeader{Reliability: reliability, SN: sn}); err != nil {
			return err
		}
		return encode(w)
	})
	if err == nil {
		u.mu.Lock()
		u.transmitted = true
		u.mu.Unlock()
	}
	return err
}

// SendKeepAlive transmits a standalone KEEP_ALIVE batch.
func (u *Unicast) SendKeepAlive() error {
	err := sendBatch(u.link, wire.EncodeKeepAlive)
	if err == nil {
		u.mu.Lock()
		u.transmitted = true
		u.mu.Unlock()
	}
	return err
}

// Close runs the local-close half of the handshake FSM and closes the
// underlying link.
func (u *Unicast) Close(reason zerr.CloseReason) error {
	u.mu.Lock()
	res := ApplyEvent(u.state, EventLocalClose)
	u.state = res.NewState
	u.mu.Unlock()

	_ = sendBatch(u.link, func(w *iobuf.WBuf) error {
		return wire.EncodeClose(w, wire.Close{Reason: reason})
	})

	u.mu.Lock()
	res = ApplyEvent(u.state, EventCloseComplete)
	u.state = res.NewState
	u.mu.Unlock()

	return u.link.Close()
}

// Handler receives frame payloads reassembled off this transport. on is
// invoked with the raw network-message-layer bytes of one FRAME (the
// caller — internal/session's dispatch loop — decodes individual
// wire.NetworkMessage values from it); onClosed is invoked once, with the
// reason the transport went down.
type Handler struct {
	OnFramePayload func(reliability wire.Reliability, payload []byte)
	OnClosed       func(reason zerr.CloseReason)
}

// Run drives the receive loop and the keepalive/lease ticker until ctx is
// canceled or the transport closes, mirroring cmd/gobfd/main.go's
// errgroup-supervised goroutine pairing.
func (u *Unicast) Run(ctx context.Context, h Handler) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return u.recvLoop(gCtx, h) })
	g.Go(func() error { return u.keepaliveLoop(gCtx, h) })

	err := g.Wait()
	if h.OnClosed != nil {
		u.mu.Lock()
		state := u.state
		u.mu.Unlock()
		if state != StateClosed {
			h.OnClosed(zerr.CloseReasonGeneric)
		}
	}
	return err
}

func (u *Unicast) recvLoop(ctx context.Context, h Handler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, framePayload, err := recvMessage(u.link)
		if err != nil {
			return err
		}

		u.mu.Lock()
		if u.leaseTimer != nil {
			u.leaseTimer.Touch(time.Now())
		}
		u.mu.Unlock()

		switch msg.ID {
		case wire.TransportIDClose:
			u.mu.Lock()
			res := ApplyEvent(u.state, EventRecvClose)
			u.state = res.NewState
			u.mu.Unlock()
			if h.OnClosed != nil {
				h.OnClosed(msg.Close.Reason)
			}
			return nil
		case wire.TransportIDKeepAlive:
			continue
		case wire.TransportIDFrame:
			u.handleFrame(msg.Frame, framePayload, h)
		case wire.TransportIDFragment:
			u.handleFragment(msg, h)
		default:
			// Scout/Hello/Init/Open/Join on an established unicast link are
			// protocol errors from this peer; ignore rather than tear down
			// a working session over a stray message.
		}
	}
}

// handleFrame applies spec.md §4.5's inbound FRAME acceptance rule: accept
// iff precedes(sn_rx[r], sn) holds, else drop the frame and reset that
// reliability's defrag buffer so a later FRAGMENT can't stitch across the
// gap (spec.md §8 S5).
func (u *Unicast) handleFrame(fh wire.FrameHeader, payload []byte, h Handler) {
	u.mu.Lock()
	counter := u.snRxBE
	defrag := &u.defragBE
	if fh.Reliability == wire.ReliabilityReliable {
		counter = u.snRxRel
		defrag = &u.defragRel
	}
	accepted := counter.AcceptRX(fh.SN)
	if !accepted {
		defrag.Reset()
	}
	u.mu.Unlock()
	if !accepted {
		return
	}
	if h.OnFramePayload != nil {
		h.OnFramePayload(fh.Reliability, payload)
	}
}

func (u *Unicast) handleFragment(msg wire.TransportMessage, h Handler) {
	u.mu.Lock()
	counter := u.snRxBE
	defrag := &u.defragBE
	if msg.Fragment.Reliability == wire.ReliabilityReliable {
		counter = u.snRxRel
		defrag = &u.defragRel
	}
	accepted := counter.AcceptRX(msg.Fragment.SN)
	if !accepted {
		defrag.Reset()
		u.mu.Unlock()
		return
	}
	full, err := defrag.Push(msg.Fragment.FragmentPayload, msg.Fragment.More)
	u.mu.Unlock()
	if err != nil || full == nil {
		return
	}
	if h.OnFramePayload != nil {
		h.OnFramePayload(msg.Fragment.Reliability, full)
	}
}

func (u *Unicast) keepaliveLoop(ctx context.Context, h Handler) error {
	u.mu.Lock()
	lease := u.lease
	u.mu.Unlock()
	if lease <= 0 {
		lease = defaultLeaseMs * time.Millisecond
	}

	ticker := time.NewTicker(KeepaliveInterval(lease))
	defer ticker.Stop()
	checkTicker := time.NewTicker(lease / 2)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			u.mu.Lock()
			idle := !u.transmitted
			u.transmitted = false
			u.mu.Unlock()
			if idle {
				if err := u.SendKeepAlive(); err != nil {
					return fmt.Errorf("send keepalive: %w", err)
				}
				// SendKeepAlive itself sets transmitted; clear it so an idle
				// link still looks idle next tick instead of never going
				// quiet again.
				u.mu.Lock()
				u.transmitted = false
				u.mu.Unlock()
			}
		case <-checkTicker.C:
			u.mu.Lock()
			expired := u.leaseTimer != nil && u.leaseTimer.Expired(time.Now())
			if expired {
				res := ApplyEvent(u.state, EventLeaseExpired)
				u.state = res.NewState
			}
			u.mu.Unlock()
			if expired {
				if h.OnClosed != nil {
					h.OnClosed(zerr.CloseReasonExpired)
				}
				return fmt.Errorf("lease expired: %w", zerr.ErrExpired)
			}
		}
	}
}

func newCookie(local, remote wire.ZID) []byte {
	h := make([]byte, 0, len(local.Bytes())+len(remote.Bytes())+8)
	h = append(h, local.Bytes()...)
	h = append(h, remote.Bytes()...)
	now := make([]byte, 8)
	t := uint64(time.Now().UnixNano())
	for i := range now {
		now[i] = byte(t >> (8 * i))
	}
	return append(h, now...)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
