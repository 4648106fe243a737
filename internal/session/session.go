package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/keyexpr"
	"github.com/zenoh-pico-go/zenohpico/internal/link"
	"github.com/zenoh-pico-go/zenohpico/internal/transport"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// Mode is the session's role (spec.md §6 "mode: client | peer").
type Mode uint8

// Session modes.
const (
	ModeClient Mode = iota
	ModePeer
)

// whatAmI maps a Mode onto spec.md §6's scouting.what bitmask
// (router=1, peer=2, client=4); this session implementation only ever
// dials as peer or client.
func whatAmI(m Mode) uint8 {
	if m == ModePeer {
		return 2
	}
	return 4
}

// CongestionControl selects how Put/Publisher behaves when the outbound
// path is momentarily busy (SPEC_FULL.md supplemented feature 3, grounded
// on zenoh-pico's src/transport/common/tx.c Block/Drop policy).
type CongestionControl uint8

// Congestion control policies.
const (
	CongestionControlBlock CongestionControl = iota
	CongestionControlDrop
)

// Config opens a unicast Session (spec.md §6).
type Config struct {
	Connect      string // single "connect" endpoint, e.g. "tcp/10.0.0.1:7447"
	Mode         Mode
	ZID          wire.ZID
	SNResolution uint64
	BatchSize    uint16
	Lease        time.Duration
	// SendTimeout bounds how long a CongestionControlBlock Put waits for
	// the outbound gate before giving up.
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// Session is one open zenoh-pico session over a single unicast transport
// (spec.md §4.5, §4.7, §4.8). It owns the entity registries, the
// dispatcher that routes inbound traffic against them, and the
// transport's read/lease tasks. Grounded on cmd/gobfd/main.go's
// errgroup-supervised daemon shape, generalized from a fixed BFD session
// pair to a user-driven pub/sub/query session.
type Session struct {
	cfg    Config
	logger *slog.Logger

	reg        *Registry
	transport  *transport.Unicast
	dispatcher *Dispatcher

	// txGate implements the congestion-control policy: a buffered
	// channel of size 1 used as a try-lock. Held only across the
	// synchronous transport.Send call, never across link.send's actual
	// blocking IO beyond that (spec.md §5 "the send path takes tx alone;
	// it does not hold inner across link.send").
	txGate chan struct{}

	closed atomic.Bool

	runGroup   *errgroup.Group
	runCancel  context.CancelFunc
	matchingMu sync.Mutex
	matching   []*matchingListener
}

type matchingListener struct {
	key      keyexpr.KE
	callback func(hasMatch bool)
	count    int
	lastHas  bool
}

// Open dials cfg.Connect, performs the unicast handshake, and starts the
// session's read and lease tasks (spec.md §5 "minimum thread set per
// session: one read task per link ... one lease/keepalive task").
func Open(ctx context.Context, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}

	loc, err := link.ParseLocator(cfg.Connect)
	if err != nil {
		return nil, fmt.Errorf("session open: %w", err)
	}
	l, err := link.Open(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("session open: %w", err)
	}

	u, err := transport.Dial(ctx, l, transport.Config{
		ZID:          cfg.ZID,
		WhatAmI:      whatAmI(cfg.Mode),
		SNResolution: cfg.SNResolution,
		BatchSize:    cfg.BatchSize,
		Lease:        cfg.Lease,
		Logger:       logger,
	})
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("session open: %w", err)
	}

	reg := NewRegistry()
	peerID := u.RemoteZID().String()
	s := &Session{
		cfg:        cfg,
		logger:     logger,
		reg:        reg,
		transport:  u,
		dispatcher: NewDispatcher(reg, peerID, u, logger),
		txGate:     make(chan struct{}, 1),
	}
	s.txGate <- struct{}{}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gCtx := errgroup.WithContext(runCtx)
	s.runGroup = g
	s.runCancel = cancel

	g.Go(func() error {
		return u.Run(gCtx, transport.Handler{
			OnFramePayload: func(_ wire.Reliability, payload []byte) {
				if err := s.dispatcher.Dispatch(payload); err != nil {
					logger.Warn("session: dispatch failed", "err", err)
				}
			},
			OnClosed: func(reason zerr.CloseReason) {
				s.handleTransportClosed(reason)
			},
		})
	})

	return s, nil
}

// handleTransportClosed cancels every outstanding pending query with its
// drop handler (spec.md §5 "closing the session cancels all outstanding
// pending queries").
func (s *Session) handleTransportClosed(reason zerr.CloseReason) {
	s.closed.Store(true)
	for _, p := range s.reg.AllPendingQueries() {
		taken := s.reg.TakePendingQuery(p.RequestID)
		if taken != nil && taken.Drop != nil {
			taken.Drop()
		}
	}
	s.logger.Info("session: transport closed", "reason", reason.String())
}

// Close terminates the read and lease tasks and closes the underlying
// transport, blocking until both stop (spec.md §5).
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.transport.Close(zerr.CloseReasonGeneric)
	s.runCancel()
	_ = s.runGroup.Wait()

	for _, p := range s.reg.AllPendingQueries() {
		taken := s.reg.TakePendingQuery(p.RequestID)
		if taken != nil && taken.Drop != nil {
			taken.Drop()
		}
	}
	return err
}

// Stats returns a point-in-time snapshot of this session's registry entity
// counts, for operational introspection (internal/server).
func (s *Session) Stats() Stats {
	return s.reg.Stats()
}

// RemoteZID returns the ZID of the peer this session is connected to.
func (s *Session) RemoteZID() wire.ZID {
	return s.transport.RemoteZID()
}

func (s *Session) checkOpen() error {
	if s.closed.Load() {
		return zerr.ErrClosed
	}
	return nil
}

// send applies cc's policy around one framed Send call (SPEC_FULL.md
// supplemented feature 3).
func (s *Session) send(reliability wire.Reliability, cc CongestionControl, encode func(w *iobuf.WBuf) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if cc == CongestionControlDrop {
		select {
		case <-s.txGate:
		default:
			return zerr.ErrFull
		}
	} else {
		timer := time.NewTimer(s.cfg.SendTimeout)
		defer timer.Stop()
		select {
		case <-s.txGate:
		case <-timer.C:
			return fmt.Errorf("send: tx gate timeout: %w", zerr.ErrTxFailed)
		}
	}
	defer func() { s.txGate <- struct{}{} }()

	return s.transport.Send(reliability, encode)
}

// Put publishes a PUT sample on key (spec.md §4.8 PUSH path, outbound
// direction).
func (s *Session) Put(key string, payload []byte, opts ...PutOption) error {
	return s.publish(key, wire.SampleKindPut, payload, opts...)
}

// Delete publishes a DELETE sample on key.
func (s *Session) Delete(key string, opts ...PutOption) error {
	return s.publish(key, wire.SampleKindDelete, nil, opts...)
}

// PutOption configures a Put/Delete call.
type PutOption func(*putConfig)

type putConfig struct {
	encoding   *wire.Encoding
	attachment []byte
	cc         CongestionControl
}

// WithEncoding sets the sample's encoding.
func WithEncoding(enc wire.Encoding) PutOption { return func(c *putConfig) { c.encoding = &enc } }

// WithAttachment attaches an opaque byte sequence to the sample
// (SPEC_FULL.md supplemented feature 4).
func WithAttachment(b []byte) PutOption { return func(c *putConfig) { c.attachment = b } }

// WithCongestionControl selects Block (default) or Drop behavior
// (SPEC_FULL.md supplemented feature 3).
func WithCongestionControl(cc CongestionControl) PutOption {
	return func(c *putConfig) { c.cc = cc }
}

func (s *Session) publish(key string, kind wire.SampleKind, payload []byte, opts ...PutOption) error {
	if !keyexpr.IsCanonical(key) {
		return zerr.ErrKeyexprNotCanonical
	}
	var pc putConfig
	for _, o := range opts {
		o(&pc)
	}
	return s.send(wire.ReliabilityReliable, pc.cc, func(w *iobuf.WBuf) error {
		return wire.EncodeNetworkMessage(w, wire.NetworkMessage{
			ID: wire.NetworkIDPush,
			Push: wire.Push{
				Key:        wire.WireKeyExpr{Suffix: key},
				Kind:       kind,
				Payload:    payload,
				Encoding:   pc.encoding,
				Attachment: pc.attachment,
			},
		})
	})
}

// DeclareSubscriber registers cb to be invoked for every sample whose key
// intersects key (spec.md §4.7, §4.8). The returned id is passed to
// Undeclare to remove it.
func (s *Session) DeclareSubscriber(key string, cb func(Sample)) (uint64, error) {
	return s.declareSubscription(key, SubscriberRegular, cb)
}

// DeclareLivelinessSubscriber registers cb against the liveliness token
// namespace (SPEC_FULL.md supplemented feature 1).
func (s *Session) DeclareLivelinessSubscriber(key string, cb func(Sample)) (uint64, error) {
	return s.declareSubscription(key, SubscriberLiveliness, cb)
}

func (s *Session) declareSubscription(key string, kind SubscriberKind, cb func(Sample)) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	ke, err := keyexpr.Canonize(key)
	if err != nil {
		return 0, err
	}
	id := s.reg.NextLocalID()
	s.reg.AddSubscription(&Subscription{ID: id, Key: ke, Kind: kind, Callback: cb})

	if err := s.send(wire.ReliabilityReliable, CongestionControlBlock, func(w *iobuf.WBuf) error {
		return wire.EncodeNetworkMessage(w, wire.NetworkMessage{
			ID: wire.NetworkIDDeclare,
			Declare: wire.Declare{
				Body: wire.Declaration{ID: wire.DeclIDSubscriber, EntityID: id, Key: wire.WireKeyExpr{Suffix: key}},
			},
		})
	}); err != nil {
		s.reg.RemoveSubscription(id)
		return 0, err
	}
	return id, nil
}

// UndeclareSubscriber removes a subscription previously returned by
// DeclareSubscriber/DeclareLivelinessSubscriber and tells the peer.
func (s *Session) UndeclareSubscriber(id uint64) error {
	sub := s.reg.RemoveSubscription(id)
	if sub == nil {
		return zerr.ErrEntityUnknown
	}
	if sub.Drop != nil {
		sub.Drop()
	}
	return s.send(wire.ReliabilityReliable, CongestionControlBlock, func(w *iobuf.WBuf) error {
		return wire.EncodeNetworkMessage(w, wire.NetworkMessage{
			ID: wire.NetworkIDDeclare,
			Declare: wire.Declare{
				Body: wire.Declaration{ID: wire.DeclIDUndeclSubscriber, EntityID: id},
			},
		})
	})
}

// DeclareQueryable registers cb to answer REQUESTs whose key intersects
// key (spec.md §4.7, §4.8).
func (s *Session) DeclareQueryable(key string, complete bool, cb func(Query)) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	ke, err := keyexpr.Canonize(key)
	if err != nil {
		return 0, err
	}
	id := s.reg.NextLocalID()
	s.reg.AddQueryable(&Queryable{ID: id, Key: ke, Complete: complete, Callback: cb})

	if err := s.send(wire.ReliabilityReliable, CongestionControlBlock, func(w *iobuf.WBuf) error {
		return wire.EncodeNetworkMessage(w, wire.NetworkMessage{
			ID: wire.NetworkIDDeclare,
			Declare: wire.Declare{
				Body: wire.Declaration{ID: wire.DeclIDQueryable, EntityID: id, Key: wire.WireKeyExpr{Suffix: key}, Complete: complete, HasComplete: true},
			},
		})
	}); err != nil {
		s.reg.RemoveQueryable(id)
		return 0, err
	}
	return id, nil
}

// UndeclareQueryable removes a queryable previously returned by
// DeclareQueryable.
func (s *Session) UndeclareQueryable(id uint64) error {
	q := s.reg.RemoveQueryable(id)
	if q == nil {
		return zerr.ErrEntityUnknown
	}
	if q.Drop != nil {
		q.Drop()
	}
	return s.send(wire.ReliabilityReliable, CongestionControlBlock, func(w *iobuf.WBuf) error {
		return wire.EncodeNetworkMessage(w, wire.NetworkMessage{
			ID: wire.NetworkIDDeclare,
			Declare: wire.Declare{
				Body: wire.Declaration{ID: wire.DeclIDUndeclQueryable, EntityID: id},
			},
		})
	})
}

// DeclareLivelinessToken announces key as alive via DECL_TOKEN
// (SPEC_FULL.md supplemented feature 1).
func (s *Session) DeclareLivelinessToken(key string) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	ke, err := keyexpr.Canonize(key)
	if err != nil {
		return 0, err
	}
	id := s.reg.NextLocalID()
	s.reg.AddToken(&Token{ID: id, Key: ke})

	if err := s.send(wire.ReliabilityReliable, CongestionControlBlock, func(w *iobuf.WBuf) error {
		return wire.EncodeNetworkMessage(w, wire.NetworkMessage{
			ID: wire.NetworkIDDeclare,
			Declare: wire.Declare{
				Body: wire.Declaration{ID: wire.DeclIDToken, EntityID: id, Key: wire.WireKeyExpr{Suffix: key}},
			},
		})
	}); err != nil {
		s.reg.RemoveToken(id)
		return 0, err
	}
	return id, nil
}

// UndeclareLivelinessToken withdraws a token previously returned by
// DeclareLivelinessToken.
func (s *Session) UndeclareLivelinessToken(id uint64) error {
	t := s.reg.RemoveToken(id)
	if t == nil {
		return zerr.ErrEntityUnknown
	}
	return s.send(wire.ReliabilityReliable, CongestionControlBlock, func(w *iobuf.WBuf) error {
		return wire.EncodeNetworkMessage(w, wire.NetworkMessage{
			ID: wire.NetworkIDDeclare,
			Declare: wire.Declare{
				Body: wire.Declaration{ID: wire.DeclIDUndeclToken, EntityID: id},
			},
		})
	})
}

// GetOption configures a Get call.
type GetOption func(*getConfig)

type getConfig struct {
	consolidation uint8
	timeout       time.Duration
	payload       []byte
}

// WithConsolidation sets the query's consolidation mode (wire value,
// spec.md §4.2 REQUEST "consolidation").
func WithConsolidation(mode uint8) GetOption { return func(c *getConfig) { c.consolidation = mode } }

// WithGetTimeout bounds how long Get waits for replies before invoking cb
// with a final no-sample notification (spec.md §5 "pending get(timeout)
// end deterministically at their deadline").
func WithGetTimeout(d time.Duration) GetOption { return func(c *getConfig) { c.timeout = d } }

// WithQueryPayload attaches a payload to the outgoing QUERY.
func WithQueryPayload(b []byte) GetOption { return func(c *getConfig) { c.payload = b } }

// Get issues a query on key and invokes cb for every reply plus one final
// call with ok=false once replies are exhausted or the deadline passes
// (spec.md §4.8 REQUEST/RESPONSE/RESPONSE_FINAL, §5 cancellation).
func (s *Session) Get(key string, cb func(sample Sample, ok bool), opts ...GetOption) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !keyexpr.IsCanonical(key) {
		return zerr.ErrKeyexprNotCanonical
	}
	cfg := getConfig{timeout: 10 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	id := s.reg.NextRequestID()
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	s.reg.AddPendingQuery(&PendingQuery{
		RequestID:     id,
		Key:           key,
		Consolidation: cfg.consolidation,
		Callback: func(sample Sample, isErr bool) {
			if !isErr {
				cb(sample, true)
			}
		},
		Drop: func() {
			cb(Sample{}, false)
			closeDone()
		},
	})

	if err := s.send(wire.ReliabilityReliable, CongestionControlBlock, func(w *iobuf.WBuf) error {
		return wire.EncodeNetworkMessage(w, wire.NetworkMessage{
			ID: wire.NetworkIDRequest,
			Request: wire.Request{
				RequestID:     id,
				Key:           wire.WireKeyExpr{Suffix: key},
				Payload:       cfg.payload,
				Consolidation: cfg.consolidation,
			},
		})
	}); err != nil {
		s.reg.TakePendingQuery(id)
		return err
	}

	go func() {
		timer := time.NewTimer(cfg.timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			if taken := s.reg.TakePendingQuery(id); taken != nil && taken.Drop != nil {
				taken.Drop()
			}
		}
	}()
	return nil
}

// MatchingListener fires cb whenever the set of subscribers/queryables
// matching key transitions between empty and non-empty (SPEC_FULL.md
// supplemented feature 2). It is driven off the same interest mechanism
// C8 uses to notify active interests of remote DECL/UNDECL traffic: the
// listener installs an Interest covering subscriber and queryable
// declarations restricted to key.
func (s *Session) MatchingListener(key string, cb func(hasMatch bool)) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	ke, err := keyexpr.Canonize(key)
	if err != nil {
		return 0, err
	}
	id := s.reg.NextInterestID()
	ml := &matchingListener{key: ke, callback: cb}

	s.reg.AddInterest(&Interest{
		ID:    id,
		Key:   &ke,
		Flags: wire.InterestFlagSubscribers | wire.InterestFlagQueryables | wire.InterestFlagCurrent | wire.InterestFlagFuture,
		Callback: func(decl wire.Declaration) {
			s.updateMatching(ml, decl)
		},
	})

	s.matchingMu.Lock()
	s.matching = append(s.matching, ml)
	s.matchingMu.Unlock()

	return id, nil
}

func (s *Session) updateMatching(ml *matchingListener, decl wire.Declaration) {
	var delta int
	switch decl.ID {
	case wire.DeclIDSubscriber, wire.DeclIDQueryable:
		delta = 1
	case wire.DeclIDUndeclSubscriber, wire.DeclIDUndeclQueryable:
		delta = -1
	default:
		return
	}

	s.matchingMu.Lock()
	ml.count += delta
	if ml.count < 0 {
		ml.count = 0
	}
	hasMatch := ml.count > 0
	changed := ml.lastHas != hasMatch
	ml.lastHas = hasMatch
	s.matchingMu.Unlock()
	if changed {
		ml.callback(hasMatch)
	}
}

// RemoveMatchingListener withdraws the interest installed by
// MatchingListener.
func (s *Session) RemoveMatchingListener(id uint64) error {
	if s.reg.RemoveInterest(id) == nil {
		return zerr.ErrEntityUnknown
	}
	return nil
}
