package session

import (
	"log/slog"

	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/keyexpr"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
)

// Sender abstracts the one transport operation the dispatcher needs: frame
// up and send a network message at a given reliability. Both
// *transport.Unicast and a per-peer multicast sender satisfy it.
type Sender interface {
	Send(reliability wire.Reliability, encode func(w *iobuf.WBuf) error) error
}

// Dispatcher turns one peer's inbound FRAME payloads into registry lookups
// and callback invocations (spec.md §4.8). One Dispatcher per remote peer:
// a unicast session has exactly one, a multicast session has one per
// entry in its peer table. Grounded on internal/gobgp/handler.go's
// inbound-update -> session lookup -> registered callback shape,
// generalized from a single update type to the six network message kinds
// (DECLARE, PUSH, REQUEST, RESPONSE, RESPONSE_FINAL, INTEREST).
type Dispatcher struct {
	reg    *Registry
	peerID string
	sender Sender
	logger *slog.Logger
}

// NewDispatcher builds a Dispatcher routing decoded messages from peerID
// against reg, replying (for REQUEST/RESPONSE) via sender.
func NewDispatcher(reg *Registry, peerID string, sender Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{reg: reg, peerID: peerID, sender: sender, logger: logger}
}

// Dispatch decodes every network message packed into a defragmented FRAME
// payload and routes each in turn (spec.md §4.8).
func (d *Dispatcher) Dispatch(payload []byte) error {
	z := iobuf.NewZBuf(payload)
	for z.Len() > 0 {
		msg, err := wire.DecodeNetworkMessage(z)
		if err != nil {
			return err
		}
		d.dispatchOne(msg)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(msg wire.NetworkMessage) {
	switch msg.ID {
	case wire.NetworkIDDeclare:
		d.handleDeclare(msg.Declare)
	case wire.NetworkIDPush:
		d.handlePush(msg.Push)
	case wire.NetworkIDRequest:
		d.handleRequest(msg.Request)
	case wire.NetworkIDResponse:
		d.handleResponse(msg.Response)
	case wire.NetworkIDResponseFinal:
		d.handleResponseFinal(msg.ResponseFinal)
	case wire.NetworkIDInterest:
		d.handleInterest(msg.Interest)
	default:
		d.logger.Warn("dispatch: unknown network message id", "id", msg.ID)
	}
}

// handleDeclare applies a DECLARE's body to the registries and, when it
// carries an interest_id, routes it to that interest's callback instead of
// applying the general-declaration side effects (spec.md §4.8).
func (d *Dispatcher) handleDeclare(decl wire.Declare) {
	if decl.HasInterestID {
		if it := d.reg.LookupInterest(decl.InterestID); it != nil && it.Callback != nil {
			it.Callback(decl.Body)
			return
		}
	}

	body := decl.Body
	switch body.ID {
	case wire.DeclIDKeyExpr:
		if body.KeyExprID != 0 {
			if prev, err := d.reg.ExpandRemote(d.peerID, wire.WireKeyExpr{ID: body.KeyExprID}); err == nil && prev != body.Suffix {
				d.logger.Warn("dispatch: duplicate DECL_KEYEXPR replaces mapping",
					"id", body.KeyExprID, "old", prev, "new", body.Suffix)
			}
		}
		d.reg.DeclareRemoteKeyExpr(d.peerID, body.KeyExprID, body.Suffix)
	case wire.DeclIDUndeclKeyExpr:
		d.reg.UndeclareRemoteKeyExpr(d.peerID, body.KeyExprID)
	case wire.DeclIDSubscriber, wire.DeclIDUndeclSubscriber,
		wire.DeclIDQueryable, wire.DeclIDUndeclQueryable,
		wire.DeclIDToken, wire.DeclIDUndeclToken:
		d.notifyInterests(body)
	case wire.DeclIDFinal:
		// No registry state to update; marks the end of a declarations burst.
	default:
		d.logger.Warn("dispatch: unknown declaration id", "id", body.ID)
	}
}

// notifyInterests routes a remote entity declaration to every active
// interest whose flags cover its kind and whose key (if any) intersects
// the declared key (spec.md §4.8 "trigger matching interests if any").
func (d *Dispatcher) notifyInterests(body wire.Declaration) {
	var flag wire.InterestFlags
	switch body.ID {
	case wire.DeclIDSubscriber, wire.DeclIDUndeclSubscriber:
		flag = wire.InterestFlagSubscribers
	case wire.DeclIDQueryable, wire.DeclIDUndeclQueryable:
		flag = wire.InterestFlagQueryables
	case wire.DeclIDToken, wire.DeclIDUndeclToken:
		flag = wire.InterestFlagTokens
	default:
		return
	}

	key, haveKey := d.expandDeclKey(body)

	for _, it := range d.reg.interestsSnapshot() {
		if it.Flags&flag == 0 {
			continue
		}
		if it.Key != nil && haveKey && !keyexpr.Intersects(*it.Key, key) {
			continue
		}
		if it.Callback != nil {
			it.Callback(body)
		}
	}
}

func (d *Dispatcher) expandDeclKey(body wire.Declaration) (keyexpr.KE, bool) {
	if body.Key.ID == 0 && body.Key.Suffix == "" {
		return "", false
	}
	expanded, err := d.reg.ExpandRemote(d.peerID, body.Key)
	if err != nil {
		d.logger.Warn("dispatch: key expansion failed", "err", err)
		return "", false
	}
	return keyexpr.KE(expanded), true
}

// handlePush expands the push key, walks the subscription table, and
// invokes every intersecting subscriber's callback with a synthesized
// sample (spec.md §4.8).
func (d *Dispatcher) handlePush(p wire.Push) {
	key, err := d.reg.ExpandRemote(d.peerID, p.Key)
	if err != nil {
		d.logger.Warn("dispatch: push key expansion failed", "err", err)
		return
	}
	ke, err := keyexpr.Canonize(key)
	if err != nil {
		d.logger.Warn("dispatch: push key not canonical", "key", key, "err", err)
		return
	}

	sample := Sample{
		Key:        key,
		Kind:       p.Kind,
		Payload:    p.Payload,
		Encoding:   p.Encoding,
		Timestamp:  p.Timestamp,
		Attachment: p.Attachment,
	}
	for _, sub := range d.reg.MatchingSubscriptions(ke) {
		if sub.Callback != nil {
			sub.Callback(sample)
		}
	}
}

// handleRequest expands the query key, walks queryables, and invokes each
// matching queryable's callback with a query handle that replies via
// RESPONSE and auto-finalizes via RESPONSE_FINAL (spec.md §4.8).
func (d *Dispatcher) handleRequest(req wire.Request) {
	key, err := d.reg.ExpandRemote(d.peerID, req.Key)
	if err != nil {
		d.logger.Warn("dispatch: request key expansion failed", "err", err)
		return
	}
	ke, err := keyexpr.Canonize(key)
	if err != nil {
		d.logger.Warn("dispatch: request key not canonical", "key", key, "err", err)
		return
	}

	matches := d.reg.MatchingQueryables(ke)
	if len(matches) == 0 {
		d.replyFinal(req.RequestID)
		return
	}

	remaining := len(matches)
	finalizeOnce := func() {
		remaining--
		if remaining == 0 {
			d.replyFinal(req.RequestID)
		}
	}

	for _, qbl := range matches {
		if qbl.Callback == nil {
			finalizeOnce()
			continue
		}
		qbl.Callback(Query{
			Key:           key,
			Payload:       req.Payload,
			Encoding:      req.Encoding,
			Consolidation: req.Consolidation,
			Reply:         func(s Sample) { d.replySample(req.RequestID, key, s) },
			Finish:        finalizeOnce,
		})
	}
}

func (d *Dispatcher) replySample(requestID uint64, key string, s Sample) {
	if d.sender == nil {
		return
	}
	err := d.sender.Send(wire.ReliabilityReliable, func(w *iobuf.WBuf) error {
		return wire.EncodeNetworkMessage(w, wire.NetworkMessage{
			ID: wire.NetworkIDResponse,
			Response: wire.Response{
				RequestID: requestID,
				Key:       wire.WireKeyExpr{Suffix: key},
				Kind:      s.Kind,
				Payload:   s.Payload,
				Encoding:  s.Encoding,
				Timestamp: s.Timestamp,
			},
		})
	})
	if err != nil {
		d.logger.Warn("dispatch: reply send failed", "err", err)
	}
}

func (d *Dispatcher) replyFinal(requestID uint64) {
	if d.sender == nil {
		return
	}
	err := d.sender.Send(wire.ReliabilityReliable, func(w *iobuf.WBuf) error {
		return wire.EncodeNetworkMessage(w, wire.NetworkMessage{
			ID:            wire.NetworkIDResponseFinal,
			ResponseFinal: wire.ResponseFinal{RequestID: requestID},
		})
	})
	if err != nil {
		d.logger.Warn("dispatch: response_final send failed", "err", err)
	}
}

// handleResponse looks up the pending query by request id and delivers a
// reply callback (spec.md §4.8). A RESPONSE may arrive more than once
// before RESPONSE_FINAL, so the entry is looked up, not taken.
func (d *Dispatcher) handleResponse(r wire.Response) {
	p := d.reg.LookupPendingQuery(r.RequestID)
	if p == nil || p.Callback == nil {
		return
	}
	key, err := d.reg.ExpandRemote(d.peerID, r.Key)
	if err != nil {
		key = ""
	}
	p.Callback(Sample{
		Key:       key,
		Kind:      r.Kind,
		Payload:   r.Payload,
		Encoding:  r.Encoding,
		Timestamp: r.Timestamp,
	}, r.IsError)
}

// handleResponseFinal erases the pending-query entry and invokes its drop
// handler (spec.md §4.8).
func (d *Dispatcher) handleResponseFinal(rf wire.ResponseFinal) {
	p := d.reg.TakePendingQuery(rf.RequestID)
	if p != nil && p.Drop != nil {
		p.Drop()
	}
}

// handleInterest answers a peer-originated INTEREST (spec.md §4.8, §9 Open
// Question 2): when CURRENT is set, it walks the local registries and
// emits one DECLARE per matching subscriber/queryable/token, tagged with
// the interest id so the peer can correlate the burst, followed by a
// DECL_FINAL. FUTURE declarations need no extra bookkeeping here: this
// session always sends a DECLARE to its one connected peer the moment a
// local entity is declared (DeclareSubscriber et al.), so a peer that
// asked for FUTURE already receives them as they happen.
func (d *Dispatcher) handleInterest(it wire.Interest) {
	if it.Flags&wire.InterestFlagCurrent == 0 {
		return
	}

	key, haveKey := d.expandInterestKey(it)

	if it.Flags&wire.InterestFlagSubscribers != 0 {
		for _, sub := range d.reg.AllSubscriptions() {
			if haveKey && !keyexpr.Intersects(sub.Key, key) {
				continue
			}
			d.sendDeclare(it.ID, wire.Declaration{
				ID:       wire.DeclIDSubscriber,
				EntityID: sub.ID,
				Key:      wire.WireKeyExpr{Suffix: string(sub.Key)},
			})
		}
	}
	if it.Flags&wire.InterestFlagQueryables != 0 {
		for _, qbl := range d.reg.AllQueryables() {
			if haveKey && !keyexpr.Intersects(qbl.Key, key) {
				continue
			}
			d.sendDeclare(it.ID, wire.Declaration{
				ID:          wire.DeclIDQueryable,
				EntityID:    qbl.ID,
				Key:         wire.WireKeyExpr{Suffix: string(qbl.Key)},
				Complete:    qbl.Complete,
				HasComplete: true,
			})
		}
	}
	if it.Flags&wire.InterestFlagTokens != 0 {
		for _, tok := range d.reg.AllTokens() {
			if haveKey && !keyexpr.Intersects(tok.Key, key) {
				continue
			}
			d.sendDeclare(it.ID, wire.Declaration{
				ID:       wire.DeclIDToken,
				EntityID: tok.ID,
				Key:      wire.WireKeyExpr{Suffix: string(tok.Key)},
			})
		}
	}

	d.sendDeclare(it.ID, wire.Declaration{ID: wire.DeclIDFinal})
}

// expandInterestKey resolves an INTEREST's optional key filter, reporting
// false when the interest carries no key (meaning "every declaration",
// unfiltered).
func (d *Dispatcher) expandInterestKey(it wire.Interest) (keyexpr.KE, bool) {
	if it.Flags&wire.InterestFlagKeyExprs == 0 {
		return "", false
	}
	expanded, err := d.reg.ExpandRemote(d.peerID, it.Key)
	if err != nil {
		d.logger.Warn("dispatch: interest key expansion failed", "err", err)
		return "", false
	}
	ke, err := keyexpr.Canonize(expanded)
	if err != nil {
		d.logger.Warn("dispatch: interest key not canonical", "key", expanded, "err", err)
		return "", false
	}
	return ke, true
}

// sendDeclare emits one DECLARE tagged with interestID, used to reply to an
// inbound INTEREST's CURRENT burst (spec.md §4.8, §9).
func (d *Dispatcher) sendDeclare(interestID uint64, body wire.Declaration) {
	if d.sender == nil {
		return
	}
	err := d.sender.Send(wire.ReliabilityReliable, func(w *iobuf.WBuf) error {
		return wire.EncodeNetworkMessage(w, wire.NetworkMessage{
			ID: wire.NetworkIDDeclare,
			Declare: wire.Declare{
				InterestID: interestID, HasInterestID: true,
				Body: body,
			},
		})
	})
	if err != nil {
		d.logger.Warn("dispatch: interest reply send failed", "err", err)
	}
}
