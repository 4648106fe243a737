package session_test

import (
	"testing"

	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/keyexpr"
	"github.com/zenoh-pico-go/zenohpico/internal/session"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
)

// fakeSender records every network message handed to Send, decoded back
// into a wire.NetworkMessage for assertions.
type fakeSender struct {
	sent []wire.NetworkMessage
}

func (f *fakeSender) Send(_ wire.Reliability, encode func(w *iobuf.WBuf) error) error {
	w := iobuf.NewExpandableWBuf(256)
	if err := encode(w); err != nil {
		return err
	}
	z := iobuf.NewZBuf(w.Bytes())
	msg, err := wire.DecodeNetworkMessage(z)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func encodeNetMsg(t *testing.T, msg wire.NetworkMessage) []byte {
	t.Helper()
	w := iobuf.NewExpandableWBuf(256)
	if err := wire.EncodeNetworkMessage(w, msg); err != nil {
		t.Fatalf("encode network message: %v", err)
	}
	return w.Bytes()
}

func TestDispatchPushDeliversToMatchingSubscription(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	ke, _ := keyexpr.Canonize("demo/sensor/temp")
	got := make(chan session.Sample, 1)
	reg.AddSubscription(&session.Subscription{
		ID:  reg.NextLocalID(),
		Key: ke,
		Callback: func(s session.Sample) {
			got <- s
		},
	})

	d := session.NewDispatcher(reg, "peer1", nil, nil)
	payload := encodeNetMsg(t, wire.NetworkMessage{
		ID: wire.NetworkIDPush,
		Push: wire.Push{
			Key:     wire.WireKeyExpr{Suffix: "demo/sensor/temp"},
			Kind:    wire.SampleKindPut,
			Payload: []byte("21.5"),
		},
	})

	if err := d.Dispatch(payload); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case s := <-got:
		if string(s.Payload) != "21.5" || s.Key != "demo/sensor/temp" {
			t.Fatalf("sample = %+v, want payload 21.5 key demo/sensor/temp", s)
		}
	default:
		t.Fatal("subscription callback was not invoked")
	}
}

func TestDispatchPushNoMatchDeliversNothing(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	ke, _ := keyexpr.Canonize("other/**")
	called := false
	reg.AddSubscription(&session.Subscription{
		ID:       reg.NextLocalID(),
		Key:      ke,
		Callback: func(session.Sample) { called = true },
	})

	d := session.NewDispatcher(reg, "peer1", nil, nil)
	payload := encodeNetMsg(t, wire.NetworkMessage{
		ID:   wire.NetworkIDPush,
		Push: wire.Push{Key: wire.WireKeyExpr{Suffix: "demo/sensor/temp"}, Kind: wire.SampleKindPut},
	})
	if err := d.Dispatch(payload); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if called {
		t.Fatal("non-intersecting subscription must not be invoked")
	}
}

func TestDispatchRequestInvokesQueryableAndAutoFinalizes(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	ke, _ := keyexpr.Canonize("demo/sensor/temp")
	reg.AddQueryable(&session.Queryable{
		ID:  reg.NextLocalID(),
		Key: ke,
		Callback: func(q session.Query) {
			q.Reply(session.Sample{Kind: wire.SampleKindPut, Payload: []byte("reply")})
			q.Finish()
		},
	})

	sender := &fakeSender{}
	d := session.NewDispatcher(reg, "peer1", sender, nil)
	payload := encodeNetMsg(t, wire.NetworkMessage{
		ID: wire.NetworkIDRequest,
		Request: wire.Request{
			RequestID: 7,
			Key:       wire.WireKeyExpr{Suffix: "demo/sensor/temp"},
		},
	})
	if err := d.Dispatch(payload); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("sent %d messages, want 2 (RESPONSE then RESPONSE_FINAL)", len(sender.sent))
	}
	if sender.sent[0].ID != wire.NetworkIDResponse || string(sender.sent[0].Response.Payload) != "reply" {
		t.Fatalf("first sent = %+v, want RESPONSE with payload reply", sender.sent[0])
	}
	if sender.sent[1].ID != wire.NetworkIDResponseFinal || sender.sent[1].ResponseFinal.RequestID != 7 {
		t.Fatalf("second sent = %+v, want RESPONSE_FINAL for request 7", sender.sent[1])
	}
}

func TestDispatchRequestNoQueryableSendsImmediateFinal(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	sender := &fakeSender{}
	d := session.NewDispatcher(reg, "peer1", sender, nil)
	payload := encodeNetMsg(t, wire.NetworkMessage{
		ID:      wire.NetworkIDRequest,
		Request: wire.Request{RequestID: 42, Key: wire.WireKeyExpr{Suffix: "demo/nothing"}},
	})
	if err := d.Dispatch(payload); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].ID != wire.NetworkIDResponseFinal {
		t.Fatalf("sent = %+v, want a single RESPONSE_FINAL", sender.sent)
	}
}

func TestDispatchResponseThenFinalDeliversAndErasesPendingQuery(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	var gotPayload []byte
	finished := false
	reg.AddPendingQuery(&session.PendingQuery{
		RequestID: 9,
		Callback: func(s session.Sample, isErr bool) {
			if !isErr {
				gotPayload = s.Payload
			}
		},
		Drop: func() { finished = true },
	})

	d := session.NewDispatcher(reg, "peer1", nil, nil)
	respPayload := encodeNetMsg(t, wire.NetworkMessage{
		ID: wire.NetworkIDResponse,
		Response: wire.Response{
			RequestID: 9,
			Key:       wire.WireKeyExpr{Suffix: "demo/a"},
			Kind:      wire.SampleKindPut,
			Payload:   []byte("value"),
		},
	})
	if err := d.Dispatch(respPayload); err != nil {
		t.Fatalf("Dispatch response: %v", err)
	}
	if string(gotPayload) != "value" {
		t.Fatalf("reply payload = %q, want value", gotPayload)
	}
	if finished {
		t.Fatal("drop handler must not fire before RESPONSE_FINAL")
	}
	if reg.LookupPendingQuery(9) == nil {
		t.Fatal("pending query must survive a non-final RESPONSE")
	}

	finalPayload := encodeNetMsg(t, wire.NetworkMessage{
		ID:            wire.NetworkIDResponseFinal,
		ResponseFinal: wire.ResponseFinal{RequestID: 9},
	})
	if err := d.Dispatch(finalPayload); err != nil {
		t.Fatalf("Dispatch final: %v", err)
	}
	if !finished {
		t.Fatal("drop handler must fire on RESPONSE_FINAL")
	}
	if reg.LookupPendingQuery(9) != nil {
		t.Fatal("pending query must be erased after RESPONSE_FINAL")
	}
}

func TestDispatchDeclKeyExprThenUndeclRemovesMapping(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	d := session.NewDispatcher(reg, "peer1", nil, nil)

	declPayload := encodeNetMsg(t, wire.NetworkMessage{
		ID: wire.NetworkIDDeclare,
		Declare: wire.Declare{
			Body: wire.Declaration{ID: wire.DeclIDKeyExpr, KeyExprID: 5, Suffix: "demo/sensor"},
		},
	})
	if err := d.Dispatch(declPayload); err != nil {
		t.Fatalf("Dispatch decl: %v", err)
	}
	if got, err := reg.ExpandRemote("peer1", wire.WireKeyExpr{ID: 5}); err != nil || got != "demo/sensor" {
		t.Fatalf("ExpandRemote after DECL_KEYEXPR = %q, %v", got, err)
	}

	undeclPayload := encodeNetMsg(t, wire.NetworkMessage{
		ID: wire.NetworkIDDeclare,
		Declare: wire.Declare{
			Body: wire.Declaration{ID: wire.DeclIDUndeclKeyExpr, KeyExprID: 5},
		},
	})
	if err := d.Dispatch(undeclPayload); err != nil {
		t.Fatalf("Dispatch undecl: %v", err)
	}
	if _, err := reg.ExpandRemote("peer1", wire.WireKeyExpr{ID: 5}); err == nil {
		t.Fatal("ExpandRemote after UNDECL_KEYEXPR should fail")
	}
}

func TestDispatchDeclareWithInterestIDRoutesToInterestCallback(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	var got wire.Declaration
	interestID := reg.NextInterestID()
	reg.AddInterest(&session.Interest{
		ID:       interestID,
		Callback: func(body wire.Declaration) { got = body },
	})

	d := session.NewDispatcher(reg, "peer1", nil, nil)
	payload := encodeNetMsg(t, wire.NetworkMessage{
		ID: wire.NetworkIDDeclare,
		Declare: wire.Declare{
			InterestID:    interestID,
			HasInterestID: true,
			Body:          wire.Declaration{ID: wire.DeclIDSubscriber, EntityID: 3, Key: wire.WireKeyExpr{Suffix: "demo/a"}},
		},
	})
	if err := d.Dispatch(payload); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.EntityID != 3 {
		t.Fatalf("interest callback got %+v, want EntityID 3", got)
	}
}

func TestDispatchInterestCurrentEmitsMatchingDeclarationsThenFinal(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	subKE, _ := keyexpr.Canonize("demo/sensor/temp")
	reg.AddSubscription(&session.Subscription{ID: reg.NextLocalID(), Key: subKE})
	otherKE, _ := keyexpr.Canonize("other/**")
	reg.AddSubscription(&session.Subscription{ID: reg.NextLocalID(), Key: otherKE})
	qKE, _ := keyexpr.Canonize("demo/sensor/**")
	reg.AddQueryable(&session.Queryable{ID: reg.NextLocalID(), Key: qKE, Complete: true})

	sender := &fakeSender{}
	d := session.NewDispatcher(reg, "peer1", sender, nil)
	payload := encodeNetMsg(t, wire.NetworkMessage{
		ID: wire.NetworkIDInterest,
		Interest: wire.Interest{
			ID:    5,
			Flags: wire.InterestFlagCurrent | wire.InterestFlagSubscribers | wire.InterestFlagQueryables | wire.InterestFlagKeyExprs,
			Key:   wire.WireKeyExpr{Suffix: "demo/**"},
		},
	})
	if err := d.Dispatch(payload); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(sender.sent) != 3 {
		t.Fatalf("sent %d messages, want 3 (matching subscriber, matching queryable, final)", len(sender.sent))
	}
	for _, msg := range sender.sent {
		if msg.ID != wire.NetworkIDDeclare || !msg.Declare.HasInterestID || msg.Declare.InterestID != 5 {
			t.Fatalf("sent = %+v, want every reply tagged with interest_id 5", msg)
		}
	}
	if sender.sent[0].Declare.Body.ID != wire.DeclIDSubscriber {
		t.Fatalf("first reply = %+v, want DECL_SUBSCRIBER for the matching subscription", sender.sent[0])
	}
	if sender.sent[1].Declare.Body.ID != wire.DeclIDQueryable {
		t.Fatalf("second reply = %+v, want DECL_QUERYABLE", sender.sent[1])
	}
	if sender.sent[2].Declare.Body.ID != wire.DeclIDFinal {
		t.Fatalf("last reply = %+v, want DECL_FINAL", sender.sent[2])
	}
}

func TestDispatchInterestWithoutCurrentFlagSendsNothing(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	reg.AddSubscription(&session.Subscription{ID: reg.NextLocalID(), Key: "demo/a"})

	sender := &fakeSender{}
	d := session.NewDispatcher(reg, "peer1", sender, nil)
	payload := encodeNetMsg(t, wire.NetworkMessage{
		ID: wire.NetworkIDInterest,
		Interest: wire.Interest{ID: 1, Flags: wire.InterestFlagSubscribers | wire.InterestFlagFuture},
	})
	if err := d.Dispatch(payload); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent %+v, want nothing without CURRENT", sender.sent)
	}
}

func TestDispatchSubscriberDeclarationNotifiesMatchingInterest(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	ke, _ := keyexpr.Canonize("demo/**")
	var got wire.Declaration
	reg.AddInterest(&session.Interest{
		ID:       reg.NextInterestID(),
		Key:      &ke,
		Flags:    wire.InterestFlagSubscribers,
		Callback: func(body wire.Declaration) { got = body },
	})

	d := session.NewDispatcher(reg, "peer1", nil, nil)
	payload := encodeNetMsg(t, wire.NetworkMessage{
		ID: wire.NetworkIDDeclare,
		Declare: wire.Declare{
			Body: wire.Declaration{ID: wire.DeclIDSubscriber, EntityID: 11, Key: wire.WireKeyExpr{Suffix: "demo/sensor"}},
		},
	})
	if err := d.Dispatch(payload); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.EntityID != 11 {
		t.Fatalf("interest callback got %+v, want EntityID 11", got)
	}
}
