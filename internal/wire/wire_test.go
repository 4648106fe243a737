package wire_test

import (
	"errors"
	"testing"

	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

func TestVLERoundTrip(t *testing.T) {
	t.Parallel()
	cases := []uint64{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 1 << 35, ^uint64(0)}
	for _, v := range cases {
		w := iobuf.NewExpandableWBuf(16)
		if err := wire.EncodeVLE(w, v); err != nil {
			t.Fatalf("encode %d: %v", v, err)
		}
		if got := w.Len(); got != wire.VLESize(v) {
			t.Errorf("VLESize(%d)=%d, wrote %d bytes", v, wire.VLESize(v), got)
		}
		got, err := wire.DecodeVLE(iobuf.NewZBuf(w.Bytes()))
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d -> %d", v, got)
		}
	}
}

func TestVLEOverflow(t *testing.T) {
	t.Parallel()
	// 11 continuation bytes, none terminating: exceeds maxVLEBytes=10.
	raw := make([]byte, 11)
	for i := range raw {
		raw[i] = 0x80
	}
	_, err := wire.DecodeVLE(iobuf.NewZBuf(raw))
	if !errors.Is(err, zerr.ErrParseVLE) {
		t.Fatalf("want ErrParseVLE, got %v", err)
	}
}

func TestVLETruncated(t *testing.T) {
	t.Parallel()
	_, err := wire.DecodeVLE(iobuf.NewZBuf([]byte{0x80}))
	if !errors.Is(err, zerr.ErrParseVLE) {
		t.Fatalf("want ErrParseVLE, got %v", err)
	}
}

func TestBytesAndStringRoundTrip(t *testing.T) {
	t.Parallel()
	w := iobuf.NewExpandableWBuf(32)
	if err := wire.EncodeBytes(w, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := wire.EncodeString(w, "zenoh"); err != nil {
		t.Fatal(err)
	}
	z := iobuf.NewZBuf(w.Bytes())
	bs, err := wire.DecodeBytesCopy(z)
	if err != nil || string(bs) != "hello" {
		t.Fatalf("bytes round trip: %q, %v", bs, err)
	}
	s, err := wire.DecodeString(z)
	if err != nil || s != "zenoh" {
		t.Fatalf("string round trip: %q, %v", s, err)
	}
}

func TestZIDRoundTrip(t *testing.T) {
	t.Parallel()
	cases := [][]byte{
		{0x01},
		{0xaa, 0xbb, 0xcc},
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
	}
	for _, raw := range cases {
		zid := wire.NewZID(raw)
		w := iobuf.NewExpandableWBuf(17)
		if err := wire.EncodeZID(w, zid); err != nil {
			t.Fatal(err)
		}
		got, err := wire.DecodeZID(iobuf.NewZBuf(w.Bytes()))
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(zid) {
			t.Errorf("zid round trip mismatch for %x", raw)
		}
	}
}

func TestZIDTrailingZeroTrim(t *testing.T) {
	t.Parallel()
	zid := wire.NewZID([]byte{0x01, 0x00, 0x00, 0x00})
	w := iobuf.NewExpandableWBuf(5)
	if err := wire.EncodeZID(w, zid); err != nil {
		t.Fatal(err)
	}
	if w.Len() != 2 { // length byte + 1 significant byte
		t.Errorf("expected trimmed encoding of 2 bytes, got %d", w.Len())
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	t.Parallel()
	ts := wire.Timestamp{Time: 0x1122334455, ID: wire.NewZID([]byte{0x42})}
	w := iobuf.NewExpandableWBuf(24)
	if err := wire.EncodeTimestamp(w, ts); err != nil {
		t.Fatal(err)
	}
	got, err := wire.DecodeTimestamp(iobuf.NewZBuf(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if got.Time != ts.Time || !got.ID.Equal(ts.ID) {
		t.Errorf("timestamp round trip mismatch: got %+v", got)
	}
}

func TestExtensionsRoundTrip(t *testing.T) {
	t.Parallel()
	exts := []wire.Extension{
		{ID: 1, Shape: wire.ExtShapeUnit},
		{ID: 2, Shape: wire.ExtShapeBytes, Body: []byte("payload")},
	}
	w := iobuf.NewExpandableWBuf(32)
	if err := wire.EncodeExtensions(w, exts); err != nil {
		t.Fatal(err)
	}
	got, err := wire.DecodeExtensions(iobuf.NewZBuf(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || string(got[1].Body) != "payload" {
		t.Fatalf("extensions round trip mismatch: %+v", got)
	}
}

func TestExtensionMandatoryUnknownRejected(t *testing.T) {
	t.Parallel()
	ext := wire.Extension{ID: 9, Shape: wire.ExtShapeUnit, Mandatory: true}
	if err := wire.SkipUnknown(ext); !errors.Is(err, zerr.ErrExtensionMandatory) {
		t.Fatalf("want ErrExtensionMandatory, got %v", err)
	}
	ext.Mandatory = false
	if err := wire.SkipUnknown(ext); err != nil {
		t.Fatalf("non-mandatory unknown extension should be skippable, got %v", err)
	}
}

func TestDeclarationRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []wire.Declaration{
		{ID: wire.DeclIDKeyExpr, KeyExprID: 7, Suffix: "demo/example/**"},
		{ID: wire.DeclIDUndeclKeyExpr, KeyExprID: 7},
		{ID: wire.DeclIDSubscriber, EntityID: 3, Key: wire.WireKeyExpr{Suffix: "a/b"}},
		{ID: wire.DeclIDUndeclSubscriber, EntityID: 3},
		{ID: wire.DeclIDQueryable, EntityID: 4, Key: wire.WireKeyExpr{Suffix: "a/*"}, HasComplete: true, Complete: true, HasDistance: true, Distance: 2},
		{ID: wire.DeclIDUndeclQueryable, EntityID: 4},
		{ID: wire.DeclIDToken, EntityID: 5, Key: wire.WireKeyExpr{Suffix: "liveliness/a"}},
		{ID: wire.DeclIDUndeclToken, EntityID: 5},
		{ID: wire.DeclIDFinal},
	}
	for _, d := range cases {
		w := iobuf.NewExpandableWBuf(64)
		if err := wire.EncodeDeclaration(w, d); err != nil {
			t.Fatalf("encode %+v: %v", d, err)
		}
		got, err := wire.DecodeDeclaration(iobuf.NewZBuf(w.Bytes()))
		if err != nil {
			t.Fatalf("decode %+v: %v", d, err)
		}
		if got.ID != d.ID || got.EntityID != d.EntityID || got.KeyExprID != d.KeyExprID {
			t.Errorf("round trip mismatch: want %+v, got %+v", d, got)
		}
	}
}

func TestPushRoundTrip(t *testing.T) {
	t.Parallel()
	enc := wire.Encoding{PrefixID: 1, Suffix: []byte("text/plain")}
	p := wire.Push{
		Key:      wire.WireKeyExpr{Suffix: "demo/example"},
		Kind:     wire.SampleKindPut,
		Payload:  []byte("hello world"),
		Encoding: &enc,
	}
	w := iobuf.NewExpandableWBuf(64)
	if err := wire.EncodePush(w, p); err != nil {
		t.Fatal(err)
	}
	got, err := wire.DecodePush(iobuf.NewZBuf(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if got.Key.Suffix != p.Key.Suffix || string(got.Payload) != string(p.Payload) {
		t.Fatalf("push round trip mismatch: %+v", got)
	}
	if got.Encoding == nil || string(got.Encoding.Suffix) != "text/plain" {
		t.Fatalf("push encoding round trip mismatch: %+v", got.Encoding)
	}
}

func TestRequestResponseRoundTrip(t *testing.T) {
	t.Parallel()
	req := wire.Request{RequestID: 42, Key: wire.WireKeyExpr{Suffix: "demo/query"}, Payload: []byte("params")}
	w := iobuf.NewExpandableWBuf(64)
	if err := wire.EncodeRequest(w, req); err != nil {
		t.Fatal(err)
	}
	gotReq, err := wire.DecodeRequest(iobuf.NewZBuf(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if gotReq.RequestID != req.RequestID || gotReq.Key.Suffix != req.Key.Suffix {
		t.Fatalf("request round trip mismatch: %+v", gotReq)
	}

	resp := wire.Response{RequestID: 42, Key: wire.WireKeyExpr{Suffix: "demo/query"}, Payload: []byte("result")}
	w2 := iobuf.NewExpandableWBuf(64)
	if err := wire.EncodeResponse(w2, resp); err != nil {
		t.Fatal(err)
	}
	gotResp, err := wire.DecodeResponse(iobuf.NewZBuf(w2.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if gotResp.RequestID != resp.RequestID || string(gotResp.Payload) != "result" {
		t.Fatalf("response round trip mismatch: %+v", gotResp)
	}

	w3 := iobuf.NewExpandableWBuf(8)
	if err := wire.EncodeResponseFinal(w3, wire.ResponseFinal{RequestID: 42}); err != nil {
		t.Fatal(err)
	}
	gotFinal, err := wire.DecodeResponseFinal(iobuf.NewZBuf(w3.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if gotFinal.RequestID != 42 {
		t.Fatalf("response_final round trip mismatch: %+v", gotFinal)
	}
}

func TestDeclareAndInterestRoundTrip(t *testing.T) {
	t.Parallel()
	decl := wire.Declare{
		HasInterestID: true,
		InterestID:    9,
		Body:          wire.Declaration{ID: wire.DeclIDSubscriber, EntityID: 1, Key: wire.WireKeyExpr{Suffix: "a/b"}},
	}
	w := iobuf.NewExpandableWBuf(64)
	if err := wire.EncodeDeclare(w, decl); err != nil {
		t.Fatal(err)
	}
	got, err := wire.DecodeDeclare(iobuf.NewZBuf(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasInterestID || got.InterestID != 9 || got.Body.EntityID != 1 {
		t.Fatalf("declare round trip mismatch: %+v", got)
	}

	it := wire.Interest{
		ID:    3,
		Flags: wire.InterestFlagKeyExprs | wire.InterestFlagSubscribers | wire.InterestFlagCurrent | wire.InterestFlagFuture,
		Key:   wire.WireKeyExpr{Suffix: "demo/**"},
	}
	w2 := iobuf.NewExpandableWBuf(64)
	if err := wire.EncodeInterest(w2, it); err != nil {
		t.Fatal(err)
	}
	gotIt, err := wire.DecodeInterest(iobuf.NewZBuf(w2.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if gotIt.ID != it.ID || gotIt.Flags != it.Flags || gotIt.Key.Suffix != it.Key.Suffix {
		t.Fatalf("interest round trip mismatch: %+v", gotIt)
	}
}

func TestNetworkMessageDispatch(t *testing.T) {
	t.Parallel()
	w := iobuf.NewExpandableWBuf(64)
	msg := wire.NetworkMessage{ID: wire.NetworkIDPush, Push: wire.Push{Key: wire.WireKeyExpr{Suffix: "a"}, Payload: []byte("x")}}
	if err := wire.EncodeNetworkMessage(w, msg); err != nil {
		t.Fatal(err)
	}
	got, err := wire.DecodeNetworkMessage(iobuf.NewZBuf(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != wire.NetworkIDPush || string(got.Push.Payload) != "x" {
		t.Fatalf("network message dispatch mismatch: %+v", got)
	}
}

func TestInitOpenCloseRoundTrip(t *testing.T) {
	t.Parallel()
	in := wire.Init{IsAck: true, Version: 9, WhatAmI: 1, ZID: wire.NewZID([]byte{1, 2, 3}), SNResolution: 1 << 28, BatchSize: 2048, Cookie: []byte("cookie")}
	w := iobuf.NewExpandableWBuf(64)
	if err := wire.EncodeInit(w, in); err != nil {
		t.Fatal(err)
	}
	gotInit, err := wire.DecodeInit(iobuf.NewZBuf(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if !gotInit.IsAck || gotInit.BatchSize != 2048 || string(gotInit.Cookie) != "cookie" {
		t.Fatalf("init round trip mismatch: %+v", gotInit)
	}

	op := wire.Open{IsAck: false, LeaseMs: 10000, InitialSN: 0, Cookie: []byte("cookie")}
	w2 := iobuf.NewExpandableWBuf(64)
	if err := wire.EncodeOpen(w2, op); err != nil {
		t.Fatal(err)
	}
	gotOpen, err := wire.DecodeOpen(iobuf.NewZBuf(w2.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if gotOpen.LeaseMs != 10000 || string(gotOpen.Cookie) != "cookie" {
		t.Fatalf("open round trip mismatch: %+v", gotOpen)
	}

	w3 := iobuf.NewExpandableWBuf(4)
	if err := wire.EncodeClose(w3, wire.Close{Reason: zerr.CloseReasonExpired}); err != nil {
		t.Fatal(err)
	}
	gotClose, err := wire.DecodeClose(iobuf.NewZBuf(w3.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if gotClose.Reason != zerr.CloseReasonExpired {
		t.Fatalf("close round trip mismatch: %+v", gotClose)
	}
}

func TestKeepAliveRoundTrip(t *testing.T) {
	t.Parallel()
	w := iobuf.NewExpandableWBuf(4)
	if err := wire.EncodeKeepAlive(w); err != nil {
		t.Fatal(err)
	}
	if err := wire.DecodeKeepAlive(iobuf.NewZBuf(w.Bytes())); err != nil {
		t.Fatal(err)
	}
}

func TestFrameAndFragmentRoundTrip(t *testing.T) {
	t.Parallel()
	w := iobuf.NewExpandableWBuf(16)
	if err := wire.EncodeFrameHeader(w, wire.FrameHeader{Reliability: wire.ReliabilityReliable, SN: 123}); err != nil {
		t.Fatal(err)
	}
	hdr, err := wire.DecodeFrameHeader(iobuf.NewZBuf(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Reliability != wire.ReliabilityReliable || hdr.SN != 123 {
		t.Fatalf("frame header round trip mismatch: %+v", hdr)
	}

	w2 := iobuf.NewExpandableWBuf(64)
	fh := wire.FragmentHeader{Reliability: wire.ReliabilityBestEffort, SN: 5, More: true}
	if err := wire.EncodeFragment(w2, fh, []byte("partial-payload")); err != nil {
		t.Fatal(err)
	}
	gotHdr, payload, err := wire.DecodeFragment(iobuf.NewZBuf(w2.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if !gotHdr.More || gotHdr.SN != 5 || string(payload) != "partial-payload" {
		t.Fatalf("fragment round trip mismatch: %+v %q", gotHdr, payload)
	}
}

func TestJoinRoundTrip(t *testing.T) {
	t.Parallel()
	j := wire.Join{
		Version: 9, WhatAmI: 2, ZID: wire.NewZID([]byte{7, 7}),
		SNResolution: 1 << 28, BatchSize: 2048, LeaseMs: 2500,
		NextSNReliable: 10, NextSNBestEffort: 20,
	}
	w := iobuf.NewExpandableWBuf(64)
	if err := wire.EncodeJoin(w, j); err != nil {
		t.Fatal(err)
	}
	got, err := wire.DecodeJoin(iobuf.NewZBuf(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if got.LeaseMs != j.LeaseMs || got.NextSNReliable != 10 || got.NextSNBestEffort != 20 {
		t.Fatalf("join round trip mismatch: %+v", got)
	}
}

func TestScoutHelloRoundTrip(t *testing.T) {
	t.Parallel()
	s := wire.Scout{What: 0x04, ZID: wire.NewZID([]byte{1})}
	w := iobuf.NewExpandableWBuf(32)
	if err := wire.EncodeScout(w, s); err != nil {
		t.Fatal(err)
	}
	gotScout, err := wire.DecodeScout(iobuf.NewZBuf(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if gotScout.What != s.What {
		t.Fatalf("scout round trip mismatch: %+v", gotScout)
	}

	h := wire.Hello{Version: 9, WhatAmI: 1, ZID: wire.NewZID([]byte{2}), Locators: []string{"tcp/127.0.0.1:7447", "udp/224.0.0.224:7446"}}
	w2 := iobuf.NewExpandableWBuf(64)
	if err := wire.EncodeHello(w2, h); err != nil {
		t.Fatal(err)
	}
	gotHello, err := wire.DecodeHello(iobuf.NewZBuf(w2.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(gotHello.Locators) != 2 || gotHello.Locators[0] != h.Locators[0] {
		t.Fatalf("hello round trip mismatch: %+v", gotHello)
	}
}

func TestTransportMessageDispatch(t *testing.T) {
	t.Parallel()
	w := iobuf.NewExpandableWBuf(8)
	if err := wire.EncodeKeepAlive(w); err != nil {
		t.Fatal(err)
	}
	msg, err := wire.DecodeTransportMessage(iobuf.NewZBuf(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != wire.TransportIDKeepAlive {
		t.Fatalf("transport message dispatch mismatch: %+v", msg)
	}
}
