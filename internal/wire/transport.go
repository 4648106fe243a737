package wire

import (
	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// TransportID identifies the variant of a transport message (spec.md §4.2
// "Transport" and "Scout" tables).
type TransportID uint8

// Transport/scout message ids.
const (
	TransportIDScout     TransportID = 0x01
	TransportIDHello     TransportID = 0x02
	TransportIDInit      TransportID = 0x03
	TransportIDOpen      TransportID = 0x04
	TransportIDClose     TransportID = 0x05
	TransportIDKeepAlive TransportID = 0x06
	TransportIDFrame     TransportID = 0x07
	TransportIDFragment  TransportID = 0x08
	TransportIDJoin      TransportID = 0x09
)

const transportHeaderIDMask = 0x1f

const (
	flagCookie    = 0x20
	flagFrameMore = 0x20 // on FRAGMENT: "more" bit
	flagReliable  = 0x40 // on FRAME/FRAGMENT: reliable vs best-effort
)

// Scout requests HELLO replies from peers reachable on a multicast/unicast
// scouting link (spec.md §4.9).
type Scout struct {
	What uint8
	ZID  ZID
}

// EncodeScout writes a SCOUT message.
func EncodeScout(w *iobuf.WBuf, s Scout) error {
	if err := w.WriteByte(byte(TransportIDScout) & transportHeaderIDMask); err != nil {
		return err
	}
	if err := w.WriteByte(s.What); err != nil {
		return err
	}
	return EncodeZID(w, s.ZID)
}

// DecodeScout reads a SCOUT message (header byte already consumed by the
// caller's dispatch is NOT assumed here; this reads its own header for a
// self-contained API, matching DecodeResponseFinal's convention).
func DecodeScout(z *iobuf.ZBuf) (Scout, error) {
	if _, err := z.ReadByte(); err != nil {
		return Scout{}, zerr.ErrParseBytes
	}
	what, err := z.ReadByte()
	if err != nil {
		return Scout{}, zerr.ErrParseBytes
	}
	zid, err := DecodeZID(z)
	if err != nil {
		return Scout{}, err
	}
	return Scout{What: what, ZID: zid}, nil
}

// Hello announces a reachable peer in reply to a SCOUT (spec.md §4.9).
type Hello struct {
	Version  uint8
	WhatAmI  uint8
	ZID      ZID
	Locators []string
}

// EncodeHello writes a HELLO message.
func EncodeHello(w *iobuf.WBuf, h Hello) error {
	if err := w.WriteByte(byte(TransportIDHello) & transportHeaderIDMask); err != nil {
		return err
	}
	if err := w.WriteByte(h.Version); err != nil {
		return err
	}
	if err := w.WriteByte(h.WhatAmI); err != nil {
		return err
	}
	if err := EncodeZID(w, h.ZID); err != nil {
		return err
	}
	if err := EncodeVLE(w, uint64(len(h.Locators))); err != nil {
		return err
	}
	for _, l := range h.Locators {
		if err := EncodeString(w, l); err != nil {
			return err
		}
	}
	return nil
}

// DecodeHello reads a HELLO message.
func DecodeHello(z *iobuf.ZBuf) (Hello, error) {
	if _, err := z.ReadByte(); err != nil {
		return Hello{}, zerr.ErrParseBytes
	}
	version, err := z.ReadByte()
	if err != nil {
		return Hello{}, zerr.ErrParseBytes
	}
	whatami, err := z.ReadByte()
	if err != nil {
		return Hello{}, zerr.ErrParseBytes
	}
	zid, err := DecodeZID(z)
	if err != nil {
		return Hello{}, err
	}
	n, err := DecodeVLE(z)
	if err != nil {
		return Hello{}, err
	}
	locs := make([]string, 0, n)
	for range n {
		s, err := DecodeString(z)
		if err != nil {
			return Hello{}, err
		}
		locs = append(locs, s)
	}
	return Hello{Version: version, WhatAmI: whatami, ZID: zid, Locators: locs}, nil
}

// Init is the first handshake message: client proposes parameters, server
// replies with its own plus a cookie (spec.md §4.5).
type Init struct {
	IsAck       bool // false: client->server proposal; true: server->client ack carrying Cookie
	Version     uint8
	WhatAmI     uint8
	ZID         ZID
	SNResolution uint64
	BatchSize   uint16
	Cookie      []byte
}

// EncodeInit writes an INIT message.
func EncodeInit(w *iobuf.WBuf, in Init) error {
	header := byte(TransportIDInit) & transportHeaderIDMask
	if in.IsAck {
		header |= flagCookie
	}
	if err := w.WriteByte(header); err != nil {
		return err
	}
	if err := w.WriteByte(in.Version); err != nil {
		return err
	}
	if err := w.WriteByte(in.WhatAmI); err != nil {
		return err
	}
	if err := EncodeZID(w, in.ZID); err != nil {
		return err
	}
	if err := EncodeVLE(w, in.SNResolution); err != nil {
		return err
	}
	if err := EncodeVLE(w, uint64(in.BatchSize)); err != nil {
		return err
	}
	if in.IsAck {
		return EncodeBytes(w, in.Cookie)
	}
	return nil
}

// DecodeInit reads an INIT message.
func DecodeInit(z *iobuf.ZBuf) (Init, error) {
	header, err := z.ReadByte()
	if err != nil {
		return Init{}, zerr.ErrParseBytes
	}
	in := Init{IsAck: header&flagCookie != 0}
	if in.Version, err = z.ReadByte(); err != nil {
		return Init{}, zerr.ErrParseBytes
	}
	if in.WhatAmI, err = z.ReadByte(); err != nil {
		return Init{}, zerr.ErrParseBytes
	}
	if in.ZID, err = DecodeZID(z); err != nil {
		return Init{}, err
	}
	if in.SNResolution, err = DecodeVLE(z); err != nil {
		return Init{}, err
	}
	bs, err := DecodeVLE(z)
	if err != nil {
		return Init{}, err
	}
	in.BatchSize = uint16(bs)
	if in.IsAck {
		cookie, err := DecodeBytesCopy(z)
		if err != nil {
			return Init{}, err
		}
		in.Cookie = cookie
	}
	return in, nil
}

// Open completes the handshake: client echoes the cookie with its lease and
// initial sn, server replies with its own (spec.md §4.5).
type Open struct {
	IsAck     bool
	LeaseMs   uint64
	InitialSN uint64
	Cookie    []byte // present only when !IsAck
}

// EncodeOpen writes an OPEN message.
func EncodeOpen(w *iobuf.WBuf, o Open) error {
	header := byte(TransportIDOpen) & transportHeaderIDMask
	if o.IsAck {
		header |= flagCookie
	}
	if err := w.WriteByte(header); err != nil {
		return err
	}
	if err := EncodeVLE(w, o.LeaseMs); err != nil {
		return err
	}
	if err := EncodeVLE(w, o.InitialSN); err != nil {
		return err
	}
	if !o.IsAck {
		return EncodeBytes(w, o.Cookie)
	}
	return nil
}

// DecodeOpen reads an OPEN message.
func DecodeOpen(z *iobuf.ZBuf) (Open, error) {
	header, err := z.ReadByte()
	if err != nil {
		return Open{}, zerr.ErrParseBytes
	}
	o := Open{IsAck: header&flagCookie != 0}
	if o.LeaseMs, err = DecodeVLE(z); err != nil {
		return Open{}, err
	}
	if o.InitialSN, err = DecodeVLE(z); err != nil {
		return Open{}, err
	}
	if !o.IsAck {
		cookie, err := DecodeBytesCopy(z)
		if err != nil {
			return Open{}, err
		}
		o.Cookie = cookie
	}
	return o, nil
}

// Close ends a transport session, carrying a u8 reason (spec.md §4.5, §6).
type Close struct {
	Reason zerr.CloseReason
}

// EncodeClose writes a CLOSE message.
func EncodeClose(w *iobuf.WBuf, c Close) error {
	if err := w.WriteByte(byte(TransportIDClose) & transportHeaderIDMask); err != nil {
		return err
	}
	return w.WriteByte(byte(c.Reason))
}

// DecodeClose reads a CLOSE message.
func DecodeClose(z *iobuf.ZBuf) (Close, error) {
	if _, err := z.ReadByte(); err != nil {
		return Close{}, zerr.ErrParseBytes
	}
	reason, err := z.ReadByte()
	if err != nil {
		return Close{}, zerr.ErrParseBytes
	}
	return Close{Reason: zerr.CloseReason(reason)}, nil
}

// EncodeKeepAlive writes a KEEP_ALIVE message (no body).
func EncodeKeepAlive(w *iobuf.WBuf) error {
	return w.WriteByte(byte(TransportIDKeepAlive) & transportHeaderIDMask)
}

// DecodeKeepAlive reads a KEEP_ALIVE message.
func DecodeKeepAlive(z *iobuf.ZBuf) error {
	if _, err := z.ReadByte(); err != nil {
		return zerr.ErrParseBytes
	}
	return nil
}

// FrameHeader carries a FRAME's reliability and sequence number; the
// payload is a sequence of already-encoded network messages, handled
// separately by the transport layer (spec.md §4.5) since reassembling them
// requires the per-peer dispatch loop, not just the codec.
type FrameHeader struct {
	Reliability Reliability
	SN          uint64
}

// EncodeFrameHeader writes a FRAME message's header (id, reliability, sn);
// callers append the encoded network messages themselves.
func EncodeFrameHeader(w *iobuf.WBuf, f FrameHeader) error {
	header := byte(TransportIDFrame) & transportHeaderIDMask
	if f.Reliability == ReliabilityReliable {
		header |= flagReliable
	}
	if err := w.WriteByte(header); err != nil {
		return err
	}
	return EncodeVLE(w, f.SN)
}

// DecodeFrameHeader reads a FRAME message's header, leaving z positioned at
// the start of its network-message payload.
func DecodeFrameHeader(z *iobuf.ZBuf) (FrameHeader, error) {
	header, err := z.ReadByte()
	if err != nil {
		return FrameHeader{}, zerr.ErrParseBytes
	}
	f := FrameHeader{}
	if header&flagReliable != 0 {
		f.Reliability = ReliabilityReliable
	}
	if f.SN, err = DecodeVLE(z); err != nil {
		return FrameHeader{}, err
	}
	return f, nil
}

// FragmentHeader carries a FRAGMENT's reliability, sequence number and
// "more" flag; the payload is a raw byte slice (spec.md §4.5).
type FragmentHeader struct {
	Reliability Reliability
	SN          uint64
	More        bool
}

// EncodeFragment writes a complete FRAGMENT message: header plus payload.
func EncodeFragment(w *iobuf.WBuf, f FragmentHeader, payload []byte) error {
	header := byte(TransportIDFragment) & transportHeaderIDMask
	if f.Reliability == ReliabilityReliable {
		header |= flagReliable
	}
	if f.More {
		header |= flagFrameMore
	}
	if err := w.WriteByte(header); err != nil {
		return err
	}
	if err := EncodeVLE(w, f.SN); err != nil {
		return err
	}
	return EncodeBytes(w, payload)
}

// DecodeFragment reads a complete FRAGMENT message.
func DecodeFragment(z *iobuf.ZBuf) (FragmentHeader, []byte, error) {
	header, err := z.ReadByte()
	if err != nil {
		return FragmentHeader{}, nil, zerr.ErrParseBytes
	}
	f := FragmentHeader{More: header&flagFrameMore != 0}
	if header&flagReliable != 0 {
		f.Reliability = ReliabilityReliable
	}
	if f.SN, err = DecodeVLE(z); err != nil {
		return FragmentHeader{}, nil, err
	}
	payload, err := DecodeBytesCopy(z)
	if err != nil {
		return FragmentHeader{}, nil, err
	}
	return f, payload, nil
}

// Join is the periodic multicast peer announcement (spec.md §4.6).
type Join struct {
	Version      uint8
	WhatAmI      uint8
	ZID          ZID
	SNResolution uint64
	BatchSize    uint16
	LeaseMs      uint64
	NextSNReliable   uint64
	NextSNBestEffort uint64
}

// EncodeJoin writes a JOIN message.
func EncodeJoin(w *iobuf.WBuf, j Join) error {
	if err := w.WriteByte(byte(TransportIDJoin) & transportHeaderIDMask); err != nil {
		return err
	}
	if err := w.WriteByte(j.Version); err != nil {
		return err
	}
	if err := w.WriteByte(j.WhatAmI); err != nil {
		return err
	}
	if err := EncodeZID(w, j.ZID); err != nil {
		return err
	}
	if err := EncodeVLE(w, j.SNResolution); err != nil {
		return err
	}
	if err := EncodeVLE(w, uint64(j.BatchSize)); err != nil {
		return err
	}
	if err := EncodeVLE(w, j.LeaseMs); err != nil {
		return err
	}
	if err := EncodeVLE(w, j.NextSNReliable); err != nil {
		return err
	}
	return EncodeVLE(w, j.NextSNBestEffort)
}

// DecodeJoin reads a JOIN message.
func DecodeJoin(z *iobuf.ZBuf) (Join, error) {
	if _, err := z.ReadByte(); err != nil {
		return Join{}, zerr.ErrParseBytes
	}
	var j Join
	var err error
	if j.Version, err = z.ReadByte(); err != nil {
		return Join{}, zerr.ErrParseBytes
	}
	if j.WhatAmI, err = z.ReadByte(); err != nil {
		return Join{}, zerr.ErrParseBytes
	}
	if j.ZID, err = DecodeZID(z); err != nil {
		return Join{}, err
	}
	if j.SNResolution, err = DecodeVLE(z); err != nil {
		return Join{}, err
	}
	bs, err := DecodeVLE(z)
	if err != nil {
		return Join{}, err
	}
	j.BatchSize = uint16(bs)
	if j.LeaseMs, err = DecodeVLE(z); err != nil {
		return Join{}, err
	}
	if j.NextSNReliable, err = DecodeVLE(z); err != nil {
		return Join{}, err
	}
	if j.NextSNBestEffort, err = DecodeVLE(z); err != nil {
		return Join{}, err
	}
	return j, nil
}

// PeekTransportID returns the low 5 bits of the next byte in z without
// consuming it, used by the transport read loop to dispatch decode calls.
func PeekTransportID(z *iobuf.ZBuf) (TransportID, error) {
	b, err := z.PeekByte()
	if err != nil {
		return 0, zerr.ErrParseBytes
	}
	return TransportID(b & transportHeaderIDMask), nil
}

// PeekNetworkID returns the low 5 bits of the next byte in z without
// consuming it, used by the FRAME payload decode loop.
func PeekNetworkID(z *iobuf.ZBuf) (NetworkID, error) {
	b, err := z.PeekByte()
	if err != nil {
		return 0, zerr.ErrParseBytes
	}
	return NetworkID(b & networkHeaderIDMask), nil
}

// TransportMessage is one message read off a link before a FRAME's payload
// is handed to the network-message layer. Exactly one typed field is
// populated, selected by ID. The link read loop (internal/link,
// internal/transport) decodes a stream of these.
type TransportMessage struct {
	ID       TransportID
	Scout    Scout
	Hello    Hello
	Init     Init
	Open     Open
	Close    Close
	Frame    FrameHeader
	Fragment FragmentHeader
	FragmentPayload []byte
	Join     Join
}

// DecodeTransportMessage peeks the next message's id and dispatches to the
// matching typed decoder. For FRAME, z is left positioned at the start of
// the frame's network-message payload; the caller must consume exactly
// FrameHeader-implied bytes itself (the transport layer tracks batch
// boundaries, not this codec).
func DecodeTransportMessage(z *iobuf.ZBuf) (TransportMessage, error) {
	id, err := PeekTransportID(z)
	if err != nil {
		return TransportMessage{}, err
	}
	switch id {
	case TransportIDScout:
		s, err := DecodeScout(z)
		return TransportMessage{ID: id, Scout: s}, err
	case TransportIDHello:
		h, err := DecodeHello(z)
		return TransportMessage{ID: id, Hello: h}, err
	case TransportIDInit:
		in, err := DecodeInit(z)
		return TransportMessage{ID: id, Init: in}, err
	case TransportIDOpen:
		o, err := DecodeOpen(z)
		return TransportMessage{ID: id, Open: o}, err
	case TransportIDClose:
		c, err := DecodeClose(z)
		return TransportMessage{ID: id, Close: c}, err
	case TransportIDKeepAlive:
		err := DecodeKeepAlive(z)
		return TransportMessage{ID: id}, err
	case TransportIDFrame:
		f, err := DecodeFrameHeader(z)
		return TransportMessage{ID: id, Frame: f}, err
	case TransportIDFragment:
		f, payload, err := DecodeFragment(z)
		return TransportMessage{ID: id, Fragment: f, FragmentPayload: payload}, err
	case TransportIDJoin:
		j, err := DecodeJoin(z)
		return TransportMessage{ID: id, Join: j}, err
	default:
		return TransportMessage{}, zerr.ErrMessageUnknown
	}
}
