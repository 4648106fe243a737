package wire

import (
	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// NetworkID identifies the variant of a network message carried inside a
// FRAME payload (spec.md §4.2 "Network" table).
type NetworkID uint8

// Network message ids.
const (
	NetworkIDPush           NetworkID = 0x00
	NetworkIDRequest        NetworkID = 0x01
	NetworkIDResponse       NetworkID = 0x02
	NetworkIDResponseFinal  NetworkID = 0x03
	NetworkIDDeclare        NetworkID = 0x04
	NetworkIDInterest       NetworkID = 0x05
)

const networkHeaderIDMask = 0x1f

// flag bits shared/reused per network message kind.
const (
	flagPushExt        = 0x80
	flagRequestExt     = 0x80
	flagDeclareInterestID = 0x20
	flagInterestKey    = 0x40
)

// InterestFlags are the bits of an INTEREST message's flags field (spec.md
// §4.2; also drives the "declarations"/"current"/"future" semantics of
// spec.md §4.8 and §9).
type InterestFlags uint8

// Interest flag bits.
const (
	InterestFlagKeyExprs InterestFlags = 1 << iota
	InterestFlagSubscribers
	InterestFlagQueryables
	InterestFlagTokens
	InterestFlagCurrent
	InterestFlagFuture
	InterestFlagAggregate
)

// Push carries a PUT or DELETE sample toward matching subscribers
// (spec.md §4.2, §4.8).
type Push struct {
	Key      WireKeyExpr
	Kind     SampleKind
	Payload  []byte
	Encoding *Encoding
	Timestamp *Timestamp
	Attachment []byte
}

// EncodePush writes a PUSH network message.
func EncodePush(w *iobuf.WBuf, p Push) error {
	keFlags := encodeKeyExprFlags(p.Key)
	header := byte(NetworkIDPush) & networkHeaderIDMask
	header |= keFlags
	if p.Kind == SampleKindDelete {
		header |= 0x08
	}
	var exts []Extension
	if p.Encoding != nil {
		eb := iobuf.NewExpandableWBuf(8)
		if err := EncodeEncoding(eb, *p.Encoding); err != nil {
			return err
		}
		exts = append(exts, Extension{ID: 0x01, Shape: ExtShapeBytes, Body: eb.Bytes()})
	}
	if p.Timestamp != nil {
		tb := iobuf.NewExpandableWBuf(24)
		if err := EncodeTimestamp(tb, *p.Timestamp); err != nil {
			return err
		}
		exts = append(exts, Extension{ID: 0x02, Shape: ExtShapeBytes, Body: tb.Bytes()})
	}
	if p.Attachment != nil {
		exts = append(exts, Extension{ID: 0x03, Shape: ExtShapeBytes, Body: p.Attachment})
	}
	if len(exts) > 0 {
		header |= flagPushExt
	}
	if err := w.WriteByte(header); err != nil {
		return err
	}
	if err := encodeKeyExprBody(w, p.Key, keFlags); err != nil {
		return err
	}
	if len(exts) > 0 {
		if err := EncodeExtensions(w, exts); err != nil {
			return err
		}
	}
	return EncodeBytes(w, p.Payload)
}

// DecodePush reads a PUSH network message.
func DecodePush(z *iobuf.ZBuf) (Push, error) {
	header, err := z.ReadByte()
	if err != nil {
		return Push{}, zerr.ErrParseBytes
	}
	keFlags := header &^ networkHeaderIDMask &^ 0x08 &^ flagPushExt
	key, err := decodeKeyExprBody(z, keFlags)
	if err != nil {
		return Push{}, err
	}
	p := Push{Key: key}
	if header&0x08 != 0 {
		p.Kind = SampleKindDelete
	}
	if header&flagPushExt != 0 {
		exts, err := DecodeExtensions(z)
		if err != nil {
			return Push{}, err
		}
		for _, e := range exts {
			switch e.ID {
			case 0x01:
				enc, err := DecodeEncoding(iobuf.NewZBuf(e.Body))
				if err != nil {
					return Push{}, err
				}
				p.Encoding = &enc
			case 0x02:
				ts, err := DecodeTimestamp(iobuf.NewZBuf(e.Body))
				if err != nil {
					return Push{}, err
				}
				p.Timestamp = &ts
			case 0x03:
				p.Attachment = e.Body
			default:
				if err := SkipUnknown(e); err != nil {
					return Push{}, err
				}
			}
		}
	}
	payload, err := DecodeBytesCopy(z)
	if err != nil {
		return Push{}, err
	}
	p.Payload = payload
	return p, nil
}

// Request carries a QUERY (and historically DECLARE/interest payloads,
// folded here into the Declare/Interest messages per spec.md's catalog)
// toward matching queryables (spec.md §4.2, §4.8).
type Request struct {
	RequestID  uint64
	Key        WireKeyExpr
	Payload    []byte
	Encoding   *Encoding
	Attachment []byte
	Consolidation uint8
}

// EncodeRequest writes a REQUEST network message carrying a QUERY.
func EncodeRequest(w *iobuf.WBuf, r Request) error {
	keFlags := encodeKeyExprFlags(r.Key)
	header := byte(NetworkIDRequest) & networkHeaderIDMask
	header |= keFlags
	var exts []Extension
	if r.Encoding != nil {
		eb := iobuf.NewExpandableWBuf(8)
		if err := EncodeEncoding(eb, *r.Encoding); err != nil {
			return err
		}
		exts = append(exts, Extension{ID: 0x01, Shape: ExtShapeBytes, Body: eb.Bytes()})
	}
	if r.Attachment != nil {
		exts = append(exts, Extension{ID: 0x02, Shape: ExtShapeBytes, Body: r.Attachment})
	}
	exts = append(exts, zintExt(0x03, uint64(r.Consolidation)))
	header |= flagRequestExt
	if err := w.WriteByte(header); err != nil {
		return err
	}
	if err := EncodeVLE(w, r.RequestID); err != nil {
		return err
	}
	if err := encodeKeyExprBody(w, r.Key, keFlags); err != nil {
		return err
	}
	if err := EncodeExtensions(w, exts); err != nil {
		return err
	}
	return EncodeBytes(w, r.Payload)
}

// DecodeRequest reads a REQUEST network message.
func DecodeRequest(z *iobuf.ZBuf) (Request, error) {
	header, err := z.ReadByte()
	if err != nil {
		return Request{}, zerr.ErrParseBytes
	}
	keFlags := header &^ networkHeaderIDMask &^ flagRequestExt
	reqID, err := DecodeVLE(z)
	if err != nil {
		return Request{}, err
	}
	key, err := decodeKeyExprBody(z, keFlags)
	if err != nil {
		return Request{}, err
	}
	r := Request{RequestID: reqID, Key: key}
	if header&flagRequestExt != 0 {
		exts, err := DecodeExtensions(z)
		if err != nil {
			return Request{}, err
		}
		for _, e := range exts {
			switch e.ID {
			case 0x01:
				enc, err := DecodeEncoding(iobuf.NewZBuf(e.Body))
				if err != nil {
					return Request{}, err
				}
				r.Encoding = &enc
			case 0x02:
				r.Attachment = e.Body
			case 0x03:
				r.Consolidation = uint8(u64FromBody(e.Body))
			default:
				if err := SkipUnknown(e); err != nil {
					return Request{}, err
				}
			}
		}
	}
	payload, err := DecodeBytesCopy(z)
	if err != nil {
		return Request{}, err
	}
	r.Payload = payload
	return r, nil
}

// Response carries a REPLY (or an error/ack) back toward the requester
// (spec.md §4.2, §4.8).
type Response struct {
	RequestID uint64
	Key       WireKeyExpr
	Kind      SampleKind
	IsError   bool
	Payload   []byte
	Encoding  *Encoding
	Timestamp *Timestamp
}

// EncodeResponse writes a RESPONSE network message.
func EncodeResponse(w *iobuf.WBuf, r Response) error {
	keFlags := encodeKeyExprFlags(r.Key)
	header := byte(NetworkIDResponse) & networkHeaderIDMask
	header |= keFlags
	if r.IsError {
		header |= 0x08
	}
	var exts []Extension
	if r.Encoding != nil {
		eb := iobuf.NewExpandableWBuf(8)
		if err := EncodeEncoding(eb, *r.Encoding); err != nil {
			return err
		}
		exts = append(exts, Extension{ID: 0x01, Shape: ExtShapeBytes, Body: eb.Bytes()})
	}
	if r.Timestamp != nil {
		tb := iobuf.NewExpandableWBuf(24)
		if err := EncodeTimestamp(tb, *r.Timestamp); err != nil {
			return err
		}
		exts = append(exts, Extension{ID: 0x02, Shape: ExtShapeBytes, Body: tb.Bytes()})
	}
	if len(exts) > 0 {
		header |= flagPushExt
	}
	if err := w.WriteByte(header); err != nil {
		return err
	}
	if err := EncodeVLE(w, r.RequestID); err != nil {
		return err
	}
	if err := encodeKeyExprBody(w, r.Key, keFlags); err != nil {
		return err
	}
	if len(exts) > 0 {
		if err := EncodeExtensions(w, exts); err != nil {
			return err
		}
	}
	return EncodeBytes(w, r.Payload)
}

// DecodeResponse reads a RESPONSE network message.
func DecodeResponse(z *iobuf.ZBuf) (Response, error) {
	header, err := z.ReadByte()
	if err != nil {
		return Response{}, zerr.ErrParseBytes
	}
	keFlags := header &^ networkHeaderIDMask &^ 0x08 &^ flagPushExt
	reqID, err := DecodeVLE(z)
	if err != nil {
		return Response{}, err
	}
	key, err := decodeKeyExprBody(z, keFlags)
	if err != nil {
		return Response{}, err
	}
	r := Response{RequestID: reqID, Key: key, IsError: header&0x08 != 0}
	if header&flagPushExt != 0 {
		exts, err := DecodeExtensions(z)
		if err != nil {
			return Response{}, err
		}
		for _, e := range exts {
			switch e.ID {
			case 0x01:
				enc, err := DecodeEncoding(iobuf.NewZBuf(e.Body))
				if err != nil {
					return Response{}, err
				}
				r.Encoding = &enc
			case 0x02:
				ts, err := DecodeTimestamp(iobuf.NewZBuf(e.Body))
				if err != nil {
					return Response{}, err
				}
				r.Timestamp = &ts
			default:
				if err := SkipUnknown(e); err != nil {
					return Response{}, err
				}
			}
		}
	}
	payload, err := DecodeBytesCopy(z)
	if err != nil {
		return Response{}, err
	}
	r.Payload = payload
	return r, nil
}

// ResponseFinal terminates the reply stream for a request (spec.md §4.2,
// §4.8).
type ResponseFinal struct {
	RequestID uint64
}

// EncodeResponseFinal writes a RESPONSE_FINAL network message.
func EncodeResponseFinal(w *iobuf.WBuf, r ResponseFinal) error {
	if err := w.WriteByte(byte(NetworkIDResponseFinal) & networkHeaderIDMask); err != nil {
		return err
	}
	return EncodeVLE(w, r.RequestID)
}

// DecodeResponseFinal reads a RESPONSE_FINAL network message (the header
// byte must already have been consumed by the caller's dispatch, mirroring
// DecodeNetworkMessage's contract; here we re-read it for a self-contained
// API).
func DecodeResponseFinal(z *iobuf.ZBuf) (ResponseFinal, error) {
	if _, err := z.ReadByte(); err != nil {
		return ResponseFinal{}, zerr.ErrParseBytes
	}
	reqID, err := DecodeVLE(z)
	if err != nil {
		return ResponseFinal{}, err
	}
	return ResponseFinal{RequestID: reqID}, nil
}

// Declare carries a single Declaration, optionally attributed to an active
// Interest by id (spec.md §4.2, §4.8).
type Declare struct {
	InterestID uint64
	HasInterestID bool
	Body       Declaration
}

// EncodeDeclare writes a DECLARE network message.
func EncodeDeclare(w *iobuf.WBuf, d Declare) error {
	header := byte(NetworkIDDeclare) & networkHeaderIDMask
	if d.HasInterestID {
		header |= flagDeclareInterestID
	}
	if err := w.WriteByte(header); err != nil {
		return err
	}
	if d.HasInterestID {
		if err := EncodeVLE(w, d.InterestID); err != nil {
			return err
		}
	}
	return EncodeDeclaration(w, d.Body)
}

// DecodeDeclare reads a DECLARE network message.
func DecodeDeclare(z *iobuf.ZBuf) (Declare, error) {
	header, err := z.ReadByte()
	if err != nil {
		return Declare{}, zerr.ErrParseBytes
	}
	d := Declare{}
	if header&flagDeclareInterestID != 0 {
		id, err := DecodeVLE(z)
		if err != nil {
			return Declare{}, err
		}
		d.InterestID, d.HasInterestID = id, true
	}
	body, err := DecodeDeclaration(z)
	if err != nil {
		return Declare{}, err
	}
	d.Body = body
	return d, nil
}

// Interest declares a standing subscription to future (and optionally
// current) declarations matching Key (spec.md §4.2, §4.8, §9).
type Interest struct {
	ID    uint64
	Flags InterestFlags
	Key   WireKeyExpr
}

// EncodeInterest writes an INTEREST network message.
func EncodeInterest(w *iobuf.WBuf, it Interest) error {
	hasKey := it.Flags&InterestFlagKeyExprs != 0 && (it.Key.hasID() || it.Key.Suffix != "")
	header := byte(NetworkIDInterest) & networkHeaderIDMask
	if hasKey {
		header |= flagInterestKey
	}
	if err := w.WriteByte(header); err != nil {
		return err
	}
	if err := EncodeVLE(w, it.ID); err != nil {
		return err
	}
	if err := w.WriteByte(byte(it.Flags)); err != nil {
		return err
	}
	if hasKey {
		keFlags := encodeKeyExprFlags(it.Key)
		if err := w.WriteByte(keFlags); err != nil {
			return err
		}
		return encodeKeyExprBody(w, it.Key, keFlags)
	}
	return nil
}

// DecodeInterest reads an INTEREST network message.
func DecodeInterest(z *iobuf.ZBuf) (Interest, error) {
	header, err := z.ReadByte()
	if err != nil {
		return Interest{}, zerr.ErrParseBytes
	}
	id, err := DecodeVLE(z)
	if err != nil {
		return Interest{}, err
	}
	flagsByte, err := z.ReadByte()
	if err != nil {
		return Interest{}, zerr.ErrParseBytes
	}
	it := Interest{ID: id, Flags: InterestFlags(flagsByte)}
	if header&flagInterestKey != 0 {
		keFlags, err := z.ReadByte()
		if err != nil {
			return Interest{}, zerr.ErrParseBytes
		}
		key, err := decodeKeyExprBody(z, keFlags)
		if err != nil {
			return Interest{}, err
		}
		it.Key = key
	}
	return it, nil
}

// NetworkMessage is one decoded entry of a FRAME's payload, tagged by ID
// with exactly one of the typed fields populated. The transport layer's
// frame-reassembly loop (internal/transport) decodes a stream of these from
// a defragmented FRAME body and dispatches each to the session layer.
type NetworkMessage struct {
	ID            NetworkID
	Push          Push
	Request       Request
	Response      Response
	ResponseFinal ResponseFinal
	Declare       Declare
	Interest      Interest
}

// DecodeNetworkMessage peeks the next message's id and dispatches to the
// matching typed decoder, wrapping the result uniformly for the frame
// reassembly loop.
func DecodeNetworkMessage(z *iobuf.ZBuf) (NetworkMessage, error) {
	id, err := PeekNetworkID(z)
	if err != nil {
		return NetworkMessage{}, err
	}
	switch id {
	case NetworkIDPush:
		p, err := DecodePush(z)
		return NetworkMessage{ID: id, Push: p}, err
	case NetworkIDRequest:
		r, err := DecodeRequest(z)
		return NetworkMessage{ID: id, Request: r}, err
	case NetworkIDResponse:
		r, err := DecodeResponse(z)
		return NetworkMessage{ID: id, Response: r}, err
	case NetworkIDResponseFinal:
		r, err := DecodeResponseFinal(z)
		return NetworkMessage{ID: id, ResponseFinal: r}, err
	case NetworkIDDeclare:
		d, err := DecodeDeclare(z)
		return NetworkMessage{ID: id, Declare: d}, err
	case NetworkIDInterest:
		it, err := DecodeInterest(z)
		return NetworkMessage{ID: id, Interest: it}, err
	default:
		return NetworkMessage{}, zerr.ErrMessageUnknown
	}
}

// EncodeNetworkMessage dispatches msg to its typed encoder by ID.
func EncodeNetworkMessage(w *iobuf.WBuf, msg NetworkMessage) error {
	switch msg.ID {
	case NetworkIDPush:
		return EncodePush(w, msg.Push)
	case NetworkIDRequest:
		return EncodeRequest(w, msg.Request)
	case NetworkIDResponse:
		return EncodeResponse(w, msg.Response)
	case NetworkIDResponseFinal:
		return EncodeResponseFinal(w, msg.ResponseFinal)
	case NetworkIDDeclare:
		return EncodeDeclare(w, msg.Declare)
	case NetworkIDInterest:
		return EncodeInterest(w, msg.Interest)
	default:
		return zerr.ErrMessageUnknown
	}
}
