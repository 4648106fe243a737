package wire

import (
	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// WireKeyExpr is the wire representation of a key expression (spec.md §3):
// either a textual Suffix, or a numeric ID into the peer's mapping table
// with an optional Suffix to append to the stored prefix.
type WireKeyExpr struct {
	ID     uint64 // 0 means "no id, Suffix is the whole key"
	Suffix string
}

// hasID reports whether ke carries a nonzero mapping id.
func (ke WireKeyExpr) hasID() bool { return ke.ID != 0 }

// keyExprFlags, used by PUSH/REQUEST/RESPONSE/INTEREST/declaration headers:
// bit N marks "id is present", bit S marks "suffix is present".
const (
	flagKeyExprN = 0x20
	flagKeyExprS = 0x40
)

func encodeKeyExprFlags(ke WireKeyExpr) uint8 {
	var f uint8
	if ke.hasID() {
		f |= flagKeyExprN
	}
	if ke.Suffix != "" {
		f |= flagKeyExprS
	}
	return f
}

func encodeKeyExprBody(w *iobuf.WBuf, ke WireKeyExpr, flags uint8) error {
	if flags&flagKeyExprN != 0 {
		if err := EncodeVLE(w, ke.ID); err != nil {
			return err
		}
	}
	if flags&flagKeyExprS != 0 {
		if err := EncodeString(w, ke.Suffix); err != nil {
			return err
		}
	}
	return nil
}

func decodeKeyExprBody(z *iobuf.ZBuf, flags uint8) (WireKeyExpr, error) {
	var ke WireKeyExpr
	if flags&flagKeyExprN != 0 {
		id, err := DecodeVLE(z)
		if err != nil {
			return ke, err
		}
		ke.ID = id
	}
	if flags&flagKeyExprS != 0 {
		s, err := DecodeString(z)
		if err != nil {
			return ke, err
		}
		ke.Suffix = s
	}
	if ke.ID == 0 && ke.Suffix == "" {
		return ke, zerr.ErrParseKeyexpr
	}
	return ke, nil
}

// Encoding is the (prefix_id, suffix) MIME-like payload type tag (spec.md
// §3).
type Encoding struct {
	PrefixID uint16
	Suffix   []byte
}

// EncodeEncoding writes e as a VLE prefix id followed by a length-prefixed
// suffix.
func EncodeEncoding(w *iobuf.WBuf, e Encoding) error {
	if err := EncodeVLE(w, uint64(e.PrefixID)); err != nil {
		return err
	}
	return EncodeBytes(w, e.Suffix)
}

// DecodeEncoding reads an Encoding written by EncodeEncoding.
func DecodeEncoding(z *iobuf.ZBuf) (Encoding, error) {
	id, err := DecodeVLE(z)
	if err != nil {
		return Encoding{}, err
	}
	suffix, err := DecodeBytesCopy(z)
	if err != nil {
		return Encoding{}, err
	}
	return Encoding{PrefixID: uint16(id), Suffix: suffix}, nil
}

// SampleKind distinguishes a PUT from a DELETE payload (spec.md §3).
type SampleKind uint8

// Sample kinds.
const (
	SampleKindPut SampleKind = iota
	SampleKindDelete
)

// Reliability selects the per-channel sequence-number stream a frame
// belongs to (spec.md §3 "Per-peer transport state").
type Reliability uint8

// Reliability channels.
const (
	ReliabilityBestEffort Reliability = iota
	ReliabilityReliable
)

// CongestionControl selects the outbound queue-full policy for a message
// (spec.md §9 "congestion-control semantics... block vs drop").
type CongestionControl uint8

// Congestion control policies.
const (
	CongestionControlDrop CongestionControl = iota
	CongestionControlBlock
)
