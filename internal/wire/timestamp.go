package wire

import (
	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// Timestamp is an opaque 64-bit time value plus the ZID of the issuing
// node (spec.md §3). Monotonic per issuer by contract; this package does
// not itself enforce monotonicity, only encode/decode.
type Timestamp struct {
	Time uint64
	ID   ZID
}

// EncodeTimestamp writes the time as a VLE (not fixed-width: zenoh-pico
// encodes the NTP64 time as a VLE like any other u64 field) followed by the
// issuing ZID.
func EncodeTimestamp(w *iobuf.WBuf, ts Timestamp) error {
	if err := EncodeVLE(w, ts.Time); err != nil {
		return err
	}
	return EncodeZID(w, ts.ID)
}

// DecodeTimestamp reads a Timestamp encoded by EncodeTimestamp.
func DecodeTimestamp(z *iobuf.ZBuf) (Timestamp, error) {
	t, err := DecodeVLE(z)
	if err != nil {
		return Timestamp{}, zerr.ErrParseTimestamp
	}
	id, err := DecodeZID(z)
	if err != nil {
		return Timestamp{}, zerr.ErrParseTimestamp
	}
	return Timestamp{Time: t, ID: id}, nil
}
