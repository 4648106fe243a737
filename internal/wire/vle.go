// Package wire implements the Zenoh transport/network/declaration/scouting
// message codec (spec.md §4.2): VLE integers, length-prefixed strings and
// slices, message headers with flag bits, and the extension mechanism.
//
// Grounded on the teacher's manual binary.BigEndian header codec
// (internal/bfd/packet.go's Marshal/Unmarshal pair-per-struct layout), with
// encoding/binary replaced by hand-rolled base-128 VLE per spec.md since
// that is the wire format itself, not a generic serialization concern any
// retrieved library covers.
package wire

import (
	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// maxVLEBytes is the maximum number of continuation bytes for a 64-bit VLE
// value: ceil(64/7) = 10 (spec.md §4.2, §8 property 3).
const maxVLEBytes = 10

// EncodeVLE appends the base-128 little-endian VLE encoding of v to w.
// Encodes v=0 as a single zero byte; otherwise uses
// ceil(bitlen(v)/7) bytes, per spec.md §8 property 3.
func EncodeVLE(w *iobuf.WBuf, v uint64) error {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		if err := w.WriteByte(b); err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}

// DecodeVLE reads a base-128 VLE integer from z. Fails with
// zerr.ErrParseVLE if the stream ends before a terminating byte (MSB
// clear) or if decoding would require more than 10 continuation bytes
// (64-bit overflow), per spec.md §8's VLE overflow boundary case.
func DecodeVLE(z *iobuf.ZBuf) (uint64, error) {
	var v uint64
	for i := range maxVLEBytes {
		b, err := z.ReadByte()
		if err != nil {
			return 0, zerr.ErrParseVLE
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, zerr.ErrParseVLE
}

// VLESize returns the number of bytes EncodeVLE would emit for v.
func VLESize(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}
