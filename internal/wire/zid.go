package wire

import (
	"bytes"

	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// ZID is a Zenoh session identifier: 1-16 bytes, little-endian, with
// trailing zero bytes trimmed on the wire (spec.md §3). Two ZIDs are equal
// iff their byte content is equal.
type ZID struct {
	bytes [16]byte
	size  uint8 // number of significant bytes, 1-16
}

// NewZID builds a ZID from up to 16 raw bytes (already little-endian).
// Longer input is truncated to 16 bytes.
func NewZID(raw []byte) ZID {
	var z ZID
	n := len(raw)
	if n > 16 {
		n = 16
	}
	if n == 0 {
		n = 1 // a ZID is never empty; an all-zero 1-byte id is the degenerate case.
	}
	copy(z.bytes[:], raw[:min(n, len(raw))])
	z.size = uint8(n)
	return z
}

// Bytes returns the significant little-endian bytes of the ZID.
func (z ZID) Bytes() []byte { return z.bytes[:z.size] }

// Equal reports whether two ZIDs have identical byte content.
func (z ZID) Equal(o ZID) bool { return bytes.Equal(z.Bytes(), o.Bytes()) }

// String renders the ZID as lowercase hex, most-significant byte first
// (i.e. reversed from its little-endian wire order), matching zenoh's
// conventional display form.
func (z ZID) String() string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, z.size*2)
	for i := 0; i < int(z.size); i++ {
		b := z.bytes[int(z.size)-1-i]
		out[i*2] = hexdigits[b>>4]
		out[i*2+1] = hexdigits[b&0xf]
	}
	return string(out)
}

// trimmedLen returns the number of significant bytes after trimming
// trailing (high-order) zero bytes, per spec.md §3, with a floor of 1 byte.
func trimmedLen(raw []byte) int {
	n := len(raw)
	for n > 1 && raw[n-1] == 0 {
		n--
	}
	return n
}

// EncodeZID writes the ZID's length (1 byte, values 1-16) followed by its
// trailing-zero-trimmed significant bytes.
func EncodeZID(w *iobuf.WBuf, z ZID) error {
	n := trimmedLen(z.Bytes())
	if err := w.WriteByte(byte(n - 1)); err != nil { // length field is (n-1): 0 means 1 byte.
		return err
	}
	return w.WriteBytes(z.bytes[:n])
}

// DecodeZID reads a ZID encoded by EncodeZID.
func DecodeZID(z *iobuf.ZBuf) (ZID, error) {
	lenByte, err := z.ReadByte()
	if err != nil {
		return ZID{}, zerr.ErrParseBytes
	}
	n := int(lenByte) + 1
	raw, err := z.ReadExact(n)
	if err != nil {
		return ZID{}, zerr.ErrParseBytes
	}
	return NewZID(raw), nil
}
