package wire

import (
	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
)

// EncodeBytes writes a VLE length prefix followed by bs.
func EncodeBytes(w *iobuf.WBuf, bs []byte) error {
	if err := EncodeVLE(w, uint64(len(bs))); err != nil {
		return err
	}
	return w.WriteBytes(bs)
}

// DecodeBytes reads a VLE-length-prefixed byte slice. The returned slice
// aliases z's backing array; callers that need it to outlive z must copy.
func DecodeBytes(z *iobuf.ZBuf) ([]byte, error) {
	n, err := DecodeVLE(z)
	if err != nil {
		return nil, err
	}
	return z.ReadExact(int(n))
}

// DecodeBytesCopy is DecodeBytes followed by a defensive copy (spec.md §5:
// data escaping a callback must be copied by the callback).
func DecodeBytesCopy(z *iobuf.ZBuf) ([]byte, error) {
	n, err := DecodeVLE(z)
	if err != nil {
		return nil, err
	}
	return z.ReadExactCopy(int(n))
}

// EncodeString writes s as a VLE-length-prefixed byte slice.
func EncodeString(w *iobuf.WBuf, s string) error {
	return EncodeBytes(w, []byte(s))
}

// DecodeString reads a VLE-length-prefixed UTF-8 string, copying its bytes
// (strings must own their data; Go string conversion already copies).
func DecodeString(z *iobuf.ZBuf) (string, error) {
	bs, err := DecodeBytes(z)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

// BytesSize returns the wire size of EncodeBytes(bs): the VLE length prefix
// plus len(bs).
func BytesSize(bs []byte) int {
	return VLESize(uint64(len(bs))) + len(bs)
}
