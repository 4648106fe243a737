package wire

import (
	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// ExtBodyShape is the 2-bit body-shape tag carried in an extension header
// (spec.md §4.2).
type ExtBodyShape uint8

// Extension body shapes, per the 2-bit ext_header field.
const (
	ExtShapeUnit ExtBodyShape = iota
	ExtShapeZInt
	ExtShapeBytes
	ExtShapeMessage
)

const (
	extIDMask       = 0x1f // low 5 bits: extension id
	extShapeMask    = 0x60 // middle 2 bits: body shape
	extShapeShift   = 5
	extFlagMoreMask = 0x80 // high bit: "Z", more extensions follow
	extFlagMandatoryMask = 0x10 // the mandatory bit rides in the id field's own high bit; see Extension.Mandatory
)

// Extension is one (ext_header, body) pair trailing a message (spec.md
// §4.2). Body holds the raw bytes appropriate to Shape: empty for
// ExtShapeUnit, a VLE-encoded integer for ExtShapeZInt, a length-prefixed
// byte slice's payload for ExtShapeBytes, or a nested encoded message for
// ExtShapeMessage.
type Extension struct {
	ID        uint8
	Shape     ExtBodyShape
	Mandatory bool
	Body      []byte
}

// EncodeExtensions writes exts as a trailing sequence of (ext_header, body)
// pairs, setting the "Z: more follow" bit on every extension but the last.
func EncodeExtensions(w *iobuf.WBuf, exts []Extension) error {
	for i, e := range exts {
		header := e.ID & extIDMask
		header |= uint8(e.Shape) << extShapeShift
		if e.Mandatory {
			header |= extFlagMandatoryMask
		}
		if i != len(exts)-1 {
			header |= extFlagMoreMask
		}
		if err := w.WriteByte(header); err != nil {
			return err
		}
		switch e.Shape {
		case ExtShapeUnit:
			// no body
		case ExtShapeZInt:
			if err := w.WriteBytes(e.Body); err != nil {
				return err
			}
		case ExtShapeBytes, ExtShapeMessage:
			if err := EncodeBytes(w, e.Body); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeExtensions reads a trailing sequence of extensions until an
// ext_header without the "more" bit is consumed. Unknown non-mandatory
// extensions are kept in the returned slice (the caller decides whether it
// recognizes the id); an unknown *mandatory* extension the caller cannot
// interpret MUST be rejected with zerr.ErrExtensionMandatory by the caller
// inspecting Extension.Mandatory, per spec.md §4.2.
func DecodeExtensions(z *iobuf.ZBuf) ([]Extension, error) {
	var exts []Extension
	for {
		header, err := z.ReadByte()
		if err != nil {
			return nil, zerr.ErrParseExtension
		}
		e := Extension{
			ID:        header & extIDMask,
			Shape:     ExtBodyShape((header & extShapeMask) >> extShapeShift),
			Mandatory: header&extFlagMandatoryMask != 0,
		}
		switch e.Shape {
		case ExtShapeUnit:
		case ExtShapeZInt:
			v, err := DecodeVLE(z)
			if err != nil {
				return nil, zerr.ErrParseExtension
			}
			body := iobuf.NewExpandableWBuf(maxVLEBytes)
			if err := EncodeVLE(body, v); err != nil {
				return nil, err
			}
			e.Body = body.Bytes()
		case ExtShapeBytes, ExtShapeMessage:
			b, err := DecodeBytesCopy(z)
			if err != nil {
				return nil, zerr.ErrParseExtension
			}
			e.Body = b
		default:
			return nil, zerr.ErrParseExtension
		}
		exts = append(exts, e)
		if header&extFlagMoreMask == 0 {
			return exts, nil
		}
	}
}

// SkipUnknown reports whether a decoder should transparently skip ext (its
// mandatory bit is clear) or must fail with zerr.ErrExtensionMandatory (bit
// set), for ids it does not recognize.
func SkipUnknown(ext Extension) error {
	if ext.Mandatory {
		return zerr.ErrExtensionMandatory
	}
	return nil
}
