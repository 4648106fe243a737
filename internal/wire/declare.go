package wire

import (
	"github.com/zenoh-pico-go/zenohpico/internal/iobuf"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// DeclarationID identifies the variant of a Declaration (spec.md §4.2
// "Declare" table).
type DeclarationID uint8

// Declaration variant ids.
const (
	DeclIDKeyExpr        DeclarationID = 0x00
	DeclIDUndeclKeyExpr  DeclarationID = 0x01
	DeclIDSubscriber     DeclarationID = 0x02
	DeclIDUndeclSubscriber DeclarationID = 0x03
	DeclIDQueryable      DeclarationID = 0x04
	DeclIDUndeclQueryable DeclarationID = 0x05
	DeclIDToken          DeclarationID = 0x06
	DeclIDUndeclToken    DeclarationID = 0x07
	DeclIDFinal          DeclarationID = 0x1A
)

const declHeaderIDMask = 0x1f

// Declaration is one entry of a DECLARE message's payload (spec.md §4.2).
// Exactly one of the typed fields is populated, selected by ID.
type Declaration struct {
	ID DeclarationID

	// DECL_KEYEXPR / UNDECL_KEYEXPR
	KeyExprID uint64
	Suffix    string // present (possibly empty) only for DECL_KEYEXPR

	// DECL_SUBSCRIBER / DECL_QUERYABLE / DECL_TOKEN / their UNDECL variants
	EntityID uint64
	Key      WireKeyExpr // Key.Suffix == "" && Key.ID == 0 means "not present" (UNDECL_* without key)

	// DECL_QUERYABLE only
	Complete bool
	Distance uint64
	HasComplete bool
	HasDistance bool
}

// EncodeDeclaration writes a single Declaration, dispatching on its ID.
func EncodeDeclaration(w *iobuf.WBuf, d Declaration) error {
	switch d.ID {
	case DeclIDKeyExpr:
		if err := w.WriteByte(byte(d.ID) & declHeaderIDMask); err != nil {
			return err
		}
		if err := EncodeVLE(w, d.KeyExprID); err != nil {
			return err
		}
		return EncodeString(w, d.Suffix)

	case DeclIDUndeclKeyExpr:
		if err := w.WriteByte(byte(d.ID) & declHeaderIDMask); err != nil {
			return err
		}
		return EncodeVLE(w, d.KeyExprID)

	case DeclIDSubscriber, DeclIDToken:
		flags := encodeKeyExprFlags(d.Key)
		if err := w.WriteByte((byte(d.ID) & declHeaderIDMask) | flags); err != nil {
			return err
		}
		if err := EncodeVLE(w, d.EntityID); err != nil {
			return err
		}
		return encodeKeyExprBody(w, d.Key, flags)

	case DeclIDUndeclSubscriber, DeclIDUndeclToken:
		hasKey := d.Key.hasID() || d.Key.Suffix != ""
		flags := encodeKeyExprFlags(d.Key)
		header := byte(d.ID) & declHeaderIDMask
		if hasKey {
			header |= flags
		}
		if err := w.WriteByte(header); err != nil {
			return err
		}
		if err := EncodeVLE(w, d.EntityID); err != nil {
			return err
		}
		if hasKey {
			return encodeKeyExprBody(w, d.Key, flags)
		}
		return nil

	case DeclIDQueryable:
		flags := encodeKeyExprFlags(d.Key)
		if err := w.WriteByte((byte(d.ID) & declHeaderIDMask) | flags); err != nil {
			return err
		}
		if err := EncodeVLE(w, d.EntityID); err != nil {
			return err
		}
		if err := encodeKeyExprBody(w, d.Key, flags); err != nil {
			return err
		}
		var qexts []Extension
		if d.HasComplete {
			qexts = append(qexts, zintExt(0x01, boolToU64(d.Complete)))
		}
		if d.HasDistance {
			qexts = append(qexts, zintExt(0x02, d.Distance))
		}
		return EncodeExtensions(w, qexts)

	case DeclIDUndeclQueryable:
		hasKey := d.Key.hasID() || d.Key.Suffix != ""
		flags := encodeKeyExprFlags(d.Key)
		header := byte(d.ID) & declHeaderIDMask
		if hasKey {
			header |= flags
		}
		if err := w.WriteByte(header); err != nil {
			return err
		}
		if err := EncodeVLE(w, d.EntityID); err != nil {
			return err
		}
		if hasKey {
			return encodeKeyExprBody(w, d.Key, flags)
		}
		return nil

	case DeclIDFinal:
		return w.WriteByte(byte(d.ID) & declHeaderIDMask)

	default:
		return zerr.ErrMessageUnknown
	}
}

// DecodeDeclaration reads a single Declaration, dispatching on the low 5
// bits of its header byte.
func DecodeDeclaration(z *iobuf.ZBuf) (Declaration, error) {
	header, err := z.ReadByte()
	if err != nil {
		return Declaration{}, zerr.ErrParseBytes
	}
	id := DeclarationID(header & declHeaderIDMask)
	flags := header &^ declHeaderIDMask

	switch id {
	case DeclIDKeyExpr:
		keID, err := DecodeVLE(z)
		if err != nil {
			return Declaration{}, err
		}
		suffix, err := DecodeString(z)
		if err != nil {
			return Declaration{}, err
		}
		return Declaration{ID: id, KeyExprID: keID, Suffix: suffix}, nil

	case DeclIDUndeclKeyExpr:
		keID, err := DecodeVLE(z)
		if err != nil {
			return Declaration{}, err
		}
		return Declaration{ID: id, KeyExprID: keID}, nil

	case DeclIDSubscriber, DeclIDToken:
		entID, err := DecodeVLE(z)
		if err != nil {
			return Declaration{}, err
		}
		key, err := decodeKeyExprBody(z, flags)
		if err != nil {
			return Declaration{}, err
		}
		return Declaration{ID: id, EntityID: entID, Key: key}, nil

	case DeclIDUndeclSubscriber, DeclIDUndeclToken:
		entID, err := DecodeVLE(z)
		if err != nil {
			return Declaration{}, err
		}
		d := Declaration{ID: id, EntityID: entID}
		if flags != 0 {
			key, err := decodeKeyExprBody(z, flags)
			if err != nil {
				return Declaration{}, err
			}
			d.Key = key
		}
		return d, nil

	case DeclIDQueryable:
		entID, err := DecodeVLE(z)
		if err != nil {
			return Declaration{}, err
		}
		key, err := decodeKeyExprBody(z, flags)
		if err != nil {
			return Declaration{}, err
		}
		d := Declaration{ID: id, EntityID: entID, Key: key}
		exts, err := DecodeExtensions(z)
		if err != nil {
			return Declaration{}, err
		}
		for _, e := range exts {
			switch e.ID {
			case 0x01:
				d.HasComplete, d.Complete = true, u64FromBody(e.Body) != 0
			case 0x02:
				d.HasDistance, d.Distance = true, u64FromBody(e.Body)
			default:
				if err := SkipUnknown(e); err != nil {
					return Declaration{}, err
				}
			}
		}
		return d, nil

	case DeclIDUndeclQueryable:
		entID, err := DecodeVLE(z)
		if err != nil {
			return Declaration{}, err
		}
		d := Declaration{ID: id, EntityID: entID}
		if flags != 0 {
			key, err := decodeKeyExprBody(z, flags)
			if err != nil {
				return Declaration{}, err
			}
			d.Key = key
		}
		return d, nil

	case DeclIDFinal:
		return Declaration{ID: id}, nil

	default:
		return Declaration{}, zerr.ErrMessageUnknown
	}
}

func zintExt(id uint8, v uint64) Extension {
	w := iobuf.NewExpandableWBuf(maxVLEBytes)
	_ = EncodeVLE(w, v)
	return Extension{ID: id, Shape: ExtShapeZInt, Body: w.Bytes()}
}

func u64FromBody(body []byte) uint64 {
	v, err := DecodeVLE(iobuf.NewZBuf(body))
	if err != nil {
		return 0
	}
	return v
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
