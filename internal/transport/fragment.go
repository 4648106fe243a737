package transport

import (
	"fmt"

	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// defragMaxBytes bounds a single reassembled message to guard against a
// peer that never sends More=false; chosen well above any realistic batch
// count (spec.md doesn't set a hard cap, so this is a defensive ceiling).
const defragMaxBytes = 64 << 20

// Defragmenter reassembles a stream of FRAGMENT payloads for one
// reliability channel back into complete FRAME payloads (spec.md §4.5,
// §3 "defrag_buffer_reliable, defrag_buffer_best_effort").
//
// Grounded on internal/bfd's echo-session reassembly discipline: a single
// mutable accumulator reset wholesale on any out-of-order condition,
// never patched in place.
type Defragmenter struct {
	buf []byte
}

// Push appends a fragment's payload. When more is false the fragment
// completes the message; Push returns the full reassembled buffer and
// resets the accumulator for the next message.
func (d *Defragmenter) Push(payload []byte, more bool) ([]byte, error) {
	if len(d.buf)+len(payload) > defragMaxBytes {
		d.Reset()
		return nil, fmt.Errorf("reassembled message exceeds %d bytes: %w", defragMaxBytes, zerr.ErrNoMemory)
	}
	d.buf = append(d.buf, payload...)
	if more {
		return nil, nil
	}
	full := d.buf
	d.buf = nil
	return full, nil
}

// Reset discards any partially reassembled message. Called when a FRAME
// or FRAGMENT arrives out of sequence-number order (spec.md §4.5: "drop
// the frame and clear the defrag buffer for that reliability to avoid
// stitching across a gap").
func (d *Defragmenter) Reset() {
	d.buf = nil
}

// Pending reports whether a reassembly is in progress.
func (d *Defragmenter) Pending() bool { return len(d.buf) > 0 }
