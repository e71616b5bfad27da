// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import "fmt"

// cursorArgs is the argument count of a full cursor update. Shorter
// packets reset the cursor to the default.
const cursorArgs = 8

// parseCursorPacket decodes a cursor packet into a CursorEvent or a
// CursorResetEvent.
//
// A full update carries:
//
//	encoding  the image encoding, only "png" is accepted
//	x, y      the pointer position the cursor was captured at (ignored)
//	w, h      the cursor size in pixels
//	xhot,yhot the hotspot offset from the cursor's top-left corner
//	serial    the server's cursor serial number
//	data      the encoded image
//
// Cursors in other encodings return an ErrUnsupported error and are
// dropped by the session, which keeps the previous cursor.
func parseCursorPacket(p Packet) (Event, error) {
	args := p.Args()
	if len(args) < cursorArgs {
		return &CursorResetEvent{}, nil
	}

	r := newArgReader(p)
	ev := &CursorEvent{
		Encoding: r.String(0),
		Width:    r.Int(3),
		Height:   r.Int(4),
		HotX:     r.Int(5),
		HotY:     r.Int(6),
		Serial:   r.Int64(7),
	}
	if raw := r.Raw(8); raw != nil {
		ev.Data = r.Bytes(8)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	if ev.Encoding != "png" {
		return nil, unsupportedError("parseCursorPacket",
			fmt.Sprintf("invalid cursor encoding %q", ev.Encoding), nil)
	}
	if ev.Width <= 0 || ev.Height <= 0 || ev.Width > MaxSurfaceDimension || ev.Height > MaxSurfaceDimension {
		return nil, validationError("parseCursorPacket",
			fmt.Sprintf("invalid cursor size %dx%d", ev.Width, ev.Height), nil)
	}
	if ev.HotX < 0 || ev.HotY < 0 {
		return nil, validationError("parseCursorPacket",
			fmt.Sprintf("negative cursor hotspot (%d,%d)", ev.HotX, ev.HotY), nil)
	}
	return ev, nil
}
