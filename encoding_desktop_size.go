// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

// parseDesktopSize reads desktop_size(width, height[, max_width, max_height]).
// A missing maximum is reported as the current size.
func parseDesktopSize(p Packet) (*DesktopSizeEvent, error) {
	r := newArgReader(p)
	ev := &DesktopSizeEvent{
		Width:  r.Int(0),
		Height: r.Int(1),
	}
	ev.MaxWidth = r.OptInt(2, ev.Width)
	ev.MaxHeight = r.OptInt(3, ev.Height)
	if err := r.Err(); err != nil {
		return nil, err
	}
	if err := newInputValidator().ValidateGeometry(Geometry{Width: ev.Width, Height: ev.Height}); err != nil {
		return nil, err
	}
	return ev, nil
}
