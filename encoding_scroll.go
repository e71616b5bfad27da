// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import "fmt"

// parseScrollRegions reads the payload of a scroll paint: a list of
// (x, y, w, h, dx, dy) tuples.
func parseScrollRegions(v interface{}) ([]ScrollRegion, error) {
	list, ok := toList(v)
	if !ok {
		return nil, protocolError("parseScrollRegions", "scroll payload is not a list", nil)
	}
	regions := make([]ScrollRegion, 0, len(list))
	for i, entry := range list {
		n := toInts(entry)
		if len(n) != 6 {
			return nil, protocolError("parseScrollRegions",
				fmt.Sprintf("scroll entry %d: expected 6 integers", i), nil)
		}
		regions = append(regions, ScrollRegion{
			X: n[0], Y: n[1], Width: n[2], Height: n[3], DX: n[4], DY: n[5],
		})
	}
	return regions, nil
}

// paintScroll copies regions of the current offscreen content. Regions are
// applied in order since a later one may read pixels an earlier one wrote.
func (p *PaintPipeline) paintScroll(item *PaintItem) error {
	for _, r := range item.Scrolls {
		p.fb.Scroll(r)
	}
	return nil
}
