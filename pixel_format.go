// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"fmt"
	"strings"
)

// PixelFormat names the byte order of raw pixel payloads, as carried in the
// "rgb_format" paint option (e.g. "RGBX", "BGRA", "RGB").
type PixelFormat string

// Pixel formats the raster decoder understands.
const (
	FormatRGBX PixelFormat = "RGBX"
	FormatRGBA PixelFormat = "RGBA"
	FormatBGRX PixelFormat = "BGRX"
	FormatBGRA PixelFormat = "BGRA"
	FormatXRGB PixelFormat = "XRGB"
	FormatARGB PixelFormat = "ARGB"
	FormatRGB  PixelFormat = "RGB"
	FormatBGR  PixelFormat = "BGR"
)

// BytesPerPixel returns the size of one pixel, or 0 for an unknown format.
func (pf PixelFormat) BytesPerPixel() int {
	switch len(pf) {
	case 3, 4:
		if pf.Validate() == nil {
			return len(pf)
		}
	}
	return 0
}

// HasAlpha reports whether the format carries a real alpha channel.
func (pf PixelFormat) HasAlpha() bool {
	return strings.ContainsRune(string(pf), 'A')
}

// Validate checks that every channel appears exactly once.
func (pf PixelFormat) Validate() error {
	s := string(pf)
	if len(s) != 3 && len(s) != 4 {
		return validationError("PixelFormat.Validate",
			fmt.Sprintf("pixel format %q must have 3 or 4 channels", s), nil)
	}
	for _, ch := range "RGB" {
		if strings.Count(s, string(ch)) != 1 {
			return validationError("PixelFormat.Validate",
				fmt.Sprintf("pixel format %q must contain %c exactly once", s, ch), nil)
		}
	}
	if len(s) == 4 && strings.Count(s, "A")+strings.Count(s, "X") != 1 {
		return validationError("PixelFormat.Validate",
			fmt.Sprintf("pixel format %q must pad with A or X", s), nil)
	}
	return nil
}

// offsets returns the byte index of R, G, B and A within one pixel; alpha is
// -1 when the format has none.
func (pf PixelFormat) offsets() (r, g, b, a int) {
	s := string(pf)
	return strings.IndexByte(s, 'R'), strings.IndexByte(s, 'G'), strings.IndexByte(s, 'B'), strings.IndexByte(s, 'A')
}

// convertRow writes width pixels of src, laid out in pf, into dst as RGBA.
func (pf PixelFormat) convertRow(dst, src []byte, width int) {
	bpp := len(pf)
	ro, gofs, bo, ao := pf.offsets()
	for x := 0; x < width; x++ {
		s := src[x*bpp : x*bpp+bpp]
		d := dst[x*4 : x*4+4]
		d[0] = s[ro]
		d[1] = s[gofs]
		d[2] = s[bo]
		if ao >= 0 {
			d[3] = s[ao]
		} else {
			d[3] = 0xff
		}
	}
}

// defaultPixelFormat is used when a paint carries no rgb_format option.
func defaultPixelFormat(encoding string) PixelFormat {
	if encoding == "rgb24" {
		return FormatRGB
	}
	return FormatRGBX
}
