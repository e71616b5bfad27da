// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"image"
	"io"

	"github.com/pierrec/lz4/v4"
)

// maxRasterSize bounds a decompressed raster payload.
const maxRasterSize = MaxSurfaceDimension * MaxSurfaceDimension * 4

// paintRaster decodes an rgb, rgb24 or rgb32 item into the offscreen raster.
//
// The payload holds rows of RowStride bytes in the item's rgb_format, and
// may be compressed as a whole:
//
//	options.zlib > 0  a zlib stream
//	options.lz4  > 0  a 4 byte little-endian uncompressed length followed
//	                  by one LZ4 block
//
// A payload longer than the rectangle, or too short to hold its last row,
// is rejected with "data size mismatch" and nothing is drawn.
func (p *PaintPipeline) paintRaster(item *PaintItem) error {
	pf := PixelFormat(item.Options.RGBFormat)
	if pf == "" {
		pf = defaultPixelFormat(item.Encoding)
	}
	bpp := pf.BytesPerPixel()
	if bpp == 0 {
		return unsupportedError("PaintPipeline.paintRaster",
			fmt.Sprintf("unsupported rgb format %q", pf), nil)
	}

	w, h := item.encodedSize()
	if w <= 0 || h <= 0 || w > MaxSurfaceDimension || h > MaxSurfaceDimension {
		return decodeError("PaintPipeline.paintRaster",
			fmt.Sprintf("invalid encoded size %dx%d", w, h), nil)
	}
	stride := item.RowStride
	if stride == 0 {
		stride = w * bpp
	}
	if stride < w*bpp {
		return decodeError("PaintPipeline.paintRaster",
			fmt.Sprintf("row stride %d too small for %d pixels of %s", stride, w, pf), nil)
	}
	if int64(stride) > maxRasterSize || int64(stride)*int64(h) > maxRasterSize {
		return decodeError("PaintPipeline.paintRaster",
			fmt.Sprintf("raster of %d rows at stride %d too large", h, stride), nil)
	}
	maxLen, minLen := stride*h, stride*(h-1)+w*bpp

	data, err := inflateRaster(item.Data, item.Options, maxLen)
	if err != nil {
		return err
	}
	if len(data) > maxLen || len(data) < minLen {
		return decodeError("PaintPipeline.paintRaster",
			fmt.Sprintf("data size mismatch: wanted %d, got %d, stride=%d", maxLen, len(data), stride), nil)
	}

	img := rasterImage(data, w, h, stride, pf)
	p.fb.DrawImage(image.Rect(item.X, item.Y, item.X+item.Width, item.Y+item.Height), img)
	return nil
}

// inflateRaster decompresses a raster payload of at most limit bytes.
func inflateRaster(data []byte, opts PaintOptions, limit int) ([]byte, error) {
	switch {
	case opts.Zlib > 0:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, decodeError("inflateRaster", "invalid zlib payload", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
		if err != nil {
			return nil, decodeError("inflateRaster", "zlib decompression failed", err)
		}
		if len(out) > limit {
			return nil, decodeError("inflateRaster", "zlib payload too large", nil)
		}
		return out, nil

	case opts.LZ4 > 0:
		if len(data) < 4 {
			return nil, decodeError("inflateRaster", "lz4 payload too short", nil)
		}
		size := binary.LittleEndian.Uint32(data[:4])
		if uint64(size) > uint64(limit) {
			return nil, decodeError("inflateRaster",
				fmt.Sprintf("lz4 length %d too large", size), nil)
		}
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data[4:], out)
		if err != nil {
			return nil, decodeError("inflateRaster", "lz4 decompression failed", err)
		}
		return out[:n], nil

	default:
		return data, nil
	}
}

// rasterImage converts h rows of stride bytes in format pf to RGBA.
// The last row may be shorter than stride.
func rasterImage(data []byte, w, h, stride int, pf PixelFormat) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for row := 0; row < h; row++ {
		pf.convertRow(img.Pix[row*img.Stride:], data[row*stride:], w)
	}
	return img
}
