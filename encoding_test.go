// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/pierrec/lz4/v4"
)

func zlibBytes(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

func lz4Bytes(t testing.TB, data []byte) []byte {
	t.Helper()
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil || n == 0 {
		t.Fatalf("lz4 compress: n=%d err=%v", n, err)
	}
	out := make([]byte, 4, 4+n)
	binary.LittleEndian.PutUint32(out, uint32(len(data)))
	return append(out, dst[:n]...)
}

func solidRow(width int, px ...byte) []byte {
	out := make([]byte, 0, width*len(px))
	for i := 0; i < width; i++ {
		out = append(out, px...)
	}
	return out
}

// TestEncoding_Raw decodes raster payloads in the supported layouts.
func TestEncoding_Raw(t *testing.T) {
	tests := []struct {
		name        string
		encoding    string
		rgbFormat   string
		width       int
		height      int
		stride      int
		data        []byte
		zlib        bool
		lz4         bool
		scaled      [2]int
		expectError bool
		errorType   ErrorCode
		at          image.Point
		want        color.RGBA
	}{
		{
			name:     "rgb32 RGBX 1x1",
			encoding: "rgb32",
			width:    1,
			height:   1,
			data:     []byte{10, 20, 30, 0},
			want:     color.RGBA{10, 20, 30, 255},
		},
		{
			name:      "rgb32 BGRA 1x1",
			encoding:  "rgb32",
			rgbFormat: "BGRA",
			width:     1,
			height:    1,
			data:      []byte{30, 20, 10, 128},
			want:      color.RGBA{10, 20, 30, 128},
		},
		{
			name:     "rgb24 2x1 second pixel",
			encoding: "rgb24",
			width:    2,
			height:   1,
			data:     []byte{1, 2, 3, 40, 50, 60},
			at:       image.Pt(1, 0),
			want:     color.RGBA{40, 50, 60, 255},
		},
		{
			name:     "padded rows with a short last row",
			encoding: "rgb32",
			width:    1,
			height:   2,
			stride:   8,
			data:     []byte{1, 1, 1, 0, 9, 9, 9, 9, 7, 8, 9, 0},
			at:       image.Pt(0, 1),
			want:     color.RGBA{7, 8, 9, 255},
		},
		{
			name:     "zlib compressed",
			encoding: "rgb32",
			width:    16,
			height:   1,
			data:     solidRow(16, 200, 100, 50, 0),
			zlib:     true,
			at:       image.Pt(15, 0),
			want:     color.RGBA{200, 100, 50, 255},
		},
		{
			name:     "lz4 compressed",
			encoding: "rgb32",
			width:    64,
			height:   1,
			data:     solidRow(64, 5, 6, 7, 0),
			lz4:      true,
			at:       image.Pt(63, 0),
			want:     color.RGBA{5, 6, 7, 255},
		},
		{
			name:        "payload longer than the rectangle",
			encoding:    "rgb32",
			width:       1,
			height:      1,
			data:        []byte{1, 2, 3, 4, 5},
			expectError: true,
			errorType:   ErrDecode,
		},
		{
			name:        "payload missing its last row",
			encoding:    "rgb32",
			width:       2,
			height:      2,
			data:        make([]byte, 12),
			expectError: true,
			errorType:   ErrDecode,
		},
		{
			name:        "stride smaller than a row",
			encoding:    "rgb32",
			width:       2,
			height:      1,
			stride:      4,
			data:        make([]byte, 8),
			expectError: true,
			errorType:   ErrDecode,
		},
		{
			name:        "scaled size overflowing the row count",
			encoding:    "rgb32",
			width:       10,
			height:      10,
			scaled:      [2]int{5, 922337203685477581},
			data:        make([]byte, 4),
			expectError: true,
			errorType:   ErrDecode,
		},
		{
			name:        "row stride too large",
			encoding:    "rgb32",
			width:       1,
			height:      2,
			stride:      1 << 40,
			data:        make([]byte, 4),
			expectError: true,
			errorType:   ErrDecode,
		},
		{
			name:        "unknown rgb format",
			encoding:    "rgb32",
			rgbFormat:   "RGGB",
			width:       1,
			height:      1,
			data:        make([]byte, 4),
			expectError: true,
			errorType:   ErrUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newPaintHarness()
			p := h.pipeline(64, 64)

			item := h.item(1, tt.encoding, 0, 0, tt.width, tt.height, tt.data)
			item.RowStride = tt.stride
			item.Options.RGBFormat = tt.rgbFormat
			item.Options.ScaledWidth, item.Options.ScaledHeight = tt.scaled[0], tt.scaled[1]
			if tt.zlib {
				item.Data = zlibBytes(t, tt.data)
				item.Options.Zlib = 1
			}
			if tt.lz4 {
				item.Data = lz4Bytes(t, tt.data)
				item.Options.LZ4 = 1
			}

			err := p.paintRaster(item)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if GetErrorCode(err) != tt.errorType {
					t.Errorf("Expected error code %v, got %v (%v)", tt.errorType, GetErrorCode(err), err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got := p.fb.OffscreenAt(tt.at.X, tt.at.Y); got != tt.want {
				t.Errorf("pixel at %v = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestEncoding_InflateLimit(t *testing.T) {
	lz4Header := func(n uint32) []byte {
		data := make([]byte, 5)
		binary.LittleEndian.PutUint32(data, n)
		return data
	}

	tests := []struct {
		name string
		data []byte
		opts PaintOptions
	}{
		{"lz4 length beyond the rectangle", lz4Header(17), PaintOptions{LZ4: 1}},
		{"lz4 length at the uint32 limit", lz4Header(0xffffffff), PaintOptions{LZ4: 1}},
		{"zlib stream beyond the rectangle", zlibBytes(t, make([]byte, 64)), PaintOptions{Zlib: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inflateRaster(tt.data, tt.opts, 16)
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !strings.Contains(err.Error(), "too large") {
				t.Errorf("inflateRaster() error = %v, want a size rejection", err)
			}
			if GetErrorCode(err) != ErrDecode {
				t.Errorf("Expected error code %v, got %v", ErrDecode, GetErrorCode(err))
			}
		})
	}
}

// TestEncoding_Scroll checks that regions apply one after the other.
func TestEncoding_Scroll(t *testing.T) {
	h := newPaintHarness()
	p := h.pipeline(4, 4)

	red := color.RGBA{255, 0, 0, 255}
	top := h.item(1, "rgb32", 0, 0, 4, 1, solidRow(4, 255, 0, 0, 0))
	if err := p.paintRaster(top); err != nil {
		t.Fatalf("paintRaster: %v", err)
	}

	scroll := h.item(2, "scroll", 0, 0, 0, 0, nil)
	scroll.Scrolls = []ScrollRegion{
		{X: 0, Y: 0, Width: 4, Height: 1, DX: 0, DY: 1},
		{X: 0, Y: 1, Width: 4, Height: 1, DX: 0, DY: 1},
	}
	if err := p.paintScroll(scroll); err != nil {
		t.Fatalf("paintScroll: %v", err)
	}

	for y, want := range []color.RGBA{red, red, red, {}} {
		if got := p.fb.OffscreenAt(2, y); got != want {
			t.Errorf("row %d = %v, want %v", y, got, want)
		}
	}
}

func TestEncoding_ParseScrollRegions(t *testing.T) {
	tests := []struct {
		name        string
		payload     interface{}
		want        int
		expectError bool
	}{
		{"two regions", []interface{}{
			[]interface{}{0, 0, 10, 10, 0, -5},
			[]interface{}{int64(0), uint64(20), 10, 10, 0, 5},
		}, 2, false},
		{"empty list", []interface{}{}, 0, false},
		{"not a list", "scroll", 0, true},
		{"short tuple", []interface{}{[]interface{}{0, 0, 10, 10, 0}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regions, err := parseScrollRegions(tt.payload)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !IsXpraError(err, ErrProtocol) {
					t.Errorf("Expected protocol error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(regions) != tt.want {
				t.Errorf("len(regions) = %d, want %d", len(regions), tt.want)
			}
		})
	}
}

func TestEncoding_DecodeImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(2, 1, color.RGBA{1, 2, 3, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}

	img, err := decodeImage("png", buf.Bytes())
	if err != nil {
		t.Fatalf("decodeImage(png): %v", err)
	}
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Errorf("bounds = %v, want 3x2", b)
	}

	if _, err := decodeImage("png", []byte("not a png")); !IsXpraError(err, ErrDecode) {
		t.Errorf("corrupt png: got %v, want decode error", err)
	}
	if _, err := decodeImage("avif", buf.Bytes()); !IsXpraError(err, ErrUnsupported) {
		t.Errorf("avif: got %v, want unsupported error", err)
	}
}

func TestEncoding_Kinds(t *testing.T) {
	tests := []struct {
		encoding string
		kind     encodingKind
	}{
		{"rgb", kindRaster},
		{"rgb32", kindRaster},
		{"rgb24", kindRaster},
		{"png", kindImage},
		{"png/P", kindImage},
		{"jpeg", kindImage},
		{"webp", kindImage},
		{"h264", kindVideo},
		{"vp8+webm", kindVideo},
		{"scroll", kindScroll},
		{"hextile", kindUnknown},
	}

	for _, tt := range tests {
		if got := encodingKindOf(tt.encoding); got != tt.kind {
			t.Errorf("encodingKindOf(%q) = %v, want %v", tt.encoding, got, tt.kind)
		}
	}

	if got := videoEncodingsIn([]string{"png", "h264", "rgb", "vp9"}); len(got) != 2 || got[0] != "h264" || got[1] != "vp9" {
		t.Errorf("videoEncodingsIn = %v, want [h264 vp9]", got)
	}
}

func TestEncoding_PixelFormat(t *testing.T) {
	tests := []struct {
		format PixelFormat
		bpp    int
		alpha  bool
	}{
		{FormatRGBX, 4, false},
		{FormatBGRA, 4, true},
		{FormatARGB, 4, true},
		{FormatRGB, 3, false},
		{FormatBGR, 3, false},
		{"RGBB", 0, false},
		{"RG", 0, false},
		{"RGBAX", 0, true},
	}

	for _, tt := range tests {
		if got := tt.format.BytesPerPixel(); got != tt.bpp {
			t.Errorf("%s.BytesPerPixel() = %d, want %d", tt.format, got, tt.bpp)
		}
		if got := tt.format.HasAlpha(); got != tt.alpha {
			t.Errorf("%s.HasAlpha() = %v, want %v", tt.format, got, tt.alpha)
		}
	}

	dst := make([]byte, 4)
	FormatXRGB.convertRow(dst, []byte{0, 11, 22, 33}, 1)
	if !bytes.Equal(dst, []byte{11, 22, 33, 255}) {
		t.Errorf("XRGB convertRow = %v", dst)
	}
}

// Benchmark tests for raster decoding.
func BenchmarkRawEncoding(b *testing.B) {
	h := newPaintHarness()
	p := h.pipeline(100, 100)
	item := h.item(1, "rgb32", 0, 0, 100, 100, make([]byte, 100*100*4))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := p.paintRaster(item); err != nil {
			b.Fatalf("Encoding failed: %v", err)
		}
	}
}

func BenchmarkLZ4RawEncoding(b *testing.B) {
	h := newPaintHarness()
	p := h.pipeline(100, 100)
	item := h.item(1, "rgb32", 0, 0, 100, 100, lz4Bytes(b, solidRow(100*100, 1, 2, 3, 0)))
	item.Options.LZ4 = 1

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := p.paintRaster(item); err != nil {
			b.Fatalf("Encoding failed: %v", err)
		}
	}
}
