// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"
)

// Framebuffer holds a surface's offscreen raster, which decoders write into,
// and the visible raster the host reads. Present copies one to the other.
// Writes happen on the session goroutine; Snapshot may be called from any
// goroutine.
type Framebuffer struct {
	mu    sync.RWMutex
	back  *image.RGBA
	front *image.RGBA
}

// NewFramebuffer allocates both rasters.
func NewFramebuffer(width, height int) *Framebuffer {
	r := image.Rect(0, 0, width, height)
	return &Framebuffer{
		back:  image.NewRGBA(r),
		front: image.NewRGBA(r),
	}
}

// Size returns the raster dimensions.
func (f *Framebuffer) Size() (width, height int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b := f.back.Bounds()
	return b.Dx(), b.Dy()
}

// Resize reallocates both rasters, keeping the overlapping top-left content.
func (f *Framebuffer) Resize(width, height int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := f.back.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return
	}
	r := image.Rect(0, 0, width, height)
	back := image.NewRGBA(r)
	front := image.NewRGBA(r)
	draw.Draw(back, r, f.back, image.Point{}, draw.Src)
	draw.Draw(front, r, f.front, image.Point{}, draw.Src)
	f.back, f.front = back, front
}

// DrawImage composes img into the offscreen raster at dst, scaling when the
// image and destination sizes differ.
func (f *Framebuffer) DrawImage(dst image.Rectangle, img image.Image) {
	f.mu.Lock()
	defer f.mu.Unlock()

	src := img.Bounds()
	if src.Dx() == dst.Dx() && src.Dy() == dst.Dy() {
		draw.Draw(f.back, dst, img, src.Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(f.back, dst, img, src, draw.Src, nil)
}

// Scroll copies the region r by (r.DX, r.DY) within the offscreen raster.
// The source is copied out first so overlapping regions behave like a move.
func (f *Framebuffer) Scroll(r ScrollRegion) {
	f.mu.Lock()
	defer f.mu.Unlock()

	src := image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height).Intersect(f.back.Bounds())
	if src.Empty() {
		return
	}
	tmp := image.NewRGBA(image.Rect(0, 0, src.Dx(), src.Dy()))
	draw.Draw(tmp, tmp.Bounds(), f.back, src.Min, draw.Src)
	dst := src.Add(image.Pt(r.DX, r.DY))
	draw.Draw(f.back, dst, tmp, image.Point{}, draw.Src)
}

// Present copies the offscreen raster to the visible raster.
func (f *Framebuffer) Present() {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.front.Pix, f.back.Pix)
}

// Snapshot returns a copy of the visible raster.
func (f *Framebuffer) Snapshot() *image.RGBA {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := image.NewRGBA(f.front.Bounds())
	copy(out.Pix, f.front.Pix)
	return out
}

// OffscreenAt returns one offscreen pixel.
func (f *Framebuffer) OffscreenAt(x, y int) color.RGBA {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.back.RGBAAt(x, y)
}
