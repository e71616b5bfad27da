// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/webp"
)

// ImageResult is the outcome of one image decode.
type ImageResult struct {
	Image image.Image
	Err   error
}

// ImageDecoder decodes compressed image payloads off the session goroutine.
// Decode must not block; the returned channel delivers exactly one result.
type ImageDecoder interface {
	Decode(ctx context.Context, encoding string, data []byte) <-chan ImageResult
}

// StdImageDecoder decodes png, jpeg and webp on a new goroutine per image.
type StdImageDecoder struct{}

// Decode implements ImageDecoder.
func (d *StdImageDecoder) Decode(ctx context.Context, encoding string, data []byte) <-chan ImageResult {
	ch := make(chan ImageResult, 1)
	go func() {
		if err := ctx.Err(); err != nil {
			ch <- ImageResult{Err: err}
			return
		}
		img, err := decodeImage(encoding, data)
		ch <- ImageResult{Image: img, Err: err}
	}()
	return ch
}

func decodeImage(encoding string, data []byte) (image.Image, error) {
	r := bytes.NewReader(data)
	var (
		img image.Image
		err error
	)
	switch encoding {
	case "png", "png/P", "png/L":
		img, err = png.Decode(r)
	case "jpeg":
		img, err = jpeg.Decode(r)
	case "webp":
		img, err = webp.Decode(r)
	default:
		return nil, unsupportedError("decodeImage", fmt.Sprintf("unsupported image encoding %q", encoding), nil)
	}
	if err != nil {
		return nil, decodeError("decodeImage", "failed to decode "+encoding, err)
	}
	return img, nil
}

// paintImage hands the payload to the image decoder and completes the job
// once the result is posted back to the session goroutine.
func (p *PaintPipeline) paintImage(job *paintJob) {
	item := job.item
	results := p.env.images.Decode(job.ctx, item.Encoding, item.Data)
	go func() {
		var res ImageResult
		select {
		case res = <-results:
		case <-p.ctx.Done():
			return
		}
		p.env.sched.Post(func() { p.imageDecoded(job, res) })
	}()
}

func (p *PaintPipeline) imageDecoded(job *paintJob, res ImageResult) {
	if job.done || p.closed {
		p.finish(job, nil)
		return
	}
	if res.Err != nil {
		p.finish(job, res.Err)
		return
	}
	b := res.Image.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		p.finish(job, decodeError("PaintPipeline.paintImage",
			fmt.Sprintf("invalid image size: %dx%d", b.Dx(), b.Dy()), nil))
		return
	}

	item := job.item
	dst := image.Rect(item.X, item.Y, item.X+b.Dx(), item.Y+b.Dy())
	if item.Options.ScaledWidth > 0 && item.Options.ScaledHeight > 0 {
		dst = image.Rect(item.X, item.Y, item.X+item.Width, item.Y+item.Height)
	}
	p.fb.DrawImage(dst, res.Image)
	p.finish(job, nil)
}
