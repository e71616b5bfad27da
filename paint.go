// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PaintWatchdog is how long a decode may stay in flight before the next
// queued item for the same surface is dispatched anyway.
const PaintWatchdog = 2000 * time.Millisecond

const tracerName = "github.com/tenthirtyam/go-xpra"

// ScrollRegion moves the rectangle (X, Y, Width, Height) by (DX, DY).
type ScrollRegion struct {
	X, Y, Width, Height int
	DX, DY              int
}

// PaintOptions are the per-item options sent with a draw packet.
type PaintOptions struct {
	// Flush is non-zero while the server has more updates queued for the
	// same batch; the visible raster is only refreshed once it reaches 0.
	Flush int

	// Frame is the video frame index, -1 when absent. Frame 0 starts a new
	// decode context.
	Frame int

	// ScaledWidth and ScaledHeight give the encoded size when the server
	// downscaled the region; zero when unscaled.
	ScaledWidth  int
	ScaledHeight int

	Zlib      int
	LZ4       int
	RGBFormat string

	raw map[string]interface{}
}

func parsePaintOptions(m map[string]interface{}) PaintOptions {
	opts := PaintOptions{Frame: -1, raw: m}
	if v, ok := toInt(m["flush"]); ok {
		opts.Flush = v
	}
	if v, ok := m["frame"]; ok {
		if n, ok := toInt(v); ok {
			opts.Frame = n
		}
	}
	if size := toInts(m["scaled_size"]); len(size) == 2 {
		opts.ScaledWidth, opts.ScaledHeight = size[0], size[1]
	}
	if v, ok := toInt(m["zlib"]); ok {
		opts.Zlib = v
	}
	if v, ok := toInt(m["lz4"]); ok {
		opts.LZ4 = v
	}
	if s, ok := toString(m["rgb_format"]); ok {
		opts.RGBFormat = s
	}
	return opts
}

// Get returns an option the typed fields do not cover.
func (o PaintOptions) Get(key string) (interface{}, bool) {
	v, ok := o.raw[key]
	return v, ok
}

// String returns an option as a string, or def.
func (o PaintOptions) String(key, def string) string {
	if s, ok := toString(o.raw[key]); ok && s != "" {
		return s
	}
	return def
}

func toInts(v interface{}) []int {
	list, ok := toList(v)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(list))
	for _, item := range list {
		n, ok := toInt(item)
		if !ok {
			return nil
		}
		out = append(out, n)
	}
	return out
}

// PaintItem is one decode instruction taken from a draw packet.
type PaintItem struct {
	SurfaceID int
	X, Y      int
	Width     int
	Height    int
	Encoding  string
	Data      []byte
	Scrolls   []ScrollRegion
	Sequence  int64
	RowStride int
	Options   PaintOptions

	// Received is when the draw packet arrived; decode time is measured
	// from here.
	Received time.Time
}

// encodedSize returns the dimensions of the payload before scaling.
func (it *PaintItem) encodedSize() (int, int) {
	if it.Options.ScaledWidth > 0 && it.Options.ScaledHeight > 0 {
		return it.Options.ScaledWidth, it.Options.ScaledHeight
	}
	return it.Width, it.Height
}

// parseDrawPacket reads draw(wid, x, y, w, h, coding, data, seq, rowstride, options).
func parseDrawPacket(p Packet, now time.Time) (*PaintItem, error) {
	r := newArgReader(p)
	item := &PaintItem{
		SurfaceID: r.Int(0),
		X:         r.Int(1),
		Y:         r.Int(2),
		Width:     r.Int(3),
		Height:    r.Int(4),
		Encoding:  r.String(5),
		Sequence:  r.Int64(7),
		RowStride: r.OptInt(8, 0),
		Options:   parsePaintOptions(r.Map(9)),
		Received:  now,
	}
	if item.Encoding == "scroll" {
		scrolls, err := parseScrollRegions(r.Raw(6))
		if err != nil {
			return nil, err
		}
		item.Scrolls = scrolls
	} else {
		item.Data = r.Bytes(6)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return item, nil
}

// paintEnv is what a surface's pipeline needs from its session.
type paintEnv struct {
	sched        Scheduler
	logger       Logger
	metrics      MetricsCollector
	tracer       trace.Tracer
	validator    *InputValidator
	images       ImageDecoder
	videoFactory VideoDecoderFactory
	send         func(Packet)
	emit         func(Event)
}

func (e *paintEnv) ensureDefaults() {
	if e.logger == nil {
		e.logger = &NoOpLogger{}
	}
	if e.metrics == nil {
		e.metrics = &NoOpMetrics{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.validator == nil {
		e.validator = newInputValidator()
	}
	if e.images == nil {
		e.images = &StdImageDecoder{}
	}
	if e.send == nil {
		e.send = func(Packet) {}
	}
	if e.emit == nil {
		e.emit = func(Event) {}
	}
}

// paintJob is one dispatched item. done is set by whichever of completion
// or abandonment happens first; the other is then ignored.
type paintJob struct {
	item    *PaintItem
	started time.Time
	done    bool
	span    trace.Span
	ctx     context.Context
}

// PaintPipeline is the ordered paint queue of one surface. At most one
// decode is in flight unless it has been pending for PaintWatchdog, and
// every item is acknowledged with damage-sequence in queue order. All
// methods run on the session scheduler.
type PaintPipeline struct {
	env       *paintEnv
	surfaceID int
	fb        *Framebuffer

	queue         []*PaintItem
	inflight      *paintJob
	watchdog      Timer
	draining      bool
	closed        bool
	redrawPending bool

	video *VideoStreamBuffer

	ctx    context.Context
	cancel context.CancelFunc
}

func newPaintPipeline(env *paintEnv, surfaceID int, fb *Framebuffer) *PaintPipeline {
	env.ensureDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &PaintPipeline{
		env:       env,
		surfaceID: surfaceID,
		fb:        fb,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enqueue appends item and dispatches it if the surface is idle.
func (p *PaintPipeline) Enqueue(item *PaintItem) {
	if p.closed {
		p.env.logger.Debug("Dropping paint for closed surface",
			Field{Key: "wid", Value: p.surfaceID}, Field{Key: "sequence", Value: item.Sequence})
		return
	}
	p.queue = append(p.queue, item)
	p.env.metrics.QueueDepth("paint", len(p.queue))
	p.drain()
}

// Pending returns the number of queued items, excluding the one in flight.
func (p *PaintPipeline) Pending() int {
	return len(p.queue)
}

// InFlight reports whether a decode is outstanding.
func (p *PaintPipeline) InFlight() bool {
	return p.inflight != nil
}

// drain dispatches queued items while the surface is idle. Decoders that
// complete synchronously re-enter through finish; the draining flag turns
// that into another iteration of this loop instead of recursion.
func (p *PaintPipeline) drain() {
	if p.draining || p.closed {
		return
	}
	p.draining = true
	defer func() { p.draining = false }()

	for len(p.queue) > 0 && !p.closed {
		if job := p.inflight; job != nil {
			if p.env.sched.Now().Sub(job.started) < PaintWatchdog {
				return
			}
			p.abandon(job)
		}
		item := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.dispatch(item)
	}
}

func (p *PaintPipeline) armWatchdog(job *paintJob) {
	p.stopWatchdog()
	p.watchdog = p.env.sched.AfterFunc(PaintWatchdog, func() {
		if p.inflight == job && !job.done {
			p.drain()
		}
	})
}

func (p *PaintPipeline) stopWatchdog() {
	if p.watchdog != nil {
		p.watchdog.Stop()
		p.watchdog = nil
	}
}

// abandon gives up on a stalled decode so the queue can move on. The item
// is acknowledged as failed now; its late completion is ignored.
func (p *PaintPipeline) abandon(job *paintJob) {
	p.env.logger.Warn("Paint decode timed out",
		Field{Key: "wid", Value: p.surfaceID},
		Field{Key: "encoding", Value: job.item.Encoding},
		Field{Key: "sequence", Value: job.item.Sequence})
	p.complete(job, timeoutError("PaintPipeline.drain", "decode timed out", nil))
}

func (p *PaintPipeline) dispatch(item *PaintItem) {
	ctx, span := p.env.tracer.Start(p.ctx, "paint."+item.Encoding,
		trace.WithAttributes(
			attribute.Int("xpra.wid", item.SurfaceID),
			attribute.Int64("xpra.sequence", item.Sequence),
			attribute.Int("xpra.width", item.Width),
			attribute.Int("xpra.height", item.Height),
		))
	job := &paintJob{item: item, started: p.env.sched.Now(), span: span, ctx: ctx}
	p.inflight = job
	p.armWatchdog(job)

	if err := p.env.validator.ValidatePaintItem(item); err != nil {
		p.finish(job, err)
		return
	}

	switch encodingKindOf(item.Encoding) {
	case kindRaster:
		p.finish(job, p.paintRaster(item))
	case kindScroll:
		p.finish(job, p.paintScroll(item))
	case kindImage:
		p.paintImage(job)
	case kindVideo:
		p.paintVideo(job)
	default:
		p.finish(job, unsupportedError("PaintPipeline.dispatch",
			fmt.Sprintf("unsupported encoding %q", item.Encoding), nil))
	}
}

// finish reports a decoder's result for job and moves on to the next item.
func (p *PaintPipeline) finish(job *paintJob, err error) {
	if job.done {
		p.env.logger.Debug("Ignoring late paint completion",
			Field{Key: "wid", Value: p.surfaceID}, Field{Key: "sequence", Value: job.item.Sequence})
		return
	}
	if p.closed {
		job.done = true
		job.span.End()
		return
	}
	p.complete(job, err)
	p.drain()
}

// complete acknowledges job and clears the in-flight slot.
func (p *PaintPipeline) complete(job *paintJob, err error) {
	job.done = true
	if p.inflight == job {
		p.inflight = nil
		p.stopWatchdog()
	}

	item := job.item
	elapsed := p.env.sched.Now().Sub(item.Received)
	decodeMS := int64(-1)
	message := ""
	if err != nil {
		message = ackMessage(err)
		job.span.RecordError(err)
		job.span.SetStatus(codes.Error, message)
		p.env.logger.Warn("Paint failed",
			Field{Key: "wid", Value: p.surfaceID},
			Field{Key: "encoding", Value: item.Encoding},
			Field{Key: "sequence", Value: item.Sequence},
			Field{Key: "error", Value: message})
	} else {
		decodeMS = elapsed.Milliseconds()
		job.span.SetStatus(codes.Ok, "")
	}
	job.span.End()
	p.env.metrics.PaintCompleted(item.Encoding, elapsed, err)

	p.env.send(NewPacket("damage-sequence", item.Sequence, item.SurfaceID, item.Width, item.Height, decodeMS, message))

	if err != nil || item.Options.Flush == 0 {
		p.requestRedraw()
	}
}

// requestRedraw presents the offscreen raster at the next scheduler turn,
// coalescing repeated requests.
func (p *PaintPipeline) requestRedraw() {
	if p.redrawPending {
		return
	}
	p.redrawPending = true
	p.env.sched.Post(func() {
		p.redrawPending = false
		if p.closed {
			return
		}
		p.fb.Present()
		p.env.emit(&RedrawEvent{ID: p.surfaceID})
	})
}

// Close drops queued items, cancels outstanding decodes and tears down the
// video stream. It is safe to call more than once.
func (p *PaintPipeline) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.stopWatchdog()
	p.cancel()
	p.queue = nil
	if job := p.inflight; job != nil {
		job.done = true
		job.span.End()
		p.inflight = nil
	}
	p.closeVideo("surface closed")
}
