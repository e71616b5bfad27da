// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"fmt"
	"time"
)

// Video stream pacing.
const (
	// VideoBatchSize is the most chunks appended to the decoder in one step.
	VideoBatchSize = 20

	// VideoStepDelay is how long to wait before retrying a step while
	// chunks remain queued.
	VideoStepDelay = 25 * time.Millisecond

	// MaxVideoPending bounds the queued chunks of one stream. Overflow
	// tears the stream down.
	MaxVideoPending = 250
)

// VideoEvents receives decoder notifications. Both may be called from any
// goroutine.
type VideoEvents interface {
	// Ready reports that the decoder accepts data.
	Ready()

	// Idle reports that a previous Append has been consumed.
	Idle()
}

// VideoDecoder is a streaming decoder backend for one surface. Append must
// not block; while Busy reports true the buffer holds further data back.
type VideoDecoder interface {
	Start(events VideoEvents) error
	Busy() bool
	Append(data []byte) error
	Close() error
}

// VideoDecoderFactory creates a decoder for a new stream of coding at the
// given encoded size.
type VideoDecoderFactory func(coding string, width, height int, opts PaintOptions) (VideoDecoder, error)

// VideoStreamBuffer queues raw video chunks for one surface and feeds them
// to its decoder at the pace the decoder allows. Methods run on the session
// scheduler.
type VideoStreamBuffer struct {
	sched   Scheduler
	logger  Logger
	metrics MetricsCollector

	coding  string
	width   int
	height  int
	decoder VideoDecoder

	queue     [][]byte
	ready     bool
	stepTimer Timer
	closed    bool
	appended  int
}

func newVideoStreamBuffer(env *paintEnv, coding string, width, height int, decoder VideoDecoder) (*VideoStreamBuffer, error) {
	v := &VideoStreamBuffer{
		sched:   env.sched,
		logger:  env.logger.With(Field{Key: "coding", Value: coding}),
		metrics: env.metrics,
		coding:  coding,
		width:   width,
		height:  height,
		decoder: decoder,
	}
	if err := decoder.Start(&videoEvents{buffer: v}); err != nil {
		_ = decoder.Close()
		return nil, WrapError("newVideoStreamBuffer", ErrDecode, "failed to start "+coding+" decoder", err)
	}
	return v, nil
}

type videoEvents struct {
	buffer *VideoStreamBuffer
}

func (e *videoEvents) Ready() {
	e.buffer.sched.Post(e.buffer.onReady)
}

func (e *videoEvents) Idle() {
	e.buffer.sched.Post(e.buffer.step)
}

func (v *VideoStreamBuffer) onReady() {
	if v.closed {
		return
	}
	v.ready = true
	v.step()
}

// Coding returns the stream's encoding.
func (v *VideoStreamBuffer) Coding() string {
	return v.coding
}

// Pending returns the number of queued chunks.
func (v *VideoStreamBuffer) Pending() int {
	return len(v.queue)
}

// Appended returns the number of chunks handed to the decoder so far.
func (v *VideoStreamBuffer) Appended() int {
	return v.appended
}

// Push queues a chunk and attempts a step. It returns the number of chunks
// still queued afterwards. Exceeding MaxVideoPending closes the stream and
// returns an ErrResource error.
func (v *VideoStreamBuffer) Push(chunk []byte) (int, error) {
	if v.closed {
		return 0, resourceError("VideoStreamBuffer.Push", "video stream closed", nil)
	}
	if len(v.queue) >= MaxVideoPending {
		v.logger.Warn("Video queue overflow, tearing down stream", Field{Key: "pending", Value: len(v.queue)})
		v.metrics.StreamTeardown("video", "overflow")
		v.Close()
		return 0, resourceError("VideoStreamBuffer.Push",
			fmt.Sprintf("video queue exceeded %d chunks", MaxVideoPending), nil)
	}
	v.queue = append(v.queue, chunk)
	v.step()
	v.metrics.QueueDepth("video", len(v.queue))
	return len(v.queue), nil
}

// step appends at most one batch, and only while the decoder is ready and
// not busy. Leftovers are retried after VideoStepDelay.
func (v *VideoStreamBuffer) step() {
	if v.closed || len(v.queue) == 0 {
		return
	}
	if v.ready && !v.decoder.Busy() {
		n := len(v.queue)
		if n > VideoBatchSize {
			n = VideoBatchSize
		}
		size := 0
		for _, c := range v.queue[:n] {
			size += len(c)
		}
		block := make([]byte, 0, size)
		for _, c := range v.queue[:n] {
			block = append(block, c...)
		}
		v.queue = append(v.queue[:0:0], v.queue[n:]...)
		if err := v.decoder.Append(block); err != nil {
			v.logger.Error("Video decoder rejected data", Field{Key: "error", Value: err})
			v.metrics.StreamTeardown("video", "decoder error")
			v.Close()
			return
		}
		v.appended += n
	}
	if len(v.queue) > 0 && v.stepTimer == nil {
		v.stepTimer = v.sched.AfterFunc(VideoStepDelay, func() {
			v.stepTimer = nil
			v.step()
		})
	}
}

// Close stops the decoder and drops queued chunks.
func (v *VideoStreamBuffer) Close() {
	if v.closed {
		return
	}
	v.closed = true
	v.queue = nil
	if v.stepTimer != nil {
		v.stepTimer.Stop()
		v.stepTimer = nil
	}
	if err := v.decoder.Close(); err != nil {
		v.logger.Warn("Failed to close video decoder", Field{Key: "error", Value: err})
	}
}

// Closed reports whether the stream was torn down.
func (v *VideoStreamBuffer) Closed() bool {
	return v.closed
}

// maxVideoPaintDelay keeps a paced video ack ahead of PaintWatchdog, which
// would otherwise abandon it and fail the next queued paint.
const maxVideoPaintDelay = PaintWatchdog * 3 / 4

// videoPaintDelay paces the server by the decoder backlog.
func videoPaintDelay(queued int) time.Duration {
	d := 50 * time.Millisecond * time.Duration(queued-25)
	switch {
	case d < 10*time.Millisecond:
		return 10 * time.Millisecond
	case d > maxVideoPaintDelay:
		return maxVideoPaintDelay
	}
	return d
}
