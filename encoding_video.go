// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import "fmt"

// paintVideo feeds a video chunk into the surface's stream buffer. Frame 0
// starts a new decode context; a coding change does too. The paint is
// acknowledged after a delay that grows with the decoder backlog.
func (p *PaintPipeline) paintVideo(job *paintJob) {
	item := job.item
	if item.Options.Frame == 0 {
		p.closeVideo("new stream")
	}
	if p.video != nil && (p.video.Closed() || p.video.Coding() != item.Encoding) {
		p.closeVideo("coding changed")
	}

	if p.video == nil {
		if p.env.videoFactory == nil {
			p.finish(job, unsupportedError("PaintPipeline.paintVideo",
				fmt.Sprintf("no video decoder for %q", item.Encoding), nil))
			return
		}
		w, h := item.encodedSize()
		decoder, err := p.env.videoFactory(item.Encoding, w, h, item.Options)
		if err != nil {
			p.finish(job, WrapError("PaintPipeline.paintVideo", ErrDecode, "failed to create video decoder", err))
			return
		}
		video, err := newVideoStreamBuffer(p.env, item.Encoding, w, h, decoder)
		if err != nil {
			p.finish(job, err)
			return
		}
		p.video = video
	}

	if len(item.Data) == 0 {
		p.finish(job, nil)
		return
	}

	queued, err := p.video.Push(item.Data)
	if err != nil {
		p.video = nil
		p.finish(job, err)
		return
	}
	p.env.sched.AfterFunc(videoPaintDelay(queued), func() {
		p.finish(job, nil)
	})
}

func (p *PaintPipeline) closeVideo(reason string) {
	if p.video == nil {
		return
	}
	p.env.logger.Debug("Closing video stream",
		Field{Key: "wid", Value: p.surfaceID}, Field{Key: "reason", Value: reason})
	p.video.Close()
	p.video = nil
}

// Video returns the surface's active video stream, or nil.
func (p *PaintPipeline) Video() *VideoStreamBuffer {
	return p.video
}
