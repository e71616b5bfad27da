// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

// Audio buffering limits.
const (
	// AudioPrefill is the number of fragments accumulated before the first
	// flush, until the server has sent codec metadata.
	AudioPrefill = 4

	// MaxAudioPending bounds the accumulated fragments. Overflow tears
	// the audio path down until the next start-of-stream.
	MaxAudioPending = 250
)

// PreferredAudioCodecs is the order codecs are chosen in when the
// configured preference is unavailable.
var PreferredAudioCodecs = []string{
	"opus+mka", "vorbis+mka", "opus+ogg", "vorbis+ogg", "opus", "vorbis",
	"flac+ogg", "aac+mpeg4", "mp3+mpeg4", "mp3", "flac", "wav", "wavpack",
}

// AudioDecoder is a streaming audio backend.
type AudioDecoder interface {
	// Codecs lists the codecs the backend can decode.
	Codecs() []string

	// Open prepares the backend for a stream of codec.
	Open(codec string) error

	// Ready reports whether Append may be called now.
	Ready() bool

	Append(data []byte) error
	Play() error
	Close() error
}

// negotiateAudioCodec picks the audio codec, or "" when the server does not
// send audio or shares no codec with us.
func negotiateAudioCodec(local []string, preferred string, remote *Capabilities) string {
	if len(local) == 0 || !remote.Bool("sound.send") {
		return ""
	}
	encoders := remote.Strings("sound.encoders")
	if len(encoders) == 0 {
		return ""
	}
	if preferred != "" && containsString(local, preferred) && containsString(encoders, preferred) {
		return preferred
	}
	for _, codec := range PreferredAudioCodecs {
		if containsString(local, codec) && containsString(encoders, codec) {
			return codec
		}
	}
	return ""
}

// AudioStreamBuffer accumulates sound-data fragments and flushes them to
// the decoder once the prefill is reached. Methods run on the session
// scheduler.
type AudioStreamBuffer struct {
	decoder AudioDecoder
	codec   string
	logger  Logger
	metrics MetricsCollector
	emit    func(Event)

	open      bool
	fragments [][]byte
	minStart  int
	flushed   int
}

func newAudioStreamBuffer(decoder AudioDecoder, codec string, logger Logger, metrics MetricsCollector, emit func(Event)) *AudioStreamBuffer {
	return &AudioStreamBuffer{
		decoder:  decoder,
		codec:    codec,
		logger:   logger.With(Field{Key: "codec", Value: codec}),
		metrics:  metrics,
		emit:     emit,
		minStart: AudioPrefill,
	}
}

// Start opens the decoder for the negotiated codec.
func (a *AudioStreamBuffer) Start() error {
	if a.open {
		return nil
	}
	if err := a.decoder.Open(a.codec); err != nil {
		return WrapError("AudioStreamBuffer.Start", ErrUnsupported, "failed to open audio decoder", err)
	}
	a.open = true
	a.fragments = nil
	a.minStart = AudioPrefill
	a.flushed = 0
	a.emit(&AudioEvent{State: AudioStarted, Codec: a.codec})
	return nil
}

// Handle processes one sound-data packet. Packets for another codec are
// dropped.
func (a *AudioStreamBuffer) Handle(codec string, data []byte, options map[string]interface{}, metadata [][]byte) {
	if codec != a.codec {
		a.logger.Debug("Dropping audio for other codec", Field{Key: "packet_codec", Value: codec})
		return
	}

	if toBool(options["start-of-stream"]) {
		if !a.open {
			if err := a.Start(); err != nil {
				a.logger.Error("Failed to reopen audio", Field{Key: "error", Value: err})
				return
			}
		}
		if err := a.decoder.Play(); err != nil {
			a.logger.Warn("Audio playback failed to start", Field{Key: "error", Value: err})
			return
		}
		a.emit(&AudioEvent{State: AudioPlaying, Codec: a.codec})
		return
	}
	if !a.open {
		return
	}
	if toBool(options["end-of-stream"]) {
		a.teardown("end of stream")
		return
	}
	if len(a.fragments) >= MaxAudioPending {
		a.logger.Warn("Audio buffer overflow", Field{Key: "pending", Value: len(a.fragments)})
		a.teardown("overflow")
		return
	}

	if len(metadata) > 0 {
		a.fragments = append(a.fragments, metadata...)
		a.minStart = 1
	}
	if len(data) > 0 {
		a.fragments = append(a.fragments, data)
	}
	a.metrics.QueueDepth("audio", len(a.fragments))

	if len(a.fragments) > 0 && a.decoder.Ready() && (a.flushed > 0 || len(a.fragments) >= a.minStart) {
		a.flush()
	}
}

func (a *AudioStreamBuffer) flush() {
	buf := a.fragments[0]
	if len(a.fragments) > 1 {
		size := 0
		for _, f := range a.fragments {
			size += len(f)
		}
		buf = make([]byte, 0, size)
		for _, f := range a.fragments {
			buf = append(buf, f...)
		}
	}
	a.fragments = nil
	a.flushed++
	if err := a.decoder.Append(buf); err != nil {
		a.logger.Error("Audio decoder rejected data", Field{Key: "error", Value: err})
		a.teardown("decoder error")
	}
}

// Pending returns the number of accumulated fragments.
func (a *AudioStreamBuffer) Pending() int {
	return len(a.fragments)
}

// IsOpen reports whether the audio path is up.
func (a *AudioStreamBuffer) IsOpen() bool {
	return a.open
}

// Codec returns the negotiated codec.
func (a *AudioStreamBuffer) Codec() string {
	return a.codec
}

func (a *AudioStreamBuffer) teardown(reason string) {
	if !a.open {
		return
	}
	a.open = false
	a.fragments = nil
	if err := a.decoder.Close(); err != nil {
		a.logger.Warn("Failed to close audio decoder", Field{Key: "error", Value: err})
	}
	a.metrics.StreamTeardown("audio", reason)
	a.emit(&AudioEvent{State: AudioStopped, Codec: a.codec, Reason: reason})
}

// Close tears the audio path down.
func (a *AudioStreamBuffer) Close() {
	a.teardown("closed")
}
