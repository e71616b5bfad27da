// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type audioHarness struct {
	decoder *fakeAudioDecoder
	metrics *recordingMetrics
	events  []Event
	buffer  *AudioStreamBuffer
}

func newAudioHarness(t *testing.T) *audioHarness {
	t.Helper()
	h := &audioHarness{
		decoder: &fakeAudioDecoder{codecs: []string{"opus", "mp3"}},
		metrics: newRecordingMetrics(),
	}
	h.buffer = newAudioStreamBuffer(h.decoder, "opus", &NoOpLogger{}, h.metrics, func(ev Event) {
		h.events = append(h.events, ev)
	})
	require.NoError(t, h.buffer.Start())
	return h
}

func (h *audioHarness) states() []AudioState {
	var out []AudioState
	for _, ev := range h.events {
		if a, ok := ev.(*AudioEvent); ok {
			out = append(out, a.State)
		}
	}
	return out
}

func TestNegotiateAudioCodec(t *testing.T) {
	local := []string{"mp3", "opus", "vorbis"}
	tests := []struct {
		name      string
		local     []string
		preferred string
		remote    map[string]interface{}
		want      string
	}{
		{
			name:   "server does not send audio",
			local:  local,
			remote: map[string]interface{}{"sound.send": false, "sound.encoders": []interface{}{"opus"}},
			want:   "",
		},
		{
			name:   "server lists no encoders",
			local:  local,
			remote: map[string]interface{}{"sound.send": true},
			want:   "",
		},
		{
			name:   "no local decoders",
			remote: map[string]interface{}{"sound.send": true, "sound.encoders": []interface{}{"opus"}},
			want:   "",
		},
		{
			name:      "preferred codec",
			local:     local,
			preferred: "mp3",
			remote:    map[string]interface{}{"sound.send": true, "sound.encoders": []interface{}{"opus", "mp3"}},
			want:      "mp3",
		},
		{
			name:      "preferred codec unavailable on the server",
			local:     local,
			preferred: "vorbis",
			remote:    map[string]interface{}{"sound.send": true, "sound.encoders": []interface{}{"mp3", "opus"}},
			want:      "opus",
		},
		{
			name:   "no common codec",
			local:  local,
			remote: map[string]interface{}{"sound.send": true, "sound.encoders": []interface{}{"flac"}},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := negotiateAudioCodec(tt.local, tt.preferred, CapabilitiesFromMap(tt.remote))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAudioStreamBuffer_Prefill(t *testing.T) {
	h := newAudioHarness(t)
	assert.Equal(t, []string{"opus"}, h.decoder.opened)
	assert.Equal(t, []AudioState{AudioStarted}, h.states())

	for _, frag := range []string{"a", "b", "c"} {
		h.buffer.Handle("opus", []byte(frag), nil, nil)
	}
	assert.Empty(t, h.decoder.appended)
	assert.Equal(t, 3, h.buffer.Pending())

	h.buffer.Handle("opus", []byte("d"), nil, nil)
	assert.Equal(t, [][]byte{[]byte("abcd")}, h.decoder.appended)
	assert.Zero(t, h.buffer.Pending())

	h.buffer.Handle("opus", []byte("e"), nil, nil)
	assert.Equal(t, [][]byte{[]byte("abcd"), []byte("e")}, h.decoder.appended, "after the first flush fragments pass straight through")
}

func TestAudioStreamBuffer_MetadataFirst(t *testing.T) {
	h := newAudioHarness(t)

	h.buffer.Handle("opus", []byte("data"), nil, [][]byte{[]byte("head1"), []byte("head2")})

	require.Len(t, h.decoder.appended, 1)
	assert.Equal(t, "head1head2data", string(h.decoder.appended[0]))
}

func TestAudioStreamBuffer_WaitsForDecoder(t *testing.T) {
	h := newAudioHarness(t)
	h.decoder.notReady = true

	for i := 0; i < AudioPrefill+2; i++ {
		h.buffer.Handle("opus", []byte{byte('0' + i)}, nil, nil)
	}
	assert.Empty(t, h.decoder.appended)

	h.decoder.notReady = false
	h.buffer.Handle("opus", []byte("!"), nil, nil)
	require.Len(t, h.decoder.appended, 1)
	assert.Equal(t, "012345!", string(h.decoder.appended[0]))
}

func TestAudioStreamBuffer_StreamLifecycle(t *testing.T) {
	h := newAudioHarness(t)

	h.buffer.Handle("opus", nil, map[string]interface{}{"start-of-stream": true}, nil)
	assert.Equal(t, 1, h.decoder.played)

	h.buffer.Handle("opus", nil, map[string]interface{}{"end-of-stream": true}, nil)
	assert.False(t, h.buffer.IsOpen())
	assert.Equal(t, 1, h.decoder.closed)

	h.buffer.Handle("opus", []byte("ignored"), nil, nil)
	assert.Empty(t, h.decoder.appended)

	h.buffer.Handle("opus", nil, map[string]interface{}{"start-of-stream": true}, nil)
	assert.True(t, h.buffer.IsOpen(), "start-of-stream reopens the audio path")
	assert.Equal(t, []string{"opus", "opus"}, h.decoder.opened)
	assert.Equal(t, 2, h.decoder.played)

	assert.Equal(t, []AudioState{AudioStarted, AudioPlaying, AudioStopped, AudioStarted, AudioPlaying}, h.states())
	assert.Equal(t, []string{"audio/end of stream"}, h.metrics.teardowns)
}

func TestAudioStreamBuffer_Overflow(t *testing.T) {
	h := newAudioHarness(t)
	h.decoder.notReady = true

	for i := 0; i < MaxAudioPending; i++ {
		h.buffer.Handle("opus", []byte{1}, nil, nil)
	}
	assert.True(t, h.buffer.IsOpen())
	assert.Equal(t, MaxAudioPending, h.buffer.Pending())

	h.buffer.Handle("opus", []byte{1}, nil, nil)
	assert.False(t, h.buffer.IsOpen())
	assert.Zero(t, h.buffer.Pending())
	assert.Equal(t, []string{"audio/overflow"}, h.metrics.teardowns)

	last := h.events[len(h.events)-1].(*AudioEvent)
	assert.Equal(t, AudioStopped, last.State)
	assert.Equal(t, "overflow", last.Reason)
}

func TestAudioStreamBuffer_OtherCodecDropped(t *testing.T) {
	h := newAudioHarness(t)

	for i := 0; i < AudioPrefill; i++ {
		h.buffer.Handle("mp3", []byte{1}, nil, nil)
	}
	assert.Zero(t, h.buffer.Pending())
	assert.Empty(t, h.decoder.appended)
}

func TestAudioStreamBuffer_OpenFailure(t *testing.T) {
	dec := &fakeAudioDecoder{openErr: errors.New("device busy")}
	buffer := newAudioStreamBuffer(dec, "opus", &NoOpLogger{}, &NoOpMetrics{}, func(Event) {})

	err := buffer.Start()
	assert.True(t, IsXpraError(err, ErrUnsupported))
	assert.False(t, buffer.IsOpen())

	buffer.Close()
	assert.Zero(t, dec.closed)
}
