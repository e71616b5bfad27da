// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// manualScheduler runs posted work only when the test asks for it, and
// keeps a virtual clock that timers fire against.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*manualTimer
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *manualScheduler) Post(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, fn)
}

func (m *manualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{sched: m, at: m.now.Add(d), fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualScheduler) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// RunPending runs posted callbacks, including ones they post, until the
// queue is empty.
func (m *manualScheduler) RunPending() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in order.
func (m *manualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	m.RunPending()
	for {
		m.mu.Lock()
		sort.SliceStable(m.timers, func(i, j int) bool { return m.timers[i].at.Before(m.timers[j].at) })
		if len(m.timers) == 0 || m.timers[0].at.After(target) {
			m.now = target
			m.mu.Unlock()
			m.RunPending()
			return
		}
		next := m.timers[0]
		m.timers = m.timers[1:]
		m.now = next.at
		fire := !next.stopped
		next.fired = true
		m.mu.Unlock()

		if fire {
			next.fn()
		}
		m.RunPending()
	}
}

// PendingTimers returns the number of timers that have not fired or been
// stopped.
func (m *manualScheduler) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type manualTimer struct {
	sched   *manualScheduler
	at      time.Time
	fn      func()
	fired   bool
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	active := !t.fired && !t.stopped
	t.stopped = true
	return active
}

// fakeTransport records sent packets and lets the test play the server.
type fakeTransport struct {
	mu      sync.Mutex
	handler TransportHandler
	uri     string
	sent    []Packet
	openErr error
	sendErr error
	closed  int
}

func (f *fakeTransport) Open(_ context.Context, uri string, h TransportHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.uri = uri
	f.handler = h
	return nil
}

func (f *fakeTransport) Send(p Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// Sent returns the packets sent with command, in order.
func (f *fakeTransport) Sent(command string) []Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Packet
	for _, p := range f.sent {
		if p.Command() == command {
			out = append(out, p)
		}
	}
	return out
}

// Last returns the most recent packet sent with command, or nil.
func (f *fakeTransport) Last(command string) Packet {
	sent := f.Sent(command)
	if len(sent) == 0 {
		return nil
	}
	return sent[len(sent)-1]
}

func (f *fakeTransport) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recordingLogger keeps every message for later inspection.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+" "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...Field) { l.add("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ ...Field)  { l.add("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...Field)  { l.add("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...Field) { l.add("ERROR", msg) }

// With returns l itself so derived loggers record into the same list.
func (l *recordingLogger) With(_ ...Field) Logger { return l }

func (l *recordingLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.HasSuffix(e, " "+msg) {
			return true
		}
	}
	return false
}

// recordingMetrics is a MetricsCollector that remembers its calls.
type recordingMetrics struct {
	mu        sync.Mutex
	received  map[string]int
	sent      map[string]int
	paints    []string
	failures  []string
	depths    map[string]int
	teardowns []string
	pings     []time.Duration
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		received: make(map[string]int),
		sent:     make(map[string]int),
		depths:   make(map[string]int),
	}
}

func (m *recordingMetrics) PacketReceived(command string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received[command]++
}

func (m *recordingMetrics) PacketSent(command string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[command]++
}

func (m *recordingMetrics) PaintCompleted(encoding string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failures = append(m.failures, encoding)
		return
	}
	m.paints = append(m.paints, encoding)
}

func (m *recordingMetrics) QueueDepth(queue string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths[queue] = depth
}

func (m *recordingMetrics) StreamTeardown(stream, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardowns = append(m.teardowns, stream+"/"+reason)
}

func (m *recordingMetrics) PingLatency(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings = append(m.pings, latency)
}

// fakeImageDecoder hands out one result channel per Decode call, resolved
// by the test.
type fakeImageDecoder struct {
	mu    sync.Mutex
	calls []chan ImageResult
	encs  []string
}

func (d *fakeImageDecoder) Decode(_ context.Context, encoding string, _ []byte) <-chan ImageResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan ImageResult, 1)
	d.calls = append(d.calls, ch)
	d.encs = append(d.encs, encoding)
	return ch
}

func (d *fakeImageDecoder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeImageDecoder) resolve(i int, res ImageResult) {
	d.mu.Lock()
	ch := d.calls[i]
	d.mu.Unlock()
	ch <- res
}

// fakeVideoDecoder accepts appends until the test marks it busy.
type fakeVideoDecoder struct {
	coding    string
	events    VideoEvents
	busy      bool
	blocks    [][]byte
	closed    bool
	startErr  error
	appendErr error
}

func (d *fakeVideoDecoder) Start(events VideoEvents) error {
	d.events = events
	return d.startErr
}

func (d *fakeVideoDecoder) Busy() bool { return d.busy }

func (d *fakeVideoDecoder) Append(data []byte) error {
	if d.appendErr != nil {
		return d.appendErr
	}
	d.blocks = append(d.blocks, data)
	return nil
}

func (d *fakeVideoDecoder) Close() error {
	d.closed = true
	return nil
}

// fakeAudioDecoder records what reaches the audio backend.
type fakeAudioDecoder struct {
	codecs   []string
	opened   []string
	notReady bool
	appended [][]byte
	played   int
	closed   int
	openErr  error
}

func (d *fakeAudioDecoder) Codecs() []string { return d.codecs }

func (d *fakeAudioDecoder) Open(codec string) error {
	if d.openErr != nil {
		return d.openErr
	}
	d.opened = append(d.opened, codec)
	return nil
}

func (d *fakeAudioDecoder) Ready() bool { return !d.notReady }

func (d *fakeAudioDecoder) Append(data []byte) error {
	d.appended = append(d.appended, data)
	return nil
}

func (d *fakeAudioDecoder) Play() error {
	d.played++
	return nil
}

func (d *fakeAudioDecoder) Close() error {
	d.closed++
	return nil
}

// paintHarness wires a paintEnv to a manual scheduler and records what
// the pipeline sends and emits.
type paintHarness struct {
	sched   *manualScheduler
	env     *paintEnv
	images  *fakeImageDecoder
	videos  []*fakeVideoDecoder
	metrics *recordingMetrics
	sent    []Packet
	events  []Event
}

func newPaintHarness() *paintHarness {
	h := &paintHarness{
		sched:   newManualScheduler(),
		images:  &fakeImageDecoder{},
		metrics: newRecordingMetrics(),
	}
	h.env = &paintEnv{
		sched:   h.sched,
		metrics: h.metrics,
		images:  h.images,
		videoFactory: func(coding string, _, _ int, _ PaintOptions) (VideoDecoder, error) {
			d := &fakeVideoDecoder{coding: coding}
			h.videos = append(h.videos, d)
			return d, nil
		},
		send: func(p Packet) { h.sent = append(h.sent, p) },
		emit: func(ev Event) { h.events = append(h.events, ev) },
	}
	h.env.ensureDefaults()
	return h
}

func (h *paintHarness) pipeline(width, height int) *PaintPipeline {
	return newPaintPipeline(h.env, 1, NewFramebuffer(width, height))
}

// acks returns the damage-sequence packets as (sequence, decode ms, message).
func (h *paintHarness) acks() []ack {
	var out []ack
	for _, p := range h.sent {
		if p.Command() != "damage-sequence" {
			continue
		}
		r := newArgReader(p)
		out = append(out, ack{seq: r.Int64(0), ms: r.Int64(4), message: r.OptString(5, "")})
	}
	return out
}

type ack struct {
	seq     int64
	ms      int64
	message string
}

func (a ack) String() string {
	return fmt.Sprintf("%d:%d:%s", a.seq, a.ms, a.message)
}

// item builds a paint item for surface 1 received now.
func (h *paintHarness) item(seq int64, encoding string, x, y, w, ht int, data []byte) *PaintItem {
	return &PaintItem{
		SurfaceID: 1,
		X:         x,
		Y:         y,
		Width:     w,
		Height:    ht,
		Encoding:  encoding,
		Data:      data,
		Sequence:  seq,
		Options:   PaintOptions{Frame: -1},
		Received:  h.sched.Now(),
	}
}

// sessionHarness runs a Session on a manual scheduler against a fake
// transport.
type sessionHarness struct {
	t         *testing.T
	sched     *manualScheduler
	transport *fakeTransport
	events    chan Event
	session   *Session
	cfg       *ClientConfig
}

func newSessionHarness(t *testing.T, options ...ClientOption) *sessionHarness {
	t.Helper()
	events := make(chan Event, 1024)
	cfg := defaultClientConfig()
	cfg.EventCh = events
	cfg.ImageDecoder = &fakeImageDecoder{}
	cfg.PingInterval = 0
	for _, option := range options {
		option(cfg)
	}
	cfg.applyDefaults()

	h := &sessionHarness{
		t:         t,
		sched:     newManualScheduler(),
		transport: &fakeTransport{},
		events:    events,
		cfg:       cfg,
	}
	h.session = newSession(cfg, h.sched, h.transport, "ws://localhost:10000/")
	t.Cleanup(func() { h.session.cancel() })
	return h
}

// open delivers the transport's open notification.
func (h *sessionHarness) open() {
	h.t.Helper()
	if err := h.session.open(context.Background()); err != nil {
		h.t.Fatalf("open: %v", err)
	}
	h.transport.handler.OnOpen()
	h.sched.RunPending()
}

// receive delivers one packet from the server and runs the session.
func (h *sessionHarness) receive(command string, args ...interface{}) {
	h.session.OnPacket(NewPacket(command, args...))
	h.sched.RunPending()
}

// handshake opens the session and answers with a server hello.
func (h *sessionHarness) handshake(caps map[string]interface{}) {
	h.t.Helper()
	h.open()
	if caps == nil {
		caps = map[string]interface{}{"version": "6.0", "encodings": []interface{}{"png", "rgb", "scroll"}}
	}
	h.receive("hello", caps)
}

// drain returns the events published so far.
func (h *sessionHarness) drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventNames(events []Event) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name()
	}
	return names
}
