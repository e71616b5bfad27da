// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"context"
	"fmt"
	"time"
)

// Session is one connection to a server. All of its state is owned by the
// scheduler goroutine: transport callbacks and client requests are posted
// there and handled one at a time, in order.
type Session struct {
	cfg       *ClientConfig
	sched     Scheduler
	transport Transport
	uri       string
	logger    Logger
	metrics   MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc

	local      *Capabilities
	remote     *Capabilities
	negotiated Negotiated

	env      *paintEnv
	surfaces *SurfaceRegistry
	input    *InputTranslator
	audio    *AudioStreamBuffer

	desktopWidth  int
	desktopHeight int

	lastPingEcho int64
	pingTimer    Timer

	opened       bool
	disconnected bool
	err          error

	handshake chan struct{}
	done      chan struct{}
}

func newSession(cfg *ClientConfig, sched Scheduler, transport Transport, uri string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:           cfg,
		sched:         sched,
		transport:     transport,
		uri:           uri,
		logger:        cfg.Logger.With(Field{Key: "uri", Value: uri}),
		metrics:       cfg.Metrics,
		ctx:           ctx,
		cancel:        cancel,
		input:         NewInputTranslator(cfg.SwapKeys),
		desktopWidth:  cfg.DesktopWidth,
		desktopHeight: cfg.DesktopHeight,
		handshake:     make(chan struct{}),
		done:          make(chan struct{}),
	}
	s.env = &paintEnv{
		sched:        sched,
		logger:       s.logger,
		metrics:      s.metrics,
		tracer:       cfg.Tracer,
		images:       cfg.ImageDecoder,
		videoFactory: cfg.VideoDecoderFactory,
		send:         s.send,
		emit:         s.emit,
	}
	s.surfaces = newSurfaceRegistry(s.env)
	s.local = BuildCapabilities(s.capabilityOptions())
	return s
}

func (s *Session) capabilityOptions() CapabilityOptions {
	opts := DefaultCapabilityOptions()
	if s.cfg.UUID != "" {
		opts.UUID = s.cfg.UUID
	}
	opts.Username = s.cfg.Username
	opts.DesktopWidth = s.desktopWidth
	opts.DesktopHeight = s.desktopHeight
	opts.DPI = s.cfg.DPI
	opts.Digests = s.cfg.AuthRegistry.SupportedDigests()

	encodings := s.cfg.Encodings
	if len(encodings) == 0 {
		encodings = coreEncodings()
	}
	if s.cfg.VideoDecoderFactory != nil {
		for _, enc := range VideoEncodings {
			if !containsString(encodings, enc) {
				encodings = append(encodings, enc)
			}
		}
	} else {
		var filtered []string
		for _, enc := range encodings {
			if !isVideoEncoding(enc) {
				filtered = append(filtered, enc)
			}
		}
		encodings = filtered
	}
	opts.Encodings = encodings

	if s.cfg.AudioDecoder != nil {
		opts.AudioCodecs = s.cfg.AudioDecoder.Codecs()
	}
	return opts
}

// open starts the transport. Its notifications are posted to the scheduler.
func (s *Session) open(ctx context.Context) error {
	return s.transport.Open(ctx, s.uri, s)
}

// OnOpen implements TransportHandler.
func (s *Session) OnOpen() {
	s.sched.Post(s.onOpen)
}

// OnPacket implements TransportHandler.
func (s *Session) OnPacket(p Packet) {
	s.sched.Post(func() { s.dispatch(p) })
}

// OnClose implements TransportHandler. Repeated reports are harmless.
func (s *Session) OnClose(err error) {
	s.sched.Post(func() { s.disconnect("connection closed", err) })
}

func (s *Session) onOpen() {
	if s.disconnected {
		return
	}
	s.opened = true
	s.logger.Info("Connected")
	s.emit(&ConnectedEvent{URI: s.uri})
	s.send(NewPacket("hello", s.local.ToMap()))
}

// dispatch routes one inbound packet.
func (s *Session) dispatch(p Packet) {
	if s.disconnected {
		return
	}
	name := p.Command()
	s.metrics.PacketReceived(name)
	if !quietInbound[name] {
		s.logger.Debug("Received packet", Field{Key: "command", Value: name}, Field{Key: "args", Value: len(p.Args())})
	}

	switch ParseCommand(name) {
	case CmdHello:
		s.handleHello(p)
	case CmdChallenge:
		s.handleChallenge(p)
	case CmdDisconnect:
		r := newArgReader(p)
		s.disconnect(r.OptString(0, "server request"), nil)
	case CmdPing:
		s.send(NewPacket("ping_echo", newArgReader(p).Raw(0), 0, 0, 0, 0))
	case CmdPingEcho:
		s.handlePingEcho(p)
	case CmdDraw:
		s.handleDraw(p)
	case CmdCursor:
		s.handleCursor(p)
	case CmdNewWindow:
		s.handleNewSurface(p, false)
	case CmdNewOverrideRedirect:
		s.handleNewSurface(p, true)
	case CmdConfigureOverrideRedirect, CmdWindowMoveResize:
		s.handleConfigure(p)
	case CmdWindowResized:
		s.handleResized(p)
	case CmdWindowMetadata:
		s.handleMetadata(p)
	case CmdRaiseWindow:
		if id := newArgReader(p).Int(0); id > 0 {
			s.emit(&RaiseEvent{ID: id})
		}
	case CmdLostWindow:
		s.surfaces.Remove(newArgReader(p).Int(0), "lost")
	case CmdDesktopSize:
		s.handleDesktopSize(p)
	case CmdSoundData:
		s.handleSoundData(p)
	case CmdStartupComplete:
		s.logger.Info("Server startup complete")
		s.emit(&GenericEvent{Command: name, Args: p.Args()})
	default:
		if err := newInputValidator().ValidateCommand(name); err != nil {
			s.logger.Warn("Dropping packet with invalid command", Field{Key: "error", Value: err})
			return
		}
		s.emit(&GenericEvent{Command: name, Args: p.Args()})
	}
}

func (s *Session) handleHello(p Packet) {
	if s.remote != nil {
		s.logger.Warn("Ignoring repeated hello")
		return
	}
	r := newArgReader(p)
	caps := r.Map(0)
	if err := r.Err(); err != nil {
		s.disconnect("invalid hello", err)
		return
	}

	s.remote = CapabilitiesFromMap(caps)
	s.negotiated = Negotiate(s.local, s.remote, s.cfg.PreferredAudioCodec)
	s.logger.Info("Handshake complete",
		Field{Key: "server_version", Value: s.negotiated.ServerVersion},
		Field{Key: "encodings", Value: s.negotiated.Encodings},
		Field{Key: "compression", Value: s.negotiated.Compression},
		Field{Key: "audio", Value: s.negotiated.AudioCodec})

	if s.negotiated.AudioEnabled() && s.cfg.AudioDecoder != nil {
		s.startAudio(s.negotiated.AudioCodec)
	}
	if s.cfg.PingInterval > 0 {
		s.schedulePing()
	}

	s.emit(&HandshakeEvent{Remote: s.remote, Negotiated: s.negotiated})
	close(s.handshake)
}

func (s *Session) startAudio(codec string) {
	audio := newAudioStreamBuffer(s.cfg.AudioDecoder, codec, s.logger, s.metrics, s.emit)
	if err := audio.Start(); err != nil {
		s.logger.Warn("Audio disabled", Field{Key: "error", Value: err})
		s.negotiated.AudioCodec = ""
		return
	}
	s.audio = audio
	s.send(NewPacket("sound-control", "start", codec))
}

func (s *Session) handleChallenge(p Packet) {
	ch, err := parseChallenge(p)
	if err != nil {
		s.disconnect("invalid challenge", err)
		return
	}
	if len(s.cfg.Password) == 0 {
		s.disconnect("authentication required",
			authenticationError("Session.handleChallenge", "server requires a password", nil))
		return
	}
	resp, err := s.cfg.AuthRegistry.Respond(ch, s.cfg.Password)
	if err != nil {
		s.disconnect("authentication failed", err)
		return
	}

	hello := s.local.ToMap()
	hello["challenge_response"] = resp.Response
	if len(resp.ClientSalt) > 0 {
		hello["challenge_client_salt"] = resp.ClientSalt
	}
	s.logger.Info("Answering challenge", Field{Key: "digest", Value: ch.Digest})
	s.send(NewPacket("hello", hello))
}

func (s *Session) schedulePing() {
	s.pingTimer = s.sched.AfterFunc(s.cfg.PingInterval, func() {
		if s.disconnected {
			return
		}
		s.send(NewPacket("ping", s.sched.Now().UnixMilli()))
		s.schedulePing()
	})
}

func (s *Session) handlePingEcho(p Packet) {
	echo := newArgReader(p).Int64(0)
	s.lastPingEcho = echo
	if latency := s.sched.Now().UnixMilli() - echo; echo > 0 && latency >= 0 {
		s.metrics.PingLatency(time.Duration(latency) * time.Millisecond)
	}
}

func (s *Session) handleDraw(p Packet) {
	item, err := parseDrawPacket(p, s.sched.Now())
	if err != nil {
		s.logger.Warn("Dropping malformed draw packet", Field{Key: "error", Value: err})
		return
	}
	surface, ok := s.surfaces.Get(item.SurfaceID)
	if !ok {
		s.logger.Warn("Draw for unknown surface", Field{Key: "wid", Value: item.SurfaceID})
		s.send(NewPacket("damage-sequence", item.Sequence, item.SurfaceID, item.Width, item.Height, int64(-1), "unknown surface"))
		return
	}
	surface.Pipeline().Enqueue(item)
}

func (s *Session) handleCursor(p Packet) {
	ev, err := parseCursorPacket(p)
	if err != nil {
		s.logger.Warn("Dropping cursor update", Field{Key: "error", Value: err})
		return
	}
	s.emit(ev)
}

// handleNewSurface reads new-window / new-override-redirect
// (id, x, y, w, h, metadata, client_properties).
func (s *Session) handleNewSurface(p Packet, overrideRedirect bool) {
	r := newArgReader(p)
	id := r.Int(0)
	geom := Geometry{X: r.Int(1), Y: r.Int(2), Width: r.Int(3), Height: r.Int(4)}
	meta := Metadata(r.Map(5))
	props := r.Map(6)
	if err := r.Err(); err != nil {
		s.logger.Warn("Dropping malformed "+p.Command(), Field{Key: "error", Value: err})
		return
	}

	surface, err := s.surfaces.Create(id, geom, meta, props, overrideRedirect)
	if err != nil {
		s.logger.Warn("Surface not created", Field{Key: "wid", Value: id}, Field{Key: "error", Value: err})
		return
	}
	if s.cfg.AutoMap && !overrideRedirect {
		s.mapSurface(surface)
	}
}

func (s *Session) mapSurface(surface *Surface) {
	g := surface.Geometry()
	s.send(NewPacket("map-window", surface.ID(), g.X, g.Y, g.Width, g.Height, surface.ClientProperties()))
}

func (s *Session) handleConfigure(p Packet) {
	r := newArgReader(p)
	id := r.Int(0)
	geom := Geometry{X: r.Int(1), Y: r.Int(2), Width: r.Int(3), Height: r.Int(4)}
	if err := r.Err(); err != nil {
		s.logger.Warn("Dropping malformed "+p.Command(), Field{Key: "error", Value: err})
		return
	}
	if _, err := s.surfaces.Configure(id, geom); err != nil {
		s.logger.Warn("Surface not configured", Field{Key: "wid", Value: id}, Field{Key: "error", Value: err})
	}
}

func (s *Session) handleResized(p Packet) {
	r := newArgReader(p)
	id, w, h := r.Int(0), r.Int(1), r.Int(2)
	if err := r.Err(); err != nil {
		s.logger.Warn("Dropping malformed window-resized", Field{Key: "error", Value: err})
		return
	}
	if _, err := s.surfaces.Resize(id, w, h); err != nil {
		s.logger.Warn("Surface not resized", Field{Key: "wid", Value: id}, Field{Key: "error", Value: err})
	}
}

func (s *Session) handleMetadata(p Packet) {
	r := newArgReader(p)
	id := r.Int(0)
	meta := Metadata(r.Map(1))
	if err := r.Err(); err != nil {
		s.logger.Warn("Dropping malformed window-metadata", Field{Key: "error", Value: err})
		return
	}
	if _, err := s.surfaces.UpdateMetadata(id, meta); err != nil {
		s.logger.Warn("Metadata not applied", Field{Key: "wid", Value: id}, Field{Key: "error", Value: err})
	}
}

func (s *Session) handleDesktopSize(p Packet) {
	ev, err := parseDesktopSize(p)
	if err != nil {
		s.logger.Warn("Dropping malformed desktop_size", Field{Key: "error", Value: err})
		return
	}
	s.emit(ev)
}

// handleSoundData reads sound-data(codec, data, options, metadata).
func (s *Session) handleSoundData(p Packet) {
	if s.audio == nil {
		return
	}
	r := newArgReader(p)
	codec := r.String(0)
	data := r.Bytes(1)
	options := r.Map(2)
	var metadata [][]byte
	if list, ok := toList(r.Raw(3)); ok {
		for _, m := range list {
			if b, ok := toBytes(m); ok {
				metadata = append(metadata, b)
			}
		}
	}
	if err := r.Err(); err != nil {
		s.logger.Warn("Dropping malformed sound-data", Field{Key: "error", Value: err})
		return
	}
	s.audio.Handle(codec, data, options, metadata)
}

// send writes p to the transport. High-frequency commands are not logged.
func (s *Session) send(p Packet) {
	name := p.Command()
	if s.disconnected || !s.opened {
		s.logger.Debug("Not connected, dropping packet", Field{Key: "command", Value: name})
		return
	}
	if !quietCommands[name] {
		s.logger.Debug("Sending packet", Field{Key: "command", Value: name})
	}
	if err := s.transport.Send(p); err != nil {
		s.logger.Warn("Failed to send packet", Field{Key: "command", Value: name}, Field{Key: "error", Value: err})
		return
	}
	s.metrics.PacketSent(name)
}

// emit publishes ev to the host. It blocks while the event channel is full
// so the host paces the session, until the session is closed.
func (s *Session) emit(ev Event) {
	if s.cfg.EventCh == nil {
		return
	}
	select {
	case s.cfg.EventCh <- ev:
	case <-s.ctx.Done():
	}
}

// disconnect tears the session down. Only the first call has an effect, so
// DisconnectedEvent is published exactly once.
func (s *Session) disconnect(reason string, err error) {
	if s.disconnected {
		return
	}
	s.disconnected = true
	s.err = err
	if err != nil {
		s.logger.Warn("Disconnected", Field{Key: "reason", Value: reason}, Field{Key: "error", Value: err})
	} else {
		s.logger.Info("Disconnected", Field{Key: "reason", Value: reason})
	}

	if s.pingTimer != nil {
		s.pingTimer.Stop()
	}
	s.surfaces.Clear("disconnected")
	if s.audio != nil {
		s.audio.Close()
		s.audio = nil
	}
	if cerr := s.transport.Close(); cerr != nil {
		s.logger.Debug("Transport close failed", Field{Key: "error", Value: cerr})
	}

	s.emit(&DisconnectedEvent{Reason: reason, Err: err})
	close(s.done)
}

// Key translates and sends a key event for surface wid.
func (s *Session) Key(wid int, ev KeyEvent) {
	action, ok := s.input.TranslateKey(ev)
	if !ok {
		return
	}
	s.send(NewPacket("key-action", wid, action.Keyname, action.Pressed, stringList(action.Modifiers),
		action.Keyval, action.Str, action.Keycode, action.Group))
}

// Pointer sends a pointer-position for surface wid.
func (s *Session) Pointer(wid, x, y int, mods Modifiers, buttons []int) {
	s.send(NewPacket("pointer-position", wid, []interface{}{x, y}, stringList(s.input.Modifiers(mods)), intList(buttons)))
}

// Button sends a button-action for surface wid.
func (s *Session) Button(wid, button int, pressed bool, x, y int, mods Modifiers, buttons []int) {
	s.send(NewPacket("button-action", wid, button, pressed, []interface{}{x, y},
		stringList(s.input.Modifiers(mods)), intList(buttons)))
}

// Wheel turns a wheel event into button clicks, sent together shortly
// after.
func (s *Session) Wheel(wid int, ev WheelEvent, x, y int, mods Modifiers, buttons []int) {
	clicks := s.input.TranslateWheel(ev)
	if len(clicks) == 0 {
		return
	}
	modifiers := stringList(s.input.Modifiers(mods))
	pressed := intList(buttons)
	s.sched.AfterFunc(time.Millisecond, func() {
		for _, c := range clicks {
			s.send(NewPacket("button-action", wid, c.Button, c.Pressed, []interface{}{x, y}, modifiers, pressed))
		}
	})
}

// MapSurface asks the server to map a surface at its current geometry.
func (s *Session) MapSurface(wid int) error {
	surface, ok := s.surfaces.Get(wid)
	if !ok {
		return validationError("Session.MapSurface", fmt.Sprintf("unknown surface %d", wid), nil)
	}
	s.mapSurface(surface)
	return nil
}

// ConfigureSurface reports a local move or resize to the server.
func (s *Session) ConfigureSurface(wid int, geom Geometry) error {
	surface, err := s.surfaces.Configure(wid, geom)
	if err != nil {
		return err
	}
	s.send(NewPacket("configure-window", wid, geom.X, geom.Y, geom.Width, geom.Height, surface.ClientProperties()))
	return nil
}

// CloseSurface asks the server to close a surface.
func (s *Session) CloseSurface(wid int) {
	s.send(NewPacket("close-window", wid))
}

// FocusSurface gives a surface keyboard focus.
func (s *Session) FocusSurface(wid int) {
	s.send(NewPacket("focus", wid))
}

// SetDesktopSize records a new local desktop size and reports it.
func (s *Session) SetDesktopSize(width, height int) error {
	if err := newInputValidator().ValidateGeometry(Geometry{Width: width, Height: height}); err != nil {
		return err
	}
	if width == s.desktopWidth && height == s.desktopHeight {
		return nil
	}
	s.desktopWidth, s.desktopHeight = width, height
	s.send(NewPacket("desktop_size", width, height, screenSizes(width, height, s.cfg.DPI)))
	return nil
}

// Send forwards an arbitrary packet.
func (s *Session) Send(command string, args ...interface{}) error {
	if err := newInputValidator().ValidateCommand(command); err != nil {
		return err
	}
	s.send(NewPacket(command, args...))
	return nil
}

// Surfaces returns the surface registry.
func (s *Session) Surfaces() *SurfaceRegistry {
	return s.surfaces
}

// Negotiated returns the handshake outcome; zero before the server hello.
func (s *Session) Negotiated() Negotiated {
	return s.negotiated
}

// LastPingEcho returns the timestamp of the latest ping_echo.
func (s *Session) LastPingEcho() int64 {
	return s.lastPingEcho
}

func intList(values []int) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
