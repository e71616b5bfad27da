// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"context"
	"image"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Client is a remote display client. It is safe for concurrent use: every
// request is handed to the session's scheduler and applied in order.
type Client struct {
	config *ClientConfig
	logger Logger

	mu      sync.Mutex
	session *Session
	sched   *loopScheduler
}

// ClientConfig configures client behavior.
type ClientConfig struct {
	// Logger specifies the logger instance to use for session logging.
	Logger Logger

	// Metrics specifies the metrics collector to use for session monitoring.
	Metrics MetricsCollector

	// Tracer creates one span per paint.
	Tracer trace.Tracer

	// TransportFactory creates the transport for each connection.
	TransportFactory TransportFactory

	// EventCh is the channel where session events will be delivered. The
	// session waits for the host when it is full.
	EventCh chan<- Event

	// AuthRegistry specifies the challenge digests available.
	AuthRegistry *AuthRegistry

	// Password answers server challenges. Without it a challenge ends the
	// session.
	Password []byte

	// Username is reported in the hello.
	Username string

	// UUID identifies the session; a fresh one is generated when empty.
	UUID string

	// DesktopWidth and DesktopHeight are the local desktop size.
	DesktopWidth  int
	DesktopHeight int

	// DPI is the local screen resolution.
	DPI int

	// SwapKeys exchanges control and meta, for hosts where the command key
	// plays the role of control.
	SwapKeys bool

	// Encodings restricts the advertised paint encodings. Video encodings
	// are added when a VideoDecoderFactory is set.
	Encodings []string

	// ImageDecoder decodes compressed images.
	ImageDecoder ImageDecoder

	// VideoDecoderFactory creates video decoders; nil disables video.
	VideoDecoderFactory VideoDecoderFactory

	// AudioDecoder plays server audio; nil disables audio.
	AudioDecoder AudioDecoder

	// PreferredAudioCodec is tried first during negotiation.
	PreferredAudioCodec string

	// PingInterval enables periodic pings when positive.
	PingInterval time.Duration

	// AutoMap maps every new regular surface as soon as it is announced.
	AutoMap bool

	// ConnectTimeout bounds Connect, through the server hello.
	ConnectTimeout time.Duration
}

// ClientOption represents a functional option for configuring a client.
type ClientOption func(*ClientConfig)

// WithLogger sets the logger for the client.
// Use NoOpLogger to disable logging or provide a custom implementation.
func WithLogger(logger Logger) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Logger = logger
	}
}

// WithMetrics sets the metrics collector for session monitoring.
// Use NoOpMetrics to disable metrics collection or NewPrometheusMetrics to export them.
func WithMetrics(metrics MetricsCollector) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Metrics = metrics
	}
}

// WithTracer sets the tracer used for paint spans.
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Tracer = tracer
	}
}

// WithTransport sets the transport factory.
// The default dials a websocket and exchanges CBOR encoded packets.
func WithTransport(factory TransportFactory) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.TransportFactory = factory
	}
}

// WithEventChannel sets the channel where session events will be delivered.
// The channel should be buffered to prevent stalling the session.
func WithEventChannel(ch chan<- Event) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.EventCh = ch
	}
}

// WithAuthRegistry sets a custom authentication registry for the client.
// This allows registration of challenge digests beyond the defaults.
func WithAuthRegistry(registry *AuthRegistry) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.AuthRegistry = registry
	}
}

// WithPassword sets the password used to answer server challenges. The
// client keeps its own copy and clears it on Close.
func WithPassword(password []byte) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Password = append([]byte(nil), password...)
	}
}

// WithUsername sets the username reported to the server.
func WithUsername(username string) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Username = username
	}
}

// WithUUID sets the session identifier.
func WithUUID(id string) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.UUID = id
	}
}

// WithDesktopSize sets the local desktop size advertised in the hello.
func WithDesktopSize(width, height int) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.DesktopWidth = width
		cfg.DesktopHeight = height
	}
}

// WithDPI sets the local screen resolution.
func WithDPI(dpi int) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.DPI = dpi
	}
}

// WithSwapKeys exchanges the control and meta keys.
func WithSwapKeys(swap bool) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.SwapKeys = swap
	}
}

// WithEncodings restricts the paint encodings offered to the server.
func WithEncodings(encodings ...string) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Encodings = encodings
	}
}

// WithImageDecoder sets the decoder for compressed images.
func WithImageDecoder(decoder ImageDecoder) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.ImageDecoder = decoder
	}
}

// WithVideoDecoderFactory enables video encodings.
func WithVideoDecoderFactory(factory VideoDecoderFactory) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.VideoDecoderFactory = factory
	}
}

// WithAudioDecoder enables audio forwarding through decoder.
func WithAudioDecoder(decoder AudioDecoder) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.AudioDecoder = decoder
	}
}

// WithPreferredAudioCodec sets the codec tried first during negotiation.
func WithPreferredAudioCodec(codec string) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.PreferredAudioCodec = codec
	}
}

// WithPingInterval enables periodic pings.
func WithPingInterval(interval time.Duration) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.PingInterval = interval
	}
}

// WithAutoMap sets whether new surfaces are mapped automatically.
func WithAutoMap(autoMap bool) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.AutoMap = autoMap
	}
}

// WithConnectTimeout sets the timeout for connecting and the handshake.
// This includes the transport opening, any challenge and the server hello.
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.ConnectTimeout = timeout
	}
}

func defaultClientConfig() *ClientConfig {
	return &ClientConfig{
		DesktopWidth:   1024,
		DesktopHeight:  768,
		DPI:            96,
		AutoMap:        true,
		ConnectTimeout: 30 * time.Second,
	}
}

// applyDefaults fills in every collaborator left unset.
func (cfg *ClientConfig) applyDefaults() {
	if cfg.Logger == nil {
		cfg.Logger = &NoOpLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoOpMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.AuthRegistry == nil {
		cfg.AuthRegistry = NewAuthRegistry()
	}
	if cfg.ImageDecoder == nil {
		cfg.ImageDecoder = &StdImageDecoder{}
	}
	if cfg.TransportFactory == nil {
		logger := cfg.Logger
		cfg.TransportFactory = func() Transport { return NewWebSocketTransport(logger) }
	}
}

// NewClient creates a client using functional options for configuration.
// Options are applied in the order they are provided, over defaults of a
// 1024x768 desktop at 96 DPI with automatic surface mapping.
//
// Parameters:
//   - options: Functional options for configuring the client behavior
//
// Returns:
//   - *Client: A client ready to Connect
//
// Example usage:
//
//	events := make(chan xpra.Event, 64)
//	client := xpra.NewClient(
//		xpra.WithLogger(xpra.NewStandardLogger(xpra.LevelInfo)),
//		xpra.WithEventChannel(events),
//		xpra.WithPassword([]byte("secret")),
//	)
//	defer client.Close()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	if err := client.Connect(ctx, "ws://localhost:10000/"); err != nil {
//		log.Fatal(err)
//	}
//
//	for ev := range events {
//		switch ev := ev.(type) {
//		case *xpra.SurfaceCreatedEvent:
//			log.Printf("new surface %d", ev.Surface.ID)
//		case *xpra.DisconnectedEvent:
//			return
//		}
//	}
func NewClient(options ...ClientOption) *Client {
	cfg := defaultClientConfig()
	for _, option := range options {
		option(cfg)
	}
	cfg.applyDefaults()
	return &Client{config: cfg, logger: cfg.Logger}
}

// Connect opens a session to uri and waits for the server hello. A
// challenge from the server is answered with the configured password on
// the way.
//
// Connect fails when a session is already active, when the handshake does
// not complete within ctx or the connect timeout, or when the server closes
// the connection first. The failed session is torn down before returning.
func (c *Client) Connect(ctx context.Context, uri string) error {
	if err := newInputValidator().ValidateURI(uri); err != nil {
		return err
	}

	c.mu.Lock()
	if c.session != nil && !c.session.isDone() {
		c.mu.Unlock()
		return validationError("Client.Connect", "already connected", nil)
	}
	if c.sched != nil {
		c.sched.Close()
	}
	sched := newLoopScheduler()
	s := newSession(c.config, sched, c.config.TransportFactory(), uri)
	c.session, c.sched = s, sched
	c.mu.Unlock()

	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	c.logger.Info("Connecting", Field{Key: "uri", Value: uri})
	if err := s.open(ctx); err != nil {
		sched.Post(func() { s.disconnect("open failed", err) })
		return err
	}

	select {
	case <-s.handshake:
		return nil
	case <-s.done:
		if s.err != nil {
			return s.err
		}
		return networkError("Client.Connect", "connection closed during handshake", nil)
	case <-ctx.Done():
		sched.Post(func() { s.disconnect("handshake timed out", ctx.Err()) })
		return timeoutError("Client.Connect", "handshake did not complete", ctx.Err())
	}
}

func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// current returns the active session, or nil.
func (c *Client) current() (*Session, *loopScheduler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.sched
}

// post runs fn against the active session on its scheduler.
func (c *Client) post(op string, fn func(s *Session)) error {
	s, sched := c.current()
	if s == nil || s.isDone() {
		return networkError(op, "not connected", nil)
	}
	sched.Post(func() { fn(s) })
	return nil
}

// Done returns a channel closed when the current session ends, or nil
// before the first Connect.
func (c *Client) Done() <-chan struct{} {
	s, _ := c.current()
	if s == nil {
		return nil
	}
	return s.done
}

// Negotiated returns the handshake outcome of the current session. The
// boolean is false until the server hello has been handled.
func (c *Client) Negotiated() (Negotiated, bool) {
	s, _ := c.current()
	if s == nil {
		return Negotiated{}, false
	}
	select {
	case <-s.handshake:
		return s.negotiated, true
	default:
		return Negotiated{}, false
	}
}

// LocalCapabilities returns the capabilities sent in the hello.
func (c *Client) LocalCapabilities() *Capabilities {
	s, _ := c.current()
	if s == nil {
		return nil
	}
	return s.local
}

// Send forwards an arbitrary packet to the server.
func (c *Client) Send(command string, args ...interface{}) error {
	if err := newInputValidator().ValidateCommand(command); err != nil {
		return err
	}
	return c.post("Client.Send", func(s *Session) { s.send(NewPacket(command, args...)) })
}

// KeyEvent sends a key press or release to surface wid.
//
// The event is translated to the server's keysym vocabulary: keypad keys
// become KP_* names, right-hand modifiers get their _R names, the caps-lock
// state is tracked from the letters typed, and control and meta are swapped
// when WithSwapKeys is in effect. IME composition events are dropped.
//
// Example usage:
//
//	client.KeyEvent(wid, xpra.KeyEvent{Code: "KeyA", Key: "a", KeyCode: 65, Pressed: true})
//	client.KeyEvent(wid, xpra.KeyEvent{Code: "KeyA", Key: "a", KeyCode: 65, Pressed: false})
func (c *Client) KeyEvent(wid int, ev KeyEvent) error {
	return c.post("Client.KeyEvent", func(s *Session) { s.Key(wid, ev) })
}

// PointerEvent sends a pointer motion over surface wid. Coordinates are in
// desktop space; buttons lists the buttons currently held.
func (c *Client) PointerEvent(wid, x, y int, mods Modifiers, buttons ...int) error {
	return c.post("Client.PointerEvent", func(s *Session) { s.Pointer(wid, x, y, mods, buttons) })
}

// ButtonEvent sends a button press or release over surface wid.
//
// Buttons follow the X numbering: 1 left, 2 middle, 3 right. Use WheelEvent
// for scrolling rather than sending buttons 4 to 7 directly.
func (c *Client) ButtonEvent(wid, button int, pressed bool, x, y int, mods Modifiers, buttons ...int) error {
	return c.post("Client.ButtonEvent", func(s *Session) { s.Button(wid, button, pressed, x, y, mods, buttons) })
}

// WheelEvent sends scrolling over surface wid as wheel button clicks. One
// click is sent per 120 units of accumulated motion; the remainder carries
// over to the next event.
func (c *Client) WheelEvent(wid int, ev WheelEvent, x, y int, mods Modifiers, buttons ...int) error {
	return c.post("Client.WheelEvent", func(s *Session) { s.Wheel(wid, ev, x, y, mods, buttons) })
}

// MapSurface asks the server to show a surface. Needed only when automatic
// mapping is disabled.
func (c *Client) MapSurface(wid int) error {
	if _, ok := c.Surface(wid); !ok {
		return validationError("Client.MapSurface", "unknown surface", nil)
	}
	return c.post("Client.MapSurface", func(s *Session) {
		if err := s.MapSurface(wid); err != nil {
			s.logger.Warn("Surface not mapped", Field{Key: "wid", Value: wid}, Field{Key: "error", Value: err})
		}
	})
}

// ConfigureSurface moves or resizes a surface locally and reports it.
func (c *Client) ConfigureSurface(wid int, geom Geometry) error {
	if err := newInputValidator().ValidateGeometry(geom); err != nil {
		return err
	}
	if _, ok := c.Surface(wid); !ok {
		return validationError("Client.ConfigureSurface", "unknown surface", nil)
	}
	return c.post("Client.ConfigureSurface", func(s *Session) {
		if err := s.ConfigureSurface(wid, geom); err != nil {
			s.logger.Warn("Surface not configured", Field{Key: "wid", Value: wid}, Field{Key: "error", Value: err})
		}
	})
}

// CloseSurface asks the server to close a surface. The surface is removed
// when the server confirms with lost-window.
func (c *Client) CloseSurface(wid int) error {
	return c.post("Client.CloseSurface", func(s *Session) { s.CloseSurface(wid) })
}

// FocusSurface gives keyboard focus to a surface.
func (c *Client) FocusSurface(wid int) error {
	return c.post("Client.FocusSurface", func(s *Session) { s.FocusSurface(wid) })
}

// SetDesktopSize reports a new local desktop size.
func (c *Client) SetDesktopSize(width, height int) error {
	if err := newInputValidator().ValidateGeometry(Geometry{Width: width, Height: height}); err != nil {
		return err
	}
	return c.post("Client.SetDesktopSize", func(s *Session) {
		if err := s.SetDesktopSize(width, height); err != nil {
			s.logger.Warn("Desktop size not set", Field{Key: "error", Value: err})
		}
	})
}

// Surface returns a snapshot of one surface.
func (c *Client) Surface(wid int) (SurfaceInfo, bool) {
	s, _ := c.current()
	if s == nil {
		return SurfaceInfo{}, false
	}
	return s.surfaces.Info(wid)
}

// Surfaces returns snapshots of every surface, ordered by id.
func (c *Client) Surfaces() []SurfaceInfo {
	s, _ := c.current()
	if s == nil {
		return nil
	}
	return s.surfaces.Infos()
}

// Snapshot returns a copy of the last presented contents of a surface.
func (c *Client) Snapshot(wid int) (*image.RGBA, bool) {
	s, _ := c.current()
	if s == nil {
		return nil, false
	}
	surface, ok := s.surfaces.Get(wid)
	if !ok {
		return nil, false
	}
	return surface.Framebuffer().Snapshot(), true
}

// Disconnect ends the current session and waits for the teardown. The
// session publishes DisconnectedEvent exactly once.
func (c *Client) Disconnect() error {
	s, sched := c.current()
	if s == nil {
		return nil
	}
	sched.Post(func() { s.disconnect("client request", nil) })
	select {
	case <-s.done:
	case <-time.After(wsCloseWait * 5):
		return timeoutError("Client.Disconnect", "teardown did not complete", nil)
	}
	return nil
}

// Close terminates the session and releases its resources. Events still
// pending delivery are dropped and the stored password is cleared, so a
// closed client can no longer answer challenges. It is safe to call Close
// multiple times.
func (c *Client) Close() error {
	s, sched := c.current()
	if s != nil {
		s.cancel()
		sched.Post(func() { s.disconnect("client closed", nil) })
		sched.Close()
	}
	(&SecureMemory{}).ClearBytes(c.config.Password)
	return nil
}
