// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Transport carries packets to and from the server. Framing, compression
// and encryption are the transport's business.
type Transport interface {
	// Open starts connecting and returns without waiting. The handler later
	// receives OnOpen, or OnClose with the failure.
	Open(ctx context.Context, uri string, h TransportHandler) error

	// Send queues one packet. Packets are written in Send order.
	Send(p Packet) error

	// Close shuts the transport down. It is safe to call more than once.
	Close() error
}

// TransportHandler receives transport notifications. OnPacket is called once
// per packet in receipt order; OnClose may be reported more than once by
// some transports and callers must tolerate that.
type TransportHandler interface {
	OnOpen()
	OnPacket(p Packet)
	OnClose(err error)
}

// TransportFactory creates a fresh transport for each connection attempt.
type TransportFactory func() Transport

const (
	defaultSendQueue = 256
	defaultReadLimit = 64 << 20
	wsCloseWait      = time.Second
)

// WebSocketTransport implements Transport over a gorilla websocket, one
// encoded packet per binary message.
type WebSocketTransport struct {
	// Dialer is used to open the connection. A nil Dialer uses the
	// gorilla default with the "binary" subprotocol.
	Dialer *websocket.Dialer

	// Codec encodes packets; defaults to CBOR.
	Codec PacketCodec

	// Header is sent with the opening handshake.
	Header http.Header

	// ReadLimit bounds a single inbound message.
	ReadLimit int64

	logger Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	opened  bool
	out     chan Packet
	closing chan struct{}
	once    sync.Once
}

// NewWebSocketTransport returns a transport ready to Open.
func NewWebSocketTransport(logger Logger) *WebSocketTransport {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &WebSocketTransport{
		ReadLimit: defaultReadLimit,
		logger:    logger,
		out:       make(chan Packet, defaultSendQueue),
		closing:   make(chan struct{}),
	}
}

func (t *WebSocketTransport) dialer() *websocket.Dialer {
	if t.Dialer != nil {
		return t.Dialer
	}
	d := *websocket.DefaultDialer
	d.Subprotocols = []string{"binary"}
	return &d
}

// Open dials uri in the background.
func (t *WebSocketTransport) Open(ctx context.Context, uri string, h TransportHandler) error {
	if err := newInputValidator().ValidateURI(uri); err != nil {
		return err
	}

	t.mu.Lock()
	if t.opened {
		t.mu.Unlock()
		return networkError("WebSocketTransport.Open", "transport already opened", nil)
	}
	t.opened = true
	if t.Codec == nil {
		codec, err := NewCBORCodec()
		if err != nil {
			t.mu.Unlock()
			return err
		}
		t.Codec = codec
	}
	t.mu.Unlock()

	go t.run(ctx, uri, h)
	return nil
}

func (t *WebSocketTransport) run(ctx context.Context, uri string, h TransportHandler) {
	t.logger.Debug("Dialing websocket", Field{Key: "uri", Value: uri})

	conn, _, err := t.dialer().DialContext(ctx, uri, t.Header)
	if err != nil {
		t.logger.Error("Failed to dial websocket", Field{Key: "uri", Value: uri}, Field{Key: "error", Value: err})
		h.OnClose(networkError("WebSocketTransport.Open", "failed to connect to "+uri, err))
		return
	}

	t.mu.Lock()
	select {
	case <-t.closing:
		t.mu.Unlock()
		_ = conn.Close()
		h.OnClose(nil)
		return
	default:
	}
	t.conn = conn
	t.mu.Unlock()

	if t.ReadLimit > 0 {
		conn.SetReadLimit(t.ReadLimit)
	}

	h.OnOpen()

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return t.readLoop(conn, h) })
	g.Go(func() error { return t.writeLoop(gctx, conn) })

	err = g.Wait()
	_ = conn.Close()
	if err != nil {
		t.logger.Warn("Websocket closed with error", Field{Key: "error", Value: err})
	}
	h.OnClose(err)
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn, h TransportHandler) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closing:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return networkError("WebSocketTransport.read", "connection closed by server", err)
			}
			return networkError("WebSocketTransport.read", "failed to read message", err)
		}
		if kind != websocket.BinaryMessage {
			t.logger.Warn("Ignoring non-binary websocket message", Field{Key: "type", Value: kind})
			continue
		}
		p, err := t.Codec.Decode(data)
		if err != nil {
			t.logger.Warn("Dropping undecodable packet", Field{Key: "size", Value: len(data)}, Field{Key: "error", Value: err})
			continue
		}
		h.OnPacket(p)
	}
}

func (t *WebSocketTransport) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case p := <-t.out:
			data, err := t.Codec.Encode(p)
			if err != nil {
				t.logger.Error("Failed to encode packet", Field{Key: "command", Value: p.Command()}, Field{Key: "error", Value: err})
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return networkError("WebSocketTransport.write", "failed to write "+p.Command(), err)
			}
		case <-t.closing:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseWait))
			_ = conn.Close()
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Send queues p for the write loop.
func (t *WebSocketTransport) Send(p Packet) error {
	select {
	case <-t.closing:
		return networkError("WebSocketTransport.Send", "transport closed", nil)
	default:
	}
	select {
	case t.out <- p:
		return nil
	case <-t.closing:
		return networkError("WebSocketTransport.Send", "transport closed", nil)
	}
}

// Close stops both loops. The handler still receives OnClose.
func (t *WebSocketTransport) Close() error {
	t.once.Do(func() {
		close(t.closing)
	})
	return nil
}
