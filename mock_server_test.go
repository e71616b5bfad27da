// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"crypto/hmac"
	"crypto/md5" // #nosec G501 - matches the server side of the hmac digest
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// MockXpraServer provides a simple mock xpra server for testing.
type MockXpraServer struct {
	server   *httptest.Server
	codec    *CBORCodec
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*mockConn
	received []Packet

	// Configuration
	Capabilities map[string]interface{}
	Password     string
	Salt         []byte
	SilentHello  bool

	// OnPacket is called for every packet after the handshake.
	OnPacket func(c *mockConn, p Packet)
}

// mockConn is one accepted client connection.
type mockConn struct {
	ws    *websocket.Conn
	codec *CBORCodec
	wmu   sync.Mutex
}

// Send writes a packet to the client.
func (c *mockConn) Send(command string, args ...interface{}) error {
	data, err := c.codec.Encode(NewPacket(command, args...))
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// NewMockXpraServer creates a new mock xpra server.
func NewMockXpraServer() *MockXpraServer {
	codec, err := NewCBORCodec()
	if err != nil {
		panic(err)
	}
	return &MockXpraServer{
		codec: codec,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{"binary"},
			CheckOrigin:  func(*http.Request) bool { return true },
		},
		Capabilities: map[string]interface{}{
			"version":   "6.0",
			"encodings": []interface{}{"png", "jpeg", "rgb", "scroll"},
			"lz4":       true,
			"zlib":      true,
		},
		Salt: []byte("0123456789abcdef0123456789abcdef"),
	}
}

// Start starts the mock server on a random available port.
func (m *MockXpraServer) Start() {
	r := chi.NewRouter()
	r.Get("/", m.handleUpgrade)
	m.server = httptest.NewServer(r)
}

// Stop closes every client connection and the listener.
func (m *MockXpraServer) Stop() {
	m.mu.Lock()
	for _, c := range m.conns {
		_ = c.ws.Close()
	}
	m.mu.Unlock()
	if m.server != nil {
		m.server.Close()
	}
}

// URI returns the websocket address of the server.
func (m *MockXpraServer) URI() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + "/"
}

// Broadcast sends a packet to every connected client.
func (m *MockXpraServer) Broadcast(command string, args ...interface{}) {
	m.mu.Lock()
	conns := append([]*mockConn(nil), m.conns...)
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.Send(command, args...)
	}
}

// Received returns the packets received with command, in order.
func (m *MockXpraServer) Received(command string) []Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Packet
	for _, p := range m.received {
		if p.Command() == command {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockXpraServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &mockConn{ws: ws, codec: m.codec}

	m.mu.Lock()
	m.conns = append(m.conns, c)
	m.mu.Unlock()

	go m.handleConnection(c)
}

func (m *MockXpraServer) handleConnection(c *mockConn) {
	defer c.ws.Close()

	authenticated := m.Password == ""
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		p, err := m.codec.Decode(data)
		if err != nil {
			return
		}

		m.mu.Lock()
		m.received = append(m.received, p)
		m.mu.Unlock()

		if p.Command() != "hello" {
			if m.OnPacket != nil {
				m.OnPacket(c, p)
			}
			continue
		}
		if m.SilentHello {
			continue
		}

		caps, _ := toMap(newArgReader(p).Raw(0))
		if !authenticated {
			response, ok := toBytes(caps["challenge_response"])
			if !ok {
				_ = c.Send("challenge", m.Salt, "", "hmac+md5")
				continue
			}
			if !m.validResponse(response) {
				_ = c.Send("disconnect", "invalid password")
				m.closeSoon(c)
				return
			}
			authenticated = true
		}
		_ = c.Send("hello", m.Capabilities)
	}
}

func (m *MockXpraServer) validResponse(response []byte) bool {
	mac := hmac.New(md5.New, []byte(m.Password))
	mac.Write(m.Salt)
	return hmac.Equal(response, []byte(hex.EncodeToString(mac.Sum(nil))))
}

// closeSoon lets the client read a disconnect before the socket goes away.
func (m *MockXpraServer) closeSoon(c *mockConn) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// StartMockServer is a helper function to start a mock server for testing.
func StartMockServer() *MockXpraServer {
	server := NewMockXpraServer()
	server.Start()
	return server
}
