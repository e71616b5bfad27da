// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"bytes"
	"image"
	"image/png"
)

// Event is a notification published by the session to the host.
// Use a type switch to handle the concrete types.
type Event interface {
	// Name returns a short identifier used in logs.
	Name() string
}

// ConnectedEvent is published once the transport is open and hello was sent.
type ConnectedEvent struct {
	URI string
}

func (*ConnectedEvent) Name() string { return "connected" }

// HandshakeEvent is published when the server's hello has been negotiated.
type HandshakeEvent struct {
	Remote     *Capabilities
	Negotiated Negotiated
}

func (*HandshakeEvent) Name() string { return "handshake" }

// DisconnectedEvent is published exactly once per connection.
type DisconnectedEvent struct {
	Reason string
	Err    error
}

func (*DisconnectedEvent) Name() string { return "disconnected" }

// SurfaceCreatedEvent announces a new window or override-redirect overlay.
type SurfaceCreatedEvent struct {
	Surface SurfaceInfo
}

func (*SurfaceCreatedEvent) Name() string { return "surface-created" }

// SurfaceUpdatedEvent announces new geometry or metadata.
type SurfaceUpdatedEvent struct {
	Surface SurfaceInfo
	Change  SurfaceChange
}

func (*SurfaceUpdatedEvent) Name() string { return "surface-updated" }

// SurfaceDestroyedEvent announces that a surface left the registry.
type SurfaceDestroyedEvent struct {
	ID     int
	Parent int
	Reason string
}

func (*SurfaceDestroyedEvent) Name() string { return "surface-destroyed" }

// RaiseEvent asks the host to bring a surface to the front.
type RaiseEvent struct {
	ID int
}

func (*RaiseEvent) Name() string { return "raise" }

// RedrawEvent is published after a surface's visible raster was refreshed.
type RedrawEvent struct {
	ID int
}

func (*RedrawEvent) Name() string { return "redraw" }

// CursorEvent carries a new cursor image.
type CursorEvent struct {
	Encoding string
	Width    int
	Height   int
	HotX     int
	HotY     int
	Serial   int64
	Data     []byte
}

func (*CursorEvent) Name() string { return "cursor" }

// Image decodes the cursor pixels.
func (e *CursorEvent) Image() (image.Image, error) {
	if e.Encoding != "png" {
		return nil, unsupportedError("CursorEvent.Image", "unsupported cursor encoding "+e.Encoding, nil)
	}
	img, err := png.Decode(bytes.NewReader(e.Data))
	if err != nil {
		return nil, decodeError("CursorEvent.Image", "invalid png cursor", err)
	}
	return img, nil
}

// CursorResetEvent restores the default cursor.
type CursorResetEvent struct{}

func (*CursorResetEvent) Name() string { return "cursor-reset" }

// DesktopSizeEvent reports the server's root window size.
type DesktopSizeEvent struct {
	Width     int
	Height    int
	MaxWidth  int
	MaxHeight int
}

func (*DesktopSizeEvent) Name() string { return "desktop-size" }

// AudioState is the lifecycle of the audio path.
type AudioState int

const (
	AudioStarted AudioState = iota
	AudioPlaying
	AudioStopped
)

func (s AudioState) String() string {
	switch s {
	case AudioStarted:
		return "started"
	case AudioPlaying:
		return "playing"
	case AudioStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// AudioEvent reports audio path transitions.
type AudioEvent struct {
	State  AudioState
	Codec  string
	Reason string
}

func (*AudioEvent) Name() string { return "audio" }

// GenericEvent republishes a command the session has no handler for.
type GenericEvent struct {
	Command string
	Args    []interface{}
}

func (e *GenericEvent) Name() string { return e.Command }
