// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package xpra implements the client side of the xpra remote display
// protocol for Go.
//
// A Client connects to a server over a websocket, negotiates capabilities,
// answers authentication challenges and then mirrors the server's windows
// as surfaces: offscreen framebuffers that are painted in order and
// acknowledged to the server so it can pace its encoder. Keyboard, pointer
// and wheel input is translated into the server's vocabulary.
//
// # Basic Usage
//
//	events := make(chan xpra.Event, 64)
//	client := xpra.NewClient(
//		xpra.WithEventChannel(events),
//		xpra.WithDesktopSize(1920, 1080),
//	)
//	defer client.Close()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := client.Connect(ctx, "ws://localhost:10000/"); err != nil {
//		log.Fatal(err)
//	}
//
// # Event Handling
//
//	for ev := range events {
//		switch e := ev.(type) {
//		case *xpra.SurfaceCreatedEvent:
//			// Create a host window for e.Surface
//		case *xpra.RedrawEvent:
//			img, _ := client.Snapshot(e.ID)
//			// Present img
//		case *xpra.DisconnectedEvent:
//			return
//		}
//	}
//
// # Input Events
//
//	client.KeyEvent(wid, xpra.KeyEvent{Code: "KeyA", Key: "a", KeyCode: 65, Pressed: true})
//	client.ButtonEvent(wid, 1, true, 100, 100, xpra.Modifiers{})
//	client.WheelEvent(wid, xpra.WheelEvent{DeltaY: 120}, 100, 100, xpra.Modifiers{})
//
// # Error Handling
//
//	if xpra.IsXpraError(err, xpra.ErrAuthentication) {
//		log.Printf("Authentication failed: %v", err)
//	}
package xpra
