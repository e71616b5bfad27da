// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenthirtyam/go-xpra"
)

func TestConsumeEvents_DrainsUntilDisconnect(t *testing.T) {
	events := make(chan xpra.Event, 256)
	quit := make(chan struct{})
	defer close(quit)

	finished := make(chan error, 1)
	go func() { finished <- consumeEvents(quit, &xpra.NoOpLogger{}, events) }()

	// More events than the channel holds, then the disconnect, so the
	// sender only gets through if the consumer keeps reading.
	lost := errors.New("connection lost")
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for i := 0; i < 300; i++ {
			events <- &xpra.SurfaceDestroyedEvent{ID: i + 1, Reason: "closed"}
		}
		events <- &xpra.DisconnectedEvent{Reason: "server request", Err: lost}
	}()

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, lost)
	case <-time.After(5 * time.Second):
		t.Fatal("consumeEvents did not return after the disconnect event")
	}

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("event sender was blocked")
	}
}

func TestConsumeEvents_Quit(t *testing.T) {
	events := make(chan xpra.Event)
	quit := make(chan struct{})

	finished := make(chan error, 1)
	go func() { finished <- consumeEvents(quit, &xpra.NoOpLogger{}, events) }()
	close(quit)

	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumeEvents did not return after quit")
	}
}
