package chathub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/models"
)

func TestWebSocketClientSendAfterCloseIsSafe(t *testing.T) {
	c := &chathub.WebSocketClient{
		ID:   "conn-1",
		User: "user-1",
		Out:  make(chan models.Event, 1),
	}

	require.True(t, c.Send(models.Event{Event: models.EventAck}))
	assert.False(t, c.Send(models.Event{Event: models.EventAck}), "full buffer reports false instead of blocking")

	c.Close()
	c.Close()

	require.NotPanics(t, func() {
		assert.False(t, c.Send(models.Event{Event: models.EventAck}), "closed client rejects sends")
	})
}

func TestWebSocketClientConcurrentSendAndClose(t *testing.T) {
	c := &chathub.WebSocketClient{
		ID:   "conn-1",
		User: "user-1",
		Out:  make(chan models.Event, 4),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			c.Send(models.Event{Event: models.EventMessage})
		}
	}()
	c.Close()
	<-done
}
