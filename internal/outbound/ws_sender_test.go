package outbound_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/outbound"
)

// The gateway write pump coalesces queued events into a single frame of
// newline-separated JSON values. The read loop has to surface every value in
// the frame, not just the first.
func TestConnDecodesCoalescedFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		var payload models.SendMessagePayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}

		msgEv, _ := models.NewEvent(models.EventMessage, models.Message{RoomID: payload.RoomID, Content: "hello"})
		ackEv, _ := models.NewEvent(models.EventAck, models.AckPayload{
			ClientMessageID: payload.ClientMessageID, OK: true, MessageID: "srv-1",
		})
		frame, _ := json.Marshal(msgEv)
		ackData, _ := json.Marshal(ackEv)
		frame = append(frame, '\n')
		frame = append(frame, ackData...)
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn := outbound.NewConn(wsURL, "", 2*time.Second, zerolog.Nop())
	received := make(chan models.Event, 4)
	conn.OnEvent = func(ev models.Event) { received <- ev }

	ctx := context.Background()
	require.NoError(t, conn.Dial(ctx, nil))
	defer conn.Close()

	ack, err := conn.Send(ctx, models.SendMessagePayload{
		RoomID:          "room-1",
		Content:         "hello",
		ClientMessageID: "c-1",
	})
	require.NoError(t, err, "the ack rides in the same frame as the broadcast")
	assert.True(t, ack.OK)
	assert.Equal(t, "srv-1", ack.MessageID)

	select {
	case ev := <-received:
		assert.Equal(t, models.EventMessage, ev.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast event from the coalesced frame never surfaced")
	}
}
