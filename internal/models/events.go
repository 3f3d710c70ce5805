package models

import (
	"encoding/json"
	"time"
)

// Wire protocol event names. Clients send the C->S set; the gateway emits
// the S->C set. Every frame on the socket is an Event envelope.
const (
	// Client -> server
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventSendMessage      = "send_message"
	EventMarkRead         = "mark_read"
	EventRoomPresenceSync = "room_presence_sync"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"

	// Server -> client
	EventMessage        = "message"
	EventRoomPresence   = "room_presence"
	EventPresenceUpdate = "presence_update"
	EventReadState      = "read_state"
	EventNotification   = "notification"
	EventAck            = "ack"
	EventError          = "error"
)

// Event is the envelope for every frame exchanged over a connection.
// Data is kept raw on the inbound path so each handler decodes only its own
// payload shape.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals payload into an outbound Event envelope.
func NewEvent(event string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Event: event, Data: data}, nil
}

// JoinRoomPayload is shared by join_room, leave_room and room_presence_sync.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendMessagePayload carries a client's message submission.
type SendMessagePayload struct {
	RoomID          string   `json:"roomId"`
	Content         string   `json:"content"`
	Type            string   `json:"type,omitempty"`
	ClientMessageID string   `json:"clientMessageId,omitempty"`
	Attachments     []string `json:"attachments,omitempty"`
}

// MarkReadPayload advances the caller's read cursor in a room.
type MarkReadPayload struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}

// TypingPayload is relayed for typing_start / typing_stop.
type TypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

// AckPayload answers a send_message. Correlation is by ClientMessageID.
// Deduped is set when the send matched an already persisted message.
type AckPayload struct {
	ClientMessageID string `json:"clientMessageId,omitempty"`
	OK              bool   `json:"ok"`
	MessageID       string `json:"messageId,omitempty"`
	Deduped         bool   `json:"deduped,omitempty"`
	Error           string `json:"error,omitempty"`
}

// RoomPresencePayload reports how many distinct users are online in a room.
type RoomPresencePayload struct {
	RoomID      string `json:"roomId"`
	OnlineCount int64  `json:"onlineCount"`
}

// PresenceUpdatePayload is the global online/offline broadcast for a user.
type PresenceUpdatePayload struct {
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// ReadStatePayload is one shared shape for both the caller's own multi-tab
// cursor sync and peer read receipts.
type ReadStatePayload struct {
	RoomID            string    `json:"roomId"`
	UserID            string    `json:"userId"`
	LastReadMessageID string    `json:"lastReadMessageId"`
	LastReadAt        time.Time `json:"lastReadAt"`
}

// NotificationPayload is a realtime-delivered notification.
type NotificationPayload struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// ErrorPayload is a non-fatal application-level rejection; the connection
// stays open.
type ErrorPayload struct {
	Message string `json:"message"`
}
