package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Message types.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// Message is a persisted chat message. It is immutable after creation.
//
// ClientMessageID is the client-chosen idempotency key. The unique index on
// (room_id, sender_id, client_message_id) makes retried sends safe: when two
// retries race, exactly one insert succeeds and the loser finds the existing
// row.
type Message struct {
	ID       string `gorm:"primaryKey" json:"id"`
	RoomID   string `gorm:"not null;index;uniqueIndex:idx_msg_dedup" json:"roomId"`
	SenderID string `gorm:"not null;uniqueIndex:idx_msg_dedup" json:"senderId"`

	Content     string         `gorm:"type:text" json:"content"`
	Type        string         `gorm:"type:text;not null;default:text" json:"type"`
	Attachments pq.StringArray `gorm:"type:text[]" json:"attachments,omitempty"`

	ClientMessageID *string `gorm:"uniqueIndex:idx_msg_dedup" json:"clientMessageId,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// BeforeCreate generates a UUID for the message if the ID is not already set.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}
