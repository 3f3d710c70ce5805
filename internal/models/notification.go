package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification types produced by the router.
const (
	NotificationMessageReceived = "message_received"
	NotificationMention         = "mention"
	NotificationSystemAlert     = "system_alert"
)

// Notification is a durably stored notification for a user who was offline
// when the event happened. Online recipients get the event over their live
// connections instead and no row is written.
type Notification struct {
	ID      string `gorm:"primaryKey" json:"id"`
	UserID  string `gorm:"not null;index" json:"userId"`
	Type    string `gorm:"type:text;not null" json:"type"`
	Payload string `gorm:"type:text" json:"payload"`
	Read    bool   `gorm:"default:false" json:"read"`

	CreatedAt time.Time `json:"createdAt"`
}

// BeforeCreate generates a UUID for the notification if the ID is not set.
func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return
}
