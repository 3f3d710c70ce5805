package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Presence status values stored for a user.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusAway    = "away"
)

// User represents an account known to the chat service. The realtime core
// only reads identity, block lists and the optional Telegram link; account
// management itself lives outside this service.
type User struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`

	// TelegramID, when set, links the account to a Telegram chat so the
	// notification worker can push offline alerts there.
	TelegramID string `gorm:"index" json:"-"`

	// Status and LastSeenAt mirror the presence hash in Redis; the database
	// copy is the durable fallback shown in profile views.
	Status     string     `gorm:"type:text;default:offline" json:"status"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`

	// Blocked holds the IDs of users this user has blocked.
	Blocked pq.StringArray `gorm:"type:text[]" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"-"`
}

// BeforeCreate generates a UUID for the user if the ID is not already set.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// HasBlocked reports whether the user's block list contains targetID.
func (u *User) HasBlocked(targetID string) bool {
	for _, id := range u.Blocked {
		if id == targetID {
			return true
		}
	}
	return false
}
