package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Room types.
const (
	RoomTypeGroup  = "group"
	RoomTypeDirect = "direct"
)

// Room is a chat room. Direct rooms have exactly two members and enforce
// block checks on join and send.
type Room struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	Type      string    `gorm:"type:text;not null;default:group" json:"type"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// BeforeCreate generates a UUID for the room if the ID is not already set.
func (r *Room) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}

// RoomMember binds a user to a room and carries that user's read cursor.
// The (RoomID, UserID) pair is unique; the cursor advances monotonically as
// mark_read events arrive.
type RoomMember struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	RoomID string `gorm:"uniqueIndex:idx_room_member;not null" json:"roomId"`
	UserID string `gorm:"uniqueIndex:idx_room_member;not null" json:"userId"`
	Role   string `gorm:"type:text;default:member" json:"role"`

	LastReadMessageID *string    `json:"lastReadMessageId,omitempty"`
	LastReadAt        *time.Time `json:"lastReadAt,omitempty"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
