// Package storage is the persistence layer for messages, rooms, users and
// stored notifications, backed by GORM on PostgreSQL.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"roomrelay/backend/internal/models"
)

// Sentinel errors returned by the storage layer. Callers translate them to
// wire errors at the handler layer.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates an insert hit a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// Storage is the persistence contract consumed by the gateway pipeline and
// the notification worker. The pipeline depends on this interface, never on
// the concrete Service, so tests swap in a mock.
type Storage interface {
	// Messages
	CreateMessage(ctx context.Context, msg *models.Message) error
	FindMessageByClientID(ctx context.Context, roomID, senderID, clientMessageID string) (*models.Message, error)
	MessagesForRoom(ctx context.Context, roomID string, limit int) ([]models.Message, error)

	// Rooms and membership
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	RoomMemberIDs(ctx context.Context, roomID string) ([]string, error)
	UpsertReadCursor(ctx context.Context, roomID, userID, lastReadMessageID string, lastReadAt time.Time) error

	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUserStatus(ctx context.Context, userID, status string, lastSeenAt time.Time) error
	HasBlocked(ctx context.Context, blockerID, targetID string) (bool, error)

	// Notifications
	SaveNotification(ctx context.Context, n *models.Notification) error
	NotificationsForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID string, ids []string) error
}

// Service implements Storage on a GORM connection.
type Service struct {
	DB *gorm.DB
}

// NewService wraps db as a Service.
func NewService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// Migrate creates or updates the schema for every model the core owns.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.RoomMember{},
		&models.Message{},
		&models.Notification{},
	)
}

// CreateMessage inserts a message. A violation of the
// (room_id, sender_id, client_message_id) uniqueness constraint is reported
// as ErrDuplicate so the caller can resolve a concurrent retried send by
// loading the winning row.
func (s *Service) CreateMessage(ctx context.Context, msg *models.Message) error {
	err := s.DB.WithContext(ctx).Create(msg).Error
	if err == nil {
		return nil
	}
	if isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

// FindMessageByClientID looks up a message by its idempotency key.
func (s *Service) FindMessageByClientID(ctx context.Context, roomID, senderID, clientMessageID string) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).
		Where("room_id = ? AND sender_id = ? AND client_message_id = ?", roomID, senderID, clientMessageID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MessagesForRoom returns the most recent messages of a room, oldest first.
func (s *Service) MessagesForRoom(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []models.Message
	err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order for display.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetRoom loads a room by ID.
func (s *Service) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := s.DB.WithContext(ctx).Where("id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// IsMember reports whether userID belongs to roomID.
func (s *Service) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

// RoomMemberIDs lists every member of a room, online or not.
func (s *Service) RoomMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ?", roomID).
		Pluck("user_id", &ids).Error
	return ids, err
}

// UpsertReadCursor advances the member's read cursor.
func (s *Service) UpsertReadCursor(ctx context.Context, roomID, userID, lastReadMessageID string, lastReadAt time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(map[string]interface{}{
			"last_read_message_id": lastReadMessageID,
			"last_read_at":         lastReadAt,
		}).Error
}

// CreateUser inserts a user record.
func (s *Service) CreateUser(ctx context.Context, user *models.User) error {
	err := s.DB.WithContext(ctx).Create(user).Error
	if err != nil && isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

// GetUser loads a user by ID.
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername loads a user by username.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserStatus writes the durable status/last-seen copy.
func (s *Service) UpdateUserStatus(ctx context.Context, userID, status string, lastSeenAt time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"status":       status,
			"last_seen_at": lastSeenAt,
		}).Error
}

// HasBlocked reports whether blockerID has targetID on their block list.
func (s *Service) HasBlocked(ctx context.Context, blockerID, targetID string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND ? = ANY(blocked)", blockerID, targetID).
		Count(&count).Error
	return count > 0, err
}

// SaveNotification persists a stored notification record.
func (s *Service) SaveNotification(ctx context.Context, n *models.Notification) error {
	return s.DB.WithContext(ctx).Create(n).Error
}

// NotificationsForUser lists a user's stored notifications, newest first.
func (s *Service) NotificationsForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []models.Notification
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkNotificationsRead flags the given notifications as read.
func (s *Service) MarkNotificationsRead(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Update("read", true).Error
}

// isDuplicateErr recognizes uniqueness violations across drivers. The
// postgres driver translates to gorm.ErrDuplicatedKey when TranslateError is
// on; the string checks cover drivers that surface raw constraint errors.
func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "duplicate key value") ||
		strings.Contains(low, "unique constraint")
}
