package chathub

import "errors"

// Application-level rejections on the event path. Each is translated into a
// wire error event; the connection stays open. Only authentication failures
// and transport errors terminate a connection.
var (
	// ErrRoomNotFound indicates the target room does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNotRoomMember indicates the caller is not a participant of the room.
	ErrNotRoomMember = errors.New("not a room member")

	// ErrBlocked indicates one party of a direct room has blocked the other.
	ErrBlocked = errors.New("user is blocked")

	// ErrEmptyMessage is returned for a message with no content and no
	// attachments.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrContentTooLong is returned when content exceeds the configured cap.
	ErrContentTooLong = errors.New("message content too large")

	// ErrUnknownEvent indicates a frame named an event the gateway does not
	// route.
	ErrUnknownEvent = errors.New("unknown event")
)
