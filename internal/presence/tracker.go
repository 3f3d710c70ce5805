package presence

import (
	"context"
	"strconv"
	"time"
)

// TTL policy:
//   - socket/user/room sets are short-lived and refreshed on activity
//   - the user presence hash is short while online and long but bounded
//     while offline, so stale entries self-expire without explicit cleanup
const (
	socketSetTTL       = time.Hour
	onlinePresenceTTL  = 5 * time.Minute
	offlinePresenceTTL = 30 * 24 * time.Hour
)

// UserPresence is the stored presence record for one user.
type UserPresence struct {
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Tracker maintains the who-is-online-where registry. It holds no state of
// its own; every mutation is an atomic set operation against the Store.
type Tracker struct {
	store  Store
	prefix string
}

// NewTracker builds a Tracker over store. prefix namespaces every key and
// may be empty.
func NewTracker(store Store, prefix string) *Tracker {
	return &Tracker{store: store, prefix: prefix}
}

func (t *Tracker) userSocketsKey(userID string) string {
	return t.prefix + "user:" + userID + ":sockets"
}

func (t *Tracker) onlineUsersKey() string {
	return t.prefix + "online_users"
}

// Unique users online in a room.
func (t *Tracker) roomUsersKey(roomID string) string {
	return t.prefix + "presence:room:" + roomID + ":users"
}

// All sockets joined to a room.
func (t *Tracker) roomSocketsKey(roomID string) string {
	return t.prefix + "presence:room:" + roomID + ":sockets"
}

// Sockets for one user within a room; dedupes multi-tab presence.
func (t *Tracker) roomUserSocketsKey(roomID, userID string) string {
	return t.prefix + "presence:room:" + roomID + ":user:" + userID + ":sockets"
}

// Rooms a socket is currently in; drives cleanup on disconnect.
func (t *Tracker) socketRoomsKey(connID string) string {
	return t.prefix + "presence:socket:" + connID + ":rooms"
}

func (t *Tracker) userPresenceKey(userID string) string {
	return t.prefix + "presence:user:" + userID
}

// AddConnection registers a live connection for a user and marks the user
// online. Idempotent: re-adding the same connection changes nothing.
func (t *Tracker) AddConnection(ctx context.Context, userID, connID string) error {
	key := t.userSocketsKey(userID)
	if err := t.store.SetAdd(ctx, key, connID); err != nil {
		return err
	}
	if err := t.store.Expire(ctx, key, socketSetTTL); err != nil {
		return err
	}
	return t.store.SetAdd(ctx, t.onlineUsersKey(), userID)
}

// RemoveConnection drops a connection. It returns true when this was the
// user's last connection, i.e. the user transitioned to offline and the
// caller should broadcast that.
func (t *Tracker) RemoveConnection(ctx context.Context, userID, connID string) (bool, error) {
	key := t.userSocketsKey(userID)
	if err := t.store.SetRemove(ctx, key, connID); err != nil {
		return false, err
	}
	remaining, err := t.store.SetCard(ctx, key)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}
	if err := t.store.SetRemove(ctx, t.onlineUsersKey(), userID); err != nil {
		return false, err
	}
	return true, nil
}

// JoinRoom records a connection (and its user) as present in a room, keeping
// the three linked sets consistent.
func (t *Tracker) JoinRoom(ctx context.Context, roomID, userID, connID string) error {
	pairs := []struct {
		key    string
		member string
	}{
		{t.roomSocketsKey(roomID), connID},
		{t.roomUserSocketsKey(roomID, userID), connID},
		{t.socketRoomsKey(connID), roomID},
		{t.roomUsersKey(roomID), userID},
	}
	for _, p := range pairs {
		if err := t.store.SetAdd(ctx, p.key, p.member); err != nil {
			return err
		}
		if err := t.store.Expire(ctx, p.key, socketSetTTL); err != nil {
			return err
		}
	}
	return nil
}

// LeaveRoom removes a connection from a room. The user leaves the room's
// online set only when their last socket in that room is gone.
func (t *Tracker) LeaveRoom(ctx context.Context, roomID, userID, connID string) error {
	if err := t.store.SetRemove(ctx, t.roomSocketsKey(roomID), connID); err != nil {
		return err
	}
	if err := t.store.SetRemove(ctx, t.roomUserSocketsKey(roomID, userID), connID); err != nil {
		return err
	}
	if err := t.store.SetRemove(ctx, t.socketRoomsKey(connID), roomID); err != nil {
		return err
	}
	remaining, err := t.store.SetCard(ctx, t.roomUserSocketsKey(roomID, userID))
	if err != nil {
		return err
	}
	if remaining == 0 {
		return t.store.SetRemove(ctx, t.roomUsersKey(roomID), userID)
	}
	return nil
}

// RemoveConnectionFromAllRooms cleans up every room a dropped connection had
// joined, derived from the socket's own room set so no client cooperation is
// needed. It returns the affected room IDs so the caller can broadcast
// updated counts.
func (t *Tracker) RemoveConnectionFromAllRooms(ctx context.Context, userID, connID string) ([]string, error) {
	rooms, err := t.store.SetMembers(ctx, t.socketRoomsKey(connID))
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, nil
	}
	affected := make([]string, 0, len(rooms))
	for _, roomID := range rooms {
		if err := t.LeaveRoom(ctx, roomID, userID, connID); err != nil {
			return affected, err
		}
		affected = append(affected, roomID)
	}
	if err := t.store.Delete(ctx, t.socketRoomsKey(connID)); err != nil {
		return affected, err
	}
	return affected, nil
}

// OnlineCountInRoom returns the number of distinct users online in a room.
// It first prunes users whose per-room socket set drained without an
// explicit leave; staleness is tolerated and self-corrects on the next call.
func (t *Tracker) OnlineCountInRoom(ctx context.Context, roomID string) (int64, error) {
	if err := t.cleanupRoomUsers(ctx, roomID); err != nil {
		return 0, err
	}
	return t.store.SetCard(ctx, t.roomUsersKey(roomID))
}

// ConnectionsInRoom returns every connection currently joined to a room.
func (t *Tracker) ConnectionsInRoom(ctx context.Context, roomID string) ([]string, error) {
	return t.store.SetMembers(ctx, t.roomSocketsKey(roomID))
}

// RoomOnlineMembers returns the distinct user IDs online in a room.
func (t *Tracker) RoomOnlineMembers(ctx context.Context, roomID string) ([]string, error) {
	return t.store.SetMembers(ctx, t.roomUsersKey(roomID))
}

func (t *Tracker) cleanupRoomUsers(ctx context.Context, roomID string) error {
	users, err := t.store.SetMembers(ctx, t.roomUsersKey(roomID))
	if err != nil {
		return err
	}
	var stale []string
	for _, userID := range users {
		count, err := t.store.SetCard(ctx, t.roomUserSocketsKey(roomID, userID))
		if err != nil {
			return err
		}
		if count == 0 {
			stale = append(stale, userID)
		}
	}
	if len(stale) > 0 {
		return t.store.SetRemove(ctx, t.roomUsersKey(roomID), stale...)
	}
	return nil
}

// ConnectionsForUser lists every live connection of a user, for fanning an
// event out to all of their tabs and devices.
func (t *Tracker) ConnectionsForUser(ctx context.Context, userID string) ([]string, error) {
	return t.store.SetMembers(ctx, t.userSocketsKey(userID))
}

// IsUserOnline reports whether the user has at least one live connection.
func (t *Tracker) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	return t.store.SetIsMember(ctx, t.onlineUsersKey(), userID)
}

// SetUserOnline writes the user's presence record with the short online TTL.
func (t *Tracker) SetUserOnline(ctx context.Context, userID string) error {
	return t.writePresence(ctx, userID, "online", onlinePresenceTTL)
}

// SetUserOffline writes the user's presence record with the long offline TTL.
func (t *Tracker) SetUserOffline(ctx context.Context, userID string) error {
	return t.writePresence(ctx, userID, "offline", offlinePresenceTTL)
}

func (t *Tracker) writePresence(ctx context.Context, userID, status string, ttl time.Duration) error {
	key := t.userPresenceKey(userID)
	err := t.store.HashSet(ctx, key, map[string]string{
		"status":     status,
		"lastSeenAt": strconv.FormatInt(time.Now().UnixMilli(), 10),
	})
	if err != nil {
		return err
	}
	return t.store.Expire(ctx, key, ttl)
}

// GetUserPresence returns the stored presence record, or nil when none
// exists (the record expired or the user was never seen).
func (t *Tracker) GetUserPresence(ctx context.Context, userID string) (*UserPresence, error) {
	data, err := t.store.HashGetAll(ctx, t.userPresenceKey(userID))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return parsePresence(data), nil
}

// GetUsersPresence batch-fetches presence records; absent users are omitted.
func (t *Tracker) GetUsersPresence(ctx context.Context, userIDs []string) (map[string]UserPresence, error) {
	out := make(map[string]UserPresence, len(userIDs))
	for _, id := range userIDs {
		data, err := t.store.HashGetAll(ctx, t.userPresenceKey(id))
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		out[id] = *parsePresence(data)
	}
	return out, nil
}

func parsePresence(data map[string]string) *UserPresence {
	p := &UserPresence{Status: data["status"]}
	if ms, err := strconv.ParseInt(data["lastSeenAt"], 10, 64); err == nil {
		p.LastSeenAt = time.UnixMilli(ms)
	}
	return p
}
