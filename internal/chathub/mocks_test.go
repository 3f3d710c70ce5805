package chathub_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/models"
)

// MockStorage is a testify mock for the pipeline's storage-facing
// capabilities (RoomDirectory, MessageStore, ReadCursors, UserStatus).
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	args := m.Called(roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Room), args.Error(1)
}

func (m *MockStorage) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	args := m.Called(roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) RoomMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	args := m.Called(roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) HasBlocked(ctx context.Context, blockerID, targetID string) (bool, error) {
	args := m.Called(blockerID, targetID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStorage) FindMessageByClientID(ctx context.Context, roomID, senderID, clientMessageID string) (*models.Message, error) {
	args := m.Called(roomID, senderID, clientMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) UpsertReadCursor(ctx context.Context, roomID, userID, lastReadMessageID string, lastReadAt time.Time) error {
	args := m.Called(roomID, userID, lastReadMessageID, lastReadAt)
	return args.Error(0)
}

func (m *MockStorage) UpdateUserStatus(ctx context.Context, userID, status string, lastSeenAt time.Time) error {
	args := m.Called(userID, status, lastSeenAt)
	return args.Error(0)
}

// MockNotifier is a testify mock for the notification hand-off.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyUser(ctx context.Context, userID, notifType string, payload map[string]any) (string, error) {
	args := m.Called(userID, notifType, payload)
	return args.String(0), args.Error(1)
}

// mockClient is a test double for the chathub.Client interface.
type mockClient struct {
	id     string
	userID string
	send   chan models.Event

	mu     sync.Mutex
	closed bool
}

func newMockClient(connID, userID string) *mockClient {
	// Buffered to prevent blocking in tests
	return newMockClientBuffered(connID, userID, 32)
}

func newMockClientBuffered(connID, userID string, buffer int) *mockClient {
	return &mockClient{
		id:     connID,
		userID: userID,
		send:   make(chan models.Event, buffer),
	}
}

func (c *mockClient) ConnID() string { return c.id }
func (c *mockClient) UserID() string { return c.userID }
func (c *mockClient) Run()           {}

func (c *mockClient) Send(ev models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *mockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// drain collects everything currently buffered on the client's channel.
func (c *mockClient) drain() []models.Event {
	var events []models.Event
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func (c *mockClient) eventNames() []string {
	var names []string
	for _, ev := range c.drain() {
		names = append(names, ev.Event)
	}
	return names
}

// broadcastCall records one Broadcaster invocation.
type broadcastCall struct {
	Scope  string
	Target string
	Event  models.Event
}

// recordBroadcaster captures broadcasts instead of delivering them.
type recordBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *recordBroadcaster) record(scope, target string, ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{Scope: scope, Target: target, Event: ev})
}

func (b *recordBroadcaster) ToRoom(_ context.Context, roomID string, ev models.Event) {
	b.record("room", roomID, ev)
}

func (b *recordBroadcaster) ToUser(_ context.Context, userID string, ev models.Event) {
	b.record("user", userID, ev)
}

func (b *recordBroadcaster) ToConn(_ context.Context, connID string, ev models.Event) {
	b.record("conn", connID, ev)
}

func (b *recordBroadcaster) ToAll(_ context.Context, ev models.Event) {
	b.record("all", "", ev)
}

func (b *recordBroadcaster) byScope(scope string) []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcastCall
	for _, c := range b.calls {
		if c.Scope == scope {
			out = append(out, c)
		}
	}
	return out
}

// fakeLimiter is an allow-all RateLimiter that can be flipped to reject.
type fakeLimiter struct {
	mu    sync.Mutex
	deny  error
	calls []string
}

func (l *fakeLimiter) Consume(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, key)
	return l.deny
}

func (l *fakeLimiter) ConsumeWithLimit(_ context.Context, key string, _ int64, _ time.Duration) error {
	return l.Consume(nil, key)
}

// memStore is an in-memory presence.Store so pipeline tests can run against
// a real Tracker.
type memStore struct {
	mu     sync.Mutex
	sets   map[string]map[string]struct{}
	hashes map[string]map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		sets:   make(map[string]map[string]struct{}),
		hashes: make(map[string]map[string]string),
	}
}

func (s *memStore) SetAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *memStore) SetRemove(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		delete(s.sets[key], m)
	}
	return nil
}

func (s *memStore) SetCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

func (s *memStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (s *memStore) SetIsMember(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[key][member]
	return ok, nil
}

func (s *memStore) HashSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (s *memStore) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) Expire(_ context.Context, _ string, _ time.Duration) error { return nil }

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.sets, k)
		delete(s.hashes, k)
	}
	return nil
}

var _ chathub.Client = (*mockClient)(nil)
var _ chathub.Broadcaster = (*recordBroadcaster)(nil)
