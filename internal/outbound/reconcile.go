package outbound

import (
	"sync"

	"roomrelay/backend/internal/models"
)

// LocalMessage is the client's optimistic view of one message. Status and
// Pending are client-only; everything else mirrors the server record once
// one exists.
type LocalMessage struct {
	ID              string
	ClientMessageID string
	RoomID          string
	SenderID        string
	Content         string
	Type            string
	Status          string
	Pending         bool
}

// merge folds an authoritative server record into the optimistic local
// message. Server fields win on every conflict; only the client-side
// delivery state survives from the local copy.
func merge(local LocalMessage, server models.Message) LocalMessage {
	local.ID = server.ID
	local.RoomID = server.RoomID
	local.SenderID = server.SenderID
	local.Content = server.Content
	local.Type = server.Type
	local.Pending = false
	if local.Status != StatusFailed {
		local.Status = StatusSent
	}
	return local
}

// LocalStore holds optimistic messages keyed by clientMessageId and
// implements MessageView for the queue. It also absorbs server broadcasts,
// so a message echoed back over the room feed reconciles the same way an
// ack does.
type LocalStore struct {
	mu       sync.Mutex
	messages map[string]*LocalMessage
}

// NewLocalStore builds an empty LocalStore.
func NewLocalStore() *LocalStore {
	return &LocalStore{messages: make(map[string]*LocalMessage)}
}

// Put records an optimistic message before it is enqueued.
func (s *LocalStore) Put(m LocalMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Pending = true
	if m.Status == "" {
		m.Status = StatusSending
	}
	s.messages[m.ClientMessageID] = &m
}

// Get returns the local copy for a clientMessageId.
func (s *LocalStore) Get(clientMessageID string) (LocalMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[clientMessageID]
	if !ok {
		return LocalMessage{}, false
	}
	return *m, true
}

// UpdateMessageID adopts the server-assigned id for a pending message.
func (s *LocalStore) UpdateMessageID(roomID, clientMessageID, serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[clientMessageID]; ok {
		m.ID = serverID
		m.Pending = false
	}
}

// SetMessageStatus transitions the local delivery state.
func (s *LocalStore) SetMessageStatus(roomID, clientMessageID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[clientMessageID]; ok {
		m.Status = status
	}
}

// ApplyServer reconciles a broadcast server record into the local store. A
// record with no matching local copy is inserted as-is; an existing copy is
// merged with server fields taking precedence.
func (s *LocalStore) ApplyServer(server models.Message) {
	if server.ClientMessageID == nil || *server.ClientMessageID == "" {
		return
	}
	key := *server.ClientMessageID
	s.mu.Lock()
	defer s.mu.Unlock()
	local, ok := s.messages[key]
	if !ok {
		s.messages[key] = &LocalMessage{
			ID:              server.ID,
			ClientMessageID: key,
			RoomID:          server.RoomID,
			SenderID:        server.SenderID,
			Content:         server.Content,
			Type:            server.Type,
			Status:          StatusSent,
		}
		return
	}
	merged := merge(*local, server)
	s.messages[key] = &merged
}
