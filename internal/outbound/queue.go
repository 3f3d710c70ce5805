// Package outbound implements the sender-side reliability queue that runs in
// the client process against the gateway connection: a message handed to it
// is retried across reconnects until the server acknowledges it or the
// attempt ceiling is reached.
package outbound

import (
	"context"
	"sync"
	"time"

	"roomrelay/backend/internal/models"
)

// Local delivery states of an optimistic message.
const (
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Item is one queued send. At most one attempt for an item is in flight at
// any time.
type Item struct {
	RoomID          string
	ClientMessageID string
	Payload         models.SendMessagePayload
	EnqueuedAt      time.Time
	AttemptCount    int
}

// Sender transmits a send_message frame and waits, up to its configured
// timeout, for the correlated ack. A timeout or transport failure is
// reported as an error; a negative ack comes back as a payload with OK
// false.
type Sender interface {
	Send(ctx context.Context, payload models.SendMessagePayload) (models.AckPayload, error)
}

// MessageView is where send outcomes are reconciled into the optimistic
// local state.
type MessageView interface {
	// UpdateMessageID replaces the temporary client id with the
	// server-assigned one.
	UpdateMessageID(roomID, clientMessageID, serverID string)
	// SetMessageStatus transitions the local message's delivery state.
	SetMessageStatus(roomID, clientMessageID, status string)
}

// Queue is the ordered outbound reliability queue, keyed by
// clientMessageId. Enqueueing a duplicate key is a no-op, mirroring the
// server-side dedup key. The drain loop is single-flight so retries keep
// their per-room order.
type Queue struct {
	sender      Sender
	view        MessageView
	maxAttempts int

	mu       sync.Mutex
	items    []*Item
	index    map[string]*Item
	failed   map[string]*Item
	draining bool
}

// NewQueue builds a Queue. maxAttempts is the retry ceiling; values < 1 are
// coerced to 1.
func NewQueue(sender Sender, view MessageView, maxAttempts int) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Queue{
		sender:      sender,
		view:        view,
		maxAttempts: maxAttempts,
		index:       make(map[string]*Item),
		failed:      make(map[string]*Item),
	}
}

// Enqueue appends an item and kicks the drain loop. A clientMessageId that
// is already queued is ignored.
func (q *Queue) Enqueue(ctx context.Context, item Item) {
	q.mu.Lock()
	if _, dup := q.index[item.ClientMessageID]; dup {
		q.mu.Unlock()
		return
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	it := &item
	q.items = append(q.items, it)
	q.index[it.ClientMessageID] = it
	q.mu.Unlock()

	q.view.SetMessageStatus(item.RoomID, item.ClientMessageID, StatusSending)
	q.Drain(ctx)
}

// OnReconnect flushes anything queued while the connection was down. It is
// triggered unconditionally so no user action is needed.
func (q *Queue) OnReconnect(ctx context.Context) {
	q.Drain(ctx)
}

// Retry re-enqueues a message that previously exhausted its attempts, with
// a fresh attempt budget. No-op for unknown ids.
func (q *Queue) Retry(ctx context.Context, clientMessageID string) {
	q.mu.Lock()
	it, ok := q.failed[clientMessageID]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.failed, clientMessageID)
	q.mu.Unlock()

	it.AttemptCount = 0
	q.Enqueue(ctx, *it)
}

// Len returns the number of items awaiting delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// FailedIDs lists the clientMessageIds parked in the failed state.
func (q *Queue) FailedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.failed))
	for id := range q.failed {
		out = append(out, id)
	}
	return out
}

// Drain processes the queue head-first with one in-flight attempt at a
// time. A second concurrent call returns immediately; the running pass
// covers whatever is queued.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.mu.Unlock()

		if it.AttemptCount >= q.maxAttempts {
			q.fail(it)
			continue
		}

		ack, err := q.sender.Send(ctx, it.Payload)
		if err == nil && ack.OK && ack.MessageID != "" {
			q.view.UpdateMessageID(it.RoomID, it.ClientMessageID, ack.MessageID)
			q.view.SetMessageStatus(it.RoomID, it.ClientMessageID, StatusSent)
			q.dequeue(it.ClientMessageID)
			continue
		}

		it.AttemptCount++
		if it.AttemptCount >= q.maxAttempts {
			q.fail(it)
			continue
		}
		// Below the ceiling: the item stays at the head for the next
		// drain pass, which runs once the connection is live again.
		return
	}
}

func (q *Queue) fail(it *Item) {
	q.dequeue(it.ClientMessageID)
	q.mu.Lock()
	q.failed[it.ClientMessageID] = it
	q.mu.Unlock()
	// The message stays visible locally so the user can retry explicitly.
	q.view.SetMessageStatus(it.RoomID, it.ClientMessageID, StatusFailed)
}

func (q *Queue) dequeue(clientMessageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.index, clientMessageID)
	for i, it := range q.items {
		if it.ClientMessageID == clientMessageID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}
