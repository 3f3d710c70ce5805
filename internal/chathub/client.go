package chathub

import "roomrelay/backend/internal/models"

// Client is one live connection to the gateway. It abstracts the underlying
// transport so the hub and pipeline can manage connections uniformly and
// tests can use in-memory doubles.
type Client interface {
	// ConnID returns the unique identifier of this connection.
	ConnID() string
	// UserID returns the authenticated user bound to this connection.
	UserID() string

	// Send queues an outbound event without blocking. It reports false when
	// the client is closed or its buffer is full; the caller decides whether
	// that means dropping the event or dropping the client.
	Send(ev models.Event) bool

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the client's outbound channel. Idempotent, and safe
	// to call while other goroutines are sending.
	Close()
}
