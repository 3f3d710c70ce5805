package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"roomrelay/backend/internal/metrics"
	"roomrelay/backend/internal/models"
)

// Delivery modes reported by NotifyUser.
const (
	DeliveredRealtime = "realtime"
	DeliveredQueued   = "queued"
)

// OnlineChecker answers whether a user has a live connection right now.
type OnlineChecker interface {
	IsUserOnline(ctx context.Context, userID string) (bool, error)
}

// Pusher delivers an event to every live connection of a user.
type Pusher interface {
	ToUser(ctx context.Context, userID string, ev models.Event)
}

// Router decides per recipient between immediate delivery and durable
// queueing. The common case (recipient online) writes nothing; durability is
// paid only for offline recipients.
type Router struct {
	online OnlineChecker
	pusher Pusher
	queue  JobQueue
	qName  string
	log    zerolog.Logger
}

// NewRouter wires a Router. qName is the primary queue name.
func NewRouter(online OnlineChecker, pusher Pusher, queue JobQueue, qName string, log zerolog.Logger) *Router {
	return &Router{online: online, pusher: pusher, queue: queue, qName: qName, log: log}
}

// NotifyUser delivers one notification: realtime over every live connection
// when the recipient is online, otherwise as a durable job. It returns the
// delivery mode taken.
func (r *Router) NotifyUser(ctx context.Context, userID, notifType string, payload map[string]any) (string, error) {
	online, err := r.online.IsUserOnline(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("online check for %s: %w", userID, err)
	}

	if online {
		ev, err := models.NewEvent(models.EventNotification, models.NotificationPayload{
			Type:    notifType,
			Payload: payload,
		})
		if err != nil {
			return "", err
		}
		r.pusher.ToUser(ctx, userID, ev)
		metrics.NotificationsRealtime.Inc()
		return DeliveredRealtime, nil
	}

	data, err := json.Marshal(Job{UserID: userID, Type: notifType, Payload: payload})
	if err != nil {
		return "", err
	}
	if err := r.queue.Push(ctx, r.qName, data); err != nil {
		return "", fmt.Errorf("enqueue notification for %s: %w", userID, err)
	}
	metrics.NotificationsQueued.Inc()
	return DeliveredQueued, nil
}
