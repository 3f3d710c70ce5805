// Package notify routes notifications: realtime push for online recipients,
// a durable job queue with a worker and dead-lettering for offline ones.
package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job is one durable notification delivery task. Attempts and LastError are
// carried on the job itself so retries and dead-letters stay self-describing.
type Job struct {
	UserID    string         `json:"userId"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"lastError,omitempty"`
}

// JobQueue is the durable queue capability the router and worker need.
type JobQueue interface {
	// Push appends a payload to the named queue.
	Push(ctx context.Context, queue string, payload []byte) error
	// Pop blocks up to timeout for the next payload of the named queue.
	// It returns (nil, nil) when the timeout elapses with nothing queued.
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
}

// RedisJobQueue implements JobQueue on Redis lists.
type RedisJobQueue struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisJobQueue wraps rdb as a JobQueue; prefix namespaces queue keys.
func NewRedisJobQueue(rdb *redis.Client, prefix string) *RedisJobQueue {
	return &RedisJobQueue{rdb: rdb, prefix: prefix}
}

func (q *RedisJobQueue) Push(ctx context.Context, queue string, payload []byte) error {
	return q.rdb.LPush(ctx, q.prefix+queue, payload).Err()
}

func (q *RedisJobQueue) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.prefix+queue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}
