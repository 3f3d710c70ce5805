package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"roomrelay/backend/internal/metrics"
	"roomrelay/backend/internal/models"
)

// NotificationStore persists processed jobs as stored notifications.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
}

// UserDirectory resolves recipients, for side-channel pushes.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// TelegramPusher sends an out-of-band alert to a linked Telegram chat.
// Optional: a nil pusher disables the side channel.
type TelegramPusher interface {
	Push(ctx context.Context, telegramID, text string) error
}

// WorkerConfig carries the worker tunables.
type WorkerConfig struct {
	Queue       string
	DeadLetter  string
	MaxAttempts int
	BackoffBase time.Duration
	PopTimeout  time.Duration
}

// Worker consumes notification jobs and persists them as stored
// notifications. A failing job is retried with bounded exponential backoff;
// once attempts are exhausted it moves verbatim (plus the failure reason)
// onto the dead-letter queue. Jobs are never silently dropped and never
// retried forever.
type Worker struct {
	queue    JobQueue
	store    NotificationStore
	users    UserDirectory
	telegram TelegramPusher
	cfg      WorkerConfig
	log      zerolog.Logger
}

// NewWorker wires a Worker. telegram may be nil.
func NewWorker(queue JobQueue, store NotificationStore, users UserDirectory, telegram TelegramPusher, cfg WorkerConfig, log zerolog.Logger) *Worker {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	return &Worker{queue: queue, store: store, users: users, telegram: telegram, cfg: cfg, log: log}
}

// Run consumes jobs until the context is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := w.queue.Pop(ctx, w.cfg.Queue, w.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("pop notification job")
			time.Sleep(w.cfg.BackoffBase)
			continue
		}
		if payload == nil {
			continue
		}
		w.handle(ctx, payload)
	}
}

// handle processes one raw job payload, applying the retry/dead-letter
// policy. Exported for direct use in tests via ProcessOne.
func (w *Worker) handle(ctx context.Context, payload []byte) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		// Unparseable payloads cannot be retried meaningfully.
		w.log.Error().Err(err).Msg("malformed notification job")
		w.deadLetter(ctx, Job{LastError: "malformed payload: " + err.Error()})
		return
	}

	if err := w.process(ctx, &job); err != nil {
		job.Attempts++
		job.LastError = err.Error()
		if job.Attempts >= w.cfg.MaxAttempts {
			w.log.Error().Err(err).
				Str("user", job.UserID).
				Int("attempts", job.Attempts).
				Msg("notification job exhausted retries")
			w.deadLetter(ctx, job)
			return
		}
		// Bounded exponential backoff before the job re-enters the queue.
		time.Sleep(w.cfg.BackoffBase << (job.Attempts - 1))
		w.requeue(ctx, job)
		return
	}
	metrics.JobsProcessed.Inc()
}

// ProcessOne runs a single pop-and-handle cycle. It reports whether a job
// was available.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	payload, err := w.queue.Pop(ctx, w.cfg.Queue, w.cfg.PopTimeout)
	if err != nil {
		return false, err
	}
	if payload == nil {
		return false, nil
	}
	w.handle(ctx, payload)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	n := &models.Notification{
		UserID:  job.UserID,
		Type:    job.Type,
		Payload: string(data),
	}
	if err := w.store.SaveNotification(ctx, n); err != nil {
		return err
	}

	// Best effort side channel; a Telegram failure must not fail the job
	// after the notification row is already persisted.
	if w.telegram != nil && w.users != nil {
		if user, err := w.users.GetUser(ctx, job.UserID); err == nil && user.TelegramID != "" {
			if err := w.telegram.Push(ctx, user.TelegramID, "You have a new "+job.Type+" notification"); err != nil {
				w.log.Warn().Err(err).Str("user", job.UserID).Msg("telegram push")
			}
		}
	}
	return nil
}

func (w *Worker) requeue(ctx context.Context, job Job) {
	data, err := json.Marshal(job)
	if err != nil {
		w.log.Error().Err(err).Msg("marshal retry job")
		return
	}
	if err := w.queue.Push(ctx, w.cfg.Queue, data); err != nil {
		w.log.Error().Err(err).Msg("requeue notification job")
	}
}

func (w *Worker) deadLetter(ctx context.Context, job Job) {
	data, err := json.Marshal(job)
	if err != nil {
		w.log.Error().Err(err).Msg("marshal dead-letter job")
		return
	}
	if err := w.queue.Push(ctx, w.cfg.DeadLetter, data); err != nil {
		w.log.Error().Err(err).Msg("push dead-letter job")
		return
	}
	metrics.JobsDeadLettered.Inc()
}
