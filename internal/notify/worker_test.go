package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/notify"
)

// MockNotificationStore is a testify mock for the worker's persistence.
type MockNotificationStore struct {
	mock.Mock
}

func (m *MockNotificationStore) SaveNotification(_ context.Context, n *models.Notification) error {
	args := m.Called(n)
	return args.Error(0)
}

// fakeUsers resolves users from a fixed map.
type fakeUsers struct {
	users map[string]*models.User
}

func (f *fakeUsers) GetUser(_ context.Context, userID string) (*models.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

// recordTelegram captures side-channel pushes.
type recordTelegram struct {
	pushes []string
	err    error
}

func (r *recordTelegram) Push(_ context.Context, telegramID, text string) error {
	r.pushes = append(r.pushes, telegramID+": "+text)
	return r.err
}

func workerConfig() notify.WorkerConfig {
	return notify.WorkerConfig{
		Queue:       "notifications",
		DeadLetter:  "notifications:dlq",
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		PopTimeout:  time.Millisecond,
	}
}

func enqueueJob(t *testing.T, q *memJobQueue, job notify.Job) {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	require.NoError(t, q.Push(context.Background(), "notifications", data))
}

func TestWorkerPersistsJob(t *testing.T) {
	queue := newMemJobQueue()
	store := new(MockNotificationStore)
	var saved *models.Notification
	store.On("SaveNotification", mock.AnythingOfType("*models.Notification")).
		Run(func(args mock.Arguments) {
			saved = args.Get(0).(*models.Notification)
		}).Return(nil)

	w := notify.NewWorker(queue, store, nil, nil, workerConfig(), zerolog.Nop())

	enqueueJob(t, queue, notify.Job{
		UserID:  "user-1",
		Type:    models.NotificationMessageReceived,
		Payload: map[string]any{"roomId": "room-1", "messageId": "m-1"},
	})

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	require.NotNil(t, saved)
	assert.Equal(t, "user-1", saved.UserID)
	assert.Equal(t, models.NotificationMessageReceived, saved.Type)
	assert.Contains(t, saved.Payload, "room-1")

	assert.Zero(t, queue.len("notifications"))
	assert.Zero(t, queue.len("notifications:dlq"))
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	queue := newMemJobQueue()
	store := new(MockNotificationStore)
	store.On("SaveNotification", mock.Anything).Return(errors.New("db down"))

	w := notify.NewWorker(queue, store, nil, nil, workerConfig(), zerolog.Nop())

	enqueueJob(t, queue, notify.Job{UserID: "user-1", Type: models.NotificationMention})

	ctx := context.Background()
	// Each cycle fails and requeues until the third attempt dead-letters.
	for i := 0; i < 3; i++ {
		processed, err := w.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	assert.Zero(t, queue.len("notifications"), "exhausted job leaves the primary queue")
	require.Equal(t, 1, queue.len("notifications:dlq"))

	raw, err := queue.Pop(ctx, "notifications:dlq", 0)
	require.NoError(t, err)
	var job notify.Job
	require.NoError(t, json.Unmarshal(raw, &job))
	assert.Equal(t, 3, job.Attempts)
	assert.Contains(t, job.LastError, "db down")

	store.AssertNumberOfCalls(t, "SaveNotification", 3)
}

func TestWorkerDeadLettersMalformedPayload(t *testing.T) {
	queue := newMemJobQueue()
	store := new(MockNotificationStore)

	w := notify.NewWorker(queue, store, nil, nil, workerConfig(), zerolog.Nop())

	require.NoError(t, queue.Push(context.Background(), "notifications", []byte("{not json")))

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, 1, queue.len("notifications:dlq"))
	store.AssertNotCalled(t, "SaveNotification", mock.Anything)
}

func TestWorkerPushesTelegramForLinkedUser(t *testing.T) {
	queue := newMemJobQueue()
	store := new(MockNotificationStore)
	store.On("SaveNotification", mock.Anything).Return(nil)
	users := &fakeUsers{users: map[string]*models.User{
		"user-1": {ID: "user-1", Username: "ann", TelegramID: "42"},
	}}
	tg := &recordTelegram{}

	w := notify.NewWorker(queue, store, users, tg, workerConfig(), zerolog.Nop())

	enqueueJob(t, queue, notify.Job{UserID: "user-1", Type: models.NotificationMention})

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	require.Len(t, tg.pushes, 1)
	assert.Contains(t, tg.pushes[0], "42: ")
}

func TestWorkerTelegramFailureDoesNotFailJob(t *testing.T) {
	queue := newMemJobQueue()
	store := new(MockNotificationStore)
	store.On("SaveNotification", mock.Anything).Return(nil)
	users := &fakeUsers{users: map[string]*models.User{
		"user-1": {ID: "user-1", TelegramID: "42"},
	}}
	tg := &recordTelegram{err: errors.New("telegram down")}

	w := notify.NewWorker(queue, store, users, tg, workerConfig(), zerolog.Nop())

	enqueueJob(t, queue, notify.Job{UserID: "user-1", Type: models.NotificationMention})

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	assert.Zero(t, queue.len("notifications"))
	assert.Zero(t, queue.len("notifications:dlq"))
}
