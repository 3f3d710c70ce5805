package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"roomrelay/backend/internal/metrics"
	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/presence"
	"roomrelay/backend/internal/ratelimit"
	"roomrelay/backend/internal/storage"
)

// The pipeline depends on narrow capability interfaces rather than concrete
// sibling components; wiring happens once at process start.

// RoomDirectory answers membership and block questions.
type RoomDirectory interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	RoomMemberIDs(ctx context.Context, roomID string) ([]string, error)
	HasBlocked(ctx context.Context, blockerID, targetID string) (bool, error)
}

// MessageStore persists and deduplicates messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	FindMessageByClientID(ctx context.Context, roomID, senderID, clientMessageID string) (*models.Message, error)
}

// ReadCursors advances per-member read state.
type ReadCursors interface {
	UpsertReadCursor(ctx context.Context, roomID, userID, lastReadMessageID string, lastReadAt time.Time) error
}

// UserStatus writes the durable status copy alongside the presence record.
type UserStatus interface {
	UpdateUserStatus(ctx context.Context, userID, status string, lastSeenAt time.Time) error
}

// Notifier hands a per-recipient notification to the router. The returned
// string reports the delivery mode and is informational here.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, notifType string, payload map[string]any) (string, error)
}

// RateLimiter consumes per-user, per-action budgets.
type RateLimiter interface {
	Consume(ctx context.Context, key string) error
	ConsumeWithLimit(ctx context.Context, key string, points int64, duration time.Duration) error
}

// PipelineConfig carries the pipeline tunables.
type PipelineConfig struct {
	MaxContentLength  int
	SendLimitPoints   int64
	SendLimitDuration time.Duration
}

// Pipeline is the per-connection protocol state machine: it validates,
// deduplicates, persists and broadcasts the events of one connection's
// sequential stream. Many pipelines run concurrently, one stream per
// connection; all shared state lives behind the injected interfaces.
type Pipeline struct {
	rooms    RoomDirectory
	messages MessageStore
	cursors  ReadCursors
	users    UserStatus
	tracker  *presence.Tracker
	limiter  RateLimiter
	notifier Notifier
	bcast    Broadcaster
	cfg      PipelineConfig
	log      zerolog.Logger

	table map[string][]stage
}

// NewPipeline wires a Pipeline; every dependency is required except the
// notifier, which may be nil in contexts that do not fan out (tests of other
// paths, tooling).
func NewPipeline(
	rooms RoomDirectory,
	messages MessageStore,
	cursors ReadCursors,
	users UserStatus,
	tracker *presence.Tracker,
	limiter RateLimiter,
	notifier Notifier,
	bcast Broadcaster,
	cfg PipelineConfig,
	log zerolog.Logger,
) *Pipeline {
	p := &Pipeline{
		rooms:    rooms,
		messages: messages,
		cursors:  cursors,
		users:    users,
		tracker:  tracker,
		limiter:  limiter,
		notifier: notifier,
		bcast:    bcast,
		cfg:      cfg,
		log:      log,
	}

	// Ordered middleware chain per event. Each stage passes or rejects;
	// the last stage is the handler. send_message consumes its dedicated
	// budget before any other work so floods are rejected cheaply.
	p.table = map[string][]stage{
		models.EventJoinRoom: {
			p.decodeRoomRef, p.guardRate("join_room"), p.guardMembership,
			p.guardJoinBlocks, p.handleJoin,
		},
		models.EventLeaveRoom: {
			p.decodeRoomRef, p.guardRate("leave_room"), p.guardMembership,
			p.handleLeave,
		},
		models.EventSendMessage: {
			p.decodeSend, p.guardSendRate, p.guardMembership,
			p.guardSendBlocks, p.handleSend,
		},
		models.EventMarkRead: {
			p.decodeMarkRead, p.guardRate("mark_read"), p.guardMembership,
			p.handleMarkRead,
		},
		models.EventRoomPresenceSync: {
			p.decodeRoomRef, p.guardMembership, p.handlePresenceSync,
		},
		models.EventTypingStart: {
			p.decodeRoomRef, p.guardRate("typing"), p.guardMembership,
			p.relayTyping(models.EventTypingStart),
		},
		models.EventTypingStop: {
			p.decodeRoomRef, p.guardRate("typing"), p.guardMembership,
			p.relayTyping(models.EventTypingStop),
		},
	}
	return p
}

// request is the per-event context threaded through the stage chain.
type request struct {
	client Client
	event  string
	raw    models.Event

	roomID   string
	send     *models.SendMessagePayload
	markRead *models.MarkReadPayload
}

type stage func(ctx context.Context, req *request) error

// Dispatch routes one inbound event through its stage chain. Application
// rejections become error events; the connection is never torn down here.
func (p *Pipeline) Dispatch(ctx context.Context, c Client, ev models.Event) {
	stages, ok := p.table[ev.Event]
	if !ok {
		sendError(c, ErrUnknownEvent.Error())
		return
	}

	req := &request{client: c, event: ev.Event, raw: ev}
	for _, st := range stages {
		if err := st(ctx, req); err != nil {
			p.reject(c, req, err)
			return
		}
	}
}

// reject surfaces a stage failure to the client. Internal failures are
// logged in full and reported generically.
func (p *Pipeline) reject(c Client, req *request, err error) {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited),
		errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrNotRoomMember),
		errors.Is(err, ErrBlocked),
		errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrContentTooLong),
		errors.Is(err, errBadPayload):
		sendError(c, err.Error())
	default:
		p.log.Error().Err(err).
			Str("event", req.event).
			Str("user", c.UserID()).
			Msg("event pipeline failure")
		sendError(c, "internal error")
	}

	// A failed send still answers the ack contract so the client's retry
	// queue does not have to wait out its timeout.
	if req.event == models.EventSendMessage && req.send != nil {
		p.ack(c, models.AckPayload{
			ClientMessageID: req.send.ClientMessageID,
			OK:              false,
			Error:           err.Error(),
		})
	}
}

var errBadPayload = errors.New("malformed payload")

// --- decode stages ---

func (p *Pipeline) decodeRoomRef(_ context.Context, req *request) error {
	var body models.JoinRoomPayload
	if err := decode(req.raw, &body); err != nil || body.RoomID == "" {
		return errBadPayload
	}
	req.roomID = body.RoomID
	return nil
}

func (p *Pipeline) decodeSend(_ context.Context, req *request) error {
	var body models.SendMessagePayload
	if err := decode(req.raw, &body); err != nil || body.RoomID == "" {
		return errBadPayload
	}
	req.roomID = body.RoomID
	req.send = &body
	return nil
}

func (p *Pipeline) decodeMarkRead(_ context.Context, req *request) error {
	var body models.MarkReadPayload
	if err := decode(req.raw, &body); err != nil || body.RoomID == "" || len(body.MessageIDs) == 0 {
		return errBadPayload
	}
	req.roomID = body.RoomID
	req.markRead = &body
	return nil
}

// --- guard stages ---

func (p *Pipeline) guardRate(action string) stage {
	return func(ctx context.Context, req *request) error {
		return p.limiter.Consume(ctx, "user:"+req.client.UserID()+":"+action)
	}
}

func (p *Pipeline) guardSendRate(ctx context.Context, req *request) error {
	key := "user:" + req.client.UserID() + ":send_message"
	return p.limiter.ConsumeWithLimit(ctx, key, p.cfg.SendLimitPoints, p.cfg.SendLimitDuration)
}

func (p *Pipeline) guardMembership(ctx context.Context, req *request) error {
	ok, err := p.rooms.IsMember(ctx, req.roomID, req.client.UserID())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRoomMember
	}
	return nil
}

// guardJoinBlocks rejects joining a direct room when either party has
// blocked the other.
func (p *Pipeline) guardJoinBlocks(ctx context.Context, req *request) error {
	return p.checkDirectBlocks(ctx, req, true)
}

// guardSendBlocks re-validates at send time; only the recipient's block
// matters for delivering into an already joined direct room.
func (p *Pipeline) guardSendBlocks(ctx context.Context, req *request) error {
	return p.checkDirectBlocks(ctx, req, false)
}

func (p *Pipeline) checkDirectBlocks(ctx context.Context, req *request, bothWays bool) error {
	room, err := p.rooms.GetRoom(ctx, req.roomID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	if room.Type != models.RoomTypeDirect {
		return nil
	}
	members, err := p.rooms.RoomMemberIDs(ctx, req.roomID)
	if err != nil {
		return err
	}
	me := req.client.UserID()
	for _, other := range members {
		if other == me {
			continue
		}
		blocked, err := p.rooms.HasBlocked(ctx, other, me)
		if err != nil {
			return err
		}
		if blocked {
			return ErrBlocked
		}
		if bothWays {
			blocked, err = p.rooms.HasBlocked(ctx, me, other)
			if err != nil {
				return err
			}
			if blocked {
				return ErrBlocked
			}
		}
	}
	return nil
}

// --- handlers ---

func (p *Pipeline) handleJoin(ctx context.Context, req *request) error {
	c := req.client
	if err := p.tracker.JoinRoom(ctx, req.roomID, c.UserID(), c.ConnID()); err != nil {
		return err
	}
	count, err := p.tracker.OnlineCountInRoom(ctx, req.roomID)
	if err != nil {
		return err
	}
	ev, err := models.NewEvent(models.EventRoomPresence, models.RoomPresencePayload{
		RoomID:      req.roomID,
		OnlineCount: count,
	})
	if err != nil {
		return err
	}
	p.bcast.ToRoom(ctx, req.roomID, ev)
	// Echo to the caller too: their join may have raced the room broadcast.
	send(c, ev)
	return nil
}

func (p *Pipeline) handleLeave(ctx context.Context, req *request) error {
	c := req.client
	if err := p.tracker.LeaveRoom(ctx, req.roomID, c.UserID(), c.ConnID()); err != nil {
		return err
	}
	return p.broadcastRoomPresence(ctx, req.roomID)
}

func (p *Pipeline) handleSend(ctx context.Context, req *request) error {
	c := req.client
	body := req.send

	// Retried send: the idempotency key already has a persisted row.
	if body.ClientMessageID != "" {
		existing, err := p.messages.FindMessageByClientID(ctx, body.RoomID, c.UserID(), body.ClientMessageID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if existing != nil {
			metrics.MessagesDeduped.Inc()
			p.ack(c, models.AckPayload{
				ClientMessageID: body.ClientMessageID,
				OK:              true,
				MessageID:       existing.ID,
				Deduped:         true,
			})
			return nil
		}
	}

	content := sanitizeContent(body.Content)
	if content == "" && len(body.Attachments) == 0 {
		return ErrEmptyMessage
	}
	// The cap is in characters, not bytes; multibyte text gets the full
	// budget.
	if utf8.RuneCountInString(content) > p.cfg.MaxContentLength {
		return ErrContentTooLong
	}

	msgType := body.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	msg := &models.Message{
		RoomID:      body.RoomID,
		SenderID:    c.UserID(),
		Content:     content,
		Type:        msgType,
		Attachments: body.Attachments,
	}
	if body.ClientMessageID != "" {
		id := body.ClientMessageID
		msg.ClientMessageID = &id
	}

	if err := p.messages.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, storage.ErrDuplicate) && body.ClientMessageID != "" {
			// A concurrent retry won the insert race; answer with its row.
			existing, ferr := p.messages.FindMessageByClientID(ctx, body.RoomID, c.UserID(), body.ClientMessageID)
			if ferr != nil {
				return ferr
			}
			metrics.MessagesDeduped.Inc()
			p.ack(c, models.AckPayload{
				ClientMessageID: body.ClientMessageID,
				OK:              true,
				MessageID:       existing.ID,
				Deduped:         true,
			})
			return nil
		}
		return err
	}
	metrics.MessagesSent.Inc()

	ev, err := models.NewEvent(models.EventMessage, msg)
	if err != nil {
		return err
	}
	p.bcast.ToRoom(ctx, body.RoomID, ev)

	p.ack(c, models.AckPayload{
		ClientMessageID: body.ClientMessageID,
		OK:              true,
		MessageID:       msg.ID,
	})

	// Notification fan-out is fire-and-forget relative to the ack; the
	// sender never waits on it.
	go p.fanOutNotifications(c.UserID(), msg)
	return nil
}

func (p *Pipeline) fanOutNotifications(senderID string, msg *models.Message) {
	if p.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	members, err := p.rooms.RoomMemberIDs(ctx, msg.RoomID)
	if err != nil {
		p.log.Error().Err(err).Str("room", msg.RoomID).Msg("notification fan-out: list members")
		return
	}
	for _, memberID := range members {
		if memberID == senderID {
			continue
		}
		payload := map[string]any{
			"roomId":    msg.RoomID,
			"messageId": msg.ID,
			"senderId":  senderID,
		}
		if _, err := p.notifier.NotifyUser(ctx, memberID, models.NotificationMessageReceived, payload); err != nil {
			p.log.Error().Err(err).Str("user", memberID).Msg("notification fan-out")
		}
	}
}

func (p *Pipeline) handleMarkRead(ctx context.Context, req *request) error {
	c := req.client
	body := req.markRead
	lastRead := body.MessageIDs[len(body.MessageIDs)-1]
	now := time.Now().UTC()

	if err := p.cursors.UpsertReadCursor(ctx, body.RoomID, c.UserID(), lastRead, now); err != nil {
		return err
	}

	ev, err := models.NewEvent(models.EventReadState, models.ReadStatePayload{
		RoomID:            body.RoomID,
		UserID:            c.UserID(),
		LastReadMessageID: lastRead,
		LastReadAt:        now,
	})
	if err != nil {
		return err
	}
	// One shared event for peer receipts and the caller's own multi-tab
	// sync: the room gets it, and so does every other tab of the caller.
	p.bcast.ToRoom(ctx, body.RoomID, ev)
	p.bcast.ToUser(ctx, c.UserID(), ev)
	return nil
}

func (p *Pipeline) handlePresenceSync(ctx context.Context, req *request) error {
	count, err := p.tracker.OnlineCountInRoom(ctx, req.roomID)
	if err != nil {
		return err
	}
	ev, err := models.NewEvent(models.EventRoomPresence, models.RoomPresencePayload{
		RoomID:      req.roomID,
		OnlineCount: count,
	})
	if err != nil {
		return err
	}
	send(req.client, ev)
	return nil
}

func (p *Pipeline) relayTyping(event string) stage {
	return func(ctx context.Context, req *request) error {
		ev, err := models.NewEvent(event, models.TypingPayload{
			RoomID: req.roomID,
			UserID: req.client.UserID(),
		})
		if err != nil {
			return err
		}
		p.bcast.ToRoom(ctx, req.roomID, ev)
		return nil
	}
}

// --- connection lifecycle ---

// Connect registers a freshly authenticated connection: presence, durable
// status, and the global online broadcast.
func (p *Pipeline) Connect(ctx context.Context, c Client) error {
	if err := p.tracker.AddConnection(ctx, c.UserID(), c.ConnID()); err != nil {
		return err
	}
	if err := p.tracker.SetUserOnline(ctx, c.UserID()); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := p.users.UpdateUserStatus(ctx, c.UserID(), models.StatusOnline, now); err != nil {
		p.log.Error().Err(err).Str("user", c.UserID()).Msg("persist online status")
	}
	metrics.ConnectionsActive.Inc()

	ev, err := models.NewEvent(models.EventPresenceUpdate, models.PresenceUpdatePayload{
		UserID:     c.UserID(),
		Status:     models.StatusOnline,
		LastSeenAt: now,
	})
	if err != nil {
		return err
	}
	p.bcast.ToAll(ctx, ev)
	return nil
}

// Disconnect cleans up after a dropped connection: every joined room is
// left (derived from the tracker, not from the client), affected rooms get
// fresh counts, and the user goes offline only when their last connection
// is gone.
func (p *Pipeline) Disconnect(ctx context.Context, c Client) {
	userID, connID := c.UserID(), c.ConnID()

	affected, err := p.tracker.RemoveConnectionFromAllRooms(ctx, userID, connID)
	if err != nil {
		p.log.Error().Err(err).Str("conn", connID).Msg("room cleanup on disconnect")
	}
	for _, roomID := range affected {
		if err := p.broadcastRoomPresence(ctx, roomID); err != nil {
			p.log.Error().Err(err).Str("room", roomID).Msg("room presence on disconnect")
		}
	}

	wentOffline, err := p.tracker.RemoveConnection(ctx, userID, connID)
	if err != nil {
		p.log.Error().Err(err).Str("conn", connID).Msg("remove connection")
		return
	}
	metrics.ConnectionsActive.Dec()
	if !wentOffline {
		return
	}

	now := time.Now().UTC()
	if err := p.tracker.SetUserOffline(ctx, userID); err != nil {
		p.log.Error().Err(err).Str("user", userID).Msg("set offline presence")
	}
	if err := p.users.UpdateUserStatus(ctx, userID, models.StatusOffline, now); err != nil {
		p.log.Error().Err(err).Str("user", userID).Msg("persist offline status")
	}
	ev, err := models.NewEvent(models.EventPresenceUpdate, models.PresenceUpdatePayload{
		UserID:     userID,
		Status:     models.StatusOffline,
		LastSeenAt: now,
	})
	if err != nil {
		p.log.Error().Err(err).Msg("encode presence update")
		return
	}
	p.bcast.ToAll(ctx, ev)
}

func (p *Pipeline) broadcastRoomPresence(ctx context.Context, roomID string) error {
	count, err := p.tracker.OnlineCountInRoom(ctx, roomID)
	if err != nil {
		return err
	}
	ev, err := models.NewEvent(models.EventRoomPresence, models.RoomPresencePayload{
		RoomID:      roomID,
		OnlineCount: count,
	})
	if err != nil {
		return err
	}
	p.bcast.ToRoom(ctx, roomID, ev)
	return nil
}

// --- helpers ---

func decode(ev models.Event, out any) error {
	if len(ev.Data) == 0 {
		return errBadPayload
	}
	return json.Unmarshal(ev.Data, out)
}

func (p *Pipeline) ack(c Client, payload models.AckPayload) {
	ev, err := models.NewEvent(models.EventAck, payload)
	if err != nil {
		p.log.Error().Err(err).Msg("encode ack")
		return
	}
	send(c, ev)
}

// send pushes an event directly to one client without blocking. A client
// that is closed or backed up just misses the event; the hub handles
// dropping it.
func send(c Client, ev models.Event) {
	c.Send(ev)
}

func sendError(c Client, msg string) {
	ev, err := models.NewEvent(models.EventError, models.ErrorPayload{Message: msg})
	if err != nil {
		return
	}
	send(c, ev)
}
