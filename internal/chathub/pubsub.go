package chathub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"roomrelay/backend/internal/models"
)

// Broadcast scopes carried in a relay envelope.
const (
	scopeRoom = "room"
	scopeUser = "user"
	scopeConn = "conn"
	scopeAll  = "all"
)

// envelope is the frame relayed between gateway instances over pub/sub.
type envelope struct {
	Scope  string       `json:"scope"`
	Target string       `json:"target,omitempty"`
	Event  models.Event `json:"event"`
}

// RelayBroadcaster fans events out across every gateway instance through a
// Redis pub/sub channel. Each instance's listener applies received envelopes
// to its local hub, so a broadcast reaches connections on any process.
type RelayBroadcaster struct {
	hub     *Hub
	rdb     *redis.Client
	channel string
	log     zerolog.Logger
}

// NewRelayBroadcaster builds a relay publishing on the given channel.
func NewRelayBroadcaster(hub *Hub, rdb *redis.Client, channel string, log zerolog.Logger) *RelayBroadcaster {
	return &RelayBroadcaster{hub: hub, rdb: rdb, channel: channel, log: log}
}

// Listen subscribes to the relay channel and delivers received envelopes to
// the local hub until the context is done. Run it on its own goroutine.
func (r *RelayBroadcaster) Listen(ctx context.Context) {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Error().Err(err).Msg("unmarshal relay envelope")
				continue
			}
			r.apply(ctx, env)
		case <-ctx.Done():
			return
		}
	}
}

func (r *RelayBroadcaster) apply(ctx context.Context, env envelope) {
	switch env.Scope {
	case scopeRoom:
		r.hub.ToRoom(ctx, env.Target, env.Event)
	case scopeUser:
		r.hub.ToUser(ctx, env.Target, env.Event)
	case scopeConn:
		r.hub.ToConn(ctx, env.Target, env.Event)
	case scopeAll:
		r.hub.ToAll(ctx, env.Event)
	}
}

func (r *RelayBroadcaster) publish(ctx context.Context, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		r.log.Error().Err(err).Msg("marshal relay envelope")
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, string(data)).Err(); err != nil {
		r.log.Error().Err(err).Msg("publish relay envelope")
	}
}

func (r *RelayBroadcaster) ToRoom(ctx context.Context, roomID string, ev models.Event) {
	r.publish(ctx, envelope{Scope: scopeRoom, Target: roomID, Event: ev})
}

func (r *RelayBroadcaster) ToUser(ctx context.Context, userID string, ev models.Event) {
	r.publish(ctx, envelope{Scope: scopeUser, Target: userID, Event: ev})
}

func (r *RelayBroadcaster) ToConn(ctx context.Context, connID string, ev models.Event) {
	r.publish(ctx, envelope{Scope: scopeConn, Target: connID, Event: ev})
}

func (r *RelayBroadcaster) ToAll(ctx context.Context, ev models.Event) {
	r.publish(ctx, envelope{Scope: scopeAll, Event: ev})
}
