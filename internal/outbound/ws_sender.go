package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomrelay/backend/internal/models"
)

// ErrAckTimeout is returned when the server does not acknowledge a send
// within the ack window.
var ErrAckTimeout = errors.New("ack timeout")

const defaultAckTimeout = 5 * time.Second

// Conn is a gateway connection with ack correlation: each send_message
// frame carries a clientMessageId and Send blocks until the matching ack
// arrives or the window elapses. It satisfies the queue's Sender interface.
type Conn struct {
	url        string
	token      string
	ackTimeout time.Duration
	log        zerolog.Logger

	writeMu sync.Mutex
	ws      *websocket.Conn

	waitMu  sync.Mutex
	waiters map[string]chan models.AckPayload

	// OnEvent receives every non-ack event from the read loop.
	OnEvent func(models.Event)
}

// NewConn builds an unconnected Conn. ackTimeout <= 0 selects the default
// 5s window.
func NewConn(url, token string, ackTimeout time.Duration, log zerolog.Logger) *Conn {
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	return &Conn{
		url:        url,
		token:      token,
		ackTimeout: ackTimeout,
		log:        log,
		waiters:    make(map[string]chan models.AckPayload),
	}
}

// Dial connects and starts the read loop. queue, when non-nil, is flushed
// once the connection is up so messages queued while offline go out without
// user action.
func (c *Conn) Dial(ctx context.Context, queue *Queue) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	c.ws = ws
	c.writeMu.Unlock()

	go c.readLoop(ctx)
	if queue != nil {
		go queue.OnReconnect(ctx)
	}
	return nil
}

// Close tears the connection down. Pending ack waiters time out on their own.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return nil
	}
	err := c.ws.Close()
	c.ws = nil
	return err
}

// Send writes a send_message frame and waits for the correlated ack.
func (c *Conn) Send(ctx context.Context, payload models.SendMessagePayload) (models.AckPayload, error) {
	ev, err := models.NewEvent(models.EventSendMessage, payload)
	if err != nil {
		return models.AckPayload{}, err
	}

	ch := make(chan models.AckPayload, 1)
	c.waitMu.Lock()
	c.waiters[payload.ClientMessageID] = ch
	c.waitMu.Unlock()
	defer func() {
		c.waitMu.Lock()
		delete(c.waiters, payload.ClientMessageID)
		c.waitMu.Unlock()
	}()

	if err := c.writeJSON(ev); err != nil {
		return models.AckPayload{}, err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		return models.AckPayload{}, ErrAckTimeout
	case <-ctx.Done():
		return models.AckPayload{}, ctx.Err()
	}
}

// WriteEvent sends an arbitrary client event (join_room, typing, mark_read).
func (c *Conn) WriteEvent(ev models.Event) error {
	return c.writeJSON(ev)
}

func (c *Conn) writeJSON(ev models.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return errors.New("not connected")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		c.writeMu.Lock()
		ws := c.ws
		c.writeMu.Unlock()
		if ws == nil || ctx.Err() != nil {
			return
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			c.log.Debug().Err(err).Msg("gateway read closed")
			return
		}

		// The gateway coalesces queued events into one frame, so a frame
		// holds one or more JSON values.
		dec := json.NewDecoder(bytes.NewReader(data))
		for {
			var ev models.Event
			if err := dec.Decode(&ev); err != nil {
				if err != io.EOF {
					c.log.Warn().Err(err).Msg("malformed gateway frame")
				}
				break
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Conn) handleEvent(ev models.Event) {
	if ev.Event == models.EventAck {
		var ack models.AckPayload
		if err := json.Unmarshal(ev.Data, &ack); err != nil {
			return
		}
		c.waitMu.Lock()
		ch, ok := c.waiters[ack.ClientMessageID]
		c.waitMu.Unlock()
		if ok {
			ch <- ack
		}
		return
	}

	if c.OnEvent != nil {
		c.OnEvent(ev)
	}
}
