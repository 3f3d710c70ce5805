package chathub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomrelay/backend/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var newline = []byte{'\n'}

// Dispatcher consumes the sequential event stream of one connection.
// Dispatch is called inline from the read pump, so no two events of the same
// connection are ever handled concurrently.
type Dispatcher interface {
	Dispatch(ctx context.Context, c Client, ev models.Event)
	Disconnect(ctx context.Context, c Client)
}

// WebSocketClient implements Client on a gorilla/websocket connection.
type WebSocketClient struct {
	ID     string
	User   string
	Conn   *websocket.Conn
	Hub    *Hub
	Router Dispatcher
	Out    chan models.Event
	Log    zerolog.Logger

	// mu guards closed so Close is the only goroutine that ever closes Out
	// and no Send can race it.
	mu     sync.Mutex
	closed bool
}

func (c *WebSocketClient) ConnID() string { return c.ID }
func (c *WebSocketClient) UserID() string { return c.User }

// Send queues ev for the write pump. It never blocks: a closed client or a
// full buffer reports false and the event is dropped.
func (c *WebSocketClient) Send(ev models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Out <- ev:
		return true
	default:
		return false
	}
}

// Run starts the read and write pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes the outbound channel, which stops the write pump. Safe to
// call more than once and concurrently with Send.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Out)
}

func (c *WebSocketClient) readPump() {
	ctx := context.Background()
	defer func() {
		c.Hub.UnregisterCh <- c
		c.Router.Disconnect(ctx, c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Log.Debug().Err(err).Str("conn", c.ID).Msg("read error")
			}
			break
		}

		var ev models.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			// Malformed frame: protocol violation, connection stays open.
			c.Log.Debug().Err(err).Str("conn", c.ID).Msg("malformed frame")
			sendError(c, "malformed payload")
			continue
		}

		// Inline dispatch keeps this connection's events strictly ordered.
		c.Router.Dispatch(ctx, c, ev)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Out:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				c.Log.Error().Err(err).Str("conn", c.ID).Msg("encode event")
				continue
			}
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)

			// Batch whatever else is already queued into the same frame.
			n := len(c.Out)
			for i := 0; i < n; i++ {
				next, ok := <-c.Out
				if !ok {
					w.Close()
					c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				extra, err := json.Marshal(next)
				if err != nil {
					c.Log.Error().Err(err).Str("conn", c.ID).Msg("encode event")
					continue
				}
				w.Write(newline)
				w.Write(extra)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
