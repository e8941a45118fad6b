package ws

import (
	"context"
	"sync"
	"time"

	"anoa.com/notifyhub/internal/realtime"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// client is one websocket session. Only writePump writes to conn; every
// other goroutine hands frames over through send.
type client struct {
	id   string
	conn *websocket.Conn
	opts Options

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

var _ realtime.Conn = (*client)(nil)

func newClient(conn *websocket.Conn, opts Options, logger zerolog.Logger) *client {
	id := uuid.NewString()
	return &client{
		id:     id,
		conn:   conn,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		logger: logger.With().Str("conn_id", id).Logger(),
	}
}

func (c *client) ID() string { return c.id }

// Send queues payload for the write pump. Free buffer space always wins
// over an ended ctx; a full buffer waits until ctx ends and then reports
// the client as a slow consumer.
func (c *client) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return realtime.ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return realtime.ErrConnectionClosed
	case <-ctx.Done():
		return realtime.ErrSlowConsumer
	}
}

// Close stops the write pump, which sends a close frame and releases the
// socket. Safe to call more than once.
func (c *client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(c.opts.WriteWait),
			)
			return
		}
	}
}

// readPump delivers each inbound text frame to handle until the peer goes
// away, a pong is missed, or the client is closed.
func (c *client) readPump(handle func(raw []byte)) {
	pongWait := c.opts.pongWait()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		handle(raw)
	}
}
