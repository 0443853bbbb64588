package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-match/backend/internal/logging"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

var (
	ErrClosed    = errors.New("ws: channel closed")
	ErrQueueFull = errors.New("ws: outbound queue full")
)

// Conn adapts one upgraded websocket to session.Channel. A single writer
// goroutine owns all writes; Send only enqueues.
type Conn struct {
	id   string
	ws   *websocket.Conn
	opts Options
	log  zerolog.Logger

	out      chan chat.Event
	closing  chan struct{}
	once     sync.Once
	code     int
	reason   string
	readDone chan struct{}
	done     chan struct{}
}

// NewConn wraps an upgraded connection and starts its writer.
func NewConn(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		id:       uuid.NewString(),
		ws:       ws,
		opts:     opts,
		out:      make(chan chat.Event, opts.QueueSize),
		closing:  make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.log = logging.Component("ws").With().Str("channel", c.id).Logger()
	go c.writeLoop()
	return c
}

// ID returns the channel identifier.
func (c *Conn) ID() string { return c.id }

// Done is closed once the underlying connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues ev. It never blocks.
func (c *Conn) Send(ev chat.Event) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.out <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close flushes queued events, then sends a close frame with code.
func (c *Conn) Close(code int, reason string) error {
	c.once.Do(func() {
		c.code, c.reason = code, reason
		close(c.closing)
	})
	return nil
}

// ReadLoop decodes inbound commands until the peer goes away. Malformed
// frames are answered with an error event and skipped.
func (c *Conn) ReadLoop(handle func(chat.Command)) error {
	defer close(c.readDone)
	defer c.Close(websocket.CloseGoingAway, "read closed")

	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-c.closing:
				return nil
			default:
			}
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		var cmd chat.Command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
			_ = c.Send(chat.NewEvent(chat.EventError, "", chat.ErrorNotice{Message: "malformed message"}))
			continue
		}
		handle(cmd)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case ev := <-c.out:
			if err := c.write(ev); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.closing:
			c.flush()
			return
		}
	}
}

// flush drains what is already queued and says goodbye.
func (c *Conn) flush() {
	for drained := false; !drained; {
		select {
		case ev := <-c.out:
			if err := c.write(ev); err != nil {
				return
			}
		default:
			drained = true
		}
	}
	msg := websocket.FormatCloseMessage(c.code, c.reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return
	}
	select {
	case <-c.readDone:
	case <-time.After(c.opts.CloseGrace):
	}
}

func (c *Conn) write(ev chat.Event) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteJSON(ev)
}
