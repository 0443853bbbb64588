package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-match/backend/internal/logging"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

var (
	ErrReconnectExhausted = errors.New("ws: reconnect attempts exhausted")
	ErrNotConnected       = errors.New("ws: not connected")
	errPongTimeout        = errors.New("ws: no pong within grace window")
)

// Dialer is satisfied by *websocket.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// ClientOptions 客户端参数
type ClientOptions struct {
	URL          string
	Header       http.Header
	Backoff      Backoff
	PingInterval time.Duration // 应用层 ping 间隔
	PongGrace    time.Duration // ping 之后等待 pong 的时间
	WriteTimeout time.Duration
	Dialer       Dialer
	Sleep        func(ctx context.Context, d time.Duration) error // nil 时使用可被 Close 打断的定时器
	OnEvent      func(chat.Event)
	OnConnect    func()
}

// Client keeps one logical stream alive across abnormal closures. A normal
// close, from either side, ends Run without reconnecting.
type Client struct {
	opts ClientOptions
	log  zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	gen  uint64

	writeMu  sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

// NewClient fills defaults for unset options.
func NewClient(opts ClientOptions) *Client {
	opts.Backoff = opts.Backoff.withDefaults()
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongGrace <= 0 {
		opts.PongGrace = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Client{
		opts: opts,
		log:  logging.Component("ws-client"),
		stop: make(chan struct{}),
	}
}

// Run connects and serves until a normal closure, Close, ctx cancellation
// or the reconnect budget is spent.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			attempt = 0
			if c.opts.OnConnect != nil {
				c.opts.OnConnect()
			}
			if err = c.serve(ctx, conn); err == nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.stopped() {
			return nil
		}

		attempt++
		if attempt > c.opts.Backoff.Attempts {
			return fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
		}
		delay := c.opts.Backoff.Delay(attempt)
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("connection lost, reconnecting")
		if err := c.wait(ctx, delay); err != nil {
			return err
		}
		if c.stopped() {
			return nil
		}
	}
}

// wait sleeps for d unless Close or ctx ends it first.
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if c.opts.Sleep != nil {
		return c.opts.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return nil
	case <-t.C:
		return nil
	}
}

// Send writes cmd on the current connection.
func (c *Client) Send(cmd chat.Command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if cmd.Timestamp == 0 {
		cmd.Timestamp = time.Now().UnixMilli()
	}
	return c.write(conn, cmd)
}

// Close ends the stream with a normal closure; Run will not reconnect.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	gen := c.adopt(conn)
	defer c.release(gen)

	readErr := make(chan error, 1)
	pong := make(chan struct{}, 1)
	go c.readLoop(gen, conn, readErr, pong)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	var (
		graceTimer *time.Timer
		grace      <-chan time.Time
	)
	defer func() {
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}()

	for {
		select {
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.Info().Msg("server closed the stream")
				return nil
			}
			return err
		case <-pong:
			if graceTimer != nil {
				graceTimer.Stop()
			}
			grace = nil
		case <-ticker.C:
			if err := c.write(conn, chat.Command{Type: chat.CommandPing, Timestamp: time.Now().UnixMilli()}); err != nil {
				_ = conn.Close()
				return err
			}
			if grace == nil {
				graceTimer = time.NewTimer(c.opts.PongGrace)
				grace = graceTimer.C
			}
		case <-grace:
			_ = conn.Close()
			return errPongTimeout
		case <-ctx.Done():
			c.goodbye(conn)
			return nil
		case <-c.stop:
			c.goodbye(conn)
			return nil
		}
	}
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn, errc chan<- error, pong chan<- struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		c.dispatch(gen, data, pong)
	}
}

// dispatch hands a frame to OnEvent unless gen has been superseded.
func (c *Client) dispatch(gen uint64, data []byte, pong chan<- struct{}) bool {
	if !c.current(gen) {
		c.log.Debug().Uint64("generation", gen).Msg("frame from superseded connection ignored")
		return false
	}
	var ev chat.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Warn().Err(err).Msg("undecodable frame")
		return false
	}
	if ev.Type == chat.EventPong {
		select {
		case pong <- struct{}{}:
		default:
		}
	}
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(ev)
	}
	return true
}

func (c *Client) adopt(conn *websocket.Conn) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.conn = conn
	return c.gen
}

func (c *Client) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.conn = nil
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return conn.WriteJSON(v)
}

func (c *Client) goodbye(conn *websocket.Conn) {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
	c.writeMu.Unlock()
	_ = conn.Close()
}
