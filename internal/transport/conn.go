package transport

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrClosed     = errors.New("connection closed")
	ErrBufferFull = errors.New("send buffer full")
)

// Peer is the view of a connection that rooms and routers hold. Send must
// never block; Close queues a close frame behind any pending messages.
type Peer interface {
	ID() string
	Send(msg []byte) error
	Close(code int, reason string) error
}

// Options tunes a Conn. Zero values fall back to the defaults below.
type Options struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 2 * o.PingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

type frame struct {
	data   []byte
	close  bool
	code   int
	reason string
}

// Conn wraps a websocket with a single reader and a single writer goroutine.
type Conn struct {
	id   string
	ws   *websocket.Conn
	opts Options
	log  *slog.Logger

	send chan frame
	done chan struct{}

	mu       sync.Mutex
	closing  bool
	stopOnce sync.Once
}

func NewConn(ws *websocket.Conn, opts Options, logger *slog.Logger) *Conn {
	opts = opts.withDefaults()
	id := uuid.New().String()
	return &Conn{
		id:   id,
		ws:   ws,
		opts: opts,
		log:  logger.With("conn_id", id),
		send: make(chan frame, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Done is closed once the underlying socket has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send enqueues a text frame without blocking.
func (c *Conn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrClosed
	}
	select {
	case c.send <- frame{data: msg}:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close queues a close frame after every frame already sent. Later sends
// fail with ErrClosed. Calling Close more than once is a no-op.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	select {
	case c.send <- frame{close: true, code: code, reason: reason}:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
	}
	// Outbound queue is saturated; the peer will see an abnormal closure.
	c.stop()
	return ErrBufferFull
}

func (c *Conn) stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
	})
}

// Serve starts the write pump and runs the read pump on the calling
// goroutine. It returns when the connection is gone; both pumps have exited
// or are exiting by then.
func (c *Conn) Serve(handle func(msg []byte)) error {
	go c.writePump()
	return c.readPump(handle)
}

func (c *Conn) readPump(handle func(msg []byte)) error {
	defer c.stop()

	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		handle(message)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.stop()
	}()

	for {
		select {
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if f.close {
				if err := c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(f.code, f.reason)); err != nil {
					c.log.Debug("ws.close.write_failed", "err", err)
				}
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, f.data); err != nil {
				c.log.Debug("ws.write_failed", "err", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ws.ping_failed", "err", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// Reject closes a freshly upgraded socket that never became a Conn.
func Reject(ws *websocket.Conn, code int, reason string, timeout time.Duration) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(timeout))
	_ = ws.Close()
}

// IsUnexpectedClose reports read errors worth logging above debug.
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}
