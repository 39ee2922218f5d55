// Package transport implements the caller side of the bridge: a Twilio Media
// Streams WebSocket connection.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	realtimebridge "github.com/agentplexus/twilio-realtime-bridge"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultEventBuffer  = 64
	defaultReadLimit    = 1 << 20
)

// Option configures a Conn.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	writeTimeout time.Duration
	eventBuffer  int
	readLimit    int64
}

// WithLogger sets the logger used for connection-level diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithWriteTimeout bounds each outbound frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithEventBuffer sets the capacity of the inbound event channel.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		o.eventBuffer = n
	}
}

// WithReadLimit sets the maximum inbound frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		o.readLimit = n
	}
}

func buildOptions(opts []Option) *options {
	cfg := &options{
		writeTimeout: defaultWriteTimeout,
		eventBuffer:  defaultEventBuffer,
		readLimit:    defaultReadLimit,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.eventBuffer < 0 {
		cfg.eventBuffer = 0
	}
	return cfg
}

// Conn is one Twilio Media Streams connection.
//
// Inbound frames are decoded on a dedicated read goroutine and delivered in
// receipt order on Events. The channel is closed when the socket closes.
type Conn struct {
	ws     *websocket.Conn
	cfg    *options
	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu      sync.RWMutex
	closed  bool
	readErr error
}

// Accept upgrades an HTTP request from Twilio to a Media Streams connection
// and starts reading from it.
func Accept(w http.ResponseWriter, r *http.Request, opts ...Option) (*Conn, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return NewConn(ws, opts...), nil
}

// NewConn wraps an established WebSocket and starts its read loop.
func NewConn(ws *websocket.Conn, opts ...Option) *Conn {
	cfg := buildOptions(opts)
	if cfg.readLimit > 0 {
		ws.SetReadLimit(cfg.readLimit)
	}

	c := &Conn{
		ws:     ws,
		cfg:    cfg,
		events: make(chan Event, cfg.eventBuffer),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events returns the inbound event sequence for this connection.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// RemoteAddr returns the remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// Err returns the error that ended the read loop, or nil after a normal close.
func (c *Conn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readErr
}

// SendMedia writes one outbound audio frame. payload is base64 μ-law audio.
func (c *Conn) SendMedia(streamSID, payload string) error {
	return c.write(outboundMessage{
		Event:     realtimebridge.TwilioEventMedia,
		StreamSID: streamSID,
		Media:     &outboundPayload{Payload: payload},
	})
}

// SendMark sends a mark message; Twilio echoes it back once the audio sent
// before it has been played to the caller.
func (c *Conn) SendMark(streamSID, name string) error {
	return c.write(outboundMessage{
		Event:     realtimebridge.TwilioEventMark,
		StreamSID: streamSID,
		Mark:      &markMessage{Name: name},
	})
}

// SendClear discards any audio Twilio has buffered but not yet played.
func (c *Conn) SendClear(streamSID string) error {
	return c.write(outboundMessage{
		Event:     realtimebridge.TwilioEventClear,
		StreamSID: streamSID,
	})
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.writeTimeout),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// ErrClosed is returned when writing to a closed connection.
var ErrClosed = errors.New("media stream connection closed")

func (c *Conn) write(msg outboundMessage) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", msg.Event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", msg.Event, err)
	}
	return nil
}

// readLoop reads messages from the WebSocket until it closes.
func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.readErr = err
			}
			c.mu.Unlock()
			return
		}

		ev, err := Decode(data)
		if err != nil {
			ev = InvalidEvent{Raw: data, Err: err}
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
