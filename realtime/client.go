// Package realtime implements the upstream side of the bridge: a WebSocket
// connection to the hosted realtime speech-to-speech API.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	realtimebridge "github.com/agentplexus/twilio-realtime-bridge"
)

// DefaultSettleDelay is how long a new connection waits before sending its
// session configuration.
const DefaultSettleDelay = 250 * time.Millisecond

// Config configures the realtime API client.
type Config struct {
	URL         string
	Model       string
	APIKey      string
	Session     SessionConfig
	SettleDelay time.Duration
	Logger      *slog.Logger
	Dialer      *websocket.Dialer
}

// Client opens realtime API connections. One connection is opened per call.
type Client struct {
	url         string
	model       string
	apiKey      string
	session     SessionConfig
	settleDelay time.Duration
	logger      *slog.Logger
	dialer      *websocket.Dialer
}

// NewClient creates a realtime API client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("realtime api key is required")
	}
	if cfg.URL == "" {
		cfg.URL = realtimebridge.DefaultRealtimeURL
	}
	if cfg.Model == "" {
		cfg.Model = realtimebridge.DefaultRealtimeModel
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dialer == nil {
		// No handshake timeout: a hung open stalls only this call.
		cfg.Dialer = &websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}

	return &Client{
		url:         cfg.URL,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		session:     cfg.Session,
		settleDelay: cfg.SettleDelay,
		logger:      cfg.Logger,
		dialer:      cfg.Dialer,
	}, nil
}

// Endpoint returns the WebSocket URL dialed for each call.
func (c *Client) Endpoint() string {
	u, err := url.Parse(c.url)
	if err != nil {
		return c.url
	}
	q := u.Query()
	q.Set("model", c.model)
	u.RawQuery = q.Encode()
	return u.String()
}

// Dial opens a connection. After the settle delay the connection sends
// exactly one session.update carrying the client's session configuration.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	ws, resp, err := c.dialer.DialContext(ctx, c.Endpoint(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime api: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime api: %w", err)
	}

	conn := newConn(ws, c.logger)
	conn.scheduleSessionUpdate(c.settleDelay, SessionUpdate{Session: c.session})
	return conn, nil
}

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("realtime connection closed")

// Conn is one realtime API connection.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	events chan ServerEvent
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu      sync.RWMutex
	closed  bool
	readErr error
	timer   *time.Timer
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	c := &Conn{
		ws:     ws,
		logger: logger,
		events: make(chan ServerEvent, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events returns the server event sequence. The channel is closed when the
// connection ends; Err then reports why.
func (c *Conn) Events() <-chan ServerEvent {
	return c.events
}

// Err returns the error that ended the read loop, or nil after a local close
// or a normal close from the server.
func (c *Conn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readErr
}

// Send writes one client event.
func (c *Conn) Send(ev ClientEvent) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.ClientEventType(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", ev.ClientEventType(), err)
	}
	return nil
}

// Close closes the connection immediately; pending sends are not drained.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.timer != nil {
			c.timer.Stop()
		}
		c.mu.Unlock()

		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) scheduleSessionUpdate(delay time.Duration, update SessionUpdate) {
	send := func() {
		if err := c.Send(update); err != nil {
			if !errors.Is(err, ErrClosed) {
				c.logger.Error("failed to send session update", "error", err)
			}
			return
		}
		c.logger.Debug("sent session update", "voice", update.Session.Voice)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.timer = time.AfterFunc(delay, send)
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
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
