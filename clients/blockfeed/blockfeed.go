// Package blockfeed maintains a reconnecting websocket subscription to the
// GalaChain explorer block stream.
package blockfeed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gswapcopy/internal/domain"
	"gswapcopy/internal/health"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrReconnectExhausted is returned by Run when the feed cannot be
// re-established within the configured number of attempts.
var ErrReconnectExhausted = errors.New("block feed: reconnect attempts exhausted")

// Config configures the feed client.
type Config struct {
	URL                  string
	Topic                string
	ReconnectBaseDelay   time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	HeartbeatTimeout     time.Duration
	PingInterval         time.Duration
	WriteTimeout         time.Duration
}

// DefaultConfig returns the explorer defaults.
func DefaultConfig() Config {
	return Config{
		URL:                  "wss://explorer-api.galachain.com/socket",
		Topic:                "blocks",
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		HeartbeatTimeout:     60 * time.Second,
		PingInterval:         20 * time.Second,
		WriteTimeout:         10 * time.Second,
	}
}

// EventType names a lifecycle signal.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventDisconnected     EventType = "disconnected"
	EventError            EventType = "error"
	EventBlock            EventType = "block"
	EventHeartbeatTimeout EventType = "heartbeat_timeout"
)

// Event is a lifecycle signal. Delivery is best effort.
type Event struct {
	Type        EventType
	At          time.Time
	Err         error
	BlockNumber uint64
	Attempt     int
	Delay       time.Duration
}

// Stats is a point-in-time view of the feed.
type Stats struct {
	Connected        bool      `json:"connected"`
	MessagesReceived uint64    `json:"messages_received"`
	BlocksReceived   uint64    `json:"blocks_received"`
	DecodeErrors     uint64    `json:"decode_errors"`
	Reconnects       uint64    `json:"reconnects"`
	LastMessageAt    time.Time `json:"last_message_at"`
	LastBlockAt      time.Time `json:"last_block_at"`
	LastBlockNumber  uint64    `json:"last_block_number"`
}

// Client streams blocks from the explorer.
type Client struct {
	logger *zap.Logger
	cfg    Config
	dialer *websocket.Dialer

	blocks chan domain.Block
	events chan Event

	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}

	connMu sync.Mutex
	conn   *websocket.Conn

	connected       atomic.Bool
	msgCount        atomic.Uint64
	blockCount      atomic.Uint64
	decodeErrors    atomic.Uint64
	reconnects      atomic.Uint64
	lastMsgUnixNano atomic.Int64
	lastBlkUnixNano atomic.Int64
	lastBlockNumber atomic.Uint64
}

// NewClient creates a feed client. Zero config fields take defaults.
func NewClient(logger *zap.Logger, cfg Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = d.URL
	}
	if cfg.Topic == "" {
		cfg.Topic = d.Topic
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectBaseDelay {
		cfg.MaxReconnectDelay = max(d.MaxReconnectDelay, cfg.ReconnectBaseDelay)
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}

	return &Client{
		logger:  logger.Named("blockfeed"),
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		blocks:  make(chan domain.Block, 64),
		events:  make(chan Event, 64),
		closeCh: make(chan struct{}),
	}
}

// Blocks delivers decoded blocks in arrival order.
func (c *Client) Blocks() <-chan domain.Block {
	return c.blocks
}

// Events delivers lifecycle signals. Signals are dropped when nobody reads.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Run connects and keeps the subscription alive until ctx is cancelled or
// Close is called, in which case it returns nil. It returns an error
// wrapping ErrReconnectExhausted after MaxReconnectAttempts consecutive
// failed attempts.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempt := 0
	for {
		subscribed, err := c.session(ctx)
		if c.stopped(ctx) {
			c.logger.Info("block feed stopped")
			return nil
		}

		if subscribed {
			attempt = 0
		}
		c.emit(Event{Type: EventDisconnected, Err: err})
		if err != nil {
			c.emit(Event{Type: EventError, Err: err})
		}

		attempt++
		if attempt > c.cfg.MaxReconnectAttempts {
			c.logger.Error("block feed reconnect attempts exhausted",
				zap.Int("attempts", c.cfg.MaxReconnectAttempts),
				zap.Error(err),
			)
			return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, c.cfg.MaxReconnectAttempts, err)
		}

		delay := health.Backoff(c.cfg.ReconnectBaseDelay, c.cfg.MaxReconnectDelay, attempt)
		c.reconnects.Add(1)
		c.logger.Warn("block feed disconnected, reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *Client) stopped(ctx context.Context) bool {
	return c.closed.Load() || ctx.Err() != nil
}

// session runs one connection until it fails. subscribed reports whether
// the subscribe message was sent.
func (c *Client) session(ctx context.Context) (subscribed bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial block feed: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		_ = conn.Close()
		c.connected.Store(false)
	}()

	sub := map[string]string{"event": "subscribe", "topic": c.cfg.Topic}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("send subscription: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	c.connected.Store(true)
	c.logger.Info("block feed subscribed",
		zap.String("url", c.cfg.URL),
		zap.String("topic", c.cfg.Topic),
	)
	c.emit(Event{Type: EventConnected})

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.emit(Event{Type: EventHeartbeatTimeout, Err: err})
				return true, health.NewError(health.CategoryExternalFeed, "heartbeat", fmt.Errorf("no frames for %s: %w", c.cfg.HeartbeatTimeout, err))
			}
			return true, fmt.Errorf("read block feed: %w", err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout))
		c.handleFrame(ctx, b)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("block feed ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, b []byte) {
	c.msgCount.Add(1)
	c.lastMsgUnixNano.Store(time.Now().UnixNano())

	if s := string(b); s == "ping" || s == "pong" || s == "PING" || s == "PONG" {
		return
	}

	blocks, ok, err := decodeFrame(c.cfg.Topic, b)
	if err != nil {
		c.decodeErrors.Add(1)
		c.logger.Warn("block feed bad frame", zap.Error(err), zap.Int("bytes", len(b)))
		c.emit(Event{Type: EventError, Err: err})
		return
	}
	if !ok {
		return
	}

	for _, blk := range blocks {
		c.blockCount.Add(1)
		c.lastBlkUnixNano.Store(time.Now().UnixNano())
		c.lastBlockNumber.Store(blk.Number)
		c.emit(Event{Type: EventBlock, BlockNumber: blk.Number})

		select {
		case c.blocks <- blk:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case c.events <- e:
	default:
	}
}

// Stats returns the current feed statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Connected:        c.connected.Load(),
		MessagesReceived: c.msgCount.Load(),
		BlocksReceived:   c.blockCount.Load(),
		DecodeErrors:     c.decodeErrors.Load(),
		Reconnects:       c.reconnects.Load(),
		LastMessageAt:    unixNano(c.lastMsgUnixNano.Load()),
		LastBlockAt:      unixNano(c.lastBlkUnixNano.Load()),
		LastBlockNumber:  c.lastBlockNumber.Load(),
	}
}

// LastBlockAt returns when the last block was delivered, or zero.
func (c *Client) LastBlockAt() time.Time {
	return unixNano(c.lastBlkUnixNano.Load())
}

func unixNano(ns int64) time.Time {
	if ns <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Close stops the client without triggering a reconnect.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.closeOnce.Do(func() { close(c.closeCh) })

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
