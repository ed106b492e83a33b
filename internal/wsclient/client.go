// Package wsclient is a resilient, reconnecting WebSocket transport shared
// by every venue feed. It fans inbound messages out to subscribers, retries
// dials with jittered exponential backoff, and optionally sends a periodic
// ping frame (Polymarket requires one every 5s).
package wsclient

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caesar-terminal/lobcapture/internal/backoff"
)

// ConnState mirrors whether the underlying connection is currently healthy,
// as reported by Client.State.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnected
)

// Config holds tunable parameters for a Client.
type Config struct {
	URL string

	ReadBufferSize  int
	WriteBufferSize int

	// IdleTimeout is the maximum duration of silence before the client
	// considers the connection dead and triggers a reconnect.
	IdleTimeout time.Duration

	// PingInterval, if non-zero, sends a text ping frame on this cadence.
	// Polymarket requires a ping every 5s; Kalshi does not, so its feed
	// leaves this at zero.
	PingInterval time.Duration
	PingPayload  []byte

	Backoff backoff.Policy

	// Headers sent during the WebSocket handshake (Kalshi auth headers).
	Headers http.Header
}

// DefaultConfig returns defaults tuned for market-data feeds: 30s idle
// timeout, no ping (callers opt in per-venue), default backoff policy.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		IdleTimeout:     30 * time.Second,
		Backoff:         backoff.DefaultPolicy(),
	}
}

// Client is a resilient WebSocket connection manager: automatic reconnect
// with backoff, idle-timeout detection, and fan-out to subscribers.
type Client struct {
	cfg Config

	state atomic.Int32

	mu   sync.RWMutex
	conn *websocket.Conn

	subMu sync.RWMutex
	subs  []chan []byte

	outbox chan []byte

	cancel context.CancelFunc
	done   chan struct{}

	// onReconnect is invoked after each successful reconnection. The venue
	// feeds register a callback that only logs the recovery; subscriptions
	// sent before the drop are not re-sent on the new connection.
	onReconnect func()
}

// New creates a Client. Call Connect to start.
func New(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		outbox: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// OnReconnect registers a callback invoked after every successful
// reconnection (including the initial connect is NOT included; only
// subsequent recoveries). Must be called before Connect.
func (c *Client) OnReconnect(fn func()) {
	c.onReconnect = fn
}

// State returns whether the client currently believes it is connected.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// Subscribe returns a channel receiving a copy of every inbound message.
// The caller must drain it to avoid blocking other subscribers.
func (c *Client) Subscribe() <-chan []byte {
	ch := make(chan []byte, 512)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

// Send enqueues a message for delivery over the connection.
func (c *Client) Send(data []byte) {
	select {
	case c.outbox <- data:
	default:
		log.Printf("wsclient: outbox full, dropping message (%d bytes)", len(data))
	}
}

// Connect dials the endpoint and starts the read/write/ping loops. It
// blocks until the initial connection succeeds or ctx is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.dial(ctx); err != nil {
		return err
	}
	c.state.Store(int32(StateConnected))

	go c.readLoop(ctx)
	go c.writeLoop(ctx)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(ctx)
	}

	return nil
}

// Close shuts down the client and all subscriber channels.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	c.subMu.RLock()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subMu.RUnlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Done is closed when the client has fully shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		ReadBufferSize:  c.cfg.ReadBufferSize,
		WriteBufferSize: c.cfg.WriteBufferSize,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// reconnect loops with jittered exponential backoff until reconnected or ctx
// is cancelled.
func (c *Client) reconnect(ctx context.Context) bool {
	c.state.Store(int32(StateDisconnected))
	seq := backoff.NewSequence(c.cfg.Backoff)

	for {
		delay := seq.Next()
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := c.dial(ctx); err != nil {
			log.Printf("wsclient: reconnect failed: %v (retry in %v)", err, delay)
			continue
		}

		c.state.Store(int32(StateConnected))
		if c.onReconnect != nil {
			c.onReconnect()
		}
		return true
	}
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if c.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("wsclient: read error (triggering reconnect): %v", err)
			conn.Close()
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		c.fanOut(msg)
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.outbox:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("wsclient: write error: %v", err)
			}
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Send(c.cfg.PingPayload)
		}
	}
}

func (c *Client) fanOut(msg []byte) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- msg:
		default:
			// Slow consumer — drop to avoid head-of-line blocking.
		}
	}
}
