// Package firehose maintains a resilient WebSocket subscription to the
// AT Protocol firehose: it decodes frames, tracks the last sequence
// number for resumption, and enforces a watchdog timeout on liveness.
package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyfeed-dev/skyfeed/internal/frame"
	"github.com/skyfeed-dev/skyfeed/internal/metrics"
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithWatchdogTimeout overrides the default 60s watchdog timeout.
func WithWatchdogTimeout(d time.Duration) Option {
	return func(c *Client) { c.watchdogTimeout = d }
}

// WithReconnectDelay overrides the default minimum sleep between
// reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// WithDialer overrides the websocket dialer, primarily for tests.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client is a subscription to wss://<host>/xrpc/com.atproto.sync.subscribeRepos.
// It is safe to call Start once; Stop and the watchdog method may be
// called concurrently with the running subscription.
type Client struct {
	host            string
	dialer          *websocket.Dialer
	watchdogTimeout time.Duration
	reconnectDelay  time.Duration

	mu             sync.Mutex
	lastSeq        int64
	haveSeq        bool
	lastReceivedAt time.Time
	haveFirstFrame bool
	conn           *websocket.Conn

	stop chan struct{}
}

// NewClient creates a subscription client against host (e.g.
// "bsky.network"), optionally starting from cursor if cursor >= 0.
func NewClient(host string, cursor int64, opts ...Option) *Client {
	c := &Client{
		host:            host,
		dialer:          websocket.DefaultDialer,
		watchdogTimeout: 60 * time.Second,
		reconnectDelay:  1 * time.Second,
		stop:            make(chan struct{}),
	}
	if cursor >= 0 {
		c.lastSeq = cursor
		c.haveSeq = true
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LastSeq returns the most recently observed sequence number.
func (c *Client) LastSeq() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq, c.haveSeq
}

func (c *Client) dialURL() string {
	u := url.URL{Scheme: "wss", Host: c.host, Path: "/xrpc/com.atproto.sync.subscribeRepos"}
	c.mu.Lock()
	seq, have := c.lastSeq, c.haveSeq
	c.mu.Unlock()
	if have {
		q := u.Query()
		q.Set("cursor", strconv.FormatInt(seq, 10))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Stop closes the subscription and terminates Start's goroutine.
func (c *Client) Stop() {
	close(c.stop)
}

// Watchdog is a caller-facing polling method: if the time since the
// last received frame exceeds the configured timeout, it returns true,
// signaling the caller should tear down and restart this client (with
// LastSeq preserved) via a fresh NewClient. It never fires before the
// first frame arrives.
func (c *Client) Watchdog() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveFirstFrame {
		return false
	}
	return time.Since(c.lastReceivedAt) > c.watchdogTimeout
}

func (c *Client) noteFrameReceived() {
	c.mu.Lock()
	c.lastReceivedAt = time.Now()
	c.haveFirstFrame = true
	c.mu.Unlock()
}

func (c *Client) noteSeq(seq int64) {
	c.mu.Lock()
	c.lastSeq = seq
	c.haveSeq = true
	c.mu.Unlock()
	metrics.FirehoseLastSeq.Set(float64(seq))
}

// Start connects and delivers decoded events on the returned channel
// until ctx is canceled or Stop is called. Network errors are retried
// indefinitely with a flat minimum sleep between attempts (no
// exponential backoff, per spec.md §4.5); malformed individual frames
// are logged and skipped without tearing down the connection.
func (c *Client) Start(ctx context.Context) <-chan frame.Event {
	out := make(chan frame.Event)
	go c.run(ctx, out)
	return out
}

func (c *Client) run(ctx context.Context, out chan<- frame.Event) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		conn, _, err := c.dialer.Dial(c.dialURL(), nil)
		if err != nil {
			slog.Warn("firehose: dial failed, retrying", "error", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		metrics.FirehoseReconnects.Inc()
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		if !c.readLoop(ctx, conn, out) {
			return
		}
		// readLoop returned due to a connection error; loop back to
		// redial with cursor=lastSeq.
		if !c.sleep(ctx) {
			return
		}
	}
}

// readLoop reads frames from conn until it errs or the context/stop
// signal fires. It returns false if the caller should stop entirely,
// true if it should reconnect.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- frame.Event) bool {
	defer conn.Close()
	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			msgs <- data
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.stop:
			return false
		case err := <-readErr:
			slog.Warn("firehose: read error, reconnecting", "error", err)
			return true
		case data := <-msgs:
			c.handleMessage(data, out, ctx)
		}
	}
}

func (c *Client) handleMessage(data []byte, out chan<- frame.Event, ctx context.Context) {
	ev, err := frame.Decode(data)
	switch {
	case err == nil:
		c.noteFrameReceived()
		if seq, ok := ev.Seq(); ok {
			c.noteSeq(seq)
		}
		if ev.Info != nil && ev.Info.Name == frame.OutdatedCursorInfoName {
			slog.Warn("firehose: received OutdatedCursor info frame, resetting cursor")
			c.mu.Lock()
			c.haveSeq = false
			c.mu.Unlock()
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		case <-c.stop:
		}
	case err == frame.ErrProtocolFrame:
		slog.Warn("firehose: protocol error frame received", "op", ev.Header.Op)
		c.noteFrameReceived()
	default:
		slog.Warn("firehose: malformed or unknown frame, skipping", "error", err)
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	d := c.reconnectDelay
	if d < time.Second {
		d = time.Second
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	case <-c.stop:
		return false
	}
}

// String is used in log lines and tests.
func (c *Client) String() string {
	return fmt.Sprintf("firehose.Client{host=%s}", c.host)
}
