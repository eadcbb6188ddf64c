// Package wsclient keeps a viewer's websocket to the tracking service open,
// redialing with capped exponential backoff whenever it drops.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

const writeWait = 10 * time.Second

// ErrNotConnected is returned by Send while the client is between connections.
var ErrNotConnected = errors.New("websocket not connected")

// Options configures a Client.
type Options struct {
	URL        string // ws:// or wss:// endpoint, e.g. ws://localhost:3002/ws
	Token      string // session token; empty dials anonymously
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
}

// Client is a reconnecting websocket client. Callbacks run on the read goroutine.
type Client struct {
	opts   Options
	logger *logger.Logger

	// OnConnect runs after every successful dial, including reconnects.
	OnConnect func(ctx context.Context)
	OnEvent   func(ev contracts.WireEvent)
	OnAck     func(ack contracts.Ack)

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a client; call Run to connect.
func New(opts Options, logger *logger.Logger) *Client {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(30*time.Second, opts.MinBackoff)
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &Client{opts: opts, logger: logger}
}

// Run dials and reads until ctx is done, reconnecting after every drop.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn(ctx, "ws_dial_failed", "websocket dial failed; will retry", map[string]any{
				"error":   err.Error(),
				"backoff": backoff.String(),
			})
			if !sleepWithContext(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, c.opts.MaxBackoff)
			continue
		}
		backoff = c.opts.MinBackoff

		c.setConn(conn)
		c.logger.Info(ctx, "ws_connected", "websocket connected", map[string]any{"url": c.opts.URL})
		if c.OnConnect != nil {
			c.OnConnect(ctx)
		}

		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn(ctx, "ws_disconnected", "websocket dropped; reconnecting", map[string]any{"error": errString(err)})
		if !sleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
	}
}

// Send writes a control message on the current connection.
func (c *Client) Send(msg contracts.ControlMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, body)
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse websocket URL %q: %w", c.opts.URL, err)
	}

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s (status: %s): %w", u.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// unblock ReadMessage on shutdown
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.mu.Unlock()
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(ctx, message)
	}
}

func (c *Client) dispatch(ctx context.Context, message []byte) {
	var env contracts.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Warn(ctx, "ws_bad_message", "failed to decode server message", map[string]any{"error": err.Error()})
		return
	}

	switch env.Event {
	case contracts.AckJoined, contracts.AckLeft, contracts.AckJoinDenied, contracts.AckError:
		var ack contracts.Ack
		if err := json.Unmarshal(message, &ack); err != nil {
			return
		}
		if ack.Event == contracts.AckJoinDenied {
			c.logger.Warn(ctx, "ws_join_denied", "server denied a join", map[string]any{"topic": ack.Topic})
		}
		if c.OnAck != nil {
			c.OnAck(ack)
		}
	default:
		var ev contracts.WireEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			c.logger.Warn(ctx, "ws_bad_message", "failed to decode event", map[string]any{"error": err.Error()})
			return
		}
		if c.OnEvent != nil {
			c.OnEvent(ev)
		}
	}
}

// sleepWithContext waits for d or returns false if ctx is done first.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextBackoff doubles cur up to max.
func nextBackoff(cur, max time.Duration) time.Duration {
	n := cur * 2
	if n > max {
		return max
	}
	return n
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
