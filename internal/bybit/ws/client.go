package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Client maintains a single Bybit v5 stream connection. Subscriptions
// are remembered and replayed after every reconnect; private streams
// additionally authenticate before resubscribing.
type Client struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger
	authArgs       func() []any

	mu     sync.Mutex
	conn   *websocket.Conn
	topics []string
}

func New(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	return &Client{url: url, reconnectDelay: reconnectDelay, pingInterval: pingInterval, log: log}
}

// WithAuth makes the client send an auth op before replaying
// subscriptions. authArgs is called on every connect so the signature
// expiry stays fresh.
func (c *Client) WithAuth(authArgs func() []any) *Client {
	c.authArgs = authArgs
	return c
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 22)
	c.conn = conn
	if c.authArgs != nil {
		if err := writeJSON(ctx, conn, opMessage{Op: "auth", Args: c.authArgs()}); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "auth failed")
			c.conn = nil
			return err
		}
	}
	return nil
}

// Subscribe registers topics for replay and, when connected, sends the
// subscribe op immediately.
func (c *Client) Subscribe(ctx context.Context, topics ...string) error {
	c.mu.Lock()
	c.topics = append(c.topics, topics...)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	return writeJSON(ctx, conn, subscribeMessage(topics))
}

func (c *Client) Run(ctx context.Context, handler func(json.RawMessage)) error {
	for {
		if err := c.ensureConnected(ctx); err != nil {
			return err
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			c.pingLoop(pingCtx)
		}()
		err := c.readLoop(ctx, handler)
		cancel()
		<-pingDone
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logReadLoopError(err)
			c.resetConn()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.reconnectDelay):
			}
			continue
		}
	}
}

// ensureConnected dials when the connection is down and replays the
// remembered topics on the fresh connection. A connection that is
// already live keeps its subscriptions; replaying onto it would
// subscribe every topic twice.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	live := c.conn != nil
	c.mu.Unlock()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if live {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	topics := append([]string(nil), c.topics...)
	c.mu.Unlock()
	if len(topics) == 0 {
		return nil
	}
	return writeJSON(ctx, conn, subscribeMessage(topics))
}

func (c *Client) readLoop(ctx context.Context, handler func(json.RawMessage)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	interval := c.pingInterval
	c.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (c *Client) logReadLoopError(err error) {
	if c.log == nil {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("ws read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		c.log.Info("ws read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("ws read loop ended", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}

type opMessage struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

func subscribeMessage(topics []string) opMessage {
	args := make([]any, len(topics))
	for i, topic := range topics {
		args[i] = topic
	}
	return opMessage{Op: "subscribe", Args: args}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var pingMessage = opMessage{Op: "ping"}
