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

var errNotConnected = errors.New("ws not connected")

// Client is a reconnecting websocket consumer. Subscriptions are
// replayed after every reconnect so callers never observe the gap.
type Client struct {
	url       string
	redial    time.Duration
	keepalive time.Duration
	log       *zap.Logger

	mu     sync.Mutex
	active *websocket.Conn
	replay [][]byte
}

func New(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	return &Client{url: url, redial: reconnectDelay, keepalive: pingInterval, log: log}
}

func (c *Client) Connect(ctx context.Context) error {
	_, err := c.attach(ctx)
	return err
}

// Subscribe records the subscription for replay and forwards it on the
// live connection. It fails before the first Connect; after that the
// recorded payload survives reconnects.
func (c *Client) Subscribe(ctx context.Context, sub interface{}) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.replay = append(c.replay, payload)
	conn := c.active
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

// Run consumes messages until ctx ends. Read failures drop the
// connection, wait one redial delay, and start over; only context
// cancellation gets back to the caller.
func (c *Client) Run(ctx context.Context, handler func(json.RawMessage)) error {
	for ctx.Err() == nil {
		conn, err := c.attach(ctx)
		if err == nil {
			err = c.consume(ctx, conn, handler)
		}
		if ctx.Err() != nil {
			break
		}
		c.noteDisconnect(err)
		c.drop(conn)
		select {
		case <-ctx.Done():
		case <-time.After(c.redial):
		}
	}
	return ctx.Err()
}

// attach returns the live connection, dialing and replaying recorded
// subscriptions when there is none.
func (c *Client) attach(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.active != nil {
		conn := c.active
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.active = conn
	pending := append([][]byte(nil), c.replay...)
	c.mu.Unlock()
	for _, payload := range pending {
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			c.drop(conn)
			return nil, err
		}
	}
	return conn, nil
}

// consume reads until the connection fails, keeping it alive with
// periodic pings in the background.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn, handler func(json.RawMessage)) error {
	stop := c.startKeepalive(ctx, conn)
	defer stop()
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

var pingPayload = []byte(`{"method":"ping"}`)

func (c *Client) startKeepalive(ctx context.Context, conn *websocket.Conn) func() {
	if c.keepalive <= 0 {
		return func() {}
	}
	pingCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.Write(pingCtx, websocket.MessageText, pingPayload); err != nil {
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (c *Client) noteDisconnect(err error) {
	if c.log == nil || err == nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.log.Info("ws closed", zap.Error(err))
		return
	}
	c.log.Warn("ws disconnected", zap.Error(err))
}

func (c *Client) drop(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	c.mu.Lock()
	if c.active == conn {
		c.active = nil
	}
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "reset")
}
