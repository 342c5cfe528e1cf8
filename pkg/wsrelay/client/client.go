package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when the client has no open connection.
var ErrNotConnected = errors.New("client is not connected")

// Client sends and receives relay text messages over one connection.
type Client struct {
	url         string
	logger      *zap.Logger
	dialTimeout time.Duration
	readLimit   int64
	headers     http.Header

	mu   sync.Mutex
	conn *websocket.Conn
}

// Connect dials the relay.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("client is already connected")
	}

	if _, err := url.Parse(c.url); err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPHeader: c.headers,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	conn.SetReadLimit(c.readLimit)

	c.conn = conn
	c.logger.Info("Relay client connected", zap.String("url", c.url))
	return nil
}

func (c *Client) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Send writes one text message.
func (c *Client) Send(ctx context.Context, text string) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Receive blocks until the next text message arrives. Non-text messages are
// skipped. If the relay closes the connection the error satisfies IsClosed.
func (c *Client) Receive(ctx context.Context) (string, error) {
	conn, err := c.current()
	if err != nil {
		return "", err
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return "", err
		}
		if typ == websocket.MessageText {
			return string(data), nil
		}
		c.logger.Debug("Skipping non-text message", zap.Stringer("type", typ))
	}
}

// IsClosed reports whether err means the relay closed the connection with a
// close frame.
func IsClosed(err error) bool {
	return websocket.CloseStatus(err) != -1
}

// Disconnect performs the closing handshake and releases the connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.logger.Debug("Disconnecting relay client")
	if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}
