package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrUnauthorized is returned by Connect when the server rejects the
// handshake with an auth failure. Callers treat it as non-retryable.
var ErrUnauthorized = errors.New("websocket handshake unauthorized")

// Client is a single-use WebSocket connection. It never reconnects on
// its own; when a read fails the owner decides whether to build a new
// client. Close is safe to call at any point, including before Connect.
type Client struct {
	url     string
	headers map[string]string

	handshakeTimeout time.Duration
	readTimeout      time.Duration
	writeTimeout     time.Duration
	maxMessageBytes  int64

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

type Options struct {
	Headers          map[string]string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageBytes  int64
}

func NewClient(url string, opts Options) *Client {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Client{
		url:              url,
		headers:          opts.Headers,
		handshakeTimeout: opts.HandshakeTimeout,
		readTimeout:      opts.ReadTimeout,
		writeTimeout:     opts.WriteTimeout,
		maxMessageBytes:  opts.MaxMessageBytes,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, c.httpHeaders())
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("dial %s: status %d: %w", c.url, resp.StatusCode, ErrUnauthorized)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	if c.maxMessageBytes > 0 {
		conn.SetReadLimit(c.maxMessageBytes)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	c.conn = conn
	return nil
}

func (c *Client) httpHeaders() http.Header {
	headers := http.Header{}
	for key, value := range c.headers {
		headers.Set(key, value)
	}
	return headers
}

// Read returns the next message. The read deadline bounds how long a
// silent connection is trusted before it counts as dead.
func (c *Client) Read() ([]byte, error) {
	if c.conn == nil {
		return nil, errors.New("websocket is not connected")
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return nil, err
	}
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (c *Client) SendJSON(v interface{}) error {
	if c.conn == nil {
		return errors.New("websocket is not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) Ping() error {
	if c.conn == nil {
		return errors.New("websocket is not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a close frame when possible and tears the connection down.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.conn == nil {
			return
		}
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	})
}
