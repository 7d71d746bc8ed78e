package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single WebSocket connection to the push server.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection. Idempotent.
	Close() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Messages returns the channel of raw inbound frames.
	Messages() <-chan TimestampedMessage

	// Errors returns the channel of transport errors.
	Errors() <-chan error

	// IsConnected reports the current transport state.
	IsConnected() bool
}

// client implements the Client interface over gorilla/websocket.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the endpoint and starts the read loop.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	// Answer protocol-level pings; the JSON heartbeat lives in the manager.
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	go c.readLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return c.conn.Close()
	}
	return nil
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected reports the current transport state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads frames and feeds the messages channel until the
// connection drops or Close is called.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Errors after Close() are expected teardown noise.
			select {
			case <-c.done:
				return
			default:
				select {
				case c.errors <- err:
				default:
				}
				return
			}
		}

		msg := TimestampedMessage{Data: data, ReceivedAt: receivedAt}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping frame")
		}
	}
}
