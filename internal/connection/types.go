package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// State is the connection lifecycle state. Exactly one per manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// TimestampedMessage wraps raw message data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when the read returned
}

// MessageHandler receives every raw inbound frame.
type MessageHandler func(msg TimestampedMessage)

// StateChangeHandler observes state machine transitions.
type StateChangeHandler func(old, new State)

// ErrorHandler receives transport faults. Faults are transient markers;
// the authoritative transition is driven by the close path.
type ErrorHandler func(err error)

// ClientConfig configures a single WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://localhost:8080/ws)
	HandshakeTimeout time.Duration // Dial handshake deadline
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL                  string        // WebSocket endpoint
	ReconnectInterval    time.Duration // Delay between automatic reconnect attempts
	MaxReconnectAttempts int           // Automatic recovery stops once reached
	HeartbeatInterval    time.Duration // Fire-and-forget JSON ping cadence
	ReconnectGuardDelay  time.Duration // Pause between Disconnect and Connect in Reconnect
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	BufferSize           int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectInterval:    3 * time.Second,
		MaxReconnectAttempts: 5,
		HeartbeatInterval:    30 * time.Second,
		ReconnectGuardDelay:  250 * time.Millisecond,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		BufferSize:           1024,
	}
}

// ManagerStats is a point-in-time view of the manager.
type ManagerStats struct {
	State          State
	RetryCount     int
	MessagesSeen   int64
	LastMessageAt  time.Time
	LastConnectAt  time.Time
	LastErrorValue string
}
