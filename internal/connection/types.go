package connection

import (
	"errors"
	"time"
)

// State of the backend connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

var (
	// ErrConnectFailed means the transport could not be reached at open time.
	ErrConnectFailed = errors.New("connect failed")

	// ErrNotConnected means a send was attempted while the connection is
	// not open. Surfaced immediately; requests are never queued.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyClosed means the client was used after Close.
	ErrAlreadyClosed = errors.New("connection already closed")

	// ErrConnectionLost is the cancellation reason handed to the
	// dispatcher when the transport drops unexpectedly.
	ErrConnectionLost = errors.New("connection lost")

	// ErrConnectionClosed is the cancellation reason on caller-initiated
	// close.
	ErrConnectionClosed = errors.New("connection closed")
)

// ClientConfig holds settings for a single WebSocket client.
type ClientConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
}

// ManagerConfig holds settings for the connection manager.
type ManagerConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	MessageBufferSize int
}

// Backoff returns the delay applied before reconnect attempt n (1-based):
// base doubled per attempt, capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base > max {
		base = max
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	return d
}
