package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pillama/bridge/internal/protocol"
)

// Dispatcher receives decoded backend events. The correlator implements it;
// the manager never interprets events beyond wire decoding.
type Dispatcher interface {
	// Dispatch routes one decoded inbound event.
	Dispatch(ev protocol.Event)

	// CancelAll resolves every in-flight request with reason. Called when
	// the connection is lost or closed.
	CancelAll(reason error)
}

// Manager owns the lifecycle of the single persistent backend connection:
// open, detect loss, reconnect with backoff, close.
type Manager struct {
	cfg        ManagerConfig
	logger     *slog.Logger
	dispatcher Dispatcher

	// newClient is swapped out by tests for a fake transport.
	newClient func(ClientConfig, *slog.Logger) Client

	mu           sync.Mutex
	state        State
	client       Client
	gen          int // bumped per installed client; stale read loops check it
	done         chan struct{}
	reconnecting bool

	subsMu sync.Mutex
	subs   []chan State

	wg sync.WaitGroup
}

// NewManager creates a connection manager. The dispatcher must not be nil.
func NewManager(cfg ManagerConfig, dispatcher Dispatcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:        cfg,
		logger:     logger.With("component", "connection"),
		dispatcher: dispatcher,
		newClient:  NewClient,
	}
}

// Open establishes the persistent connection. It returns once the transport
// reports ready, or ErrConnectFailed if the backend cannot be reached.
// Opening an already-open connection is a no-op.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateOpen:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		m.mu.Unlock()
		return fmt.Errorf("%w: connect already in progress", ErrConnectFailed)
	case StateClosing:
		m.mu.Unlock()
		return fmt.Errorf("%w: connection is closing", ErrConnectFailed)
	}
	if m.reconnecting {
		m.mu.Unlock()
		return fmt.Errorf("%w: automatic reconnect in progress", ErrConnectFailed)
	}
	// Transition and session setup in the same critical section as the
	// state check, so concurrent Open calls cannot both pass it and
	// install two clients.
	m.state = StateConnecting
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.notify(StateConnecting)

	c := m.newClient(m.clientConfig(), m.logger)
	if err := c.Connect(ctx); err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	m.install(c)
	m.logger.Info("backend connection open", "url", m.cfg.URL)
	return nil
}

// Close tears down the transport and suppresses further reconnection.
// All in-flight requests are cancelled.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosing || (m.state == StateDisconnected && m.done == nil) {
		m.mu.Unlock()
		return nil
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	c := m.client
	m.client = nil
	m.gen++
	m.mu.Unlock()

	m.setState(StateClosing)

	if c != nil {
		c.Close()
	}
	m.dispatcher.CancelAll(ErrConnectionClosed)

	m.wg.Wait()
	m.setState(StateDisconnected)

	m.logger.Info("backend connection closed")
	return nil
}

// Send writes a request frame to the transport. Fails immediately with
// ErrNotConnected while the connection is not open; no queuing.
func (m *Manager) Send(req protocol.Request) error {
	m.mu.Lock()
	state := m.state
	c := m.client
	m.mu.Unlock()

	if state != StateOpen || c == nil {
		return fmt.Errorf("%w: connection is %s", ErrNotConnected, state)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request frame: %w", err)
	}
	if err := c.Send(data); err != nil {
		return fmt.Errorf("send request frame: %w", err)
	}
	return nil
}

// IsOpen is a non-blocking state query.
func (m *Manager) IsOpen() bool {
	return m.State() == StateOpen
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SubscribeState returns a channel receiving state transitions. Slow
// subscribers miss intermediate transitions rather than blocking the
// manager.
func (m *Manager) SubscribeState() <-chan State {
	ch := make(chan State, 8)

	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()

	return ch
}

// install makes c the current client and starts its read loop.
func (m *Manager) install(c Client) {
	m.mu.Lock()
	m.client = c
	m.gen++
	gen := m.gen
	done := m.done
	m.mu.Unlock()

	m.setState(StateOpen)

	m.wg.Add(1)
	go m.readLoop(c, gen, done)
}

// readLoop decodes inbound frames and hands them to the dispatcher. On
// transport error it cancels all in-flight requests and starts the
// reconnect loop, unless this client has been superseded.
func (m *Manager) readLoop(c Client, gen int, done chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-done:
			return

		case err := <-c.Errors():
			m.mu.Lock()
			if m.gen != gen {
				// Superseded by Close or a newer connection.
				m.mu.Unlock()
				return
			}
			m.client = nil
			done := m.done
			m.mu.Unlock()

			m.logger.Warn("connection lost", "error", err)
			m.setState(StateDisconnected)
			m.dispatcher.CancelAll(ErrConnectionLost)

			c.Close()

			m.mu.Lock()
			m.reconnecting = true
			m.mu.Unlock()

			m.wg.Add(1)
			go m.reconnect(done)
			return

		case data, ok := <-c.Messages():
			if !ok {
				return
			}

			ev, err := protocol.DecodeEvent(data)
			if err != nil {
				m.logger.Warn("discarding undecodable frame", "error", err)
				continue
			}
			m.dispatcher.Dispatch(ev)
		}
	}
}

// reconnect retries the connection with exponential backoff until it
// succeeds, the attempt cap is reached, or the manager is closed. After the
// cap the state stays disconnected until Open is called again explicitly.
func (m *Manager) reconnect(done chan struct{}) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		delay := Backoff(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, attempt)

		select {
		case <-done:
			return
		case <-time.After(delay):
		}

		m.setState(StateConnecting)
		m.logger.Info("attempting reconnection",
			"attempt", attempt,
			"max_attempts", m.cfg.MaxReconnectAttempts,
			"waited", delay,
		)

		c := m.newClient(m.clientConfig(), m.logger)
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
		err := c.Connect(ctx)
		cancel()

		if err != nil {
			m.logger.Warn("reconnection failed", "attempt", attempt, "error", err)
			m.setState(StateDisconnected)
			continue
		}

		// Closed while dialing: discard the fresh connection.
		select {
		case <-done:
			c.Close()
			return
		default:
		}

		m.install(c)
		m.logger.Info("reconnected", "attempt", attempt)
		return
	}

	m.logger.Error("reconnect attempts exhausted, giving up",
		"attempts", m.cfg.MaxReconnectAttempts,
	)
	m.setState(StateDisconnected)
}

// setState records a transition and notifies subscribers.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.notify(s)
}

// notify fans a transition out to subscribers without blocking.
func (m *Manager) notify(s State) {
	m.subsMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
	m.subsMu.Unlock()
}

func (m *Manager) clientConfig() ClientConfig {
	return ClientConfig{
		URL:              m.cfg.URL,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.MessageBufferSize,
	}
}
