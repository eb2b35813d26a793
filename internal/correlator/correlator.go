package correlator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pillama/bridge/internal/protocol"
)

var (
	// ErrDuplicateRequestID means Register was called with an id that is
	// already in flight. Should be unreachable with UUID generation.
	ErrDuplicateRequestID = errors.New("duplicate request id")

	// ErrCancelled is delivered to every pending request when the
	// connection is lost or closed.
	ErrCancelled = errors.New("request cancelled")

	// ErrBackend wraps an explicit error event reported by the backend.
	ErrBackend = errors.New("backend error")
)

// Mode selects how a request's events are consumed.
type Mode int

const (
	// ModeUnary accumulates all events into a single result.
	ModeUnary Mode = iota

	// ModeStreaming delivers each event as it arrives.
	ModeStreaming
)

func (m Mode) String() string {
	switch m {
	case ModeUnary:
		return "unary"
	case ModeStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Update is one delivery to a pending request's sink. Err is non-nil only
// on a failed terminal delivery; Event is valid otherwise.
type Update struct {
	Event protocol.Event
	Err   error
}

// Terminal reports whether this update ends the request.
func (u Update) Terminal() bool {
	return u.Err != nil || u.Event.Terminal()
}

// PendingRequest tracks one in-flight logical request awaiting backend
// events. Exactly one terminal Update is delivered over its lifetime.
type PendingRequest struct {
	ID        string
	Mode      Mode
	CreatedAt time.Time

	updates    chan Update
	done       chan struct{}
	settleOnce sync.Once
}

// Updates returns the sink channel. Reads stop after the terminal Update.
func (p *PendingRequest) Updates() <-chan Update {
	return p.updates
}

// deliver sends an update unless the request has been abandoned.
func (p *PendingRequest) deliver(u Update) bool {
	select {
	case p.updates <- u:
		return true
	case <-p.done:
		return false
	}
}

// settle marks the request resolved, unblocking any in-progress delivery.
// Idempotent: the dispatcher and an abandoning consumer may race here.
func (p *PendingRequest) settle() {
	p.settleOnce.Do(func() { close(p.done) })
}

// Correlator routes inbound backend events to the pending request that
// originated them, keyed by request id. It is the only mutator of the
// pending registry.
type Correlator struct {
	logger     *slog.Logger
	bufferSize int

	mu      sync.Mutex
	pending map[string]*PendingRequest
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithBufferSize sets the per-request sink buffer.
func WithBufferSize(n int) Option {
	return func(c *Correlator) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// New creates a Correlator.
func New(logger *slog.Logger, opts ...Option) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Correlator{
		logger:     logger.With("component", "correlator"),
		bufferSize: 256,
		pending:    make(map[string]*PendingRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register records a new pending request for the given id.
func (c *Correlator) Register(id string, mode Mode) (*PendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequestID, id)
	}

	p := &PendingRequest{
		ID:        id,
		Mode:      mode,
		CreatedAt: time.Now(),
		updates:   make(chan Update, c.bufferSize),
		done:      make(chan struct{}),
	}
	c.pending[id] = p
	return p, nil
}

// Dispatch routes an event to the pending request matching its id. Token
// events keep the request alive; terminal events remove it first, so a
// request can never receive a second terminal delivery. Events with no
// matching request are dropped.
func (c *Correlator) Dispatch(ev protocol.Event) {
	if ev.Terminal() {
		p, ok := c.take(ev.RequestID)
		if !ok {
			c.logger.Warn("dropping event for unknown request",
				"request_id", ev.RequestID,
				"type", ev.Type,
			)
			return
		}

		u := Update{Event: ev}
		if ev.Kind() == protocol.KindError {
			u.Err = fmt.Errorf("%w: %s", ErrBackend, ev.Content)
		}
		p.deliver(u)
		p.settle()
		return
	}

	c.mu.Lock()
	p, ok := c.pending[ev.RequestID]
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("dropping event for unknown request",
			"request_id", ev.RequestID,
			"type", ev.Type,
		)
		return
	}
	p.deliver(Update{Event: ev})
}

// Release abandons a pending request without delivering anything, releasing
// its sink. Used when the caller gives up (HTTP client disconnect). Later
// events for the id are dropped by Dispatch.
//
// Release settles the request even when Dispatch has already taken it out
// of the registry: a terminal delivery may be blocked on the full sink of a
// consumer that just gave up, and settling here unblocks it.
func (c *Correlator) Release(p *PendingRequest) {
	c.take(p.ID)
	p.settle()
}

// CancelAll delivers a cancellation failure to every pending request and
// clears the registry. Called on connection loss or close so that no
// request is left permanently unresolved.
func (c *Correlator) CancelAll(reason error) {
	c.mu.Lock()
	cancelled := make([]*PendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		cancelled = append(cancelled, p)
	}
	c.pending = make(map[string]*PendingRequest)
	c.mu.Unlock()

	if len(cancelled) == 0 {
		return
	}

	c.logger.Info("cancelling pending requests",
		"count", len(cancelled),
		"reason", reason,
	)

	err := fmt.Errorf("%w: %v", ErrCancelled, reason)
	for _, p := range cancelled {
		p.deliver(Update{Err: err})
		p.settle()
	}
}

// Len returns the number of in-flight requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns the pending request for id, if registered.
func (c *Correlator) take(id string) (*PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return p, ok
}
