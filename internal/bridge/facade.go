package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pillama/bridge/internal/connection"
	"github.com/pillama/bridge/internal/correlator"
	"github.com/pillama/bridge/internal/metrics"
	"github.com/pillama/bridge/internal/protocol"
	"github.com/pillama/bridge/internal/stream"
)

// Conn is the slice of the connection manager the façade needs.
type Conn interface {
	Send(req protocol.Request) error
	IsOpen() bool
}

// Params carries the caller-supplied request parameters.
type Params struct {
	Model       string
	Prompt      string
	Messages    []protocol.Message
	Temperature *float64
	MaxTokens   int
	Seed        *int
}

// Bridge is the request façade: it hides correlation and translation
// behind a request/response (unary) or request/sequence (streaming)
// contract. Each call issues an independent, separately-correlated
// request; no state is shared between calls.
type Bridge struct {
	conn    Conn
	reg     *correlator.Correlator
	logger  *slog.Logger
	metrics *metrics.Metrics

	// serial is non-nil when requests must be admitted one at a time
	// (backend does not echo request ids).
	serial chan struct{}

	// newID generates request ids; swapped in tests for determinism.
	newID func() string
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithSerializedRequests admits one in-flight request at a time.
func WithSerializedRequests() Option {
	return func(b *Bridge) { b.serial = make(chan struct{}, 1) }
}

// New creates a Bridge over an open connection manager and correlator.
func New(conn Conn, reg *correlator.Correlator, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		conn:   conn,
		reg:    reg,
		logger: logger.With("component", "bridge"),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// IsConnected reports whether the backend connection is open.
func (b *Bridge) IsConnected() bool {
	return b.conn.IsOpen()
}

// RunToCompletion issues a unary request and returns its aggregated result
// once the backend reports completion. Fails immediately with
// connection.ErrNotConnected when no connection is open.
func (b *Bridge) RunToCompletion(ctx context.Context, action protocol.Action, p Params) (stream.Result, error) {
	start := time.Now()

	pending, release, err := b.begin(ctx, action, p, correlator.ModeUnary)
	if err != nil {
		b.record(action, err, start)
		return stream.Result{}, err
	}
	defer release()

	res, err := stream.CollectUnary(ctx, pending.Updates())
	b.record(action, err, start)
	if err != nil {
		return stream.Result{}, err
	}
	if b.metrics != nil {
		b.metrics.Tokens.Add(float64(res.Stats.EvalCount))
	}
	return res, nil
}

// RunStreaming issues a streaming request, invoking onPartial for every
// frame as it is produced, and returns the terminal frame's stats.
func (b *Bridge) RunStreaming(ctx context.Context, action protocol.Action, p Params, onPartial func(stream.Frame) error) (protocol.Stats, error) {
	start := time.Now()

	pending, release, err := b.begin(ctx, action, p, correlator.ModeStreaming)
	if err != nil {
		b.record(action, err, start)
		return protocol.Stats{}, err
	}
	defer release()

	stats, err := stream.Stream(ctx, pending.Updates(), func(f stream.Frame) error {
		if b.metrics != nil && !f.Done {
			b.metrics.Tokens.Inc()
		}
		return onPartial(f)
	})
	b.record(action, err, start)
	return stats, err
}

// ListModels fetches the backend's model catalog.
func (b *Bridge) ListModels(ctx context.Context) ([]protocol.ModelSummary, error) {
	res, err := b.RunToCompletion(ctx, protocol.ActionListModels, Params{})
	if err != nil {
		return nil, err
	}

	var models []protocol.ModelSummary
	if len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, &models); err != nil {
			return nil, fmt.Errorf("decode model list: %w", err)
		}
	}
	return models, nil
}

// ShowModel fetches catalog details for one model.
func (b *Bridge) ShowModel(ctx context.Context, model string) (protocol.ModelInfo, error) {
	res, err := b.RunToCompletion(ctx, protocol.ActionModelInfo, Params{Model: model})
	if err != nil {
		return protocol.ModelInfo{}, err
	}

	var info protocol.ModelInfo
	if err := json.Unmarshal(res.Data, &info); err != nil {
		return protocol.ModelInfo{}, fmt.Errorf("decode model info: %w", err)
	}
	return info, nil
}

// ContextUsage reports the backend's current context token count.
func (b *Bridge) ContextUsage(ctx context.Context) (int, error) {
	res, err := b.RunToCompletion(ctx, protocol.ActionContextUsage, Params{})
	if err != nil {
		return 0, err
	}
	return res.Usage, nil
}

// begin registers a pending request and sends its frame. The returned
// release func abandons the registration (no-op if already resolved) and
// frees the serialization slot.
func (b *Bridge) begin(ctx context.Context, action protocol.Action, p Params, mode correlator.Mode) (*correlator.PendingRequest, func(), error) {
	if !b.conn.IsOpen() {
		return nil, nil, fmt.Errorf("%w: backend unavailable", connection.ErrNotConnected)
	}

	unlock := func() {}
	if b.serial != nil {
		select {
		case b.serial <- struct{}{}:
			unlock = func() { <-b.serial }
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	id := b.newID()
	pending, err := b.reg.Register(id, mode)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	if b.metrics != nil {
		b.metrics.InFlight.Inc()
	}

	release := func() {
		b.reg.Release(pending)
		if b.metrics != nil {
			b.metrics.InFlight.Dec()
		}
		unlock()
	}

	req := protocol.Request{
		RequestID:   id,
		Action:      action,
		Model:       p.Model,
		Prompt:      p.Prompt,
		Messages:    p.Messages,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Seed:        p.Seed,
		Stream:      mode == correlator.ModeStreaming,
	}

	b.logger.Debug("sending request",
		"request_id", id,
		"action", action,
		"mode", mode,
		"model", p.Model,
	)

	if err := b.conn.Send(req); err != nil {
		release()
		return nil, nil, err
	}
	return pending, release, nil
}

// record updates request metrics for one completed call.
func (b *Bridge) record(action protocol.Action, err error, start time.Time) {
	if b.metrics == nil {
		return
	}

	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, correlator.ErrCancelled), errors.Is(err, context.Canceled):
		outcome = metrics.OutcomeCancelled
	default:
		outcome = metrics.OutcomeError
	}

	b.metrics.Requests.WithLabelValues(string(action), outcome).Inc()
	b.metrics.RequestDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
}
