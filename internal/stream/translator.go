package stream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pillama/bridge/internal/correlator"
	"github.com/pillama/bridge/internal/protocol"
)

// Result is the aggregated outcome of a unary request.
type Result struct {
	Text  string
	Stats protocol.Stats

	// Data holds the raw payload of catalog responses (models, model_info).
	Data json.RawMessage

	// Usage is the context token count of a context_usage response.
	Usage int
}

// Frame is one HTTP-facing chunk of a streaming response. All non-terminal
// frames carry Done=false; exactly one terminal frame is emitted per
// request, either with the stats bundle or, on failure, with Err set.
type Frame struct {
	Content string
	Done    bool
	Stats   protocol.Stats

	// Err is the failure message on an error-terminal frame.
	Err string
}

// CollectUnary drains a request's updates, accumulating token payloads in
// arrival order, and returns the concatenated text with the terminal stats.
// It returns the backend's failure on an error event, the cancellation on
// connection loss, or ctx.Err() if the caller gives up first.
func CollectUnary(ctx context.Context, updates <-chan correlator.Update) (Result, error) {
	start := time.Now()

	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()

		case u := <-updates:
			if u.Err != nil {
				return Result{}, u.Err
			}
			if !u.Event.Terminal() {
				text.WriteString(u.Event.Content)
				continue
			}

			// Non-streaming backends put the full text on the
			// terminal frame instead of token events.
			if text.Len() == 0 && u.Event.Content != "" {
				text.WriteString(u.Event.Content)
			}
			return Result{
				Text:  text.String(),
				Stats: fillStats(u.Event.Stats, start),
				Data:  u.Event.Data,
				Usage: u.Event.Usage,
			}, nil
		}
	}
}

// Stream forwards each token as a non-terminal Frame through emit, then
// emits exactly one terminal Frame and returns its stats. A failed request
// still terminates the sequence: the failure is emitted as an error-carrying
// terminal Frame before being returned. The sequence is finite and not
// restartable: an emit failure or error event ends it.
func Stream(ctx context.Context, updates <-chan correlator.Update, emit func(Frame) error) (protocol.Stats, error) {
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return protocol.Stats{}, ctx.Err()

		case u := <-updates:
			if u.Err != nil {
				// The caller gets the original failure even if the
				// terminal frame can no longer be written.
				_ = emit(Frame{Done: true, Err: u.Err.Error()})
				return protocol.Stats{}, u.Err
			}
			if !u.Event.Terminal() {
				if err := emit(Frame{Content: u.Event.Content}); err != nil {
					return protocol.Stats{}, err
				}
				continue
			}

			stats := fillStats(u.Event.Stats, start)
			if err := emit(Frame{Done: true, Stats: stats}); err != nil {
				return protocol.Stats{}, err
			}
			return stats, nil
		}
	}
}

// fillStats substitutes measured wall-clock durations when the backend
// omits them, so the output shape is always complete. Missing counts stay
// zero.
func fillStats(s protocol.Stats, start time.Time) protocol.Stats {
	elapsed := time.Since(start).Nanoseconds()
	if s.TotalDuration == 0 {
		s.TotalDuration = elapsed
	}
	if s.EvalDuration == 0 {
		s.EvalDuration = elapsed
	}
	return s
}
