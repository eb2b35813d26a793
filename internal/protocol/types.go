package protocol

import (
	"encoding/json"
	"fmt"
)

// Action identifies a backend operation.
type Action string

// Actions supported by the backend.
const (
	ActionGenerate     Action = "generate"
	ActionChat         Action = "chat"
	ActionListModels   Action = "list_models"
	ActionModelInfo    Action = "model_info"
	ActionContextUsage Action = "context_usage"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is an outbound frame sent to the backend. RequestID is the
// correlation key; the backend echoes it on every frame it emits for
// this request.
type Request struct {
	RequestID   string    `json:"requestId"`
	Action      Action    `json:"action"`
	Model       string    `json:"model,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Seed        *int      `json:"seed,omitempty"`
	Stream      bool      `json:"stream"`
}

// EventKind classifies an inbound frame.
type EventKind int

const (
	// KindToken is a partial generation result; the request stays live.
	KindToken EventKind = iota

	// KindComplete is a successful terminal frame (generation stats, or
	// the payload of a catalog action).
	KindComplete

	// KindError is a failed terminal frame.
	KindError
)

// Stats is the timing and token-count bundle carried on complete frames.
// All durations are nanoseconds.
type Stats struct {
	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// Event is an inbound frame from the backend.
//
// Type is the raw wire discriminator: "token", "complete", "error" for
// generation, or "models", "model_info", "context_usage" for catalog
// actions (those carry their payload in Data and are terminal).
type Event struct {
	RequestID string          `json:"requestId"`
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Usage     int             `json:"usage,omitempty"`
	Stats
}

// Kind maps the wire type to an EventKind. Unknown types are treated as
// terminal so a misbehaving backend cannot leave a request pending forever.
func (e Event) Kind() EventKind {
	switch e.Type {
	case "token":
		return KindToken
	case "error":
		return KindError
	default:
		return KindComplete
	}
}

// Terminal reports whether this event ends the request's lifecycle.
func (e Event) Terminal() bool {
	return e.Kind() != KindToken
}

// DecodeEvent parses one inbound wire message.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode backend event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("decode backend event: missing type field")
	}
	return ev, nil
}

// ModelSummary is one entry of a list_models payload.
type ModelSummary struct {
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	Family        string `json:"family"`
	ParameterSize string `json:"parameter_size"`
	Format        string `json:"format"`
}

// ModelInfo is the payload of a model_info response.
type ModelInfo struct {
	Name          string `json:"name"`
	Family        string `json:"family"`
	ParameterSize string `json:"parameter_size"`
	Format        string `json:"format"`
	HefPath       string `json:"hef_path,omitempty"`
}
