package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pillama/bridge/internal/protocol"
	"github.com/pillama/bridge/internal/stream"
)

// validRoles is the accepted set of chat message roles.
var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// requestOptions mirrors Ollama's options object; only the parameters the
// backend understands are carried.
type requestOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Seed        *int     `json:"seed,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  *bool           `json:"stream"`
	Options *requestOptions `json:"options"`
}

// streaming reports the effective stream flag; Ollama defaults to true.
func (r generateRequest) streaming() bool {
	return r.Stream == nil || *r.Stream
}

type chatRequest struct {
	Model    string             `json:"model"`
	Messages []protocol.Message `json:"messages"`
	Stream   *bool              `json:"stream"`
	Options  *requestOptions    `json:"options"`
}

func (r chatRequest) streaming() bool {
	return r.Stream == nil || *r.Stream
}

type generateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	Error     string `json:"error,omitempty"`
	protocol.Stats
}

type chatResponse struct {
	Model     string           `json:"model"`
	CreatedAt string           `json:"created_at"`
	Message   protocol.Message `json:"message"`
	Done      bool             `json:"done"`
	Error     string           `json:"error,omitempty"`
	protocol.Stats
}

type showRequest struct {
	Model string `json:"model"`
	Name  string `json:"name"`
}

type showResponse struct {
	Details   tagModelDetails `json:"details"`
	ModelInfo map[string]any  `json:"model_info"`
}

type tagModelDetails struct {
	Family        string `json:"family"`
	ParameterSize string `json:"parameter_size"`
	Format        string `json:"format"`
}

type tagModel struct {
	Name    string          `json:"name"`
	Model   string          `json:"model"`
	Size    int64           `json:"size"`
	Details tagModelDetails `json:"details"`
}

type tagsResponse struct {
	Models []tagModel `json:"models"`
}

// generateFrame renders one NDJSON chunk of a /api/generate stream.
func generateFrame(model string, f stream.Frame) any {
	out := generateResponse{
		Model:     model,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Response:  f.Content,
		Done:      f.Done,
	}
	if f.Done {
		out.Stats = f.Stats
		out.Error = f.Err
	}
	return out
}

// chatFrame renders one NDJSON chunk of a /api/chat stream.
func chatFrame(model string, f stream.Frame) any {
	out := chatResponse{
		Model:     model,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Message:   protocol.Message{Role: "assistant", Content: f.Content},
		Done:      f.Done,
	}
	if f.Done {
		out.Stats = f.Stats
		out.Error = f.Err
	}
	return out
}

func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeNDJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// isUnknownModel matches the backend's not-found error text.
func isUnknownModel(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}
