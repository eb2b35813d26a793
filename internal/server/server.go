package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pillama/bridge/internal/bridge"
	"github.com/pillama/bridge/internal/config"
	"github.com/pillama/bridge/internal/protocol"
	"github.com/pillama/bridge/internal/stream"
	"github.com/pillama/bridge/internal/version"
)

// MaxRequestBodySize bounds request bodies.
const MaxRequestBodySize = 1 << 20

// Facade is the slice of the request façade the HTTP layer depends on.
type Facade interface {
	RunToCompletion(ctx context.Context, action protocol.Action, p bridge.Params) (stream.Result, error)
	RunStreaming(ctx context.Context, action protocol.Action, p bridge.Params, onPartial func(stream.Frame) error) (protocol.Stats, error)
	ListModels(ctx context.Context) ([]protocol.ModelSummary, error)
	ShowModel(ctx context.Context, model string) (protocol.ModelInfo, error)
	ContextUsage(ctx context.Context) (int, error)
	IsConnected() bool
}

// Server serves the Ollama-compatible HTTP API.
type Server struct {
	cfg    config.ServerConfig
	facade Facade
	logger *slog.Logger

	// defaultModel fills requests that omit the model field.
	defaultModel string

	mux *http.ServeMux
	srv *http.Server
}

// New builds the server and registers its routes.
func New(cfg config.ServerConfig, facade Facade, defaultModel string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:          cfg,
		facade:       facade,
		logger:       logger.With("component", "server"),
		defaultModel: defaultModel,
		mux:          http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/tags", s.handleTags)
	s.mux.HandleFunc("POST /api/show", s.handleShow)
	s.mux.HandleFunc("GET /api/ps", s.handlePS)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/version", s.handleVersion)
	// "GET /" also matches HEAD requests, covering the liveness probe.
	s.mux.HandleFunc("GET /", s.handleRoot)

	return s
}

// Handler returns the route handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		// No WriteTimeout: streaming responses run for the lifetime of a
		// generation and must not be cut off by a fixed deadline.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// handleRoot mimics Ollama's liveness probe: clients check for a 200 on /
// before issuing API calls.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Pillama bridge is running")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.facade.IsConnected()

	status := http.StatusOK
	state := "ok"
	if !connected {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":            state,
		"backend_connected": connected,
		"version":           version.Version,
	})
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	models, err := s.facade.ListModels(r.Context())
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}

	out := make([]tagModel, 0, len(models))
	for _, m := range models {
		out = append(out, tagModel{
			Name:  m.Name,
			Model: m.Name,
			Size:  m.Size,
			Details: tagModelDetails{
				Family:        m.Family,
				ParameterSize: m.ParameterSize,
				Format:        m.Format,
			},
		})
	}
	writeJSON(w, http.StatusOK, tagsResponse{Models: out})
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	var req showRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	model := req.Model
	if model == "" {
		model = req.Name // accept Ollama's legacy field
	}
	if model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	info, err := s.facade.ShowModel(r.Context(), model)
	if err != nil {
		if isUnknownModel(err) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("model %q not found", model))
			return
		}
		s.writeBackendError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, showResponse{
		Details: tagModelDetails{
			Family:        info.Family,
			ParameterSize: info.ParameterSize,
			Format:        info.Format,
		},
		ModelInfo: map[string]any{
			"general.name":     info.Name,
			"general.family":   info.Family,
			"pillama.hef_path": info.HefPath,
		},
	})
}

// handlePS reports the backend's context usage in place of Ollama's
// loaded-model listing; the accelerator holds a single resident model.
func (s *Server) handlePS(w http.ResponseWriter, r *http.Request) {
	usage, err := s.facade.ContextUsage(r.Context())
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":         s.defaultModel,
		"context_usage": usage,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	p := s.params(req.Model, req.Options)
	p.Prompt = req.Prompt

	if req.streaming() {
		s.streamResponse(w, r, protocol.ActionGenerate, p, func(f stream.Frame) any {
			return generateFrame(p.Model, f)
		})
		return
	}

	res, err := s.facade.RunToCompletion(r.Context(), protocol.ActionGenerate, p)
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Model:     p.Model,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Response:  res.Text,
		Done:      true,
		Stats:     res.Stats,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}
	for i, m := range req.Messages {
		if !validRoles[m.Role] {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q at message %d", m.Role, i))
			return
		}
	}

	p := s.params(req.Model, req.Options)
	p.Messages = req.Messages

	if req.streaming() {
		s.streamResponse(w, r, protocol.ActionChat, p, func(f stream.Frame) any {
			return chatFrame(p.Model, f)
		})
		return
	}

	res, err := s.facade.RunToCompletion(r.Context(), protocol.ActionChat, p)
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Model:     p.Model,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Message:   protocol.Message{Role: "assistant", Content: res.Text},
		Done:      true,
		Stats:     res.Stats,
	})
}

// streamResponse runs a streaming request and writes its frames as NDJSON.
// Once the first frame is on the wire the status line is committed, so a
// later failure is rendered as an error-carrying done=true frame; before
// that, failures still get a proper HTTP status.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, action protocol.Action, p bridge.Params, render func(stream.Frame) any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")

	wrote := false
	_, err := s.facade.RunStreaming(r.Context(), action, p, func(f stream.Frame) error {
		if f.Err != "" && !wrote {
			// Status line still open: surface the failure through the
			// returned error and its status mapping instead.
			return nil
		}
		if err := writeNDJSON(w, render(f)); err != nil {
			return err
		}
		flusher.Flush()
		wrote = true
		return nil
	})
	if err != nil {
		if !wrote {
			s.writeBackendError(w, r, err)
			return
		}
		s.logger.Warn("stream ended with error",
			"action", action,
			"path", r.URL.Path,
			"error", err,
		)
	}
}

// params builds façade parameters, applying the configured default model.
func (s *Server) params(model string, opts *requestOptions) bridge.Params {
	if model == "" {
		model = s.defaultModel
	}
	p := bridge.Params{Model: model}
	if opts != nil {
		p.Temperature = opts.Temperature
		p.MaxTokens = opts.NumPredict
		p.Seed = opts.Seed
	}
	return p
}

// decodeBody parses a JSON request body, answering 400 on malformed input.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := decodeJSON(r.Body, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", MaxRequestBodySize))
			return false
		}
		s.logger.Debug("invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
