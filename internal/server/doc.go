// Package server exposes the Ollama-compatible HTTP API.
//
// Endpoints:
//   - POST /api/generate - text generation (NDJSON stream or single object)
//   - POST /api/chat     - chat completion (NDJSON stream or single object)
//   - GET  /api/tags     - model catalog
//   - POST /api/show     - model details
//   - GET  /api/ps       - resident model and context usage
//   - GET  /api/health   - bridge and backend-connection health
//   - GET  /api/version  - build version
//
// Streaming responses are newline-delimited JSON with done=false frames
// followed by exactly one done=true frame carrying generation stats.
package server
