// Package protocol defines the wire types exchanged with the inference
// backend over the persistent WebSocket connection.
//
// Conventions:
//   - One JSON object per WebSocket message, both directions
//   - Every frame carries request_id for correlation
//   - Durations: int64 nanoseconds (matching Ollama stats fields)
package protocol
