// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Request counts, outcomes, and latency by action
//   - In-flight request gauge and token throughput
//   - Backend connection state and reconnection attempts
package metrics
