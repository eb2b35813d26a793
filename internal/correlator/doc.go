// Package correlator associates asynchronously-arriving backend events with
// the in-flight request that originated them.
//
// Every frame on the shared connection carries a request id. The correlator
// keeps a registry of pending requests keyed by that id and demultiplexes
// events to per-request sink channels, preserving arrival order within a
// request. Each registered request receives exactly one terminal delivery:
// a complete event, a backend error, or a cancellation when the connection
// drops.
package correlator
