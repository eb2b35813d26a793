// Package bridge exposes the request façade consumed by the HTTP routing
// layer: run a request to completion, or stream its partial frames, over
// the single multiplexed backend connection.
package bridge
