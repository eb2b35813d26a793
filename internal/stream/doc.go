// Package stream re-encodes a correlated backend event sequence into the
// caller's desired output shape: one aggregated result, or an ordered
// sequence of partial frames ending in a single terminal frame.
package stream
