/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package fixedwindow provides keyed fixed-window rate limiting.
//
// The limiter owns an in-memory table mapping an arbitrary string key
// (e.g. client address or user id) to a counter that is reset entirely
// at fixed time boundaries. Every check is O(1), never blocks, and is
// safe for concurrent use.
//
// The fixed-window algorithm is intentionally coarse: up to 2x the limit
// may pass across a window boundary (a burst at the end of one window
// plus a burst at the start of the next). This is the accepted tradeoff
// for a cheap abuse guard; callers that need smoother admission should
// use a different algorithm.
//
// Key features:
//   - Per-key counters with lazy window reset
//   - Injectable clock for deterministic tests
//   - Optional LRU bound on the number of tracked keys
//   - Background sweeping of stale keys to bound memory
//   - Prometheus metrics via MetricsCollector
package fixedwindow
