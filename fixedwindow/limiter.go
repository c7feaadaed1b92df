/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package fixedwindow

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// Rate describes the frequency of requests.
type Rate struct {
	Count    int
	Duration time.Duration
}

// String returns a string representation of the rate like "100/1m0s".
// Implements fmt.Stringer interface.
func (r Rate) String() string {
	return fmt.Sprintf("%d/%s", r.Count, r.Duration)
}

// Result describes the outcome of a single admission check.
type Result struct {
	// Allowed reports whether the request fits into the limit for the current window.
	Allowed bool

	// Remaining is the number of requests that may still be admitted
	// within the current window. Never negative.
	Remaining int

	// ResetIn is the time left until the current window ends
	// and the counter is reset. Always in (0, window].
	ResetIn time.Duration
}

type windowEntry struct {
	key     string
	count   int
	resetAt time.Time
}

// Limiter is a keyed fixed-window request counter.
//
// Records for different keys never interact: decisions and counters for one key
// are unaffected by any volume of calls against another key.
// All methods are safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	lruList *list.List
	table   map[string]*list.Element // map of per-key counters, value is a lruList element

	maxKeys        int
	staleRetention time.Duration
	now            func() time.Time

	metricsCollector MetricsCollector
}

// Options represents options for the Limiter.
type Options struct {
	// MaxKeys is the maximum number of tracked keys. When it is exceeded,
	// the least recently used key is evicted. 0 means no bound
	// (rely on RunPeriodicCleanup to reclaim memory for stale keys).
	MaxKeys int

	// StaleRetention determines how long a record whose window has elapsed
	// is kept in the table before the periodic cleanup drops it.
	StaleRetention time.Duration

	// NowProvider is a function that returns the current time.
	// time.Now is used if it is not specified.
	NowProvider func() time.Time

	// MetricsCollector is used to collect statistics about the limiter usage.
	// It can be nil, in this case, metrics will be disabled.
	MetricsCollector MetricsCollector
}

// New creates a new Limiter with default options.
func New() *Limiter {
	return NewWithOpts(Options{})
}

// NewWithOpts creates a new Limiter with the provided options.
func NewWithOpts(opts Options) *Limiter {
	now := opts.NowProvider
	if now == nil {
		now = time.Now
	}
	metricsCollector := opts.MetricsCollector
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	maxKeys := opts.MaxKeys
	if maxKeys < 0 {
		maxKeys = 0
	}
	return &Limiter{
		lruList:          list.New(),
		table:            make(map[string]*list.Element),
		maxKeys:          maxKeys,
		staleRetention:   opts.StaleRetention,
		now:              now,
		metricsCollector: metricsCollector,
	}
}

// Check consumes one request slot for the given key and reports whether the request
// should be admitted under the limit of requests per window.
//
// The attempt is counted whether it is admitted or not, so a caller that keeps
// calling after rejection keeps seeing zero remaining until the window resets.
// A record whose window has elapsed is replaced with a fresh one on the next check,
// which is indistinguishable from the key never having been seen.
//
// Check returns an error only on invalid usage (empty key, non-positive limit or window).
func (l *Limiter) Check(key string, limit int, window time.Duration) (Result, error) {
	if key == "" {
		return Result{}, fmt.Errorf("key must not be empty")
	}
	if limit <= 0 {
		return Result{}, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if window <= 0 {
		return Result{}, fmt.Errorf("window must be positive, got %s", window)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	var entry *windowEntry
	if elem, ok := l.table[key]; ok {
		entry = elem.Value.(*windowEntry)
		if !now.Before(entry.resetAt) {
			entry.count = 0
			entry.resetAt = now.Add(window)
		}
		l.lruList.MoveToFront(elem)
	} else {
		entry = &windowEntry{key: key, resetAt: now.Add(window)}
		l.table[key] = l.lruList.PushFront(entry)
		if l.maxKeys != 0 && len(l.table) > l.maxKeys {
			l.removeOldest()
			l.metricsCollector.AddEvictions(1)
		}
		l.metricsCollector.SetAmount(len(l.table))
	}

	entry.count++

	res := Result{
		Allowed:   entry.count <= limit,
		Remaining: limit - entry.count,
		ResetIn:   entry.resetAt.Sub(now),
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if res.ResetIn > window {
		res.ResetIn = window
	}

	if res.Allowed {
		l.metricsCollector.IncAllowed()
	} else {
		l.metricsCollector.IncRejected()
	}
	return res, nil
}

// CheckRate is a shorthand for Check with the rate's count and duration.
func (l *Limiter) CheckRate(key string, rate Rate) (Result, error) {
	return l.Check(key, rate.Count, rate.Duration)
}

// Len returns the number of keys currently tracked in the table,
// including keys whose windows have already elapsed but were not swept yet.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.table)
}

// Remove removes the record for the provided key from the table.
func (l *Limiter) Remove(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.table[key]
	if !ok {
		return false
	}
	l.lruList.Remove(elem)
	delete(l.table, key)
	l.metricsCollector.SetAmount(len(l.table))
	return true
}

// Purge clears the table.
// All removed records will not be counted as evictions.
func (l *Limiter) Purge() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.metricsCollector.SetAmount(0)
	l.table = make(map[string]*list.Element)
	l.lruList.Init()
}

// RunPeriodicCleanup runs a cycle of periodic sweeping that drops records
// whose windows elapsed more than StaleRetention ago.
// It's supposed to be run in a separate goroutine.
// Sweeping a record and recreating it on the next check is indistinguishable
// from never having swept it, aside from memory usage.
func (l *Limiter) RunPeriodicCleanup(ctx context.Context, cleanupInterval time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	deadline := l.now().Add(-l.staleRetention)
	for key, elem := range l.table {
		entry := elem.Value.(*windowEntry)
		if !entry.resetAt.After(deadline) {
			l.lruList.Remove(elem)
			delete(l.table, key)
		}
	}
	l.metricsCollector.SetAmount(len(l.table))
}

func (l *Limiter) removeOldest() {
	elem := l.lruList.Back()
	if elem == nil {
		return
	}
	l.lruList.Remove(elem)
	delete(l.table, elem.Value.(*windowEntry).key)
}
