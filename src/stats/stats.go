// Package stats provides compile-time-toggleable counters, adapted from
// biscuit's stats package: when Enabled is false, every operation is a
// no-op so the counters cost nothing in the hot path.
package stats

import "sync/atomic"

/// Enabled turns counting on. Flip to true only when debugging; every
/// counter update becomes a no-op otherwise.
const Enabled = false

/// Counter_t is a statistical counter, safe for concurrent increment.
type Counter_t int64

/// Inc increments the counter by one.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

/// Add adds n to the counter.
func (c *Counter_t) Add(n int64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), n)
	}
}

/// Get reads the current counter value.
func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}
