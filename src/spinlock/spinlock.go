// Package spinlock provides the busy-waiting lock assumed by spec section
// 1 as a primitive collaborator. It is given a concrete, minimal, hosted
// implementation here (a sync.Mutex under the hood) since PAlloc and
// BufCache cannot be compiled without one; every lock in the biscuit
// corpus -- CPU freelists, hashtable buckets -- is likewise a plain
// sync.Mutex or sync.RWMutex embedding.
package spinlock

import (
	"sync"

	"hart"
)

/// Spinlock_t is a mutual-exclusion lock that also raises the calling
/// hart's spin-lock nesting depth for its duration. That push/pop
/// bookkeeping lives in the caller-supplied hart.Hart_t, per spec section
/// 9's design note that a hosted port should bind threads to CPUs rather
/// than read a register; the hart's interrupt state is not changed.
type Spinlock_t struct {
	mu   sync.Mutex
	name string
}

/// MkSpinlock names a new, unlocked spin lock.
func MkSpinlock(name string) *Spinlock_t {
	return &Spinlock_t{name: name}
}

/// Lock increments h's nesting depth (h.Pushoff) then acquires the lock.
func (l *Spinlock_t) Lock(h *hart.Hart_t) {
	h.Pushoff()
	l.mu.Lock()
}

/// Unlock releases the lock then decrements h's nesting depth (h.Popoff).
func (l *Spinlock_t) Unlock(h *hart.Hart_t) {
	l.mu.Unlock()
	h.Popoff()
}

/// TryLock attempts to acquire the lock without blocking.
func (l *Spinlock_t) TryLock(h *hart.Hart_t) bool {
	h.Pushoff()
	if l.mu.TryLock() {
		return true
	}
	h.Popoff()
	return false
}
