// Package hart models one hardware thread of execution (a "hart" in
// RISC-V terminology, xv6's "cpu"). Real kernels identify the current
// hart through a register (xv6's tp, biscuit's runtime.CPUHint()); a
// hosted Go program has no such register, so -- per spec section 9's own
// design note ("bind threads to CPUs... use a lock-free thread-local
// index") -- every API that needs "the current hart" takes an explicit
// *Hart_t instead of discovering it.
package hart

/// Hart_t is per-hart state threaded explicitly through PAlloc, the
/// spin lock push/pop discipline, and TrapCore.
type Hart_t struct {
	ID int

	// noff counts nested spin-lock acquisitions held by this hart, the
	// depth xv6's push_off()/pop_off() track. intena is set by Mkhart;
	// Pushoff and Popoff do not change it.
	noff   int
	intena bool
}

/// Mkhart names a new hart with interrupts enabled and no locks held.
func Mkhart(id int) *Hart_t {
	return &Hart_t{ID: id, intena: true}
}

/// Pushoff increments the nesting depth. It does not disable interrupts:
/// the riscv IntrOff/IntrGet seams are not called here, and the hart's
/// interrupt-enable state is left as it was.
func (h *Hart_t) Pushoff() {
	old := h.intena
	if h.noff == 0 {
		h.intena = old
	}
	h.noff++
}

/// Popoff decrements the nesting depth; like Pushoff, it does not touch
/// interrupt state. It panics on underflow, the way xv6's pop_off panics
/// when called without a matching push_off.
func (h *Hart_t) Popoff() {
	if h.noff < 1 {
		panic("popoff without pushoff")
	}
	h.noff--
}

/// Holding reports whether this hart currently holds at least one spin
/// lock.
func (h *Hart_t) Holding() bool {
	return h.noff > 0
}
