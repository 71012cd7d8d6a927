// Package riscv holds the memory-layout constants, PTE bit positions, and
// the low-level register primitives assumed by src/vm and src/trap. The
// bit layout follows spec section 6; the function-variable seams
// (SfenceVMA, WriteSatp, ...) stand in for assembly that a hosted Go program
// cannot execute, the same way biscuit/src/vm/as.go installs Cpumap as a
// seam for a platform-specific callback.
package riscv

const (
	/// PGSIZE is the size of a single page in bytes.
	PGSIZE = 4096
	/// PGSHIFT is the base-2 exponent of PGSIZE.
	PGSHIFT = 12

	// Sv39: 9 bits per level, 3 levels, 12 bits of page offset.
	PXMASK  = 0x1ff
	PXSHIFT = 9

	/// MAXVA is one bit less than the largest possible Sv39 virtual
	/// address, since the top VPN bit must equal bit 38 (sign-extension).
	MAXVA = 1 << (9 + 9 + 9 + 12 - 1)
)

// PTE flag bits, per spec section 6.
const (
	PTE_V Pte_t = 1 << 0 /// valid
	PTE_R Pte_t = 1 << 1 /// readable
	PTE_W Pte_t = 1 << 2 /// writable
	PTE_X Pte_t = 1 << 3 /// executable
	PTE_U Pte_t = 1 << 4 /// user-accessible
	PTE_G Pte_t = 1 << 5 /// global
	PTE_A Pte_t = 1 << 6 /// accessed
	PTE_D Pte_t = 1 << 7 /// dirty
)

/// Pte_t is a single 64-bit page-table entry.
type Pte_t uint64

/// Pa_t is a physical address.
type Pa_t uintptr

// Reserved MMIO regions and kernel layout constants, used by kvminit's
// direct map and by uvmalloc's growth ceiling.
const (
	UART0    Pa_t = 0x10000000
	UART0_SZ      = 0x100
	VIRTIO0  Pa_t = 0x10001000
	CLINT    Pa_t = 0x2000000
	CLINT_SZ      = 0x10000
	PLIC     Pa_t = 0xc000000
	PLIC_SZ       = 0x4000000

	KERNBASE Pa_t = 0x80000000
	PHYSTOP  Pa_t = KERNBASE + 128*1024*1024

	/// TRAMPOLINE is mapped identically at the top of every address
	/// space (kernel and every user process).
	TRAMPOLINE = MAXVA - PGSIZE
	/// TRAPFRAME sits one page below TRAMPOLINE in every user address
	/// space.
	TRAPFRAME = TRAMPOLINE - PGSIZE
)

/// PTE2PA extracts the physical frame address encoded in a PTE.
func PTE2PA(pte Pte_t) Pa_t {
	return Pa_t(pte>>10) << PGSHIFT
}

/// PA2PTE encodes a physical frame address for storage in a PTE (flags
/// are OR'd in separately by the caller).
func PA2PTE(pa Pa_t) Pte_t {
	return Pte_t(pa>>PGSHIFT) << 10
}

/// PX extracts the 9-bit page-table index for level `level` (0, 1 or 2)
/// of virtual address va.
func PX(level int, va uintptr) uintptr {
	shift := PGSHIFT + PXSHIFT*level
	return (va >> uint(shift)) & PXMASK
}

// SATP mode field, Sv39 encoding.
const SATP_SV39 uint64 = 8 << 60

/// MakeSatp builds the value to program into the SATP register for the
/// given root page-table physical address (ASID 0).
func MakeSatp(pagetable Pa_t) uint64 {
	return SATP_SV39 | (uint64(pagetable) >> PGSHIFT)
}

// Trap cause codes consumed by src/trap, per spec section 6.
const (
	CauseSyscall  = 8
	CauseExternal = (1 << 63) | 9
	CauseSWTimer  = (1 << 63) | 1
)

// The following are function-variable seams standing in for assembly
// primitives a hosted Go program cannot execute. A real port assigns them
// during arch bring-up; hosted tests assign fakes, the same way
// biscuit/src/vm/as.go installs Cpumap as a seam for a platform callback.

var (
	/// SfenceVMA flushes the TLB. Assigned by the platform glue.
	SfenceVMA func() = func() {}
	/// WriteSatp programs the SATP register and is expected to be
	/// followed by SfenceVMA by the caller.
	WriteSatp func(satp uint64) = func(uint64) {}

	/// KernelVec returns the address of the kernel-mode trap vector
	/// (original_source/kernel/kernelvec.S's kernelvec), installed by
	/// Usertrap before any further trap can be taken from supervisor
	/// mode. Distinct from TRAMPOLINE/uservec, which Usertrapret installs
	/// on the way back out to user mode. Assigned by the platform glue.
	KernelVec func() uintptr = func() uintptr { return 0 }

	/// ReadSstatusSPP reports the saved previous-privilege bit: true if
	/// the trapped code was running in supervisor mode.
	ReadSstatusSPP func() bool = func() bool { return false }
	/// WriteStvec installs the trap vector to run on the next trap.
	WriteStvec func(vector uintptr) = func(uintptr) {}
	/// IntrOn enables interrupts on the calling hart (sets SIE).
	IntrOn func() = func() {}
	/// IntrOff disables interrupts on the calling hart (clears SIE).
	IntrOff func() = func() {}
	/// IntrGet reports whether interrupts are currently enabled.
	IntrGet func() bool = func() bool { return false }
	/// ReadTp returns the calling hart's id, stashed in tp by the boot
	/// assembly.
	ReadTp func() uint64 = func() uint64 { return 0 }
	/// ClearSSIP acknowledges a software-forwarded timer interrupt.
	ClearSSIP func() = func() {}
)
