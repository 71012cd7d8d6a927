// Package proc provides the minimal process/CPU shapes TrapCore needs to
// compile: a trapframe, a per-process alarm and page-table record, and a
// per-CPU record. The scheduler and process table themselves are out of
// scope (spec section 1); Myproc/Yield/Cpuid are seams an external
// scheduler installs, the same pattern biscuit/src/vm/as.go uses for
// Cpumap's _numtoapicid.
package proc

import "vm"

/// Trapframe_t is the per-process page at the fixed user virtual address
/// TRAPFRAME: saved user registers plus the kernel-entry state the
/// trampoline needs to find without walking any page table.
type Trapframe_t struct {
	Kernel_satp   uint64
	Kernel_sp     uintptr
	Kernel_trap   uintptr
	Epc           uint64
	Kernel_hartid uint64

	Ra, Sp, Gp, Tp               uint64
	T0, T1, T2                   uint64
	S0, S1                       uint64
	A0, A1, A2, A3, A4, A5, A6, A7 uint64
	S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint64
	T3, T4, T5, T6               uint64
}

/// Alarm_t is a process's periodic-interrupt handler registration.
type Alarm_t struct {
	Interval  uint64
	HandlerPC uint64
	Deadline  uint64
	InHandler bool
	Saved     Trapframe_t
}

/// Proc_t is the minimal process record TrapCore dispatches against.
type Proc_t struct {
	Pid     int
	Killed  bool
	Alarm   Alarm_t
	Pagetable *vm.PageTable_t
	KernelPagetable *vm.PageTable_t
	Trapframe *Trapframe_t
}

/// Cpu_t is the minimal per-CPU record: which process (if any) it is
/// currently running. Spin-lock nesting is not recorded here; it lives
/// in hart.Hart_t.
type Cpu_t struct {
	Proc *Proc_t
}

var (
	myproc func() *Proc_t
	yield  func()
	cpuid  func() int
)

/// RegisterMyproc installs the scheduler's accessor for the running
/// process on the calling hart.
func RegisterMyproc(f func() *Proc_t) { myproc = f }

/// RegisterYield installs the scheduler's voluntary-reschedule hook.
func RegisterYield(f func()) { yield = f }

/// RegisterCpuid installs the scheduler's "which hart am I" accessor.
func RegisterCpuid(f func() int) { cpuid = f }

/// Myproc returns the process running on the calling hart, or nil if none
/// is registered yet or none is running.
func Myproc() *Proc_t {
	if myproc == nil {
		return nil
	}
	return myproc()
}

/// Yield voluntarily gives up the CPU. It is a no-op until a scheduler
/// registers one with RegisterYield.
func Yield() {
	if yield != nil {
		yield()
	}
}

/// Cpuid returns the calling hart's id, or -1 if no scheduler has
/// registered an accessor.
func Cpuid() int {
	if cpuid == nil {
		return -1
	}
	return cpuid()
}
