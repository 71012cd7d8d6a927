// Package trap implements TrapCore, the user/kernel trap dispatcher of
// spec section 4.4. The control flow of Usertrap, Usertrapret,
// Kerneltrap and Devintr follows original_source/kernel/trap.c exactly;
// the CSR reads/writes the original performs with inline assembly are
// threaded through as explicit parameters or as the riscv package's
// function-variable seams, the same pattern src/vm uses for SfenceVMA
// and WriteSatp.
package trap

import (
	"fmt"

	"hart"
	"plic"
	"proc"
	"riscv"
	"spinlock"
	"stats"
	"uart"
	"virtio"
	"vm"
)

// devintr's return value, per spec section 4.4.
const (
	DevUnknown  = 0
	DevExternal = 1
	DevTimer    = 2
)

/// TrapCore_t bundles the device collaborators and tick state a
/// dispatcher needs. Exactly one exists per kernel instance.
type TrapCore_t struct {
	Plic   plic.Controller_i
	Uart   uart.Device_i
	Virtio virtio.Device_i

	UartIRQ   uint32
	VirtioIRQ uint32

	// Kernel is the global kernel page table installed by Kvminit, used
	// by Usertrapret when a process has no per-process mirror of its own.
	Kernel *vm.PageTable_t

	ticksLock spinlock.Spinlock_t
	Ticks     uint64

	/// Syscall dispatches a system call for the running process. External
	/// collaborator, never implemented here.
	Syscall func(p *proc.Proc_t)
	/// Exit terminates the running process with the given code. External
	/// collaborator, never implemented here.
	Exit func(p *proc.Proc_t, code int)

	Syscalls  stats.Counter_t
	ExtIntrs  stats.Counter_t
	TimerIntrs stats.Counter_t
	Alarms    stats.Counter_t
}

/// MkTrapCore wires a dispatcher to its device collaborators.
func MkTrapCore(pl plic.Controller_i, ua uart.Device_i, vi virtio.Device_i, uartIRQ, virtioIRQ uint32) *TrapCore_t {
	return &TrapCore_t{Plic: pl, Uart: ua, Virtio: vi, UartIRQ: uartIRQ, VirtioIRQ: virtioIRQ}
}

/// Usertrap handles a trap taken from user mode. sepc and scause are the
/// saved program counter and cause the trampoline captured before
/// entering the kernel; a real port reads these from SEPC/SCAUSE, a
/// hosted one passes them in directly.
func (tc *TrapCore_t) Usertrap(h *hart.Hart_t, p *proc.Proc_t, sepc, scause uint64) {
	if riscv.ReadSstatusSPP() {
		panic("trap: usertrap: not from user mode")
	}

	// Traps taken while the trampoline vector is still installed must not
	// themselves be serviced by it; switch to the kernel-only vector
	// first. Usertrapret installs the distinct trampoline vector again on
	// the way back out.
	riscv.WriteStvec(riscv.KernelVec())

	p.Trapframe.Epc = sepc

	which := DevUnknown
	switch {
	case scause == riscv.CauseSyscall:
		if p.Killed {
			tc.callExit(p, -1)
			return
		}
		p.Trapframe.Epc += 4
		riscv.IntrOn()
		tc.Syscalls.Inc()
		tc.callSyscall(p)
	default:
		which = tc.Devintr(h, scause)
		if which != DevUnknown {
			if which == DevTimer {
				tc.maybeFireAlarm(p)
			}
		} else {
			fmt.Printf("trap: usertrap: unexpected scause %#x pid=%d\n", scause, p.Pid)
			fmt.Printf("      sepc=%#x\n", sepc)
			p.Killed = true
		}
	}

	if p.Killed {
		tc.callExit(p, -1)
		return
	}
	if which == DevTimer {
		proc.Yield()
	}
	tc.Usertrapret(h, p)
}

func (tc *TrapCore_t) maybeFireAlarm(p *proc.Proc_t) {
	a := &p.Alarm
	if a.Interval != 0 && !a.InHandler && tc.Ticks >= a.Deadline {
		a.InHandler = true
		a.Saved = *p.Trapframe
		a.Deadline = tc.Ticks + a.Interval
		p.Trapframe.Epc = a.HandlerPC
		tc.Alarms.Inc()
	}
}

func (tc *TrapCore_t) callSyscall(p *proc.Proc_t) {
	if tc.Syscall != nil {
		tc.Syscall(p)
	}
}

func (tc *TrapCore_t) callExit(p *proc.Proc_t, code int) {
	if tc.Exit != nil {
		tc.Exit(p, code)
	}
}

/// Usertrapret prepares the trapframe and registers for a return to user
/// mode. A real port finishes by jumping to the trampoline; a hosted one
/// stops here, having left the trapframe ready for that jump.
func (tc *TrapCore_t) Usertrapret(h *hart.Hart_t, p *proc.Proc_t) {
	riscv.IntrOff()
	riscv.WriteStvec(riscv.TRAMPOLINE)

	kpt := p.KernelPagetable
	if kpt == nil {
		kpt = tc.Kernel
	}
	if kpt != nil {
		p.Trapframe.Kernel_satp = riscv.MakeSatp(kpt.Root)
	}
	p.Trapframe.Kernel_trap = 0 // set by platform glue to &Usertrap's entry stub
	p.Trapframe.Kernel_hartid = riscv.ReadTp()
}

/// Kerneltrap handles a trap taken while already in supervisor mode.
/// sepc/sstatusSPP/scause are the saved CSR values the low-level vector
/// captured on entry.
func (tc *TrapCore_t) Kerneltrap(h *hart.Hart_t, sepc uint64, sstatusSPP bool, scause uint64) {
	if !sstatusSPP {
		panic("trap: kerneltrap: not from supervisor mode")
	}
	if riscv.IntrGet() {
		panic("trap: kerneltrap: interrupts enabled")
	}

	which := tc.Devintr(h, scause)
	if which == DevUnknown {
		fmt.Printf("trap: kerneltrap: scause %#x\n", scause)
		fmt.Printf("      sepc=%#x\n", sepc)
		panic("trap: kerneltrap")
	}

	if which == DevTimer {
		if p := proc.Myproc(); p != nil {
			proc.Yield()
		}
	}
}

/// Devintr classifies scause and routes external and timer interrupts.
/// It returns DevExternal, DevTimer, or DevUnknown, per spec section 4.4.
func (tc *TrapCore_t) Devintr(h *hart.Hart_t, scause uint64) int {
	switch {
	case scause&(uint64(1)<<63) != 0 && scause&0xff == 9:
		irq := uint32(0)
		if tc.Plic != nil {
			irq = tc.Plic.Claim()
		}
		switch {
		case irq == tc.UartIRQ:
			if tc.Uart != nil {
				tc.Uart.Intr()
			}
		case irq == tc.VirtioIRQ:
			if tc.Virtio != nil {
				tc.Virtio.Intr()
			}
		case irq != 0:
			fmt.Printf("trap: devintr: unexpected irq=%d\n", irq)
		}
		if irq != 0 && tc.Plic != nil {
			tc.Plic.Complete(irq)
		}
		tc.ExtIntrs.Inc()
		return DevExternal

	case scause == riscv.CauseSWTimer:
		if proc.Cpuid() == 0 {
			tc.clockintr(h)
		}
		riscv.ClearSSIP()
		tc.TimerIntrs.Inc()
		return DevTimer

	default:
		return DevUnknown
	}
}

func (tc *TrapCore_t) clockintr(h *hart.Hart_t) {
	tc.ticksLock.Lock(h)
	tc.Ticks++
	tc.ticksLock.Unlock(h)
}
