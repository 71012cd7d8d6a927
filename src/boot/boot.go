// Package boot implements the boot sequencing of spec section 4.5:
// hart 0 builds the global kernel state, publishes a "started" fence,
// and every other hart spins on that fence before bringing up its own
// per-hart state. original_source/kernel/main.c's single function does
// this serially inside an if/else on cpuid(); here the other-harts join
// is expressed with golang.org/x/sync/errgroup, one goroutine standing
// in for each hart, matching the fan-out idiom the rest of the retrieved
// corpus (CCR-style host tooling) uses errgroup for.
package boot

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"bio"
	"hart"
	"mem"
	"plic"
	"riscv"
	"trap"
	"uart"
	"vm"
	"virtio"
)

/// Config describes the resources hart 0 must bring up before any other
/// hart may proceed.
type Config struct {
	StartPA      riscv.Pa_t
	NPages       int
	Etext        riscv.Pa_t
	TrampolinePA riscv.Pa_t
	NHarts       int

	Plic      plic.Controller_i
	Uart      uart.Device_i
	Virtio    virtio.Device_i
	UartIRQ   uint32
	VirtioIRQ uint32

	Disk bio.Disk_i
	NBuf int
}

/// Kernel_t is the fully booted, shared kernel state every hart runs
/// against.
type Kernel_t struct {
	Mem    *mem.Palloc_t
	Kernel *vm.PageTable_t
	Trap   *trap.TrapCore_t
	Bio    *bio.BufCache_t

	started atomic.Bool
}

/// Boot runs hart 0's bring-up synchronously, then fans the remaining
/// cfg.NHarts-1 harts out via errgroup, each spinning on the started
/// fence before installing its own kernel page table and trap vector.
// It returns once every hart has joined.
func Boot(cfg Config) (*Kernel_t, error) {
	k := &Kernel_t{}
	h0 := hart.Mkhart(0)

	a, err := mem.Init(cfg.StartPA, cfg.NPages)
	if err != nil {
		return nil, fmt.Errorf("boot: mem.Init: %w", err)
	}
	k.Mem = a

	kpt, ok := vm.Kvminit(a, h0, cfg.Etext, cfg.TrampolinePA)
	if !ok {
		return nil, fmt.Errorf("boot: kvminit: out of memory")
	}
	k.Kernel = kpt
	kpt.Kvminithart()
	riscv.WriteStvec(riscv.KernelVec())

	k.Trap = trap.MkTrapCore(cfg.Plic, cfg.Uart, cfg.Virtio, cfg.UartIRQ, cfg.VirtioIRQ)
	k.Trap.Kernel = kpt
	k.Bio = bio.MkBufCache(cfg.Disk, cfg.NBuf)

	fmt.Printf("boot: hart 0 done, publishing start fence for %d harts\n", cfg.NHarts)
	k.started.Store(true)

	if cfg.NHarts <= 1 {
		return k, nil
	}

	g, _ := errgroup.WithContext(context.Background())
	for id := 1; id < cfg.NHarts; id++ {
		id := id
		g.Go(func() error {
			for !k.started.Load() {
				runtime.Gosched()
			}
			h := hart.Mkhart(id)
			fmt.Printf("boot: hart %d starting\n", id)
			k.Kernel.Kvminithart()
			riscv.WriteStvec(riscv.KernelVec())
			_ = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("boot: hart join: %w", err)
	}
	return k, nil
}
