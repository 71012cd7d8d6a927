package vm

import (
	"hart"
	"mem"
	"riscv"
)

/// Kvmmap adds a mapping to a kernel page table: the global one Kvminit
/// builds or a per-process mirror. It does not flush the TLB or enable
/// paging. It panics if mappages fails (out of memory here is fatal).
func (pt *PageTable_t) Kvmmap(h *hart.Hart_t, va uintptr, pa riscv.Pa_t, sz uintptr, perm riscv.Pte_t) {
	if !pt.Mappages(h, va, sz, pa, perm) {
		panic("vm: kvmmap")
	}
}

/// Kvminit builds the global direct-mapped kernel page table: UART,
/// the virtio MMIO window, CLINT, PLIC, kernel text (R|X) from KERNBASE
/// to etext, kernel data and usable RAM (R|W) from etext to PHYSTOP, and
/// the trampoline (R|X) at the top of the address space. trampolinePA
/// is the physical address of the single page mapped identically into
/// every address space.
func Kvminit(a *mem.Palloc_t, h *hart.Hart_t, etext riscv.Pa_t, trampolinePA riscv.Pa_t) (*PageTable_t, bool) {
	pt, ok := Uvmcreate(a, h)
	if !ok {
		return nil, false
	}
	pt.Kvmmap(h, uintptr(riscv.UART0), riscv.UART0, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W)
	pt.Kvmmap(h, uintptr(riscv.VIRTIO0), riscv.VIRTIO0, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W)
	pt.Kvmmap(h, uintptr(riscv.CLINT), riscv.CLINT, riscv.CLINT_SZ, riscv.PTE_R|riscv.PTE_W)
	pt.Kvmmap(h, uintptr(riscv.PLIC), riscv.PLIC, riscv.PLIC_SZ, riscv.PTE_R|riscv.PTE_W)
	pt.Kvmmap(h, uintptr(riscv.KERNBASE), riscv.KERNBASE, uintptr(etext-riscv.KERNBASE), riscv.PTE_R|riscv.PTE_X)
	pt.Kvmmap(h, uintptr(etext), etext, uintptr(riscv.PHYSTOP-etext), riscv.PTE_R|riscv.PTE_W)
	pt.Kvmmap(h, riscv.TRAMPOLINE, trampolinePA, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_X)
	return pt, true
}

/// Kvminithart programs SATP with this page table and fences the TLB,
/// switching the calling hart onto it.
func (pt *PageTable_t) Kvminithart() {
	riscv.WriteSatp(riscv.MakeSatp(pt.Root))
	riscv.SfenceVMA()
}

// The per-process kernel page table mirror lets kernel code dereference
// user virtual addresses directly (no copyin/copyout detour) by mapping
// the user's low address range into a private copy of the kernel map,
// without the U bit. A process's address space must therefore stop
// below PLIC -- Uvmalloc already enforces that ceiling.

/// UCpyGlobalKernelPagetable builds a per-process kernel page table:
/// UART, the virtio window, PLIC (but never CLINT -- CLINT sits too low
/// to leave room for a useful user heap below it), kernel text and data,
/// and the trampoline, mirroring Kvminit (through the same Kvmmap) so
/// the process can later extend its own low range into the same table.
func UCpyGlobalKernelPagetable(a *mem.Palloc_t, h *hart.Hart_t, etext riscv.Pa_t, trampolinePA riscv.Pa_t) (*PageTable_t, bool) {
	pt, ok := Uvmcreate(a, h)
	if !ok {
		return nil, false
	}
	pt.Kvmmap(h, uintptr(riscv.UART0), riscv.UART0, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W)
	pt.Kvmmap(h, uintptr(riscv.VIRTIO0), riscv.VIRTIO0, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W)
	pt.Kvmmap(h, uintptr(riscv.PLIC), riscv.PLIC, riscv.PLIC_SZ, riscv.PTE_R|riscv.PTE_W)
	pt.Kvmmap(h, uintptr(riscv.KERNBASE), riscv.KERNBASE, uintptr(etext-riscv.KERNBASE), riscv.PTE_R|riscv.PTE_X)
	pt.Kvmmap(h, uintptr(etext), etext, uintptr(riscv.PHYSTOP-etext), riscv.PTE_R|riscv.PTE_W)
	pt.Kvmmap(h, riscv.TRAMPOLINE, trampolinePA, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_X)
	return pt, true
}

/// UvmcopymapRange mirrors user's mappings over [lo, hi) into this
/// (per-process kernel) page table, stripping PTE_U so the kernel -- not
/// user mode -- can dereference them. Every covered page must already be
/// mapped as a leaf in user; anything else panics.
func (pt *PageTable_t) UvmcopymapRange(h *hart.Hart_t, user *PageTable_t, lo, hi uintptr) {
	lo = pgrounddown(lo)
	hi = pgroundup(hi)
	for i := lo; i < hi; i += riscv.PGSIZE {
		pte, ok := user.Walk(h, i, false)
		if !ok {
			panic("vm: uvmcopymap: walk")
		}
		if *pte&riscv.PTE_V == 0 {
			panic("vm: uvmcopymap: not mapped")
		}
		if *pte&(riscv.PTE_R|riscv.PTE_W|riscv.PTE_X) == 0 {
			panic("vm: uvmcopymap: not a leaf")
		}
		pa := riscv.PTE2PA(*pte)
		flags := *pte & (riscv.PTE_R | riscv.PTE_W | riscv.PTE_X)
		pt.Kvmmap(h, i, pa, riscv.PGSIZE, flags)
	}
}

/// Uvmcopymap mirrors the whole of user's [0, sz) mapping, the initial
/// build of a fresh process's kernel-side mirror.
func (pt *PageTable_t) Uvmcopymap(h *hart.Hart_t, user *PageTable_t, sz uintptr) {
	pt.UvmcopymapRange(h, user, 0, sz)
}

/// UkvmAddmap extends the mirror to cover growth from oldsz to newsz
/// after the user address space has grown.
func (pt *PageTable_t) UkvmAddmap(h *hart.Hart_t, user *PageTable_t, oldsz, newsz uintptr) {
	pt.UvmcopymapRange(h, user, pgroundup(oldsz), pgroundup(newsz))
}

/// UkvmUnmap removes the mirror's mapping for the range the user address
/// space shrank out of, without freeing the underlying frame (the user
/// page table still owns it).
func (pt *PageTable_t) UkvmUnmap(h *hart.Hart_t, oldsz, newsz uintptr) {
	npages := int((pgroundup(oldsz) - pgroundup(newsz)) / riscv.PGSIZE)
	pt.Uvmunmap(h, pgroundup(newsz), npages, false)
}

/// UFreeGlobalKernelPagetable tears down a per-process kernel page
/// table: UART, virtio, PLIC, the whole RAM range, the trampoline, and
/// finally the mirrored user range [0, usz) -- all unmapped without
/// freeing the underlying frames (owned by the user page table or the
/// global map), before the now-leaf-free tree itself is freed.
func (pt *PageTable_t) UFreeGlobalKernelPagetable(h *hart.Hart_t, etext riscv.Pa_t, usz uintptr) {
	pt.Uvmunmap(h, uintptr(riscv.UART0), 1, false)
	pt.Uvmunmap(h, uintptr(riscv.VIRTIO0), 1, false)
	pt.Uvmunmap(h, uintptr(riscv.PLIC), int(riscv.PLIC_SZ/riscv.PGSIZE), false)
	pt.Uvmunmap(h, uintptr(riscv.KERNBASE), int((riscv.PHYSTOP-riscv.KERNBASE)/riscv.PGSIZE), false)
	pt.Uvmunmap(h, riscv.TRAMPOLINE, 1, false)
	if usz > 0 {
		pt.Uvmunmap(h, 0, int(pgroundup(usz)/riscv.PGSIZE), false)
	}
	pt.Freewalk(h)
}
