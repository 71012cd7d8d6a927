// Package vm implements PageTable, the three-level Sv39 virtual-memory
// walker and mapper of spec section 4.2. The algorithm shape -- walk
// descending two interior levels, mappages building leaf PTEs one page
// at a time, freewalk's post-order recursive teardown, the page-at-a-time
// copyin/copyout loops -- follows original_source/kernel/vm.c exactly;
// the struct/lock idiom (an explicit *hart.Hart_t threaded through every
// call that touches shared allocator state, a Palloc_t-backed Dmap
// instead of a raw pointer) follows biscuit/src/vm/as.go's Vm_t.
package vm

import (
	"unsafe"

	"errno"
	"hart"
	"mem"
	"riscv"
)

/// PageTable_t is a root (or interior) page table together with the
/// allocator that backs it. Every exported operation takes the root
/// explicitly -- never the live SATP -- per spec section 4.2.
type PageTable_t struct {
	alloc *mem.Palloc_t
	Root  riscv.Pa_t
}

func pteAt(pg []byte, idx uintptr) *riscv.Pte_t {
	return (*riscv.Pte_t)(unsafe.Pointer(&pg[idx*8]))
}

func zero(pg []byte) {
	for i := range pg {
		pg[i] = 0
	}
}

/// Uvmcreate allocates an empty, zeroed page table. It returns ok ==
/// false if the allocator is out of memory.
func Uvmcreate(a *mem.Palloc_t, h *hart.Hart_t) (*PageTable_t, bool) {
	pg, pa, ok := a.Alloc(h)
	if !ok {
		return nil, false
	}
	zero(pg)
	return &PageTable_t{alloc: a, Root: pa}, true
}

/// Walk returns the address of the leaf PTE for va, descending (and,
/// if allocFlag, creating) the two interior levels above it. It panics
/// if va is outside the addressable range, per spec section 7.
func (pt *PageTable_t) Walk(h *hart.Hart_t, va uintptr, allocFlag bool) (*riscv.Pte_t, bool) {
	if va >= riscv.MAXVA {
		panic("vm: walk: va >= MAXVA")
	}
	table := pt.Root
	for level := 2; level > 0; level-- {
		pg := pt.alloc.Dmap(table)
		pte := pteAt(pg, riscv.PX(level, va))
		if *pte&riscv.PTE_V != 0 {
			table = riscv.PTE2PA(*pte)
			continue
		}
		if !allocFlag {
			return nil, false
		}
		npg, npa, ok := pt.alloc.Alloc(h)
		if !ok {
			return nil, false
		}
		zero(npg)
		*pte = riscv.PA2PTE(npa) | riscv.PTE_V
		table = npa
	}
	pg := pt.alloc.Dmap(table)
	return pteAt(pg, riscv.PX(0, va)), true
}

/// Walkaddr resolves a user virtual address to its physical frame. It
/// returns ok == false unless the leaf is both valid and user-accessible,
/// per spec section 4.2 -- this must only be used to look up user pages.
func (pt *PageTable_t) Walkaddr(h *hart.Hart_t, va uintptr) (riscv.Pa_t, bool) {
	if va >= riscv.MAXVA {
		return 0, false
	}
	pte, ok := pt.Walk(h, va, false)
	if !ok {
		return 0, false
	}
	if *pte&riscv.PTE_V == 0 || *pte&riscv.PTE_U == 0 {
		return 0, false
	}
	return riscv.PTE2PA(*pte), true
}

func pgrounddown(a uintptr) uintptr { return a &^ (riscv.PGSIZE - 1) }
func pgroundup(a uintptr) uintptr   { return (a + riscv.PGSIZE - 1) &^ (riscv.PGSIZE - 1) }

/// Mappages creates leaf PTEs covering [va, va+size) mapped to physical
/// addresses starting at pa. va/pa/size need not be aligned; mapping
/// proceeds in whole pages from PGROUNDDOWN(va). It panics on remap of
/// an already-valid leaf and returns ok == false if an interior table
/// could not be allocated.
func (pt *PageTable_t) Mappages(h *hart.Hart_t, va uintptr, size uintptr, pa riscv.Pa_t, perm riscv.Pte_t) bool {
	if size == 0 {
		panic("vm: mappages: zero size")
	}
	a := pgrounddown(va)
	last := pgrounddown(va + size - 1)
	for {
		pte, ok := pt.Walk(h, a, true)
		if !ok {
			return false
		}
		if *pte&riscv.PTE_V != 0 {
			panic("vm: mappages: remap")
		}
		*pte = riscv.PA2PTE(pa) | perm | riscv.PTE_V
		if a == last {
			break
		}
		a += riscv.PGSIZE
		pa += riscv.PGSIZE
	}
	return true
}

/// Uvmunmap removes npages of mappings starting at the page-aligned va.
/// Every covered leaf must exist and be a leaf; violating either panics.
/// If doFree, the underlying physical frame is returned to the allocator.
func (pt *PageTable_t) Uvmunmap(h *hart.Hart_t, va uintptr, npages int, doFree bool) {
	if va%riscv.PGSIZE != 0 {
		panic("vm: uvmunmap: not aligned")
	}
	for a := va; a < va+uintptr(npages)*riscv.PGSIZE; a += riscv.PGSIZE {
		pte, ok := pt.Walk(h, a, false)
		if !ok {
			panic("vm: uvmunmap: walk")
		}
		if *pte&riscv.PTE_V == 0 {
			panic("vm: uvmunmap: not mapped")
		}
		if *pte&(riscv.PTE_R|riscv.PTE_W|riscv.PTE_X) == 0 {
			panic("vm: uvmunmap: not a leaf")
		}
		if doFree {
			pt.alloc.Free(h, riscv.PTE2PA(*pte))
		}
		*pte = 0
	}
}

/// Uvminit loads src (which must fit in one page) at user virtual
/// address 0 of a freshly created page table, for the very first
/// process. It returns the physical address of the backing page.
func (pt *PageTable_t) Uvminit(h *hart.Hart_t, src []byte) (riscv.Pa_t, bool) {
	if len(src) >= riscv.PGSIZE {
		panic("vm: uvminit: more than a page")
	}
	pg, pa, ok := pt.alloc.Alloc(h)
	if !ok {
		return 0, false
	}
	zero(pg)
	copy(pg, src)
	if !pt.Mappages(h, 0, riscv.PGSIZE, pa, riscv.PTE_W|riscv.PTE_R|riscv.PTE_X|riscv.PTE_U) {
		pt.alloc.Free(h, pa)
		return 0, false
	}
	return pa, true
}

/// Uvmalloc grows the address space from oldsz to newsz, one page at a
/// time. newsz is clamped below the PLIC MMIO window -- the fixed
/// ceiling a per-process kernel page table mirror reserves -- so user
/// growth can never overlap it. It returns ok == false (rolling back any
/// pages it had already mapped) on allocation failure or if newsz would
/// cross that ceiling.
func (pt *PageTable_t) Uvmalloc(h *hart.Hart_t, oldsz, newsz uintptr) (uintptr, bool) {
	if newsz > uintptr(riscv.PLIC) {
		return oldsz, false
	}
	if newsz < oldsz {
		return oldsz, true
	}
	oldsz = pgroundup(oldsz)
	for a := oldsz; a < newsz; a += riscv.PGSIZE {
		pg, pa, ok := pt.alloc.Alloc(h)
		if !ok {
			pt.Uvmdealloc(h, a, oldsz)
			return 0, false
		}
		zero(pg)
		if !pt.Mappages(h, a, riscv.PGSIZE, pa, riscv.PTE_W|riscv.PTE_X|riscv.PTE_R|riscv.PTE_U) {
			pt.alloc.Free(h, pa)
			pt.Uvmdealloc(h, a, oldsz)
			return 0, false
		}
	}
	return newsz, true
}

/// Uvmdealloc shrinks the address space from oldsz to newsz, freeing
/// whole pages no longer covered, and returns the new size.
func (pt *PageTable_t) Uvmdealloc(h *hart.Hart_t, oldsz, newsz uintptr) uintptr {
	if newsz >= oldsz {
		return oldsz
	}
	if pgroundup(newsz) < pgroundup(oldsz) {
		npages := int((pgroundup(oldsz) - pgroundup(newsz)) / riscv.PGSIZE)
		pt.Uvmunmap(h, pgroundup(newsz), npages, true)
	}
	return newsz
}

/// Freewalk recursively frees a page-table tree whose leaves have
/// already been removed. It panics if any valid leaf remains.
func (pt *PageTable_t) Freewalk(h *hart.Hart_t) {
	pt.freewalk(h, pt.Root)
}

func (pt *PageTable_t) freewalk(h *hart.Hart_t, table riscv.Pa_t) {
	pg := pt.alloc.Dmap(table)
	for i := uintptr(0); i < 512; i++ {
		pte := pteAt(pg, i)
		if *pte&riscv.PTE_V != 0 && *pte&(riscv.PTE_R|riscv.PTE_W|riscv.PTE_X) == 0 {
			pt.freewalk(h, riscv.PTE2PA(*pte))
			*pte = 0
		} else if *pte&riscv.PTE_V != 0 {
			panic("vm: freewalk: leaf")
		}
	}
	pt.alloc.Free(h, table)
}

/// Uvmfree releases every user mapping in [0, sz) and then the page
/// table itself.
func (pt *PageTable_t) Uvmfree(h *hart.Hart_t, sz uintptr) {
	if sz > 0 {
		pt.Uvmunmap(h, 0, int(pgroundup(sz)/riscv.PGSIZE), true)
	}
	pt.Freewalk(h)
}

/// Uvmcopy duplicates every mapped page of src covering [0, sz) into
/// dst, copying both the PTE and the backing physical memory. On
/// failure it unwinds whatever it had already copied into dst.
func (src *PageTable_t) Uvmcopy(h *hart.Hart_t, dst *PageTable_t, sz uintptr) bool {
	var i uintptr
	for i = 0; i < sz; i += riscv.PGSIZE {
		pte, ok := src.Walk(h, i, false)
		if !ok {
			panic("vm: uvmcopy: pte should exist")
		}
		if *pte&riscv.PTE_V == 0 {
			panic("vm: uvmcopy: page not present")
		}
		pa := riscv.PTE2PA(*pte)
		flags := *pte & (riscv.PTE_R | riscv.PTE_W | riscv.PTE_X | riscv.PTE_U | riscv.PTE_G | riscv.PTE_A | riscv.PTE_D)

		npg, npa, ok := dst.alloc.Alloc(h)
		if !ok {
			dst.Uvmunmap(h, 0, int(i/riscv.PGSIZE), true)
			return false
		}
		copy(npg, src.alloc.Dmap(pa))
		if !dst.Mappages(h, i, riscv.PGSIZE, npa, flags) {
			dst.alloc.Free(h, npa)
			dst.Uvmunmap(h, 0, int(i/riscv.PGSIZE), true)
			return false
		}
	}
	return true
}

/// Uvmclear removes the PTE_U bit at va, used to mark the user stack
/// guard page inaccessible from user mode.
func (pt *PageTable_t) Uvmclear(h *hart.Hart_t, va uintptr) {
	pte, ok := pt.Walk(h, va, false)
	if !ok {
		panic("vm: uvmclear: walk")
	}
	*pte &^= riscv.PTE_U
}

/// Copyout copies src into the user address space at dstva, walking one
/// page at a time. It fails (ok == false) on the first unmapped page.
func (pt *PageTable_t) Copyout(h *hart.Hart_t, dstva uintptr, src []byte) bool {
	for len(src) > 0 {
		va0 := pgrounddown(dstva)
		pa0, ok := pt.Walkaddr(h, va0)
		if !ok {
			return false
		}
		n := riscv.PGSIZE - (dstva - va0)
		if n > uintptr(len(src)) {
			n = uintptr(len(src))
		}
		dst := pt.alloc.Dmap(pa0)[dstva-va0:]
		copy(dst, src[:n])
		src = src[n:]
		dstva = va0 + riscv.PGSIZE
	}
	return true
}

/// Copyin copies len(dst) bytes from user virtual address srcva into
/// dst, walking one page at a time. It fails on the first unmapped page.
func (pt *PageTable_t) Copyin(h *hart.Hart_t, dst []byte, srcva uintptr) bool {
	for len(dst) > 0 {
		va0 := pgrounddown(srcva)
		pa0, ok := pt.Walkaddr(h, va0)
		if !ok {
			return false
		}
		n := riscv.PGSIZE - (srcva - va0)
		if n > uintptr(len(dst)) {
			n = uintptr(len(dst))
		}
		src := pt.alloc.Dmap(pa0)[srcva-va0:]
		copy(dst[:n], src)
		dst = dst[n:]
		srcva = va0 + riscv.PGSIZE
	}
	return true
}

/// Copyinstr copies a NUL-terminated string from user virtual address
/// srcva into dst, stopping at the first NUL or after max bytes. It
/// returns the number of bytes copied (excluding the NUL) and whether a
/// terminating NUL was found within max bytes and every touched page
/// was mapped.
func (pt *PageTable_t) Copyinstr(h *hart.Hart_t, dst []byte, srcva uintptr, max int) (int, bool) {
	got := 0
	for got < max {
		va0 := pgrounddown(srcva)
		pa0, ok := pt.Walkaddr(h, va0)
		if !ok {
			return got, false
		}
		n := riscv.PGSIZE - (srcva - va0)
		if n > uintptr(max-got) {
			n = uintptr(max - got)
		}
		src := pt.alloc.Dmap(pa0)[srcva-va0:]
		for i := uintptr(0); i < n; i++ {
			if src[i] == 0 {
				return got, true
			}
			if got >= len(dst) {
				return got, false
			}
			dst[got] = src[i]
			got++
		}
		srcva = va0 + riscv.PGSIZE
	}
	return got, false
}

/// CopyoutErr is Copyout reporting failure as errno.EFAULT instead of a
/// bare bool, for callers above vm that speak the ambient negative-Err_t
/// convention of spec section 7 (a syscall layer handing a bad user
/// pointer back to its caller, rather than panicking on it).
func (pt *PageTable_t) CopyoutErr(h *hart.Hart_t, dstva uintptr, src []byte) errno.Err_t {
	if !pt.Copyout(h, dstva, src) {
		return errno.EFAULT
	}
	return 0
}

/// CopyinErr is Copyin reporting failure as errno.EFAULT instead of a bare
/// bool, for the same reason as CopyoutErr.
func (pt *PageTable_t) CopyinErr(h *hart.Hart_t, dst []byte, srcva uintptr) errno.Err_t {
	if !pt.Copyin(h, dst, srcva) {
		return errno.EFAULT
	}
	return 0
}

/// CopyinstrErr is Copyinstr reporting an unterminated-or-unmapped string
/// as errno.EFAULT instead of a bare bool, keeping the byte count Copyinstr
/// already returns.
func (pt *PageTable_t) CopyinstrErr(h *hart.Hart_t, dst []byte, srcva uintptr, max int) (int, errno.Err_t) {
	n, ok := pt.Copyinstr(h, dst, srcva, max)
	if !ok {
		return n, errno.EFAULT
	}
	return n, 0
}
