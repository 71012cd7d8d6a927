package vm

import (
	"testing"

	"errno"
	"hart"
	"mem"
	"riscv"
)

func mkpt(t *testing.T, npages int) (*mem.Palloc_t, *hart.Hart_t, *PageTable_t) {
	t.Helper()
	a, err := mem.Init(riscv.KERNBASE, npages)
	if err != nil {
		t.Fatalf("mem.Init: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	h := hart.Mkhart(0)
	pt, ok := Uvmcreate(a, h)
	if !ok {
		t.Fatal("uvmcreate: out of memory")
	}
	return a, h, pt
}

func TestWalkAllocThenLookupIdempotent(t *testing.T) {
	_, h, pt := mkpt(t, 16)
	pte1, ok := pt.Walk(h, 0x1000, true)
	if !ok {
		t.Fatal("walk alloc failed")
	}
	pte2, ok := pt.Walk(h, 0x1000, false)
	if !ok {
		t.Fatal("walk lookup failed")
	}
	if pte1 != pte2 {
		t.Fatal("walk with allocFlag=false did not find the same leaf")
	}
}

func TestWalkAboveMaxvaPanics(t *testing.T) {
	_, h, pt := mkpt(t, 4)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on va >= MAXVA")
		}
	}()
	pt.Walk(h, riscv.MAXVA, false)
}

func TestMappagesWalkaddrRoundTrip(t *testing.T) {
	a, h, pt := mkpt(t, 16)
	_, pa, ok := a.Alloc(h)
	if !ok {
		t.Fatal("alloc failed")
	}
	if !pt.Mappages(h, 0x2000, riscv.PGSIZE, pa, riscv.PTE_R|riscv.PTE_W|riscv.PTE_U) {
		t.Fatal("mappages failed")
	}
	got, ok := pt.Walkaddr(h, 0x2000)
	if !ok {
		t.Fatal("walkaddr failed after mappages")
	}
	if got != pa {
		t.Fatalf("walkaddr = %#x, want %#x", got, pa)
	}
}

func TestMappagesRemapPanics(t *testing.T) {
	a, h, pt := mkpt(t, 16)
	_, pa, _ := a.Alloc(h)
	if !pt.Mappages(h, 0x3000, riscv.PGSIZE, pa, riscv.PTE_R|riscv.PTE_W) {
		t.Fatal("first mappages failed")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on remap")
		}
	}()
	_, pa2, _ := a.Alloc(h)
	pt.Mappages(h, 0x3000, riscv.PGSIZE, pa2, riscv.PTE_R|riscv.PTE_W)
}

func TestUvmunmapThenRemapSucceeds(t *testing.T) {
	a, h, pt := mkpt(t, 16)
	_, pa, _ := a.Alloc(h)
	if !pt.Mappages(h, 0x4000, riscv.PGSIZE, pa, riscv.PTE_R|riscv.PTE_W) {
		t.Fatal("mappages failed")
	}
	pt.Uvmunmap(h, 0x4000, 1, false)
	_, pa2, _ := a.Alloc(h)
	if !pt.Mappages(h, 0x4000, riscv.PGSIZE, pa2, riscv.PTE_R|riscv.PTE_W) {
		t.Fatal("remap after unmap failed")
	}
}

func TestFreewalkPanicsOnRemainingLeaf(t *testing.T) {
	a, h, pt := mkpt(t, 16)
	_, pa, _ := a.Alloc(h)
	pt.Mappages(h, 0x5000, riscv.PGSIZE, pa, riscv.PTE_R)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic freeing a table with a live leaf")
		}
	}()
	pt.Freewalk(h)
}

func TestUvmcopyProducesDistinctPhysicalPages(t *testing.T) {
	a, h, src := mkpt(t, 32)
	dst, ok := Uvmcreate(a, h)
	if !ok {
		t.Fatal("uvmcreate dst failed")
	}

	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = byte(i)
	}
	if _, ok := src.Uvminit(h, buf); !ok {
		t.Fatal("uvminit failed")
	}
	if !src.Uvmcopy(h, dst, riscv.PGSIZE) {
		t.Fatal("uvmcopy failed")
	}

	srcPA, ok := src.Walkaddr(h, 0)
	if !ok {
		t.Fatal("src walkaddr failed")
	}
	dstPA, ok := dst.Walkaddr(h, 0)
	if !ok {
		t.Fatal("dst walkaddr failed")
	}
	if srcPA == dstPA {
		t.Fatal("uvmcopy did not allocate a distinct physical page")
	}
	if string(a.Dmap(srcPA)[:64]) != string(a.Dmap(dstPA)[:64]) {
		t.Fatal("uvmcopy did not preserve page contents")
	}
}

// Address-space grow/shrink end to end, spec section 8 scenario 2.
func TestUvmallocDeallocRoundTrip(t *testing.T) {
	_, h, pt := mkpt(t, 64)
	sz, ok := pt.Uvmalloc(h, 0, 4*riscv.PGSIZE)
	if !ok {
		t.Fatal("uvmalloc failed")
	}
	if sz != 4*riscv.PGSIZE {
		t.Fatalf("uvmalloc returned %#x, want %#x", sz, 4*riscv.PGSIZE)
	}
	for i := uintptr(0); i < 4; i++ {
		if _, ok := pt.Walkaddr(h, i*riscv.PGSIZE); !ok {
			t.Fatalf("page %d not mapped after uvmalloc", i)
		}
	}

	newsz := pt.Uvmdealloc(h, sz, riscv.PGSIZE)
	if newsz != riscv.PGSIZE {
		t.Fatalf("uvmdealloc returned %#x, want %#x", newsz, riscv.PGSIZE)
	}
	if _, ok := pt.Walkaddr(h, 0); !ok {
		t.Fatal("page 0 should still be mapped")
	}
	if _, ok := pt.Walkaddr(h, 2*riscv.PGSIZE); ok {
		t.Fatal("page 2 should have been unmapped by uvmdealloc")
	}
}

func TestUvmallocRejectsPastPlic(t *testing.T) {
	_, h, pt := mkpt(t, 4)
	if _, ok := pt.Uvmalloc(h, 0, uintptr(riscv.PLIC)+riscv.PGSIZE); ok {
		t.Fatal("uvmalloc should reject growth past the PLIC ceiling")
	}
}

func TestCopyoutCopyinRoundTrip(t *testing.T) {
	a, h, pt := mkpt(t, 16)
	if _, ok := pt.Uvmalloc(h, 0, riscv.PGSIZE); !ok {
		t.Fatal("uvmalloc failed")
	}
	_ = a

	want := []byte("hello from the kernel")
	if !pt.Copyout(h, 16, want) {
		t.Fatal("copyout failed")
	}
	got := make([]byte, len(want))
	if !pt.Copyin(h, got, 16) {
		t.Fatal("copyin failed")
	}
	if string(got) != string(want) {
		t.Fatalf("copyin round trip = %q, want %q", got, want)
	}
}

func TestCopyinstrStopsAtNUL(t *testing.T) {
	_, h, pt := mkpt(t, 16)
	if _, ok := pt.Uvmalloc(h, 0, riscv.PGSIZE); !ok {
		t.Fatal("uvmalloc failed")
	}
	msg := append([]byte("short\x00trailing-junk"), 0)
	if !pt.Copyout(h, 0, msg) {
		t.Fatal("copyout failed")
	}
	dst := make([]byte, 64)
	n, found := pt.Copyinstr(h, dst, 0, len(dst))
	if !found {
		t.Fatal("expected to find terminating NUL")
	}
	if string(dst[:n]) != "short" {
		t.Fatalf("copyinstr = %q, want %q", dst[:n], "short")
	}
}

func TestCopyoutErrReportsEFAULT(t *testing.T) {
	_, h, pt := mkpt(t, 16)
	if _, ok := pt.Uvmalloc(h, 0, riscv.PGSIZE); !ok {
		t.Fatal("uvmalloc failed")
	}

	if e := pt.CopyoutErr(h, 16, []byte("mapped")); e != 0 {
		t.Fatalf("copyoutErr on a mapped page = %v, want ok", e)
	}
	if e := pt.CopyoutErr(h, 10*riscv.PGSIZE, []byte("unmapped")); e != errno.EFAULT {
		t.Fatalf("copyoutErr on an unmapped page = %v, want EFAULT", e)
	}
}

func TestCopyinErrReportsEFAULT(t *testing.T) {
	_, h, pt := mkpt(t, 16)
	if _, ok := pt.Uvmalloc(h, 0, riscv.PGSIZE); !ok {
		t.Fatal("uvmalloc failed")
	}
	pt.Copyout(h, 0, []byte("hello"))

	got := make([]byte, 5)
	if e := pt.CopyinErr(h, got, 0); e != 0 {
		t.Fatalf("copyinErr on a mapped page = %v, want ok", e)
	}
	if e := pt.CopyinErr(h, got, 10*riscv.PGSIZE); e != errno.EFAULT {
		t.Fatalf("copyinErr on an unmapped page = %v, want EFAULT", e)
	}
}

func TestKvminitMapsFixedRegions(t *testing.T) {
	a, err := mem.Init(riscv.KERNBASE, 256)
	if err != nil {
		t.Fatalf("mem.Init: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	h := hart.Mkhart(0)

	trampg, tramppa, ok := a.Alloc(h)
	if !ok {
		t.Fatal("alloc trampoline page failed")
	}
	_ = trampg

	etext := riscv.KERNBASE + 4096
	pt, ok := Kvminit(a, h, etext, tramppa)
	if !ok {
		t.Fatal("kvminit failed")
	}

	pte, ok := pt.Walk(h, uintptr(riscv.UART0), false)
	if !ok || *pte&riscv.PTE_V == 0 {
		t.Fatal("kvminit did not map UART0")
	}
	pte, ok = pt.Walk(h, riscv.TRAMPOLINE, false)
	if !ok || *pte&riscv.PTE_V == 0 {
		t.Fatal("kvminit did not map the trampoline")
	}
	if riscv.PTE2PA(*pte) != tramppa {
		t.Fatalf("trampoline mapped to %#x, want %#x", riscv.PTE2PA(*pte), tramppa)
	}
}

func TestUvmcopymapMirrorsWithoutUserBit(t *testing.T) {
	a, h, user := mkpt(t, 256)
	buf := make([]byte, 32)
	if _, ok := user.Uvminit(h, buf); !ok {
		t.Fatal("uvminit failed")
	}

	trampg, tramppa, ok := a.Alloc(h)
	if !ok {
		t.Fatal("alloc trampoline page failed")
	}
	_ = trampg
	etext := riscv.KERNBASE + 4096

	kpt, ok := UCpyGlobalKernelPagetable(a, h, etext, tramppa)
	if !ok {
		t.Fatal("ucpyglobalkernelpagetable failed")
	}
	kpt.Uvmcopymap(h, user, riscv.PGSIZE)

	pte, ok := kpt.Walk(h, 0, false)
	if !ok || *pte&riscv.PTE_V == 0 {
		t.Fatal("mirror did not copy the user mapping")
	}
	if *pte&riscv.PTE_U != 0 {
		t.Fatal("mirror must not carry PTE_U")
	}

	kpt.UFreeGlobalKernelPagetable(h, etext, riscv.PGSIZE)
}
