package mem

import (
	"sync"
	"testing"

	"hart"
	"riscv"
)

func mkpalloc(t *testing.T, npages int) (*Palloc_t, *hart.Hart_t) {
	t.Helper()
	p, err := Init(riscv.KERNBASE, npages)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, hart.Mkhart(0)
}

func TestAllocAligned(t *testing.T) {
	p, h := mkpalloc(t, 8)
	for i := 0; i < 8; i++ {
		_, pa, ok := p.Alloc(h)
		if !ok {
			t.Fatalf("alloc %d: out of memory", i)
		}
		if pa%riscv.PGSIZE != 0 {
			t.Fatalf("pa %#x not page aligned", pa)
		}
		if pa < p.Start || pa >= p.Start+riscv.Pa_t(8)*riscv.PGSIZE {
			t.Fatalf("pa %#x out of range", pa)
		}
	}
	if _, _, ok := p.Alloc(h); ok {
		t.Fatal("alloc succeeded after exhaustion")
	}
}

func TestFreeThenAllocLIFO(t *testing.T) {
	p, h := mkpalloc(t, 4)
	_, pa, ok := p.Alloc(h)
	if !ok {
		t.Fatal("alloc failed")
	}
	p.Free(h, pa)
	_, pa2, ok := p.Alloc(h)
	if !ok {
		t.Fatal("alloc after free failed")
	}
	if pa2 != pa {
		t.Fatalf("expected LIFO reuse of %#x, got %#x", pa, pa2)
	}
}

// Allocator round-trip, spec section 8 scenario 1.
func TestCrossCPUSteal(t *testing.T) {
	const k = 4
	p, h0 := mkpalloc(t, k)
	h1 := hart.Mkhart(1)

	if p.Freecount(h0, 0) != k {
		t.Fatalf("cpu0 freelist = %d, want %d", p.Freecount(h0, 0), k)
	}

	_, pa, ok := p.Alloc(h1)
	if !ok {
		t.Fatal("cpu1 alloc failed")
	}
	if p.Freecount(h1, 0) != k-1 {
		t.Fatalf("cpu0 freelist after steal = %d, want %d", p.Freecount(h1, 0), k-1)
	}
	if p.Freecount(h1, 1) != 0 {
		t.Fatalf("cpu1 freelist should still be empty before its own free")
	}

	p.Free(h1, pa)
	if p.Freecount(h1, 1) != 1 {
		t.Fatalf("cpu1 freelist after its own free = %d, want 1", p.Freecount(h1, 1))
	}
}

func TestFreeMisalignedPanics(t *testing.T) {
	p, h := mkpalloc(t, 2)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on misaligned free")
		}
	}()
	p.Free(h, p.Start+1)
}

func TestFreeOutOfRangePanics(t *testing.T) {
	p, h := mkpalloc(t, 2)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-range free")
		}
	}()
	p.Free(h, p.Start+riscv.Pa_t(100)*riscv.PGSIZE)
}

// Concurrency stress: N harts doing random alloc/free leave the total
// free-page count unchanged, spec section 8.
func TestConcurrentAllocFreeConservesCount(t *testing.T) {
	const npages = 256
	const harts = 8
	const iters = 500

	p, ctl := mkpalloc(t, npages)
	before := p.Total(ctl)

	var wg sync.WaitGroup
	for id := 0; id < harts; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			h := hart.Mkhart(id)
			var held []riscv.Pa_t
			for i := 0; i < iters; i++ {
				if len(held) == 0 || i%2 == 0 {
					if _, pa, ok := p.Alloc(h); ok {
						held = append(held, pa)
					}
				} else {
					pa := held[len(held)-1]
					held = held[:len(held)-1]
					p.Free(h, pa)
				}
			}
			for _, pa := range held {
				p.Free(h, pa)
			}
		}(id)
	}
	wg.Wait()

	after := p.Total(ctl)
	if after != before {
		t.Fatalf("free page count changed: before=%d after=%d", before, after)
	}
}
