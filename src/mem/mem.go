// Package mem implements PAlloc, the per-CPU physical page allocator of
// spec section 4.1. Its index-based per-CPU free lists are adapted
// directly from biscuit/src/mem/mem.go's Physmem_t/percpu design (an
// array of Physpg_t entries linked by index rather than by pointer --
// exactly the "index-based arena" spec section 9's design notes prefer
// over the original C's pointer-linked stack).
package mem

import (
	"fmt"

	"golang.org/x/sys/unix"

	"hart"
	"riscv"
	"spinlock"
	"stats"
)

/// NCPU bounds the number of simulated harts this allocator serves,
/// matching the NCPU xv6-riscv itself uses.
const NCPU = 8

/// PGSIZE is the size of one page, re-exported for callers that would
/// rather not import riscv directly.
const PGSIZE = riscv.PGSIZE

// Junk-fill bytes, per spec section 4.1: alloc() fills with 5 so stale
// reads of a freshly allocated page are recognizable; free() fills with a
// different byte (1) to poison dangling references.
const (
	allocJunk = 5
	freeJunk  = 1
)

const noPage = ^uint32(0)

type physpg_t struct {
	nexti uint32
}

type cpufree_t struct {
	lock spinlock.Spinlock_t
	head uint32
}

/// Palloc_t is the per-CPU-partitioned physical page allocator. Pages
/// live in [Start, Start+N*PGSIZE), mirroring the source's
/// [end, PHYSTOP) range; Start plays the role of the `end` linker symbol.
type Palloc_t struct {
	arena  []byte
	pages  []physpg_t
	Start  riscv.Pa_t
	npages int
	percpu [NCPU]cpufree_t

	Allocs stats.Counter_t
	Frees  stats.Counter_t
	Steals stats.Counter_t
}

/// Init reserves npages pages of backing memory (via an anonymous mmap,
/// standing in for the real [end, PHYSTOP) RAM range a bare-metal port
/// would have from the linker and the boot memory map) and places every
/// page on CPU 0's free list. Init must run on one CPU before any other
/// CPU begins, per spec section 4.1.
func Init(start riscv.Pa_t, npages int) (*Palloc_t, error) {
	if npages <= 0 {
		panic("bad npages")
	}
	arena, err := unix.Mmap(-1, 0, npages*riscv.PGSIZE,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mem: reserve %d pages: %w", npages, err)
	}

	p := &Palloc_t{
		arena:  arena,
		pages:  make([]physpg_t, npages),
		Start:  start,
		npages: npages,
	}
	for i := 0; i < npages; i++ {
		p.pages[i].nexti = uint32(i + 1)
	}
	p.pages[npages-1].nexti = noPage
	p.percpu[0].head = 0
	for i := 1; i < NCPU; i++ {
		p.percpu[i].head = noPage
	}
	fmt.Printf("mem: reserved %d pages (%dMB)\n", npages, npages*riscv.PGSIZE>>20)
	return p, nil
}

/// Close releases the backing arena. Tests call this during teardown;
/// a real kernel never does.
func (p *Palloc_t) Close() error {
	return unix.Munmap(p.arena)
}

func (p *Palloc_t) pageBytes(idx uint32) []byte {
	off := int(idx) * riscv.PGSIZE
	return p.arena[off : off+riscv.PGSIZE]
}

/// Dmap returns the byte slice backing the page at physical address pa,
/// the hosted stand-in for a bare-metal direct map: callers dereference
/// page-table pages and data pages through this instead of through a
/// raw pointer into physical RAM. It panics if pa is outside the arena.
func (p *Palloc_t) Dmap(pa riscv.Pa_t) []byte {
	if pa < p.Start || pa >= p.Start+riscv.Pa_t(p.npages)*riscv.PGSIZE {
		panic("mem: dmap of out-of-range address")
	}
	return p.pageBytes(p.idxOf(pa))
}

/// InRange reports whether pa lies within the managed arena.
func (p *Palloc_t) InRange(pa riscv.Pa_t) bool {
	return pa >= p.Start && pa < p.Start+riscv.Pa_t(p.npages)*riscv.PGSIZE
}

func (p *Palloc_t) idxOf(pa riscv.Pa_t) uint32 {
	return uint32((pa - p.Start) / riscv.PGSIZE)
}

func (p *Palloc_t) paOf(idx uint32) riscv.Pa_t {
	return p.Start + riscv.Pa_t(idx)*riscv.PGSIZE
}

/// Alloc returns a page-aligned, kernel-addressable page filled with the
/// recognizable junk pattern, along with its physical address. It
/// returns ok == false only when every per-CPU list is empty.
func (p *Palloc_t) Alloc(h *hart.Hart_t) (pg []byte, pa riscv.Pa_t, ok bool) {
	mine := &p.percpu[h.ID]
	mine.lock.Lock(h)
	if mine.head != noPage {
		idx := mine.head
		mine.head = p.pages[idx].nexti
		mine.lock.Unlock(h)
		return p.finishAlloc(idx), p.paOf(idx), true
	}
	mine.lock.Unlock(h)

	// Steal from peers, one lock at a time, in index order -- never
	// holding two freelist locks simultaneously, so cross-CPU stealing
	// cannot deadlock.
	for i := 0; i < NCPU; i++ {
		if i == h.ID {
			continue
		}
		peer := &p.percpu[i]
		peer.lock.Lock(h)
		if peer.head != noPage {
			idx := peer.head
			peer.head = p.pages[idx].nexti
			peer.lock.Unlock(h)
			p.Steals.Inc()
			return p.finishAlloc(idx), p.paOf(idx), true
		}
		peer.lock.Unlock(h)
	}
	return nil, 0, false
}

func (p *Palloc_t) finishAlloc(idx uint32) []byte {
	p.Allocs.Inc()
	b := p.pageBytes(idx)
	for i := range b {
		b[i] = allocJunk
	}
	return b
}

/// Free returns a page to the caller's own CPU free list. pa must be
/// page-aligned and lie within [Start, Start+N*PGSIZE); violating either
/// is a programming error and panics, per spec section 7.
func (p *Palloc_t) Free(h *hart.Hart_t, pa riscv.Pa_t) {
	if pa%riscv.PGSIZE != 0 {
		panic("mem: free of unaligned page")
	}
	if pa < p.Start || pa >= p.Start+riscv.Pa_t(p.npages)*riscv.PGSIZE {
		panic("mem: free of out-of-range page")
	}
	idx := p.idxOf(pa)
	b := p.pageBytes(idx)
	for i := range b {
		b[i] = freeJunk
	}

	mine := &p.percpu[h.ID]
	mine.lock.Lock(h)
	p.pages[idx].nexti = mine.head
	mine.head = idx
	mine.lock.Unlock(h)
	p.Frees.Inc()
}

/// Freecount returns the number of free pages on CPU id's list, for
/// tests and diagnostics.
func (p *Palloc_t) Freecount(h *hart.Hart_t, id int) int {
	c := &p.percpu[id]
	c.lock.Lock(h)
	defer c.lock.Unlock(h)
	n := 0
	for i := c.head; i != noPage; i = p.pages[i].nexti {
		n++
	}
	return n
}

/// Total returns the number of free pages across every CPU's list.
func (p *Palloc_t) Total(h *hart.Hart_t) int {
	n := 0
	for i := 0; i < NCPU; i++ {
		n += p.Freecount(h, i)
	}
	return n
}
