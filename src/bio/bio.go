// Package bio implements BufCache, the disk block cache of spec section
// 4.3: a fixed set of buffers hashed into BUCKETS bucket lists, each
// guarded by its own lock, with cross-bucket stealing when a bucket runs
// dry. The bucket/list shape is grounded on biscuit/src/fs/blk.go's
// BlkList_t (a container/list-backed intrusive list) and
// biscuit/src/hashtable/hashtable.go's per-bucket lock idiom; bget's
// algorithm follows original_source/kernel/bio.c line for line, with one
// deliberate correction (see bget's step 4 below).
package bio

import (
	"container/list"

	"hart"
	"sleeplock"
	"spinlock"
	"stats"
)

/// BSIZE is the size in bytes of one disk block.
const BSIZE = 4096

/// BUCKETS is the number of bucket lists the cache hashes into, a small
/// prime as the source uses.
const BUCKETS = 13

/// Disk_i is the external disk driver collaborator; spec section 1 scopes
/// virtio out, so only this interface is specified here.
type Disk_i interface {
	Rw(b *Buf_t, write bool)
}

/// Buf_t is one cached disk block. Only one hart may hold its sleep lock
/// at a time; Valid and the contents of Data are defined only while held.
type Buf_t struct {
	Dev     uint32
	Blockno uint32
	valid   bool
	refcnt  int
	lock    *sleeplock.Sleeplock_t
	Data    [BSIZE]byte

	elem *list.Element
}

type bucket_t struct {
	mu spinlock.Spinlock_t
	l  *list.List
}

/// BufCache_t is the fixed-size, bucket-locked buffer cache.
type BufCache_t struct {
	disk    Disk_i
	buckets [BUCKETS]bucket_t
	bufs    []Buf_t

	Hits      stats.Counter_t
	Evictions stats.Counter_t
	Steals    stats.Counter_t
}

/// MkBufCache allocates nbuf buffers and places every one on bucket 0's
/// list, per binit.
func MkBufCache(disk Disk_i, nbuf int) *BufCache_t {
	bc := &BufCache_t{
		disk: disk,
		bufs: make([]Buf_t, nbuf),
	}
	for i := range bc.buckets {
		bc.buckets[i].l = list.New()
	}
	for i := range bc.bufs {
		b := &bc.bufs[i]
		b.lock = sleeplock.MkSleeplock()
		b.elem = bc.buckets[0].l.PushBack(b)
	}
	return bc
}

func hashOf(blockno uint32) int {
	return int(blockno % BUCKETS)
}

func findLive(l *list.List, dev, blockno uint32) *Buf_t {
	for e := l.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Buf_t)
		if b.Dev == dev && b.Blockno == blockno {
			return b
		}
	}
	return nil
}

// findFree scans l tail-to-head (the LRU direction: brelse reinserts at
// the head, so the tail holds the least recently released buffer) for a
// buffer with refcnt == 0.
func findFree(l *list.List) *Buf_t {
	for e := l.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*Buf_t)
		if b.refcnt == 0 {
			return b
		}
	}
	return nil
}

/// Bget returns the buffer for (dev, blockno), sleep-lock held. It is the
/// educational heart of the cache: see the numbered steps below, which
/// mirror spec section 4.3 exactly including the required re-validation
/// in step 4.
func (bc *BufCache_t) Bget(h *hart.Hart_t, dev, blockno uint32) *Buf_t {
	hash := hashOf(blockno)
	bucket := &bc.buckets[hash]

	// Step 1: cached already?
	bucket.mu.Lock(h)
	if b := findLive(bucket.l, dev, blockno); b != nil {
		b.refcnt++
		bucket.mu.Unlock(h)
		bc.Hits.Inc()
		b.lock.Acquire(h.ID)
		return b
	}

	// Step 2: a free buffer in this bucket, searched tail to head.
	if b := findFree(bucket.l); b != nil {
		b.Dev = dev
		b.Blockno = blockno
		b.valid = false
		b.refcnt = 1
		bucket.mu.Unlock(h)
		bc.Evictions.Inc()
		b.lock.Acquire(h.ID)
		return b
	}

	// Step 3: never hold two bucket locks while searching elsewhere.
	bucket.mu.Unlock(h)

	// Step 4: steal a free buffer from another bucket.
	for i := 0; i < BUCKETS; i++ {
		if i == hash {
			continue
		}
		peer := &bc.buckets[i]
		peer.mu.Lock(h)
		b := findFree(peer.l)
		if b == nil {
			peer.mu.Unlock(h)
			continue
		}
		peer.l.Remove(b.elem)

		bucket.mu.Lock(h)
		// Re-validate: another hart may have cached (dev, blockno) into
		// bucket h while we searched elsewhere. Spec section 4.3 requires
		// this re-scan; on hit, the stolen buffer goes back to bucket i
		// instead of being used.
		if existing := findLive(bucket.l, dev, blockno); existing != nil {
			b.elem = peer.l.PushBack(b)
			existing.refcnt++
			bucket.mu.Unlock(h)
			peer.mu.Unlock(h)
			bc.Hits.Inc()
			existing.lock.Acquire(h.ID)
			return existing
		}

		b.Dev = dev
		b.Blockno = blockno
		b.valid = false
		b.refcnt = 1
		b.elem = bucket.l.PushFront(b)
		bucket.mu.Unlock(h)
		peer.mu.Unlock(h)
		bc.Steals.Inc()
		b.lock.Acquire(h.ID)
		return b
	}

	panic("bio: bget: no buffers")
}

/// Bread returns the buffer for (dev, blockno), sleep-lock held and
/// contents valid, reading from disk if this is the first use.
func (bc *BufCache_t) Bread(h *hart.Hart_t, dev, blockno uint32) *Buf_t {
	b := bc.Bget(h, dev, blockno)
	if !b.valid {
		bc.disk.Rw(b, false)
		b.valid = true
	}
	return b
}

/// Bwrite writes b's contents to disk. The caller must hold b's sleep
/// lock.
func (bc *BufCache_t) Bwrite(h *hart.Hart_t, b *Buf_t) {
	if !b.lock.Holding(h.ID) {
		panic("bio: bwrite: buffer not locked")
	}
	bc.disk.Rw(b, true)
}

/// Brelse releases a locked buffer. The caller must hold its sleep lock.
/// On refcnt reaching zero, the buffer moves to the head of its bucket's
/// list, the most-recently-used position.
func (bc *BufCache_t) Brelse(h *hart.Hart_t, b *Buf_t) {
	if !b.lock.Holding(h.ID) {
		panic("bio: brelse: buffer not locked")
	}
	b.lock.Release(h.ID)

	hash := hashOf(b.Blockno)
	bucket := &bc.buckets[hash]
	bucket.mu.Lock(h)
	b.refcnt--
	if b.refcnt == 0 {
		bucket.l.Remove(b.elem)
		b.elem = bucket.l.PushFront(b)
	}
	bucket.mu.Unlock(h)
}

/// Bpin increments b's reference count under its bucket lock, keeping it
/// resident regardless of sleep-lock state; used by callers such as a log
/// layer that need a buffer to outlive the sleep-lock hold that read it.
func (bc *BufCache_t) Bpin(h *hart.Hart_t, b *Buf_t) {
	bucket := &bc.buckets[hashOf(b.Blockno)]
	bucket.mu.Lock(h)
	b.refcnt++
	bucket.mu.Unlock(h)
}

/// Bunpin is the inverse of Bpin.
func (bc *BufCache_t) Bunpin(h *hart.Hart_t, b *Buf_t) {
	bucket := &bc.buckets[hashOf(b.Blockno)]
	bucket.mu.Lock(h)
	b.refcnt--
	bucket.mu.Unlock(h)
}
