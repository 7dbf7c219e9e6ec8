package core

import (
	"sync/atomic"
)

const defaultDequeCapacity = 32

// PopResult reports the outcome of a deque pop.
type PopResult int

const (
	// PopSucceed: an item was removed
	PopSucceed PopResult = iota
	// PopEmpty: nothing to take
	PopEmpty
	// PopAbort: lost a race on top; the caller should move on
	PopAbort
)

func (r PopResult) String() string {
	switch r {
	case PopSucceed:
		return "succeed"
	case PopEmpty:
		return "empty"
	case PopAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Deque is a Chase-Lev work-stealing deque.
//
// The owning worker pushes and pops at the bottom (LIFO). Any other goroutine
// may take from the top (FIFO) with PopTop. bottom is written only by the
// owner; top only ever moves forward, by CAS.
//
// Slots are atomic pointers so that a stealer reading a slot the owner is
// rewriting after a wrap never races at the memory-model level; a stale read
// is discarded by the failing CAS on top.
type Deque[T any] struct {
	_      cacheLinePad
	top    atomic.Int64
	_      cacheLinePad
	bottom atomic.Int64
	_      cacheLinePad
	ring   atomic.Pointer[ring[T]]
}

type cacheLinePad [64]byte

// ring is immutable in size. A grown deque gets a new ring; old rings stay
// reachable from in-flight stealers until they drop them.
type ring[T any] struct {
	mask  int64
	slots []atomic.Pointer[T]
}

func newRing[T any](capacity int64) *ring[T] {
	return &ring[T]{
		mask:  capacity - 1,
		slots: make([]atomic.Pointer[T], capacity),
	}
}

func (r *ring[T]) capacity() int64 { return r.mask + 1 }

func (r *ring[T]) get(i int64) *T { return r.slots[i&r.mask].Load() }

func (r *ring[T]) put(i int64, v *T) { r.slots[i&r.mask].Store(v) }

// grow copies the live window [top, bottom) into a ring twice the size.
func (r *ring[T]) grow(top, bottom int64) *ring[T] {
	next := newRing[T](r.capacity() * 2)
	for i := top; i < bottom; i++ {
		next.put(i, r.get(i))
	}
	return next
}

// NewDeque creates a deque whose capacity is rounded up to a power of two.
func NewDeque[T any](capacity int) *Deque[T] {
	if capacity <= 0 {
		capacity = defaultDequeCapacity
	}
	d := &Deque[T]{}
	d.ring.Store(newRing[T](nextPowerOfTwo(int64(capacity))))
	return d
}

func nextPowerOfTwo(n int64) int64 {
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// PushBottom adds an item at the owner end. Owner only.
func (d *Deque[T]) PushBottom(item *T) {
	b := d.bottom.Load()
	t := d.top.Load()
	r := d.ring.Load()

	if b-t >= r.capacity()-1 {
		r = r.grow(t, b)
		d.ring.Store(r)
	}

	r.put(b, item)
	// Publishing bottom makes the slot write visible to stealers.
	d.bottom.Store(b + 1)
}

// PopBottom removes the newest item. Owner only.
func (d *Deque[T]) PopBottom() (*T, PopResult) {
	b := d.bottom.Load() - 1
	r := d.ring.Load()
	d.bottom.Store(b)

	t := d.top.Load()
	size := b - t
	if size < 0 {
		// Emptied concurrently by stealers.
		d.bottom.Store(t)
		return nil, PopEmpty
	}

	item := r.get(b)
	if size > 0 {
		return item, PopSucceed
	}

	// Last element: race the stealers for it on top.
	result := PopSucceed
	if !d.top.CompareAndSwap(t, t+1) {
		item = nil
		result = PopEmpty
	}
	d.bottom.Store(t + 1)
	return item, result
}

// PopTop removes the oldest item. Safe for any goroutine.
func (d *Deque[T]) PopTop() (*T, PopResult) {
	t := d.top.Load()
	b := d.bottom.Load()
	if t >= b {
		return nil, PopEmpty
	}

	// The ring loaded after bottom holds [t, b): growth copies the live
	// window, and a ring swap is published before the bottom that needs it.
	item := d.ring.Load().get(t)
	if !d.top.CompareAndSwap(t, t+1) {
		return nil, PopAbort
	}
	return item, PopSucceed
}

// Len returns a snapshot of the number of live items.
func (d *Deque[T]) Len() int {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// IsEmpty reports whether the deque looked empty.
func (d *Deque[T]) IsEmpty() bool {
	return d.Len() == 0
}

// Capacity returns the size of the current ring.
func (d *Deque[T]) Capacity() int {
	return int(d.ring.Load().capacity())
}
