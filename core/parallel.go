package core

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// LoopOptions tune a parallel loop.
type LoopOptions struct {
	// MaxDegreeOfParallelism caps the number of chunks. Zero or negative
	// means the scheduler's worker count.
	MaxDegreeOfParallelism int
}

// LoopResult describes how a parallel loop ended.
type LoopResult struct {
	// Completed is true when every iteration ran and none called Stop or Break.
	Completed bool

	// LowestBreakIteration is the lowest index that called Break; valid when
	// Broken is true.
	LowestBreakIteration int
	Broken               bool
}

// ForBody is the body of a parallel loop iteration.
type ForBody func(i int, state *LoopState) error

const noBreak = math.MaxInt64

// maxChunkSize keeps a chunk's claim counters within 32 bits each.
const maxChunkSize = math.MaxInt32

// loopInfo is shared by every goroutine working on one loop.
type loopInfo struct {
	ctx         context.Context
	stopped     atomic.Bool
	exceptional atomic.Bool
	lowestBreak atomic.Int64

	mu   sync.Mutex
	errs []error
}

func (li *loopInfo) fail(err error) {
	li.exceptional.Store(true)
	li.mu.Lock()
	li.errs = append(li.errs, err)
	li.mu.Unlock()
}

func (li *loopInfo) breakIndex() (int64, bool) {
	b := li.lowestBreak.Load()
	return b, b != noBreak
}

// halted reports whether no further iteration may start.
func (li *loopInfo) halted() bool {
	return li.stopped.Load() || li.exceptional.Load() || li.ctx.Err() != nil
}

// LoopState lets an iteration end the loop early and see what others did.
type LoopState struct {
	info  *loopInfo
	index int
}

// Stop ends the loop as soon as possible; iterations that have not started
// will not run.
func (s *LoopState) Stop() error {
	if _, broken := s.info.breakIndex(); broken {
		return ErrLoopStopAfterBreak
	}
	s.info.stopped.Store(true)
	return nil
}

// Break ends the loop after all iterations below the current one have run.
// Iterations above the break may still run if they were already in flight.
func (s *LoopState) Break() error {
	if s.info.stopped.Load() {
		return ErrLoopBreakAfterStop
	}
	idx := int64(s.index)
	for {
		cur := s.info.lowestBreak.Load()
		if idx >= cur || s.info.lowestBreak.CompareAndSwap(cur, idx) {
			return nil
		}
	}
}

// IsStopped reports whether any iteration called Stop.
func (s *LoopState) IsStopped() bool { return s.info.stopped.Load() }

// IsExceptional reports whether any iteration failed.
func (s *LoopState) IsExceptional() bool { return s.info.exceptional.Load() }

// LowestBreakIteration returns the lowest index that called Break so far.
func (s *LoopState) LowestBreakIteration() (int, bool) {
	b, ok := s.info.breakIndex()
	return int(b), ok
}

// ShouldExitCurrentIteration reports whether a long iteration should return
// early.
func (s *LoopState) ShouldExitCurrentIteration() bool {
	if s.info.halted() {
		return true
	}
	b, ok := s.info.breakIndex()
	return ok && int64(s.index) > b
}

// rangeChunk is a slice [lo, lo+size) of the loop range. Its state word packs
// the number of indices claimed from the front (low 32 bits) and from the
// back (high 32 bits).
type rangeChunk struct {
	lo    int
	size  uint32
	state atomic.Uint64
}

func packRange(pos, stolen uint32) uint64 { return uint64(stolen)<<32 | uint64(pos) }

func unpackRange(v uint64) (pos, stolen uint32) { return uint32(v), uint32(v >> 32) }

// claimFront hands the owner its next index.
func (c *rangeChunk) claimFront() (int, bool) {
	for {
		v := c.state.Load()
		pos, stolen := unpackRange(v)
		if pos+stolen >= c.size {
			return 0, false
		}
		if c.state.CompareAndSwap(v, packRange(pos+1, stolen)) {
			return c.index(pos), true
		}
	}
}

// claimBack hands a thief the last unclaimed index.
func (c *rangeChunk) claimBack() (int, bool) {
	for {
		v := c.state.Load()
		pos, stolen := unpackRange(v)
		if pos+stolen >= c.size {
			return 0, false
		}
		if c.state.CompareAndSwap(v, packRange(pos, stolen+1)) {
			return c.index(c.size - stolen - 1), true
		}
	}
}

// exhaust marks every unclaimed index as taken.
func (c *rangeChunk) exhaust() {
	for {
		v := c.state.Load()
		pos, stolen := unpackRange(v)
		if pos+stolen >= c.size {
			return
		}
		if c.state.CompareAndSwap(v, packRange(c.size-stolen, stolen)) {
			return
		}
	}
}

func (c *rangeChunk) index(offset uint32) int {
	if offset >= c.size {
		panic(fmt.Sprintf("workstealer: claimed offset %d outside chunk of size %d", offset, c.size))
	}
	return c.lo + int(offset)
}

// splitRange divides [from, to) into n contiguous chunks whose sizes differ
// by at most one.
func splitRange(from, to, n int) []*rangeChunk {
	count := to - from
	chunks := make([]*rangeChunk, n)
	base, extra := count/n, count%n
	lo := from
	for i := range chunks {
		size := base
		if i < extra {
			size++
		}
		chunks[i] = &rangeChunk{lo: lo, size: uint32(size)}
		lo += size
	}
	return chunks
}

// For runs body for every index in [from, to) on s, with the calling
// goroutine participating. Each of N chunks is worked forward by one job
// while idle jobs steal single indices from the backs of other chunks.
//
// Break is best effort: every index below the lowest break is run, but an
// index above it may run when a thief claimed it before the break was seen.
func For(ctx context.Context, s *Scheduler, from, to int, opts LoopOptions, body ForBody) (LoopResult, error) {
	if s == nil {
		return LoopResult{}, ErrNilScheduler
	}
	if body == nil {
		return LoopResult{}, ErrNilJobFunc
	}
	if to < from {
		return LoopResult{}, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, from, to)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	count := to - from
	if count == 0 {
		return LoopResult{Completed: true}, nil
	}

	n := s.WorkerCount()
	if opts.MaxDegreeOfParallelism > 0 {
		n = min(n, opts.MaxDegreeOfParallelism)
	}
	n = min(n, count)
	n = max(n, (count-1)/maxChunkSize+1)

	info := &loopInfo{ctx: ctx}
	info.lowestBreak.Store(noBreak)
	chunks := splitRange(from, to, n)

	jobs := make([]*Job, n)
	for i := range chunks {
		owner := i
		jobs[i] = s.Submit(ctx, func(context.Context) error {
			runChunks(info, chunks, owner, body)
			return nil
		}, CreationNone)
	}
	waitErr := s.WaitAll(ctx, jobs...)

	res := LoopResult{}
	if b, ok := info.breakIndex(); ok {
		res.Broken = true
		res.LowestBreakIteration = int(b)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if agg := NewAggregateError(info.errs...); agg != nil {
		return res, agg
	}
	if waitErr != nil {
		return res, waitErr
	}
	res.Completed = !res.Broken && !info.stopped.Load()
	return res, nil
}

// runChunks works the owner's chunk forward, then steals from the backs of
// the other chunks, scanning from the owner's right and wrapping.
func runChunks(info *loopInfo, chunks []*rangeChunk, owner int, body ForBody) {
	mine := chunks[owner]
	for !info.halted() {
		i, ok := mine.claimFront()
		if !ok {
			break
		}
		if b, broken := info.breakIndex(); broken && int64(i) > b {
			// Everything left here is above the break.
			mine.exhaust()
			break
		}
		runIteration(info, i, body)
	}

	n := len(chunks)
	for k := 1; k < n; k++ {
		victim := chunks[(owner+k)%n]
		for !info.halted() {
			i, ok := victim.claimBack()
			if !ok {
				break
			}
			if b, broken := info.breakIndex(); broken && int64(i) > b {
				if int64(victim.lo) > b {
					victim.exhaust()
					break
				}
				continue
			}
			runIteration(info, i, body)
		}
	}
}

func runIteration(info *loopInfo, i int, body ForBody) {
	defer func() {
		if r := recover(); r != nil {
			info.fail(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	if err := body(i, &LoopState{info: info, index: i}); err != nil {
		info.fail(err)
	}
}

// ForEach runs body for every element of items in parallel.
func ForEach[T any](ctx context.Context, s *Scheduler, items []T, opts LoopOptions, body func(item T, i int, state *LoopState) error) (LoopResult, error) {
	if body == nil {
		return LoopResult{}, ErrNilJobFunc
	}
	return For(ctx, s, 0, len(items), opts, func(i int, state *LoopState) error {
		return body(items[i], i, state)
	})
}

// Invoke runs every fn in parallel and waits for all of them. Failures are
// returned as an *AggregateError.
func Invoke(ctx context.Context, s *Scheduler, fns ...JobFunc) error {
	if s == nil {
		return ErrNilScheduler
	}
	jobs := make([]*Job, len(fns))
	for i, fn := range fns {
		jobs[i] = s.Submit(ctx, fn, CreationNone)
	}
	return s.WaitAll(ctx, jobs...)
}
