package core

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

// TestFor_EveryIndexOnce verifies conservation across sizes and pool widths
// Given: Ranges of several lengths and schedulers of 1, 2 and 4 workers
// When: For runs over each range
// Then: Every index in the range runs exactly once and nothing outside it runs
func TestFor_EveryIndexOnce(t *testing.T) {
	for _, workers := range []int{1, 2, 4} {
		s := newTestScheduler(t, workers)
		for _, n := range []int{1, 2, 3, 7, 100, 1000, 10007} {
			// Arrange
			const from = 5
			counts := make([]atomic.Int32, n)

			// Act
			res, err := For(context.Background(), s, from, from+n, LoopOptions{}, func(i int, _ *LoopState) error {
				if i < from || i >= from+n {
					t.Errorf("index %d outside [%d, %d)", i, from, from+n)
					return nil
				}
				counts[i-from].Add(1)
				return nil
			})

			// Assert
			if err != nil || !res.Completed {
				t.Fatalf("workers=%d n=%d: For() = (%+v, %v), want completed", workers, n, res, err)
			}
			for i := range counts {
				if c := counts[i].Load(); c != 1 {
					t.Fatalf("workers=%d n=%d: index %d ran %d times", workers, n, i+from, c)
				}
			}
		}
	}
}

// TestFor_EmptyAndInvalidRanges verifies the range edge cases
// Main test items:
// 1. from == to completes without running the body
// 2. to < from returns ErrInvalidRange
// 3. A nil scheduler or body is rejected
func TestFor_EmptyAndInvalidRanges(t *testing.T) {
	s := newTestScheduler(t, 2)
	body := func(i int, _ *LoopState) error {
		t.Errorf("body ran for %d", i)
		return nil
	}

	if res, err := For(context.Background(), s, 3, 3, LoopOptions{}, body); err != nil || !res.Completed {
		t.Errorf("empty range = (%+v, %v), want completed", res, err)
	}
	if _, err := For(context.Background(), s, 5, 2, LoopOptions{}, body); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("reversed range err = %v, want ErrInvalidRange", err)
	}
	if _, err := For(context.Background(), nil, 0, 1, LoopOptions{}, body); !errors.Is(err, ErrNilScheduler) {
		t.Errorf("nil scheduler err = %v, want ErrNilScheduler", err)
	}
	if _, err := For(context.Background(), s, 0, 1, LoopOptions{}, nil); !errors.Is(err, ErrNilJobFunc) {
		t.Errorf("nil body err = %v, want ErrNilJobFunc", err)
	}
}

// TestFor_MaxDegreeOfParallelism verifies the chunk cap
// Given: A 4-worker scheduler and MaxDegreeOfParallelism of 1
// When: For runs over 200 indices
// Then: The single chunk is worked front to back in order
func TestFor_MaxDegreeOfParallelism(t *testing.T) {
	s := newTestScheduler(t, 4)
	var order []int

	res, err := For(context.Background(), s, 0, 200, LoopOptions{MaxDegreeOfParallelism: 1}, func(i int, _ *LoopState) error {
		order = append(order, i)
		return nil
	})

	if err != nil || !res.Completed {
		t.Fatalf("For() = (%+v, %v)", res, err)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("order[%d] = %d, want %d", i, got, i)
		}
	}
	if len(order) != 200 {
		t.Errorf("len(order) = %d, want 200", len(order))
	}
}

// TestFor_Break verifies iterations below the break all run
// Given: A loop of 10000 where index 5000 calls Break
// When: The loop finishes
// Then: Every index below 5000 ran, LowestBreakIteration is 5000 and Completed is false
func TestFor_Break(t *testing.T) {
	s := newTestScheduler(t, 4)
	const n, breakAt = 10000, 5000
	counts := make([]atomic.Int32, n)

	res, err := For(context.Background(), s, 0, n, LoopOptions{}, func(i int, st *LoopState) error {
		counts[i].Add(1)
		if i == breakAt {
			return st.Break()
		}
		return nil
	})

	if err != nil {
		t.Fatalf("For() err = %v", err)
	}
	if res.Completed || !res.Broken || res.LowestBreakIteration != breakAt {
		t.Errorf("result = %+v, want broken at %d", res, breakAt)
	}
	for i := 0; i < breakAt; i++ {
		if counts[i].Load() != 1 {
			t.Fatalf("index %d below the break ran %d times", i, counts[i].Load())
		}
	}
	for i := range counts {
		if counts[i].Load() > 1 {
			t.Fatalf("index %d ran %d times", i, counts[i].Load())
		}
	}
}

// TestFor_Stop verifies Stop ends the loop early
func TestFor_Stop(t *testing.T) {
	s := newTestScheduler(t, 2)
	var ran atomic.Int32

	res, err := For(context.Background(), s, 0, 100000, LoopOptions{}, func(i int, st *LoopState) error {
		ran.Add(1)
		if i == 10 {
			if err := st.Stop(); err != nil {
				return err
			}
			if err := st.Break(); !errors.Is(err, ErrLoopBreakAfterStop) {
				t.Errorf("Break() after Stop = %v, want ErrLoopBreakAfterStop", err)
			}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("For() err = %v", err)
	}
	if res.Completed || res.Broken {
		t.Errorf("result = %+v, want stopped", res)
	}
	if ran.Load() == 100000 {
		t.Error("Stop did not skip any iteration")
	}
}

func TestLoopState_StopAfterBreak(t *testing.T) {
	info := &loopInfo{ctx: context.Background()}
	info.lowestBreak.Store(noBreak)
	st := &LoopState{info: info, index: 7}

	if err := st.Break(); err != nil {
		t.Fatalf("Break() = %v", err)
	}
	if err := st.Stop(); !errors.Is(err, ErrLoopStopAfterBreak) {
		t.Errorf("Stop() after Break = %v, want ErrLoopStopAfterBreak", err)
	}
	if b, ok := st.LowestBreakIteration(); !ok || b != 7 {
		t.Errorf("LowestBreakIteration() = (%d, %v), want (7, true)", b, ok)
	}
	if (&LoopState{info: info, index: 9}).ShouldExitCurrentIteration() != true {
		t.Error("index above the break should exit")
	}
	if (&LoopState{info: info, index: 3}).ShouldExitCurrentIteration() {
		t.Error("index below the break should not exit")
	}
}

// TestFor_ErrorsAndPanics verifies failures are aggregated
// Given: A loop where index 0 returns an error and index 500 panics
// When: The loop finishes
// Then: Both failures are in the returned *AggregateError
func TestFor_ErrorsAndPanics(t *testing.T) {
	s := newTestScheduler(t, 2)
	var arrived atomic.Int32
	// Both failing iterations start before either fails, so neither is skipped.
	rendezvous := func() {
		arrived.Add(1)
		for deadline := time.Now().Add(5 * time.Second); arrived.Load() < 2 && time.Now().Before(deadline); {
			runtime.Gosched()
		}
	}

	_, err := For(context.Background(), s, 0, 1000, LoopOptions{}, func(i int, st *LoopState) error {
		switch i {
		case 0:
			rendezvous()
			return errBoom
		case 500:
			rendezvous()
			panic("iteration panic")
		}
		return nil
	})

	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("For() err = %v, want *AggregateError", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("err = %v, want errBoom inside", err)
	}
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "iteration panic" {
		t.Errorf("err = %v, want a PanicError inside", err)
	}
}

// TestFor_ContextCanceled verifies a canceled context stops the loop
func TestFor_ContextCanceled(t *testing.T) {
	s := newTestScheduler(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := For(ctx, s, 0, 1000000, LoopOptions{}, func(i int, _ *LoopState) error {
		if i == 100 {
			cancel()
		}
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("For() err = %v, want context.Canceled", err)
	}
}

// TestFor_NestedLoops verifies loops can nest on a single worker
func TestFor_NestedLoops(t *testing.T) {
	s := newTestScheduler(t, 1)
	var total atomic.Int64

	_, err := For(context.Background(), s, 0, 8, LoopOptions{}, func(i int, _ *LoopState) error {
		_, err := For(context.Background(), s, 0, 8, LoopOptions{}, func(j int, _ *LoopState) error {
			total.Add(1)
			return nil
		})
		return err
	})

	if err != nil {
		t.Fatalf("For() err = %v", err)
	}
	if total.Load() != 64 {
		t.Errorf("total = %d, want 64", total.Load())
	}
}

func TestRangeChunk_Claims(t *testing.T) {
	c := &rangeChunk{lo: 10, size: 4}

	front, _ := c.claimFront()
	back, _ := c.claimBack()
	if front != 10 || back != 13 {
		t.Errorf("claims = (%d, %d), want (10, 13)", front, back)
	}
	c.exhaust()
	if _, ok := c.claimFront(); ok {
		t.Error("claimFront() after exhaust = true")
	}
	if _, ok := c.claimBack(); ok {
		t.Error("claimBack() after exhaust = true")
	}

	defer func() {
		if recover() == nil {
			t.Error("index outside chunk did not panic")
		}
	}()
	c.index(4)
}

func TestSplitRange(t *testing.T) {
	chunks := splitRange(0, 10, 3)
	sizes := []uint32{4, 3, 3}
	lo := 0
	for i, c := range chunks {
		if c.size != sizes[i] || c.lo != lo {
			t.Errorf("chunk %d = [%d, +%d), want [%d, +%d)", i, c.lo, c.size, lo, sizes[i])
		}
		lo += int(c.size)
	}
}

func TestForEach(t *testing.T) {
	s := newTestScheduler(t, 4)
	items := []string{"a", "b", "c", "d", "e"}
	seen := make([]string, len(items))

	res, err := ForEach(context.Background(), s, items, LoopOptions{}, func(item string, i int, _ *LoopState) error {
		seen[i] = item
		return nil
	})

	if err != nil || !res.Completed {
		t.Fatalf("ForEach() = (%+v, %v)", res, err)
	}
	for i := range items {
		if seen[i] != items[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], items[i])
		}
	}
}

func TestInvoke(t *testing.T) {
	s := newTestScheduler(t, 2)
	var a, b atomic.Bool

	err := Invoke(context.Background(), s,
		func(ctx context.Context) error { a.Store(true); return nil },
		func(ctx context.Context) error { b.Store(true); return errBoom },
	)

	if !a.Load() || !b.Load() {
		t.Error("not every function ran")
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("Invoke() = %v, want errBoom", err)
	}
	if err := Invoke(context.Background(), nil); !errors.Is(err, ErrNilScheduler) {
		t.Errorf("Invoke(nil) = %v, want ErrNilScheduler", err)
	}
}
