package core

import (
	"context"
	"errors"
	"testing"
)

// TestJobHistory_Ring verifies eviction order and filtering
// Main test items:
// 1. Only the newest capacity records are retained, newest first
// 2. limit caps the result, limit <= 0 returns everything retained
// 3. keep filters records before the limit is applied
func TestJobHistory_Ring(t *testing.T) {
	h := newJobHistory(3)
	if _, ok := h.last(); ok {
		t.Fatal("last() on empty history reported a record")
	}
	if got := h.recent(0, nil); len(got) != 0 {
		t.Fatalf("recent(0) on empty history = %v", got)
	}

	for i := uint64(1); i <= 5; i++ {
		h.record(JobExecutionRecord{JobID: i, Failed: i%2 == 1})
	}

	got := h.recent(0, nil)
	want := []uint64{5, 4, 3}
	if len(got) != len(want) {
		t.Fatalf("len(recent(0)) = %d, want %d", len(got), len(want))
	}
	for i, r := range got {
		if r.JobID != want[i] {
			t.Errorf("recent(0)[%d].JobID = %d, want %d", i, r.JobID, want[i])
		}
	}

	if got := h.recent(2, nil); len(got) != 2 || got[1].JobID != 4 {
		t.Errorf("recent(2) = %+v, want jobs 5 and 4", got)
	}

	failed := h.recent(1, func(r *JobExecutionRecord) bool { return r.Failed })
	if len(failed) != 1 || failed[0].JobID != 5 {
		t.Errorf("recent(1, failed) = %+v, want job 5", failed)
	}
	if all := h.recent(0, func(r *JobExecutionRecord) bool { return r.Failed }); len(all) != 2 {
		t.Errorf("len(recent(0, failed)) = %d, want 2 (jobs 5 and 3)", len(all))
	}

	if last, ok := h.last(); !ok || last.JobID != 5 {
		t.Errorf("last() = %+v, %v, want job 5", last, ok)
	}
}

// TestScheduler_RecentFailures verifies failed and panicking bodies are
// recorded as failures while successful ones are not
func TestScheduler_RecentFailures(t *testing.T) {
	s := newTestScheduler(t, 2)

	ok := s.Submit(context.Background(), func(context.Context) error { return nil }, CreationNone)
	bad := s.Submit(context.Background(), func(context.Context) error { return errors.New("bad") }, CreationNone)
	boom := s.Submit(context.Background(), func(context.Context) error { panic("boom") }, CreationNone)
	_ = s.WaitAll(context.Background(), ok, bad, boom)

	failures := s.RecentFailures(0)
	if len(failures) != 2 {
		t.Fatalf("len(RecentFailures) = %d, want 2", len(failures))
	}
	var panicked int
	for _, r := range failures {
		if r.JobID == ok.ID() {
			t.Errorf("successful job %d listed as failure", r.JobID)
		}
		if r.Panicked {
			panicked++
		}
	}
	if panicked != 1 {
		t.Errorf("panicked records = %d, want 1", panicked)
	}
}
