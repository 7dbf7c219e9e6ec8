package workstealer_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	workstealer "github.com/Swind/go-work-stealer"
	"github.com/Swind/go-work-stealer/core"
)

// TestDefaultScheduler_Lifecycle verifies the singleton helpers
// Main test items:
// 1. InitDefaultScheduler is idempotent
// 2. Submit, WaitAll, For and Invoke run on the default scheduler
// 3. DefaultScheduler panics after shutdown
func TestDefaultScheduler_Lifecycle(t *testing.T) {
	workstealer.InitDefaultSchedulerWithConfig(&core.SchedulerConfig{ID: "default", Workers: 2, Logger: core.NewNoOpLogger()})
	first := workstealer.DefaultScheduler()
	workstealer.InitDefaultScheduler(8)
	if workstealer.DefaultScheduler() != first {
		t.Fatal("InitDefaultScheduler replaced an existing scheduler")
	}
	if first.WorkerCount() != 2 {
		t.Errorf("WorkerCount() = %d, want 2", first.WorkerCount())
	}

	var ran atomic.Int32
	a := workstealer.Submit(context.Background(), func(ctx context.Context) error { ran.Add(1); return nil })
	b := workstealer.SubmitAfter(context.Background(), 10*time.Millisecond, func(ctx context.Context) error { ran.Add(1); return nil })
	if err := workstealer.WaitAll(context.Background(), a, b); err != nil {
		t.Fatalf("WaitAll() = %v", err)
	}
	if _, err := workstealer.For(context.Background(), 0, 10, func(i int, _ *workstealer.LoopState) error { ran.Add(1); return nil }); err != nil {
		t.Fatalf("For() = %v", err)
	}
	if err := workstealer.Invoke(context.Background(), func(ctx context.Context) error { ran.Add(1); return nil }); err != nil {
		t.Fatalf("Invoke() = %v", err)
	}
	if ran.Load() != 13 {
		t.Errorf("ran = %d, want 13", ran.Load())
	}

	if err := workstealer.ShutdownDefaultSchedulerGraceful(time.Second); err != nil {
		t.Errorf("ShutdownDefaultSchedulerGraceful() = %v", err)
	}
	if !first.IsClosed() {
		t.Error("default scheduler still open after shutdown")
	}

	defer func() {
		if recover() == nil {
			t.Error("DefaultScheduler() after shutdown did not panic")
		}
	}()
	workstealer.DefaultScheduler()
}
