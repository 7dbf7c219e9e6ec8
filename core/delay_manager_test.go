package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// DelayManager Tests
// =============================================================================

type activationLog struct {
	mu   sync.Mutex
	jobs []*Job
	at   []time.Time
}

func (l *activationLog) activate(j *Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs = append(l.jobs, j)
	l.at = append(l.at, time.Now())
}

func (l *activationLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

func delayJob() *Job {
	return NewJob(context.Background(), func(ctx context.Context) error { return nil }, CreationNone)
}

func TestDelayManager_BatchProcessing(t *testing.T) {
	log := &activationLog{}
	dm := NewDelayManager(log.activate)
	defer dm.Stop()

	// Add 100 jobs that all expire at approximately the same time
	for range 100 {
		dm.Add(delayJob(), 50*time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)

	if got := log.count(); got != 100 {
		t.Errorf("activated %d jobs, want 100", got)
	}
	if dm.JobCount() != 0 {
		t.Errorf("JobCount() = %d, want 0", dm.JobCount())
	}
}

func TestDelayManager_ConcurrentAdd(t *testing.T) {
	var activated atomic.Int32
	dm := NewDelayManager(func(*Job) { activated.Add(1) })
	defer dm.Stop()

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dm.Add(delayJob(), time.Duration(i%10)*time.Millisecond)
		}()
	}
	wg.Wait()

	time.Sleep(150 * time.Millisecond)

	if got := activated.Load(); got != 100 {
		t.Errorf("activated %d jobs, want 100", got)
	}
}

// TestDelayManager_Ordering verifies earlier deadlines activate first
// Given: Jobs added with delays 60ms, 20ms and 40ms
// When: All of them become due
// Then: They are activated in deadline order
func TestDelayManager_Ordering(t *testing.T) {
	// Arrange
	log := &activationLog{}
	dm := NewDelayManager(log.activate)
	defer dm.Stop()
	slow, fast, mid := delayJob(), delayJob(), delayJob()

	// Act
	dm.Add(slow, 60*time.Millisecond)
	dm.Add(fast, 20*time.Millisecond)
	dm.Add(mid, 40*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	// Assert
	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.jobs) != 3 {
		t.Fatalf("activated %d jobs, want 3", len(log.jobs))
	}
	if log.jobs[0] != fast || log.jobs[1] != mid || log.jobs[2] != slow {
		t.Error("jobs were not activated in deadline order")
	}
}

func TestDelayManager_AccurateTiming(t *testing.T) {
	log := &activationLog{}
	dm := NewDelayManager(log.activate)
	defer dm.Stop()

	start := time.Now()
	dm.Add(delayJob(), 30*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.at) != 1 {
		t.Fatalf("activated %d jobs, want 1", len(log.at))
	}
	if elapsed := log.at[0].Sub(start); elapsed < 30*time.Millisecond {
		t.Errorf("activated after %v, want >= 30ms", elapsed)
	}
}

// TestDelayManager_StopReturnsPending verifies Stop hands back jobs not yet due
// Main test items:
// 1. Stop returns every pending job and activates none of them
// 2. Add after Stop returns false
func TestDelayManager_StopReturnsPending(t *testing.T) {
	log := &activationLog{}
	dm := NewDelayManager(log.activate)

	dm.Add(delayJob(), time.Hour)
	dm.Add(delayJob(), time.Hour)
	if dm.JobCount() != 2 {
		t.Errorf("JobCount() = %d, want 2", dm.JobCount())
	}

	pending := dm.Stop()

	if len(pending) != 2 {
		t.Errorf("Stop() returned %d jobs, want 2", len(pending))
	}
	if log.count() != 0 {
		t.Errorf("activated %d jobs, want 0", log.count())
	}
	if dm.Add(delayJob(), time.Millisecond) {
		t.Error("Add() after Stop = true, want false")
	}
}

func TestDelayManager_EmptyQueue(t *testing.T) {
	dm := NewDelayManager(func(*Job) {})

	time.Sleep(20 * time.Millisecond)

	if dm.JobCount() != 0 {
		t.Errorf("JobCount() = %d, want 0", dm.JobCount())
	}
	if pending := dm.Stop(); len(pending) != 0 {
		t.Errorf("Stop() returned %d jobs, want 0", len(pending))
	}
}

// TestDelayManager_Remove verifies removed jobs are never activated
// Main test items:
// 1. Remove reports true once and false afterwards
// 2. The remaining job still activates on time
// 3. A job cannot be scheduled twice
func TestDelayManager_Remove(t *testing.T) {
	log := &activationLog{}
	dm := NewDelayManager(log.activate)
	defer dm.Stop()
	keep, drop := delayJob(), delayJob()

	dm.Add(drop, 20*time.Millisecond)
	dm.Add(keep, 30*time.Millisecond)
	if dm.Add(keep, time.Millisecond) {
		t.Error("Add() of an already scheduled job = true, want false")
	}

	if !dm.Remove(drop) {
		t.Fatal("Remove() = false for a pending job")
	}
	if dm.Remove(drop) {
		t.Error("second Remove() = true, want false")
	}
	time.Sleep(100 * time.Millisecond)

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.jobs) != 1 || log.jobs[0] != keep {
		t.Errorf("activated %d jobs, want only the kept one", len(log.jobs))
	}
}
