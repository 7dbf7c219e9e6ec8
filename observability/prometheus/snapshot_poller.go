package prometheus

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/Swind/go-work-stealer/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	queued    *prom.GaugeVec
	active    *prom.GaugeVec
	delayed   *prom.GaugeVec
	workers   *prom.GaugeVec
	running   *prom.GaugeVec
	completed *prom.GaugeVec

	workerDeque    *prom.GaugeVec
	workerExecuted *prom.GaugeVec
	workerStolen   *prom.GaugeVec
	workerIdle     *prom.GaugeVec

	stateMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "workstealer",
			Name:      name,
			Help:      help,
		}, labels)
	}

	p := &SnapshotPoller{
		interval:   interval,
		schedulers: make(map[string]SchedulerSnapshotProvider),

		queued:    gauge("scheduler_queued", "Jobs waiting in the overflow queue and worker deques.", "scheduler"),
		active:    gauge("scheduler_active", "Job bodies executing right now.", "scheduler"),
		delayed:   gauge("scheduler_delayed", "Jobs waiting for their activation delay.", "scheduler"),
		workers:   gauge("scheduler_workers", "Worker count per scheduler.", "scheduler"),
		running:   gauge("scheduler_running", "Scheduler running state (1=running, 0=stopped).", "scheduler"),
		completed: gauge("scheduler_jobs", "Terminal job count snapshot by status.", "scheduler", "status"),

		workerDeque:    gauge("worker_deque_length", "Jobs in a worker's deque.", "scheduler", "worker"),
		workerExecuted: gauge("worker_executed", "Jobs executed by a worker.", "scheduler", "worker"),
		workerStolen:   gauge("worker_stolen", "Jobs a worker stole from peers.", "scheduler", "worker"),
		workerIdle:     gauge("worker_idle_sleeps", "Times a worker went to sleep for lack of work.", "scheduler", "worker"),
	}

	for _, vec := range []**prom.GaugeVec{
		&p.queued, &p.active, &p.delayed, &p.workers, &p.running, &p.completed,
		&p.workerDeque, &p.workerExecuted, &p.workerStolen, &p.workerIdle,
	} {
		registered, err := registerCollector(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.started {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.started {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.started = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()

	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.queued.WithLabelValues(name).Set(float64(stats.Queued))
		p.active.WithLabelValues(name).Set(float64(stats.Active))
		p.delayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.workers.WithLabelValues(name).Set(float64(stats.Workers))
		if stats.Running {
			p.running.WithLabelValues(name).Set(1)
		} else {
			p.running.WithLabelValues(name).Set(0)
		}
		p.completed.WithLabelValues(name, "ran_to_completion").Set(float64(stats.Completed))
		p.completed.WithLabelValues(name, "faulted").Set(float64(stats.Faulted))
		p.completed.WithLabelValues(name, "canceled").Set(float64(stats.Canceled))
		p.completed.WithLabelValues(name, "rejected").Set(float64(stats.Rejected))

		for _, w := range stats.WorkerDetail {
			id := strconv.Itoa(w.ID)
			p.workerDeque.WithLabelValues(name, id).Set(float64(w.Deque))
			p.workerExecuted.WithLabelValues(name, id).Set(float64(w.Executed))
			p.workerStolen.WithLabelValues(name, id).Set(float64(w.Stolen))
			p.workerIdle.WithLabelValues(name, id).Set(float64(w.Idle))
		}
	}
}
