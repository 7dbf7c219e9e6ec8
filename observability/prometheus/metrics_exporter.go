package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-work-stealer/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	jobDurationSeconds   *prom.HistogramVec
	jobCompletedTotal    *prom.CounterVec
	jobPanicTotal        *prom.CounterVec
	jobRejectedTotal     *prom.CounterVec
	stealTotal           *prom.CounterVec
	overflowDrained      *prom.GaugeVec
	unobservedFaultTotal *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "workstealer"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.ExponentialBuckets(0.00001, 4, 10)
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Job body execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"scheduler"})
	completedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "job_completed_total",
		Help:      "Total number of jobs reaching a terminal status.",
	}, []string{"scheduler", "status"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "job_panic_total",
		Help:      "Total number of job panics.",
	}, []string{"scheduler"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "job_rejected_total",
		Help:      "Total number of rejected jobs.",
	}, []string{"scheduler", "reason"})
	stealVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "steal_total",
		Help:      "Total number of jobs stolen from peer deques, by thief.",
	}, []string{"scheduler", "worker"})
	drainedVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "overflow_drained",
		Help:      "Size of the last overflow batch moved onto a worker deque.",
	}, []string{"scheduler"})
	unobservedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "unobserved_fault_total",
		Help:      "Total number of faulted jobs disposed without their error being read.",
	}, []string{"scheduler"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if completedVec, err = registerCollector(reg, completedVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if stealVec, err = registerCollector(reg, stealVec); err != nil {
		return nil, err
	}
	if drainedVec, err = registerCollector(reg, drainedVec); err != nil {
		return nil, err
	}
	if unobservedVec, err = registerCollector(reg, unobservedVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		jobDurationSeconds:   durationVec,
		jobCompletedTotal:    completedVec,
		jobPanicTotal:        panicVec,
		jobRejectedTotal:     rejectedVec,
		stealTotal:           stealVec,
		overflowDrained:      drainedVec,
		unobservedFaultTotal: unobservedVec,
	}, nil
}

// RecordJobDuration records job body duration.
func (m *MetricsExporter) RecordJobDuration(schedulerID string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDurationSeconds.WithLabelValues(normalizeLabel(schedulerID, "unknown")).Observe(duration.Seconds())
}

// RecordJobCompleted counts terminal statuses.
func (m *MetricsExporter) RecordJobCompleted(schedulerID string, status core.Status) {
	if m == nil {
		return
	}
	m.jobCompletedTotal.WithLabelValues(normalizeLabel(schedulerID, "unknown"), statusLabel(status)).Inc()
}

// RecordJobPanic records job panic events.
func (m *MetricsExporter) RecordJobPanic(schedulerID string, panicInfo any) {
	if m == nil {
		return
	}
	m.jobPanicTotal.WithLabelValues(normalizeLabel(schedulerID, "unknown")).Inc()
}

// RecordSteal counts a successful steal by workerID.
func (m *MetricsExporter) RecordSteal(schedulerID string, workerID int) {
	if m == nil {
		return
	}
	m.stealTotal.WithLabelValues(normalizeLabel(schedulerID, "unknown"), fmt.Sprint(workerID)).Inc()
}

// RecordQueueDepth records the size of an overflow batch drained by a worker.
func (m *MetricsExporter) RecordQueueDepth(schedulerID string, depth int) {
	if m == nil {
		return
	}
	m.overflowDrained.WithLabelValues(normalizeLabel(schedulerID, "unknown")).Set(float64(depth))
}

// RecordJobRejected records job rejection events.
func (m *MetricsExporter) RecordJobRejected(schedulerID string, reason string) {
	if m == nil {
		return
	}
	m.jobRejectedTotal.WithLabelValues(normalizeLabel(schedulerID, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordUnobservedFault counts unobserved faults.
func (m *MetricsExporter) RecordUnobservedFault(schedulerID string) {
	if m == nil {
		return
	}
	m.unobservedFaultTotal.WithLabelValues(normalizeLabel(schedulerID, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func statusLabel(status core.Status) string {
	switch status {
	case core.StatusRanToCompletion:
		return "ran_to_completion"
	case core.StatusCanceled:
		return "canceled"
	case core.StatusFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
