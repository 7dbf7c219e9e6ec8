package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-work-stealer/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("workstealer", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordJobDuration("sched-a", 250*time.Millisecond)
	exporter.RecordJobCompleted("sched-a", core.StatusFaulted)
	exporter.RecordJobPanic("sched-a", "panic")
	exporter.RecordSteal("sched-a", 2)
	exporter.RecordQueueDepth("sched-a", 7)
	exporter.RecordJobRejected("sched-a", "closed")
	exporter.RecordUnobservedFault("sched-a")

	if got := testutil.ToFloat64(exporter.jobPanicTotal.WithLabelValues("sched-a")); got != 1 {
		t.Fatalf("panic total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.jobCompletedTotal.WithLabelValues("sched-a", "faulted")); got != 1 {
		t.Fatalf("faulted total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.stealTotal.WithLabelValues("sched-a", "2")); got != 1 {
		t.Fatalf("steal total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.overflowDrained.WithLabelValues("sched-a")); got != 7 {
		t.Fatalf("overflow drained = %v, want 7", got)
	}
	if got := testutil.ToFloat64(exporter.jobRejectedTotal.WithLabelValues("sched-a", "closed")); got != 1 {
		t.Fatalf("rejected total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.unobservedFaultTotal.WithLabelValues("sched-a")); got != 1 {
		t.Fatalf("unobserved total = %v, want 1", got)
	}

	histCount, err := histogramSampleCount(exporter.jobDurationSeconds.WithLabelValues("sched-a"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 1 {
		t.Fatalf("duration sample count = %d, want 1", histCount)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("workstealer", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("workstealer", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordJobPanic("sched-a", nil)
	second.RecordJobPanic("sched-a", nil)

	got := testutil.ToFloat64(first.jobPanicTotal.WithLabelValues("sched-a"))
	if got != 2 {
		t.Fatalf("shared panic counter = %v, want 2", got)
	}
}

func TestMetricsExporter_WiredIntoScheduler(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}
	s := core.NewScheduler(&core.SchedulerConfig{
		ID:      "wired",
		Workers: 2,
		Logger:  core.NewNoOpLogger(),
		Metrics: exporter,
	})
	defer s.Shutdown()

	jobs := make([]*core.Job, 10)
	for i := range jobs {
		jobs[i] = s.Submit(context.Background(), func(ctx context.Context) error { return nil }, core.CreationNone)
	}
	if err := s.WaitAll(context.Background(), jobs...); err != nil {
		t.Fatalf("WaitAll failed: %v", err)
	}

	if got := testutil.ToFloat64(exporter.jobCompletedTotal.WithLabelValues("wired", "ran_to_completion")); got != 10 {
		t.Fatalf("completed total = %v, want 10", got)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
