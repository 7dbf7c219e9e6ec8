package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Swind/go-work-stealer/core"
)

func TestParseDefaultYAML(t *testing.T) {
	f, err := Parse([]byte(DefaultYAML))
	if err != nil {
		t.Fatalf("Parse(DefaultYAML) returned error: %v", err)
	}
	if f.Scheduler.StealRounds != 2 {
		t.Fatalf("expected steal_rounds 2, got %d", f.Scheduler.StealRounds)
	}
	if f.PollInterval() != time.Second {
		t.Fatalf("expected poll interval 1s, got %v", f.PollInterval())
	}
}

func TestLoadSchedulerConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsbench.yaml")
	data := strings.TrimSpace(`
scheduler:
  id: bench
  workers: 3
  worker_priority: 5
  deque_capacity: 64
  idle_backoff:
    min: 100us
    max: 5ms
logging:
  level: debug
  format: json
`)
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	cfg, err := f.SchedulerConfig(core.NewNoOpLogger())
	if err != nil {
		t.Fatalf("SchedulerConfig returned error: %v", err)
	}
	if cfg.ID != "bench" || cfg.Workers != 3 || cfg.WorkerPriority != 5 || cfg.InitialDequeCapacity != 64 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.IdleBackoff.Min != 100*time.Microsecond || cfg.IdleBackoff.Max != 5*time.Millisecond {
		t.Fatalf("unexpected backoff: %+v", cfg.IdleBackoff)
	}
	if cfg.IdleBackoff.Ratio != core.DefaultIdleBackoff().Ratio {
		t.Fatalf("expected default ratio, got %v", cfg.IdleBackoff.Ratio)
	}
	if lvl, _ := f.LogLevel(); lvl != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %v", lvl)
	}

	s := core.NewScheduler(cfg)
	defer s.Shutdown()
	if s.ID() != "bench" || s.WorkerCount() != 3 {
		t.Fatalf("scheduler built with id %q and %d workers", s.ID(), s.WorkerCount())
	}
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"negative workers": "scheduler:\n  workers: -1\n",
		"bad duration":     "scheduler:\n  idle_backoff:\n    min: soon\n",
		"max below min":    "scheduler:\n  idle_backoff:\n    min: 5ms\n    max: 1ms\n",
		"low ratio":        "scheduler:\n  idle_backoff:\n    ratio: 0.5\n",
		"priority range":   "scheduler:\n  worker_priority: 40\n",
		"unknown level":    "logging:\n  level: loud\n",
		"unknown format":   "logging:\n  format: xml\n",
		"unknown key":      "scheduler:\n  threads: 4\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEmptyDocumentUsesDefaults(t *testing.T) {
	f, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) returned error: %v", err)
	}
	cfg, err := f.SchedulerConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 0 || cfg.IdleBackoff != (core.IdleBackoff{}) {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	f := &File{Logging: LoggingSection{Level: "warn", Format: "json"}}
	logger, err := f.Logger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	if out := buf.String(); strings.Contains(out, "dropped") || !strings.Contains(out, `"message":"kept"`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", " 2ms "); err != nil || d != 2*time.Millisecond {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Fatalf("expected default, got %v", d)
	}
}
