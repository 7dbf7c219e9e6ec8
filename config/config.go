// Package config loads scheduler settings from a YAML file.
//
// Durations are written as Go duration strings ("50us", "10ms"). Zero or
// missing values fall back to the scheduler's own defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Swind/go-work-stealer/core"
)

// DefaultYAML is a commented starting point for a config file.
const DefaultYAML = `# go-work-stealer configuration
scheduler:
  # id: bench
  workers: 0            # 0 = GOMAXPROCS
  steal_rounds: 2
  worker_priority: 0    # nice value applied to worker threads (linux)
  deque_capacity: 32
  history_capacity: 100
  idle_backoff:
    min: 50us
    max: 10ms
    ratio: 2

logging:
  level: info           # debug, info, warn, error, disabled
  format: console       # console or json

metrics:
  addr: ""              # e.g. ":9090" to serve /metrics
  poll_interval: 1s
`

// File models the YAML document.
type File struct {
	Scheduler SchedulerSection `yaml:"scheduler"`
	Logging   LoggingSection   `yaml:"logging"`
	Metrics   MetricsSection   `yaml:"metrics"`
}

// SchedulerSection mirrors core.SchedulerConfig.
type SchedulerSection struct {
	ID              string         `yaml:"id"`
	Workers         int            `yaml:"workers"`
	StealRounds     int            `yaml:"steal_rounds"`
	WorkerPriority  int            `yaml:"worker_priority"`
	DequeCapacity   int            `yaml:"deque_capacity"`
	HistoryCapacity int            `yaml:"history_capacity"`
	IdleBackoff     BackoffSection `yaml:"idle_backoff"`
}

// BackoffSection holds the idle backoff bounds as duration strings.
type BackoffSection struct {
	Min   string  `yaml:"min"`
	Max   string  `yaml:"max"`
	Ratio float64 `yaml:"ratio"`
}

type LoggingSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsSection struct {
	Addr         string `yaml:"addr"`
	PollInterval string `yaml:"poll_interval"`
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a YAML document. Unknown keys are errors.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate reports the first invalid field.
func (f *File) Validate() error {
	s := f.Scheduler
	if s.Workers < 0 {
		return fmt.Errorf("scheduler.workers: must be >= 0, got %d", s.Workers)
	}
	if s.StealRounds < 0 {
		return fmt.Errorf("scheduler.steal_rounds: must be >= 0, got %d", s.StealRounds)
	}
	if s.WorkerPriority < -20 || s.WorkerPriority > 19 {
		return fmt.Errorf("scheduler.worker_priority: must be in [-20, 19], got %d", s.WorkerPriority)
	}
	if s.DequeCapacity < 0 || s.HistoryCapacity < 0 {
		return errors.New("scheduler: capacities must be >= 0")
	}
	if s.IdleBackoff.Ratio != 0 && s.IdleBackoff.Ratio < 1 {
		return fmt.Errorf("scheduler.idle_backoff.ratio: must be >= 1, got %v", s.IdleBackoff.Ratio)
	}
	backoff, err := f.idleBackoff()
	if err != nil {
		return err
	}
	if backoff.Max > 0 && backoff.Max < backoff.Min {
		return fmt.Errorf("scheduler.idle_backoff: max %v is below min %v", backoff.Max, backoff.Min)
	}
	if _, err := f.LogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(f.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", f.Logging.Format)
	}
	if _, err := ParseDurationField("metrics.poll_interval", f.Metrics.PollInterval); err != nil {
		return err
	}
	return nil
}

// LogLevel returns the configured zerolog level, info when unset.
func (f *File) LogLevel() (zerolog.Level, error) {
	if f.Logging.Level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(f.Logging.Level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("logging.level: %w", err)
	}
	return lvl, nil
}

// Logger builds the configured logger writing to w.
func (f *File) Logger(w io.Writer) (core.Logger, error) {
	lvl, err := f.LogLevel()
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(f.Logging.Format, "json") {
		return core.NewZerologLogger(zerolog.New(w).Level(lvl).With().Timestamp().Logger()), nil
	}
	return core.NewConsoleLogger(w, lvl), nil
}

// PollInterval returns metrics.poll_interval, one second when unset.
func (f *File) PollInterval() time.Duration {
	d, err := ParseDurationOrDefault("metrics.poll_interval", f.Metrics.PollInterval, time.Second)
	if err != nil {
		return time.Second
	}
	return d
}

func (f *File) idleBackoff() (core.IdleBackoff, error) {
	min, err := ParseDurationField("scheduler.idle_backoff.min", f.Scheduler.IdleBackoff.Min)
	if err != nil {
		return core.IdleBackoff{}, err
	}
	max, err := ParseDurationField("scheduler.idle_backoff.max", f.Scheduler.IdleBackoff.Max)
	if err != nil {
		return core.IdleBackoff{}, err
	}
	return core.IdleBackoff{Min: min, Max: max, Ratio: f.Scheduler.IdleBackoff.Ratio}, nil
}

// SchedulerConfig converts the file into a core.SchedulerConfig. logger may
// be nil, in which case the scheduler picks its default.
func (f *File) SchedulerConfig(logger core.Logger) (*core.SchedulerConfig, error) {
	backoff, err := f.idleBackoff()
	if err != nil {
		return nil, err
	}
	if backoff.Min > 0 && backoff.Ratio == 0 {
		backoff.Ratio = core.DefaultIdleBackoff().Ratio
	}
	s := f.Scheduler
	return &core.SchedulerConfig{
		ID:                   s.ID,
		Workers:              s.Workers,
		StealRounds:          s.StealRounds,
		IdleBackoff:          backoff,
		WorkerPriority:       s.WorkerPriority,
		InitialDequeCapacity: s.DequeCapacity,
		HistoryCapacity:      s.HistoryCapacity,
		Logger:               logger,
	}, nil
}
