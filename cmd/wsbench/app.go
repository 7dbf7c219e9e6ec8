package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Swind/go-work-stealer/config"
	"github.com/Swind/go-work-stealer/core"
	obs "github.com/Swind/go-work-stealer/observability/prometheus"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "wsbench",
		Usage: "Run synthetic loads on the work-stealing scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"WSBENCH_CONFIG"},
				Usage:   "YAML config file",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Worker count, overrides the config file",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address, e.g. :9090",
			},
			&cli.DurationFlag{
				Name:  "linger",
				Usage: "Keep serving metrics this long after the run",
			},
		},
		Commands: []*cli.Command{
			jobsCommand(),
			forCommand(),
			initCommand(),
		},
	}
}

// bench holds one scheduler plus its metrics plumbing for a single run.
type bench struct {
	sched  *core.Scheduler
	reg    *prom.Registry
	poller *obs.SnapshotPoller
	addr   string
	linger time.Duration
	out    io.Writer
}

func loadFile(c *cli.Context) (*config.File, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.Parse([]byte(config.DefaultYAML))
}

func newBench(c *cli.Context) (*bench, error) {
	file, err := loadFile(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	if c.IsSet("workers") {
		file.Scheduler.Workers = c.Int("workers")
	}
	if c.IsSet("metrics-addr") {
		file.Metrics.Addr = c.String("metrics-addr")
	}
	if err := file.Validate(); err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}

	logger, err := file.Logger(os.Stderr)
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	cfg, err := file.SchedulerConfig(logger)
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	if cfg.ID == "" {
		cfg.ID = "wsbench-" + uuid.NewString()[:8]
	}

	reg := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter("workstealer", reg, obs.ExporterOptions{})
	if err != nil {
		return nil, err
	}
	cfg.Metrics = exporter

	poller, err := obs.NewSnapshotPoller(reg, file.PollInterval())
	if err != nil {
		return nil, err
	}

	s := core.NewScheduler(cfg)
	poller.AddScheduler(cfg.ID, s)

	return &bench{
		sched:  s,
		reg:    reg,
		poller: poller,
		addr:   file.Metrics.Addr,
		linger: c.Duration("linger"),
		out:    c.App.Writer,
	}, nil
}

// run executes work while the metrics server, if configured, is up. The
// scheduler is shut down before run returns.
func (b *bench) run(ctx context.Context, work func(ctx context.Context) error) error {
	defer b.sched.Shutdown()

	g, ctx := errgroup.WithContext(ctx)

	var server *http.Server
	if b.addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: b.addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		b.poller.Start(ctx)
		defer b.poller.Stop()

		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		fmt.Fprintf(b.out, "serving metrics on %s/metrics\n", b.addr)
	}

	g.Go(func() error {
		if server != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
		}
		if err := work(ctx); err != nil {
			return err
		}
		if server != nil && b.linger > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(b.linger):
			}
		}
		return nil
	})

	return g.Wait()
}

// spin busy-waits for d to simulate CPU-bound work.
func spin(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a commented default config file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Destination path, stdout when empty",
			},
		},
		Action: initAction,
	}
}

func initAction(c *cli.Context) error {
	path := c.String("output")
	if path == "" {
		_, err := io.WriteString(c.App.Writer, config.DefaultYAML)
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return cli.Exit(fmt.Sprintf("%s already exists", path), 1)
	}
	if err := os.WriteFile(path, []byte(config.DefaultYAML), 0o644); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}
