package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-work-stealer/core"
)

func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:    "jobs",
		Aliases: []string{"j"},
		Usage:   "Fan out many small jobs from inside a root job",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Value:   100_000,
				Usage:   "Number of leaf jobs",
			},
			&cli.IntFlag{
				Name:  "fanout",
				Value: 16,
				Usage: "Children per intermediate job; leaves are split recursively until a job owns at most this many",
			},
			&cli.DurationFlag{
				Name:  "work",
				Usage: "CPU time each leaf job spins for",
			},
			&cli.BoolFlag{
				Name:  "fair",
				Usage: "Queue leaves with PreferFairness so they go through the overflow queue",
			},
		},
		Action: jobsAction,
	}
}

func jobsAction(c *cli.Context) error {
	count := c.Int("count")
	fanout := c.Int("fanout")
	if count < 0 {
		return cli.Exit("count must not be negative", 1)
	}
	if fanout < 2 {
		return cli.Exit("fanout must be at least 2", 1)
	}

	b, err := newBench(c)
	if err != nil {
		return err
	}

	leafOpts := core.AttachedToParent
	if c.Bool("fair") {
		leafOpts |= core.PreferFairness
	}
	work := c.Duration("work")

	return b.run(c.Context, func(ctx context.Context) error {
		before := b.sched.Stats()
		start := time.Now()

		root := b.sched.Submit(ctx, func(ctx context.Context) error {
			return fanOut(ctx, b.sched, count, fanout, leafOpts, work)
		}, core.CreationNone)
		root.SetName("jobs-root")
		if err := root.Wait(ctx); err != nil {
			return err
		}

		report(b.out, "jobs", count, time.Since(start), before, b.sched.Stats())
		return nil
	})
}

// fanOut splits n leaves into at most fanout attached children, recursing
// until a job owns at most fanout leaves.
func fanOut(ctx context.Context, s *core.Scheduler, n, fanout int, leafOpts core.CreationOptions, work time.Duration) error {
	if n <= fanout {
		for range n {
			leaf := core.NewJob(ctx, func(context.Context) error {
				spin(work)
				return nil
			}, leafOpts)
			if err := leaf.Start(s); err != nil {
				return err
			}
		}
		return nil
	}

	per := (n + fanout - 1) / fanout
	for lo := 0; lo < n; lo += per {
		size := min(per, n-lo)
		child := core.NewJob(ctx, func(ctx context.Context) error {
			return fanOut(ctx, s, size, fanout, leafOpts, work)
		}, core.AttachedToParent)
		if err := child.Start(s); err != nil {
			return err
		}
	}
	return nil
}
