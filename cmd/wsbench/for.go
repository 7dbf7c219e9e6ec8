package main

import (
	"context"
	"math"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-work-stealer/core"
)

func forCommand() *cli.Command {
	return &cli.Command{
		Name:    "for",
		Aliases: []string{"f"},
		Usage:   "Run a parallel loop over an index range",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Value:   1_000_000,
				Usage:   "Number of iterations",
			},
			&cli.IntFlag{
				Name:  "max-dop",
				Usage: "Maximum degree of parallelism, 0 for the worker count",
			},
			&cli.Float64Flag{
				Name:  "skew",
				Value: 0,
				Usage: "Fraction of iterations, taken from the end of the range, that are 100x heavier",
			},
			&cli.DurationFlag{
				Name:  "work",
				Value: time.Microsecond,
				Usage: "CPU time each regular iteration spins for",
			},
		},
		Action: forAction,
	}
}

func forAction(c *cli.Context) error {
	count := c.Int("count")
	skew := c.Float64("skew")
	if count < 0 {
		return cli.Exit("count must not be negative", 1)
	}
	if skew < 0 || skew > 1 {
		return cli.Exit("skew must be between 0 and 1", 1)
	}

	b, err := newBench(c)
	if err != nil {
		return err
	}

	work := c.Duration("work")
	heavyFrom := count - int(math.Round(float64(count)*skew))
	opts := core.LoopOptions{MaxDegreeOfParallelism: c.Int("max-dop")}

	return b.run(c.Context, func(ctx context.Context) error {
		before := b.sched.Stats()
		start := time.Now()

		_, err := core.For(ctx, b.sched, 0, count, opts, func(i int, _ *core.LoopState) error {
			if i >= heavyFrom {
				spin(100 * work)
			} else {
				spin(work)
			}
			return nil
		})
		if err != nil {
			return err
		}

		report(b.out, "iterations", count, time.Since(start), before, b.sched.Stats())
		return nil
	})
}
