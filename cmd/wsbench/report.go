package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Swind/go-work-stealer/core"
)

// report prints throughput for n units of work and the per-worker counters
// accumulated since before.
func report(w io.Writer, what string, n int, elapsed time.Duration, before, after core.SchedulerStats) {
	rate := float64(n) / elapsed.Seconds()
	fmt.Fprintf(w, "%s %s in %v (%s/s)\n", humanize.Comma(int64(n)), what, elapsed.Round(time.Microsecond), humanize.FormatFloat("#,###.", rate))
	fmt.Fprintf(w, "completed=%s faulted=%s canceled=%s\n",
		humanize.Comma(int64(after.Completed-before.Completed)),
		humanize.Comma(int64(after.Faulted-before.Faulted)),
		humanize.Comma(int64(after.Canceled-before.Canceled)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "worker\texecuted\tstolen\tidle sleeps\t")
	var stolen uint64
	for i, ws := range after.WorkerDetail {
		var prev core.WorkerStats
		if i < len(before.WorkerDetail) {
			prev = before.WorkerDetail[i]
		}
		stolen += ws.Stolen - prev.Stolen
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", ws.ID,
			humanize.Comma(int64(ws.Executed-prev.Executed)),
			humanize.Comma(int64(ws.Stolen-prev.Stolen)),
			humanize.Comma(int64(ws.Idle-prev.Idle)))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "total steals: %s\n", humanize.Comma(int64(stolen)))
}
