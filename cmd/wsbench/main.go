// Command wsbench drives the work-stealing scheduler with synthetic loads
// and reports throughput, steal counts and per-worker statistics.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
