//go:build linux

package core

import "golang.org/x/sys/unix"

// setThreadPriority sets the nice value of the calling OS thread. The caller
// must have locked its goroutine to the thread.
func setThreadPriority(nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}
