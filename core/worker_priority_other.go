//go:build !linux

package core

import "errors"

var errThreadPriorityUnsupported = errors.New("workstealer: per-thread priority is only supported on linux")

func setThreadPriority(nice int) error {
	return errThreadPriorityUnsupported
}
