//go:build linux

package diretta

import (
	"log/slog"
	"runtime"

	"golang.org/x/sys/unix"
)

// workerPriority is mid-range SCHED_FIFO; needs root or CAP_SYS_NICE.
const workerPriority = 50

// setRealtimePriority pins the calling goroutine to its OS thread and
// requests SCHED_FIFO scheduling. Failure is expected for unprivileged
// runs and is logged once, not fatal.
func setRealtimePriority(logger *slog.Logger) bool {
	runtime.LockOSThread()

	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: workerPriority,
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		logger.Debug("Could not set real-time worker priority", "priority", workerPriority, "error", err)
		return false
	}
	logger.Debug("Worker running at SCHED_FIFO priority", "priority", workerPriority)
	return true
}
