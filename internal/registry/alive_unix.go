//go:build !windows

package registry

import (
	"errors"
	"syscall"
)

// IsRunning probes PID liveness with signal 0. Success only means some
// process occupies the PID, not necessarily the one that was recorded.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Terminate sends the graceful termination signal to the recorded
// process group.
func Terminate(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// Kill force-terminates the recorded process group.
func Kill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
