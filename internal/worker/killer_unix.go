//go:build unix

package worker

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// groupKiller signals the worker's entire process group so descendants are
// not orphaned. The worker is spawned into its own group via Setpgid.
type groupKiller struct{}

// PlatformKiller returns the kill strategy for this platform.
func PlatformKiller() Killer { return groupKiller{} }

func (groupKiller) SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func (groupKiller) Terminate(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

func (groupKiller) Kill(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

// Alive probes with the zero signal, which performs permission and existence
// checks without delivering anything.
func (groupKiller) Alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// signalGroup signals the process group, falling back to just the worker
// when group signaling fails (e.g. the group is already gone).
func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err != nil {
		return unix.Kill(pid, sig)
	}
	return nil
}
