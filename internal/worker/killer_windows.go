//go:build windows

package worker

import (
	"os/exec"
	"strconv"
	"syscall"
)

// treeKiller uses taskkill's tree mode, the Windows equivalent of signaling a
// process group.
type treeKiller struct{}

// PlatformKiller returns the kill strategy for this platform.
func PlatformKiller() Killer { return treeKiller{} }

func (treeKiller) SysProcAttr() *syscall.SysProcAttr { return nil }

func (treeKiller) Terminate(pid int) error {
	return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(pid)).Run()
}

func (treeKiller) Kill(pid int) error {
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}

// Alive always reports true; zero-signal probing is not available on
// Windows, so liveness comes from the exit-wait channel instead.
func (treeKiller) Alive(pid int) bool { return true }
