package worker

import "syscall"

// Killer abstracts platform process-control: how a worker and its descendants
// are asked to exit, how they are destroyed, and how liveness is probed.
// Exactly one implementation is selected at supervisor construction; no
// call site branches on the platform.
type Killer interface {
	// Terminate asks the worker tree to exit cleanly.
	Terminate(pid int) error

	// Kill forcefully destroys the worker tree.
	Kill(pid int) error

	// Alive probes liveness without disturbing the worker.
	Alive(pid int) bool

	// SysProcAttr returns the spawn attributes this strategy needs, such as
	// placing the worker in its own process group. May be nil.
	SysProcAttr() *syscall.SysProcAttr
}
