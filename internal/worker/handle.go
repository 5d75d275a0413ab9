package worker

import (
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handle is one spawned worker process. It exposes the pipes the transport
// needs and tracks exit asynchronously.
type Handle struct {
	// ID uniquely identifies this spawn across restarts.
	ID string

	// PID is the OS process id.
	PID int

	// Stdin is the worker's piped standard input.
	Stdin io.WriteCloser

	// Stdout is the worker's piped standard output.
	Stdout io.ReadCloser

	// StartedAt is the spawn time.
	StartedAt time.Time

	cmd      *exec.Cmd
	done     chan struct{}
	exitCode atomic.Int32
	exited   atomic.Bool

	mu      sync.Mutex
	exitErr error

	waitOnce sync.Once
}

// newHandle wraps a started command.
func newHandle(cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser) *Handle {
	h := &Handle{
		ID:        uuid.New().String(),
		PID:       cmd.Process.Pid,
		Stdin:     stdin,
		Stdout:    stdout,
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	h.exitCode.Store(-1)
	go h.wait()
	return h
}

// wait reaps the process and records its exit.
func (h *Handle) wait() {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()

		code := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}

		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		h.exitCode.Store(int32(code))
		h.exited.Store(true)
		close(h.done)
	})
}

// Done is closed when the worker exits, however it exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Alive reports whether the worker is still running.
func (h *Handle) Alive() bool { return !h.exited.Load() }

// ExitCode returns the exit code, or -1 while the worker is running.
func (h *Handle) ExitCode() int { return int(h.exitCode.Load()) }

// ExitError returns the error from reaping the process, if any.
func (h *Handle) ExitError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Uptime returns how long the worker has been (or was) running.
func (h *Handle) Uptime() time.Duration { return time.Since(h.StartedAt) }

// closePipes releases the stdio pipes. It does not kill the process.
func (h *Handle) closePipes() {
	if h.Stdin != nil {
		h.Stdin.Close()
	}
	if h.Stdout != nil {
		h.Stdout.Close()
	}
}
