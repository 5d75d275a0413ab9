package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// State is the supervisor's lifecycle position.
type State int32

const (
	// StateNotStarted means no worker has ever been spawned.
	StateNotStarted State = iota
	// StateStarting means a spawn is in progress.
	StateStarting
	// StateRunning means the worker is live.
	StateRunning
	// StateStopping means a deliberate graceful shutdown is in progress.
	StateStopping
	// StateCrashed means the worker exited without being asked.
	StateCrashed
	// StateStopped means a deliberate shutdown completed.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyRunning rejects Start while a live worker exists.
	ErrAlreadyRunning = errors.New("worker already running")

	// ErrHealthCheckFailed reports a worker whose pid stopped answering the
	// liveness probe. Handled identically to an unexpected exit.
	ErrHealthCheckFailed = errors.New("worker health check failed")
)

// SpawnError reports a failed launch. Nothing is running afterward, so no
// auto-restart follows.
type SpawnError struct {
	Command string
	Err     error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker %q: %v", e.Command, e.Err)
}

// Unwrap returns the underlying launch error.
func (e *SpawnError) Unwrap() error { return e.Err }

// Config describes a Supervisor.
type Config struct {
	// Command is the worker executable.
	Command string
	// Args are its command-line arguments.
	Args []string
	// Env adds environment variables on top of the host's.
	Env map[string]string
	// Dir is the worker's working directory.
	Dir string

	// HealthInterval is the coarse liveness probe period. Default 2m.
	HealthInterval time.Duration
	// RestartDelay is the pause before an automatic restart after a
	// non-clean exit. Default 2s.
	RestartDelay time.Duration
	// GraceDelay is the pause before the termination signal during a
	// graceful stop, giving in-flight writes time to drain. Default 500ms.
	GraceDelay time.Duration
	// StopTimeout bounds how long a graceful stop waits before escalating
	// to a forceful kill. Default 5s.
	StopTimeout time.Duration
	// SettleDelay is the extra wait between stop and start during an
	// explicit restart. Default 500ms.
	SettleDelay time.Duration

	// Killer overrides the platform kill strategy. Nil selects it by GOOS.
	Killer Killer

	// Logger receives lifecycle diagnostics. Nil disables logging.
	Logger *slog.Logger

	// OnStarted runs after each successful spawn, before health checks
	// begin. The bridge wires the stdout pipeline here, ahead of the
	// negotiation handshake, so the handshake reply cannot be lost.
	OnStarted func(*Handle)

	// OnExit runs whenever a worker is observed gone, with deliberate true
	// when a requested shutdown caused it.
	OnExit func(err error, deliberate bool)
}

// Supervisor owns the single current worker. Only one worker may be live at a
// time; Start enforces the guard. Safe for concurrent use.
type Supervisor struct {
	mu  sync.Mutex
	cfg Config

	killer Killer
	logger *slog.Logger

	handle       *Handle
	state        atomic.Int32
	stopping     bool
	healthStop   chan struct{}
	restartTimer *time.Timer
}

// New creates a Supervisor. The worker is not spawned until Start.
func New(cfg Config) *Supervisor {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 2 * time.Minute
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = 500 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}

	killer := cfg.Killer
	if killer == nil {
		killer = PlatformKiller()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Supervisor{cfg: cfg, killer: killer, logger: logger}
	s.state.Store(int32(StateNotStarted))
	return s
}

// Start spawns the worker. It refuses to run while a live handle exists, so
// concurrent or repeated starts cannot create a second worker.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.handle != nil && s.handle.Alive() {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.stopping = false
	s.state.Store(int32(StateStarting))

	h, err := s.spawnLocked()
	if err != nil {
		s.state.Store(int32(StateNotStarted))
		s.mu.Unlock()
		return err
	}
	s.handle = h
	s.state.Store(int32(StateRunning))
	onStarted := s.cfg.OnStarted
	s.mu.Unlock()

	s.logger.Info("worker started", "pid", h.PID, "command", s.cfg.Command)

	// Wire consumers before any traffic can be missed, then begin watching.
	if onStarted != nil {
		onStarted(h)
	}

	s.mu.Lock()
	if s.handle == h {
		stop := make(chan struct{})
		s.healthStop = stop
		go s.healthLoop(h, stop)
	}
	s.mu.Unlock()

	go s.monitor(h)
	return nil
}

// spawnLocked launches the worker process with stdin/stdout piped and stderr
// inherited directly to the host console.
func (s *Supervisor) spawnLocked() (*Handle, error) {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range s.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Dir = s.cfg.Dir
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = s.killer.SysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: s.cfg.Command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &SpawnError{Command: s.cfg.Command, Err: err}
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &SpawnError{Command: s.cfg.Command, Err: err}
	}

	return newHandle(cmd, stdin, stdout), nil
}

// monitor observes worker exit and drives crash handling.
func (s *Supervisor) monitor(h *Handle) {
	<-h.Done()

	s.mu.Lock()
	if s.handle != h {
		// Already torn down by a health failure or replaced by a restart.
		s.mu.Unlock()
		return
	}
	s.handle = nil
	s.stopHealthLocked()
	deliberate := s.stopping
	if deliberate {
		s.state.Store(int32(StateStopped))
	} else {
		s.state.Store(int32(StateCrashed))
	}
	onExit := s.cfg.OnExit
	s.mu.Unlock()

	h.closePipes()
	code := h.ExitCode()

	if deliberate {
		s.logger.Info("worker stopped", "pid", h.PID, "code", code)
	} else {
		s.logger.Warn("worker exited unexpectedly", "pid", h.PID, "code", code)
	}
	if onExit != nil {
		onExit(h.ExitError(), deliberate)
	}

	// Auto-restart only a non-clean, non-deliberate exit.
	if !deliberate && code != 0 {
		s.logger.Info("scheduling worker restart", "delay", s.cfg.RestartDelay)
		s.mu.Lock()
		s.restartTimer = time.AfterFunc(s.cfg.RestartDelay, s.tryAutoRestart)
		s.mu.Unlock()
	}
}

// tryAutoRestart runs a scheduled restart unless a deliberate shutdown
// arrived in the meantime.
func (s *Supervisor) tryAutoRestart() {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return
	}
	if err := s.Start(); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		s.logger.Error("automatic restart failed", "error", err)
	}
}

// healthLoop probes the worker on a coarse interval.
func (s *Supervisor) healthLoop(h *Handle, stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-h.Done():
			return
		case <-ticker.C:
			if h.Alive() && s.killer.Alive(h.PID) {
				continue
			}
			s.handleHealthFailure(h)
			return
		}
	}
}

// handleHealthFailure tears down a worker whose pid stopped answering and,
// unless a deliberate shutdown is in progress, restarts immediately.
func (s *Supervisor) handleHealthFailure(h *Handle) {
	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		return
	}
	s.handle = nil
	s.stopHealthLocked()
	stopping := s.stopping
	s.state.Store(int32(StateCrashed))
	onExit := s.cfg.OnExit
	s.mu.Unlock()

	s.logger.Error("worker health check failed", "pid", h.PID)

	// Reap whatever remains of the tree, then release the pipes.
	_ = s.killer.Kill(h.PID)
	h.closePipes()

	if onExit != nil {
		onExit(ErrHealthCheckFailed, false)
	}
	if !stopping {
		if err := s.Start(); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			s.logger.Error("restart after health failure failed", "error", err)
		}
	}
}

// stopHealthLocked stops the health loop. Must hold mu.
func (s *Supervisor) stopHealthLocked() {
	if s.healthStop != nil {
		close(s.healthStop)
		s.healthStop = nil
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

// Stop shuts the worker down gracefully: close stdin, give it a short grace
// period to exit on its own, send the termination signal to its process
// group, and escalate to a forceful kill if it outlives the stop timeout.
// The worker's exit, whenever observed, settles the call exactly once.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	h := s.handle
	if h == nil || !h.Alive() {
		s.stopHealthLocked()
		s.state.Store(int32(StateStopped))
		s.mu.Unlock()
		return nil
	}
	s.state.Store(int32(StateStopping))
	s.stopHealthLocked()
	s.mu.Unlock()

	s.logger.Info("stopping worker", "pid", h.PID)

	// EOF on stdin lets a well-behaved worker exit before any signal.
	if h.Stdin != nil {
		h.Stdin.Close()
	}

	select {
	case <-h.Done():
		return nil
	case <-time.After(s.cfg.GraceDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.killer.Terminate(h.PID); err != nil {
		s.logger.Warn("terminate signal failed", "pid", h.PID, "error", err)
	}

	select {
	case <-h.Done():
		return nil
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("worker ignored termination; escalating to kill", "pid", h.PID)
	case <-ctx.Done():
		return ctx.Err()
	}

	_ = s.killer.Kill(h.PID)

	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart stops the worker, waits an extra settle delay past exit, and
// starts a fresh one.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return fmt.Errorf("restart: %w", err)
	}

	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.Start()
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Handle returns the current worker handle, or nil when no worker is live.
func (s *Supervisor) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Running reports whether a live worker exists.
func (s *Supervisor) Running() bool {
	h := s.Handle()
	return h != nil && h.Alive()
}
