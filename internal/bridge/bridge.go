package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/agentpipe/internal/protocol"
	"github.com/dshills/agentpipe/internal/streambuf"
	"github.com/dshills/agentpipe/internal/transport"
	"github.com/dshills/agentpipe/internal/worker"
)

// readChunkSize is the stdout read granularity.
const readChunkSize = 32 * 1024

// reconnectDelay is how long Restart waits after the new worker is up before
// announcing it, giving the handshake round trip time to complete.
const reconnectDelay = time.Second

// WorkerError is a failure the worker reported on its error channel.
type WorkerError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *WorkerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("worker error [%s]: %s", e.Code, e.Message)
	}
	return "worker error: " + e.Message
}

// Config describes a Bridge.
type Config struct {
	// Command is the worker executable.
	Command string
	// Args are its command-line arguments.
	Args []string
	// Env adds environment variables on top of the host's.
	Env map[string]string
	// Dir is the worker's working directory.
	Dir string

	// Timeouts is the per-kind command deadline policy. Zero fields fall
	// back to the defaults.
	Timeouts transport.Timeouts

	// BufferSize caps the stdout accumulation in bytes. Zero selects the
	// channel default.
	BufferSize int

	// HealthInterval and RestartDelay tune the supervisor; zero keeps its
	// defaults.
	HealthInterval time.Duration
	RestartDelay   time.Duration

	// EventBuffer sizes the subscriber channel. Zero selects 64.
	EventBuffer int

	// Logger receives diagnostics from every layer. Nil disables logging.
	Logger *slog.Logger
}

// Stats is a point-in-time snapshot across the bridge's layers.
type Stats struct {
	State           string
	Uptime          time.Duration
	ProtocolVersion int
	Pending         int
	DroppedEvents   uint64
	Buffer          streambuf.Stats
}

// Bridge is the host-facing surface over one supervised worker. Safe for
// concurrent use.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	sup *worker.Supervisor
	tr  *transport.Transport
	neg *negotiator
	bus *eventBus

	mu  sync.Mutex
	buf *streambuf.Buffer
}

// New creates a Bridge. The worker is not launched until Start.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	b := &Bridge{
		cfg:    cfg,
		logger: logger,
		neg:    newNegotiator(logger),
		bus:    newEventBus(cfg.EventBuffer),
	}

	b.tr = transport.New(transport.Config{
		Timeouts: cfg.Timeouts,
		OnEvent:  b.onEvent,
		Logger:   logger,
	})

	b.sup = worker.New(worker.Config{
		Command:        cfg.Command,
		Args:           cfg.Args,
		Env:            cfg.Env,
		Dir:            cfg.Dir,
		HealthInterval: cfg.HealthInterval,
		RestartDelay:   cfg.RestartDelay,
		Logger:         logger,
		OnStarted:      b.onStarted,
		OnExit:         b.onExit,
	})

	return b
}

// Start launches the worker, wires its stdout into the message pipeline, and
// fires the version handshake.
func (b *Bridge) Start() error {
	return b.sup.Start()
}

// Shutdown stops the worker gracefully.
func (b *Bridge) Shutdown(ctx context.Context) error {
	return b.sup.Stop(ctx)
}

// Restart cycles the worker and announces the fresh connection.
func (b *Bridge) Restart(ctx context.Context) error {
	if err := b.sup.Restart(ctx); err != nil {
		return err
	}

	select {
	case <-time.After(reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	b.bus.publish(Event{Kind: EventRestarted})
	return nil
}

// onStarted runs on every successful spawn, before the supervisor begins
// health checks. The stdout pipeline must be consuming before the handshake
// goes out so the worker's reply cannot be lost.
func (b *Bridge) onStarted(h *worker.Handle) {
	buf := streambuf.New(streambuf.Config{
		MaxSize:   b.cfg.BufferSize,
		Operation: streambuf.OpChannel,
		OnMessage: b.tr.HandleMessage,
		OnOverflow: func(received int) {
			b.logger.Error("worker output overflowed the channel buffer", "bytes", received)
		},
		Logger: b.logger,
	})

	b.mu.Lock()
	b.buf = buf
	b.mu.Unlock()

	b.tr.Attach(h.Stdin)
	go b.readLoop(h, buf)

	b.neg.hello(b.tr)
	b.bus.publish(Event{Kind: EventConnected})
}

// onExit runs whenever the worker is observed gone.
func (b *Bridge) onExit(err error, deliberate bool) {
	b.tr.Detach()
	if deliberate {
		b.bus.publish(Event{Kind: EventDisconnected})
		return
	}
	b.bus.publish(Event{Kind: EventDisconnected, Err: err})
}

// readLoop drains the worker's stdout into the stream buffer, pausing briefly
// whenever the ingest rate crosses the backpressure interval. It exits when
// the pipe closes with the worker.
func (b *Bridge) readLoop(h *worker.Handle, buf *streambuf.Buffer) {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := h.Stdout.Read(chunk)
		if n > 0 {
			if aerr := buf.Append(chunk[:n]); aerr != nil {
				// One overflow report per episode; keep draining so the
				// worker never blocks on a full pipe.
				b.bus.publish(Event{Kind: EventError, Err: aerr})
			}
			if buf.ShouldApplyBackpressure(streambuf.DefaultBackpressureInterval) {
				time.Sleep(streambuf.BackpressurePause)
			}
		}
		if err != nil {
			return
		}
	}
}

// onEvent routes uncorrelated inbound messages.
func (b *Bridge) onEvent(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeNegotiateResponse:
		b.neg.handle(env)
	case protocol.TypeError:
		var msg protocol.ErrorMessage
		if err := env.DecodeInto(&msg); err != nil {
			b.logger.Warn("malformed worker error message", "error", err)
			return
		}
		b.bus.publish(Event{Kind: EventError, Err: &WorkerError{Code: msg.Code, Message: msg.Message}})
	default:
		b.bus.publish(Event{Kind: EventMessage, Envelope: env})
	}
}

// Chat sends one user turn. Fire-and-forget; replies arrive as events.
func (b *Bridge) Chat(sessionID, content string) error {
	return b.tr.Send(protocol.TypeChat, protocol.ChatTurn{
		Type:      protocol.TypeChat,
		SessionID: sessionID,
		Role:      "user",
		Content:   content,
	})
}

// Interrupt asks the worker to abandon its current turn. Advisory; the worker
// may finish anyway, and pending commands still settle normally.
func (b *Bridge) Interrupt(sessionID string) error {
	return b.tr.Send(protocol.TypeInterrupt, protocol.Interrupt{
		Type:      protocol.TypeInterrupt,
		SessionID: sessionID,
	})
}

// Command runs a correlated session command and waits for its response under
// the command's deadline policy.
func (b *Bridge) Command(ctx context.Context, command, sessionID string, args map[string]any) (*protocol.SessionResponse, error) {
	kind := transport.KindDefault
	if command == "summarize" {
		kind = transport.KindSummarize
	}

	env, err := b.tr.Call(ctx, protocol.TypeSessionCommand, protocol.SessionCommand{
		Type:      protocol.TypeSessionCommand,
		Command:   command,
		SessionID: sessionID,
		Args:      args,
	}, kind)
	if err != nil {
		return nil, err
	}

	var resp protocol.SessionResponse
	if err := env.DecodeInto(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upload transfers file content to the worker and waits for its response.
func (b *Bridge) Upload(ctx context.Context, name, mediaType string, data []byte) (*protocol.FileUploadResponse, error) {
	env, err := b.tr.Call(ctx, protocol.TypeFileUpload, protocol.FileUpload{
		Type:      protocol.TypeFileUpload,
		Name:      name,
		MediaType: mediaType,
		Data:      data,
	}, transport.KindFileUpload)
	if err != nil {
		return nil, err
	}

	var resp protocol.FileUploadResponse
	if err := env.DecodeInto(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events returns the subscriber channel. Fall behind and events are dropped,
// never blocked on.
func (b *Bridge) Events() <-chan Event { return b.bus.ch }

// Version returns the negotiated protocol version, or -1 before any response.
func (b *Bridge) Version() int { return b.neg.Selected() }

// Running reports whether a live worker exists.
func (b *Bridge) Running() bool { return b.sup.Running() }

// State returns the supervisor's lifecycle state.
func (b *Bridge) State() worker.State { return b.sup.State() }

// Stats returns a snapshot across the bridge's layers.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	buf := b.buf
	b.mu.Unlock()

	st := Stats{
		State:           b.sup.State().String(),
		ProtocolVersion: b.neg.Selected(),
		Pending:         b.tr.PendingCount(),
		DroppedEvents:   b.bus.Dropped(),
	}
	if buf != nil {
		st.Buffer = buf.Stats()
	}
	if h := b.sup.Handle(); h != nil {
		st.Uptime = h.Uptime()
	}
	return st
}
