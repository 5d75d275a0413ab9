package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/dshills/agentpipe/internal/protocol"
)

// Config describes a Transport.
type Config struct {
	// Timeouts is the per-kind deadline policy. Zero fields fall back to
	// DefaultTimeouts.
	Timeouts Timeouts

	// OnEvent receives every uncorrelated inbound message.
	OnEvent func(*protocol.Envelope)

	// Logger receives dispatch diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// result settles a pending request with either a response or an error.
type result struct {
	env *protocol.Envelope
	err error
}

// pendingRequest is one in-flight correlated command.
type pendingRequest struct {
	id        string
	kind      Kind
	createdAt time.Time
	timer     *time.Timer
	ch        chan result // buffered 1; the settlement winner sends once
}

// Transport owns the pending-request table and the single writer to the
// worker's stdin. Safe for concurrent use.
type Transport struct {
	mu        sync.Mutex
	w         io.Writer
	available bool
	pending   map[string]*pendingRequest

	timeouts Timeouts
	onEvent  func(*protocol.Envelope)
	logger   *slog.Logger
}

// New creates a Transport. It starts detached; Attach connects it to a live
// worker's stdin.
func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transport{
		pending:  make(map[string]*pendingRequest),
		timeouts: cfg.Timeouts,
		onEvent:  cfg.OnEvent,
		logger:   logger,
	}
}

// Attach connects the transport to a freshly spawned worker's stdin and
// starts accepting sends.
func (t *Transport) Attach(w io.Writer) {
	t.mu.Lock()
	t.w = w
	t.available = true
	t.mu.Unlock()
}

// Detach marks the backend gone and rejects every pending request in one
// batch. Sends after Detach fail fast with ErrBackendUnavailable instead of
// queueing.
func (t *Transport) Detach() {
	t.mu.Lock()
	t.available = false
	t.w = nil
	batch := t.pending
	t.pending = make(map[string]*pendingRequest)
	t.mu.Unlock()

	for _, p := range batch {
		p.timer.Stop()
		p.ch <- result{err: fmt.Errorf("request %s: %w", p.id, ErrBackendExited)}
	}
	if len(batch) > 0 {
		t.logger.Warn("rejected pending requests on backend exit", "count", len(batch))
	}
}

// Send writes a fire-and-forget message to the worker.
func (t *Transport) Send(typ protocol.Type, msg any) error {
	frame, err := protocol.EncodeBinary(typ, msg)
	if err != nil {
		return err
	}
	return t.write(frame)
}

// Call sends a correlated command and blocks until it settles: a response
// with the same request id resolves it, the kind's policy deadline rejects it
// with a timeout, and worker exit rejects it alongside every other pending
// request. Each of those happens for exactly one of them.
func (t *Transport) Call(ctx context.Context, typ protocol.Type, msg any, kind Kind) (*protocol.Envelope, error) {
	return t.CallTimeout(ctx, typ, msg, kind, t.timeouts.For(kind))
}

// CallTimeout is Call with an explicit deadline instead of the kind policy.
func (t *Transport) CallTimeout(ctx context.Context, typ protocol.Type, msg any, kind Kind, timeout time.Duration) (*protocol.Envelope, error) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		// Caller bug; surfaced immediately, never retried.
		return nil, err
	}

	id := uuid.NewString()
	payload, err = sjson.SetBytes(payload, "request_id", id)
	if err != nil {
		return nil, fmt.Errorf("stamp request id: %w", err)
	}
	frame, err := protocol.FrameBinary(typ, payload)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if !t.available {
		t.mu.Unlock()
		return nil, ErrBackendUnavailable
	}

	// Register before writing so a response racing the write still matches.
	p := &pendingRequest{
		id:        id,
		kind:      kind,
		createdAt: time.Now(),
		ch:        make(chan result, 1),
	}
	t.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() { t.expire(id, kind, timeout) })

	if _, err := t.w.Write(frame); err != nil {
		delete(t.pending, id)
		p.timer.Stop()
		t.mu.Unlock()
		return nil, fmt.Errorf("write command: %w", err)
	}
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		if p := t.take(id); p != nil {
			p.timer.Stop()
		}
		return nil, ctx.Err()
	case res := <-p.ch:
		return res.env, res.err
	}
}

// HandleMessage routes one decoded inbound message: correlated responses
// settle their pending entry, everything else is forwarded as an event.
// Responses to different in-flight requests may arrive in any order; matching
// is purely by id.
func (t *Transport) HandleMessage(env *protocol.Envelope) {
	if env.Type.Correlated() {
		if p := t.take(env.RequestID); p != nil {
			p.timer.Stop()
			p.ch <- result{env: env}
			return
		}
		// Settled already (timeout or exit); a late response has no effect.
		t.logger.Debug("dropping late response", "type", string(env.Type), "request_id", env.RequestID)
		return
	}

	if t.onEvent != nil {
		t.onEvent(env)
	}
}

// PendingCount returns the number of in-flight correlated requests.
func (t *Transport) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// take removes and returns the pending entry, or nil if it already settled.
// Removal under the lock decides the settlement winner.
func (t *Transport) take(id string) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	return p
}

// expire rejects a request whose policy window elapsed.
func (t *Transport) expire(id string, kind Kind, timeout time.Duration) {
	p := t.take(id)
	if p == nil {
		return
	}
	t.logger.Warn("command timed out", "request_id", id, "kind", kind.String(), "after", timeout)
	p.ch <- result{err: &TimeoutError{RequestID: id, Kind: kind, After: timeout}}
}

// write serializes frame writes to the worker's stdin.
func (t *Transport) write(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.available {
		return ErrBackendUnavailable
	}
	if _, err := t.w.Write(frame); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
