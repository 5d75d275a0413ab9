package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dshills/agentpipe/internal/protocol"
)

// frameSink collects binary frames written by the transport and exposes the
// decoded envelopes, standing in for the worker's stdin.
type frameSink struct {
	mu     sync.Mutex
	frames []*protocol.Envelope
}

func (s *frameSink) Write(p []byte) (int, error) {
	env, err := protocol.DecodeBinary(p)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.frames = append(s.frames, env)
	s.mu.Unlock()
	return len(p), nil
}

func (s *frameSink) last(t *testing.T) *protocol.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		t.Fatal("no frame written")
	}
	return s.frames[len(s.frames)-1]
}

func sessionCmd(cmd string) protocol.SessionCommand {
	return protocol.SessionCommand{Type: protocol.TypeSessionCommand, Command: cmd}
}

func respondTo(tr *Transport, env *protocol.Envelope) {
	body, _ := json.Marshal(protocol.SessionResponse{
		Type:      protocol.TypeSessionResponse,
		RequestID: env.RequestID,
		Success:   true,
	})
	resp, _ := protocol.Decode(body)
	tr.HandleMessage(resp)
}

func TestTransport_CallResolvesOnResponse(t *testing.T) {
	sink := &frameSink{}
	tr := New(Config{})
	tr.Attach(sink)

	done := make(chan error, 1)
	var env *protocol.Envelope
	go func() {
		var err error
		env, err = tr.Call(context.Background(), protocol.TypeSessionCommand, sessionCmd("list"), KindDefault)
		done <- err
	}()

	// Wait for the command to hit the wire, then answer it.
	waitFor(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.frames) == 1
	})
	sent := sink.last(t)
	if sent.RequestID == "" {
		t.Fatal("outbound command has no request id stamped")
	}
	respondTo(tr, sent)

	if err := <-done; err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if env.RequestID != sent.RequestID {
		t.Errorf("response id = %q, want %q", env.RequestID, sent.RequestID)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after settlement, want 0", tr.PendingCount())
	}
}

func TestTransport_CallTimesOut(t *testing.T) {
	tr := New(Config{})
	tr.Attach(&frameSink{})

	start := time.Now()
	_, err := tr.CallTimeout(context.Background(), protocol.TypeSessionCommand, sessionCmd("list"), KindDefault, 50*time.Millisecond)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("CallTimeout() error = %v, want ErrCommandTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("rejected after %s, before the deadline", elapsed)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after timeout, want 0", tr.PendingCount())
	}
}

func TestTransport_LateResponseHasNoEffect(t *testing.T) {
	sink := &frameSink{}
	var events []*protocol.Envelope
	tr := New(Config{OnEvent: func(env *protocol.Envelope) { events = append(events, env) }})
	tr.Attach(sink)

	_, err := tr.CallTimeout(context.Background(), protocol.TypeSessionCommand, sessionCmd("list"), KindDefault, 20*time.Millisecond)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("CallTimeout() error = %v, want timeout", err)
	}

	// The id was removed on timeout, so a late response is dropped, not
	// delivered as an event and not resolved.
	respondTo(tr, sink.last(t))
	if len(events) != 0 {
		t.Errorf("late correlated response surfaced as %d events, want 0", len(events))
	}
}

func TestTransport_ExitRejectsAllPending(t *testing.T) {
	sink := &frameSink{}
	tr := New(Config{})
	tr.Attach(sink)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := tr.Call(context.Background(), protocol.TypeSessionCommand, sessionCmd("list"), KindDefault)
			errs <- err
		}()
	}
	waitFor(t, func() bool { return tr.PendingCount() == 2 })

	tr.Detach()

	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, ErrBackendExited) {
			t.Errorf("pending call error = %v, want ErrBackendExited", err)
		}
	}

	// Requests after exit fail fast rather than queueing.
	if _, err := tr.Call(context.Background(), protocol.TypeSessionCommand, sessionCmd("list"), KindDefault); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("post-exit Call() error = %v, want ErrBackendUnavailable", err)
	}
}

func TestTransport_UncorrelatedForwardedAsEvent(t *testing.T) {
	var events []*protocol.Envelope
	tr := New(Config{OnEvent: func(env *protocol.Envelope) { events = append(events, env) }})
	tr.Attach(&frameSink{})

	body, _ := json.Marshal(protocol.ChatTurn{Type: protocol.TypeChat, Role: "assistant", Content: "hi"})
	env, _ := protocol.Decode(body)
	tr.HandleMessage(env)

	if len(events) != 1 {
		t.Fatalf("OnEvent fired %d times, want 1", len(events))
	}
	if events[0].Type != protocol.TypeChat {
		t.Errorf("event type = %q, want %q", events[0].Type, protocol.TypeChat)
	}
}

func TestTransport_SendFireAndForget(t *testing.T) {
	sink := &frameSink{}
	tr := New(Config{})
	tr.Attach(sink)

	if err := tr.Send(protocol.TypeInterrupt, protocol.Interrupt{Type: protocol.TypeInterrupt}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent := sink.last(t); sent.Type != protocol.TypeInterrupt {
		t.Errorf("sent type = %q, want %q", sent.Type, protocol.TypeInterrupt)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("fire-and-forget registered a pending entry")
	}
}

func TestTransport_EncodingErrorSurfacesImmediately(t *testing.T) {
	tr := New(Config{})
	tr.Attach(&frameSink{})

	_, err := tr.Call(context.Background(), protocol.TypeSessionCommand,
		map[string]any{"type": "session_command", "bad": make(chan int)}, KindDefault)
	var encErr *protocol.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("Call() error = %v, want *protocol.EncodingError", err)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("encoding failure left a pending entry behind")
	}
}

func TestTransport_ContextCancelCleansUp(t *testing.T) {
	tr := New(Config{})
	tr.Attach(&frameSink{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tr.Call(ctx, protocol.TypeSessionCommand, sessionCmd("list"), KindDefault)
		done <- err
	}()
	waitFor(t, func() bool { return tr.PendingCount() == 1 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() error = %v, want context.Canceled", err)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after cancel, want 0", tr.PendingCount())
	}
}

func TestTimeouts_Policy(t *testing.T) {
	p := DefaultTimeouts()
	if p.For(KindSummarize) <= p.For(KindDefault) {
		t.Error("summarize window should be longer than the interactive window")
	}
	if p.For(KindFileUpload) == p.For(KindDefault) {
		t.Error("file upload window should be tuned separately")
	}

	var zero Timeouts
	if zero.For(KindDefault) != DefaultTimeouts().Default {
		t.Error("zero policy should fall back to defaults")
	}
}

// waitFor polls until cond holds or the test deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
