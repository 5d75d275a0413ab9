//go:build unix

package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/agentpipe/internal/protocol"
	"github.com/dshills/agentpipe/internal/streambuf"
	"github.com/dshills/agentpipe/internal/transport"
)

// frame builds a shell printf argument emitting one delimited frame.
const frameFmt = `printf '\036|\036%s\036|\036'`

func shWorker(script string) Config {
	return Config{Command: "sh", Args: []string{"-c", script}}
}

// nextEvent waits for the first event of the wanted kind, skipping others.
func nextEvent(t *testing.T, b *Bridge, want EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-b.Events():
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event before deadline", want)
		}
	}
}

func TestBridgeConnectAndDisconnect(t *testing.T) {
	b := New(shWorker("cat >/dev/null"))

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	nextEvent(t, b, EventConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	ev := nextEvent(t, b, EventDisconnected)
	if ev.Err != nil {
		t.Errorf("deliberate disconnect carried error %v", ev.Err)
	}
}

func TestBridgeDeliversWorkerMessages(t *testing.T) {
	b := New(shWorker(`echo "worker booting"; ` + frameFmt + ` '{"type":"chat","role":"assistant","content":"hi"}'; cat >/dev/null`))

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Shutdown(context.Background())

	ev := nextEvent(t, b, EventMessage)
	if ev.Envelope.Type != protocol.TypeChat {
		t.Fatalf("event type = %s, want chat", ev.Envelope.Type)
	}
	var turn protocol.ChatTurn
	if err := ev.Envelope.DecodeInto(&turn); err != nil {
		t.Fatalf("decode chat turn: %v", err)
	}
	if turn.Content != "hi" {
		t.Errorf("content = %q, want %q", turn.Content, "hi")
	}
}

func TestBridgeRecordsNegotiatedVersion(t *testing.T) {
	b := New(shWorker(frameFmt + ` '{"type":"negotiate_response","selected_version":1}'; cat >/dev/null`))

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Shutdown(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for b.Version() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Version() = %d, want 1", b.Version())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBridgeSurfacesWorkerErrors(t *testing.T) {
	b := New(shWorker(frameFmt + ` '{"type":"error","code":"E_SESSION","message":"session lost"}'; cat >/dev/null`))

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Shutdown(context.Background())

	ev := nextEvent(t, b, EventError)
	var werr *WorkerError
	if !errors.As(ev.Err, &werr) {
		t.Fatalf("event error = %v, want *WorkerError", ev.Err)
	}
	if werr.Code != "E_SESSION" {
		t.Errorf("code = %q, want E_SESSION", werr.Code)
	}
}

func TestBridgeSendBeforeStart(t *testing.T) {
	b := New(shWorker("cat >/dev/null"))
	if err := b.Chat("", "hello"); !errors.Is(err, transport.ErrBackendUnavailable) {
		t.Errorf("Chat() before Start error = %v, want ErrBackendUnavailable", err)
	}
}

func TestBridgeCommandTimesOut(t *testing.T) {
	cfg := shWorker("cat >/dev/null")
	cfg.Timeouts = transport.Timeouts{Default: 100 * time.Millisecond}
	b := New(cfg)

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Shutdown(context.Background())

	_, err := b.Command(context.Background(), "list", "", nil)
	if !errors.Is(err, transport.ErrCommandTimeout) {
		t.Errorf("Command() error = %v, want ErrCommandTimeout", err)
	}
}

func TestBridgeCommandRejectedOnWorkerExit(t *testing.T) {
	b := New(shWorker("sleep 0.3"))

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Shutdown(context.Background())

	_, err := b.Command(context.Background(), "list", "", nil)
	if !errors.Is(err, transport.ErrBackendExited) {
		t.Errorf("Command() error = %v, want ErrBackendExited", err)
	}
}

func TestBridgeOverflowEmitsError(t *testing.T) {
	// An opening marker with no close: the flood counts as one giant partial
	// frame, which must trip the ceiling however the pipe chunks it.
	cfg := shWorker(`printf '\036|\036'; head -c 4096 /dev/zero | tr '\0' 'a'; cat >/dev/null`)
	cfg.BufferSize = 1024
	b := New(cfg)

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Shutdown(context.Background())

	ev := nextEvent(t, b, EventError)
	var overflow *streambuf.BufferOverflowError
	if !errors.As(ev.Err, &overflow) {
		t.Fatalf("event error = %v, want *BufferOverflowError", ev.Err)
	}
	if overflow.MaxSize != 1024 {
		t.Errorf("MaxSize = %d, want 1024", overflow.MaxSize)
	}
}

func TestBridgeRestartEmitsEvent(t *testing.T) {
	b := New(shWorker("cat >/dev/null"))

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := b.Restart(ctx); err != nil {
		t.Fatalf("Restart() error: %v", err)
	}
	nextEvent(t, b, EventRestarted)
	if !b.Running() {
		t.Error("Running() = false after Restart")
	}
}

func TestBridgeStats(t *testing.T) {
	b := New(shWorker(frameFmt + ` '{"type":"chat","content":"x"}'; cat >/dev/null`))

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Shutdown(context.Background())

	nextEvent(t, b, EventMessage)
	st := b.Stats()
	if st.State != "running" {
		t.Errorf("State = %q, want running", st.State)
	}
	if st.Buffer.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", st.Buffer.MessageCount)
	}
	if st.Pending != 0 {
		t.Errorf("Pending = %d, want 0", st.Pending)
	}
}
