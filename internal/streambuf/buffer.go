package streambuf

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dshills/agentpipe/internal/protocol"
)

// BufferOverflowError reports an append that would push the accumulation past
// its ceiling. The exchange it aborts is recoverable; the worker is not.
type BufferOverflowError struct {
	Code          string
	BytesReceived int
	MaxSize       int
	Operation     Operation
}

// Error implements the error interface.
func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf("%s buffer overflow: received %d bytes against a %d byte limit",
		e.Operation, e.BytesReceived, e.MaxSize)
}

// Config describes a Buffer.
type Config struct {
	// MaxSize is the absolute accumulation ceiling in bytes.
	// Zero selects the operation's default.
	MaxSize int

	// Operation selects the default ceiling and tags diagnostics.
	Operation Operation

	// OnMessage receives each decoded message, in frame-completion order.
	OnMessage func(*protocol.Envelope)

	// OnOverflow fires exactly once per overflow episode with the cumulative
	// bytes received at that point.
	OnOverflow func(bytesReceived int)

	// Logger receives discard diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// Buffer is the bounded streaming receiver. Safe for concurrent use, though
// in practice a single read loop feeds it.
type Buffer struct {
	mu  sync.Mutex
	cfg Config
	max int

	// acc holds only bytes that can still become a frame: a partial frame,
	// or a trailing run that could be the start of a split marker. Free-form
	// worker text outside any frame is discarded on ingest.
	acc []byte

	overflowed    bool
	bytesReceived int
	messageCount  int
	discarded     int
	sinceCheck    int
}

// Stats is a point-in-time snapshot of buffer counters.
type Stats struct {
	BufferSize    int
	BytesReceived int
	MessageCount  int
	Discarded     int
	Overflowed    bool
	// UtilizationPercent is the accumulation against the ceiling; once the
	// buffer has overflowed it reports total received bytes instead and may
	// exceed 100.
	UtilizationPercent float64
}

// New creates a Buffer. OnMessage and OnOverflow may be nil.
func New(cfg Config) *Buffer {
	max := cfg.MaxSize
	if max <= 0 {
		max = cfg.Operation.DefaultLimit()
	}
	return &Buffer{cfg: cfg, max: max}
}

// Append feeds a chunk of raw worker output into the buffer. Every frame the
// chunk completes is decoded and delivered through OnMessage before Append
// returns. Only bytes that can still become a frame stay accumulated; free
// text between frames is dropped, so ordinary worker chatter on a long-lived
// stream never erodes the ceiling. A chunk that would push the accumulation
// past the ceiling (an unterminated frame, or a single chunk larger than the
// limit) triggers
// the overflow episode and returns a BufferOverflowError; after that, Append
// is a silent no-op until Reset, tolerating a worker that keeps writing after
// the host has abandoned the exchange.
func (b *Buffer) Append(chunk []byte) error {
	b.mu.Lock()

	if b.overflowed {
		b.mu.Unlock()
		return nil
	}

	if len(b.acc)+len(chunk) > b.max {
		b.bytesReceived += len(chunk)
		b.overflowed = true
		received := b.bytesReceived
		onOverflow := b.cfg.OnOverflow
		err := &BufferOverflowError{
			Code:          "BUFFER_OVERFLOW",
			BytesReceived: received,
			MaxSize:       b.max,
			Operation:     b.cfg.Operation,
		}
		b.mu.Unlock()

		if onOverflow != nil {
			onOverflow(received)
		}
		return err
	}

	b.bytesReceived += len(chunk)
	b.sinceCheck += len(chunk)

	delivered := b.ingestLocked(chunk)
	onMessage := b.cfg.OnMessage
	b.mu.Unlock()

	if onMessage != nil {
		for _, env := range delivered {
			onMessage(env)
		}
	}
	return nil
}

// ingestLocked appends the chunk and extracts every frame now complete.
// Scanning is protocol.ExtractFrames: free-form text between frames is
// dropped, so a chatty worker on the long-lived channel never erodes the
// ceiling; only a partial frame (or a possible split marker tail) stays
// buffered and counts against it.
func (b *Buffer) ingestLocked(chunk []byte) []*protocol.Envelope {
	b.acc = append(b.acc, chunk...)

	payloads, rest := protocol.ExtractFrames(b.acc)

	var delivered []*protocol.Envelope
	for _, p := range payloads {
		// The extracted slice aliases acc, which is about to be compacted;
		// decode from an owned copy.
		payload := make([]byte, len(p))
		copy(payload, p)

		env, err := protocol.Decode(payload)
		if err != nil {
			// Malformed JSON inside a marker pair is dropped; it must not
			// reach OnMessage or abort the stream.
			b.discarded++
			if b.cfg.Logger != nil {
				b.cfg.Logger.Warn("discarding malformed frame",
					"operation", b.cfg.Operation.String(),
					"bytes", len(payload),
					"error", err)
			}
			continue
		}
		b.messageCount++
		delivered = append(delivered, env)
	}

	// rest aliases acc; copy handles the overlap.
	n := copy(b.acc, rest)
	b.acc = b.acc[:n]
	return delivered
}

// ShouldApplyBackpressure reports true the first time cumulative received
// bytes cross the interval since the last positive answer, then rearms. It is
// a periodic threshold signal, not a continuous rate: callers pause their read
// source for BackpressurePause on a true result.
func (b *Buffer) ShouldApplyBackpressure(checkIntervalBytes int) bool {
	if checkIntervalBytes <= 0 {
		checkIntervalBytes = DefaultBackpressureInterval
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sinceCheck >= checkIntervalBytes {
		b.sinceCheck = 0
		return true
	}
	return false
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	basis := len(b.acc)
	if b.overflowed {
		basis = b.bytesReceived
	}
	return Stats{
		BufferSize:         len(b.acc),
		BytesReceived:      b.bytesReceived,
		MessageCount:       b.messageCount,
		Discarded:          b.discarded,
		Overflowed:         b.overflowed,
		UtilizationPercent: float64(basis) * 100 / float64(b.max),
	}
}

// Reset clears the accumulation, all counters, and the overflow flag so the
// buffer can serve a new logical exchange. A reset buffer behaves identically
// to a freshly constructed one with the same configuration.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acc = nil
	b.overflowed = false
	b.bytesReceived = 0
	b.messageCount = 0
	b.discarded = 0
	b.sinceCheck = 0
}
