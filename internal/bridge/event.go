package bridge

import (
	"sync/atomic"
	"time"

	"github.com/dshills/agentpipe/internal/protocol"
)

// EventKind classifies a bridge event.
type EventKind int

const (
	// EventConnected fires after a worker start completes its wiring.
	EventConnected EventKind = iota
	// EventDisconnected fires when the worker is observed gone.
	EventDisconnected
	// EventMessage carries an uncorrelated inbound message.
	EventMessage
	// EventError carries a worker-reported or bridge-detected failure.
	EventError
	// EventRestarted fires after an explicit restart completes.
	EventRestarted
)

// String returns a human-readable kind name.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventRestarted:
		return "restarted"
	default:
		return "unknown"
	}
}

// Event is one bridge notification. Envelope is set for EventMessage, Err for
// EventError and EventDisconnected.
type Event struct {
	Kind     EventKind
	Envelope *protocol.Envelope
	Err      error
	Time     time.Time
}

// eventBus fans events out to a single buffered subscriber channel. A full
// channel drops the event and counts it rather than blocking the read loop.
type eventBus struct {
	ch      chan Event
	dropped atomic.Uint64
}

func newEventBus(size int) *eventBus {
	if size <= 0 {
		size = 64
	}
	return &eventBus{ch: make(chan Event, size)}
}

func (b *eventBus) publish(ev Event) {
	ev.Time = time.Now()
	select {
	case b.ch <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the subscriber fell
// behind.
func (b *eventBus) Dropped() uint64 { return b.dropped.Load() }
