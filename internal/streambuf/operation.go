package streambuf

import "time"

// Operation tags a buffer with the logical exchange it serves. The tag selects
// the default byte ceiling and shows up in overflow diagnostics.
type Operation int

const (
	// OpChannel is the long-lived primary event stream.
	OpChannel Operation = iota
	// OpMessage bounds a single message.
	OpMessage
	// OpSessionResponse is a per-session-command response exchange.
	OpSessionResponse
	// OpFileUploadResponse is a file-upload response exchange.
	OpFileUploadResponse
)

// Default byte ceilings per operation, overridable via Config.MaxSize.
const (
	DefaultChannelLimit         = 10 * 1024 * 1024
	DefaultMessageLimit         = 5 * 1024 * 1024
	DefaultSessionResponseLimit = 2 * 1024 * 1024
	DefaultFileUploadLimit      = 5 * 1024 * 1024

	// DefaultBackpressureInterval is the received-byte granularity at which
	// ShouldApplyBackpressure reports true.
	DefaultBackpressureInterval = 1024 * 1024

	// BackpressurePause is how long a read loop pauses on a positive
	// backpressure check.
	BackpressurePause = 100 * time.Millisecond
)

// String returns the operation name used in diagnostics.
func (op Operation) String() string {
	switch op {
	case OpChannel:
		return "channel"
	case OpMessage:
		return "message"
	case OpSessionResponse:
		return "session-response"
	case OpFileUploadResponse:
		return "file-upload-response"
	default:
		return "unknown"
	}
}

// DefaultLimit returns the byte ceiling applied when Config.MaxSize is zero.
func (op Operation) DefaultLimit() int {
	switch op {
	case OpMessage:
		return DefaultMessageLimit
	case OpSessionResponse:
		return DefaultSessionResponseLimit
	case OpFileUploadResponse:
		return DefaultFileUploadLimit
	default:
		return DefaultChannelLimit
	}
}
