package transport

import "time"

// Kind classifies a command for timeout policy.
type Kind int

const (
	// KindDefault covers interactive commands.
	KindDefault Kind = iota
	// KindSummarize covers summarization-class commands, which may call a
	// remote model and need a multiple of the interactive window.
	KindSummarize
	// KindFileUpload covers file transfers, tuned for transfer time.
	KindFileUpload
)

// String returns the kind name used in diagnostics.
func (k Kind) String() string {
	switch k {
	case KindSummarize:
		return "summarize"
	case KindFileUpload:
		return "file-upload"
	default:
		return "default"
	}
}

// Timeouts is the per-kind response deadline policy.
type Timeouts struct {
	Default    time.Duration
	Summarize  time.Duration
	FileUpload time.Duration
}

// DefaultTimeouts returns the standard policy: short for interactive
// commands, four times longer for summarization, and a transfer-sized window
// for uploads.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default:    30 * time.Second,
		Summarize:  120 * time.Second,
		FileUpload: 90 * time.Second,
	}
}

// For returns the deadline for a command kind.
func (t Timeouts) For(kind Kind) time.Duration {
	switch kind {
	case KindSummarize:
		if t.Summarize > 0 {
			return t.Summarize
		}
	case KindFileUpload:
		if t.FileUpload > 0 {
			return t.FileUpload
		}
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultTimeouts().Default
}
