// Package streambuf implements the bounded receive buffer between the worker's
// stdout and the message codec. It accumulates arbitrary byte chunks, extracts
// every complete delimited frame as it arrives, and enforces a hard byte
// ceiling so a flooding or malformed worker can never exhaust host memory.
//
// Overflow is sticky: once the ceiling is hit the buffer stops accepting bytes
// until Reset, reporting the episode exactly once. That aborts the current
// logical exchange only; the worker is left running and the buffer instance
// stays safely discardable.
package streambuf
