// Package protocol defines the wire messages exchanged with the agent worker
// and the two codecs that carry them: a delimiter-framed JSON encoding that can
// be embedded in the worker's free-form stdout text, and a compact binary
// framing with optional compression for bulk payloads.
//
// The package is pure: it never performs I/O and never touches the worker
// process. Frame extraction from a live byte stream is the job of the
// streambuf package; this package only encodes complete messages and decodes
// fully-isolated payloads.
package protocol
