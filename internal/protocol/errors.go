package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	errInvalidJSON = errors.New("payload is not valid JSON")
	errMissingType = errors.New("payload has no type field")

	// ErrShortFrame indicates a binary frame shorter than its header claims.
	ErrShortFrame = errors.New("binary frame truncated")

	// ErrFrameVersion indicates an unsupported binary framing version.
	ErrFrameVersion = errors.New("unsupported binary frame version")

	// ErrFrameTooLarge indicates a binary frame above the single-message limit.
	ErrFrameTooLarge = errors.New("binary frame exceeds message limit")
)

// EncodingError reports an outbound payload that cannot be serialized.
// This is a caller bug: it is surfaced immediately and never retried.
type EncodingError struct {
	// Field names the offending value when the marshaler can identify it.
	Field string
	Cause error
}

// Error implements the error interface.
func (e *EncodingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("encode message: unserializable field %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("encode message: %v", e.Cause)
}

// Unwrap returns the underlying marshal error.
func (e *EncodingError) Unwrap() error { return e.Cause }

// DecodeError reports a payload that could not be parsed into an Envelope.
type DecodeError struct {
	Cause error
}

// Error implements the error interface.
func (e *DecodeError) Error() string { return fmt.Sprintf("decode message: %v", e.Cause) }

// Unwrap returns the underlying parse error.
func (e *DecodeError) Unwrap() error { return e.Cause }

// newEncodingError wraps a json.Marshal failure, pulling out the offending
// type name when the standard library identifies one.
func newEncodingError(err error) *EncodingError {
	var ute *json.UnsupportedTypeError
	if errors.As(err, &ute) {
		return &EncodingError{Field: ute.Type.String(), Cause: err}
	}
	var uve *json.UnsupportedValueError
	if errors.As(err, &uve) {
		return &EncodingError{Field: uve.Str, Cause: err}
	}
	var me *json.MarshalerError
	if errors.As(err, &me) {
		return &EncodingError{Field: me.Type.String(), Cause: err}
	}
	return &EncodingError{Cause: err}
}
