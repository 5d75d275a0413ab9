package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Binary framing: an 8-byte header followed by a JSON payload. The header is
//
//	[0] framing version
//	[1] message type tag
//	[2] flags
//	[3] reserved (zero)
//	[4:8] payload length, big endian
//
// Payloads above CompressThreshold are gzip-compressed and flagged.
const (
	BinaryVersion = 1

	binaryHeaderSize = 8

	// CompressThreshold is the payload size above which EncodeBinary
	// compresses. Compressing tiny JSON bodies costs more than it saves.
	CompressThreshold = 8 * 1024

	// MaxBinaryPayload caps a single decoded payload. Matches the
	// single-message ceiling enforced by the streaming buffer.
	MaxBinaryPayload = 5 * 1024 * 1024

	flagCompressed = 0x01
)

// typeTags maps message types to their one-byte header tag. Tag 0 is
// reserved for unknown.
var typeTags = map[Type]byte{
	TypeNegotiate:          1,
	TypeNegotiateResponse:  2,
	TypeChat:               3,
	TypeSessionCommand:     4,
	TypeSessionResponse:    5,
	TypeFileUpload:         6,
	TypeFileUploadResponse: 7,
	TypeInterrupt:          8,
	TypeError:              9,
}

var tagTypes = func() map[byte]Type {
	m := make(map[byte]Type, len(typeTags))
	for t, b := range typeTags {
		m[b] = t
	}
	return m
}()

// EncodeBinary serializes a message into a complete binary frame.
func EncodeBinary(typ Type, msg any) ([]byte, error) {
	payload, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	return FrameBinary(typ, payload)
}

// FrameBinary wraps an already-serialized JSON payload in a binary frame.
// Used when the payload has been post-processed after marshaling, such as
// stamping a request id.
func FrameBinary(typ Type, payload []byte) ([]byte, error) {
	var flags byte
	if len(payload) > CompressThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("compress payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress payload: %w", err)
		}
		// Only keep the compressed form when it actually shrank.
		if buf.Len() < len(payload) {
			payload = buf.Bytes()
			flags |= flagCompressed
		}
	}

	frame := make([]byte, binaryHeaderSize+len(payload))
	frame[0] = BinaryVersion
	frame[1] = typeTags[typ]
	frame[2] = flags
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[binaryHeaderSize:], payload)
	return frame, nil
}

// DecodeBinary parses a complete binary frame into an Envelope.
func DecodeBinary(frame []byte) (*Envelope, error) {
	if len(frame) < binaryHeaderSize {
		return nil, ErrShortFrame
	}
	if frame[0] != BinaryVersion {
		return nil, fmt.Errorf("%w: version %d", ErrFrameVersion, frame[0])
	}
	length := binary.BigEndian.Uint32(frame[4:8])
	if length > MaxBinaryPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	if len(frame) < binaryHeaderSize+int(length) {
		return nil, ErrShortFrame
	}

	payload := frame[binaryHeaderSize : binaryHeaderSize+int(length)]
	if frame[2]&flagCompressed != 0 {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, &DecodeError{Cause: err}
		}
		defer zr.Close()
		payload, err = io.ReadAll(io.LimitReader(zr, MaxBinaryPayload+1))
		if err != nil {
			return nil, &DecodeError{Cause: err}
		}
		if len(payload) > MaxBinaryPayload {
			return nil, fmt.Errorf("%w: decompressed payload", ErrFrameTooLarge)
		}
	}

	env, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	if tag, ok := tagTypes[frame[1]]; ok && tag != env.Type {
		return nil, &DecodeError{Cause: fmt.Errorf("header tag %q disagrees with body type %q", tag, env.Type)}
	}
	return env, nil
}

// ReadBinaryFrame reads one complete frame from a stream. It blocks until the
// full payload arrives or the stream errors.
func ReadBinaryFrame(r *bufio.Reader) (*Envelope, error) {
	header := make([]byte, binaryHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[4:8])
	if length > MaxBinaryPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	frame := make([]byte, binaryHeaderSize+int(length))
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[binaryHeaderSize:]); err != nil {
		return nil, err
	}
	return DecodeBinary(frame)
}
