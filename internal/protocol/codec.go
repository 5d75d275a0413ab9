package protocol

import (
	"bytes"
	"encoding/json"
)

// Delim is the frame marker for the delimited text encoding. A framed message
// is Delim + JSON + Delim embedded in otherwise free-form worker output, so
// consumers scan for marker pairs rather than assuming the whole stream is
// framed. The marker is multi-byte to keep accidental collisions with plain
// text out of the question.
const Delim = "\x1e|\x1e"

var delimBytes = []byte(Delim)

// Encode serializes a message to its JSON wire form without framing.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, newEncodingError(err)
	}
	return data, nil
}

// EncodeDelimited serializes a message and wraps it in frame markers.
func EncodeDelimited(msg any) ([]byte, error) {
	data, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	framed := make([]byte, 0, len(data)+2*len(delimBytes))
	framed = append(framed, delimBytes...)
	framed = append(framed, data...)
	framed = append(framed, delimBytes...)
	return framed, nil
}

// ExtractFrames scans data left to right for every complete delimited frame
// and returns the payloads in arrival order plus the bytes that must remain
// buffered. Free-form text before the first marker can never become part of a
// frame and is dropped, except for a trailing run that could be the start of a
// marker split across chunk boundaries.
func ExtractFrames(data []byte) (payloads [][]byte, rest []byte) {
	for {
		start := bytes.Index(data, delimBytes)
		if start < 0 {
			return payloads, delimTail(data)
		}
		after := data[start+len(delimBytes):]
		end := bytes.Index(after, delimBytes)
		if end < 0 {
			// Opening marker with no close yet: keep from the marker on.
			return payloads, data[start:]
		}
		payload := after[:end]
		payloads = append(payloads, payload)
		data = after[end+len(delimBytes):]
	}
}

// delimTail returns the longest suffix of data that is a proper prefix of the
// frame marker. Anything before it is unframed text and is discarded.
func delimTail(data []byte) []byte {
	max := len(delimBytes) - 1
	if len(data) < max {
		max = len(data)
	}
	for n := max; n > 0; n-- {
		if bytes.Equal(data[len(data)-n:], delimBytes[:n]) {
			return data[len(data)-n:]
		}
	}
	return nil
}
