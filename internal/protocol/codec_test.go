package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDelimited_RoundTrip(t *testing.T) {
	framed, err := EncodeDelimited(ChatTurn{Type: TypeChat, Role: "user", Content: "hello"})
	if err != nil {
		t.Fatalf("EncodeDelimited() error = %v", err)
	}

	if !bytes.HasPrefix(framed, []byte(Delim)) || !bytes.HasSuffix(framed, []byte(Delim)) {
		t.Fatalf("frame missing markers: %q", framed)
	}

	payloads, rest := ExtractFrames(framed)
	if len(payloads) != 1 {
		t.Fatalf("ExtractFrames() returned %d payloads, want 1", len(payloads))
	}
	if len(rest) != 0 {
		t.Errorf("ExtractFrames() left %q buffered, want nothing", rest)
	}

	env, err := Decode(payloads[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.Type != TypeChat {
		t.Errorf("Type = %q, want %q", env.Type, TypeChat)
	}

	var turn ChatTurn
	if err := env.DecodeInto(&turn); err != nil {
		t.Fatalf("DecodeInto() error = %v", err)
	}
	if turn.Content != "hello" {
		t.Errorf("Content = %q, want %q", turn.Content, "hello")
	}
}

func TestExtractFrames_InterleavedText(t *testing.T) {
	frame1, _ := EncodeDelimited(Interrupt{Type: TypeInterrupt})
	frame2, _ := EncodeDelimited(ChatTurn{Type: TypeChat, Content: "x"})

	stream := append([]byte("worker booting...\n"), frame1...)
	stream = append(stream, []byte("progress 50%\n")...)
	stream = append(stream, frame2...)
	stream = append(stream, []byte("trailing noise")...)

	payloads, rest := ExtractFrames(stream)
	if len(payloads) != 2 {
		t.Fatalf("ExtractFrames() returned %d payloads, want 2", len(payloads))
	}
	if len(rest) != 0 {
		t.Errorf("rest = %q, want empty (plain text is dropped)", rest)
	}
}

func TestExtractFrames_IncompleteFrame(t *testing.T) {
	frame, _ := EncodeDelimited(ChatTurn{Type: TypeChat, Content: "partial"})

	// Cut the frame just before its closing marker completes.
	cut := frame[:len(frame)-1]
	payloads, rest := ExtractFrames(cut)
	if len(payloads) != 0 {
		t.Fatalf("got %d payloads from an incomplete frame, want 0", len(payloads))
	}
	if len(rest) == 0 {
		t.Fatal("incomplete frame was not kept buffered")
	}

	// Completing the frame yields exactly one payload.
	payloads, rest = ExtractFrames(append(rest, frame[len(frame)-1:]...))
	if len(payloads) != 1 {
		t.Fatalf("got %d payloads after completion, want 1", len(payloads))
	}
	if len(rest) != 0 {
		t.Errorf("rest = %q after completion, want empty", rest)
	}
}

func TestExtractFrames_MarkerPrefixTail(t *testing.T) {
	// A chunk ending mid-marker must keep the marker prefix buffered so the
	// next chunk can complete it.
	data := append([]byte("free text"), Delim[:1]...)
	payloads, rest := ExtractFrames(data)
	if len(payloads) != 0 {
		t.Fatalf("got %d payloads, want 0", len(payloads))
	}
	if string(rest) != Delim[:1] {
		t.Errorf("rest = %q, want marker prefix %q", rest, Delim[:1])
	}
}

func TestEncode_UnserializablePayload(t *testing.T) {
	_, err := Encode(map[string]any{"bad": make(chan int)})
	if err == nil {
		t.Fatal("Encode() accepted an unserializable payload")
	}
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("error type = %T, want *EncodingError", err)
	}
	if !strings.Contains(encErr.Field, "chan") {
		t.Errorf("Field = %q, want it to name the chan type", encErr.Field)
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Error("Decode() accepted malformed JSON")
	}
	if _, err := Decode([]byte(`{"content":"no type"}`)); err == nil {
		t.Error("Decode() accepted a payload without a type field")
	}
}

func TestDecode_RequestID(t *testing.T) {
	payload, _ := json.Marshal(SessionResponse{
		Type:      TypeSessionResponse,
		RequestID: "req-42",
		Success:   true,
	})
	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.RequestID != "req-42" {
		t.Errorf("RequestID = %q, want %q", env.RequestID, "req-42")
	}
	if !env.Type.Correlated() {
		t.Errorf("Correlated() = false for %q, want true", env.Type)
	}
}
