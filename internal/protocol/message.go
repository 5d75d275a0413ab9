package protocol

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Type identifies a wire message variant. Every message carries it in the
// "type" field of its JSON body.
type Type string

const (
	// TypeNegotiate declares the host's supported protocol versions.
	TypeNegotiate Type = "negotiate"
	// TypeNegotiateResponse carries the version the worker selected.
	TypeNegotiateResponse Type = "negotiate_response"
	// TypeChat is a conversational turn in either direction.
	TypeChat Type = "chat"
	// TypeSessionCommand is a correlated command against a session.
	TypeSessionCommand Type = "session_command"
	// TypeSessionResponse answers a session command.
	TypeSessionResponse Type = "session_response"
	// TypeFileUpload transfers file content to the worker.
	TypeFileUpload Type = "file_upload"
	// TypeFileUploadResponse answers a file upload.
	TypeFileUploadResponse Type = "file_upload_response"
	// TypeInterrupt asks the worker to abandon its current turn. Advisory.
	TypeInterrupt Type = "interrupt"
	// TypeError reports a worker-side failure.
	TypeError Type = "error"
)

// Correlated reports whether messages of this type answer an outstanding
// request and therefore carry a request id.
func (t Type) Correlated() bool {
	switch t {
	case TypeSessionResponse, TypeFileUploadResponse:
		return true
	default:
		return false
	}
}

// Envelope is a decoded wire message. Type and RequestID are extracted up
// front so the dispatcher can route without a full unmarshal; Body retains the
// complete JSON object for per-variant decoding.
type Envelope struct {
	Type      Type
	RequestID string
	Body      json.RawMessage
}

// DecodeInto unmarshals the envelope body into the given variant struct.
func (e *Envelope) DecodeInto(v any) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return &DecodeError{Cause: err}
	}
	return nil
}

// Decode parses an isolated JSON payload into an Envelope.
// The payload must already be a complete frame; callers get complete frames
// from the streambuf package.
func Decode(payload []byte) (*Envelope, error) {
	if !gjson.ValidBytes(payload) {
		return nil, &DecodeError{Cause: errInvalidJSON}
	}
	typ := gjson.GetBytes(payload, "type")
	if !typ.Exists() || typ.Str == "" {
		return nil, &DecodeError{Cause: errMissingType}
	}

	body := make(json.RawMessage, len(payload))
	copy(body, payload)

	return &Envelope{
		Type:      Type(typ.Str),
		RequestID: gjson.GetBytes(payload, "request_id").Str,
		Body:      body,
	}, nil
}

// NegotiateRequest declares what the host speaks. Sent once per worker start.
type NegotiateRequest struct {
	Type              Type   `json:"type"`
	SupportedVersions []int  `json:"supported_versions"`
	HostVersion       string `json:"host_version"`
}

// NegotiateResponse is the worker's version selection.
type NegotiateResponse struct {
	Type            Type `json:"type"`
	SelectedVersion int  `json:"selected_version"`
}

// ChatTurn is one conversational message.
type ChatTurn struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content"`
}

// SessionCommand drives session state in the worker (create, resume, list,
// summarize, delete). Correlated.
type SessionCommand struct {
	Type      Type           `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	Command   string         `json:"command"`
	SessionID string         `json:"session_id,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
}

// SessionResponse answers a SessionCommand.
type SessionResponse struct {
	Type      Type           `json:"type"`
	RequestID string         `json:"request_id"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

// FileUpload transfers file content to the worker. Data is base64 on the
// wire via encoding/json's []byte handling. Correlated.
type FileUpload struct {
	Type      Type   `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Name      string `json:"name"`
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"data"`
}

// FileUploadResponse answers a FileUpload.
type FileUploadResponse struct {
	Type      Type   `json:"type"`
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Path      string `json:"path,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// Interrupt asks the worker to stop its current turn. The worker may finish
// the turn anyway; any pending correlated request still settles normally.
type Interrupt struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorMessage reports a worker-side failure outside any correlation.
type ErrorMessage struct {
	Type    Type   `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
