// Package chatproto defines the tutor chat wire vocabulary: inbound tagged
// frames, the single outbound message shape, and the locally synthesized
// lifecycle frames that share the dispatch path with wire frames.
package chatproto

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// FrameType is the discriminating tag of a frame.
type FrameType string

const (
	TypeHistory        FrameType = "history"
	TypeResponseStream FrameType = "response_stream"
	TypeFullText       FrameType = "full_text"
	TypeControl        FrameType = "control"

	// Lifecycle frames are never read from the wire. The backend may still
	// send a wire frame typed "error"; it shares the lifecycle tag.
	TypeConnect FrameType = "connect"
	TypeClose   FrameType = "close"
	TypeError   FrameType = "error"
)

// ControlDone is the control payload that ends a stream.
const ControlDone = "[DONE]"

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingType    = errors.New("frame has no type")
)

// HistoryEntry is one replayed turn of a history frame.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Frame is one inbound unit delivered through the dispatch registry.
type Frame struct {
	Type FrameType

	// Raw is the frame exactly as received. Nil for lifecycle frames.
	Raw json.RawMessage
	// Err is the underlying transport error of an error lifecycle frame.
	Err error

	content json.RawMessage
	chunk   string
}

type wireFrame struct {
	Type           string          `json:"type"`
	Content        json.RawMessage `json:"content,omitempty"`
	ResponseStream *string         `json:"response_stream,omitempty"`
}

// Decoder turns raw text messages into frames.
type Decoder struct {
	// InferUntypedStream types frames that carry a response_stream field but
	// no type tag as response_stream instead of rejecting them.
	InferUntypedStream bool
}

// Decode parses data with the default (strict) decoder.
func Decode(data []byte) (Frame, error) {
	return Decoder{}.Decode(data)
}

func (d Decoder) Decode(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	typ := strings.TrimSpace(w.Type)
	if typ == "" {
		if !d.InferUntypedStream || w.ResponseStream == nil {
			return Frame{}, ErrMissingType
		}
		typ = string(TypeResponseStream)
	}
	f := Frame{
		Type:    FrameType(typ),
		Raw:     append(json.RawMessage(nil), data...),
		content: w.Content,
	}
	if w.ResponseStream != nil {
		f.chunk = *w.ResponseStream
	}
	return f, nil
}

// Chunk returns the incremental text of a response_stream frame.
func (f Frame) Chunk() string {
	return f.chunk
}

// Text returns the content field when it is a JSON string. full_text,
// control and server error frames carry their payload this way.
func (f Frame) Text() string {
	if len(f.content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(f.content, &s); err != nil {
		return ""
	}
	return s
}

// History returns the replayed turns of a history frame.
func (f Frame) History() ([]HistoryEntry, error) {
	if len(f.content) == 0 {
		return nil, nil
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(f.content, &entries); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, "history content")
	}
	return entries, nil
}

// IsDone reports whether f is the control frame that ends a stream.
func (f Frame) IsDone() bool {
	return f.Type == TypeControl && f.Text() == ControlDone
}

// IsLifecycle reports whether f was synthesized locally rather than read
// from the wire.
func (f Frame) IsLifecycle() bool {
	return f.Raw == nil
}

// MarshalJSON renders wire frames verbatim and lifecycle frames as a small
// typed object, so frames can be mirrored to other transports.
func (f Frame) MarshalJSON() ([]byte, error) {
	if f.Raw != nil {
		return f.Raw, nil
	}
	out := map[string]any{"type": f.Type}
	if f.Err != nil {
		out["content"] = f.Err.Error()
	}
	return json.Marshal(out)
}

// Connected builds the connect lifecycle frame.
func Connected() Frame {
	return Frame{Type: TypeConnect}
}

// Closed builds the close lifecycle frame.
func Closed() Frame {
	return Frame{Type: TypeClose}
}

// TransportError builds the error lifecycle frame wrapping err.
func TransportError(err error) Frame {
	return Frame{Type: TypeError, Err: err}
}
