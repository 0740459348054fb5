// Package protocol holds the wire format of the session socket: the inbound
// event union decoded at the boundary and the outbound message shapes.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Collab/internal/domain"
)

type Type string

const (
	TypeChatMessage  Type = "chat_message"
	TypeSketchUpdate Type = "sketch_update"
	TypeSketchGet    Type = "sketch_get"
	TypeSketchClear  Type = "sketch_clear"
	TypeEditorGet    Type = "editor_get"
	TypeEditorUpdate Type = "editor_update"
	TypeEditorSet    Type = "editor_set"
	TypeEditorClear  Type = "editor_clear"
	TypePresenceGet  Type = "presence_get"
	TypeMediaToggle  Type = "media_toggle"
	TypeWebRTCOffer  Type = "webrtc_offer"
	TypeWebRTCAnswer Type = "webrtc_answer"
	TypeWebRTCICE    Type = "webrtc_ice"
	TypePing         Type = "ping"
)

var (
	ErrMalformed   = errors.New("malformed event")
	ErrUnknownType = errors.New("unknown event type")
)

// Relay error codes sent back in webrtc_error.
const (
	CodeInvalidOffer  = "invalid_offer"
	CodeInvalidAnswer = "invalid_answer"
	CodeInvalidICE    = "invalid_ice"
	CodeTargetOffline = "target_offline"
)

// RelayError is a signaling event that cannot be relayed. Unlike other
// decode failures it is answered to the sender.
type RelayError struct {
	Code   string
	Reason string
}

func (e *RelayError) Error() string { return e.Code + ": " + e.Reason }

// Event is one decoded inbound message.
type Event interface {
	Kind() Type
}

type ChatMessage struct{ Text string }

type SketchUpdate struct{ Action domain.SketchAction }

type SketchGet struct{}

type SketchClear struct{}

type EditorGet struct{}

// EditorUpdate replaces Length code points at Offset with Text.
type EditorUpdate struct {
	Offset int
	Length int
	Text   string
}

type EditorSet struct{ Text string }

type EditorClear struct{}

type PresenceGet struct{}

// MediaToggle carries only the flags the client sent.
type MediaToggle struct {
	Mic *bool
	Cam *bool
}

// SignalRelay is a webrtc_offer, webrtc_answer or webrtc_ice addressed to
// another member. SDP is set for offers and answers, Candidate for ICE.
type SignalRelay struct {
	Type      Type
	To        domain.UserID
	SDP       string
	Candidate json.RawMessage
}

type Ping struct{}

func (ChatMessage) Kind() Type   { return TypeChatMessage }
func (SketchUpdate) Kind() Type  { return TypeSketchUpdate }
func (SketchGet) Kind() Type     { return TypeSketchGet }
func (SketchClear) Kind() Type   { return TypeSketchClear }
func (EditorGet) Kind() Type     { return TypeEditorGet }
func (EditorUpdate) Kind() Type  { return TypeEditorUpdate }
func (EditorSet) Kind() Type     { return TypeEditorSet }
func (EditorClear) Kind() Type   { return TypeEditorClear }
func (PresenceGet) Kind() Type   { return TypePresenceGet }
func (MediaToggle) Kind() Type   { return TypeMediaToggle }
func (e SignalRelay) Kind() Type { return e.Type }
func (Ping) Kind() Type          { return TypePing }

type envelope struct {
	Type    Type            `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Decode parses one inbound frame. Failures wrap ErrMalformed or
// ErrUnknownType, or are a *RelayError for signaling events.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeChatMessage:
		if isAbsent(env.Content) {
			return ChatMessage{}, nil
		}
		var text string
		if err := json.Unmarshal(env.Content, &text); err != nil {
			return nil, fmt.Errorf("%w: chat content is not text", ErrMalformed)
		}
		return ChatMessage{Text: text}, nil

	case TypeSketchUpdate:
		if !isObject(env.Content) {
			return nil, fmt.Errorf("%w: sketch action is not an object", ErrMalformed)
		}
		return SketchUpdate{Action: append(domain.SketchAction(nil), env.Content...)}, nil

	case TypeSketchGet:
		return SketchGet{}, nil
	case TypeSketchClear:
		return SketchClear{}, nil
	case TypeEditorGet:
		return EditorGet{}, nil

	case TypeEditorUpdate:
		return decodeEditorUpdate(env.Content)

	case TypeEditorSet:
		var text string
		if isAbsent(env.Content) || json.Unmarshal(env.Content, &text) != nil {
			return nil, fmt.Errorf("%w: editor_set content is not text", ErrMalformed)
		}
		return EditorSet{Text: text}, nil

	case TypeEditorClear:
		return EditorClear{}, nil
	case TypePresenceGet:
		return PresenceGet{}, nil

	case TypeMediaToggle:
		return decodeMediaToggle(data)

	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICE:
		return decodeRelay(env.Type, data)

	case TypePing:
		return Ping{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func decodeEditorUpdate(content json.RawMessage) (Event, error) {
	if !isObject(content) {
		return nil, fmt.Errorf("%w: editor_update content is not an object", ErrMalformed)
	}
	var delta map[string]json.RawMessage
	if err := json.Unmarshal(content, &delta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	offset, ok := coerceIntOr(delta["offset"], 0)
	if !ok {
		return nil, fmt.Errorf("%w: editor_update offset %s", ErrMalformed, delta["offset"])
	}
	length, ok := coerceIntOr(delta["length"], 0)
	if !ok {
		return nil, fmt.Errorf("%w: editor_update length %s", ErrMalformed, delta["length"])
	}
	text, ok := coerceText(delta["text"])
	if !ok {
		return nil, fmt.Errorf("%w: editor_update text %s", ErrMalformed, delta["text"])
	}
	return EditorUpdate{Offset: offset, Length: length, Text: text}, nil
}

func decodeMediaToggle(data []byte) (Event, error) {
	f, err := flatten(data)
	if err != nil {
		return nil, err
	}
	var ev MediaToggle
	if raw, ok := f["micEnabled"]; ok {
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: micEnabled is not a boolean", ErrMalformed)
		}
		ev.Mic = &v
	}
	if raw, ok := f["camEnabled"]; ok {
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: camEnabled is not a boolean", ErrMalformed)
		}
		ev.Cam = &v
	}
	if ev.Mic == nil && ev.Cam == nil {
		return nil, fmt.Errorf("%w: media_toggle without flags", ErrMalformed)
	}
	return ev, nil
}

func decodeRelay(t Type, data []byte) (Event, error) {
	code := map[Type]string{
		TypeWebRTCOffer:  CodeInvalidOffer,
		TypeWebRTCAnswer: CodeInvalidAnswer,
		TypeWebRTCICE:    CodeInvalidICE,
	}[t]

	f, err := flatten(data)
	if err != nil {
		return nil, &RelayError{Code: code, Reason: err.Error()}
	}
	to, ok := coerceInt(f["to_user_id"])
	if !ok {
		return nil, &RelayError{Code: code, Reason: "to_user_id missing or not an integer"}
	}
	ev := SignalRelay{Type: t, To: domain.UserID(to)}

	if t == TypeWebRTCICE {
		cand := f["candidate"]
		if isAbsent(cand) {
			return nil, &RelayError{Code: code, Reason: "candidate missing"}
		}
		ev.Candidate = append(json.RawMessage(nil), cand...)
		return ev, nil
	}

	raw := f["sdp"]
	if isAbsent(raw) || json.Unmarshal(raw, &ev.SDP) != nil {
		return nil, &RelayError{Code: code, Reason: "sdp missing or not text"}
	}
	return ev, nil
}

// flatten reads fields from the top level and from content, top level
// taking precedence.
func flatten(data []byte) (map[string]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	merged := make(map[string]json.RawMessage, len(top))
	if c := top["content"]; isObject(c) {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(c, &nested); err == nil {
			for k, v := range nested {
				merged[k] = v
			}
		}
	}
	for k, v := range top {
		if k == "content" {
			continue
		}
		merged[k] = v
	}
	return merged, nil
}

func isAbsent(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}
