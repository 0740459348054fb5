package protocol

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Collab/internal/domain"
)

// Outbound types that have no inbound counterpart.
const (
	TypePresence           Type = "presence"
	TypePresenceJoin       Type = "presence_join"
	TypePresenceLeave      Type = "presence_leave"
	TypeMediaStateSnapshot Type = "media_state_snapshot"
	TypeMediaState         Type = "media_state"
	TypeSketchSync         Type = "sketch_sync"
	TypeSketchCleared      Type = "sketch_cleared"
	TypeEditorSync         Type = "editor_sync"
	TypeEditorCleared      Type = "editor_cleared"
	TypeWebRTCError        Type = "webrtc_error"
	TypePong               Type = "pong"
)

type Presence struct {
	Type  Type            `json:"type"`
	Users []domain.UserID `json:"users"`
}

func NewPresence(users []domain.UserID) Presence {
	if users == nil {
		users = []domain.UserID{}
	}
	return Presence{Type: TypePresence, Users: users}
}

type PresenceJoin struct {
	Type     Type          `json:"type"`
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
}

type PresenceLeave struct {
	Type   Type          `json:"type"`
	UserID domain.UserID `json:"user_id"`
}

// MediaStateSnapshot keys status by user id.
type MediaStateSnapshot struct {
	Type   Type                                 `json:"type"`
	Status map[domain.UserID]domain.MediaStatus `json:"status"`
}

type MediaState struct {
	Type   Type          `json:"type"`
	UserID domain.UserID `json:"user_id"`
	Mic    bool          `json:"mic"`
	Cam    bool          `json:"cam"`
}

func NewMediaState(uid domain.UserID, st domain.MediaStatus) MediaState {
	return MediaState{Type: TypeMediaState, UserID: uid, Mic: st.Mic, Cam: st.Cam}
}

type SketchSync struct {
	Type    Type                  `json:"type"`
	Content []domain.SketchAction `json:"content"`
}

func NewSketchSync(actions []domain.SketchAction) SketchSync {
	if actions == nil {
		actions = []domain.SketchAction{}
	}
	return SketchSync{Type: TypeSketchSync, Content: actions}
}

type EditorSync struct {
	Type    Type   `json:"type"`
	Content string `json:"content"`
}

// ChatBroadcast names the sender by display name only.
type ChatBroadcast struct {
	Type      Type      `json:"type"`
	User      string    `json:"user"`
	Content   string    `json:"content"`
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserEvent is the shape of sketch_update, sketch_cleared, editor_set and
// editor_cleared broadcasts. Content is omitted for the *_cleared types.
type UserEvent struct {
	Type    Type            `json:"type"`
	User    domain.Identity `json:"user"`
	Content any             `json:"content,omitempty"`
}

type EditorDelta struct {
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	Text   string `json:"text"`
}

type EditorUpdateBroadcast struct {
	Type    Type            `json:"type"`
	User    domain.Identity `json:"user"`
	Content EditorDelta     `json:"content"`
}

// SDPForward is a relayed offer or answer as the target receives it.
type SDPForward struct {
	Type       Type          `json:"type"`
	FromUserID domain.UserID `json:"from_user_id"`
	SDP        string        `json:"sdp"`
}

// ICEForward carries the candidate exactly as the sender wrote it.
type ICEForward struct {
	Type       Type            `json:"type"`
	FromUserID domain.UserID   `json:"from_user_id"`
	Candidate  json.RawMessage `json:"candidate"`
}

type SignalError struct {
	Type  Type   `json:"type"`
	Error string `json:"error"`
}

func NewSignalError(code string) SignalError {
	return SignalError{Type: TypeWebRTCError, Error: code}
}

type Pong struct {
	Type Type `json:"type"`
}
