package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

type SessionID int64

func (id SessionID) String() string { return strconv.FormatInt(int64(id), 10) }

func ParseSessionID(s string) (SessionID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return SessionID(n), nil
}

// SketchAction is one opaque drawing record as sent by a client.
type SketchAction = json.RawMessage

// MediaStatus is a member's advertised mic/cam state.
type MediaStatus struct {
	Mic bool `json:"mic"`
	Cam bool `json:"cam"`
}

func (m MediaStatus) Any() bool { return m.Mic || m.Cam }

// ChatMessage is a persisted chat line.
type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID SessionID `json:"session_id"`
	UserID    UserID    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
