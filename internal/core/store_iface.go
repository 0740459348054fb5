package core

import (
	"context"

	"github.com/dkeye/Collab/internal/domain"
)

// EditorStore persists the shared editor buffer, one row per session.
type EditorStore interface {
	// LoadEditor returns ok=false when nothing was ever saved.
	LoadEditor(ctx context.Context, sid domain.SessionID) (text string, ok bool, err error)
	SaveEditor(ctx context.Context, sid domain.SessionID, text string) error
}

// SketchStore persists the sketch action log, one row per session.
type SketchStore interface {
	LoadSketch(ctx context.Context, sid domain.SessionID) (actions []domain.SketchAction, ok bool, err error)
	SaveSketch(ctx context.Context, sid domain.SessionID, actions []domain.SketchAction) error
}

// MessageStore appends chat lines.
type MessageStore interface {
	AppendMessage(ctx context.Context, sid domain.SessionID, uid domain.UserID, text string) (domain.ChatMessage, error)
}
