package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Collab/internal/domain"
	"github.com/rs/zerolog/log"
)

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

func (s *Store) LoadEditor(ctx context.Context, sid domain.SessionID) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM session_editors WHERE session_id = ?`, int64(sid),
	).Scan(&text)
	switch {
	case err == nil:
		return text, true, nil
	case isNoRows(err):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("load editor: %w", err)
	}
}

func (s *Store) SaveEditor(ctx context.Context, sid domain.SessionID, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_editors (session_id, content, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		int64(sid), text, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save editor: %w", err)
	}
	return nil
}

// LoadSketch reads the stored log. A stored single object becomes a one
// element log; anything that is not a JSON array or object reads as empty.
func (s *Store) LoadSketch(ctx context.Context, sid domain.SessionID) ([]domain.SketchAction, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM session_sketches WHERE session_id = ?`, int64(sid),
	).Scan(&raw)
	switch {
	case isNoRows(err):
		return []domain.SketchAction{}, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("load sketch: %w", err)
	}
	return decodeSketch(sid, raw.String), true, nil
}

func decodeSketch(sid domain.SessionID, content string) []domain.SketchAction {
	trimmed := bytes.TrimSpace([]byte(content))
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []domain.SketchAction{}
	}
	switch trimmed[0] {
	case '[':
		var actions []domain.SketchAction
		if err := json.Unmarshal(trimmed, &actions); err == nil {
			if actions == nil {
				actions = []domain.SketchAction{}
			}
			return actions
		}
	case '{':
		if json.Valid(trimmed) {
			return []domain.SketchAction{domain.SketchAction(trimmed)}
		}
	}
	log.Warn().Str("module", "storage.sqlite").Int64("session", int64(sid)).Msg("stored sketch unreadable, starting empty")
	return []domain.SketchAction{}
}

func (s *Store) SaveSketch(ctx context.Context, sid domain.SessionID, actions []domain.SketchAction) error {
	if actions == nil {
		actions = []domain.SketchAction{}
	}
	payload, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode sketch: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_sketches (session_id, content, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		int64(sid), string(payload), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save sketch: %w", err)
	}
	return nil
}
