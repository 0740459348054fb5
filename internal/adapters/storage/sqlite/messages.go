package sqlite

import (
	"context"
	"fmt"

	"github.com/dkeye/Collab/internal/domain"
)

func (s *Store) AppendMessage(ctx context.Context, sid domain.SessionID, uid domain.UserID, text string) (domain.ChatMessage, error) {
	created := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, user_id, content, created_at) VALUES (?, ?, ?, ?)`,
		int64(sid), int64(uid), text, created,
	)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("message id: %w", err)
	}
	return domain.ChatMessage{
		ID:        id,
		SessionID: sid,
		UserID:    uid,
		Content:   text,
		CreatedAt: created,
	}, nil
}

// Messages returns the newest limit messages of a session, oldest first.
func (s *Store) Messages(ctx context.Context, sid domain.SessionID, limit int) ([]domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, created_at FROM (
			SELECT id, user_id, content, created_at FROM messages
			WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		int64(sid), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var (
			m   domain.ChatMessage
			uid int64
		)
		if err := rows.Scan(&m.ID, &uid, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SessionID = sid
		m.UserID = domain.UserID(uid)
		out = append(out, m)
	}
	return out, rows.Err()
}
