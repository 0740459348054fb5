package sqlite

import (
	"context"
	"fmt"

	"github.com/dkeye/Collab/internal/domain"
)

func (s *Store) IsMember(ctx context.Context, sid domain.SessionID, uid domain.UserID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM session_members WHERE session_id = ? AND user_id = ? LIMIT 1`,
		int64(sid), int64(uid),
	).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case isNoRows(err):
		return false, nil
	default:
		return false, fmt.Errorf("query membership: %w", err)
	}
}

// AddMember is idempotent.
func (s *Store) AddMember(ctx context.Context, sid domain.SessionID, uid domain.UserID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_members (session_id, user_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT (session_id, user_id) DO NOTHING`,
		int64(sid), int64(uid), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}
