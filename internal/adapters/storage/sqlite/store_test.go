package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Collab/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "collab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMembership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.IsMember(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddMember(ctx, 1, 10))
	require.NoError(t, s.AddMember(ctx, 1, 10), "adding twice is fine")

	ok, err = s.IsMember(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsMember(ctx, 2, 10)
	require.NoError(t, err)
	assert.False(t, ok, "membership is per session")
}

func TestEditorRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	text, ok, err := s.LoadEditor(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", text)

	require.NoError(t, s.SaveEditor(ctx, 5, "first"))
	require.NoError(t, s.SaveEditor(ctx, 5, "second ✓"))

	text, ok, err = s.LoadEditor(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second ✓", text)
}

func TestSketchRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	actions, ok, err := s.LoadSketch(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotNil(t, actions)
	assert.Empty(t, actions)

	require.NoError(t, s.SaveSketch(ctx, 5, []domain.SketchAction{
		domain.SketchAction(`{"tool":"pen","p":[1,2]}`),
		domain.SketchAction(`{"tool":"eraser"}`),
	}))
	actions, ok, err = s.LoadSketch(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, actions, 2)
	assert.JSONEq(t, `{"tool":"pen","p":[1,2]}`, string(actions[0]))

	require.NoError(t, s.SaveSketch(ctx, 5, nil))
	actions, _, err = s.LoadSketch(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, actions)

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT content FROM session_sketches WHERE session_id = 5`).Scan(&raw))
	assert.Equal(t, "[]", raw)
}

func TestLoadSketchLegacyContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"single object", `{"tool":"pen"}`, []string{`{"tool":"pen"}`}},
		{"array", `[{"a":1},{"b":2}]`, []string{`{"a":1}`, `{"b":2}`}},
		{"empty", ``, nil},
		{"null", `null`, nil},
		{"garbage", `not json at all`, nil},
		{"scalar", `42`, nil},
		{"broken object", `{"tool":`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			_, err := s.db.Exec(
				`INSERT INTO session_sketches (session_id, content, updated_at) VALUES (1, ?, ?)`,
				tt.content, time.Now().UTC(),
			)
			require.NoError(t, err)

			actions, ok, err := s.LoadSketch(context.Background(), 1)
			require.NoError(t, err)
			assert.True(t, ok)
			require.Len(t, actions, len(tt.want))
			for i, w := range tt.want {
				assert.JSONEq(t, w, string(actions[i]))
			}
		})
	}
}

func TestMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	first, err := s.AppendMessage(ctx, 3, 1, "one")
	require.NoError(t, err)
	second, err := s.AppendMessage(ctx, 3, 2, "two")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, 4, 2, "elsewhere")
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, fixed, first.CreatedAt)
	assert.Equal(t, domain.SessionID(3), first.SessionID)

	msgs, err := s.Messages(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, domain.UserID(2), msgs[1].UserID)
	assert.True(t, fixed.Equal(msgs[0].CreatedAt))

	msgs, err = s.Messages(ctx, 3, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", msgs[0].Content, "limit keeps the newest")
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
