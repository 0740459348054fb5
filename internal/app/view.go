package app

import (
	"context"
	"encoding/json"
	"maps"
	"slices"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/rs/zerolog/log"
)

// View is the locked handle a caller gets inside Registry.Update, Attach
// and Detach. It must not escape the callback.
//
// Sends are non-blocking enqueues, so fan-out happens under the session
// lock and keeps per-session ordering; the network writes happen later in
// each connection's write pump. Connections whose send fails are removed
// from the routing tables here and closed once the lock is released.
type View struct {
	r       *Registry
	s       *SessionState
	dropped []core.SignalConnection
}

func (v *View) ID() domain.SessionID { return v.s.id }

func (v *View) Editor() string { return v.s.editor }

func (v *View) SetEditor(text string) { v.s.editor = text }

// SpliceEditor applies a bounded replace-range to the editor text.
func (v *View) SpliceEditor(offset, length int, insert string) string {
	v.s.editor = ApplySplice(v.s.editor, offset, length, insert)
	return v.s.editor
}

func (v *View) Sketch() []domain.SketchAction { return slices.Clone(v.s.sketch) }

func (v *View) AppendSketch(a domain.SketchAction) { v.s.sketch = append(v.s.sketch, a) }

func (v *View) ClearSketch() { v.s.sketch = []domain.SketchAction{} }

// Present returns the sorted ids of users with at least one live connection.
func (v *View) Present() []domain.UserID { return v.s.present() }

// Connected reports whether id is still routed in this session.
func (v *View) Connected(id core.ConnID) bool {
	_, ok := v.s.conns[id]
	return ok
}

func (v *View) IsPresent(uid domain.UserID) bool {
	return len(v.s.byUser[uid]) > 0
}

func (v *View) Media(uid domain.UserID) domain.MediaStatus { return v.s.media[uid] }

func (v *View) SetMedia(uid domain.UserID, st domain.MediaStatus) { v.s.media[uid] = st }

func (v *View) MediaSnapshot() map[domain.UserID]domain.MediaStatus { return maps.Clone(v.s.media) }

// PersistEditor writes the editor text now.
func (v *View) PersistEditor(ctx context.Context) error {
	return v.r.saveEditor(ctx, v.s)
}

// PersistSketch writes the sketch log now.
func (v *View) PersistSketch(ctx context.Context) error {
	return v.r.saveSketch(ctx, v.s)
}

// Send delivers msg to a single connection.
func (v *View) Send(id core.ConnID, msg any) bool {
	m, ok := v.s.conns[id]
	if !ok {
		return false
	}
	f, ok := encode(msg)
	if !ok {
		return false
	}
	return v.deliver(m, f)
}

// Broadcast delivers msg to every live connection except the listed ones
// and returns how many accepted it.
func (v *View) Broadcast(msg any, except ...core.ConnID) int {
	if len(v.s.conns) == 0 {
		return 0
	}
	f, ok := encode(msg)
	if !ok {
		return 0
	}
	targets := make([]*member, 0, len(v.s.conns))
	for id, m := range v.s.conns {
		if slices.Contains(except, id) {
			continue
		}
		targets = append(targets, m)
	}
	return v.fanout(targets, f)
}

// UnicastToUser delivers msg to every connection owned by uid.
func (v *View) UnicastToUser(uid domain.UserID, msg any) int {
	set := v.s.byUser[uid]
	if len(set) == 0 {
		return 0
	}
	f, ok := encode(msg)
	if !ok {
		return 0
	}
	return v.fanout(slices.Collect(maps.Values(set)), f)
}

func (v *View) fanout(targets []*member, f core.Frame) int {
	sent := 0
	for _, m := range targets {
		if v.deliver(m, f) {
			sent++
		}
	}
	log.Debug().Str("module", "app.router").Int64("session", int64(v.s.id)).Int("sent_to", sent).Int("targets", len(targets)).Msg("fanout result")
	return sent
}

func (v *View) deliver(m *member, f core.Frame) bool {
	err := m.conn.TrySend(f)
	if err == nil {
		return true
	}
	id := m.conn.ID()
	switch v.r.policy.OnSendFailure(v.s.id, id, err) {
	case DropConnection:
		if v.s.unregister(id, m.who.ID) {
			v.dropped = append(v.dropped, m.conn)
		}
		log.Warn().Err(err).Str("module", "app.router").Int64("session", int64(v.s.id)).Str("conn", string(id)).Int64("user", int64(m.who.ID)).Msg("send failed, connection dropped")
	case DropFrame:
		log.Warn().Err(err).Str("module", "app.router").Int64("session", int64(v.s.id)).Str("conn", string(id)).Msg("send failed, frame dropped")
	}
	return false
}

// closeDropped runs after the session lock is released.
func (v *View) closeDropped() {
	for _, c := range v.dropped {
		c.Close()
	}
	v.dropped = nil
}

func encode(msg any) (core.Frame, bool) {
	if f, ok := msg.(core.Frame); ok {
		return f, true
	}
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode message")
		return nil, false
	}
	return b, true
}
