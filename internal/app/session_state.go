package app

import (
	"slices"
	"sync"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
)

type member struct {
	conn core.SignalConnection
	who  domain.Identity
}

// SessionState is the authoritative runtime state of one session.
// Everything below mu is guarded by it; refs is guarded by Registry.mu.
type SessionState struct {
	id   domain.SessionID
	refs int

	mu sync.Mutex
	// attached holds every connection that still owes a Detach, including
	// ones already dropped from routing. It outlives purges.
	attached map[core.ConnID]struct{}

	live   bool
	conns  map[core.ConnID]*member
	byUser map[domain.UserID]map[core.ConnID]*member
	// joined holds users whose presence_join has not been matched by a
	// presence_leave yet.
	joined map[domain.UserID]struct{}
	media  map[domain.UserID]domain.MediaStatus
	editor string
	sketch []domain.SketchAction
	task   *checkpointTask
}

func newSessionState(id domain.SessionID) *SessionState {
	return &SessionState{id: id, attached: make(map[core.ConnID]struct{})}
}

func (s *SessionState) reset(editor string, sketch []domain.SketchAction) {
	s.conns = make(map[core.ConnID]*member)
	s.byUser = make(map[domain.UserID]map[core.ConnID]*member)
	s.joined = make(map[domain.UserID]struct{})
	s.media = make(map[domain.UserID]domain.MediaStatus)
	s.editor = editor
	s.sketch = sketch
}

func (s *SessionState) purge() {
	s.live = false
	s.conns = nil
	s.byUser = nil
	s.joined = nil
	s.media = nil
	s.editor = ""
	s.sketch = nil
	s.task = nil
}

func (s *SessionState) register(m *member) {
	id, uid := m.conn.ID(), m.who.ID
	s.conns[id] = m
	set, ok := s.byUser[uid]
	if !ok {
		set = make(map[core.ConnID]*member)
		s.byUser[uid] = set
	}
	set[id] = m
	s.joined[uid] = struct{}{}
	if _, ok := s.media[uid]; !ok {
		s.media[uid] = domain.MediaStatus{}
	}
}

// unregister removes conn from both routing tables and reports whether
// it was still registered.
func (s *SessionState) unregister(id core.ConnID, uid domain.UserID) bool {
	_, ok := s.conns[id]
	delete(s.conns, id)
	if set, found := s.byUser[uid]; found {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byUser, uid)
		}
	}
	return ok
}

func (s *SessionState) present() []domain.UserID {
	users := make([]domain.UserID, 0, len(s.byUser))
	for uid := range s.byUser {
		users = append(users, uid)
	}
	slices.Sort(users)
	return users
}

func (s *SessionState) connections() []core.SignalConnection {
	out := make([]core.SignalConnection, 0, len(s.conns))
	for _, m := range s.conns {
		out = append(out, m.conn)
	}
	return out
}
