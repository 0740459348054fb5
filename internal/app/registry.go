package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNilConnection = errors.New("nil connection")
	ErrHydrate       = errors.New("session state could not be loaded")
	ErrSessionGone   = errors.New("session is not live")
)

type Options struct {
	Editors  core.EditorStore
	Sketches core.SketchStore
	Policy   Policy
	// CheckpointInterval <= 0 disables the periodic editor checkpoint.
	CheckpointInterval time.Duration
	// PersistTimeout bounds every load and save.
	PersistTimeout time.Duration
}

// Registry owns one SessionState per live session id. The map lock is
// held only to find, create or drop entries; all session data sits behind
// the per-session lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*SessionState

	editors  core.EditorStore
	sketches core.SketchStore
	policy   Policy
	interval time.Duration
	timeout  time.Duration
}

func NewRegistry(opts Options) *Registry {
	if opts.Policy == nil {
		opts.Policy = SimplePolicy{}
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	return &Registry{
		sessions: make(map[domain.SessionID]*SessionState),
		editors:  opts.Editors,
		sketches: opts.Sketches,
		policy:   opts.Policy,
		interval: opts.CheckpointInterval,
		timeout:  opts.PersistTimeout,
	}
}

// acquire returns the state record for sid, creating it if needed, and
// pins it so a concurrent drain does not drop it from the map.
func (r *Registry) acquire(sid domain.SessionID) *SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok {
		s = newSessionState(sid)
		r.sessions[sid] = s
		log.Debug().Str("module", "app.registry").Int64("session", int64(sid)).Msg("created session state")
	}
	s.refs++
	return s
}

func (r *Registry) release(s *SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.refs--
	if s.refs == 0 && r.sessions[s.id] == s {
		delete(r.sessions, s.id)
		log.Info().Str("module", "app.registry").Int64("session", int64(s.id)).Msg("dropped session state")
	}
}

func (r *Registry) lookup(sid domain.SessionID) (*SessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	return s, ok
}

// Attach registers conn in session sid, hydrating the session from
// durable storage when it has no live state yet, then runs onAttach under
// the session lock so the caller can push the initial snapshot before any
// later broadcast reaches the new connection.
func (r *Registry) Attach(
	ctx context.Context,
	sid domain.SessionID,
	who domain.Identity,
	conn core.SignalConnection,
	onAttach func(v *View),
) error {
	if conn == nil {
		return ErrNilConnection
	}
	s := r.acquire(sid)

	s.mu.Lock()
	if !s.live {
		if err := r.hydrate(ctx, s); err != nil {
			s.mu.Unlock()
			r.release(s)
			return fmt.Errorf("%w: %v", ErrHydrate, err)
		}
	}
	s.register(&member{conn: conn, who: who})
	s.attached[conn.ID()] = struct{}{}
	log.Info().Str("module", "app.registry").Int64("session", int64(sid)).Int64("user", int64(who.ID)).Str("conn", string(conn.ID())).Int("connections", len(s.conns)).Msg("connection attached")

	v := &View{r: r, s: s}
	if onAttach != nil {
		onAttach(v)
	}
	s.mu.Unlock()
	v.closeDropped()
	return nil
}

func (r *Registry) hydrate(ctx context.Context, s *SessionState) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, _, err := r.editors.LoadEditor(ctx, s.id)
	if err != nil {
		return fmt.Errorf("load editor: %w", err)
	}
	actions, _, err := r.sketches.LoadSketch(ctx, s.id)
	if err != nil {
		return fmt.Errorf("load sketch: %w", err)
	}
	if actions == nil {
		actions = []domain.SketchAction{}
	}
	s.reset(text, actions)
	s.live = true
	s.task = r.startCheckpoint(s)
	log.Info().Str("module", "app.registry").Int64("session", int64(s.id)).Int("editor_len", len(text)).Int("sketch_actions", len(actions)).Msg("session hydrated")
	return nil
}

// Detach runs the disconnect sequence for one connection. onLeave is
// called under the session lock when this was the user's last connection.
// Every step runs even if an earlier one fails. Detaching the same
// connection twice is a no-op.
func (r *Registry) Detach(
	ctx context.Context,
	sid domain.SessionID,
	who domain.Identity,
	id core.ConnID,
	onLeave func(v *View),
) {
	s, ok := r.lookup(sid)
	if !ok {
		log.Warn().Str("module", "app.registry").Int64("session", int64(sid)).Str("conn", string(id)).Msg("detach for unknown session")
		return
	}

	s.mu.Lock()
	_, pinned := s.attached[id]
	delete(s.attached, id)
	v := &View{r: r, s: s}
	if pinned && s.live {
		r.detachLocked(ctx, v, who, id, onLeave)
	}
	s.mu.Unlock()

	v.closeDropped()
	if pinned {
		r.release(s)
	}
}

func (r *Registry) detachLocked(ctx context.Context, v *View, who domain.Identity, id core.ConnID, onLeave func(v *View)) {
	s := v.s
	sid := s.id

	isolate(sid, "unregister", func() {
		s.unregister(id, who.ID)
	})

	isolate(sid, "presence", func() {
		if len(s.byUser[who.ID]) > 0 {
			return
		}
		if _, joined := s.joined[who.ID]; !joined {
			return
		}
		delete(s.joined, who.ID)
		if onLeave != nil {
			onLeave(v)
		}
	})

	isolate(sid, "checkpoint", func() {
		if err := r.flush(ctx, s); err != nil {
			log.Error().Err(err).Str("module", "app.checkpoint").Int64("session", int64(sid)).Msg("checkpoint on disconnect failed")
		}
	})

	isolate(sid, "purge", func() {
		if len(s.conns) > 0 {
			return
		}
		s.task.stop()
		s.purge()
		log.Info().Str("module", "app.registry").Int64("session", int64(sid)).Msg("purged empty session")
	})

	log.Info().Str("module", "app.registry").Int64("session", int64(sid)).Int64("user", int64(who.ID)).Str("conn", string(id)).Msg("connection detached")
}

// Update runs fn under the lock of a live session.
func (r *Registry) Update(sid domain.SessionID, fn func(v *View)) error {
	s, ok := r.lookup(sid)
	if !ok {
		return ErrSessionGone
	}
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return ErrSessionGone
	}
	v := &View{r: r, s: s}
	fn(v)
	s.mu.Unlock()
	v.closeDropped()
	return nil
}

type SessionInfo struct {
	ID          domain.SessionID `json:"session_id"`
	Connections int              `json:"connections"`
	Users       []domain.UserID  `json:"users"`
}

// List reports every live session.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	states := make([]*SessionState, 0, len(r.sessions))
	for _, s := range r.sessions {
		states = append(states, s)
	}
	r.mu.Unlock()

	out := make([]SessionInfo, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		if s.live {
			out = append(out, SessionInfo{ID: s.id, Connections: len(s.conns), Users: s.present()})
		}
		s.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Shutdown checkpoints every live session and closes its connections.
// The read pumps then run their normal disconnect sequence.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	states := make([]*SessionState, 0, len(r.sessions))
	for _, s := range r.sessions {
		states = append(states, s)
	}
	r.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)
	for _, s := range states {
		g.Go(func() error {
			s.mu.Lock()
			if !s.live {
				s.mu.Unlock()
				return nil
			}
			err := r.flush(ctx, s)
			conns := s.connections()
			s.mu.Unlock()

			for _, c := range conns {
				c.Close()
			}
			if err != nil {
				return fmt.Errorf("session %d: %w", s.id, err)
			}
			return nil
		})
	}
	err := g.Wait()
	log.Info().Str("module", "app.registry").Int("sessions", len(states)).Err(err).Msg("registry shutdown")
	return err
}

// flush writes editor text and sketch log. Callers hold s.mu.
func (r *Registry) flush(ctx context.Context, s *SessionState) error {
	return errors.Join(r.saveSketch(ctx, s), r.saveEditor(ctx, s))
}

func (r *Registry) saveEditor(ctx context.Context, s *SessionState) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.editors.SaveEditor(ctx, s.id, s.editor); err != nil {
		return fmt.Errorf("save editor: %w", err)
	}
	return nil
}

func (r *Registry) saveSketch(ctx context.Context, s *SessionState) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.sketches.SaveSketch(ctx, s.id, slices.Clone(s.sketch)); err != nil {
		return fmt.Errorf("save sketch: %w", err)
	}
	return nil
}

func isolate(sid domain.SessionID, step string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "app.registry").Int64("session", int64(sid)).Str("step", step).Interface("panic", rec).Msg("disconnect step failed")
		}
	}()
	fn()
}
