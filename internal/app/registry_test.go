package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/core/coretest"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sid = domain.SessionID(7)

var (
	alice = domain.Identity{ID: 1, Username: "alice"}
	bob   = domain.Identity{ID: 2, Username: "bob"}
	carol = domain.Identity{ID: 3, Username: "carol"}
)

func newTestRegistry(t *testing.T, store *coretest.Store, opts ...func(*Options)) *Registry {
	t.Helper()
	o := Options{Editors: store, Sketches: store, PersistTimeout: time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	return NewRegistry(o)
}

func attach(t *testing.T, r *Registry, who domain.Identity, id string) *coretest.Conn {
	t.Helper()
	c := coretest.NewConn(id)
	require.NoError(t, r.Attach(context.Background(), sid, who, c, nil))
	return c
}

func present(t *testing.T, r *Registry) []domain.UserID {
	t.Helper()
	var users []domain.UserID
	require.NoError(t, r.Update(sid, func(v *View) { users = v.Present() }))
	return users
}

// checkInvariant asserts that presence is exactly the users with a
// registered connection.
func checkInvariant(t *testing.T, r *Registry) {
	t.Helper()
	s, ok := r.lookup(sid)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		assert.Empty(t, s.conns)
		return
	}
	fromConns := map[domain.UserID]bool{}
	for _, m := range s.conns {
		fromConns[m.who.ID] = true
		assert.Contains(t, s.byUser[m.who.ID], m.conn.ID())
	}
	for uid, set := range s.byUser {
		assert.NotEmpty(t, set)
		assert.True(t, fromConns[uid])
	}
	assert.Len(t, s.present(), len(fromConns))
}

func TestAttachHydratesFromStore(t *testing.T) {
	store := coretest.NewStore()
	store.PutEditor(sid, "hello")
	store.PutSketch(sid, domain.SketchAction(`{"kind":"line"}`))
	r := newTestRegistry(t, store)

	attach(t, r, alice, "c1")

	require.NoError(t, r.Update(sid, func(v *View) {
		assert.Equal(t, "hello", v.Editor())
		require.Len(t, v.Sketch(), 1)
		assert.JSONEq(t, `{"kind":"line"}`, string(v.Sketch()[0]))
		assert.Equal(t, domain.MediaStatus{}, v.Media(alice.ID))
	}))
}

func TestAttachEmptyStoreStartsBlank(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore())
	attach(t, r, alice, "c1")

	require.NoError(t, r.Update(sid, func(v *View) {
		assert.Equal(t, "", v.Editor())
		assert.NotNil(t, v.Sketch())
		assert.Empty(t, v.Sketch())
	}))
}

func TestAttachHydrationFailureLeavesNoState(t *testing.T) {
	store := coretest.NewStore()
	store.FailLoads(errors.New("disk gone"))
	r := newTestRegistry(t, store)

	c := coretest.NewConn("c1")
	err := r.Attach(context.Background(), sid, alice, c, func(*View) { t.Fatal("onAttach must not run") })
	require.ErrorIs(t, err, ErrHydrate)

	_, ok := r.lookup(sid)
	assert.False(t, ok)
	assert.Empty(t, r.List())
	assert.ErrorIs(t, r.Update(sid, func(*View) {}), ErrSessionGone)
}

func TestAttachRejectsNilConnection(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore())
	assert.ErrorIs(t, r.Attach(context.Background(), sid, alice, nil, nil), ErrNilConnection)
}

func TestPresenceTracksConnections(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore())

	a1 := attach(t, r, alice, "a1")
	a2 := attach(t, r, alice, "a2")
	b1 := attach(t, r, bob, "b1")
	checkInvariant(t, r)
	assert.Equal(t, []domain.UserID{1, 2}, present(t, r))

	leaves := 0
	onLeave := func(*View) { leaves++ }

	r.Detach(context.Background(), sid, alice, a1.ID(), onLeave)
	checkInvariant(t, r)
	assert.Equal(t, []domain.UserID{1, 2}, present(t, r))
	assert.Equal(t, 0, leaves)

	r.Detach(context.Background(), sid, alice, a2.ID(), onLeave)
	checkInvariant(t, r)
	assert.Equal(t, []domain.UserID{2}, present(t, r))
	assert.Equal(t, 1, leaves)

	// A repeated detach of the same connection is a no-op.
	r.Detach(context.Background(), sid, alice, a2.ID(), onLeave)
	assert.Equal(t, 1, leaves)

	r.Detach(context.Background(), sid, bob, b1.ID(), onLeave)
	assert.Equal(t, 2, leaves)
	checkInvariant(t, r)
}

func TestLastDisconnectCheckpointsAndPurges(t *testing.T) {
	store := coretest.NewStore()
	r := newTestRegistry(t, store)
	c := attach(t, r, alice, "c1")

	require.NoError(t, r.Update(sid, func(v *View) {
		v.SetEditor("draft")
		v.AppendSketch(domain.SketchAction(`{"x":1}`))
	}))

	r.Detach(context.Background(), sid, alice, c.ID(), nil)

	editorSaves, sketchSaves := store.Saves(sid)
	assert.Equal(t, 1, editorSaves)
	assert.Equal(t, 1, sketchSaves)

	text, _ := store.Editor(sid)
	assert.Equal(t, "draft", text)
	actions, _ := store.Sketch(sid)
	require.Len(t, actions, 1)
	assert.JSONEq(t, `{"x":1}`, string(actions[0]))

	_, ok := r.lookup(sid)
	assert.False(t, ok, "drained session is dropped from the map")
	assert.ErrorIs(t, r.Update(sid, func(*View) {}), ErrSessionGone)

	attach(t, r, bob, "c2")
	require.NoError(t, r.Update(sid, func(v *View) {
		assert.Equal(t, "draft", v.Editor())
		require.Len(t, v.Sketch(), 1)
		assert.JSONEq(t, `{"x":1}`, string(v.Sketch()[0]))
		assert.Equal(t, []domain.UserID{2}, v.Present())
	}))
}

func TestDetachSurvivesSaveFailure(t *testing.T) {
	store := coretest.NewStore()
	r := newTestRegistry(t, store)
	c := attach(t, r, alice, "c1")
	store.FailSaves(errors.New("read-only"))

	r.Detach(context.Background(), sid, alice, c.ID(), nil)

	_, ok := r.lookup(sid)
	assert.False(t, ok)
}

func TestDetachIsolatesPanickingStep(t *testing.T) {
	store := coretest.NewStore()
	r := newTestRegistry(t, store)
	c := attach(t, r, alice, "c1")

	r.Detach(context.Background(), sid, alice, c.ID(), func(*View) { panic("boom") })

	editorSaves, _ := store.Saves(sid)
	assert.Equal(t, 1, editorSaves, "checkpoint still runs")
	_, ok := r.lookup(sid)
	assert.False(t, ok, "purge still runs")
}

func TestDetachUnknownSession(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore())
	assert.NotPanics(t, func() {
		r.Detach(context.Background(), sid, alice, "nope", nil)
	})
}

func TestBroadcastDropsFailedConnection(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore())
	a := attach(t, r, alice, "a")
	b := attach(t, r, bob, "b")
	c := attach(t, r, carol, "c")
	b.FailWith(errors.New("broken pipe"))

	var sent int
	require.NoError(t, r.Update(sid, func(v *View) {
		sent = v.Broadcast(map[string]string{"type": "hello"})
	}))

	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, a.Count("hello"))
	assert.Equal(t, 1, c.Count("hello"))
	assert.True(t, b.Closed())
	assert.Equal(t, []domain.UserID{1, 3}, present(t, r))
	checkInvariant(t, r)
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore())
	a := attach(t, r, alice, "a")
	b := attach(t, r, bob, "b")

	require.NoError(t, r.Update(sid, func(v *View) {
		assert.Equal(t, 1, v.Broadcast(map[string]string{"type": "x"}, a.ID()))
	}))
	assert.Zero(t, a.Count("x"))
	assert.Equal(t, 1, b.Count("x"))
}

func TestDroppedConnectionLeavesOnceOnDetach(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore())
	attach(t, r, alice, "a")
	b := attach(t, r, bob, "b")
	b.FailWith(errors.New("gone"))

	require.NoError(t, r.Update(sid, func(v *View) { v.Broadcast(map[string]string{"type": "x"}) }))
	require.True(t, b.Closed())

	leaves := 0
	r.Detach(context.Background(), sid, bob, b.ID(), func(*View) { leaves++ })
	r.Detach(context.Background(), sid, bob, b.ID(), func(*View) { leaves++ })
	assert.Equal(t, 1, leaves)
	assert.Equal(t, []domain.UserID{1}, present(t, r))

	s, ok := r.lookup(sid)
	require.True(t, ok)
	r.mu.Lock()
	assert.Equal(t, 1, s.refs)
	r.mu.Unlock()
}

func TestTolerantPolicyKeepsFullConnection(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore(), func(o *Options) { o.Policy = TolerantPolicy{} })
	a := attach(t, r, alice, "a")
	a.Limit(1)

	require.NoError(t, r.Update(sid, func(v *View) {
		assert.True(t, v.Send(a.ID(), map[string]string{"type": "one"}))
		assert.False(t, v.Send(a.ID(), map[string]string{"type": "two"}))
	}))

	assert.False(t, a.Closed())
	assert.Equal(t, []string{"one"}, a.Types())
	assert.Equal(t, []domain.UserID{1}, present(t, r))
}

func TestSimplePolicyDropsFullConnection(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore())
	a := attach(t, r, alice, "a")
	a.Limit(1)

	require.NoError(t, r.Update(sid, func(v *View) {
		v.Send(a.ID(), map[string]string{"type": "one"})
		v.Send(a.ID(), map[string]string{"type": "two"})
	}))

	assert.True(t, a.Closed())
	assert.Empty(t, present(t, r))
}

func TestUnicastToUserReachesEveryConnection(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore())
	a1 := attach(t, r, alice, "a1")
	a2 := attach(t, r, alice, "a2")
	b := attach(t, r, bob, "b")

	require.NoError(t, r.Update(sid, func(v *View) {
		assert.Equal(t, 2, v.UnicastToUser(alice.ID, map[string]string{"type": "direct"}))
		assert.Equal(t, 0, v.UnicastToUser(carol.ID, map[string]string{"type": "direct"}))
	}))
	assert.Equal(t, 1, a1.Count("direct"))
	assert.Equal(t, 1, a2.Count("direct"))
	assert.Zero(t, b.Count("direct"))
}

func TestSendRawFrame(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore())
	a := attach(t, r, alice, "a")

	require.NoError(t, r.Update(sid, func(v *View) {
		assert.True(t, v.Send(a.ID(), core.Frame(`{"type":"raw"}`)))
		assert.False(t, v.Send("missing", core.Frame(`{}`)))
		assert.False(t, v.Send(a.ID(), func() {}), "unencodable message")
	}))
	assert.Equal(t, []string{"raw"}, a.Types())
}

func TestClearSketchPersistsEmptyLog(t *testing.T) {
	store := coretest.NewStore()
	store.PutSketch(sid, domain.SketchAction(`{"a":1}`))
	r := newTestRegistry(t, store)
	attach(t, r, alice, "a")

	require.NoError(t, r.Update(sid, func(v *View) {
		v.ClearSketch()
		require.NoError(t, v.PersistSketch(context.Background()))
	}))

	actions, ok := store.Sketch(sid)
	assert.True(t, ok)
	assert.Empty(t, actions)
	b, err := json.Marshal(actions)
	require.NoError(t, err)
	assert.NotEqual(t, "null", string(b))
}

func TestPeriodicCheckpointStopsAfterDrain(t *testing.T) {
	store := coretest.NewStore()
	r := newTestRegistry(t, store, func(o *Options) { o.CheckpointInterval = 5 * time.Millisecond })
	c := attach(t, r, alice, "a")

	require.NoError(t, r.Update(sid, func(v *View) { v.SetEditor("tick") }))
	require.Eventually(t, func() bool {
		text, _ := store.Editor(sid)
		return text == "tick"
	}, time.Second, 5*time.Millisecond)

	r.Detach(context.Background(), sid, alice, c.ID(), nil)
	after, _ := store.Saves(sid)

	time.Sleep(30 * time.Millisecond)
	final, _ := store.Saves(sid)
	assert.Equal(t, after, final, "no checkpoint after drain")
}

func TestPeriodicCheckpointFailureKeepsConnection(t *testing.T) {
	store := coretest.NewStore()
	r := newTestRegistry(t, store, func(o *Options) { o.CheckpointInterval = 5 * time.Millisecond })
	c := attach(t, r, alice, "a")
	store.FailSaves(errors.New("disk full"))

	require.NoError(t, r.Update(sid, func(v *View) { v.SetEditor("later") }))
	time.Sleep(40 * time.Millisecond)

	_, stored := store.Editor(sid)
	assert.False(t, stored)
	assert.False(t, c.Closed())
	assert.Equal(t, []domain.UserID{1}, present(t, r))

	store.FailSaves(nil)
	require.Eventually(t, func() bool {
		text, _ := store.Editor(sid)
		return text == "later"
	}, time.Second, 5*time.Millisecond)
	assert.False(t, c.Closed())

	r.Detach(context.Background(), sid, alice, c.ID(), nil)
}

func TestCheckpointDisabled(t *testing.T) {
	store := coretest.NewStore()
	r := newTestRegistry(t, store)
	attach(t, r, alice, "a")

	s, ok := r.lookup(sid)
	require.True(t, ok)
	s.mu.Lock()
	assert.Nil(t, s.task)
	s.mu.Unlock()

	var nilTask *checkpointTask
	assert.NotPanics(t, nilTask.stop)
}

func TestCheckpointTickAfterStopWritesNothing(t *testing.T) {
	store := coretest.NewStore()
	r := newTestRegistry(t, store)
	attach(t, r, alice, "a")
	s, _ := r.lookup(sid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.checkpointTick(ctx, s)

	editorSaves, _ := store.Saves(sid)
	assert.Zero(t, editorSaves)
}

func TestListReportsLiveSessions(t *testing.T) {
	r := newTestRegistry(t, coretest.NewStore())
	attach(t, r, alice, "a")
	attach(t, r, bob, "b")
	c := coretest.NewConn("other")
	require.NoError(t, r.Attach(context.Background(), 3, carol, c, nil))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, domain.SessionID(3), list[0].ID)
	assert.Equal(t, SessionInfo{ID: sid, Connections: 2, Users: []domain.UserID{1, 2}}, list[1])
}

func TestShutdownFlushesAndCloses(t *testing.T) {
	store := coretest.NewStore()
	r := newTestRegistry(t, store)
	a := attach(t, r, alice, "a")
	require.NoError(t, r.Update(sid, func(v *View) { v.SetEditor("final") }))

	require.NoError(t, r.Shutdown(context.Background()))

	text, _ := store.Editor(sid)
	assert.Equal(t, "final", text)
	assert.True(t, a.Closed())
}

func TestConcurrentAttachDetach(t *testing.T) {
	store := coretest.NewStore()
	r := newTestRegistry(t, store)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			who := domain.Identity{ID: domain.UserID(i%4 + 1), Username: "u"}
			c := coretest.NewConn(string(rune('a' + i)))
			if err := r.Attach(context.Background(), sid, who, c, nil); err != nil {
				t.Error(err)
				return
			}
			_ = r.Update(sid, func(v *View) { v.AppendSketch(domain.SketchAction(`{}`)) })
			r.Detach(context.Background(), sid, who, c.ID(), nil)
		}()
	}
	wg.Wait()

	_, ok := r.lookup(sid)
	assert.False(t, ok)
	assert.Empty(t, r.List())
}
