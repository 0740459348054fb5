package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// checkpointTask is the periodic editor writer of one live session.
type checkpointTask struct {
	cancel context.CancelFunc
	once   sync.Once
}

// stop is safe on a nil task and on repeated calls. It does not wait for
// the loop to exit: callers hold s.mu, and the loop observes cancellation
// under that same lock before it writes.
func (t *checkpointTask) stop() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
}

func (r *Registry) startCheckpoint(s *SessionState) *checkpointTask {
	if r.interval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &checkpointTask{cancel: cancel}
	go r.checkpointLoop(ctx, s)
	log.Debug().Str("module", "app.checkpoint").Int64("session", int64(s.id)).Dur("interval", r.interval).Msg("checkpoint started")
	return t
}

func (r *Registry) checkpointLoop(ctx context.Context, s *SessionState) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "app.checkpoint").Int64("session", int64(s.id)).Msg("checkpoint stopped")
			return
		case <-ticker.C:
			r.checkpointTick(ctx, s)
		}
	}
}

// checkpointTick persists the editor text. The sketch log is written on
// clear, on drain and at shutdown. A failed tick is logged and the next
// one retries.
func (r *Registry) checkpointTick(ctx context.Context, s *SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || !s.live {
		return
	}
	if err := r.saveEditor(ctx, s); err != nil {
		log.Error().Err(err).Str("module", "app.checkpoint").Int64("session", int64(s.id)).Msg("periodic checkpoint failed")
		return
	}
	log.Debug().Str("module", "app.checkpoint").Int64("session", int64(s.id)).Msg("periodic checkpoint")
}
