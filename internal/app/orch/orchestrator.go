package orch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Collab/internal/app"
	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/dkeye/Collab/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SignalValidator checks relayed signaling payloads before they are
// forwarded. A nil validator forwards anything the decoder accepts.
type SignalValidator interface {
	ValidateSDP(t protocol.Type, sdp string) error
	ValidateCandidate(candidate json.RawMessage) error
}

type Orchestrator struct {
	Registry *app.Registry
	Verifier core.IdentityVerifier
	Members  core.MembershipOracle
	Messages core.MessageStore
	Signals  SignalValidator
	// PersistTimeout bounds message appends.
	PersistTimeout time.Duration
}

// Peer is one admitted connection bound to its session and identity.
type Peer struct {
	Session domain.SessionID
	Who     domain.Identity
	Conn    core.SignalConnection
}

func (p *Peer) logger() *zerolog.Logger {
	l := log.With().
		Str("module", "orch").
		Int64("session", int64(p.Session)).
		Int64("user", int64(p.Who.ID)).
		Str("conn", string(p.Conn.ID())).
		Logger()
	return &l
}

// HandleFrame decodes one inbound frame from p and applies it. Malformed
// and unknown events are logged and dropped; signaling events that cannot
// be relayed are answered with webrtc_error.
func (o *Orchestrator) HandleFrame(ctx context.Context, p *Peer, data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		var relayErr *protocol.RelayError
		switch {
		case errors.As(err, &relayErr):
			p.logger().Warn().Str("code", relayErr.Code).Str("reason", relayErr.Reason).Msg("signal rejected")
			o.reply(p, protocol.NewSignalError(relayErr.Code))
		case errors.Is(err, protocol.ErrUnknownType):
			p.logger().Warn().Err(err).Msg("unknown event ignored")
		default:
			p.logger().Warn().Err(err).Msg("malformed event dropped")
		}
		return
	}

	switch ev := ev.(type) {
	case protocol.ChatMessage:
		o.onChat(ctx, p, ev)
	case protocol.SketchUpdate:
		o.onSketchUpdate(p, ev)
	case protocol.SketchGet:
		o.onSketchGet(p)
	case protocol.SketchClear:
		o.onSketchClear(ctx, p)
	case protocol.EditorGet:
		o.onEditorGet(p)
	case protocol.EditorUpdate:
		o.onEditorUpdate(p, ev)
	case protocol.EditorSet:
		o.onEditorSet(p, ev)
	case protocol.EditorClear:
		o.onEditorClear(ctx, p)
	case protocol.PresenceGet:
		o.onPresenceGet(p)
	case protocol.MediaToggle:
		o.onMediaToggle(p, ev)
	case protocol.SignalRelay:
		o.onSignal(p, ev)
	case protocol.Ping:
		o.reply(p, protocol.Pong{Type: protocol.TypePong})
	}
}

// update runs fn on p's session. Events from a connection that fan-out
// already dropped are ignored.
func (o *Orchestrator) update(p *Peer, fn func(v *app.View)) {
	err := o.Registry.Update(p.Session, func(v *app.View) {
		if !v.Connected(p.Conn.ID()) {
			p.logger().Debug().Msg("event from dropped connection ignored")
			return
		}
		fn(v)
	})
	if err != nil {
		p.logger().Debug().Err(err).Msg("event after session drained")
	}
}

func (o *Orchestrator) reply(p *Peer, msg any) {
	o.update(p, func(v *app.View) { v.Send(p.Conn.ID(), msg) })
}
