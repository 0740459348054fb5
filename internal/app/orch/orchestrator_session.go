package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Collab/internal/app"
	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/dkeye/Collab/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrNotMember         = errors.New("not a session member")
	ErrMembershipLookup  = errors.New("membership lookup failed")
)

// IsPolicyViolation reports whether an Admit error is the client's fault.
// Everything else is an infrastructure failure.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrNotMember)
}

// Authorize resolves token to an identity that is a member of sid.
func (o *Orchestrator) Authorize(ctx context.Context, sid domain.SessionID, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, ErrMissingCredential
	}
	who, err := o.Verifier.Verify(token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	ok, err := o.Members.IsMember(ctx, sid, who.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrMembershipLookup, err)
	}
	if !ok {
		return domain.Identity{}, ErrNotMember
	}
	return who, nil
}

// Admit checks the presented token and membership, then attaches conn to
// the session. The new connection receives presence, media state, sketch
// and editor snapshots in that order; everyone else gets presence_join.
// No session state is touched when an error is returned.
func (o *Orchestrator) Admit(
	ctx context.Context,
	sid domain.SessionID,
	token string,
	conn core.SignalConnection,
) (*Peer, error) {
	who, err := o.Authorize(ctx, sid, token)
	if err != nil {
		return nil, err
	}

	p := &Peer{Session: sid, Who: who, Conn: conn}
	err = o.Registry.Attach(ctx, sid, who, conn, func(v *app.View) {
		id := conn.ID()
		v.Send(id, protocol.NewPresence(v.Present()))
		v.Send(id, protocol.MediaStateSnapshot{Type: protocol.TypeMediaStateSnapshot, Status: v.MediaSnapshot()})
		v.Send(id, protocol.NewSketchSync(v.Sketch()))
		v.Send(id, protocol.EditorSync{Type: protocol.TypeEditorSync, Content: v.Editor()})
		v.Broadcast(protocol.PresenceJoin{Type: protocol.TypePresenceJoin, UserID: who.ID, Username: who.Username}, id)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "orch").Int64("session", int64(sid)).Int64("user", int64(who.ID)).Str("username", who.Username).Msg("admitted")
	return p, nil
}

// Disconnect runs the disconnect sequence for p. It is safe to call more
// than once for the same peer.
func (o *Orchestrator) Disconnect(ctx context.Context, p *Peer) {
	uid := p.Who.ID
	o.Registry.Detach(ctx, p.Session, p.Who, p.Conn.ID(), func(v *app.View) {
		v.Broadcast(protocol.PresenceLeave{Type: protocol.TypePresenceLeave, UserID: uid})
		if v.Media(uid).Any() {
			off := domain.MediaStatus{}
			v.SetMedia(uid, off)
			v.Broadcast(protocol.NewMediaState(uid, off))
		}
	})
}
