package orch

import (
	"github.com/dkeye/Collab/internal/app"
	"github.com/dkeye/Collab/internal/protocol"
)

func (o *Orchestrator) onPresenceGet(p *Peer) {
	o.update(p, func(v *app.View) {
		v.Send(p.Conn.ID(), protocol.NewPresence(v.Present()))
	})
}

// onMediaToggle changes only the flags the client sent.
func (o *Orchestrator) onMediaToggle(p *Peer, ev protocol.MediaToggle) {
	uid := p.Who.ID
	o.update(p, func(v *app.View) {
		st := v.Media(uid)
		if ev.Mic != nil {
			st.Mic = *ev.Mic
		}
		if ev.Cam != nil {
			st.Cam = *ev.Cam
		}
		v.SetMedia(uid, st)
		v.Broadcast(protocol.NewMediaState(uid, st))
	})
}

// onSignal forwards an offer, answer or candidate to every connection of
// the target user. Only an absent target is reported back.
func (o *Orchestrator) onSignal(p *Peer, ev protocol.SignalRelay) {
	if code, ok := o.validateSignal(ev); !ok {
		o.reply(p, protocol.NewSignalError(code))
		return
	}

	var msg any
	if ev.Type == protocol.TypeWebRTCICE {
		msg = protocol.ICEForward{Type: ev.Type, FromUserID: p.Who.ID, Candidate: ev.Candidate}
	} else {
		msg = protocol.SDPForward{Type: ev.Type, FromUserID: p.Who.ID, SDP: ev.SDP}
	}

	o.update(p, func(v *app.View) {
		if !v.IsPresent(ev.To) {
			p.logger().Debug().Int64("target", int64(ev.To)).Str("type", string(ev.Type)).Msg("signal target offline")
			v.Send(p.Conn.ID(), protocol.NewSignalError(protocol.CodeTargetOffline))
			return
		}
		// Delivery failures are not reported to the sender.
		v.UnicastToUser(ev.To, msg)
	})
}

func (o *Orchestrator) validateSignal(ev protocol.SignalRelay) (string, bool) {
	if o.Signals == nil {
		return "", true
	}
	switch ev.Type {
	case protocol.TypeWebRTCOffer:
		if err := o.Signals.ValidateSDP(ev.Type, ev.SDP); err != nil {
			return protocol.CodeInvalidOffer, false
		}
	case protocol.TypeWebRTCAnswer:
		if err := o.Signals.ValidateSDP(ev.Type, ev.SDP); err != nil {
			return protocol.CodeInvalidAnswer, false
		}
	case protocol.TypeWebRTCICE:
		if err := o.Signals.ValidateCandidate(ev.Candidate); err != nil {
			return protocol.CodeInvalidICE, false
		}
	}
	return "", true
}
