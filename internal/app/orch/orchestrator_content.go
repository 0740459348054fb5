package orch

import (
	"context"
	"time"

	"github.com/dkeye/Collab/internal/app"
	"github.com/dkeye/Collab/internal/protocol"
)

// onChat persists the message first; the broadcast carries its id and
// timestamp. A message that cannot be stored is not broadcast.
func (o *Orchestrator) onChat(ctx context.Context, p *Peer, ev protocol.ChatMessage) {
	timeout := o.PersistTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	msg, err := o.Messages.AppendMessage(ctx, p.Session, p.Who.ID, ev.Text)
	cancel()
	if err != nil {
		p.logger().Error().Err(err).Msg("persist chat message")
		return
	}

	o.update(p, func(v *app.View) {
		v.Broadcast(protocol.ChatBroadcast{
			Type:      protocol.TypeChatMessage,
			User:      p.Who.Username,
			Content:   msg.Content,
			ID:        msg.ID,
			CreatedAt: msg.CreatedAt,
		})
	})
}

func (o *Orchestrator) onSketchUpdate(p *Peer, ev protocol.SketchUpdate) {
	o.update(p, func(v *app.View) {
		v.AppendSketch(ev.Action)
		v.Broadcast(protocol.UserEvent{Type: protocol.TypeSketchUpdate, User: p.Who, Content: ev.Action})
	})
}

func (o *Orchestrator) onSketchGet(p *Peer) {
	o.update(p, func(v *app.View) {
		v.Send(p.Conn.ID(), protocol.NewSketchSync(v.Sketch()))
	})
}

func (o *Orchestrator) onSketchClear(ctx context.Context, p *Peer) {
	o.update(p, func(v *app.View) {
		v.ClearSketch()
		if err := v.PersistSketch(ctx); err != nil {
			p.logger().Error().Err(err).Msg("persist cleared sketch")
		}
		v.Broadcast(protocol.UserEvent{Type: protocol.TypeSketchCleared, User: p.Who})
	})
}

func (o *Orchestrator) onEditorGet(p *Peer) {
	o.update(p, func(v *app.View) {
		v.Send(p.Conn.ID(), protocol.EditorSync{Type: protocol.TypeEditorSync, Content: v.Editor()})
	})
}

func (o *Orchestrator) onEditorUpdate(p *Peer, ev protocol.EditorUpdate) {
	o.update(p, func(v *app.View) {
		v.SpliceEditor(ev.Offset, ev.Length, ev.Text)
		v.Broadcast(protocol.EditorUpdateBroadcast{
			Type:    protocol.TypeEditorUpdate,
			User:    p.Who,
			Content: protocol.EditorDelta{Offset: ev.Offset, Length: ev.Length, Text: ev.Text},
		})
	})
}

func (o *Orchestrator) onEditorSet(p *Peer, ev protocol.EditorSet) {
	o.update(p, func(v *app.View) {
		v.SetEditor(ev.Text)
		v.Broadcast(protocol.UserEvent{Type: protocol.TypeEditorSet, User: p.Who, Content: ev.Text})
	})
}

func (o *Orchestrator) onEditorClear(ctx context.Context, p *Peer) {
	o.update(p, func(v *app.View) {
		v.SetEditor("")
		if err := v.PersistEditor(ctx); err != nil {
			p.logger().Error().Err(err).Msg("persist cleared editor")
		}
		v.Broadcast(protocol.UserEvent{Type: protocol.TypeEditorCleared, User: p.Who})
	})
}
