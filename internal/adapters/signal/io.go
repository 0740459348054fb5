package signal

import (
	"context"
	"time"

	"github.com/dkeye/Collab/internal/app/orch"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(ctl.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, p *orch.Peer, c *WsSignalConn) {
	l := log.With().
		Str("module", "signal").
		Int64("session", int64(p.Session)).
		Int64("user", int64(p.Who.ID)).
		Str("conn", string(c.id)).
		Logger()

	defer func() {
		l.Info().Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.Disconnect(context.WithoutCancel(ctx), p)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(p.Session, p.Who.ID)
		}
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.pongWait()))
	})

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					l.Warn().Err(err).Msg("readPump read error")
				}
				return
			}
			if ctl.Limiter != nil && !ctl.Limiter.Allow(p.Session, p.Who.ID) {
				l.Warn().Msg("rate limited, frame dropped")
				continue
			}
			ctl.Orch.HandleFrame(ctx, p, data)
		}
	}
}
