package signal

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Collab/internal/app/orch"
	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	// AllowedOrigins empty means any origin.
	AllowedOrigins []string
}

func (o Options) pongWait() time.Duration { return o.PingPeriod * 10 / 9 }

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RateLimiter

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Limiter: limiter,
		opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(opts.AllowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// WsSignalConn is one websocket with a bounded outbound queue drained by
// its write pump.
type WsSignalConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:   core.ConnID(uuid.NewString()),
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) ID() core.ConnID { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request, admits the caller into the session
// named by the path and starts the pumps. Admission failures close the
// socket with 1008 (policy) or 1011 (server side).
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid, err := domain.ParseSessionID(c.Param("session_id"))
	if err != nil {
		ctl.reject(ws, websocket.ClosePolicyViolation, "invalid session id")
		return
	}

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	peer, err := ctl.Orch.Admit(c.Request.Context(), sid, TokenFrom(c), conn)
	if err != nil {
		code, reason := websocket.CloseInternalServerErr, "internal error"
		if orch.IsPolicyViolation(err) {
			code, reason = websocket.ClosePolicyViolation, "policy violation"
		}
		log.Warn().Err(err).Str("module", "signal").Int64("session", int64(sid)).Int("close_code", code).Msg("admission rejected")
		ctl.reject(ws, code, reason)
		return
	}

	if ctl.Limiter != nil {
		ctl.Limiter.Track(sid, peer.Who.ID)
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)
	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, peer, conn)
}

func (ctl *SignalWSController) reject(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("write close frame")
	}
	_ = ws.Close()
}

// TokenFrom reads the token query parameter, falling back to a bearer
// Authorization header.
func TokenFrom(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	h := c.GetHeader("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return ""
}
