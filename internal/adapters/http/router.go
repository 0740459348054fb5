package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/Collab/internal/adapters/signal"
	"github.com/dkeye/Collab/internal/app/orch"
	"github.com/dkeye/Collab/internal/config"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Store is the durable side the router reads directly.
type Store interface {
	Ping(ctx context.Context) error
	Messages(ctx context.Context, sid domain.SessionID, limit int) ([]domain.ChatMessage, error)
}

// RequestIDMiddleware tags every request so ws admission logs can be
// matched to access logs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctl *signal.SignalWSController, store Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("health check")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": o.Registry.List()})
	})

	api.GET("/sessions/:session_id/messages", func(c *gin.Context) {
		sid, err := domain.ParseSessionID(c.Param("session_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		if _, err := o.Authorize(c.Request.Context(), sid, signal.TokenFrom(c)); err != nil {
			if orch.IsPolicyViolation(err) {
				c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
			log.Error().Err(err).Str("module", "adapters.http").Int64("session", int64(sid)).Msg("authorize history")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		limit := defaultHistoryLimit
		if q := c.Query("limit"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		msgs, err := store.Messages(c.Request.Context(), sid, limit)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Int64("session", int64(sid)).Msg("load history")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if msgs == nil {
			msgs = []domain.ChatMessage{}
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	})

	r.GET("/ws/sessions/:session_id", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("session", c.Param("session_id")).Str("request_id", c.GetString("request_id")).Msg("ws endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
