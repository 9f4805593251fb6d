package http

import (
	"context"
	"net/http"

	"github.com/dkeye/chatline/internal/adapters/session"
	"github.com/dkeye/chatline/internal/app/orch"
	"github.com/dkeye/chatline/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionName = "ChatlineSessions"

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// Deps are the collaborators the router serves.
type Deps struct {
	Orch     *orch.Orchestrator
	Sessions *session.Handler
	Gatherer prometheus.Gatherer
	// Ready reports whether the chat listener accepts connections.
	Ready func() bool
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.HTTP.SessionSecret))
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/readyz", func(c *gin.Context) {
		if deps.Ready == nil || deps.Ready() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not_ready")
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := &API{Orch: deps.Orch}
	ws := &ChatWSController{
		Sessions:     deps.Sessions,
		ReadLimit:    cfg.HTTP.ReadLimit,
		WriteTimeout: cfg.Server.WriteTimeout,
		PingPeriod:   cfg.HTTP.PingPeriod,
	}

	g := r.Group("/api")
	g.GET("/online", api.Online)
	g.GET("/groups", api.Groups)
	g.GET("/groups/:name", api.Group)
	g.GET("/history/:key", api.History)
	g.GET("/me", api.Me)
	g.POST("/me", api.SetMe)
	g.GET("/me/history/:peer", api.MyHistory)
	g.GET("/ws/chat", func(c *gin.Context) { ws.Handle(ctx, c) })

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
