package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/chatline/internal/adapters/session"
	"github.com/dkeye/chatline/internal/adapters/ws"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ChatWSController runs a chat session over each upgraded request.
type ChatWSController struct {
	Sessions     *session.Handler
	ReadLimit    int64
	WriteTimeout time.Duration
	PingPeriod   time.Duration
}

func (ctl *ChatWSController) Handle(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Str("module", "adapters.http").Str("ct", token).Err(err).Msg("ws upgrade")
		return
	}
	fc := ws.NewConn(conn, ctl.ReadLimit, ctl.WriteTimeout)
	log.Info().Str("module", "adapters.http").Str("ct", token).Str("remote", fc.RemoteAddr()).Msg("ws chat connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go fc.KeepAlive(ctx, ctl.PingPeriod)

	if err := ctl.Sessions.Serve(ctx, fc); err != nil && !errors.Is(err, context.Canceled) {
		log.Info().Str("module", "adapters.http").Str("ct", token).Err(err).Msg("ws session ended")
	}
}
