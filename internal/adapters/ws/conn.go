// Package ws adapts gorilla WebSocket connections to core.FrameConn, one
// envelope per text message.
package ws

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dkeye/chatline/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const closeGrace = time.Second

type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	wmu  sync.Mutex
	once sync.Once
	done chan struct{}
}

func NewConn(c *websocket.Conn, readLimit int64, writeTimeout time.Duration) *Conn {
	if readLimit > 0 {
		c.SetReadLimit(readLimit)
	}
	return &Conn{ws: c, writeTimeout: writeTimeout, done: make(chan struct{})}
}

func (c *Conn) Receive() (core.Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *Conn) Send(f core.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, f)
}

// Close sends a close frame on a best-effort basis and drops the socket.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

func (c *Conn) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }

// KeepAlive pings the peer every period until ctx ends or the connection
// closes. A failed ping closes the connection.
func (c *Conn) KeepAlive(ctx context.Context, period time.Duration) {
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGrace)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Debug().Str("module", "adapters.ws").Str("remote", c.RemoteAddr()).Err(err).Msg("ping failed")
				}
				_ = c.Close()
				return
			}
		}
	}
}
