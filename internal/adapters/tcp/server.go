package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/chatline/internal/adapters/session"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type Server struct {
	addr         string
	handler      *session.Handler
	maxFrame     int
	writeTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	sessions conc.WaitGroup
	ready    atomic.Bool
}

type Option func(*Server)

func WithMaxFrameBytes(n int) Option { return func(s *Server) { s.maxFrame = n } }

func WithWriteTimeout(d time.Duration) Option { return func(s *Server) { s.writeTimeout = d } }

func NewServer(addr string, h *session.Handler, opts ...Option) *Server {
	s := &Server{addr: addr, handler: h, maxFrame: DefaultMaxFrameBytes}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the listening socket so Addr is known before Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Ready() bool { return s.ready.Load() }

// Serve accepts connections until ctx is cancelled, then closes the listener
// and waits for every session to finish its cleanup.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		return s.Serve(ctx)
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	log.Info().Str("module", "adapters.tcp").Str("addr", ln.Addr().String()).Msg("chat listener started")
	s.ready.Store(true)
	defer s.ready.Store(false)

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.sessions.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Str("module", "adapters.tcp").Msg("chat listener stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		log.Debug().Str("module", "adapters.tcp").Str("remote", nc.RemoteAddr().String()).Msg("client connected")
		conn := NewConn(nc, s.maxFrame, s.writeTimeout)
		s.sessions.Go(func() {
			if err := s.handler.Serve(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
				log.Info().Str("module", "adapters.tcp").Str("remote", conn.RemoteAddr()).Err(err).Msg("session ended")
			}
		})
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
