// Package session runs the per-connection protocol: identity handshake,
// payload dispatch and cleanup. It is transport agnostic.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/dkeye/chatline/internal/app"
	"github.com/dkeye/chatline/internal/app/orch"
	"github.com/dkeye/chatline/internal/core"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/dkeye/chatline/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrHandshake   = errors.New("handshake failed")
	ErrRateLimited = errors.New("too many handshakes")
)

// ReadDeadliner is implemented by transports that support read timeouts.
type ReadDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type Handler struct {
	orch        *orch.Orchestrator
	idleTimeout time.Duration
	limiter     *RateLimiter
}

type Option func(*Handler)

// WithIdleTimeout closes sessions that stay silent for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Handler) { h.idleTimeout = d }
}

// WithHandshakeLimiter rejects connections whose remote host handshakes too often.
func WithHandshakeLimiter(l *RateLimiter) Option {
	return func(h *Handler) { h.limiter = l }
}

func NewHandler(o *orch.Orchestrator, opts ...Option) *Handler {
	h := &Handler{orch: o}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type session struct {
	h      *Handler
	fc     core.FrameConn
	state  atomic.Int32
	conn   *app.Connection
	logger zerolog.Logger
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug().Str("state", st.String()).Msg("session state")
}

// Serve runs one session until the peer leaves, the transport fails or ctx
// is cancelled. Cleanup always runs before Serve returns. A clean end of
// stream returns nil.
func (h *Handler) Serve(ctx context.Context, fc core.FrameConn) error {
	s := &session{
		h:      h,
		fc:     fc,
		logger: log.With().Str("module", "adapters.session").Str("remote", fc.RemoteAddr()).Logger(),
	}
	s.setState(StateAwaitingIdentity)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = fc.Close()
	}()
	defer s.cleanup()

	err := s.run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *session) run(ctx context.Context) error {
	if s.h.limiter != nil && !s.h.limiter.Allow(hostOf(s.fc.RemoteAddr())) {
		s.logger.Warn().Msg("handshake rate limited")
		s.h.orch.Metrics.RecordSession("rate_limited")
		return ErrRateLimited
	}

	id, err := s.readIdentity()
	if err != nil {
		return err
	}
	s.logger = s.logger.With().Str("user", id.Username).Logger()

	conn, err := s.h.orch.Connect(id, s.fc)
	if errors.Is(err, domain.ErrDuplicateIdentity) {
		if frame, encErr := protocol.EncodeUsernameTaken(id.Username); encErr == nil {
			if sendErr := s.fc.Send(frame); sendErr != nil {
				s.logger.Debug().Err(sendErr).Msg("send username taken")
			}
		}
		s.logger.Info().Msg("username taken, closing")
		return err
	}
	if err != nil {
		return err
	}
	s.conn = conn

	ack, err := protocol.EncodeAck()
	if err != nil {
		return err
	}
	if err := conn.Open(ack); err != nil {
		return fmt.Errorf("send ack: %w", err)
	}
	s.setState(StateActive)
	s.logger.Info().Msg("session active")

	for {
		frame, err := s.receive()
		if err != nil {
			return err
		}
		d, err := protocol.Decode(frame)
		if err != nil {
			s.logger.Warn().Err(err).Msg("payload ignored")
			s.h.orch.Metrics.RecordFrameError(frameErrorCode(err))
			continue
		}
		s.h.orch.Dispatch(ctx, conn, d)
	}
}

func (s *session) readIdentity() (domain.Identity, error) {
	frame, err := s.receive()
	if err != nil {
		return domain.Identity{}, err
	}
	d, err := protocol.Decode(frame)
	if err != nil {
		s.h.orch.Metrics.RecordSession("invalid")
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if d.Identity == nil {
		s.h.orch.Metrics.RecordSession("invalid")
		return domain.Identity{}, fmt.Errorf("%w: first frame is %q, not identity", ErrHandshake, d.Kind)
	}
	return *d.Identity, nil
}

func (s *session) receive() (core.Frame, error) {
	if s.h.idleTimeout > 0 {
		if dl, ok := s.fc.(ReadDeadliner); ok {
			_ = dl.SetReadDeadline(time.Now().Add(s.h.idleTimeout))
		}
	}
	return s.fc.Receive()
}

func (s *session) cleanup() {
	s.setState(StateClosed)
	if s.conn != nil {
		s.h.orch.Disconnect(s.conn)
	}
	if err := s.fc.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("close transport")
	}
	s.logger.Info().Msg("session closed")
}

func frameErrorCode(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, protocol.ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, domain.ErrInvalidMessage), errors.Is(err, domain.ErrInvalidSignal):
		return "invalid_payload"
	default:
		return "malformed"
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
