package app

import (
	"fmt"

	"github.com/dkeye/chatline/internal/domain"
	"github.com/dkeye/chatline/internal/protocol"
	"github.com/rs/zerolog/log"
)

type CallOutcome string

const (
	CallForwarded CallOutcome = "forwarded"
	// CallRefused means the target was offline and the requester got a CANCEL.
	CallRefused CallOutcome = "refused"
	CallDropped CallOutcome = "dropped"
	CallFailed  CallOutcome = "failed"
)

// CallCoordinator relays call signals between users. It keeps no call state:
// any signal may be sent in any order and TIMEOUT is left to the clients.
type CallCoordinator struct {
	registry *Registry
	metrics  *Metrics
	out      deliverer
}

func NewCallCoordinator(reg *Registry, policy Policy, metrics *Metrics) *CallCoordinator {
	return &CallCoordinator{
		registry: reg,
		metrics:  metrics,
		out:      deliverer{policy: policy, metrics: metrics},
	}
}

// Handle forwards sig unchanged to its target. A REQUEST to an offline user
// is answered with a CANCEL on the target's behalf; any other signal to an
// offline user is dropped.
func (c *CallCoordinator) Handle(sig domain.CallSignal) CallOutcome {
	outcome := c.handle(sig)
	c.metrics.RecordCallSignal(string(sig.Type), string(outcome))
	return outcome
}

func (c *CallCoordinator) handle(sig domain.CallSignal) CallOutcome {
	logger := log.With().Str("module", "app.calls").Str("type", string(sig.Type)).Str("from", sig.FromUser).Str("to", sig.ToUser).Logger()

	if conn, ok := c.registry.LookupName(sig.ToUser); ok {
		frame, err := protocol.EncodeCallSignal(sig)
		if err != nil {
			logger.Error().Err(err).Msg("encode call signal")
			return CallFailed
		}
		if err := c.out.deliver(conn, frame, string(protocol.KindCallSignal)); err != nil {
			return CallFailed
		}
		logger.Debug().Msg("call signal forwarded")
		return CallForwarded
	}

	if sig.Type != domain.SignalRequest {
		logger.Debug().Msg("target offline, call signal dropped")
		return CallDropped
	}

	caller, ok := c.registry.LookupName(sig.FromUser)
	if !ok {
		logger.Debug().Msg("caller and target offline, request dropped")
		return CallDropped
	}
	cancel := Unavailable(sig)
	frame, err := protocol.EncodeCallSignal(cancel)
	if err != nil {
		logger.Error().Err(err).Msg("encode cancel")
		return CallFailed
	}
	if err := c.out.deliver(caller, frame, string(protocol.KindCallSignal)); err != nil {
		return CallFailed
	}
	logger.Info().Msg("target offline, request cancelled")
	return CallRefused
}

// Unavailable builds the CANCEL sent back to the caller of an unreachable user.
func Unavailable(req domain.CallSignal) domain.CallSignal {
	return domain.NewCallSignal(
		domain.SignalCancel,
		req.ToUser,
		req.FromUser,
		fmt.Sprintf("user %q is not available for a call", req.ToUser),
	)
}
