package app

import (
	"github.com/dkeye/chatline/internal/core"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/rs/zerolog/log"
)

type FailureAction int

const (
	KeepConnection FailureAction = iota
	CloseConnection
)

// Policy decides what happens to a recipient whose transport rejected a write.
type Policy interface {
	OnDeliveryFailure(recipient domain.Identity, err error) FailureAction
}

// SimplePolicy closes the broken transport so the recipient's own session
// ends on its next read and runs the regular cleanup.
type SimplePolicy struct{}

func (SimplePolicy) OnDeliveryFailure(domain.Identity, error) FailureAction {
	return CloseConnection
}

// LenientPolicy leaves the transport alone.
type LenientPolicy struct{}

func (LenientPolicy) OnDeliveryFailure(domain.Identity, error) FailureAction {
	return KeepConnection
}

type deliverer struct {
	policy  Policy
	metrics *Metrics
}

func (d deliverer) deliver(conn *Connection, f core.Frame, kind string) error {
	err := conn.Send(f)
	d.metrics.RecordDelivery(kind, err == nil)
	if err == nil {
		return nil
	}
	log.Warn().Str("module", "app.delivery").Str("user", conn.Identity().Username).Str("kind", kind).Err(err).Msg("delivery failed")
	if d.policy != nil && d.policy.OnDeliveryFailure(conn.Identity(), err) == CloseConnection {
		_ = conn.Close()
	}
	return err
}
