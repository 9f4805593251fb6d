// Package orch ties the registry, group directory, router and call
// coordinator together behind the operations a session performs.
package orch

import (
	"context"
	"errors"

	"github.com/dkeye/chatline/internal/app"
	"github.com/dkeye/chatline/internal/core"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/dkeye/chatline/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Groups   *app.GroupDirectory
	Router   *app.Router
	Calls    *app.CallCoordinator
	History  core.HistoryStore
	Metrics  *app.Metrics
}

// New builds the server state. history and metrics may be nil.
func New(history core.HistoryStore, policy app.Policy, metrics *app.Metrics) *Orchestrator {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	reg := app.NewRegistry(metrics)
	groups := app.NewGroupDirectory(metrics)
	return &Orchestrator{
		Registry: reg,
		Groups:   groups,
		Router:   app.NewRouter(reg, groups, history, policy, metrics),
		Calls:    app.NewCallCoordinator(reg, policy, metrics),
		History:  history,
		Metrics:  metrics,
	}
}

// Connect registers id on ch. On success the caller must Open the returned
// connection once the greeting is ready.
func (o *Orchestrator) Connect(id domain.Identity, ch core.SignalConnection) (*app.Connection, error) {
	conn, err := o.Registry.Register(id, ch)
	switch {
	case errors.Is(err, domain.ErrDuplicateIdentity):
		o.Metrics.RecordSession("duplicate")
	case err != nil:
		o.Metrics.RecordSession("error")
	default:
		o.Metrics.RecordSession("accepted")
	}
	return conn, err
}

// Dispatch hands one decoded payload from conn to the component that owns it.
func (o *Orchestrator) Dispatch(ctx context.Context, conn *app.Connection, d protocol.Decoded) {
	sender := conn.Identity()
	switch {
	case d.Message != nil:
		if d.Message.From.Username != sender.Username {
			log.Debug().Str("module", "app.orch").Str("user", sender.Username).Str("from", d.Message.From.Username).Msg("message sent on behalf of another user")
		}
		o.Router.RouteAs(ctx, sender, *d.Message)

	case d.Signal != nil:
		o.Calls.Handle(*d.Signal)

	case d.Group != nil:
		if _, err := o.CreateGroupFor(sender, *d.Group); err != nil {
			log.Warn().Str("module", "app.orch").Str("user", sender.Username).Str("group", d.Group.Name).Err(err).Msg("create group failed")
		}

	case d.Identity != nil:
		log.Warn().Str("module", "app.orch").Str("user", sender.Username).Msg("identity resent on active session, ignored")
		o.Metrics.RecordFrameError("identity_resent")

	default:
		log.Warn().Str("module", "app.orch").Str("user", sender.Username).Str("kind", string(d.Kind)).Msg("unexpected payload, ignored")
		o.Metrics.RecordFrameError("unexpected_kind")
	}
}

// Disconnect releases conn and strips its identity from every group. It is a
// no-op when conn no longer owns its identity.
func (o *Orchestrator) Disconnect(conn *app.Connection) {
	if conn == nil {
		return
	}
	id := conn.Identity()
	if !o.Registry.Release(conn) {
		return
	}
	n := o.Groups.RemoveMember(id)
	log.Info().Str("module", "app.orch").Str("user", id.Username).Int("groups", n).Msg("disconnected")
}
