package app

import (
	"context"
	"time"

	"github.com/dkeye/chatline/internal/core"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/dkeye/chatline/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RouteResult reports what happened to one routed message.
type RouteResult struct {
	ID        string
	ChatKey   string
	Group     bool
	Delivered int
	// Skipped counts recipients that were offline.
	Skipped int
	Failed  []domain.Identity
}

type Router struct {
	registry *Registry
	groups   *GroupDirectory
	history  core.HistoryStore
	metrics  *Metrics
	out      deliverer
}

// NewRouter wires the router. history may be nil, in which case nothing is
// persisted.
func NewRouter(reg *Registry, groups *GroupDirectory, history core.HistoryStore, policy Policy, metrics *Metrics) *Router {
	return &Router{
		registry: reg,
		groups:   groups,
		history:  history,
		metrics:  metrics,
		out:      deliverer{policy: policy, metrics: metrics},
	}
}

// Route persists msg and delivers it to the online recipients, treating
// msg.From as the sender. The target is resolved against groups first, then
// against connected users. Delivery happens on the caller's goroutine.
func (r *Router) Route(ctx context.Context, msg domain.Message) RouteResult {
	return r.RouteAs(ctx, msg.From.Identity(), msg)
}

// RouteAs is Route for a message received from sender's session. Group
// fanout skips sender whatever msg.From claims.
func (r *Router) RouteAs(ctx context.Context, sender domain.Identity, msg domain.Message) RouteResult {
	start := time.Now()
	defer func() { r.metrics.ObserveRoute("message", time.Since(start)) }()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	group, isGroup := r.groups.Get(msg.To.Username)
	if isGroup {
		msg.To = group.Target()
	} else {
		msg.To.Group = false
	}

	res := RouteResult{ID: msg.ID, ChatKey: ChatKey(msg.From, msg.To), Group: isGroup}
	logger := log.With().Str("module", "app.router").Str("id", msg.ID).Str("from", msg.From.Username).Str("to", msg.To.Username).Logger()

	r.persist(ctx, res.ChatKey, msg)

	frame, err := protocol.EncodeMessage(msg)
	if err != nil {
		logger.Error().Err(err).Msg("encode message")
		return res
	}

	if isGroup {
		for _, m := range group.Members() {
			if m.Username == sender.Username {
				continue
			}
			r.deliverTo(m, frame, &res)
		}
		logger.Debug().Int("delivered", res.Delivered).Int("offline", res.Skipped).Msg("group message routed")
		return res
	}

	r.deliverTo(msg.To.Identity(), frame, &res)
	if res.Skipped > 0 {
		logger.Debug().Msg("recipient offline, message dropped")
	}
	return res
}

func (r *Router) persist(ctx context.Context, chatKey string, msg domain.Message) {
	if r.history == nil {
		return
	}
	if err := r.history.Append(ctx, chatKey, msg); err != nil {
		r.metrics.RecordHistoryFailure()
		log.Error().Str("module", "app.router").Str("chat", chatKey).Str("id", msg.ID).Err(err).Msg("persist message")
	}
}

func (r *Router) deliverTo(id domain.Identity, frame core.Frame, res *RouteResult) {
	conn, ok := r.registry.Lookup(id)
	if !ok {
		res.Skipped++
		r.metrics.RecordDrop("offline")
		return
	}
	if err := r.out.deliver(conn, frame, string(protocol.KindMessage)); err != nil {
		res.Failed = append(res.Failed, id)
		return
	}
	res.Delivered++
}
