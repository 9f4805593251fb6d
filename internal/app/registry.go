package app

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/chatline/internal/core"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Connection is the live delivery channel of one identity.
// Writes are serialized so concurrent senders never interleave frames.
type Connection struct {
	id        domain.Identity
	ch        core.SignalConnection
	connected time.Time

	mu       sync.Mutex
	openOnce sync.Once
}

func (c *Connection) Identity() domain.Identity { return c.id }

func (c *Connection) ConnectedAt() time.Time { return c.connected }

// Open writes the handshake greeting and releases the connection for
// deliveries. Only the first call has any effect; a nil greeting releases
// without writing.
func (c *Connection) Open(greeting core.Frame) error {
	var err error
	c.openOnce.Do(func() {
		if greeting != nil {
			err = c.ch.Send(greeting)
		}
		c.mu.Unlock()
	})
	return err
}

// Send blocks until the frame is written or the transport fails.
func (c *Connection) Send(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.Send(f)
}

// Close closes the transport without waiting for in-flight writes.
func (c *Connection) Close() error {
	return c.ch.Close()
}

type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	metrics *Metrics
}

func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		conns:   make(map[string]*Connection),
		metrics: metrics,
	}
}

// Register binds id to ch. The check and the insert happen under one lock,
// so of two concurrent registrations of the same username exactly one wins.
// The returned Connection stays closed to deliveries until Open is called.
func (r *Registry) Register(id domain.Identity, ch core.SignalConnection) (*Connection, error) {
	conn := &Connection{id: id, ch: ch, connected: time.Now()}
	conn.mu.Lock()

	r.mu.Lock()
	if _, ok := r.conns[id.Key()]; ok {
		r.mu.Unlock()
		log.Warn().Str("module", "app.registry").Str("user", id.Username).Msg("duplicate identity rejected")
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateIdentity, id.Username)
	}
	r.conns[id.Key()] = conn
	n := len(r.conns)
	r.mu.Unlock()

	r.metrics.SetOnline(n)
	log.Info().Str("module", "app.registry").Str("user", id.Username).Int("online", n).Msg("registered")
	return conn, nil
}

// Unregister removes whatever connection id holds and releases it for
// deliveries, so no sender stays blocked on a connection that was never
// opened. Unknown ids are ignored.
func (r *Registry) Unregister(id domain.Identity) bool {
	r.mu.Lock()
	cur, ok := r.conns[id.Key()]
	delete(r.conns, id.Key())
	n := len(r.conns)
	r.mu.Unlock()

	if ok {
		_ = cur.Open(nil)
		r.metrics.SetOnline(n)
		log.Info().Str("module", "app.registry").Str("user", id.Username).Int("online", n).Msg("unregistered")
	}
	return ok
}

// Release removes conn only if it is still the registered connection of its
// identity.
func (r *Registry) Release(conn *Connection) bool {
	if conn == nil {
		return false
	}
	_ = conn.Open(nil)

	r.mu.Lock()
	cur, ok := r.conns[conn.id.Key()]
	if !ok || cur != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, conn.id.Key())
	n := len(r.conns)
	r.mu.Unlock()

	r.metrics.SetOnline(n)
	log.Info().Str("module", "app.registry").Str("user", conn.id.Username).Int("online", n).Msg("released")
	return true
}

func (r *Registry) Lookup(id domain.Identity) (*Connection, bool) {
	return r.LookupName(id.Key())
}

func (r *Registry) LookupName(username string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[username]
	return c, ok
}

func (r *Registry) IsOnline(username string) bool {
	_, ok := r.LookupName(username)
	return ok
}

// AllOnline returns a snapshot of connected identities sorted by username.
func (r *Registry) AllOnline() []domain.Identity {
	r.mu.RLock()
	out := lo.MapToSlice(r.conns, func(_ string, c *Connection) domain.Identity { return c.id })
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
