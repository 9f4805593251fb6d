package app

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dkeye/chatline/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type GroupDirectory struct {
	mu      sync.RWMutex
	groups  map[string]*domain.Group
	metrics *Metrics
}

func NewGroupDirectory(metrics *Metrics) *GroupDirectory {
	return &GroupDirectory{
		groups:  make(map[string]*domain.Group),
		metrics: metrics,
	}
}

// CreateGroup registers a new group. An existing group with the same name is
// left untouched and ErrGroupExists is returned.
func (d *GroupDirectory) CreateGroup(name, displayName string, members []domain.Identity) (*domain.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrGroupNameEmpty
	}

	d.mu.Lock()
	if _, ok := d.groups[name]; ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrGroupExists, name)
	}
	g := domain.NewGroup(name, displayName, lo.UniqBy(members, domain.Identity.Key))
	d.groups[name] = g
	n := len(d.groups)
	d.mu.Unlock()

	d.metrics.SetGroups(n)
	log.Info().Str("module", "app.groups").Str("group", name).Int("members", g.Size()).Msg("group created")
	return g, nil
}

func (d *GroupDirectory) Get(name string) (*domain.Group, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[name]
	return g, ok
}

// List returns all groups sorted by name.
func (d *GroupDirectory) List() []*domain.Group {
	d.mu.RLock()
	out := lo.Values(d.groups)
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GroupsFor returns the groups id belongs to, sorted by name.
func (d *GroupDirectory) GroupsFor(id domain.Identity) []*domain.Group {
	return lo.Filter(d.List(), func(g *domain.Group, _ int) bool { return g.Has(id) })
}

// RemoveMember drops id from every group and reports how many groups held it.
// Groups stay registered when they become empty.
func (d *GroupDirectory) RemoveMember(id domain.Identity) int {
	removed := 0
	for _, g := range d.List() {
		if g.Remove(id) {
			removed++
			log.Debug().Str("module", "app.groups").Str("group", g.Name).Str("user", id.Username).Msg("member removed")
		}
	}
	return removed
}
