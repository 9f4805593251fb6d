package domain

import (
	"sort"
	"sync"
)

// Group is a named set of identities addressable as one message target.
// The member set is guarded by the group itself so readers can snapshot
// it while disconnect cleanup removes members.
type Group struct {
	Name        string
	DisplayName string

	mu      sync.RWMutex
	members map[string]Identity
}

func NewGroup(name, displayName string, members []Identity) *Group {
	if displayName == "" {
		displayName = name
	}
	g := &Group{
		Name:        name,
		DisplayName: displayName,
		members:     make(map[string]Identity, len(members)),
	}
	for _, m := range members {
		g.members[m.Key()] = m
	}
	return g
}

func (g *Group) Target() Target {
	return Target{Username: g.Name, DisplayName: g.DisplayName, Group: true}
}

// Members returns a copy of the member set sorted by username.
func (g *Group) Members() []Identity {
	g.mu.RLock()
	out := make([]Identity, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, m)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (g *Group) Has(id Identity) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[id.Key()]
	return ok
}

func (g *Group) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

func (g *Group) Add(id Identity) {
	g.mu.Lock()
	g.members[id.Key()] = id
	g.mu.Unlock()
}

// Remove reports whether id was a member.
func (g *Group) Remove(id Identity) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[id.Key()]; !ok {
		return false
	}
	delete(g.members, id.Key())
	return true
}

// GroupCreate is the object form of the create-group command.
type GroupCreate struct {
	Name        string   `json:"name" validate:"required,max=64,excludesall=:0x2C"`
	DisplayName string   `json:"displayName,omitempty" validate:"max=128"`
	Members     []string `json:"members,omitempty" validate:"dive,required"`
}
