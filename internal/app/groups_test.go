package app

import (
	"testing"

	"github.com/dkeye/chatline/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestGroupDirectory_CreateConflict(t *testing.T) {
	req := require.New(t)
	dir := NewGroupDirectory(nil)
	alice := domain.Identity{Username: "alice"}

	g, err := dir.CreateGroup("team", "The Team", []domain.Identity{alice, alice})
	req.NoError(err)
	req.Equal(1, g.Size())

	_, err = dir.CreateGroup("team", "", nil)
	req.ErrorIs(err, domain.ErrGroupExists)
	got, ok := dir.Get("team")
	req.True(ok)
	req.Same(g, got)
	req.Equal("The Team", got.DisplayName)

	_, err = dir.CreateGroup("  ", "", nil)
	req.ErrorIs(err, domain.ErrGroupNameEmpty)
}

func TestGroupDirectory_RemoveMemberFromAllGroups(t *testing.T) {
	req := require.New(t)
	dir := NewGroupDirectory(nil)
	alice := domain.Identity{Username: "alice"}
	bob := domain.Identity{Username: "bob"}

	_, err := dir.CreateGroup("a", "", []domain.Identity{alice, bob})
	req.NoError(err)
	_, err = dir.CreateGroup("b", "", []domain.Identity{alice})
	req.NoError(err)
	_, err = dir.CreateGroup("c", "", []domain.Identity{bob})
	req.NoError(err)

	req.Len(dir.GroupsFor(alice), 2)
	req.Equal(2, dir.RemoveMember(alice))
	req.Empty(dir.GroupsFor(alice))
	req.Len(dir.GroupsFor(bob), 2)
	req.Equal(0, dir.RemoveMember(alice))

	names := make([]string, 0, 3)
	for _, g := range dir.List() {
		names = append(names, g.Name)
	}
	req.Equal([]string{"a", "b", "c"}, names)
}

func TestChatKey(t *testing.T) {
	req := require.New(t)
	alice := domain.Target{Username: "alice"}
	bob := domain.Target{Username: "bob"}
	team := domain.Target{Username: "team", Group: true}

	req.Equal("dm:alice:bob", ChatKey(alice, bob))
	req.Equal("dm:alice:bob", ChatKey(bob, alice))
	req.Equal("group:team", ChatKey(alice, team))
}
