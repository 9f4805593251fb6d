package orch

import (
	"github.com/dkeye/chatline/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// CreateGroupFor creates a group on behalf of creator. The creator is always
// a member; listed usernames are added only when they are online.
func (o *Orchestrator) CreateGroupFor(creator domain.Identity, req domain.GroupCreate) (*domain.Group, error) {
	members := []domain.Identity{creator}
	for _, username := range lo.Uniq(req.Members) {
		if username == creator.Username {
			continue
		}
		conn, ok := o.Registry.LookupName(username)
		if !ok {
			log.Info().Str("module", "app.orch").Str("group", req.Name).Str("user", username).Msg("member not online, skipped")
			continue
		}
		members = append(members, conn.Identity())
	}
	return o.Groups.CreateGroup(req.Name, req.DisplayName, members)
}
