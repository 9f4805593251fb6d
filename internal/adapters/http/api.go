package http

import (
	"net/http"

	"github.com/dkeye/chatline/internal/app"
	"github.com/dkeye/chatline/internal/app/orch"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const sessionUserKey = "username"

type API struct {
	Orch *orch.Orchestrator
}

type GroupDTO struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"displayName"`
	Members     []domain.Identity `json:"members"`
}

func groupDTO(g *domain.Group) GroupDTO {
	return GroupDTO{Name: g.Name, DisplayName: g.DisplayName, Members: g.Members()}
}

func (a *API) Online(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": a.Orch.Registry.AllOnline()})
}

func (a *API) Groups(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"groups": lo.Map(a.Orch.Groups.List(), func(g *domain.Group, _ int) GroupDTO { return groupDTO(g) })})
}

func (a *API) Group(c *gin.Context) {
	g, ok := a.Orch.Groups.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}
	c.JSON(http.StatusOK, groupDTO(g))
}

func (a *API) History(c *gin.Context) {
	a.writeHistory(c, c.Param("key"))
}

type meRequest struct {
	Username string `json:"username" binding:"required"`
}

// SetMe remembers which user this browser acts as.
func (a *API) SetMe(c *gin.Context) {
	var req meRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid username"})
		return
	}
	id, err := domain.NewIdentity(req.Username, "")
	if err == nil {
		err = domain.Validate(id)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := sessions.Default(c)
	s.Set(sessionUserKey, id.Username)
	if err := s.Save(); err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not saved"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": id.Username, "online": a.Orch.Registry.IsOnline(id.Username)})
}

func (a *API) Me(c *gin.Context) {
	username, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no user in session"})
		return
	}
	groups := lo.Map(a.Orch.Groups.GroupsFor(domain.Identity{Username: username}), func(g *domain.Group, _ int) string { return g.Name })
	c.JSON(http.StatusOK, gin.H{
		"username": username,
		"online":   a.Orch.Registry.IsOnline(username),
		"groups":   groups,
	})
}

func (a *API) MyHistory(c *gin.Context) {
	username, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no user in session"})
		return
	}
	a.writeHistory(c, app.DirectChatKey(username, c.Param("peer")))
}

func (a *API) writeHistory(c *gin.Context, key string) {
	if a.Orch.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history disabled"})
		return
	}
	msgs, err := a.Orch.History.LoadAll(c.Request.Context(), key)
	if err != nil {
		log.Error().Str("module", "adapters.http").Str("chat", key).Err(err).Msg("load history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"chat": key, "messages": msgs})
}

func currentUser(c *gin.Context) (string, bool) {
	v, ok := sessions.Default(c).Get(sessionUserKey).(string)
	return v, ok && v != ""
}
