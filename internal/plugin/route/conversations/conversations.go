package conversations

import (
	"errors"
	"net/http"
	"time"

	"github.com/convene/messenger-service/internal/listing"
	"github.com/convene/messenger-service/internal/model"
	"github.com/convene/messenger-service/internal/provision"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/convene/messenger-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the conversation routes.
func MountRoutes(r *gin.Engine, store registrystore.ConversationStore, view *listing.View, engine *provision.Engine, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/editions/:editionId/conversations", func(c *gin.Context) {
		listConversations(c, view)
	})
	g.POST("/editions/:editionId/teams/:teamId/ensure", func(c *gin.Context) {
		ensureConversations(c, engine)
	})
	g.GET("/conversations/:conversationId/participants", func(c *gin.Context) {
		listParticipants(c, store, view)
	})
	g.POST("/conversations/:conversationId/messages", func(c *gin.Context) {
		postMessage(c, store)
	})
	g.POST("/conversations/:conversationId/read", func(c *gin.Context) {
		markRead(c, store)
	})
}

func listConversations(c *gin.Context, view *listing.View) {
	callerID := security.GetUserID(c)
	editionID, err := uuid.Parse(c.Param("editionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "edition not found"})
		return
	}

	// Organizers may list another user's conversations via ?userId=.
	targetID := c.Query("userId")
	if targetID == "" {
		targetID = callerID
	}
	allowed := security.IsAdmin(c)
	if !allowed {
		allowed, err = view.CanList(c.Request.Context(), editionID, callerID, targetID)
		if err != nil {
			handleError(c, err)
			return
		}
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
		return
	}

	summaries, err := view.ListConversations(c.Request.Context(), editionID, targetID)
	if err != nil {
		handleError(c, err)
		return
	}
	if summaries == nil {
		summaries = []registrystore.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"data": summaries})
}

func ensureConversations(c *gin.Context, engine *provision.Engine) {
	userID := security.GetUserID(c)
	editionID, err := uuid.Parse(c.Param("editionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "edition not found"})
		return
	}
	teamID, err := uuid.Parse(c.Param("teamId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "team not found"})
		return
	}

	if err := engine.EnsureConversationsForUser(c.Request.Context(), editionID, teamID, userID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func listParticipants(c *gin.Context, store registrystore.ConversationStore, view *listing.View) {
	userID := security.GetUserID(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	self, err := store.GetParticipant(c.Request.Context(), convID, userID)
	if err != nil || !self.Active() {
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
		return
	}

	conv, err := store.GetConversation(c.Request.Context(), convID)
	if err != nil {
		handleError(c, err)
		return
	}
	participants, err := store.ActiveParticipants(c.Request.Context(), convID)
	if err != nil {
		handleError(c, err)
		return
	}

	// Leader flags come from the current team assignments, never from storage.
	leaders := map[string]bool{}
	if conv.Type.TeamScoped() && conv.TeamID != nil {
		leaders, err = view.TeamLeaders(c.Request.Context(), conv.EditionID, *conv.TeamID)
		if err != nil {
			handleError(c, err)
			return
		}
	}
	infos := make([]registrystore.ParticipantInfo, len(participants))
	for i, p := range participants {
		infos[i] = registrystore.ParticipantInfo{
			UserID:     p.UserID,
			JoinedAt:   p.JoinedAt,
			LastReadAt: p.LastReadAt,
			IsLeader:   leaders[p.UserID],
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": infos})
}

func postMessage(c *gin.Context, store registrystore.ConversationStore) {
	userID := security.GetUserID(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}

	msg := &model.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		AuthorUserID:   userID,
		Content:        req.Content,
		CreatedAt:      time.Now(),
	}
	if err := store.AppendMessage(c.Request.Context(), msg); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func markRead(c *gin.Context, store registrystore.ConversationStore) {
	userID := security.GetUserID(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	var req struct {
		At *time.Time `json:"at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	at := time.Now()
	if req.At != nil {
		at = *req.At
	}

	if err := store.MarkRead(c.Request.Context(), convID, userID, at); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
