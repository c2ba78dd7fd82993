package admin

import (
	"errors"
	"net/http"

	"github.com/convene/messenger-service/internal/provision"
	"github.com/convene/messenger-service/internal/registry/membership"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/convene/messenger-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the admin provisioning routes.
func MountRoutes(r *gin.Engine, engine *provision.Engine, auth gin.HandlerFunc) {
	g := r.Group("/v1/admin", auth, security.RequireAdminRole())

	g.POST("/provision", func(c *gin.Context) {
		provisionAll(c, engine)
	})
}

// provisionAll runs a bulk backfill over every team assignment in the
// edition, optionally narrowed to one team or one user. Per-team failures are
// isolated; the response reports the split.
func provisionAll(c *gin.Context, engine *provision.Engine) {
	var req struct {
		EditionID uuid.UUID  `json:"editionId" binding:"required"`
		TeamID    *uuid.UUID `json:"teamId"`
		UserID    *string    `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}

	res, err := engine.Provision(c.Request.Context(), membership.Scope{
		EditionID: req.EditionID,
		TeamID:    req.TeamID,
		UserID:    req.UserID,
	})
	if err != nil && res.TeamsProcessed == 0 && res.TeamsFailed == 0 {
		// Nothing ran; the assignment load itself failed.
		handleError(c, err)
		return
	}

	status := http.StatusOK
	if res.TeamsFailed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, res)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
