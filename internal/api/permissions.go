package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synapkit/synapd/internal/apierrors"
	"github.com/synapkit/synapd/internal/middleware"
	"github.com/synapkit/synapd/internal/permissions"
	"github.com/synapkit/synapd/pkg/permission"
)

type requestPermissionBody struct {
	PluginID   string `json:"plugin_id" binding:"required"`
	Permission string `json:"permission" binding:"required"`
}

// requestPermission opens a human-approvable escalation for a plugin.
func (a *API) requestPermission(c *gin.Context) {
	var body requestPermissionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}

	perm, err := permission.Parse(body.Permission)
	if err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, err.Error())
		return
	}
	if _, ok := a.deps.Registry.Get(body.PluginID); !ok {
		apierrors.Error(c, apierrors.CodePluginNotFound)
		return
	}

	req, err := a.deps.Permissions.Request(c.Request.Context(), body.PluginID, perm)
	if err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// listPendingPermissions feeds the approval UI.
func (a *API) listPendingPermissions(c *gin.Context) {
	pending, err := a.deps.Permissions.ListPending(c.Request.Context())
	if err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": pending})
}

func (a *API) approvePermission(c *gin.Context) {
	a.decidePermission(c, a.deps.Permissions.Approve, "approved")
}

func (a *API) denyPermission(c *gin.Context) {
	a.decidePermission(c, a.deps.Permissions.Deny, "denied")
}

func (a *API) decidePermission(c *gin.Context, decide func(ctx context.Context, requestID, actorID string) error, verdict string) {
	requestID := c.Param("id")
	actor := middleware.Actor(c)

	err := decide(c.Request.Context(), requestID, actor)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "success", "verdict": verdict})
	case errors.Is(err, permissions.ErrNotFound):
		apierrors.Error(c, apierrors.CodeNotFound)
	case errors.Is(err, permissions.ErrAlreadyDecided):
		apierrors.Error(c, apierrors.CodeConflict)
	default:
		apierrors.ErrorWithMessage(c, apierrors.CodeInternalError, err.Error())
	}
}
