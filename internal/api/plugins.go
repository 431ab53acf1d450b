package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synapkit/synapd/internal/apierrors"
	"github.com/synapkit/synapd/internal/middleware"
	"github.com/synapkit/synapd/pkg/permission"
)

// listPlugins returns every installed manifest with its effective
// permission set.
func (a *API) listPlugins(c *gin.Context) {
	manifests := a.deps.Registry.ListPlugins()
	out := make([]gin.H, 0, len(manifests))
	for _, m := range manifests {
		out = append(out, gin.H{
			"manifest":              m,
			"effective_permissions": a.deps.Registry.EffectivePermissions(m.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"plugins": out})
}

func (a *API) getPluginConfig(c *gin.Context) {
	id := c.Param("id")
	if _, ok := a.deps.Registry.Get(id); !ok {
		apierrors.Error(c, apierrors.CodePluginNotFound)
		return
	}

	configs, err := a.deps.Manager.FetchPluginConfigs(c.Request.Context(), id)
	if err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plugin_id": id, "config": configs})
}

type setConfigRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value" binding:"required"`
}

func (a *API) setPluginConfig(c *gin.Context) {
	id := c.Param("id")
	if _, ok := a.deps.Registry.Get(id); !ok {
		apierrors.Error(c, apierrors.CodePluginNotFound)
		return
	}

	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}

	if err := a.deps.Manager.UpdateConfig(c.Request.Context(), id, req.Key, req.Value, middleware.Actor(c)); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type permissionRequest struct {
	Permission string `json:"permission" binding:"required"`
}

func (a *API) grantPermission(c *gin.Context) {
	a.changePermission(c, a.deps.Manager.GrantPermission)
}

func (a *API) revokePermission(c *gin.Context) {
	a.changePermission(c, a.deps.Manager.RevokePermission)
}

func (a *API) changePermission(c *gin.Context, apply func(ctx context.Context, pluginID string, perm permission.Permission) error) {
	id := c.Param("id")
	if _, ok := a.deps.Registry.Get(id); !ok {
		apierrors.Error(c, apierrors.CodePluginNotFound)
		return
	}

	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}
	perm, err := permission.Parse(req.Permission)
	if err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, err.Error())
		return
	}

	if err := apply(c.Request.Context(), id, perm); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInternalError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"plugin_id":             id,
		"effective_permissions": a.deps.Registry.EffectivePermissions(id),
	})
}
