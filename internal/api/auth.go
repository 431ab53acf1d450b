package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/synapkit/synapd/internal/apierrors"
	"github.com/synapkit/synapd/internal/database"
	"github.com/synapkit/synapd/internal/middleware"
)

type mintTokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
	Actor  string `json:"actor"`
}

// mintToken exchanges the admin key for a short-lived JWT.
func (a *API) mintToken(c *gin.Context) {
	var req mintTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}
	if a.deps.AdminKey == "" ||
		subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(a.deps.AdminKey)) != 1 {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return
	}

	actor := req.Actor
	if actor == "" {
		actor = "admin"
	}
	token, err := middleware.MintAdminJWT(a.deps.AdminKey, actor, time.Hour)
	if err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": 3600})
}

type createTokenRequest struct {
	Label string `json:"label" binding:"required"`
}

// createAPIToken mints a stored sk_* token. The raw value appears exactly
// once in this response; only its bcrypt hash is persisted.
func (a *API) createAPIToken(c *gin.Context) {
	var req createTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	raw := middleware.TokenPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	token := database.APIToken{
		ID:        uuid.NewString(),
		Label:     req.Label,
		TokenHash: string(hash),
		CreatedAt: time.Now().UTC(),
	}
	if err := a.deps.Tokens.InsertAPIToken(c.Request.Context(), token); err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": token.ID, "label": token.Label, "token": raw})
}

func (a *API) revokeAPIToken(c *gin.Context) {
	if err := a.deps.Tokens.RevokeAPIToken(c.Request.Context(), c.Param("id")); err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
