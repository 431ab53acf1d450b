package middleware

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/synapkit/synapd/internal/apierrors"
	"github.com/synapkit/synapd/internal/database"
)

// TokenPrefix marks stored admin API tokens (sk_*), distinguishing them
// from JWTs in the Authorization header.
const TokenPrefix = "sk_"

// ActorKey is the gin context key carrying the authenticated actor id.
const ActorKey = "actor_id"

// TokenStore is the persistence surface the auth middleware needs.
type TokenStore interface {
	ActiveAPITokens(ctx context.Context) ([]database.APIToken, error)
}

// Claims are the JWT claims minted for admin sessions.
type Claims struct {
	Actor string `json:"actor"`
	jwt.RegisteredClaims
}

// MintAdminJWT issues a short-lived admin token signed with the admin key.
func MintAdminJWT(adminKey, actor string, ttl time.Duration) (string, error) {
	claims := Claims{
		Actor: actor,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			Issuer:    "synapd",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(adminKey))
}

func validateJWT(adminKey, raw string) (string, bool) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(adminKey), nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	actor := claims.Actor
	if actor == "" {
		actor = "admin"
	}
	return actor, true
}

// AdminAuth authenticates administrative requests. It accepts, in order:
// an exact X-API-Key match, a Bearer JWT signed with the admin key, or a
// stored sk_* token matched against its bcrypt hash. The resolved actor id
// is stored on the context for audit trails. An empty adminKey disables
// key auth entirely rather than accepting empty strings.
func AdminAuth(adminKey string, tokens TokenStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-Key"); key != "" && adminKey != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) == 1 {
				c.Set(ActorKey, "admin")
				c.Next()
				return
			}
		}

		raw := bearerToken(c)
		switch {
		case raw == "":
			// fall through to reject
		case strings.HasPrefix(raw, TokenPrefix):
			if actor, ok := matchStoredToken(c, tokens, raw); ok {
				c.Set(ActorKey, actor)
				c.Next()
				return
			}
		case adminKey != "":
			if actor, ok := validateJWT(adminKey, raw); ok {
				c.Set(ActorKey, actor)
				c.Next()
				return
			}
		}

		apierrors.Error(c, apierrors.CodeUnauthorized)
		c.Abort()
	}
}

func matchStoredToken(c *gin.Context, tokens TokenStore, raw string) (string, bool) {
	if tokens == nil {
		return "", false
	}
	active, err := tokens.ActiveAPITokens(c.Request.Context())
	if err != nil {
		return "", false
	}
	for _, t := range active {
		if bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(raw)) == nil {
			return "token:" + t.Label, true
		}
	}
	return "", false
}

// Actor returns the authenticated actor id set by AdminAuth.
func Actor(c *gin.Context) string {
	if v, ok := c.Get(ActorKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	// Raw sk_* tokens without the Bearer prefix are accepted for
	// convenience in curl and dashboards.
	if strings.HasPrefix(header, TokenPrefix) {
		return header
	}
	return ""
}
