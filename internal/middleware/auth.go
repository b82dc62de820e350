package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/keygate/keygate/internal/auth"
)

// Context keys set by CallerAuth.
const (
	TenantIDKey = "tenant_id"
	IdentityKey = "identity"
)

// TokenValidator verifies caller tokens. *auth.TokenService implements it.
type TokenValidator interface {
	Validate(token string) (*auth.CallerClaims, error)
}

// Authorizer answers the admin and owner checks. *entitlement.Gate implements it.
type Authorizer interface {
	IsAuthorized(ctx context.Context, tenantID, identity string) (bool, error)
	IsOwner(identity string) bool
}

// CallerAuth verifies the Bearer caller token minted by the front end and stores
// the tenant and identity it carries under TenantIDKey and IdentityKey.
func CallerAuth(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization header"})
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must be 'Bearer <token>'"})
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			slog.Debug("caller token rejected", "error", err)
			msg := "Invalid or expired token"
			if errors.Is(err, auth.ErrMissingClaims) {
				msg = "Token is missing tenant or subject"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(TenantIDKey, claims.TenantID)
		c.Set(IdentityKey, claims.Identity())
		c.Next()
	}
}

// GetCaller returns the tenant and identity stored by CallerAuth.
func GetCaller(c *gin.Context) (tenantID, identity string) {
	return c.GetString(TenantIDKey), c.GetString(IdentityKey)
}

// RequireAdmin allows owners and managers of the caller's tenant.
func RequireAdmin(authz Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, identity := GetCaller(c)
		if identity == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		ok, err := authz.IsAuthorized(c.Request.Context(), tenantID, identity)
		if err != nil {
			slog.Error("authorization check failed", "tenant_id", tenantID, "identity", identity, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to check authorization"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
			return
		}
		c.Next()
	}
}

// RequireOwner allows configured owners only.
func RequireOwner(authz Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, identity := GetCaller(c)
		if identity == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !authz.IsOwner(identity) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Owner access required"})
			return
		}
		c.Next()
	}
}
