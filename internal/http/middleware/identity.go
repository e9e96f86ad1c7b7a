package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/autoforge-backend/internal/http/response"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
	"github.com/yungbote/autoforge-backend/internal/services"
)

const (
	tenantKey = "tenant_id"
	userKey   = "user_id"

	// AnonymousUser is the principal for requests without a token.
	AnonymousUser = "anonymous"

	defaultTenant = "default"
)

// IdentityMiddleware resolves the tenant and the caller identity for every
// request. A missing token means anonymous; an invalid one is rejected.
type IdentityMiddleware struct {
	log         *logger.Logger
	authService services.AuthService
}

func NewIdentityMiddleware(log *logger.Logger, authService services.AuthService) *IdentityMiddleware {
	middlewareLog := log.With("middleware", "IdentityMiddleware")
	return &IdentityMiddleware{log: middlewareLog, authService: authService}
}

func (im *IdentityMiddleware) Resolve() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader("X-Tenant-ID")
		if tenant == "" {
			tenant = defaultTenant
		}
		c.Set(tenantKey, tenant)

		tokenString := extractToken(c)
		if tokenString == "" {
			c.Set(userKey, AnonymousUser)
			c.Next()
			return
		}

		userID, err := im.authService.UserIDFromToken(tokenString)
		if err != nil {
			im.log.Debug("Token rejected", "error", err)
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", err)
			c.Abort()
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

// TenantID reads the tenant resolved by IdentityMiddleware.
func TenantID(c *gin.Context) string {
	if tenant := c.GetString(tenantKey); tenant != "" {
		return tenant
	}
	return defaultTenant
}

// UserID reads the caller identity resolved by IdentityMiddleware.
func UserID(c *gin.Context) string {
	if user := c.GetString(userKey); user != "" {
		return user
	}
	return AnonymousUser
}

func extractToken(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
