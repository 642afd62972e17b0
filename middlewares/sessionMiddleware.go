package middlewares

import (
	"context"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const revokedTokenPrefix = "RevokedToken:"

func bearerToken(c *gin.Context) string {
	if token := c.Request.Header.Get("token"); token != "" {
		return token
	}
	auth := c.Request.Header.Get("Authorization")
	const bearer = "Bearer "
	if len(auth) > len(bearer) && strings.EqualFold(auth[:len(bearer)], bearer) {
		return strings.TrimSpace(auth[len(bearer):])
	}
	return ""
}

// SessionMiddleware turns the session token into request context values: business,
// user, role, branch and auto-approve entitlement. Requests without a token pass
// through untouched; the operations themselves reject a missing tenant.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}
		claims, err := utils.JwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		if claims.ID != "" {
			_, revoked, err := config.GetRedisValue(c.Request.Context(), revokedTokenPrefix+claims.ID)
			if err != nil {
				config.LogError(config.GetLogger(), "SessionMiddleware", "SessionMiddleware", "revocation lookup", claims.ID, err)
			}
			if revoked {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetBusinessIdInContext(ctx, claims.BusinessId)
		ctx = utils.SetUserIdInContext(ctx, claims.UserId)
		ctx = utils.SetUserNameInContext(ctx, claims.UserName)
		ctx = utils.SetRoleInContext(ctx, claims.Role)
		ctx = utils.SetCanAutoApproveInContext(ctx, claims.CanAutoApprove)
		if claims.BranchId > 0 {
			ctx = utils.SetBranchIdInContext(ctx, claims.BranchId)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RevokeSession blocks a token id until its expiry.
func RevokeSession(ctx context.Context, claims *utils.SessionClaims) error {
	if claims.ID == "" {
		return nil
	}
	ttl := time.Hour
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	return config.SetRedisValue(ctx, revokedTokenPrefix+claims.ID, "1", ttl)
}

// CorrelationMiddleware reuses the caller's x-correlation-id or generates one.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}
