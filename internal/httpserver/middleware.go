package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timetrack/internal/handler"
	"timetrack/pkg/metrics"
	"timetrack/pkg/rbac"
	"timetrack/pkg/trace"
	"timetrack/pkg/util"
)

// RoleLookup 查询用户角色
type RoleLookup interface {
	RoleOf(ctx context.Context, userID int) (rbac.Role, error)
}

// TraceMiddleware 沿用请求头中的 trace ID，没有则生成，并写回响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(trace.HeaderName); id != "" {
			ctx = trace.WithContext(ctx, id)
		}
		ctx, id := trace.Ensure(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName, id)
		c.Next()
	}
}

// MetricsMiddleware 记录请求耗时
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// AuthMiddleware 校验 Bearer token，把 user_id 放入 gin context
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		userID, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(handler.ContextUserID, userID)
		c.Next()
	}
}

// RequirePermission 要求当前用户的角色具有指定权限
func RequirePermission(roles RoleLookup, permission string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetInt(handler.ContextUserID)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			c.Abort()
			return
		}

		role, err := roles.RoleOf(c.Request.Context(), userID)
		if err != nil {
			logger.Warn("Role lookup failed", zap.Int("user_id", userID), zap.Error(err))
			c.JSON(http.StatusForbidden, gin.H{"error": "unknown user"})
			c.Abort()
			return
		}

		if err := rbac.CheckPermission(userID, role, permission); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Next()
	}
}
