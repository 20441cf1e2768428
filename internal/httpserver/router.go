package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"timetrack/internal/handler"
	"timetrack/pkg/otel"
	"timetrack/pkg/rbac"
)

// Pinger readyz 检查的依赖，*pgxpool.Pool 满足该接口
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers 路由用到的全部 handler
type Handlers struct {
	Timesheets *handler.TimesheetHandler
	Entries    *handler.EntryHandler
	Analytics  *handler.AnalyticsHandler
	Admin      *handler.AdminHandler
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, roles RoleLookup, jwtSecret string, db Pinger, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), otel.GinMiddleware(), TraceMiddleware(), MetricsMiddleware())

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
			defer cancel()

			if err := db.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/timesheets/submit", h.Timesheets.Submit)
		auth.GET("/timesheets", h.Timesheets.List)
		auth.GET("/timesheets/:id", h.Timesheets.Get)
		auth.POST("/timesheets/:id/approve", h.Timesheets.Approve)
		auth.POST("/timesheets/:id/reject", h.Timesheets.Reject)

		auth.POST("/entries", h.Entries.Create)
		auth.POST("/entries/timer-stop", h.Entries.StopTimer)
		auth.PUT("/entries/:id", h.Entries.Update)
		auth.DELETE("/entries/:id", h.Entries.Delete)

		auth.GET("/analytics/dashboard", h.Analytics.Dashboard)
		auth.GET("/analytics/productivity", h.Analytics.Productivity)
		auth.GET("/analytics/suggestions", h.Analytics.Suggestions)
	}

	if h.Admin != nil {
		admin := auth.Group("/admin")
		admin.Use(RequirePermission(roles, rbac.PermissionOutboxReplay, logger))
		admin.POST("/outbox/replay", h.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", h.Admin.ReplayFailedEvents)
	}

	return &Router{Engine: r}
}

// Server 带优雅关闭的 HTTP 服务
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
