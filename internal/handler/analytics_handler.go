package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timetrack/internal/analytics"
	"timetrack/internal/insights"
	"timetrack/internal/model"
)

type AnalyticsHandler struct {
	svc    *insights.Service
	logger *zap.Logger
}

func NewAnalyticsHandler(svc *insights.Service, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc, logger: logger}
}

// Dashboard GET /analytics/dashboard?period=week|month 或 ?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *AnalyticsHandler) Dashboard(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	from, to := c.Query("from"), c.Query("to")
	if from == "" && to == "" {
		summary, err := h.svc.Dashboard(c.Request.Context(), userID, analytics.ParsePeriod(c.DefaultQuery("period", "week")))
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	start, err := model.ParseDate(from)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := model.ParseDate(to)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r := model.NewDateRange(start, end)
	if r.Days() == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must not be before from"})
		return
	}
	if r.Days() > insights.MaxRangeDays {
		c.JSON(http.StatusBadRequest, gin.H{"error": insights.ErrRangeTooLong.Error()})
		return
	}

	summary, err := h.svc.DashboardRange(c.Request.Context(), userID, r)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Productivity GET /analytics/productivity?goal=40
func (h *AnalyticsHandler) Productivity(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	goal := 0.0
	if raw := c.Query("goal"); raw != "" {
		g, err := strconv.ParseFloat(raw, 64)
		if err != nil || g <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "goal must be a positive number"})
			return
		}
		goal = g
	}

	p, err := h.svc.Productivity(c.Request.Context(), userID, goal)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Suggestions GET /analytics/suggestions
func (h *AnalyticsHandler) Suggestions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	list, err := h.svc.Suggestions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": list})
}
