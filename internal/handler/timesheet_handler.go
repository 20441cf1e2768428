package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timetrack/internal/approval"
	"timetrack/internal/model"
)

type TimesheetHandler struct {
	svc    *approval.Service
	logger *zap.Logger
}

func NewTimesheetHandler(svc *approval.Service, logger *zap.Logger) *TimesheetHandler {
	return &TimesheetHandler{svc: svc, logger: logger}
}

type submitRequest struct {
	WeekStart string `json:"week_start" binding:"required"`
	WeekEnd   string `json:"week_end"`
}

type reviewRequest struct {
	Comments *string `json:"comments"`
}

// Submit 提交一周工时
// POST /timesheets/submit
func (h *TimesheetHandler) Submit(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	weekStart, err := model.ParseDate(req.WeekStart)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if weekStart.Weekday() != time.Monday {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "week_start must be a Monday", "kind": "invalid_week"})
		return
	}

	weekEnd := weekStart.AddDate(0, 0, 6)
	if req.WeekEnd != "" {
		end, err := model.ParseDate(req.WeekEnd)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !end.Equal(weekEnd) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "week_end must be the Sunday after week_start", "kind": "invalid_week"})
			return
		}
	}

	a, err := h.svc.Submit(c.Request.Context(), userID, weekStart, weekEnd)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// Approve POST /timesheets/:id/approve
func (h *TimesheetHandler) Approve(c *gin.Context) {
	h.review(c, h.svc.Approve)
}

// Reject POST /timesheets/:id/reject
func (h *TimesheetHandler) Reject(c *gin.Context) {
	h.review(c, h.svc.Reject)
}

type reviewFunc func(ctx context.Context, actorID, approvalID int, comments *string) (*model.TimesheetApproval, error)

func (h *TimesheetHandler) review(c *gin.Context, fn reviewFunc) {
	actorID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req reviewRequest
	// body 可以为空
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	a, err := fn(c.Request.Context(), actorID, id, req.Comments)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// List GET /timesheets?status=PENDING
func (h *TimesheetHandler) List(c *gin.Context) {
	actorID, ok := currentUser(c)
	if !ok {
		return
	}

	var status *model.ApprovalStatus
	if raw := c.Query("status"); raw != "" {
		st, valid := model.ParseApprovalStatus(raw)
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		status = &st
	}

	list, err := h.svc.List(c.Request.Context(), actorID, status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "count": len(list)})
}

// Get GET /timesheets/:id
func (h *TimesheetHandler) Get(c *gin.Context) {
	actorID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	a, err := h.svc.Get(c.Request.Context(), actorID, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
