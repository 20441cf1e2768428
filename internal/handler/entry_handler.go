package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timetrack/internal/entry"
	"timetrack/internal/model"
)

type EntryHandler struct {
	svc    *entry.Service
	logger *zap.Logger
}

func NewEntryHandler(svc *entry.Service, logger *zap.Logger) *EntryHandler {
	return &EntryHandler{svc: svc, logger: logger}
}

type entryRequest struct {
	ProjectID       *int    `json:"project_id"`
	Date            string  `json:"date" binding:"required"`
	DurationMinutes int     `json:"duration_minutes"`
	Description     *string `json:"description"`
	Billable        bool    `json:"billable"`
}

func (r entryRequest) input() (entry.Input, error) {
	date, err := model.ParseDate(r.Date)
	if err != nil {
		return entry.Input{}, err
	}
	return entry.Input{
		ProjectID:       r.ProjectID,
		Date:            date,
		DurationMinutes: r.DurationMinutes,
		Description:     r.Description,
		Billable:        r.Billable,
	}, nil
}

type timerStopRequest struct {
	ProjectID   *int       `json:"project_id"`
	StartedAt   time.Time  `json:"started_at" binding:"required"`
	StoppedAt   *time.Time `json:"stopped_at"`
	Description *string    `json:"description"`
	Billable    bool       `json:"billable"`
}

// Create POST /entries
func (h *EntryHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	in, ok := bindEntry(c)
	if !ok {
		return
	}

	e, err := h.svc.Create(c.Request.Context(), userID, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// Update PUT /entries/:id
func (h *EntryHandler) Update(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	in, ok := bindEntry(c)
	if !ok {
		return
	}

	e, err := h.svc.Update(c.Request.Context(), userID, id, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// Delete DELETE /entries/:id
func (h *EntryHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), userID, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StopTimer POST /entries/timer-stop，stopped_at 缺省为当前时间
func (h *EntryHandler) StopTimer(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req timerStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stoppedAt := time.Now()
	if req.StoppedAt != nil {
		stoppedAt = *req.StoppedAt
	}

	e, err := h.svc.StopTimer(c.Request.Context(), userID, req.ProjectID, req.StartedAt, stoppedAt, req.Description, req.Billable)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func bindEntry(c *gin.Context) (entry.Input, bool) {
	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return entry.Input{}, false
	}
	in, err := req.input()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return entry.Input{}, false
	}
	return in, true
}
