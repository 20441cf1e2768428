package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timetrack/internal/approval"
	"timetrack/internal/entry"
	"timetrack/pkg/logger"
)

// ContextUserID AuthMiddleware 写入的用户 ID 键
const ContextUserID = "user_id"

// currentUser 取出已认证的用户 ID
func currentUser(c *gin.Context) (int, bool) {
	v, exists := c.Get(ContextUserID)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return 0, false
	}
	uid, ok := v.(int)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return 0, false
	}
	return uid, true
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// statusOf 业务错误对应的 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, approval.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, approval.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrInvalidState),
		errors.Is(err, approval.ErrAlreadySubmitted),
		errors.Is(err, approval.ErrAlreadyApproved),
		errors.Is(err, approval.ErrEntryLocked),
		errors.Is(err, approval.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, approval.ErrNoEntries),
		errors.Is(err, approval.ErrInvalidWeek),
		errors.Is(err, entry.ErrInvalidEntry):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError 业务错误返回错误类型和信息，其余错误只返回通用信息
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), log).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	kind := approval.Kind(err)
	if errors.Is(err, entry.ErrInvalidEntry) {
		kind = "invalid_entry"
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}
