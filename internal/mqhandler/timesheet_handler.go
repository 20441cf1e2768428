package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	contracts "timetrack/contracts/mq"
	"timetrack/internal/model"
	"timetrack/pkg/logger"
)

const handlerName = "timesheet_notification"

// Deduper 事件去重
type Deduper interface {
	AcquireOnce(ctx context.Context, handler string, key string) bool
}

// Invalidator 让用户的统计缓存失效
type Invalidator interface {
	Invalidate(ctx context.Context, userID int)
}

type TimesheetEventHandler struct {
	deduper Deduper
	cache   Invalidator
	logger  *zap.Logger
}

func NewTimesheetEventHandler(deduper Deduper, cache Invalidator, logger *zap.Logger) *TimesheetEventHandler {
	return &TimesheetEventHandler{
		deduper: deduper,
		cache:   cache,
		logger:  logger,
	}
}

// HandleTimesheetEvent 处理 timesheet.* 事件：通知相关人员并刷新统计缓存
func (h *TimesheetEventHandler) HandleTimesheetEvent(ctx context.Context, raw json.RawMessage) error {
	var p contracts.TimesheetEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal timesheet event payload", zap.Error(err))
		return err
	}
	if p.ApprovalID <= 0 || p.UserID <= 0 {
		return fmt.Errorf("invalid timesheet event: approval_id=%d user_id=%d", p.ApprovalID, p.UserID)
	}

	log := logger.WithTrace(ctx, h.logger)
	key := fmt.Sprintf("%d:%s:%d", p.ApprovalID, p.Status, p.OccurredAt.UnixNano())
	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, handlerName, key) {
		return nil
	}

	switch model.ApprovalStatus(p.Status) {
	case model.ApprovalPending:
		log.Info("Timesheet awaiting review",
			zap.Int("approval_id", p.ApprovalID),
			zap.Int("user_id", p.UserID),
			zap.String("week_start", p.WeekStart),
			zap.Float64("total_hours", p.TotalHours),
		)
	case model.ApprovalApproved, model.ApprovalRejected:
		fields := []zap.Field{
			zap.Int("approval_id", p.ApprovalID),
			zap.Int("user_id", p.UserID),
			zap.String("status", p.Status),
			zap.String("week_start", p.WeekStart),
		}
		if p.ValidatorID != nil {
			fields = append(fields, zap.Int("validator_id", *p.ValidatorID))
		}
		if p.Comments != nil {
			fields = append(fields, zap.String("comments", *p.Comments))
		}
		log.Info("Timesheet reviewed, notifying owner", fields...)
	default:
		log.Warn("Ignoring timesheet event with unknown status",
			zap.Int("approval_id", p.ApprovalID),
			zap.String("status", p.Status),
		)
		return nil
	}

	if h.cache != nil {
		h.cache.Invalidate(ctx, p.UserID)
	}
	return nil
}
