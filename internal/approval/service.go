package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	contracts "timetrack/contracts/mq"
	"timetrack/internal/model"
	"timetrack/pkg/metrics"
	"timetrack/pkg/rbac"
	"timetrack/pkg/trace"
)

// Service 工时单审批流程：DRAFT -> PENDING -> APPROVED | REJECTED，REJECTED 可重新提交
type Service struct {
	store     Store
	directory Directory
	logger    *zap.Logger
	now       func() time.Time
}

// Option 配置 Service
type Option func(*Service)

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, directory Directory, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: directory,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit 提交某一周的工时单
func (s *Service) Submit(ctx context.Context, userID int, weekStart, weekEnd time.Time) (*model.TimesheetApproval, error) {
	week := model.NewDateRange(weekStart, weekEnd)
	if !IsTimesheetWeek(week) {
		return nil, s.refused("submit", ErrInvalidWeek)
	}

	var result *model.TimesheetApproval
	transition := "submit"

	err := s.store.InTx(ctx, func(tx Tx) error {
		existing, err := tx.FindByUserAndWeek(ctx, userID, week.Start)
		if err != nil {
			return err
		}
		if existing != nil {
			switch existing.Status {
			case model.ApprovalPending:
				return ErrAlreadySubmitted
			case model.ApprovalApproved:
				return ErrAlreadyApproved
			}
		}

		entries, err := tx.ListEntries(ctx, userID, week)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return ErrNoEntries
		}
		if err := checkForeignLinks(ctx, tx, entries, existing); err != nil {
			return err
		}

		now := s.now()
		totalHours := float64(SumDuration(entries)) / 60

		if existing != nil {
			// REJECTED（或 DRAFT）记录复用原行，回到 PENDING
			from := existing.Status
			a := *existing
			a.Status = model.ApprovalPending
			a.WeekEnd = week.End
			a.TotalHours = totalHours
			a.SubmittedAt = &now
			a.ValidatorID = nil
			a.ReviewedAt = nil
			a.Comments = nil
			a.UpdatedAt = now
			if err := tx.UpdateStatus(ctx, &a, from); err != nil {
				return err
			}
			result = &a
			transition = "resubmit"
		} else {
			a := &model.TimesheetApproval{
				UserID:      userID,
				WeekStart:   week.Start,
				WeekEnd:     week.End,
				TotalHours:  totalHours,
				Status:      model.ApprovalPending,
				SubmittedAt: &now,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Insert(ctx, a); err != nil {
				return err
			}
			result = a
		}

		ids := make([]int, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := tx.UpdateApprovalLink(ctx, ids, &result.ID); err != nil {
			return fmt.Errorf("failed to link entries: %w", err)
		}

		return tx.AddEvent(ctx, contracts.RoutingKeyTimesheetSubmitted, result.ID, s.eventPayload(ctx, result))
	})
	if err != nil {
		return nil, s.refused("submit", err)
	}

	metrics.IncrementApprovalTransition(transition)
	s.logger.Info("Timesheet submitted",
		zap.Int("approval_id", result.ID),
		zap.Int("user_id", userID),
		zap.String("week_start", week.Start.Format(model.DateLayout)),
		zap.Float64("total_hours", result.TotalHours),
		zap.String("transition", transition),
		zap.String("trace_id", trace.FromContext(ctx)),
	)
	return result, nil
}

// IsTimesheetWeek 提交周期固定为周一到周日
func IsTimesheetWeek(week model.DateRange) bool {
	return week.Start.Weekday() == time.Monday && week.End.Equal(week.Start.AddDate(0, 0, 6))
}

// checkForeignLinks 已挂在另一条待审或已通过审批上的工时不能被改挂
func checkForeignLinks(ctx context.Context, tx Tx, entries []model.TimeEntry, existing *model.TimesheetApproval) error {
	for _, e := range entries {
		if e.ApprovalID == nil || (existing != nil && *e.ApprovalID == existing.ID) {
			continue
		}
		other, err := tx.GetForUpdate(ctx, *e.ApprovalID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		switch other.Status {
		case model.ApprovalApproved:
			return fmt.Errorf("%w: entry %d belongs to approval %d", ErrAlreadyApproved, e.ID, other.ID)
		case model.ApprovalPending:
			return fmt.Errorf("%w: entry %d belongs to approval %d", ErrAlreadySubmitted, e.ID, other.ID)
		}
	}
	return nil
}

// Approve 审批通过，关联的工时保持锁定
func (s *Service) Approve(ctx context.Context, actorID, approvalID int, comments *string) (*model.TimesheetApproval, error) {
	return s.review(ctx, "approve", actorID, approvalID, comments)
}

// Reject 驳回，解除所有关联工时的 approval_id 以便修改后重新提交
func (s *Service) Reject(ctx context.Context, actorID, approvalID int, comments *string) (*model.TimesheetApproval, error) {
	return s.review(ctx, "reject", actorID, approvalID, comments)
}

func (s *Service) review(ctx context.Context, op string, actorID, approvalID int, comments *string) (*model.TimesheetApproval, error) {
	actorRole, err := s.directory.RoleOf(ctx, actorID)
	if err != nil {
		return nil, s.refused(op, err)
	}
	actorGroup, err := s.directory.GroupOf(ctx, actorID)
	if err != nil {
		return nil, s.refused(op, err)
	}

	target := model.ApprovalApproved
	routingKey := contracts.RoutingKeyTimesheetApproved
	if op == "reject" {
		target = model.ApprovalRejected
		routingKey = contracts.RoutingKeyTimesheetRejected
	}

	var result *model.TimesheetApproval
	var unlinked []int

	err = s.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.GetForUpdate(ctx, approvalID)
		if err != nil {
			return err
		}

		targetGroup, err := s.directory.GroupOf(ctx, current.UserID)
		if err != nil {
			return err
		}
		if !rbac.CanReview(actorRole, actorGroup, targetGroup) {
			return ErrForbidden
		}
		if current.Status != model.ApprovalPending {
			return &StateError{Current: current.Status}
		}

		now := s.now()
		a := *current
		a.Status = target
		a.ValidatorID = &actorID
		a.ReviewedAt = &now
		a.Comments = comments
		a.UpdatedAt = now
		if err := tx.UpdateStatus(ctx, &a, model.ApprovalPending); err != nil {
			return err
		}

		if target == model.ApprovalRejected {
			unlinked, err = tx.UnlinkEntries(ctx, a.ID)
			if err != nil {
				return fmt.Errorf("failed to unlink entries: %w", err)
			}
		}

		result = &a
		return tx.AddEvent(ctx, routingKey, a.ID, s.eventPayload(ctx, &a))
	})
	if err != nil {
		return nil, s.refused(op, err)
	}

	metrics.IncrementApprovalTransition(op)
	s.logger.Info("Timesheet reviewed",
		zap.String("operation", op),
		zap.Int("approval_id", result.ID),
		zap.Int("user_id", result.UserID),
		zap.Int("validator_id", actorID),
		zap.String("actor_role", string(actorRole)),
		zap.Int("entries_unlinked", len(unlinked)),
		zap.String("trace_id", trace.FromContext(ctx)),
	)
	return result, nil
}

// List 按角色范围列出审批记录；审核角色未指定状态时只看 PENDING，员工看自己的全部
func (s *Service) List(ctx context.Context, actorID int, status *model.ApprovalStatus) ([]model.TimesheetApproval, error) {
	scope, err := s.scopeOf(ctx, actorID)
	if err != nil {
		return nil, s.refused("list", err)
	}

	if status == nil && scope.Kind != rbac.ScopeOwn {
		pending := model.ApprovalPending
		status = &pending
	}

	list, err := s.store.ListByFilter(ctx, scope, status)
	if err != nil {
		return nil, s.refused("list", err)
	}

	s.logger.Debug("Approvals listed",
		zap.Int("actor_id", actorID),
		zap.Int("scope", int(scope.Kind)),
		zap.Int("count", len(list)),
	)
	return list, nil
}

// Get 读取单条审批记录，可见性与 List 相同，本人的记录总是可见
func (s *Service) Get(ctx context.Context, actorID, approvalID int) (*model.TimesheetApproval, error) {
	a, err := s.store.Get(ctx, approvalID)
	if err != nil {
		return nil, s.refused("get", err)
	}
	if a.UserID == actorID {
		return a, nil
	}

	scope, err := s.scopeOf(ctx, actorID)
	if err != nil {
		return nil, s.refused("get", err)
	}
	targetGroup, err := s.directory.GroupOf(ctx, a.UserID)
	if err != nil {
		return nil, s.refused("get", err)
	}
	if !scope.CanView(a.UserID, targetGroup) {
		return nil, s.refused("get", ErrForbidden)
	}
	return a, nil
}

func (s *Service) scopeOf(ctx context.Context, actorID int) (rbac.Scope, error) {
	role, err := s.directory.RoleOf(ctx, actorID)
	if err != nil {
		return rbac.Scope{}, err
	}
	group, err := s.directory.GroupOf(ctx, actorID)
	if err != nil {
		return rbac.Scope{}, err
	}
	return rbac.ListScope(actorID, role, group), nil
}

func (s *Service) eventPayload(ctx context.Context, a *model.TimesheetApproval) contracts.TimesheetEventPayload {
	return contracts.TimesheetEventPayload{
		ApprovalID:  a.ID,
		UserID:      a.UserID,
		ValidatorID: a.ValidatorID,
		Status:      string(a.Status),
		WeekStart:   a.WeekStart.Format(model.DateLayout),
		WeekEnd:     a.WeekEnd.Format(model.DateLayout),
		TotalHours:  a.TotalHours,
		Comments:    a.Comments,
		OccurredAt:  s.now(),
		TraceID:     trace.FromContext(ctx),
	}
}

// refused 记录被拒绝的操作，返回原错误
func (s *Service) refused(op string, err error) error {
	kind := Kind(err)
	metrics.IncrementApprovalRefused(op, kind)
	if kind == "internal" {
		s.logger.Error("Approval operation failed", zap.String("operation", op), zap.Error(err))
	} else {
		s.logger.Warn("Approval operation refused",
			zap.String("operation", op),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	return err
}
