package entry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"timetrack/internal/approval"
	"timetrack/internal/model"
)

// ErrInvalidEntry 工时字段不合法
var ErrInvalidEntry = errors.New("invalid time entry")

// Repository 工时仓储
type Repository interface {
	GetEntry(ctx context.Context, id int) (*model.TimeEntry, error)
	// CreateEntry 与提交互斥：日期所在周已待审或已通过时返回 approval.ErrEntryLocked
	CreateEntry(ctx context.Context, e *model.TimeEntry) error
	// UpdateEntry 存储中的 approval_id 与 e.ApprovalID 不一致，或新日期所在周已被锁定时返回 approval.ErrEntryLocked
	UpdateEntry(ctx context.Context, e *model.TimeEntry) error
	DeleteEntry(ctx context.Context, id int, linkedTo *int) error
}

// ApprovalReader 读取工时关联的审批
type ApprovalReader interface {
	Get(ctx context.Context, id int) (*model.TimesheetApproval, error)
}

// Invalidator 工时变更后让用户的统计缓存失效
type Invalidator interface {
	Invalidate(ctx context.Context, userID int)
}

// Input 创建或修改工时的字段
type Input struct {
	ProjectID       *int
	Date            time.Time
	DurationMinutes int
	Description     *string
	Billable        bool
}

// Service 工时录入：只能修改自己的、未被待审或已通过审批锁定的工时
type Service struct {
	repo      Repository
	approvals ApprovalReader
	cache     Invalidator
	logger    *zap.Logger
}

func NewService(repo Repository, approvals ApprovalReader, cache Invalidator, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		approvals: approvals,
		cache:     cache,
		logger:    logger,
	}
}

// Create 手动录入工时
func (s *Service) Create(ctx context.Context, userID int, in Input) (*model.TimeEntry, error) {
	e := &model.TimeEntry{
		UserID:          userID,
		ProjectID:       in.ProjectID,
		Date:            model.DateOf(in.Date),
		DurationMinutes: in.DurationMinutes,
		Description:     in.Description,
		Billable:        in.Billable,
	}
	return s.create(ctx, e)
}

// StopTimer 计时器停止时生成一条工时，时长按整分钟计，最多一天
func (s *Service) StopTimer(ctx context.Context, userID int, projectID *int, startedAt, stoppedAt time.Time, description *string, billable bool) (*model.TimeEntry, error) {
	if stoppedAt.Before(startedAt) {
		return nil, fmt.Errorf("%w: stopped_at is before started_at", ErrInvalidEntry)
	}
	minutes := int(stoppedAt.Sub(startedAt) / time.Minute)
	if minutes > model.MaxDurationMinutes {
		minutes = model.MaxDurationMinutes
	}

	e := &model.TimeEntry{
		UserID:          userID,
		ProjectID:       projectID,
		Date:            model.DateOf(startedAt),
		DurationMinutes: minutes,
		Description:     description,
		Billable:        billable,
		StartedAt:       &startedAt,
	}
	return s.create(ctx, e)
}

func (s *Service) create(ctx context.Context, e *model.TimeEntry) (*model.TimeEntry, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if err := s.repo.CreateEntry(ctx, e); err != nil {
		if !errors.Is(err, approval.ErrEntryLocked) {
			s.logger.Error("Failed to create time entry", zap.Int("user_id", e.UserID), zap.Error(err))
		}
		return nil, err
	}

	s.invalidate(ctx, e.UserID)
	s.logger.Info("Time entry created",
		zap.Int("entry_id", e.ID),
		zap.Int("user_id", e.UserID),
		zap.Int("duration_minutes", e.DurationMinutes),
		zap.Bool("from_timer", e.StartedAt != nil),
	)
	return e, nil
}

// Update 修改工时，关联到 PENDING/APPROVED 审批的工时返回 ErrEntryLocked
func (s *Service) Update(ctx context.Context, userID, entryID int, in Input) (*model.TimeEntry, error) {
	current, err := s.loadOwned(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if err := s.checkMutable(ctx, current); err != nil {
		return nil, err
	}

	updated := *current
	updated.ProjectID = in.ProjectID
	updated.Date = model.DateOf(in.Date)
	updated.DurationMinutes = in.DurationMinutes
	updated.Description = in.Description
	updated.Billable = in.Billable
	if err := updated.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if err := s.repo.UpdateEntry(ctx, &updated); err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	s.logger.Info("Time entry updated", zap.Int("entry_id", entryID), zap.Int("user_id", userID))
	return &updated, nil
}

// Delete 删除工时，规则同 Update
func (s *Service) Delete(ctx context.Context, userID, entryID int) error {
	current, err := s.loadOwned(ctx, userID, entryID)
	if err != nil {
		return err
	}
	if err := s.checkMutable(ctx, current); err != nil {
		return err
	}
	if err := s.repo.DeleteEntry(ctx, entryID, current.ApprovalID); err != nil {
		return err
	}

	s.invalidate(ctx, userID)
	s.logger.Info("Time entry deleted", zap.Int("entry_id", entryID), zap.Int("user_id", userID))
	return nil
}

func (s *Service) loadOwned(ctx context.Context, userID, entryID int) (*model.TimeEntry, error) {
	e, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, approval.ErrForbidden
	}
	return e, nil
}

func (s *Service) checkMutable(ctx context.Context, e *model.TimeEntry) error {
	if e.ApprovalID == nil {
		return nil
	}
	linked, err := s.approvals.Get(ctx, *e.ApprovalID)
	if errors.Is(err, approval.ErrNotFound) {
		linked = nil
	} else if err != nil {
		return err
	}
	return approval.CheckEntryMutable(e, linked)
}

func (s *Service) invalidate(ctx context.Context, userID int) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
}
