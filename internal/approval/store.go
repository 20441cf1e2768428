package approval

import (
	"context"
	"time"

	"timetrack/internal/model"
	"timetrack/pkg/rbac"
)

// Tx 事务内的仓储操作；InTx 保证整个读-检查-写序列的原子性
type Tx interface {
	// FindByUserAndWeek 查找并锁定 (user, week_start) 的审批记录，不存在时返回 nil, nil
	FindByUserAndWeek(ctx context.Context, userID int, weekStart time.Time) (*model.TimesheetApproval, error)
	// GetForUpdate 按 ID 读取并锁定审批记录，不存在返回 ErrNotFound
	GetForUpdate(ctx context.Context, id int) (*model.TimesheetApproval, error)
	// Insert 插入新记录并回填 ID/CreatedAt；同一周已有记录时返回 ErrAlreadySubmitted
	Insert(ctx context.Context, a *model.TimesheetApproval) error
	// UpdateStatus 仅当当前状态等于 from 时写入 a，否则返回 ErrConcurrentUpdate
	UpdateStatus(ctx context.Context, a *model.TimesheetApproval, from model.ApprovalStatus) error

	ListEntries(ctx context.Context, userID int, r model.DateRange) ([]model.TimeEntry, error)
	UpdateApprovalLink(ctx context.Context, entryIDs []int, approvalID *int) error
	// UnlinkEntries 清空所有 approval_id 等于给定值的工时，返回被解绑的工时 ID
	UnlinkEntries(ctx context.Context, approvalID int) ([]int, error)

	// AddEvent 在同一事务中写入 outbox 事件
	AddEvent(ctx context.Context, routingKey string, approvalID int, payload any) error
}

// Store 审批仓储
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Get(ctx context.Context, id int) (*model.TimesheetApproval, error)
	// ListByFilter 按可见范围和状态过滤，按创建时间倒序
	ListByFilter(ctx context.Context, scope rbac.Scope, status *model.ApprovalStatus) ([]model.TimesheetApproval, error)
}

// Directory 用户角色与分组查询
type Directory interface {
	RoleOf(ctx context.Context, userID int) (rbac.Role, error)
	GroupOf(ctx context.Context, userID int) (*int, error)
}

// SumDuration 工时总分钟数
func SumDuration(entries []model.TimeEntry) int {
	total := 0
	for _, e := range entries {
		total += e.DurationMinutes
	}
	return total
}

// CheckEntryMutable 工时关联到待审或已通过的审批时不可修改或删除
// linked 为 entry.ApprovalID 指向的审批记录，不存在时传 nil
func CheckEntryMutable(entry *model.TimeEntry, linked *model.TimesheetApproval) error {
	if entry.ApprovalID == nil || linked == nil {
		return nil
	}
	if linked.Status.Locks() {
		return ErrEntryLocked
	}
	return nil
}
