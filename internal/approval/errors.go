package approval

import (
	"errors"
	"fmt"

	"timetrack/internal/model"
)

// 审批流程的错误类型，调用方用 errors.Is 判断
var (
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid approval state")
	ErrAlreadySubmitted = errors.New("timesheet already submitted for this week")
	ErrAlreadyApproved  = errors.New("timesheet already approved for this week")
	ErrNoEntries        = errors.New("no time entries in this week")
	ErrNotFound         = errors.New("not found")
	ErrInvalidWeek      = errors.New("a timesheet week must run from Monday to Sunday")
	ErrEntryLocked      = errors.New("time entry is linked to a pending or approved timesheet")

	// ErrConcurrentUpdate 状态 CAS 失败：记录在读取后被其他事务修改
	ErrConcurrentUpdate = errors.New("approval was modified concurrently")
)

// StateError 非法状态流转，携带当前状态
type StateError struct {
	Current model.ApprovalStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid approval state: current status is %s", e.Current)
}

// Is 让 errors.Is(err, ErrInvalidState) 成立
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// Kind 错误类型名，用于指标标签和日志
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, ErrAlreadyApproved):
		return "already_approved"
	case errors.Is(err, ErrNoEntries):
		return "no_entries"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidWeek):
		return "invalid_week"
	case errors.Is(err, ErrEntryLocked):
		return "entry_locked"
	case errors.Is(err, ErrConcurrentUpdate):
		return "concurrent_update"
	default:
		return "internal"
	}
}
