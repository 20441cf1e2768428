package model

import "time"

// ApprovalStatus 工时单审批状态
type ApprovalStatus string

const (
	ApprovalDraft    ApprovalStatus = "DRAFT"
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ParseApprovalStatus 解析状态字符串
func ParseApprovalStatus(s string) (ApprovalStatus, bool) {
	switch st := ApprovalStatus(s); st {
	case ApprovalDraft, ApprovalPending, ApprovalApproved, ApprovalRejected:
		return st, true
	}
	return "", false
}

// Locks 该状态下关联的工时是否被锁定
func (s ApprovalStatus) Locks() bool {
	return s == ApprovalPending || s == ApprovalApproved
}

// TimesheetApproval 某用户某一周的工时审批记录
type TimesheetApproval struct {
	ID          int            `json:"id"`
	UserID      int            `json:"user_id"`
	ValidatorID *int           `json:"validator_id,omitempty"`
	WeekStart   time.Time      `json:"week_start"`
	WeekEnd     time.Time      `json:"week_end"`
	TotalHours  float64        `json:"total_hours"`
	Status      ApprovalStatus `json:"status"`
	Comments    *string        `json:"comments,omitempty"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
