package mq

import "time"

// 工时单事件的 routing key
const (
	RoutingKeyTimesheetSubmitted = "timesheet.submitted"
	RoutingKeyTimesheetApproved  = "timesheet.approved"
	RoutingKeyTimesheetRejected  = "timesheet.rejected"
)

// TimesheetEventPayload 工时单状态流转事件
type TimesheetEventPayload struct {
	ApprovalID  int       `json:"approval_id"`
	UserID      int       `json:"user_id"`
	ValidatorID *int      `json:"validator_id,omitempty"`
	Status      string    `json:"status"`
	WeekStart   string    `json:"week_start"`
	WeekEnd     string    `json:"week_end"`
	TotalHours  float64   `json:"total_hours"`
	Comments    *string   `json:"comments,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}
