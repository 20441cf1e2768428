package model

import (
	"fmt"
	"time"
)

// DateLayout 日期的文本格式（无时分秒）
const DateLayout = "2006-01-02"

// MaxDurationMinutes 单条工时上限（一天）
const MaxDurationMinutes = 1440

// TimeEntry 工时记录
type TimeEntry struct {
	ID              int        `json:"id"`
	UserID          int        `json:"user_id"`
	ProjectID       *int       `json:"project_id,omitempty"`
	Date            time.Time  `json:"date"`
	DurationMinutes int        `json:"duration_minutes"`
	Description     *string    `json:"description,omitempty"`
	Billable        bool       `json:"billable"`
	ApprovalID      *int       `json:"approval_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"` // 计时器开始时间，手动录入为空
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Validate 校验工时字段
func (e *TimeEntry) Validate() error {
	if e.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if e.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if e.DurationMinutes < 0 || e.DurationMinutes > MaxDurationMinutes {
		return fmt.Errorf("duration_minutes must be between 0 and %d, got %d", MaxDurationMinutes, e.DurationMinutes)
	}
	return nil
}

// Hours 工时（小时）
func (e *TimeEntry) Hours() float64 {
	return float64(e.DurationMinutes) / 60
}

const secondsPerDay = 24 * 60 * 60

// DateOf 取日历日（UTC 零点），丢弃时分秒
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate 解析 YYYY-MM-DD
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// DateRange 闭区间 [Start, End]，均为日历日
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange 规范化为日历日
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: DateOf(start), End: DateOf(end)}
}

// Days 区间包含的天数，End 早于 Start 时为 0
func (r DateRange) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return DaysBetween(r.Start, r.End) + 1
}

// DaysBetween from 到 to 相隔的日历天数
// 按 Unix 秒计算，time.Duration 超过约 292 年会饱和
func DaysBetween(from, to time.Time) int {
	return int((DateOf(to).Unix() - DateOf(from).Unix()) / secondsPerDay)
}

// Contains 判断日期是否落在区间内
func (r DateRange) Contains(t time.Time) bool {
	d := DateOf(t)
	return !d.Before(r.Start) && !d.After(r.End)
}
