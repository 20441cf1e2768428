package analytics

import (
	"math"
	"time"

	"timetrack/internal/model"
)

// DefaultWeeklyGoalHours 默认每周目标工时
const DefaultWeeklyGoalHours = 40

// TrendDirection 周工时趋势
type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

// Productivity 生产力评分结果
type Productivity struct {
	Score              int            `json:"score"`
	Grade              string         `json:"grade"`
	WeeklyHours        float64        `json:"weekly_hours"`
	GoalHours          float64        `json:"goal_hours"`
	CompletionRate     int            `json:"completion_rate"`
	BillablePercentage int            `json:"billable_percentage"`
	Streak             int            `json:"streak"`
	Trend              TrendDirection `json:"trend"`
}

// SundayWeekStart 以周日为一周开始
func SundayWeekStart(t time.Time) time.Time {
	d := model.DateOf(t)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// Score 根据全部历史工时计算本周生产力评分，now 决定“本周”和“今天”
func Score(entries []model.TimeEntry, goalHours float64, now time.Time) Productivity {
	if goalHours <= 0 {
		goalHours = DefaultWeeklyGoalHours
	}

	weekStart := SundayWeekStart(now)
	thisWeek := model.DateRange{Start: weekStart, End: weekStart.AddDate(0, 0, 6)}
	lastWeek := model.DateRange{Start: weekStart.AddDate(0, 0, -7), End: weekStart.AddDate(0, 0, -1)}

	total, billable := sumMinutes(filterRange(entries, thisWeek))
	prevTotal, _ := sumMinutes(filterRange(entries, lastWeek))

	weeklyHours := float64(total) / 60
	completionRate := int(math.Round(math.Min(weeklyHours/goalHours*100, 100)))

	billablePct := 0
	if total > 0 {
		billablePct = int(math.Round(float64(billable) / float64(total) * 100))
	}

	streak := Streak(entries, now)
	trend := WeekTrend(weeklyHours, float64(prevTotal)/60)
	score := scoreOf(completionRate, billablePct, streak, trend)

	return Productivity{
		Score:              score,
		Grade:              Grade(score),
		WeeklyHours:        round1(weeklyHours),
		GoalHours:          goalHours,
		CompletionRate:     completionRate,
		BillablePercentage: billablePct,
		Streak:             streak,
		Trend:              trend,
	}
}

// scoreOf 完成率 50%，计费占比 25%，连续天数最多 15 分，趋势加分 10/5/0
func scoreOf(completionRate, billablePct, streak int, trend TrendDirection) int {
	score := float64(completionRate)*0.5 + float64(billablePct)*0.25 + math.Min(float64(streak*5), 15)
	switch trend {
	case TrendUp:
		score += 10
	case TrendStable:
		score += 5
	}
	return int(math.Round(math.Max(0, math.Min(score, 100))))
}

// Grade 分数对应的等级
func Grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

// WeekTrend 与上周相比变化超过上周的 10% 记为 up/down；上周为 0 时任何正工时都是 up
func WeekTrend(current, previous float64) TrendDirection {
	threshold := previous * 0.1
	switch {
	case current-previous > threshold:
		return TrendUp
	case previous-current > threshold:
		return TrendDown
	default:
		return TrendStable
	}
}

// Streak 从最近一次记录的日期向前数连续有记录的天数；最近一次早于昨天则为 0
func Streak(entries []model.TimeEntry, now time.Time) int {
	if len(entries) == 0 {
		return 0
	}

	days := make(map[time.Time]struct{}, len(entries))
	var latest time.Time
	for _, e := range entries {
		d := model.DateOf(e.Date)
		days[d] = struct{}{}
		if d.After(latest) {
			latest = d
		}
	}

	today := model.DateOf(now)
	if model.DaysBetween(latest, today) > 1 {
		return 0
	}

	streak := 0
	for d := latest; ; d = d.AddDate(0, 0, -1) {
		if _, ok := days[d]; !ok {
			break
		}
		streak++
	}
	return streak
}
