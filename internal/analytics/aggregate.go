package analytics

import (
	"math"
	"sort"
	"strconv"
	"time"

	"timetrack/internal/model"
)

// UnassignedLabel 无项目或项目无法解析时的分组名
const UnassignedLabel = "Unassigned"

// Period 统计周期
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod 解析周期参数，未知值回退到 week
func ParsePeriod(s string) Period {
	if Period(s) == PeriodMonth {
		return PeriodMonth
	}
	return PeriodWeek
}

// DayHours 某一天的工时
type DayHours struct {
	Date  string  `json:"date"`
	Hours float64 `json:"hours"`
}

// ProjectHours 某个项目的工时
type ProjectHours struct {
	ProjectID *int    `json:"project_id,omitempty"`
	Name      string  `json:"name"`
	Hours     float64 `json:"hours"`
}

// Summary 某个时间段的汇总
type Summary struct {
	Range           model.DateRange `json:"range"`
	TotalHours      float64         `json:"total_hours"`
	BillableHours   float64         `json:"billable_hours"`
	AvgHoursPerDay  float64         `json:"avg_hours_per_day"`
	PreviousHours   float64         `json:"previous_hours"`
	Trend           int             `json:"trend"`
	HoursPerDay     []DayHours      `json:"hours_per_day"`
	HoursPerProject []ProjectHours  `json:"hours_per_project"`
}

// WeekRange 周一开始的自然周
func WeekRange(t time.Time) model.DateRange {
	d := model.DateOf(t)
	offset := (int(d.Weekday()) + 6) % 7
	start := d.AddDate(0, 0, -offset)
	return model.DateRange{Start: start, End: start.AddDate(0, 0, 6)}
}

// MonthRange 自然月
func MonthRange(t time.Time) model.DateRange {
	d := model.DateOf(t)
	start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	return model.DateRange{Start: start, End: start.AddDate(0, 1, -1)}
}

// PeriodRange now 所在的完整周期
func PeriodRange(p Period, now time.Time) model.DateRange {
	if p == PeriodMonth {
		return MonthRange(now)
	}
	return WeekRange(now)
}

// PreviousRange 紧邻的上一个周期：月取上一个自然月，其他区间按自身长度前移
func PreviousRange(p Period, r model.DateRange) model.DateRange {
	if p == PeriodMonth {
		return MonthRange(r.Start.AddDate(0, 0, -1))
	}
	days := r.Days()
	return model.DateRange{
		Start: r.Start.AddDate(0, 0, -days),
		End:   r.Start.AddDate(0, 0, -1),
	}
}

// HoursPerDay 区间内每一天的工时，没有记录的日期为 0
func HoursPerDay(entries []model.TimeEntry, r model.DateRange) []DayHours {
	days := r.Days()
	minutes := make([]int, days)
	for _, e := range entries {
		if !r.Contains(e.Date) {
			continue
		}
		idx := model.DaysBetween(r.Start, e.Date)
		minutes[idx] += e.DurationMinutes
	}

	out := make([]DayHours, days)
	for i := range out {
		out[i] = DayHours{
			Date:  r.Start.AddDate(0, 0, i).Format(model.DateLayout),
			Hours: round2(float64(minutes[i]) / 60),
		}
	}
	return out
}

// HoursPerProject 按项目汇总，按工时降序；names 中找不到的项目归入 Unassigned
func HoursPerProject(entries []model.TimeEntry, names map[int]string) []ProjectHours {
	type bucket struct {
		id      *int
		name    string
		minutes int
	}
	buckets := make(map[string]*bucket)
	var order []string

	for _, e := range entries {
		key := ""
		var id *int
		name := UnassignedLabel
		if e.ProjectID != nil {
			if n, ok := names[*e.ProjectID]; ok {
				pid := *e.ProjectID
				id = &pid
				name = n
				key = strconv.Itoa(pid)
			}
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{id: id, name: name}
			buckets[key] = b
			order = append(order, key)
		}
		b.minutes += e.DurationMinutes
	}

	out := make([]ProjectHours, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		out = append(out, ProjectHours{ProjectID: b.id, Name: b.name, Hours: round2(float64(b.minutes) / 60)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Hours > out[j].Hours
	})
	return out
}

// Trend 相对上一周期的变化百分比；上一周期为 0 时，本期有工时记 100，否则 0
func Trend(current, previous float64) int {
	if previous > 0 {
		return int(math.Round((current - previous) / previous * 100))
	}
	if current > 0 {
		return 100
	}
	return 0
}

// Summarize 汇总区间 r 的工时，previous 为上一周期的工时记录
func Summarize(entries, previous []model.TimeEntry, r, prevRange model.DateRange, names map[int]string) Summary {
	inRange := filterRange(entries, r)
	total, billable := sumMinutes(inRange)
	prevTotal, _ := sumMinutes(filterRange(previous, prevRange))

	totalHours := float64(total) / 60
	prevHours := float64(prevTotal) / 60

	avg := 0.0
	if days := r.Days(); days > 0 {
		avg = totalHours / float64(days)
	}

	return Summary{
		Range:           r,
		TotalHours:      round2(totalHours),
		BillableHours:   round2(float64(billable) / 60),
		AvgHoursPerDay:  round2(avg),
		PreviousHours:   round2(prevHours),
		Trend:           Trend(totalHours, prevHours),
		HoursPerDay:     HoursPerDay(inRange, r),
		HoursPerProject: HoursPerProject(inRange, names),
	}
}

func filterRange(entries []model.TimeEntry, r model.DateRange) []model.TimeEntry {
	out := make([]model.TimeEntry, 0, len(entries))
	for _, e := range entries {
		if r.Contains(e.Date) {
			out = append(out, e)
		}
	}
	return out
}

// sumMinutes 返回总分钟数和计费分钟数
func sumMinutes(entries []model.TimeEntry) (total, billable int) {
	for _, e := range entries {
		total += e.DurationMinutes
		if e.Billable {
			billable += e.DurationMinutes
		}
	}
	return total, billable
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
