package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"timetrack/internal/model"
)

// 建议引擎的固定参数
const (
	dayWeight       = 0.4
	hourWeight      = 0.3
	frequencyWeight = 0.3

	minConfidence  = 0.2
	maxSuggestions = 5

	strongDayCount   = 3 // 同一星期几出现超过 3 次
	strongHourCount  = 2 // 同一小时出现超过 2 次
	frequentProjects = 5
)

// Pattern 某个项目的历史规律
type Pattern struct {
	ProjectID    int
	Count        int
	TotalMinutes int
	AvgMinutes   float64
	DayCounts    [7]int
	HourCounts   [24]int
}

// Suggestion 推荐记录的项目
type Suggestion struct {
	ProjectID         int     `json:"project_id"`
	ProjectName       string  `json:"project_name"`
	Confidence        float64 `json:"confidence"`
	SuggestedDuration int     `json:"suggested_duration"`
	Reason            string  `json:"reason"`
}

// EntryHour 工时开始的小时：优先计时器开始时间，其次创建时间
func EntryHour(e model.TimeEntry, loc *time.Location) int {
	switch {
	case e.StartedAt != nil:
		return e.StartedAt.In(loc).Hour()
	case !e.CreatedAt.IsZero():
		return e.CreatedAt.In(loc).Hour()
	default:
		return 0
	}
}

// BuildPatterns 按项目首次出现的顺序统计规律，没有项目的工时忽略
func BuildPatterns(entries []model.TimeEntry, loc *time.Location) []Pattern {
	index := make(map[int]int)
	var patterns []Pattern

	for _, e := range entries {
		if e.ProjectID == nil {
			continue
		}
		i, ok := index[*e.ProjectID]
		if !ok {
			i = len(patterns)
			index[*e.ProjectID] = i
			patterns = append(patterns, Pattern{ProjectID: *e.ProjectID})
		}
		p := &patterns[i]
		p.Count++
		p.TotalMinutes += e.DurationMinutes
		p.DayCounts[e.Date.Weekday()]++
		p.HourCounts[EntryHour(e, loc)]++
	}

	for i := range patterns {
		patterns[i].AvgMinutes = float64(patterns[i].TotalMinutes) / float64(patterns[i].Count)
	}
	return patterns
}

// Confidence 0.4*星期匹配 + 0.3*小时匹配 + 0.3*项目占比，分母为 0 时对应项为 0
func (p Pattern) Confidence(day, hour, totalCount int) float64 {
	return dayWeight*ratio(p.DayCounts[day], maxOf(p.DayCounts[:])) +
		hourWeight*ratio(p.HourCounts[hour], maxOf(p.HourCounts[:])) +
		frequencyWeight*ratio(p.Count, totalCount)
}

// Rank 对 day(0-6, 周日为 0) 和 hour(0-23) 排序候选项目，最多返回 5 个
func Rank(patterns []Pattern, names map[int]string, day, hour int) []Suggestion {
	if day < 0 || day > 6 || hour < 0 || hour > 23 {
		return []Suggestion{}
	}

	totalCount := 0
	for _, p := range patterns {
		totalCount += p.Count
	}

	type scored struct {
		s   Suggestion
		raw float64
	}
	var candidates []scored
	for _, p := range patterns {
		c := p.Confidence(day, hour, totalCount)
		if c <= minConfidence {
			continue
		}
		name := names[p.ProjectID]
		if name == "" {
			name = fmt.Sprintf("Project %d", p.ProjectID)
		}
		candidates = append(candidates, scored{
			raw: c,
			s: Suggestion{
				ProjectID:         p.ProjectID,
				ProjectName:       name,
				Confidence:        round2(c),
				SuggestedDuration: roundToQuarter(p.AvgMinutes),
				Reason:            reason(p, name, day, hour),
			},
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].raw > candidates[j].raw
	})

	out := make([]Suggestion, 0, maxSuggestions)
	for i := 0; i < len(candidates) && i < maxSuggestions; i++ {
		out = append(out, candidates[i].s)
	}
	return out
}

// Suggest 根据历史工时给出 at 时刻最可能记录的项目
func Suggest(entries []model.TimeEntry, names map[int]string, at time.Time) []Suggestion {
	patterns := BuildPatterns(entries, at.Location())
	return Rank(patterns, names, int(at.Weekday()), at.Hour())
}

func reason(p Pattern, name string, day, hour int) string {
	strongDay := p.DayCounts[day] > strongDayCount
	strongHour := p.HourCounts[hour] > strongHourCount
	weekday := time.Weekday(day).String()

	switch {
	case strongDay && strongHour:
		return fmt.Sprintf("You usually work on %s on %ss around %02d:00", name, weekday, hour)
	case strongDay:
		return fmt.Sprintf("You often work on %s on %ss", name, weekday)
	case strongHour:
		return fmt.Sprintf("You often work on %s around %02d:00", name, hour)
	case p.Count > frequentProjects:
		return fmt.Sprintf("%s is one of your most frequent projects", name)
	default:
		return "Based on your recent activity"
	}
}

// roundToQuarter 四舍五入到 15 分钟
func roundToQuarter(minutes float64) int {
	return int(math.Round(minutes/15)) * 15
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func maxOf(counts []int) int {
	m := 0
	for _, c := range counts {
		if c > m {
			m = c
		}
	}
	return m
}
