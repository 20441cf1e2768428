package insights

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"timetrack/internal/analytics"
	"timetrack/internal/model"
	"timetrack/pkg/metrics"
)

// historyDays 评分和建议读取的历史窗口
const historyDays = 365

// MaxRangeDays 自定义区间最多的天数，每一天都会生成一个数据点
const MaxRangeDays = 366

// ErrRangeTooLong 自定义区间超过 MaxRangeDays
var ErrRangeTooLong = fmt.Errorf("date range is longer than %d days", MaxRangeDays)

// EntrySource 读取工时和项目名
type EntrySource interface {
	ListEntries(ctx context.Context, userID int, r model.DateRange) ([]model.TimeEntry, error)
	ProjectNames(ctx context.Context) (map[int]string, error)
}

// Cache 统计结果缓存
type Cache interface {
	Get(ctx context.Context, userID int, name string, dest any) bool
	Set(ctx context.Context, userID int, name string, value any)
}

// Service 读取工时后调用统计引擎，结果按用户缓存
type Service struct {
	entries  EntrySource
	cache    Cache
	logger   *zap.Logger
	goal     float64
	location *time.Location
	now      func() time.Time
}

// Option Service 可选项
type Option func(*Service)

// WithClock 替换当前时间来源
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation 统计使用的时区
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithWeeklyGoal 默认每周目标工时
func WithWeeklyGoal(hours float64) Option {
	return func(s *Service) {
		if hours > 0 {
			s.goal = hours
		}
	}
}

func NewService(entries EntrySource, cache Cache, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		entries:  entries,
		cache:    cache,
		logger:   logger,
		goal:     analytics.DefaultWeeklyGoalHours,
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().In(s.location)
}

// Dashboard 当前周（周一开始）或当月的汇总，附带与上一周期的对比
func (s *Service) Dashboard(ctx context.Context, userID int, period analytics.Period) (*analytics.Summary, error) {
	r := analytics.PeriodRange(period, s.clock())
	return s.summarize(ctx, userID, string(period), r, analytics.PreviousRange(period, r))
}

// DashboardRange 自定义区间的汇总，上一周期为等长的前一段
func (s *Service) DashboardRange(ctx context.Context, userID int, r model.DateRange) (*analytics.Summary, error) {
	if r.Days() == 0 {
		return nil, fmt.Errorf("invalid range %s..%s", r.Start.Format(model.DateLayout), r.End.Format(model.DateLayout))
	}
	if r.Days() > MaxRangeDays {
		return nil, ErrRangeTooLong
	}
	name := r.Start.Format(model.DateLayout) + ":" + r.End.Format(model.DateLayout)
	return s.summarize(ctx, userID, name, r, analytics.PreviousRange("", r))
}

func (s *Service) summarize(ctx context.Context, userID int, name string, r, prev model.DateRange) (*analytics.Summary, error) {
	start := time.Now()
	cacheKey := "dashboard:" + name + ":" + r.Start.Format(model.DateLayout)

	var cached analytics.Summary
	if s.cache != nil && s.cache.Get(ctx, userID, cacheKey, &cached) {
		metrics.RecordAnalyticsCompute("aggregate", true, time.Since(start))
		return &cached, nil
	}

	entries, err := s.entries.ListEntries(ctx, userID, model.DateRange{Start: prev.Start, End: r.End})
	if err != nil {
		s.logger.Error("Failed to load entries for dashboard", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}
	names, err := s.entries.ProjectNames(ctx)
	if err != nil {
		return nil, err
	}

	summary := analytics.Summarize(entries, entries, r, prev, names)
	if s.cache != nil {
		s.cache.Set(ctx, userID, cacheKey, summary)
	}
	metrics.RecordAnalyticsCompute("aggregate", false, time.Since(start))
	return &summary, nil
}

// Productivity 本周（周日开始）的生产力评分，goal<=0 时使用默认目标
func (s *Service) Productivity(ctx context.Context, userID int, goal float64) (*analytics.Productivity, error) {
	start := time.Now()
	if goal <= 0 {
		goal = s.goal
	}
	now := s.clock()
	cacheKey := fmt.Sprintf("productivity:%s:%g", model.DateOf(now).Format(model.DateLayout), goal)

	var cached analytics.Productivity
	if s.cache != nil && s.cache.Get(ctx, userID, cacheKey, &cached) {
		metrics.RecordAnalyticsCompute("productivity", true, time.Since(start))
		return &cached, nil
	}

	entries, err := s.history(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	p := analytics.Score(entries, goal, now)
	if s.cache != nil {
		s.cache.Set(ctx, userID, cacheKey, p)
	}
	metrics.RecordAnalyticsCompute("productivity", false, time.Since(start))
	s.logger.Debug("Productivity computed",
		zap.Int("user_id", userID),
		zap.Int("score", p.Score),
		zap.String("grade", p.Grade),
	)
	return &p, nil
}

// Suggestions 当前星期几和小时最可能记录的项目
func (s *Service) Suggestions(ctx context.Context, userID int) ([]analytics.Suggestion, error) {
	start := time.Now()
	now := s.clock()
	cacheKey := fmt.Sprintf("suggestions:%s:%02d", model.DateOf(now).Format(model.DateLayout), now.Hour())

	var cached []analytics.Suggestion
	if s.cache != nil && s.cache.Get(ctx, userID, cacheKey, &cached) {
		metrics.RecordAnalyticsCompute("suggest", true, time.Since(start))
		return cached, nil
	}

	entries, err := s.history(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	names, err := s.entries.ProjectNames(ctx)
	if err != nil {
		return nil, err
	}

	suggestions := analytics.Suggest(entries, names, now)
	if s.cache != nil {
		s.cache.Set(ctx, userID, cacheKey, suggestions)
	}
	metrics.RecordAnalyticsCompute("suggest", false, time.Since(start))
	return suggestions, nil
}

func (s *Service) history(ctx context.Context, userID int, now time.Time) ([]model.TimeEntry, error) {
	today := model.DateOf(now)
	r := model.DateRange{Start: today.AddDate(0, 0, -historyDays), End: today.AddDate(0, 0, 6)}
	entries, err := s.entries.ListEntries(ctx, userID, r)
	if err != nil {
		s.logger.Error("Failed to load entry history", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}
	return entries, nil
}
