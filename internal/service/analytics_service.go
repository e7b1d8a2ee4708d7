package service

import (
	"context"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/util"
	"exam_prep_backend/pkg/logger"
	"exam_prep_backend/pkg/monitoring"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	trendImproving = "improving"
	trendDeclining = "declining"
	trendStable    = "stable"

	// 趋势判定阈值（前后两半平均正确率之差）
	trendDelta = 0.05
	// 生成建议所需的最少作答数
	insightMinAnswers = 5
)

var (
	difficultyOrder = []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard}
	testTypeOrder   = []model.TestType{model.TestTypeMock, model.TestTypePractice, model.TestTypeSectional}
)

// AnalyticsStore 分析所需的只读查询
type AnalyticsStore interface {
	ListSubmittedAttempts(ctx context.Context, userID uint, since *time.Time) ([]model.AttemptRow, error)
	ListAnswerRows(ctx context.Context, userID uint, since *time.Time) ([]model.AnswerRow, error)
	SectionNames(ctx context.Context, ids []uint) (map[uint]string, error)
}

// StreakProvider 只读的连续练习状态来源，分析接口不应产生写入
type StreakProvider interface {
	PeekStreak(ctx context.Context, userID uint) (*model.StreakState, error)
}

type WeakSectionLister interface {
	ListWeakSections(ctx context.Context, userID uint, includeRecovered bool) ([]model.WeakSection, error)
}

// AnalyticsService 仪表盘统计。所有查询都不返回错误：内部失败记录日志后退化为空结果
type AnalyticsService struct {
	Store        AnalyticsStore
	Streaks      StreakProvider
	WeakSections WeakSectionLister
	Now          Clock
}

func NewAnalyticsService(store AnalyticsStore, streaks StreakProvider, weakSections WeakSectionLister) *AnalyticsService {
	return &AnalyticsService{
		Store:        store,
		Streaks:      streaks,
		WeakSections: weakSections,
		Now:          systemClock,
	}
}

type analyticsDataset struct {
	attempts []model.AttemptRow
	answers  []model.AnswerRow
}

// recovered 把 goroutine 内的 panic 转成错误返回给 errgroup
func recovered(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}
}

func (s *AnalyticsService) load(ctx context.Context, userID uint, rng util.DateRange) (*analyticsDataset, error) {
	ds := &analyticsDataset{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(recovered(func() error {
		rows, err := s.Store.ListSubmittedAttempts(gctx, userID, rng.Since)
		ds.attempts = rows
		return err
	}))
	g.Go(recovered(func() error {
		rows, err := s.Store.ListAnswerRows(gctx, userID, rng.Since)
		ds.answers = rows
		return err
	}))
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ds, nil
}

// guard 执行 fn，把错误和 panic 统一转成降级
func (s *AnalyticsService) guard(query string, userID uint, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.degrade(query, userID, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()
	if err := fn(); err != nil {
		s.degrade(query, userID, err)
		return false
	}
	return true
}

func (s *AnalyticsService) degrade(query string, userID uint, err error) {
	logger.Log.Warn("analytics query degraded to empty result",
		zap.String("query", query), zap.Uint("userID", userID), zap.Error(err))
	monitoring.AnalyticsDegraded.WithLabelValues(query).Inc()
}

func (s *AnalyticsService) GetOverview(ctx context.Context, userID uint, rng util.DateRange) model.AnalyticsOverview {
	result := emptyOverview(rng)
	s.guard("overview", userID, func() error {
		ds, err := s.load(ctx, userID, rng)
		if err != nil {
			return err
		}
		result = buildOverview(rng, ds)
		return nil
	})
	return result
}

func (s *AnalyticsService) GetAccuracyTrend(ctx context.Context, userID uint, rng util.DateRange) model.AccuracyTrend {
	result := emptyTrend(rng, s.Now())
	s.guard("trend", userID, func() error {
		ds, err := s.load(ctx, userID, rng)
		if err != nil {
			return err
		}
		result = buildTrend(rng, ds, s.Now())
		return nil
	})
	return result
}

func (s *AnalyticsService) GetDifficultyBreakdown(ctx context.Context, userID uint, rng util.DateRange) model.DifficultyBreakdown {
	result := buildDifficulty(rng, &analyticsDataset{})
	s.guard("difficulty", userID, func() error {
		ds, err := s.load(ctx, userID, rng)
		if err != nil {
			return err
		}
		result = buildDifficulty(rng, ds)
		return nil
	})
	return result
}

func (s *AnalyticsService) GetTestTypeComparison(ctx context.Context, userID uint, rng util.DateRange) model.TestTypeComparison {
	result := buildTestTypes(rng, &analyticsDataset{})
	s.guard("test_types", userID, func() error {
		ds, err := s.load(ctx, userID, rng)
		if err != nil {
			return err
		}
		result = buildTestTypes(rng, ds)
		return nil
	})
	return result
}

func (s *AnalyticsService) GetTimePerformance(ctx context.Context, userID uint, rng util.DateRange) model.TimePerformance {
	result := buildTimePerformance(rng, &analyticsDataset{})
	s.guard("time_performance", userID, func() error {
		ds, err := s.load(ctx, userID, rng)
		if err != nil {
			return err
		}
		result = buildTimePerformance(rng, ds)
		return nil
	})
	return result
}

func (s *AnalyticsService) GetInsights(ctx context.Context, userID uint, rng util.DateRange) model.Insights {
	return s.GetDashboard(ctx, userID, rng).Insights
}

// GetDashboard 数据只加载一次，连续天数与薄弱章节并发获取
func (s *AnalyticsService) GetDashboard(ctx context.Context, userID uint, rng util.DateRange) model.Dashboard {
	now := s.Now()
	empty := &analyticsDataset{}
	dash := model.Dashboard{
		Overview:        emptyOverview(rng),
		Trend:           emptyTrend(rng, now),
		Difficulty:      buildDifficulty(rng, empty),
		TestTypes:       buildTestTypes(rng, empty),
		TimePerformance: buildTimePerformance(rng, empty),
		Insights:        model.Insights{Range: rng.Preset, Items: []model.Insight{}},
	}

	var (
		ds     *analyticsDataset
		streak *model.StreakState
		weak   []model.WeakSection
	)

	loaded := s.guard("dashboard", userID, func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			ds, err = s.load(gctx, userID, rng)
			return err
		})
		// 建议的辅助数据缺失只是少几条建议
		g.Go(recovered(func() error {
			streak = s.streakFor(gctx, userID)
			return nil
		}))
		g.Go(recovered(func() error {
			weak = s.weakFor(gctx, userID)
			return nil
		}))
		return g.Wait()
	})
	if !loaded {
		return dash
	}

	s.guard("dashboard", userID, func() error {
		dash.Overview = buildOverview(rng, ds)
		dash.Trend = buildTrend(rng, ds, now)
		dash.Difficulty = buildDifficulty(rng, ds)
		dash.TestTypes = buildTestTypes(rng, ds)
		dash.TimePerformance = buildTimePerformance(rng, ds)
		return nil
	})

	s.guard("insights", userID, func() error {
		names := s.sectionNames(ctx, userID, weak)
		dash.Insights = buildInsights(rng, insightInputs{
			overview:     dash.Overview,
			trend:        dash.Trend,
			difficulty:   dash.Difficulty,
			timeOfDay:    dash.TimePerformance,
			streak:       streak,
			weakSections: weak,
			sectionNames: names,
		})
		return nil
	})
	return dash
}

func (s *AnalyticsService) streakFor(ctx context.Context, userID uint) *model.StreakState {
	if s.Streaks == nil {
		return nil
	}
	state, err := s.Streaks.PeekStreak(ctx, userID)
	if err != nil {
		logger.Log.Warn("streak unavailable for insights", zap.Uint("userID", userID), zap.Error(err))
		return nil
	}
	return state
}

func (s *AnalyticsService) weakFor(ctx context.Context, userID uint) []model.WeakSection {
	if s.WeakSections == nil {
		return nil
	}
	rows, err := s.WeakSections.ListWeakSections(ctx, userID, false)
	if err != nil {
		logger.Log.Warn("weak sections unavailable for insights", zap.Uint("userID", userID), zap.Error(err))
		return nil
	}
	return rows
}

func (s *AnalyticsService) sectionNames(ctx context.Context, userID uint, weak []model.WeakSection) map[uint]string {
	if len(weak) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(weak))
	for _, ws := range weak {
		ids = append(ids, ws.SectionID)
	}
	names, err := s.Store.SectionNames(ctx, ids)
	if err != nil {
		logger.Log.Warn("section names unavailable for insights", zap.Uint("userID", userID), zap.Error(err))
		return nil
	}
	return names
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func emptyOverview(rng util.DateRange) model.AnalyticsOverview {
	return model.AnalyticsOverview{Range: rng.Preset}
}

func buildOverview(rng util.DateRange, ds *analyticsDataset) model.AnalyticsOverview {
	out := emptyOverview(rng)
	days := make(map[string]struct{})
	var scoreSum float64
	for _, a := range ds.attempts {
		out.TotalAttempts++
		out.TotalQuestions += a.TotalQuestions
		out.CorrectAnswers += a.CorrectAnswers
		out.TotalTimeSeconds += a.TimeSpentSeconds
		scoreSum += a.Score
		days[util.FormatDate(a.SubmittedAt)] = struct{}{}
	}
	out.PracticeDays = len(days)
	out.Accuracy = ratio(out.CorrectAnswers, out.TotalQuestions)
	if out.TotalAttempts > 0 {
		out.AverageScore = scoreSum / float64(out.TotalAttempts)
	}
	return out
}

// emptyTrend 有界区间按天补零，all 区间没有数据点
func emptyTrend(rng util.DateRange, now time.Time) model.AccuracyTrend {
	points := []model.AccuracyPoint{}
	if rng.Since != nil {
		today := util.DateOf(now)
		for d := util.DateOf(*rng.Since); !d.After(today); d = util.AddDays(d, 1) {
			points = append(points, model.AccuracyPoint{Date: util.FormatDate(d)})
		}
	}
	return model.AccuracyTrend{Range: rng.Preset, Points: points, Trend: trendStable}
}

func buildTrend(rng util.DateRange, ds *analyticsDataset, now time.Time) model.AccuracyTrend {
	out := emptyTrend(rng, now)

	index := make(map[string]int, len(out.Points))
	for i, p := range out.Points {
		index[p.Date] = i
	}
	point := func(date string) *model.AccuracyPoint {
		i, ok := index[date]
		if !ok {
			if rng.Since != nil {
				return nil
			}
			out.Points = append(out.Points, model.AccuracyPoint{Date: date})
			i = len(out.Points) - 1
			index[date] = i
		}
		return &out.Points[i]
	}

	for _, a := range ds.attempts {
		if p := point(util.FormatDate(a.SubmittedAt)); p != nil {
			p.Attempts++
			p.Questions += a.TotalQuestions
			p.Correct += a.CorrectAnswers
		}
	}

	sort.Slice(out.Points, func(i, j int) bool { return out.Points[i].Date < out.Points[j].Date })

	var active []float64
	for i := range out.Points {
		p := &out.Points[i]
		p.Accuracy = ratio(p.Correct, p.Questions)
		if p.Questions > 0 {
			active = append(active, p.Accuracy)
		}
	}
	out.Trend = trendDirection(active)
	return out
}

// trendDirection 比较前后两半的平均正确率
func trendDirection(values []float64) string {
	if len(values) < 2 {
		return trendStable
	}
	mid := len(values) / 2
	avg := func(vs []float64) float64 {
		var sum float64
		for _, v := range vs {
			sum += v
		}
		return sum / float64(len(vs))
	}
	delta := avg(values[len(values)-mid:]) - avg(values[:mid])
	switch {
	case delta > trendDelta:
		return trendImproving
	case delta < -trendDelta:
		return trendDeclining
	default:
		return trendStable
	}
}

func buildDifficulty(rng util.DateRange, ds *analyticsDataset) model.DifficultyBreakdown {
	type acc struct{ answered, correct, time int }
	buckets := make(map[model.Difficulty]*acc, len(difficultyOrder))
	for _, d := range difficultyOrder {
		buckets[d] = &acc{}
	}
	for _, a := range ds.answers {
		b, ok := buckets[a.Difficulty]
		if !ok {
			b = buckets[model.DifficultyMedium]
		}
		b.answered++
		b.time += a.TimeSpentSeconds
		if a.IsCorrect {
			b.correct++
		}
	}

	out := model.DifficultyBreakdown{Range: rng.Preset, Stats: make([]model.DifficultyStat, 0, len(difficultyOrder))}
	for _, d := range difficultyOrder {
		b := buckets[d]
		stat := model.DifficultyStat{
			Difficulty: d,
			Answered:   b.answered,
			Correct:    b.correct,
			Accuracy:   ratio(b.correct, b.answered),
		}
		if b.answered > 0 {
			stat.AverageTimeSpent = float64(b.time) / float64(b.answered)
		}
		out.Stats = append(out.Stats, stat)
	}
	return out
}

func buildTestTypes(rng util.DateRange, ds *analyticsDataset) model.TestTypeComparison {
	type acc struct {
		attempts, questions, correct, time int
		score                              float64
	}
	buckets := make(map[model.TestType]*acc, len(testTypeOrder))
	for _, t := range testTypeOrder {
		buckets[t] = &acc{}
	}
	for _, a := range ds.attempts {
		b, ok := buckets[a.TestType]
		if !ok {
			continue
		}
		b.attempts++
		b.questions += a.TotalQuestions
		b.correct += a.CorrectAnswers
		b.time += a.TimeSpentSeconds
		b.score += a.Score
	}

	out := model.TestTypeComparison{Range: rng.Preset, Types: make([]model.TestTypeStat, 0, len(testTypeOrder))}
	for _, t := range testTypeOrder {
		b := buckets[t]
		stat := model.TestTypeStat{
			TestType: t,
			Attempts: b.attempts,
			Accuracy: ratio(b.correct, b.questions),
		}
		if b.attempts > 0 {
			stat.AverageScore = b.score / float64(b.attempts)
			stat.AverageTimeSpent = float64(b.time) / float64(b.attempts)
		}
		out.Types = append(out.Types, stat)
	}
	return out
}

func timeBuckets(n int) []model.TimeBucket {
	buckets := make([]model.TimeBucket, n)
	for i := range buckets {
		buckets[i].Bucket = i
	}
	return buckets
}

func buildTimePerformance(rng util.DateRange, ds *analyticsDataset) model.TimePerformance {
	out := model.TimePerformance{
		Range:     rng.Preset,
		HourOfDay: timeBuckets(24),
		DayOfWeek: timeBuckets(7),
	}
	for _, a := range ds.answers {
		ts := a.SubmittedAt.UTC()
		for _, b := range []*model.TimeBucket{&out.HourOfDay[ts.Hour()], &out.DayOfWeek[int(ts.Weekday())]} {
			b.Questions++
			if a.IsCorrect {
				b.Correct++
			}
		}
	}
	for i := range out.HourOfDay {
		out.HourOfDay[i].Accuracy = ratio(out.HourOfDay[i].Correct, out.HourOfDay[i].Questions)
	}
	for i := range out.DayOfWeek {
		out.DayOfWeek[i].Accuracy = ratio(out.DayOfWeek[i].Correct, out.DayOfWeek[i].Questions)
	}
	return out
}

type insightInputs struct {
	overview     model.AnalyticsOverview
	trend        model.AccuracyTrend
	difficulty   model.DifficultyBreakdown
	timeOfDay    model.TimePerformance
	streak       *model.StreakState
	weakSections []model.WeakSection
	sectionNames map[uint]string
}

func buildInsights(rng util.DateRange, in insightInputs) model.Insights {
	out := model.Insights{Range: rng.Preset, Items: []model.Insight{}}
	add := func(kind, format string, args ...interface{}) {
		out.Items = append(out.Items, model.Insight{Kind: kind, Message: fmt.Sprintf(format, args...)})
	}

	if in.overview.TotalAttempts == 0 {
		add("info", "No submitted attempts in this period yet. Finish a practice test to unlock insights.")
	} else {
		add("info", "%d attempts over %d practice days with %.0f%% overall accuracy.",
			in.overview.TotalAttempts, in.overview.PracticeDays, in.overview.Accuracy*100)
	}

	switch in.trend.Trend {
	case trendImproving:
		add("strength", "Your accuracy is trending up. Keep the current routine.")
	case trendDeclining:
		add("weakness", "Your accuracy has dropped recently. Revisit your weak sections before new material.")
	}

	var best, worst *model.DifficultyStat
	for i := range in.difficulty.Stats {
		stat := &in.difficulty.Stats[i]
		if stat.Answered < insightMinAnswers {
			continue
		}
		if best == nil || stat.Accuracy > best.Accuracy {
			best = stat
		}
		if worst == nil || stat.Accuracy < worst.Accuracy {
			worst = stat
		}
	}
	if best != nil && best.Difficulty == model.DifficultyHard && best.Accuracy >= 0.7 {
		add("strength", "Strong on hard questions: %.0f%% correct.", best.Accuracy*100)
	}
	if worst != nil && worst.Accuracy < 0.6 {
		add("weakness", "%s questions are %.0f%% correct. Slow down and review explanations.", worst.Difficulty, worst.Accuracy*100)
	}

	var peak *model.TimeBucket
	for i := range in.timeOfDay.HourOfDay {
		b := &in.timeOfDay.HourOfDay[i]
		if b.Questions < insightMinAnswers {
			continue
		}
		if peak == nil || b.Accuracy > peak.Accuracy {
			peak = b
		}
	}
	if peak != nil {
		add("habit", "You perform best around %02d:00 UTC (%.0f%% correct).", peak.Bucket, peak.Accuracy*100)
	}

	if in.streak != nil {
		switch {
		case in.streak.CurrentStreakDays >= 3:
			add("streak", "%d-day practice streak. Longest so far: %d days.", in.streak.CurrentStreakDays, in.streak.LongestStreakDays)
		case in.streak.CurrentStreakDays == 0 && in.streak.LongestStreakDays > 0:
			add("streak", "Your streak has ended. Practice today to start a new one (best: %d days).", in.streak.LongestStreakDays)
		}
	}

	weak := append([]model.WeakSection(nil), in.weakSections...)
	sort.Slice(weak, func(i, j int) bool { return weak[i].Accuracy < weak[j].Accuracy })
	for i, ws := range weak {
		if i == 3 {
			break
		}
		name, ok := in.sectionNames[ws.SectionID]
		if !ok {
			name = fmt.Sprintf("Section %d", ws.SectionID)
		}
		add("weakness", "Focus on %s: %.0f%% correct over the last %d answers.", name, ws.Accuracy*100, ws.SampleCount)
	}
	return out
}
