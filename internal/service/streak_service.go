package service

import (
	"context"
	"errors"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/repository"
	"exam_prep_backend/internal/util"
	"exam_prep_backend/pkg/logger"
	"sort"
	"time"

	"go.uber.org/zap"
)

// StreakSnapshot 连续练习计算结果
type StreakSnapshot struct {
	CurrentStreakDays int
	LongestStreakDays int
	LastPracticeDate  *time.Time
}

// CalculateStreak 由提交时间推导连续练习天数。
// 所有时间先投影到 UTC 日历日，同一天多次提交只算一天；晚于今天的日期忽略。
// 今天无记录但昨天有记录时保留昨天为止的连续天数，连续两天缺席才归零。
func CalculateStreak(timestamps []time.Time, now time.Time) StreakSnapshot {
	today := util.DateOf(now)

	seen := make(map[time.Time]struct{}, len(timestamps))
	days := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		d := util.DateOf(ts)
		if d.After(today) {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	if len(days) == 0 {
		return StreakSnapshot{}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if util.DaysBetween(days[i-1], days[i]) == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	current := 0
	var cursor time.Time
	if _, ok := seen[today]; ok {
		cursor = today
	} else if _, ok := seen[util.AddDays(today, -1)]; ok {
		cursor = util.AddDays(today, -1)
	}
	if !cursor.IsZero() {
		for {
			if _, ok := seen[cursor]; !ok {
				break
			}
			current++
			cursor = util.AddDays(cursor, -1)
		}
	}

	last := days[len(days)-1]
	return StreakSnapshot{
		CurrentStreakDays: current,
		LongestStreakDays: longest,
		LastPracticeDate:  &last,
	}
}

type StreakService struct {
	AttemptRepo *repository.AttemptRepository
	StreakRepo  *repository.StreakRepository
	Now         Clock
}

func NewStreakService(attemptRepo *repository.AttemptRepository, streakRepo *repository.StreakRepository) *StreakService {
	return &StreakService{
		AttemptRepo: attemptRepo,
		StreakRepo:  streakRepo,
		Now:         systemClock,
	}
}

// GetStreakData 按需重算并返回连续练习状态
func (s *StreakService) GetStreakData(ctx context.Context, userID uint) (*model.StreakState, error) {
	state, err := s.Recompute(ctx, userID)
	if errors.Is(err, util.ErrNotFound) {
		return &model.StreakState{UserID: userID}, nil
	}
	return state, err
}

// PeekStreak 只读地计算连续练习状态，不写回快照
func (s *StreakService) PeekStreak(ctx context.Context, userID uint) (*model.StreakState, error) {
	state, err := s.compute(ctx, userID)
	if errors.Is(err, util.ErrNotFound) {
		return &model.StreakState{UserID: userID}, nil
	}
	return state, err
}

// Recompute 从全部提交记录重算快照并落库；落库失败只记录日志，计算结果仍然返回
func (s *StreakService) Recompute(ctx context.Context, userID uint) (*model.StreakState, error) {
	state, err := s.compute(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.StreakRepo.Upsert(ctx, state); err != nil {
		logger.Log.Warn("failed to persist streak snapshot", zap.Uint("userID", userID), zap.Error(err))
	}
	return state, nil
}

func (s *StreakService) compute(ctx context.Context, userID uint) (*model.StreakState, error) {
	var timestamps []time.Time
	err := retryTransient(ctx, "streak.load", func() error {
		var err error
		timestamps, err = s.AttemptRepo.ListSubmissionTimes(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.Now()
	snap := CalculateStreak(timestamps, now)
	return &model.StreakState{
		UserID:            userID,
		CurrentStreakDays: snap.CurrentStreakDays,
		LongestStreakDays: snap.LongestStreakDays,
		LastPracticeDate:  snap.LastPracticeDate,
		UpdatedAt:         now,
	}, nil
}

// GetPracticeCalendar 最近 days 天中有练习的日期
func (s *StreakService) GetPracticeCalendar(ctx context.Context, userID uint, days int) (*model.PracticeCalendar, error) {
	if days <= 0 || days > 366 {
		days = 30
	}

	timestamps, err := s.AttemptRepo.ListSubmissionTimes(ctx, userID)
	if err != nil && !errors.Is(err, util.ErrNotFound) {
		return nil, err
	}

	today := util.DateOf(s.Now())
	from := util.AddDays(today, -(days - 1))

	seen := make(map[string]struct{})
	dates := make([]string, 0)
	for _, ts := range timestamps {
		d := util.DateOf(ts)
		if d.Before(from) || d.After(today) {
			continue
		}
		key := d.Format(util.DateFormat)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dates = append(dates, key)
	}
	sort.Strings(dates)

	return &model.PracticeCalendar{Days: days, PracticeDates: dates}, nil
}
