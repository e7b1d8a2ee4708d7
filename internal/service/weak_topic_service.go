package service

import (
	"context"
	"errors"
	"exam_prep_backend/internal/config"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/repository"
	"exam_prep_backend/internal/util"
	"exam_prep_backend/pkg/logger"
	"exam_prep_backend/pkg/monitoring"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WeakTopicSettings 薄弱章节判定参数
type WeakTopicSettings struct {
	WeakThreshold     float64
	RecoveryThreshold float64
	MinSamples        int
	WindowAttempts    int
	WindowAnswers     int
}

func WeakTopicSettingsFromConfig(cfg config.EngineConfig) WeakTopicSettings {
	return WeakTopicSettings{
		WeakThreshold:     cfg.WeakThreshold,
		RecoveryThreshold: cfg.RecoveryThreshold,
		MinSamples:        cfg.MinSamples,
		WindowAttempts:    cfg.WindowAttempts,
		WindowAnswers:     cfg.WindowAnswers,
	}
}

// SectionStat 窗口内某章节的作答统计
type SectionStat struct {
	SectionID uint
	Correct   int
	Answered  int
}

// Accuracy 正确率，无作答时为 0
func (s SectionStat) Accuracy() float64 {
	if s.Answered == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Answered)
}

// Transition 一次状态变化，From 为空表示此前未被跟踪
type Transition struct {
	SectionID uint
	From      model.WeakSectionStatus
	To        model.WeakSectionStatus
}

// Classify 带滞回的状态判定：
// 样本不少于 MinSamples 且正确率低于 WeakThreshold 时为 weak；
// 已是 weak 的章节只有在样本足够且正确率达到 RecoveryThreshold 时才转为 recovered；
// 两个阈值之间维持原状态。tracked=false 表示该章节无需落库。
func Classify(prev model.WeakSectionStatus, stat SectionStat, st WeakTopicSettings) (status model.WeakSectionStatus, tracked bool) {
	enough := stat.Answered >= st.MinSamples
	acc := stat.Accuracy()

	if enough && acc < st.WeakThreshold {
		return model.WeakSectionWeak, true
	}

	switch prev {
	case model.WeakSectionWeak:
		if enough && acc >= st.RecoveryThreshold {
			return model.WeakSectionRecovered, true
		}
		return model.WeakSectionWeak, true
	case model.WeakSectionRecovered:
		return model.WeakSectionRecovered, true
	default:
		return "", false
	}
}

type WeakTopicService struct {
	DB          *gorm.DB
	AttemptRepo *repository.AttemptRepository
	WeakRepo    *repository.WeakSectionRepository
	Now         Clock

	mu       sync.RWMutex
	settings WeakTopicSettings
}

func NewWeakTopicService(
	db *gorm.DB,
	attemptRepo *repository.AttemptRepository,
	weakRepo *repository.WeakSectionRepository,
	settings WeakTopicSettings,
) *WeakTopicService {
	return &WeakTopicService{
		DB:          db,
		AttemptRepo: attemptRepo,
		WeakRepo:    weakRepo,
		Now:         systemClock,
		settings:    settings,
	}
}

func (s *WeakTopicService) Settings() WeakTopicSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetSettings 配置热更新
func (s *WeakTopicService) SetSettings(st WeakTopicSettings) {
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
}

// AnalyzeUserWeakTopics 扫描最近窗口并幂等写入薄弱章节状态，瞬时错误重试一次
func (s *WeakTopicService) AnalyzeUserWeakTopics(ctx context.Context, userID uint) ([]Transition, error) {
	var transitions []Transition
	err := retryTransient(ctx, "weak_topics.analyze", func() error {
		var err error
		transitions, err = s.analyze(ctx, s.DB, userID)
		return err
	})
	return transitions, err
}

// analyzeTx 在调用方事务内执行分析（复习完成时使用）
func (s *WeakTopicService) analyzeTx(ctx context.Context, tx *gorm.DB, userID uint) ([]Transition, error) {
	return s.analyze(ctx, tx, userID)
}

func (s *WeakTopicService) analyze(ctx context.Context, db *gorm.DB, userID uint) ([]Transition, error) {
	st := s.Settings()
	attemptRepo := s.AttemptRepo.WithTx(db)
	weakRepo := s.WeakRepo.WithTx(db)

	stats, err := s.windowStats(ctx, attemptRepo, userID, st)
	if err != nil {
		return nil, err
	}

	existing, err := weakRepo.MapByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	var transitions []Transition
	for _, stat := range stats {
		var prev model.WeakSectionStatus
		if row, ok := existing[stat.SectionID]; ok {
			prev = row.Status
		}

		status, tracked := Classify(prev, stat, st)
		if !tracked {
			continue
		}

		acc := stat.Accuracy()
		if acc < 0 || acc > 1 {
			logger.Log.Error("accuracy out of range", zap.Uint("userID", userID), zap.Uint("sectionID", stat.SectionID), zap.Float64("accuracy", acc))
			return nil, util.InvariantError("accuracy %v for section %d outside [0,1]", acc, stat.SectionID)
		}

		row := &model.WeakSection{
			UserID:      userID,
			SectionID:   stat.SectionID,
			Accuracy:    acc,
			SampleCount: stat.Answered,
			Status:      status,
			LastUpdated: now,
		}
		if err := weakRepo.Upsert(ctx, row); err != nil {
			return nil, err
		}

		if prev != status {
			transitions = append(transitions, Transition{SectionID: stat.SectionID, From: prev, To: status})
			monitoring.WeakSectionTransitions.WithLabelValues(string(status)).Inc()
		}
	}

	if len(transitions) > 0 {
		logger.Log.Info("weak sections updated", zap.Uint("userID", userID), zap.Int("transitions", len(transitions)))
	}
	return transitions, nil
}

// windowStats 取最近 WindowAttempts 次提交的作答，每个章节最多保留最近 WindowAnswers 条
func (s *WeakTopicService) windowStats(ctx context.Context, attemptRepo *repository.AttemptRepository, userID uint, st WeakTopicSettings) ([]SectionStat, error) {
	attemptIDs, err := attemptRepo.ListRecentSubmittedIDs(ctx, userID, st.WindowAttempts)
	if err != nil {
		return nil, err
	}
	if len(attemptIDs) == 0 {
		return nil, nil
	}

	answers, err := attemptRepo.ListAnswersByAttempts(ctx, attemptIDs)
	if err != nil {
		return nil, err
	}

	return WindowStats(attemptIDs, answers, st.WindowAnswers), nil
}

// WindowStats 按章节汇总窗口内的作答；attemptIDs 为由新到旧的顺序
func WindowStats(attemptIDs []uint, answers []model.Answer, perSection int) []SectionStat {
	rank := make(map[uint]int, len(attemptIDs))
	for i, id := range attemptIDs {
		rank[id] = i
	}

	ordered := make([]model.Answer, 0, len(answers))
	for _, a := range answers {
		if _, ok := rank[a.AttemptID]; ok {
			ordered = append(ordered, a)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := rank[ordered[i].AttemptID], rank[ordered[j].AttemptID]
		if ri != rj {
			return ri < rj
		}
		return ordered[i].ID > ordered[j].ID
	})

	bySection := make(map[uint]*SectionStat)
	for _, a := range ordered {
		stat, ok := bySection[a.SectionID]
		if !ok {
			stat = &SectionStat{SectionID: a.SectionID}
			bySection[a.SectionID] = stat
		}
		if perSection > 0 && stat.Answered >= perSection {
			continue
		}
		stat.Answered++
		if a.IsCorrect {
			stat.Correct++
		}
	}

	result := make([]SectionStat, 0, len(bySection))
	for _, stat := range bySection {
		result = append(result, *stat)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SectionID < result[j].SectionID })
	return result
}

// ListWeakSections 读路径：用户不存在等同于空列表
func (s *WeakTopicService) ListWeakSections(ctx context.Context, userID uint, includeRecovered bool) ([]model.WeakSection, error) {
	rows, err := s.WeakRepo.List(ctx, userID, includeRecovered)
	if errors.Is(err, util.ErrNotFound) {
		return []model.WeakSection{}, nil
	}
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.WeakSection{}
	}
	return rows, nil
}

// EvaluateSection 重新分析后返回指定章节的当前状态；未被跟踪的章节返回 nil
func (s *WeakTopicService) EvaluateSection(ctx context.Context, userID, sectionID uint) (*model.WeakSection, error) {
	if _, err := s.AnalyzeUserWeakTopics(ctx, userID); err != nil {
		return nil, err
	}
	ws, err := s.WeakRepo.Find(ctx, userID, sectionID)
	if errors.Is(err, util.ErrNotFound) {
		return nil, nil
	}
	return ws, err
}
