package service

import (
	"context"
	"exam_prep_backend/internal/config"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/repository"
	"exam_prep_backend/internal/util"
	"exam_prep_backend/pkg/logger"
	"exam_prep_backend/pkg/monitoring"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 复习记录保留期，超过该天数的非 pending 记录不再返回
const scheduleHistoryDays = 30

type RevisionSettings struct {
	LadderDays          []int
	MaxSectionsPerEntry int
	MaxSpillDays        int
}

func RevisionSettingsFromConfig(cfg config.EngineConfig) RevisionSettings {
	ladder := make([]int, len(cfg.LadderDays))
	copy(ladder, cfg.LadderDays)
	return RevisionSettings{
		LadderDays:          ladder,
		MaxSectionsPerEntry: cfg.MaxSectionsPerEntry,
		MaxSpillDays:        cfg.MaxSpillDays,
	}
}

// NextIndex 阶梯的下一级，到顶后重复最后一级
func (st RevisionSettings) NextIndex(idx int) int {
	last := len(st.LadderDays) - 1
	if idx+1 > last {
		return last
	}
	return idx + 1
}

func (st RevisionSettings) offset(idx int) int {
	if idx < 0 {
		idx = 0
	}
	if idx >= len(st.LadderDays) {
		idx = len(st.LadderDays) - 1
	}
	return st.LadderDays[idx]
}

type RevisionService struct {
	DB           *gorm.DB
	RevisionRepo *repository.RevisionRepository
	WeakRepo     *repository.WeakSectionRepository
	WeakTopics   *WeakTopicService
	Now          Clock

	mu       sync.RWMutex
	settings RevisionSettings
}

func NewRevisionService(
	db *gorm.DB,
	revisionRepo *repository.RevisionRepository,
	weakRepo *repository.WeakSectionRepository,
	weakTopics *WeakTopicService,
	settings RevisionSettings,
) *RevisionService {
	return &RevisionService{
		DB:           db,
		RevisionRepo: revisionRepo,
		WeakRepo:     weakRepo,
		WeakTopics:   weakTopics,
		Now:          systemClock,
		settings:     settings,
	}
}

func (s *RevisionService) Settings() RevisionSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *RevisionService) SetSettings(st RevisionSettings) {
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
}

// booking 一次事务内用户 pending 安排的内存视图，按日期索引
type booking struct {
	repo     *repository.RevisionRepository
	userID   uint
	st       RevisionSettings
	byDate   map[string]*model.RevisionEntry
	covered  map[uint]*model.RevisionItem
	inserted int
}

func newBooking(repo *repository.RevisionRepository, userID uint, st RevisionSettings) *booking {
	return &booking{
		repo:    repo,
		userID:  userID,
		st:      st,
		byDate:  make(map[string]*model.RevisionEntry),
		covered: make(map[uint]*model.RevisionItem),
	}
}

func (b *booking) track(entry *model.RevisionEntry) {
	b.byDate[util.FormatDate(entry.ScheduledDate)] = entry
	for i := range entry.Items {
		b.covered[entry.Items[i].SectionID] = &entry.Items[i]
	}
}

// place 把章节放入 earliest 当天的安排，满了则顺延，超过 MaxSpillDays 视为缺陷
func (b *booking) place(ctx context.Context, sectionID uint, idx int, earliest time.Time) (*model.RevisionItem, error) {
	if _, ok := b.covered[sectionID]; ok {
		return nil, util.InvariantError("section %d already has a pending revision item", sectionID)
	}

	for d := 0; d <= b.st.MaxSpillDays; d++ {
		date := util.AddDays(earliest, d)
		key := util.FormatDate(date)

		entry, ok := b.byDate[key]
		if ok && len(entry.Items) >= b.st.MaxSectionsPerEntry {
			continue
		}

		if !ok {
			entry = &model.RevisionEntry{
				UserID:        b.userID,
				ScheduledDate: date,
				Status:        model.RevisionPending,
				IntervalIndex: idx,
			}
			if err := b.repo.CreateEntry(ctx, entry); err != nil {
				return nil, err
			}
			b.byDate[key] = entry
			monitoring.RevisionEntries.WithLabelValues("created").Inc()
		} else {
			monitoring.RevisionEntries.WithLabelValues("merged").Inc()
		}

		item := model.RevisionItem{
			EntryID:       entry.ID,
			UserID:        b.userID,
			SectionID:     sectionID,
			IntervalIndex: idx,
			ScheduledDate: date,
			Status:        model.RevisionPending,
		}
		if err := b.repo.CreateItem(ctx, &item); err != nil {
			return nil, err
		}
		entry.Items = append(entry.Items, item)

		if idx < entry.IntervalIndex {
			entry.IntervalIndex = idx
			if err := b.repo.UpdateEntry(ctx, entry); err != nil {
				return nil, err
			}
		}

		placed := &entry.Items[len(entry.Items)-1]
		b.covered[sectionID] = placed
		b.inserted++
		return placed, nil
	}

	return nil, util.InvariantError("no revision slot for section %d within %d days of %s",
		sectionID, b.st.MaxSpillDays, util.FormatDate(earliest))
}

// Reconcile 在单个事务内让用户的复习计划与薄弱章节保持一致：
// 过期未完成的安排置为 expired；非 weak 章节的 pending 条目置为 expired；
// 没有 pending 条目的 weak 章节从阶梯第 0 级开始排期。
func (s *RevisionService) Reconcile(ctx context.Context, userID uint) error {
	ctx, span := startSpan(ctx, "revision.reconcile", userID)
	err := retryTransient(ctx, "revision.reconcile", func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := s.reconcile(ctx, tx, userID, s.Settings(), util.DateOf(s.Now()))
			return err
		})
	})
	endSpan(span, err)
	return err
}

func (s *RevisionService) reconcile(ctx context.Context, tx *gorm.DB, userID uint, st RevisionSettings, today time.Time) (*booking, error) {
	revRepo := s.RevisionRepo.WithTx(tx)

	weak, err := s.WeakRepo.WithTx(tx).LockByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	book, err := s.loadBooking(ctx, revRepo, userID, st, today, weak)
	if err != nil {
		return nil, err
	}

	sectionIDs := make([]uint, 0, len(weak))
	for id, ws := range weak {
		if ws.Status == model.WeakSectionWeak {
			sectionIDs = append(sectionIDs, id)
		}
	}
	sort.Slice(sectionIDs, func(i, j int) bool { return sectionIDs[i] < sectionIDs[j] })

	for _, sectionID := range sectionIDs {
		if _, ok := book.covered[sectionID]; ok {
			continue
		}
		if _, err := book.place(ctx, sectionID, 0, util.AddDays(today, st.offset(0))); err != nil {
			logger.Log.Error("revision placement failed", zap.Uint("userID", userID), zap.Uint("sectionID", sectionID), zap.Error(err))
			return nil, err
		}
	}

	if book.inserted > 0 {
		logger.Log.Info("revision schedule updated", zap.Uint("userID", userID), zap.Int("newItems", book.inserted))
	}
	return book, nil
}

// loadBooking 读取 pending 安排并完成过期处理，返回剩余的有效安排
func (s *RevisionService) loadBooking(
	ctx context.Context,
	revRepo *repository.RevisionRepository,
	userID uint,
	st RevisionSettings,
	today time.Time,
	weak map[uint]*model.WeakSection,
) (*booking, error) {
	pending, err := revRepo.ListPending(ctx, userID)
	if err != nil {
		return nil, err
	}

	book := newBooking(revRepo, userID, st)
	for i := range pending {
		entry := &pending[i]
		overdue := util.DateOf(entry.ScheduledDate).Before(today)

		var keep []model.RevisionItem
		var expire []uint
		seen := make(map[uint]bool, len(entry.Items))
		for _, item := range entry.Items {
			ws, ok := weak[item.SectionID]
			if overdue || !ok || ws.Status != model.WeakSectionWeak {
				expire = append(expire, item.ID)
				continue
			}
			// 同一章节只保留日期最早的 pending 条目
			if _, dup := book.covered[item.SectionID]; dup || seen[item.SectionID] {
				logger.Log.Error("duplicate pending revision item expired",
					zap.Uint("userID", userID), zap.Uint("sectionID", item.SectionID), zap.Uint("itemID", item.ID))
				expire = append(expire, item.ID)
				continue
			}
			seen[item.SectionID] = true
			keep = append(keep, item)
		}

		if err := revRepo.SetItemStatus(ctx, expire, model.RevisionExpired); err != nil {
			return nil, err
		}

		if len(keep) == 0 {
			entry.Status = model.RevisionExpired
			if err := revRepo.UpdateEntry(ctx, entry); err != nil {
				return nil, err
			}
			monitoring.RevisionEntries.WithLabelValues("expired").Inc()
			continue
		}

		entry.Items = keep
		if len(expire) > 0 {
			entry.IntervalIndex = minIntervalIndex(keep)
			if err := revRepo.UpdateEntry(ctx, entry); err != nil {
				return nil, err
			}
		}
		book.track(entry)
	}
	return book, nil
}

func minIntervalIndex(items []model.RevisionItem) int {
	lowest := items[0].IntervalIndex
	for _, item := range items[1:] {
		if item.IntervalIndex < lowest {
			lowest = item.IntervalIndex
		}
	}
	return lowest
}

// CompleteRevision 完成一次复习：重新评估其中的章节，仍为 weak 的进入阶梯下一级，已恢复的停止推进
func (s *RevisionService) CompleteRevision(ctx context.Context, userID, entryID uint) (*model.RevisionEntry, error) {
	return s.close(ctx, userID, entryID, model.RevisionCompleted, true)
}

// SkipRevision 跳过一次复习：仍为 weak 的章节在同一级别从今天起重新排期
func (s *RevisionService) SkipRevision(ctx context.Context, userID, entryID uint) (*model.RevisionEntry, error) {
	return s.close(ctx, userID, entryID, model.RevisionSkipped, false)
}

func (s *RevisionService) close(ctx context.Context, userID, entryID uint, status model.RevisionStatus, advance bool) (*model.RevisionEntry, error) {
	ctx, span := startSpan(ctx, "revision."+string(status), userID)
	var err error
	defer func() { endSpan(span, err) }()

	st := s.Settings()
	now := s.Now()
	today := util.DateOf(now)

	entry, err := s.RevisionRepo.FindByID(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != model.RevisionPending {
		err = util.ErrRevisionNotPending
		return nil, err
	}
	if util.DateOf(entry.ScheduledDate).Before(today) {
		// 过期的安排交给 Reconcile 处理
		if rerr := s.Reconcile(ctx, userID); rerr != nil {
			logger.Log.Warn("reconcile after overdue revision failed", zap.Uint("userID", userID), zap.Error(rerr))
		}
		err = util.ErrRevisionNotPending
		return nil, err
	}

	err = retryTransient(ctx, "revision."+string(status), func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.closeTx(ctx, tx, userID, entryID, status, advance, st, now, today)
		})
	})
	if err != nil {
		return nil, err
	}

	entry, err = s.RevisionRepo.FindByID(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	entry.FillSectionIDs()
	return entry, nil
}

func (s *RevisionService) closeTx(
	ctx context.Context,
	tx *gorm.DB,
	userID, entryID uint,
	status model.RevisionStatus,
	advance bool,
	st RevisionSettings,
	now, today time.Time,
) error {
	revRepo := s.RevisionRepo.WithTx(tx)
	weakRepo := s.WeakRepo.WithTx(tx)
	if _, err := weakRepo.LockByUser(ctx, userID); err != nil {
		return err
	}

	current, err := revRepo.FindByID(ctx, userID, entryID)
	if err != nil {
		return err
	}
	if current.Status != model.RevisionPending {
		return util.ErrRevisionNotPending
	}

	var itemIDs []uint
	var closed []model.RevisionItem
	for _, item := range current.Items {
		if item.Status == model.RevisionPending {
			itemIDs = append(itemIDs, item.ID)
			closed = append(closed, item)
		}
	}
	if err := revRepo.SetItemStatus(ctx, itemIDs, status); err != nil {
		return err
	}
	current.Status = status
	if status == model.RevisionCompleted {
		current.CompletedAt = &now
	}
	if err := revRepo.UpdateEntry(ctx, current); err != nil {
		return err
	}
	monitoring.RevisionEntries.WithLabelValues(string(status)).Inc()

	if advance {
		if _, err := s.WeakTopics.analyzeTx(ctx, tx, userID); err != nil {
			return err
		}
	}

	weak, err := weakRepo.MapByUser(ctx, userID)
	if err != nil {
		return err
	}
	book, err := s.loadBooking(ctx, revRepo, userID, st, today, weak)
	if err != nil {
		return err
	}

	for _, item := range closed {
		ws, ok := weak[item.SectionID]
		if !ok || ws.Status != model.WeakSectionWeak {
			continue
		}
		if _, ok := book.covered[item.SectionID]; ok {
			continue
		}

		next := item.IntervalIndex
		if advance {
			next = st.NextIndex(item.IntervalIndex)
		}
		earliest := util.AddDays(today, st.offset(next))
		if floor := util.AddDays(util.DateOf(item.ScheduledDate), 1); earliest.Before(floor) {
			earliest = floor
		}

		placed, err := book.place(ctx, item.SectionID, next, earliest)
		if err != nil {
			return err
		}
		if !util.DateOf(placed.ScheduledDate).After(util.DateOf(item.ScheduledDate)) {
			logger.Log.Error("revision ladder out of order",
				zap.Uint("userID", userID), zap.Uint("sectionID", item.SectionID),
				zap.Time("previous", item.ScheduledDate), zap.Time("next", placed.ScheduledDate))
			return util.InvariantError("section %d: next revision %s not after %s",
				item.SectionID, util.FormatDate(placed.ScheduledDate), util.FormatDate(item.ScheduledDate))
		}
	}

	_, err = s.reconcile(ctx, tx, userID, st, today)
	return err
}

// GetRevisionSchedule 先做过期与补排，再返回 pending 及近期的安排，按日期升序
func (s *RevisionService) GetRevisionSchedule(ctx context.Context, userID uint) ([]model.RevisionEntry, error) {
	if err := s.Reconcile(ctx, userID); err != nil {
		return nil, err
	}

	since := util.AddDays(util.DateOf(s.Now()), -scheduleHistoryDays)
	entries, err := s.RevisionRepo.ListSchedule(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].FillSectionIDs()
	}
	if entries == nil {
		entries = []model.RevisionEntry{}
	}
	return entries, nil
}
