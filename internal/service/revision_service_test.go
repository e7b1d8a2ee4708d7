package service

import (
	"context"
	"errors"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/repository"
	"exam_prep_backend/internal/util"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flagWeak 让 section 变为 weak 并生成初始复习计划
func flagWeak(t *testing.T, e *testEngine, userID, sectionID uint) {
	t.Helper()
	e.submit(t, userID, sectionID, 3, 10)
	_, err := e.weak.AnalyzeUserWeakTopics(context.Background(), userID)
	require.NoError(t, err)
	require.NoError(t, e.rev.Reconcile(context.Background(), userID))
}

func TestNextIndexCapsAtLastRung(t *testing.T) {
	st := RevisionSettings{LadderDays: []int{1, 3, 7}}
	assert.Equal(t, 1, st.NextIndex(0))
	assert.Equal(t, 2, st.NextIndex(1))
	assert.Equal(t, 2, st.NextIndex(2))
}

func TestNewlyWeakSectionGetsOneEntry(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	sec := e.section(t, "Probability")

	flagWeak(t, e, 1, sec.ID)
	// 再次调和不会重复排期
	require.NoError(t, e.rev.Reconcile(ctx, 1))

	items := e.pendingItems(t, 1, sec.ID)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].IntervalIndex)
	assert.Equal(t, util.AddDays(e.today(), 1), util.DateOf(items[0].ScheduledDate))

	schedule, err := e.rev.GetRevisionSchedule(ctx, 1)
	require.NoError(t, err)
	require.Len(t, schedule, 1)
	assert.Equal(t, model.RevisionPending, schedule[0].Status)
	assert.Equal(t, []uint{sec.ID}, schedule[0].SectionIDs)
}

func TestCompleteWhileWeakAdvancesLadder(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	sec := e.section(t, "Statistics")

	flagWeak(t, e, 1, sec.ID)
	schedule, err := e.rev.GetRevisionSchedule(ctx, 1)
	require.NoError(t, err)
	require.Len(t, schedule, 1)
	first := schedule[0]

	e.clock.advanceDays(1)
	done, err := e.rev.CompleteRevision(ctx, 1, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RevisionCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	items := e.pendingItems(t, 1, sec.ID)
	require.Len(t, items, 1, "never two pending items for one section")
	assert.Equal(t, 1, items[0].IntervalIndex)
	assert.Equal(t, util.AddDays(e.today(), 3), util.DateOf(items[0].ScheduledDate))
	assert.True(t, items[0].ScheduledDate.After(first.ScheduledDate))

	_, err = e.rev.CompleteRevision(ctx, 1, first.ID)
	assert.ErrorIs(t, err, util.ErrRevisionNotPending)
}

func TestLadderRepeatsLastRung(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	sec := e.section(t, "Calculus")
	flagWeak(t, e, 1, sec.ID)

	ladder := e.rev.Settings().LadderDays
	for i := 0; i < len(ladder)+1; i++ {
		items := e.pendingItems(t, 1, sec.ID)
		require.Len(t, items, 1)
		e.clock.now = items[0].ScheduledDate.Add(9 * time.Hour)
		_, err := e.rev.CompleteRevision(ctx, 1, items[0].EntryID)
		require.NoError(t, err)
	}

	items := e.pendingItems(t, 1, sec.ID)
	require.Len(t, items, 1)
	assert.Equal(t, len(ladder)-1, items[0].IntervalIndex)
	assert.Equal(t, util.AddDays(e.today(), ladder[len(ladder)-1]), util.DateOf(items[0].ScheduledDate))
}

func TestCompleteAfterRecoveryStopsLadder(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	st := e.weak.Settings()
	st.WindowAttempts = 1
	e.weak.SetSettings(st)

	sec := e.section(t, "Grammar")
	flagWeak(t, e, 1, sec.ID)
	items := e.pendingItems(t, 1, sec.ID)
	require.Len(t, items, 1)

	e.clock.advanceDays(1)
	e.submit(t, 1, sec.ID, 10, 10)

	_, err := e.rev.CompleteRevision(ctx, 1, items[0].EntryID)
	require.NoError(t, err)
	assert.Empty(t, e.pendingItems(t, 1, sec.ID))

	ws, err := e.weak.WeakRepo.Find(ctx, 1, sec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WeakSectionRecovered, ws.Status)
}

func TestRecoveredSectionExpiresPendingItems(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	st := e.weak.Settings()
	st.WindowAttempts = 1
	e.weak.SetSettings(st)

	sec := e.section(t, "Optics")
	flagWeak(t, e, 1, sec.ID)
	require.Len(t, e.pendingItems(t, 1, sec.ID), 1)

	e.submit(t, 1, sec.ID, 9, 10)
	_, err := e.weak.AnalyzeUserWeakTopics(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, e.rev.Reconcile(ctx, 1))

	assert.Empty(t, e.pendingItems(t, 1, sec.ID))
	var entry model.RevisionEntry
	require.NoError(t, e.db.First(&entry).Error)
	assert.Equal(t, model.RevisionExpired, entry.Status)
}

func TestOverdueEntriesExpireAndRestart(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	sec := e.section(t, "Mechanics")
	flagWeak(t, e, 1, sec.ID)

	items := e.pendingItems(t, 1, sec.ID)
	require.Len(t, items, 1)
	oldEntry := items[0].EntryID

	e.clock.advanceDays(3)
	_, err := e.rev.CompleteRevision(ctx, 1, oldEntry)
	assert.ErrorIs(t, err, util.ErrRevisionNotPending)

	schedule, err := e.rev.GetRevisionSchedule(ctx, 1)
	require.NoError(t, err)

	var pending, expired int
	for _, entry := range schedule {
		switch entry.Status {
		case model.RevisionPending:
			pending++
			assert.Equal(t, util.AddDays(e.today(), 1), util.DateOf(entry.ScheduledDate))
			assert.Equal(t, 0, entry.IntervalIndex)
		case model.RevisionExpired:
			expired++
			assert.Equal(t, oldEntry, entry.ID)
		}
	}
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, expired)
	assert.Len(t, e.pendingItems(t, 1, sec.ID), 1)
}

func TestSameDaySectionsMergeAndSpill(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C", "D"} {
		sec := e.section(t, name)
		e.submit(t, 1, sec.ID, 1, 10)
	}
	_, err := e.weak.AnalyzeUserWeakTopics(ctx, 1)
	require.NoError(t, err)

	schedule, err := e.rev.GetRevisionSchedule(ctx, 1)
	require.NoError(t, err)
	require.Len(t, schedule, 2)

	assert.Equal(t, util.AddDays(e.today(), 1), util.DateOf(schedule[0].ScheduledDate))
	assert.Len(t, schedule[0].SectionIDs, e.rev.Settings().MaxSectionsPerEntry)
	assert.Equal(t, util.AddDays(e.today(), 2), util.DateOf(schedule[1].ScheduledDate))
	assert.Len(t, schedule[1].SectionIDs, 1)
}

func TestSpillBeyondLimitIsInvariantViolation(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	e.rev.SetSettings(RevisionSettings{LadderDays: []int{1, 3}, MaxSectionsPerEntry: 1, MaxSpillDays: 0})

	for _, name := range []string{"A", "B"} {
		sec := e.section(t, name)
		e.submit(t, 1, sec.ID, 1, 10)
	}
	_, err := e.weak.AnalyzeUserWeakTopics(ctx, 1)
	require.NoError(t, err)

	err = e.rev.Reconcile(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrInvariantViolation))

	// 事务回滚，不留下部分写入
	var count int64
	require.NoError(t, e.db.Model(&model.RevisionEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSkipKeepsIntervalIndex(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	sec := e.section(t, "Thermodynamics")
	flagWeak(t, e, 1, sec.ID)

	items := e.pendingItems(t, 1, sec.ID)
	require.Len(t, items, 1)

	skipped, err := e.rev.SkipRevision(ctx, 1, items[0].EntryID)
	require.NoError(t, err)
	assert.Equal(t, model.RevisionSkipped, skipped.Status)

	next := e.pendingItems(t, 1, sec.ID)
	require.Len(t, next, 1)
	assert.Equal(t, 0, next[0].IntervalIndex)
	assert.Equal(t, util.AddDays(e.today(), 2), util.DateOf(next[0].ScheduledDate))
}

func TestCompleteUnknownEntry(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	_, err := e.rev.CompleteRevision(context.Background(), 1, 12345)
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestConcurrentReconcileKeepsOnePendingItem(t *testing.T) {
	e := newConcurrentTestEngine(t, fixedEntitlements{})
	ctx := context.Background()

	var sections []model.Section
	for _, name := range []string{"Optics", "Acoustics", "Mechanics"} {
		sec := e.section(t, name)
		e.submit(t, 1, sec.ID, 2, 10)
		sections = append(sections, sec)
	}
	_, err := e.weak.AnalyzeUserWeakTopics(ctx, 1)
	require.NoError(t, err)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = e.rev.Reconcile(ctx, 1)
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, sec := range sections {
		assert.Len(t, e.pendingItems(t, 1, sec.ID), 1, "section %d", sec.ID)
	}

	schedule, err := e.rev.GetRevisionSchedule(ctx, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, schedule)
}

func TestSecondPendingItemForSectionConflicts(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	repo := repository.NewRevisionRepository(e.db)
	sec := e.section(t, "Genetics")

	entry := &model.RevisionEntry{UserID: 1, ScheduledDate: e.today(), Status: model.RevisionPending}
	require.NoError(t, repo.CreateEntry(ctx, entry))

	newItem := func() *model.RevisionItem {
		return &model.RevisionItem{
			EntryID:       entry.ID,
			UserID:        1,
			SectionID:     sec.ID,
			ScheduledDate: e.today(),
			Status:        model.RevisionPending,
		}
	}

	first := newItem()
	require.NoError(t, repo.CreateItem(ctx, first))
	require.NotNil(t, first.PendingSectionID)

	err := repo.CreateItem(ctx, newItem())
	assert.ErrorIs(t, err, util.ErrConflict)
	assert.True(t, util.IsTransient(err))

	// 另一用户同章节不受影响
	other := newItem()
	other.UserID = 2
	require.NoError(t, repo.CreateItem(ctx, other))

	// 离开 pending 后释放唯一键
	require.NoError(t, repo.SetItemStatus(ctx, []uint{first.ID}, model.RevisionExpired))
	require.NoError(t, repo.CreateItem(ctx, newItem()))

	var expired model.RevisionItem
	require.NoError(t, e.db.First(&expired, first.ID).Error)
	assert.Nil(t, expired.PendingSectionID)
}

func TestDuplicatePendingItemIsExpiredNotFatal(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	sec := e.section(t, "Ecology")
	flagWeak(t, e, 1, sec.ID)

	original := e.pendingItems(t, 1, sec.ID)
	require.Len(t, original, 1)

	// 绕过唯一键写入一条重复 pending 条目，模拟历史脏数据
	later := model.RevisionEntry{UserID: 1, ScheduledDate: util.AddDays(e.today(), 4), Status: model.RevisionPending}
	require.NoError(t, e.db.Omit("Items").Create(&later).Error)
	dup := model.RevisionItem{
		EntryID:       later.ID,
		UserID:        1,
		SectionID:     sec.ID,
		ScheduledDate: later.ScheduledDate,
		Status:        model.RevisionPending,
	}
	require.NoError(t, e.db.Create(&dup).Error)
	require.Len(t, e.pendingItems(t, 1, sec.ID), 2)

	schedule, err := e.rev.GetRevisionSchedule(ctx, 1)
	require.NoError(t, err)

	items := e.pendingItems(t, 1, sec.ID)
	require.Len(t, items, 1)
	assert.Equal(t, original[0].ID, items[0].ID)

	for _, entry := range schedule {
		if entry.ID == later.ID {
			assert.Equal(t, model.RevisionExpired, entry.Status)
		}
	}

	_, err = e.rev.CompleteRevision(ctx, 1, original[0].EntryID)
	require.NoError(t, err)
}
