package service

import (
	"context"
	"exam_prep_backend/internal/config"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/repository"
	"exam_prep_backend/internal/repository/testutil"
	"exam_prep_backend/pkg/queue"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixedEntitlements struct {
	unlimited bool
	err       error
}

func (f fixedEntitlements) IsUnlimited(ctx context.Context, userID uint) (bool, error) {
	return f.unlimited, f.err
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advanceDays(n int) { c.now = c.now.AddDate(0, 0, n) }

// testEngine 基于内存 SQLite 装配的完整引擎
type testEngine struct {
	db      *gorm.DB
	clock   *testClock
	queue   *queue.MemoryQueue
	cfg     config.EngineConfig
	streak  *StreakService
	weak    *WeakTopicService
	rev     *RevisionService
	usage   *UsageService
	follow  *FollowUpService
	attempt *AttemptService
}

func newTestEngine(t *testing.T, ent EntitlementChecker) *testEngine {
	t.Helper()
	return newTestEngineOn(t, testutil.DB(t), ent)
}

// newConcurrentTestEngine 基于多连接文件库，goroutine 之间不共享连接
func newConcurrentTestEngine(t *testing.T, ent EntitlementChecker) *testEngine {
	t.Helper()
	return newTestEngineOn(t, testutil.FileDB(t, 8), ent)
}

func newTestEngineOn(t *testing.T, db *gorm.DB, ent EntitlementChecker) *testEngine {
	t.Helper()

	cfg := config.DefaultEngineConfig()
	clock := &testClock{now: testNow}
	q := queue.NewMemoryQueue()
	t.Cleanup(q.Close)

	attemptRepo := repository.NewAttemptRepository(db)
	weakRepo := repository.NewWeakSectionRepository(db)
	taskRepo := repository.NewFollowUpTaskRepository(db)

	e := &testEngine{db: db, clock: clock, queue: q, cfg: cfg}
	e.streak = NewStreakService(attemptRepo, repository.NewStreakRepository(db))
	e.weak = NewWeakTopicService(db, attemptRepo, weakRepo, WeakTopicSettingsFromConfig(cfg))
	e.rev = NewRevisionService(db, repository.NewRevisionRepository(db), weakRepo, e.weak, RevisionSettingsFromConfig(cfg))
	e.usage = NewUsageService(repository.NewUsageRepository(db), ent, UsageCapsFromConfig(cfg))
	e.follow = NewFollowUpService(taskRepo, q, e.streak, e.weak, e.rev, FollowUpSettingsFromConfig(cfg))
	e.attempt = NewAttemptService(db, attemptRepo, taskRepo, e.usage, e.follow)

	e.streak.Now = clock.Now
	e.weak.Now = clock.Now
	e.rev.Now = clock.Now
	e.usage.Now = clock.Now
	e.follow.Now = clock.Now
	e.attempt.Now = clock.Now
	return e
}

func (e *testEngine) today() time.Time {
	return time.Date(e.clock.now.Year(), e.clock.now.Month(), e.clock.now.Day(), 0, 0, 0, 0, time.UTC)
}

func (e *testEngine) section(t *testing.T, name string) model.Section {
	return testutil.SeedSection(t, e.db, name)
}

// submit 直接写入一次已提交的练习
func (e *testEngine) submit(t *testing.T, userID, sectionID uint, correct, total int) {
	testutil.SeedSubmittedAttempt(t, e.db, userID, model.TestTypePractice, e.clock.now, testutil.SectionAnswers(sectionID, correct, total))
}

func (e *testEngine) pendingItems(t *testing.T, userID, sectionID uint) []model.RevisionItem {
	t.Helper()
	var items []model.RevisionItem
	require.NoError(t, e.db.Where("user_id = ? AND section_id = ? AND status = ?", userID, sectionID, model.RevisionPending).
		Order("interval_index ASC").Find(&items).Error)
	return items
}
