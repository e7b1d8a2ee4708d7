package service

import (
	"context"
	"errors"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/repository"
	"exam_prep_backend/internal/repository/testutil"
	"exam_prep_backend/internal/util"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestConcurrentMockTestConsumption(t *testing.T) {
	e := newConcurrentTestEngine(t, fixedEntitlements{})
	ctx := context.Background()

	const callers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
		other    []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.usage.Consume(ctx, 1, model.ResourceMockTest)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, util.ErrQuotaExceeded):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 5, ok)
	assert.Equal(t, 1, rejected)

	reached, err := e.usage.HasReachedMockTestLimit(ctx, 1)
	require.NoError(t, err)
	assert.True(t, reached)
}

func TestConcurrentMockTestStarts(t *testing.T) {
	e := newConcurrentTestEngine(t, fixedEntitlements{})
	ctx := context.Background()

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = e.attempt.Start(ctx, 1, model.TestTypeMock, "")
		}(i)
	}
	close(start)
	wg.Wait()

	started := 0
	for _, err := range errs {
		if err == nil {
			started++
			continue
		}
		assert.ErrorIs(t, err, util.ErrQuotaExceeded)
	}
	assert.Equal(t, 5, started)

	var attempts int64
	require.NoError(t, e.db.Model(&model.Attempt{}).Count(&attempts).Error)
	assert.EqualValues(t, 5, attempts)
}

func TestConsumeReadBackFailureLeavesQuotaUntouched(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()

	const name = "test:fail_usage_read"
	require.NoError(t, e.db.Callback().Query().Before("gorm:query").Register(name, func(db *gorm.DB) {
		if db.Statement.Table == (model.UsageCounter{}).TableName() {
			_ = db.AddError(errors.New("usage read failed"))
		}
	}))

	_, err := e.usage.Consume(ctx, 1, model.ResourceMockTest)
	require.Error(t, err)

	require.NoError(t, e.db.Callback().Query().Remove(name))

	decision, err := e.usage.Check(ctx, 1, model.ResourceMockTest)
	require.NoError(t, err)
	assert.Equal(t, 5, decision.Remaining)

	decision, err = e.usage.Consume(ctx, 1, model.ResourceMockTest)
	require.NoError(t, err)
	assert.Equal(t, 4, decision.Remaining)
}

func TestMockTestQuotaNeverRollsOver(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		decision, err := e.usage.Consume(ctx, 1, model.ResourceMockTest)
		require.NoError(t, err)
		assert.Equal(t, 4-i, decision.Remaining)
	}

	e.clock.advanceDays(400)
	_, err := e.usage.Consume(ctx, 1, model.ResourceMockTest)
	assert.ErrorIs(t, err, util.ErrQuotaExceeded)
}

func TestPracticeQuotaRollsOverDaily(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	e.usage.SetCaps(UsageCaps{MockTest: 5, PracticeQuestion: 2})

	_, err := e.usage.Consume(ctx, 1, model.ResourcePracticeQuestion)
	require.NoError(t, err)
	_, err = e.usage.Consume(ctx, 1, model.ResourcePracticeQuestion)
	require.NoError(t, err)
	_, err = e.usage.Consume(ctx, 1, model.ResourcePracticeQuestion)
	assert.ErrorIs(t, err, util.ErrQuotaExceeded)

	// 同一天的最后一秒仍属于当天
	e.clock.now = time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC)
	_, err = e.usage.Consume(ctx, 1, model.ResourcePracticeQuestion)
	assert.ErrorIs(t, err, util.ErrQuotaExceeded)

	e.clock.now = time.Date(2026, 3, 11, 0, 0, 1, 0, time.UTC)
	decision, err := e.usage.Check(ctx, 1, model.ResourcePracticeQuestion)
	require.NoError(t, err)
	assert.True(t, decision.CanConsume)
	assert.Equal(t, 2, decision.Remaining)

	remaining, err := e.usage.GetRemainingFreeUsage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, &model.RemainingUsage{MockTests: 5, PracticeQuestions: 2}, remaining)
}

func TestUnlimitedUsersBypassCounters(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{unlimited: true})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		decision, err := e.usage.Consume(ctx, 1, model.ResourceMockTest)
		require.NoError(t, err)
		assert.True(t, decision.IsUnlimited)
	}

	var count int64
	require.NoError(t, e.db.Model(&model.UsageCounter{}).Count(&count).Error)
	assert.Zero(t, count)

	remaining, err := e.usage.GetRemainingFreeUsage(ctx, 1)
	require.NoError(t, err)
	assert.True(t, remaining.IsUnlimited)
	assert.Equal(t, -1, remaining.MockTests)

	reached, err := e.usage.HasReachedMockTestLimit(ctx, 1)
	require.NoError(t, err)
	assert.False(t, reached)
}

func TestQuotaErrorsPropagate(t *testing.T) {
	billingDown := errors.New("billing unavailable")
	e := newTestEngine(t, fixedEntitlements{err: billingDown})
	ctx := context.Background()

	_, err := e.usage.Consume(ctx, 1, model.ResourceMockTest)
	assert.ErrorIs(t, err, billingDown)

	_, err = e.usage.HasReachedMockTestLimit(ctx, 1)
	assert.ErrorIs(t, err, billingDown)

	_, err = e.usage.Check(ctx, 1, model.ResourceKind("essay"))
	assert.ErrorIs(t, err, util.ErrInvalidResourceKind)
}

func TestNegativeCounterIsInvariantViolation(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	require.NoError(t, e.db.Create(&model.UsageCounter{
		UserID: 1, ResourceKind: model.ResourceMockTest, PeriodKey: util.PeriodLifetime, ConsumedCount: -1,
	}).Error)

	_, err := e.usage.Check(context.Background(), 1, model.ResourceMockTest)
	assert.ErrorIs(t, err, util.ErrInvariantViolation)
}

func TestEntitlementServiceReadsBillingModel(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	svc := NewEntitlementService(repository.NewEntitlementRepository(db), nil, time.Minute)
	svc.Now = func() time.Time { return testNow }

	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)
	require.NoError(t, db.Create(&[]model.UserEntitlement{
		{UserID: 1, Plan: "pro", IsUnlimited: true},
		{UserID: 2, Plan: "pro", IsUnlimited: true, ExpiresAt: &past},
		{UserID: 3, Plan: "pro", IsUnlimited: true, ExpiresAt: &future},
		{UserID: 4, Plan: "free"},
	}).Error)

	for userID, want := range map[uint]bool{1: true, 2: false, 3: true, 4: false, 5: false} {
		got, err := svc.IsUnlimited(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, want, got, "user %d", userID)
	}
}
