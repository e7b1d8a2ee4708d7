package service

import (
	"context"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/repository/testutil"
	"exam_prep_backend/internal/util"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedQuestions(t *testing.T, e *testEngine, sectionID uint, n int) []model.Question {
	qs := make([]model.Question, 0, n)
	for i := 0; i < n; i++ {
		qs = append(qs, testutil.SeedQuestion(t, e.db, sectionID, model.DifficultyMedium))
	}
	return qs
}

func answersFor(qs []model.Question, correct int) []SubmittedAnswer {
	out := make([]SubmittedAnswer, 0, len(qs))
	for i, q := range qs {
		out = append(out, SubmittedAnswer{QuestionID: q.ID, IsCorrect: i < correct, TimeSpentSeconds: 45})
	}
	return out
}

func TestSubmitHandsOffFollowUpTask(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	sec := e.section(t, "Kinematics")
	qs := seedQuestions(t, e, sec.ID, 10)

	attempt, err := e.attempt.Start(ctx, 1, model.TestTypePractice, "session-1")
	require.NoError(t, err)

	submitted, err := e.attempt.Submit(ctx, 1, attempt.ID, answersFor(qs, 3))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptSubmitted, submitted.Status)
	assert.Equal(t, 3, submitted.CorrectAnswers)
	assert.InDelta(t, 30.0, submitted.Score, 1e-9)

	// 提交不等待后续分析
	var weakCount int64
	require.NoError(t, e.db.Model(&model.WeakSection{}).Count(&weakCount).Error)
	assert.Zero(t, weakCount)

	pending, _ := e.queue.Len()
	assert.Equal(t, 1, pending)

	msg, err := e.queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)

	require.NoError(t, e.follow.Process(ctx, msg.Payload))
	// 至少一次投递：重复处理是空操作
	require.NoError(t, e.follow.Process(ctx, msg.Payload))
	require.NoError(t, e.queue.Ack(ctx, msg))

	task, err := e.follow.TaskRepo.FindByID(ctx, msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, model.FollowUpDone, task.Status)
	assert.Equal(t, 1, task.Attempts)

	require.NoError(t, e.db.Model(&model.WeakSection{}).Count(&weakCount).Error)
	assert.EqualValues(t, 1, weakCount)
	ws, err := e.weak.WeakRepo.Find(ctx, 1, sec.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, ws.SampleCount)

	assert.Len(t, e.pendingItems(t, 1, sec.ID), 1)

	streak, err := e.streak.StreakRepo.FindByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, streak.CurrentStreakDays)
}

func TestSubmitOnlyOnce(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	sec := e.section(t, "Waves")
	qs := seedQuestions(t, e, sec.ID, 2)

	attempt, err := e.attempt.Start(ctx, 1, "", "")
	require.NoError(t, err)
	assert.Equal(t, model.TestTypePractice, attempt.TestType)

	_, err = e.attempt.Submit(ctx, 2, attempt.ID, answersFor(qs, 1))
	assert.ErrorIs(t, err, util.ErrAttemptNotFound)

	_, err = e.attempt.Submit(ctx, 1, attempt.ID, []SubmittedAnswer{{QuestionID: 9999}})
	assert.ErrorIs(t, err, util.ErrUnknownQuestion)

	_, err = e.attempt.Submit(ctx, 1, attempt.ID, nil)
	assert.ErrorIs(t, err, util.ErrEmptySubmission)

	_, err = e.attempt.Submit(ctx, 1, attempt.ID, answersFor(qs, 1))
	require.NoError(t, err)

	_, err = e.attempt.Submit(ctx, 1, attempt.ID, answersFor(qs, 2))
	assert.ErrorIs(t, err, util.ErrAttemptAlreadySubmitted)

	var answers int64
	require.NoError(t, e.db.Model(&model.Answer{}).Count(&answers).Error)
	assert.EqualValues(t, 2, answers)
}

func TestMockTestStartIsQuotaGated(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.attempt.Start(ctx, 1, model.TestTypeMock, "")
		require.NoError(t, err)
	}
	_, err := e.attempt.Start(ctx, 1, model.TestTypeMock, "")
	assert.ErrorIs(t, err, util.ErrQuotaExceeded)

	// 练习不受模拟考额度影响
	_, err = e.attempt.Start(ctx, 1, model.TestTypePractice, "")
	require.NoError(t, err)

	_, err = e.attempt.Start(ctx, 1, model.TestType("oral"), "")
	assert.ErrorIs(t, err, util.ErrInvalidTestType)
}

func TestMockTestStartRollsBackQuotaWhenAttemptWriteFails(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()

	require.NoError(t, e.db.Migrator().DropTable(&model.Attempt{}))

	_, err := e.attempt.Start(ctx, 1, model.TestTypeMock, "")
	require.Error(t, err)

	decision, err := e.usage.Check(ctx, 1, model.ResourceMockTest)
	require.NoError(t, err)
	assert.Equal(t, 5, decision.Remaining)
	assert.True(t, decision.CanConsume)
}

func TestUnlimitedMockTestStartSkipsCounter(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{unlimited: true})
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := e.attempt.Start(ctx, 1, model.TestTypeMock, "")
		require.NoError(t, err)
	}

	var counters int64
	require.NoError(t, e.db.Model(&model.UsageCounter{}).Count(&counters).Error)
	assert.Zero(t, counters)

	var attempts int64
	require.NoError(t, e.db.Model(&model.Attempt{}).Where("test_type = ?", model.TestTypeMock).Count(&attempts).Error)
	assert.EqualValues(t, 7, attempts)
}

func TestWorkersDrainQueueAndSweeperRedelivers(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	sec := e.section(t, "Acids")
	qs := seedQuestions(t, e, sec.ID, 6)

	ctx := context.Background()
	attempt, err := e.attempt.Start(ctx, 1, model.TestTypeSectional, "")
	require.NoError(t, err)
	_, err = e.attempt.Submit(ctx, 1, attempt.ID, answersFor(qs, 1))
	require.NoError(t, err)

	// 模拟投递丢失
	lost, err := e.queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, e.queue.Ack(ctx, lost))

	// updated_at 由数据库写入真实时间
	e.clock.now = time.Now().UTC().Add(2 * e.follow.Settings().SweepInterval)
	n, err := e.follow.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- e.follow.Run(runCtx) }()

	require.Eventually(t, func() bool {
		task, err := e.follow.TaskRepo.FindByID(ctx, lost.Payload)
		return err == nil && task.Status == model.FollowUpDone
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestAnalyzeAsyncRunsInBackground(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	sec := e.section(t, "Optics")
	e.submit(t, 1, sec.ID, 2, 10)

	e.follow.AnalyzeAsync(1)
	e.follow.Wait()

	ws, err := e.weak.WeakRepo.Find(context.Background(), 1, sec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WeakSectionWeak, ws.Status)
	assert.Len(t, e.pendingItems(t, 1, sec.ID), 1)
}
