// Package testutil 为仓库与服务测试提供内存 SQLite 数据库和常用种子数据
package testutil

import (
	"context"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/pkg/database"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var dbSeq int64

// DB 每个测试一个独立的内存库；单连接，保证 :memory: 在整个测试期间可见。
// 单连接会把并发调用排成队，验证并发语义的测试应使用 FileDB。
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	name := fmt.Sprintf("file:engine_test_%d?mode=memory&cache=shared&_busy_timeout=5000", atomic.AddInt64(&dbSeq, 1))
	return open(tb, name, 1)
}

// FileDB 临时目录下的文件库，WAL + 多连接，事务以 BEGIN IMMEDIATE 开始，
// 供多个 goroutine 真正并发地读写
func FileDB(tb testing.TB, conns int) *gorm.DB {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "engine.db")
	name := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate", path)
	return open(tb, name, conns)
}

func open(tb testing.TB, name string, conns int) *gorm.DB {
	tb.Helper()
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{
		Logger:  gormLogger.Default.LogMode(gormLogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(conns)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedSection 创建章节
func SeedSection(tb testing.TB, db *gorm.DB, name string) model.Section {
	tb.Helper()
	s := model.Section{Name: name}
	if err := db.Create(&s).Error; err != nil {
		tb.Fatalf("seed section: %v", err)
	}
	return s
}

// SeedQuestion 创建题目
func SeedQuestion(tb testing.TB, db *gorm.DB, sectionID uint, difficulty model.Difficulty) model.Question {
	tb.Helper()
	q := model.Question{SectionID: sectionID, Difficulty: difficulty}
	if err := db.Create(&q).Error; err != nil {
		tb.Fatalf("seed question: %v", err)
	}
	return q
}

// AnswerSpec 种子作答
type AnswerSpec struct {
	QuestionID uint
	SectionID  uint
	Correct    bool
	TimeSpent  int
}

// SeedSubmittedAttempt 直接写入一条已提交的尝试及其作答
func SeedSubmittedAttempt(tb testing.TB, db *gorm.DB, userID uint, testType model.TestType, submittedAt time.Time, answers []AnswerSpec) model.Attempt {
	tb.Helper()

	correct := 0
	spent := 0
	for _, a := range answers {
		if a.Correct {
			correct++
		}
		spent += a.TimeSpent
	}
	score := 0.0
	if len(answers) > 0 {
		score = float64(correct) / float64(len(answers)) * 100
	}

	submitted := submittedAt.UTC()
	attempt := model.Attempt{
		UserID:           userID,
		SessionID:        model.GenerateUUID(),
		TestType:         testType,
		StartedAt:        submitted.Add(-time.Duration(spent) * time.Second),
		SubmittedAt:      &submitted,
		Status:           model.AttemptSubmitted,
		CorrectAnswers:   correct,
		TotalQuestions:   len(answers),
		Score:            score,
		TimeSpentSeconds: spent,
	}
	ctx := context.Background()
	if err := db.WithContext(ctx).Create(&attempt).Error; err != nil {
		tb.Fatalf("seed attempt: %v", err)
	}

	if len(answers) > 0 {
		rows := make([]model.Answer, 0, len(answers))
		for _, a := range answers {
			rows = append(rows, model.Answer{
				AttemptID:        attempt.ID,
				QuestionID:       a.QuestionID,
				SectionID:        a.SectionID,
				IsCorrect:        a.Correct,
				TimeSpentSeconds: a.TimeSpent,
			})
		}
		if err := db.WithContext(ctx).Create(&rows).Error; err != nil {
			tb.Fatalf("seed answers: %v", err)
		}
	}
	return attempt
}

// SectionAnswers 生成某章节 total 道题、其中 correct 道答对的作答
func SectionAnswers(sectionID uint, correct, total int) []AnswerSpec {
	specs := make([]AnswerSpec, 0, total)
	for i := 0; i < total; i++ {
		specs = append(specs, AnswerSpec{SectionID: sectionID, Correct: i < correct, TimeSpent: 30})
	}
	return specs
}
