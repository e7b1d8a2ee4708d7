package model

import "time"

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptAbandoned  AttemptStatus = "abandoned"
)

type TestType string

const (
	TestTypeMock      TestType = "mock"
	TestTypePractice  TestType = "practice"
	TestTypeSectional TestType = "sectional"
)

// Valid 是否为已知的测试类型
func (t TestType) Valid() bool {
	switch t {
	case TestTypeMock, TestTypePractice, TestTypeSectional:
		return true
	}
	return false
}

// Attempt 一次测试/练习记录，提交时更新一次，此后不可变
// swagger:model Attempt
type Attempt struct {
	ID               uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           uint          `gorm:"index:idx_attempt_user_status;type:bigint unsigned;not null" json:"userId"`
	SessionID        string        `gorm:"type:varchar(64);index" json:"sessionId"`
	TestType         TestType      `gorm:"type:varchar(16);not null;default:practice" json:"testType"`
	StartedAt        time.Time     `gorm:"not null" json:"startedAt"`
	SubmittedAt      *time.Time    `gorm:"index" json:"submittedAt,omitempty"`
	Status           AttemptStatus `gorm:"index:idx_attempt_user_status;type:varchar(16);not null;default:in_progress" json:"status"`
	CorrectAnswers   int           `json:"correctAnswers"`
	TotalQuestions   int           `json:"totalQuestions"`
	Score            float64       `json:"score"`
	TimeSpentSeconds int           `json:"timeSpentSeconds"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

func (Attempt) TableName() string {
	return "attempts"
}

// Answer 一次尝试中每道题的作答，提交时批量写入
// swagger:model Answer
type Answer struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AttemptID        uint      `gorm:"index;type:bigint unsigned;not null" json:"attemptId"`
	QuestionID       uint      `gorm:"index;type:bigint unsigned;not null" json:"questionId"`
	SectionID        uint      `gorm:"index;type:bigint unsigned;not null" json:"sectionId"`
	IsCorrect        bool      `gorm:"not null;default:false" json:"isCorrect"`
	TimeSpentSeconds int       `json:"timeSpentSeconds"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (Answer) TableName() string {
	return "attempt_answers"
}
