package model

import "time"

// AnalyticsOverview 总体统计
type AnalyticsOverview struct {
	Range            string  `json:"range"`
	TotalAttempts    int     `json:"totalAttempts"`
	TotalQuestions   int     `json:"totalQuestions"`
	CorrectAnswers   int     `json:"correctAnswers"`
	Accuracy         float64 `json:"accuracy"`
	AverageScore     float64 `json:"averageScore"`
	TotalTimeSeconds int     `json:"totalTimeSeconds"`
	PracticeDays     int     `json:"practiceDays"`
}

// AccuracyPoint 每日正确率
type AccuracyPoint struct {
	Date      string  `json:"date"`
	Attempts  int     `json:"attempts"`
	Questions int     `json:"questions"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`
}

// AccuracyTrend 正确率趋势
type AccuracyTrend struct {
	Range  string          `json:"range"`
	Points []AccuracyPoint `json:"points"`
	Trend  string          `json:"trend"` // improving, declining, stable
}

// DifficultyStat 按难度统计
type DifficultyStat struct {
	Difficulty       Difficulty `json:"difficulty"`
	Answered         int        `json:"answered"`
	Correct          int        `json:"correct"`
	Accuracy         float64    `json:"accuracy"`
	AverageTimeSpent float64    `json:"averageTimeSpent"`
}

// DifficultyBreakdown 难度分布
type DifficultyBreakdown struct {
	Range string           `json:"range"`
	Stats []DifficultyStat `json:"stats"`
}

// TestTypeStat 按测试类型对比
type TestTypeStat struct {
	TestType         TestType `json:"testType"`
	Attempts         int      `json:"attempts"`
	AverageScore     float64  `json:"averageScore"`
	Accuracy         float64  `json:"accuracy"`
	AverageTimeSpent float64  `json:"averageTimeSpent"`
}

// TestTypeComparison 测试类型对比
type TestTypeComparison struct {
	Range string         `json:"range"`
	Types []TestTypeStat `json:"types"`
}

// TimeBucket 某个小时/星期几的表现
type TimeBucket struct {
	Bucket    int     `json:"bucket"`
	Questions int     `json:"questions"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`
}

// TimePerformance 按一天中的小时(0-23)与星期几(0=周日)统计
type TimePerformance struct {
	Range     string       `json:"range"`
	HourOfDay []TimeBucket `json:"hourOfDay"`
	DayOfWeek []TimeBucket `json:"dayOfWeek"`
}

// Insight 文本化建议
type Insight struct {
	Kind    string `json:"kind"` // strength, weakness, habit, streak, info
	Message string `json:"message"`
}

// Insights 建议列表
type Insights struct {
	Range string    `json:"range"`
	Items []Insight `json:"items"`
}

// Dashboard 仪表盘聚合
type Dashboard struct {
	Overview        AnalyticsOverview   `json:"overview"`
	Trend           AccuracyTrend       `json:"trend"`
	Difficulty      DifficultyBreakdown `json:"difficulty"`
	TestTypes       TestTypeComparison  `json:"testTypes"`
	TimePerformance TimePerformance     `json:"timePerformance"`
	Insights        Insights            `json:"insights"`
}

// AttemptRow 分析查询使用的尝试记录投影
type AttemptRow struct {
	ID               uint
	TestType         TestType
	SubmittedAt      time.Time
	CorrectAnswers   int
	TotalQuestions   int
	Score            float64
	TimeSpentSeconds int
}

// AnswerRow 分析查询使用的作答投影（含题目难度与提交时间）
type AnswerRow struct {
	AttemptID        uint
	SectionID        uint
	Difficulty       Difficulty
	IsCorrect        bool
	TimeSpentSeconds int
	SubmittedAt      time.Time
}
