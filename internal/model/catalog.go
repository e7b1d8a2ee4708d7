package model

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Section 题库目录中的章节（只读）
type Section struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"type:varchar(128);not null" json:"name"`
}

func (Section) TableName() string {
	return "sections"
}

// Question 题库目录中的题目（只读，引擎只关心所属章节与难度）
type Question struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SectionID  uint       `gorm:"index;type:bigint unsigned;not null" json:"sectionId"`
	Difficulty Difficulty `gorm:"type:varchar(16);not null;default:medium" json:"difficulty"`
}

func (Question) TableName() string {
	return "questions"
}
