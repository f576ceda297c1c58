package types

import (
	"time"
)

// Question is the authoritative content row that downstream features read
// from. QuestionID is the semantic identifier (e.g. "DCF-WACC-B-G-001"), not
// a surrogate key; the staging pipeline is the only writer.
type Question struct {
	QuestionID    string    `gorm:"column:question_id;primaryKey" json:"question_id"`
	Topic         string    `gorm:"column:topic;not null;index" json:"topic"`
	Subtopic      string    `gorm:"column:subtopic;not null" json:"subtopic"`
	Difficulty    string    `gorm:"column:difficulty;not null" json:"difficulty"`
	Type          string    `gorm:"column:type;not null" json:"type"`
	Question      string    `gorm:"column:question;not null" json:"question"`
	Answer        string    `gorm:"column:answer;not null" json:"answer"`
	NotesForTutor string    `gorm:"column:notes_for_tutor" json:"notes_for_tutor,omitempty"`
	UploadedBy    string    `gorm:"column:uploaded_by" json:"uploaded_by"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Question) TableName() string { return "question" }
