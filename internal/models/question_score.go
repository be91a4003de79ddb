package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuestionScore is the reconciled score for one rubric dimension of one answered question.
type QuestionScore struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	SubmissionID  uint              `gorm:"not null;uniqueIndex:idx_question_score_key" json:"submission_id"`
	QuestionID    uint              `gorm:"not null;uniqueIndex:idx_question_score_key" json:"question_id"`
	ScorerType    string            `gorm:"size:32;not null;uniqueIndex:idx_question_score_key" json:"scorer_type"`
	Score         int               `gorm:"not null" json:"score"`
	Justification string            `gorm:"type:text" json:"justification"`
	Details       datatypes.JSONMap `json:"details"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
