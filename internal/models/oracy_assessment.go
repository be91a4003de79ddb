package models

import "time"

const (
	// QuestionTypeStandard expects a single spoken answer.
	QuestionTypeStandard = "standard"
	// QuestionTypeSpokenFollowUp expects a spoken answer to an AI generated follow-up prompt.
	QuestionTypeSpokenFollowUp = "spoken_follow_up"
	// QuestionTypeEvidenceFollowUp expects an evidence image that is analysed before scoring.
	QuestionTypeEvidenceFollowUp = "evidence_follow_up"
)

const (
	RubricTypeReasoning = "reasoning"
	RubricTypeEvidence  = "evidence"
)

// Assessment groups the questions and rubrics a student answers orally.
type Assessment struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Title     string     `gorm:"size:255;not null" json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Questions []Question `json:"questions,omitempty"`
	Rubrics   []Rubric   `json:"rubrics,omitempty"`
}

// Question is one prompt within an assessment.
type Question struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AssessmentID uint      `gorm:"not null;index" json:"assessment_id"`
	OrderIndex   int       `gorm:"not null;default:0" json:"order_index"`
	Prompt       string    `gorm:"type:text;not null" json:"prompt"`
	Type         string    `gorm:"size:32;not null;default:standard" json:"type"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExpectsSpokenFollowUp reports whether a second spoken answer is part of the question.
func (q Question) ExpectsSpokenFollowUp() bool {
	return q.Type == QuestionTypeSpokenFollowUp
}

// ExpectsEvidenceFollowUp reports whether an evidence image accompanies the answer.
func (q Question) ExpectsEvidenceFollowUp() bool {
	return q.Type == QuestionTypeEvidenceFollowUp
}

// Rubric holds the grading instructions for one dimension of an assessment.
type Rubric struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AssessmentID uint      `gorm:"not null;uniqueIndex:idx_rubric_assessment_type" json:"assessment_id"`
	Type         string    `gorm:"size:32;not null;uniqueIndex:idx_rubric_assessment_type" json:"type"`
	Instructions string    `gorm:"type:text;not null" json:"instructions"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
