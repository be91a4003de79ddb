package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	ResponseStagePrimary  = "primary"
	ResponseStageFollowUp = "followup"
)

// OracyResponse is one recorded answer to a question.
type OracyResponse struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SubmissionID    uint      `gorm:"not null;index" json:"submission_id"`
	QuestionID      uint      `gorm:"not null;index" json:"question_id"`
	Stage           string    `gorm:"size:16;not null;default:primary" json:"stage"`
	AudioBucket     string    `gorm:"size:255" json:"audio_bucket"`
	AudioPath       string    `gorm:"size:512" json:"audio_path"`
	Transcript      *string   `gorm:"type:text" json:"transcript"`
	DurationSeconds *float64  `json:"duration_seconds"`
	FollowUpPrompt  string    `gorm:"type:text" json:"follow_up_prompt"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CachedTranscript returns the stored transcript, if any. A blank stored
// transcript is a miss so the recording is transcribed again.
func (r OracyResponse) CachedTranscript() (string, bool) {
	if r.Transcript == nil || strings.TrimSpace(*r.Transcript) == "" {
		return "", false
	}
	return *r.Transcript, true
}

// EvidenceImage is an image a student attached to a question, with its AI analysis.
type EvidenceImage struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	SubmissionID  uint           `gorm:"not null;index" json:"submission_id"`
	QuestionID    uint           `gorm:"not null;index" json:"question_id"`
	StorageBucket string         `gorm:"size:255" json:"storage_bucket"`
	StoragePath   string         `gorm:"size:512" json:"storage_path"`
	Analysis      datatypes.JSON `json:"analysis"`
	CreatedAt     time.Time      `json:"created_at"`
}
