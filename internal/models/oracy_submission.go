package models

import "time"

const (
	// SubmissionStatusStarted marks an attempt the student has opened but not handed in.
	SubmissionStatusStarted = "started"
	// SubmissionStatusSubmitted marks an attempt that is ready to be scored.
	SubmissionStatusSubmitted = "submitted"
	// SubmissionStatusRestarted marks an attempt the student chose to redo.
	SubmissionStatusRestarted = "restarted"
)

const (
	ScoringStatusPending  = "pending"
	ScoringStatusRunning  = "running"
	ScoringStatusComplete = "complete"
	ScoringStatusError    = "error"
)

// OracySubmission is one student's attempt at one oral assessment.
type OracySubmission struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	AssessmentID      uint       `gorm:"not null;index" json:"assessment_id"`
	StudentID         uint       `gorm:"not null;index" json:"student_id"`
	Status            string     `gorm:"size:32;not null;default:started" json:"status"`
	ScoringStatus     string     `gorm:"size:32;not null;default:pending" json:"scoring_status"`
	ScoringError      *string    `gorm:"type:text" json:"scoring_error"`
	ScoringStartedAt  *time.Time `json:"scoring_started_at"`
	ScoringFinishedAt *time.Time `json:"scoring_finished_at"`
	SubmittedAt       *time.Time `json:"submitted_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsSubmitted reports whether the attempt has been handed in.
func (s OracySubmission) IsSubmitted() bool {
	return s.Status == SubmissionStatusSubmitted
}

// IsScored reports whether every attempted question was scored cleanly.
func (s OracySubmission) IsScored() bool {
	return s.ScoringStatus == ScoringStatusComplete
}

// ScoringStale reports whether a running claim started before the cutoff.
func (s OracySubmission) ScoringStale(cutoff time.Time) bool {
	if s.ScoringStatus != ScoringStatusRunning {
		return false
	}
	return s.ScoringStartedAt == nil || s.ScoringStartedAt.Before(cutoff)
}
