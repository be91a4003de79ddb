package dto

import (
	"time"

	"github.com/noah-isme/oracy-scoring-api/internal/models"
)

// RescoreRequest is the optional body accepted by the manual re-score endpoint.
type RescoreRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// ScoringOutcome summarises one orchestrator invocation.
type ScoringOutcome struct {
	SubmissionID uint   `json:"submission_id"`
	Status       string `json:"status"`
	Skipped      bool   `json:"skipped"`
	Reason       string `json:"reason,omitempty"`
	Queued       bool   `json:"queued,omitempty"`
	Attempted    int    `json:"attempted"`
	Scored       int    `json:"scored"`
	Failed       int    `json:"failed"`
	Message      string `json:"message,omitempty"`
}

// QuestionScoreResponse is the public view of a persisted question score.
type QuestionScoreResponse struct {
	QuestionID    uint                   `json:"question_id"`
	ScorerType    string                 `json:"scorer_type"`
	Score         int                    `json:"score"`
	Justification string                 `json:"justification"`
	Details       map[string]interface{} `json:"details,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// ScoringStatusResponse reports a submission's scoring state and scores.
type ScoringStatusResponse struct {
	SubmissionID      uint                    `json:"submission_id"`
	StudentID         uint                    `json:"student_id"`
	Status            string                  `json:"status"`
	ScoringStatus     string                  `json:"scoring_status"`
	ScoringError      *string                 `json:"scoring_error,omitempty"`
	ScoringStartedAt  *time.Time              `json:"scoring_started_at,omitempty"`
	ScoringFinishedAt *time.Time              `json:"scoring_finished_at,omitempty"`
	Scores            []QuestionScoreResponse `json:"scores"`
}

// ScoringEvent is broadcast after a submission reaches a terminal scoring status.
type ScoringEvent struct {
	Source       string    `json:"source"`
	SubmissionID uint      `json:"submission_id"`
	Status       string    `json:"status"`
	Attempted    int       `json:"attempted"`
	Scored       int       `json:"scored"`
	Failed       int       `json:"failed"`
	Message      string    `json:"message,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// ScoringRequest is queued when scoring runs asynchronously.
type ScoringRequest struct {
	SubmissionID  uint      `json:"submission_id"`
	Rescore       bool      `json:"rescore"`
	RequestedBy   uint      `json:"requested_by,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewScoringStatusResponse builds the status view from the stored rows.
func NewScoringStatusResponse(submission models.OracySubmission, scores []models.QuestionScore) ScoringStatusResponse {
	items := make([]QuestionScoreResponse, 0, len(scores))
	for _, score := range scores {
		items = append(items, QuestionScoreResponse{
			QuestionID:    score.QuestionID,
			ScorerType:    score.ScorerType,
			Score:         score.Score,
			Justification: score.Justification,
			Details:       score.Details,
			UpdatedAt:     score.UpdatedAt,
		})
	}

	return ScoringStatusResponse{
		SubmissionID:      submission.ID,
		StudentID:         submission.StudentID,
		Status:            submission.Status,
		ScoringStatus:     submission.ScoringStatus,
		ScoringError:      submission.ScoringError,
		ScoringStartedAt:  submission.ScoringStartedAt,
		ScoringFinishedAt: submission.ScoringFinishedAt,
		Scores:            items,
	}
}
