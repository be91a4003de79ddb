package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/oracy-scoring-api/internal/models"
)

// ScoringRepository exposes the persistence operations used by the scoring pipeline.
type ScoringRepository interface {
	GetSubmission(ctx context.Context, id uint) (models.OracySubmission, error)
	// ClaimScoring moves scoring status to running only if it is pending or
	// error. It reports whether this caller won the claim.
	ClaimScoring(ctx context.Context, id uint, startedAt time.Time) (bool, error)
	// ResetScoring moves scoring status back to pending from pending, complete
	// or error, or from a running claim that started before staleBefore.
	ResetScoring(ctx context.Context, id uint, staleBefore time.Time) (bool, error)
	ListQuestions(ctx context.Context, assessmentID uint) ([]models.Question, error)
	ListRubrics(ctx context.Context, assessmentID uint) ([]models.Rubric, error)
	ListResponses(ctx context.Context, submissionID uint) ([]models.OracyResponse, error)
	ListEvidenceImages(ctx context.Context, submissionID uint) ([]models.EvidenceImage, error)
	SaveTranscript(ctx context.Context, responseID uint, transcript string, durationSeconds *float64) error
	UpsertQuestionScores(ctx context.Context, scores []models.QuestionScore) error
	ListQuestionScores(ctx context.Context, submissionID uint) ([]models.QuestionScore, error)
	CompleteScoring(ctx context.Context, id uint, finishedAt time.Time) error
	FailScoring(ctx context.Context, id uint, message string, finishedAt time.Time) error
}

// NewScoringRepository constructs a scoring repository.
func NewScoringRepository(db *gorm.DB) ScoringRepository {
	return &scoringRepository{db: db}
}

type scoringRepository struct {
	db *gorm.DB
}

func (r *scoringRepository) GetSubmission(ctx context.Context, id uint) (models.OracySubmission, error) {
	var submission models.OracySubmission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.OracySubmission{}, err
	}
	return submission, nil
}

func (r *scoringRepository) ClaimScoring(ctx context.Context, id uint, startedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.OracySubmission{}).
		Where("id = ?", id).
		Where("scoring_status IN ?", []string{models.ScoringStatusPending, models.ScoringStatusError}).
		Updates(map[string]interface{}{
			"scoring_status":      models.ScoringStatusRunning,
			"scoring_started_at":  startedAt,
			"scoring_finished_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *scoringRepository) ResetScoring(ctx context.Context, id uint, staleBefore time.Time) (bool, error) {
	settled := []string{models.ScoringStatusPending, models.ScoringStatusComplete, models.ScoringStatusError}
	result := r.db.WithContext(ctx).
		Model(&models.OracySubmission{}).
		Where("id = ?", id).
		Where(
			r.db.Where("scoring_status IN ?", settled).
				Or("scoring_status = ? AND (scoring_started_at IS NULL OR scoring_started_at < ?)", models.ScoringStatusRunning, staleBefore),
		).
		Updates(map[string]interface{}{
			"scoring_status":      models.ScoringStatusPending,
			"scoring_error":       nil,
			"scoring_started_at":  nil,
			"scoring_finished_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *scoringRepository) ListQuestions(ctx context.Context, assessmentID uint) ([]models.Question, error) {
	var questions []models.Question
	if err := r.db.WithContext(ctx).
		Where("assessment_id = ?", assessmentID).
		Order("order_index ASC").
		Order("id ASC").
		Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *scoringRepository) ListRubrics(ctx context.Context, assessmentID uint) ([]models.Rubric, error) {
	var rubrics []models.Rubric
	if err := r.db.WithContext(ctx).
		Where("assessment_id = ?", assessmentID).
		Find(&rubrics).Error; err != nil {
		return nil, err
	}
	return rubrics, nil
}

func (r *scoringRepository) ListResponses(ctx context.Context, submissionID uint) ([]models.OracyResponse, error) {
	var responses []models.OracyResponse
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&responses).Error; err != nil {
		return nil, err
	}
	return responses, nil
}

func (r *scoringRepository) ListEvidenceImages(ctx context.Context, submissionID uint) ([]models.EvidenceImage, error) {
	var images []models.EvidenceImage
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

func (r *scoringRepository) SaveTranscript(ctx context.Context, responseID uint, transcript string, durationSeconds *float64) error {
	updates := map[string]interface{}{"transcript": transcript}
	if durationSeconds != nil {
		updates["duration_seconds"] = gorm.Expr("COALESCE(duration_seconds, ?)", *durationSeconds)
	}
	return r.db.WithContext(ctx).
		Model(&models.OracyResponse{}).
		Where("id = ?", responseID).
		Updates(updates).Error
}

func (r *scoringRepository) UpsertQuestionScores(ctx context.Context, scores []models.QuestionScore) error {
	if len(scores) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "submission_id"}, {Name: "question_id"}, {Name: "scorer_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "justification", "details", "updated_at"}),
		}).
		Create(&scores).Error
}

func (r *scoringRepository) ListQuestionScores(ctx context.Context, submissionID uint) ([]models.QuestionScore, error) {
	var scores []models.QuestionScore
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("question_id ASC").
		Order("scorer_type ASC").
		Find(&scores).Error; err != nil {
		return nil, err
	}
	return scores, nil
}

func (r *scoringRepository) CompleteScoring(ctx context.Context, id uint, finishedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.OracySubmission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"scoring_status":      models.ScoringStatusComplete,
			"scoring_error":       nil,
			"scoring_finished_at": finishedAt,
		}).Error
}

func (r *scoringRepository) FailScoring(ctx context.Context, id uint, message string, finishedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.OracySubmission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"scoring_status":      models.ScoringStatusError,
			"scoring_error":       message,
			"scoring_finished_at": finishedAt,
		}).Error
}
