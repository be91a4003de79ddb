package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/oracy-scoring-api/internal/models"
)

func setupScoringTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Assessment{},
		&models.Question{},
		&models.Rubric{},
		&models.OracySubmission{},
		&models.OracyResponse{},
		&models.EvidenceImage{},
		&models.QuestionScore{},
	))
	return db
}

func seedSubmission(t *testing.T, db *gorm.DB, scoringStatus string) models.OracySubmission {
	t.Helper()
	submission := models.OracySubmission{
		AssessmentID:  1,
		StudentID:     7,
		Status:        models.SubmissionStatusSubmitted,
		ScoringStatus: scoringStatus,
	}
	require.NoError(t, db.Create(&submission).Error)
	return submission
}

func TestClaimScoringOnlyFromPendingOrError(t *testing.T) {
	db := setupScoringTestDB(t)
	repo := NewScoringRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	pending := seedSubmission(t, db, models.ScoringStatusPending)
	claimed, err := repo.ClaimScoring(ctx, pending.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = repo.ClaimScoring(ctx, pending.ID, now)
	require.NoError(t, err)
	require.False(t, claimed, "a running submission cannot be claimed twice")

	stored, err := repo.GetSubmission(ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, models.ScoringStatusRunning, stored.ScoringStatus)
	require.NotNil(t, stored.ScoringStartedAt)

	failed := seedSubmission(t, db, models.ScoringStatusError)
	claimed, err = repo.ClaimScoring(ctx, failed.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)

	complete := seedSubmission(t, db, models.ScoringStatusComplete)
	claimed, err = repo.ClaimScoring(ctx, complete.ID, now)
	require.NoError(t, err)
	require.False(t, claimed)

	claimed, err = repo.ClaimScoring(ctx, 9999, now)
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestResetScoringRespectsLiveClaims(t *testing.T) {
	db := setupScoringTestDB(t)
	repo := NewScoringRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	submission := seedSubmission(t, db, models.ScoringStatusPending)
	claimed, err := repo.ClaimScoring(ctx, submission.ID, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	reset, err := repo.ResetScoring(ctx, submission.ID, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.False(t, reset, "a fresh running claim must not be reset")

	reset, err = repo.ResetScoring(ctx, submission.ID, now)
	require.NoError(t, err)
	require.True(t, reset, "a stale running claim can be reset")

	stored, err := repo.GetSubmission(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.ScoringStatusPending, stored.ScoringStatus)
	require.Nil(t, stored.ScoringStartedAt)

	require.NoError(t, repo.CompleteScoring(ctx, submission.ID, now))
	reset, err = repo.ResetScoring(ctx, submission.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, reset)

	require.NoError(t, repo.FailScoring(ctx, submission.ID, "1 question(s) failed: boom", now))
	reset, err = repo.ResetScoring(ctx, submission.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, reset)

	stored, err = repo.GetSubmission(ctx, submission.ID)
	require.NoError(t, err)
	require.Nil(t, stored.ScoringError)
}

func TestTerminalWrites(t *testing.T) {
	db := setupScoringTestDB(t)
	repo := NewScoringRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	submission := seedSubmission(t, db, models.ScoringStatusRunning)
	require.NoError(t, repo.FailScoring(ctx, submission.ID, "No recordings found", now))

	stored, err := repo.GetSubmission(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.ScoringStatusError, stored.ScoringStatus)
	require.NotNil(t, stored.ScoringError)
	require.Equal(t, "No recordings found", *stored.ScoringError)
	require.NotNil(t, stored.ScoringFinishedAt)

	require.NoError(t, repo.CompleteScoring(ctx, submission.ID, now))
	stored, err = repo.GetSubmission(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.ScoringStatusComplete, stored.ScoringStatus)
	require.Nil(t, stored.ScoringError)
}

func TestUpsertQuestionScoresOverwritesByNaturalKey(t *testing.T) {
	db := setupScoringTestDB(t)
	repo := NewScoringRepository(db)
	ctx := context.Background()

	first := []models.QuestionScore{
		{SubmissionID: 1, QuestionID: 2, ScorerType: models.RubricTypeReasoning, Score: 3, Justification: "first", Details: datatypes.JSONMap{"decision": "agreement"}},
		{SubmissionID: 1, QuestionID: 2, ScorerType: models.RubricTypeEvidence, Score: 2, Justification: "first"},
	}
	require.NoError(t, repo.UpsertQuestionScores(ctx, first))

	second := []models.QuestionScore{
		{SubmissionID: 1, QuestionID: 2, ScorerType: models.RubricTypeReasoning, Score: 5, Justification: "second", Details: datatypes.JSONMap{"decision": "review_override"}},
		{SubmissionID: 1, QuestionID: 2, ScorerType: models.RubricTypeEvidence, Score: 4, Justification: "second"},
	}
	require.NoError(t, repo.UpsertQuestionScores(ctx, second))
	require.NoError(t, repo.UpsertQuestionScores(ctx, nil))

	scores, err := repo.ListQuestionScores(ctx, 1)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	require.Equal(t, models.RubricTypeEvidence, scores[0].ScorerType)
	require.Equal(t, 4, scores[0].Score)
	require.Equal(t, models.RubricTypeReasoning, scores[1].ScorerType)
	require.Equal(t, 5, scores[1].Score)
	require.Equal(t, "second", scores[1].Justification)
	require.Equal(t, "review_override", scores[1].Details["decision"])
}

func TestSaveTranscriptKeepsExistingDuration(t *testing.T) {
	db := setupScoringTestDB(t)
	repo := NewScoringRepository(db)
	ctx := context.Background()

	existing := 12.0
	withDuration := models.OracyResponse{SubmissionID: 1, QuestionID: 1, Stage: models.ResponseStagePrimary, AudioPath: "a.webm", DurationSeconds: &existing}
	withoutDuration := models.OracyResponse{SubmissionID: 1, QuestionID: 2, Stage: models.ResponseStagePrimary, AudioPath: "b.webm"}
	require.NoError(t, db.Create(&withDuration).Error)
	require.NoError(t, db.Create(&withoutDuration).Error)

	measured := 30.5
	require.NoError(t, repo.SaveTranscript(ctx, withDuration.ID, "first (pause 6.0s) answer", &measured))
	require.NoError(t, repo.SaveTranscript(ctx, withoutDuration.ID, "second answer", &measured))

	responses, err := repo.ListResponses(ctx, 1)
	require.NoError(t, err)
	require.Len(t, responses, 2)

	transcript, ok := responses[0].CachedTranscript()
	require.True(t, ok)
	require.Equal(t, "first (pause 6.0s) answer", transcript)
	require.Equal(t, 12.0, *responses[0].DurationSeconds)
	require.Equal(t, 30.5, *responses[1].DurationSeconds)
}

func TestListQuestionsOrderedByIndex(t *testing.T) {
	db := setupScoringTestDB(t)
	repo := NewScoringRepository(db)

	for _, q := range []models.Question{
		{AssessmentID: 1, OrderIndex: 2, Prompt: "third"},
		{AssessmentID: 1, OrderIndex: 0, Prompt: "first"},
		{AssessmentID: 1, OrderIndex: 1, Prompt: "second"},
		{AssessmentID: 2, OrderIndex: 0, Prompt: "other"},
	} {
		question := q
		require.NoError(t, db.Create(&question).Error)
	}

	questions, err := repo.ListQuestions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, questions, 3)
	require.Equal(t, "first", questions[0].Prompt)
	require.Equal(t, "second", questions[1].Prompt)
	require.Equal(t, "third", questions[2].Prompt)
}
