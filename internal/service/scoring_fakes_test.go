package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/oracy-scoring-api/internal/dto"
	"github.com/noah-isme/oracy-scoring-api/internal/models"
	"github.com/noah-isme/oracy-scoring-api/pkg/ai"
)

type scoreKey struct {
	submissionID uint
	questionID   uint
	scorerType   string
}

type fakeScoringRepo struct {
	mu            sync.Mutex
	submissions   map[uint]*models.OracySubmission
	questions     []models.Question
	rubrics       []models.Rubric
	responses     []models.OracyResponse
	images        []models.EvidenceImage
	scores        map[scoreKey]models.QuestionScore
	transcripts   map[uint]string
	durations     map[uint]float64
	claimAttempts int
	claimsWon     int
	resets        int
	writes        int
	upsertErr     error
}

func newFakeScoringRepo() *fakeScoringRepo {
	return &fakeScoringRepo{
		submissions: make(map[uint]*models.OracySubmission),
		scores:      make(map[scoreKey]models.QuestionScore),
		transcripts: make(map[uint]string),
		durations:   make(map[uint]float64),
	}
}

func (f *fakeScoringRepo) GetSubmission(_ context.Context, id uint) (models.OracySubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	submission, ok := f.submissions[id]
	if !ok {
		return models.OracySubmission{}, gorm.ErrRecordNotFound
	}
	return *submission, nil
}

func (f *fakeScoringRepo) ClaimScoring(_ context.Context, id uint, startedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimAttempts++
	submission, ok := f.submissions[id]
	if !ok {
		return false, nil
	}
	if submission.ScoringStatus != models.ScoringStatusPending && submission.ScoringStatus != models.ScoringStatusError {
		return false, nil
	}
	submission.ScoringStatus = models.ScoringStatusRunning
	submission.ScoringStartedAt = &startedAt
	submission.ScoringFinishedAt = nil
	f.claimsWon++
	f.writes++
	return true, nil
}

func (f *fakeScoringRepo) ResetScoring(_ context.Context, id uint, staleBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	submission, ok := f.submissions[id]
	if !ok {
		return false, nil
	}
	if submission.ScoringStatus == models.ScoringStatusRunning && !submission.ScoringStale(staleBefore) {
		return false, nil
	}
	submission.ScoringStatus = models.ScoringStatusPending
	submission.ScoringError = nil
	submission.ScoringStartedAt = nil
	submission.ScoringFinishedAt = nil
	f.writes++
	return true, nil
}

func (f *fakeScoringRepo) ListQuestions(_ context.Context, assessmentID uint) ([]models.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var questions []models.Question
	for _, q := range f.questions {
		if q.AssessmentID == assessmentID {
			questions = append(questions, q)
		}
	}
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].OrderIndex < questions[j].OrderIndex })
	return questions, nil
}

func (f *fakeScoringRepo) ListRubrics(_ context.Context, assessmentID uint) ([]models.Rubric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rubrics []models.Rubric
	for _, r := range f.rubrics {
		if r.AssessmentID == assessmentID {
			rubrics = append(rubrics, r)
		}
	}
	return rubrics, nil
}

func (f *fakeScoringRepo) ListResponses(_ context.Context, submissionID uint) ([]models.OracyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var responses []models.OracyResponse
	for _, r := range f.responses {
		if r.SubmissionID == submissionID {
			responses = append(responses, r)
		}
	}
	return responses, nil
}

func (f *fakeScoringRepo) ListEvidenceImages(_ context.Context, submissionID uint) ([]models.EvidenceImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var images []models.EvidenceImage
	for _, img := range f.images {
		if img.SubmissionID == submissionID {
			images = append(images, img)
		}
	}
	return images, nil
}

func (f *fakeScoringRepo) SaveTranscript(_ context.Context, responseID uint, transcript string, durationSeconds *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[responseID] = transcript
	if durationSeconds != nil {
		f.durations[responseID] = *durationSeconds
	}
	f.writes++
	return nil
}

func (f *fakeScoringRepo) UpsertQuestionScores(_ context.Context, scores []models.QuestionScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, score := range scores {
		f.scores[scoreKey{score.SubmissionID, score.QuestionID, score.ScorerType}] = score
	}
	f.writes++
	return nil
}

func (f *fakeScoringRepo) ListQuestionScores(_ context.Context, submissionID uint) ([]models.QuestionScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var scores []models.QuestionScore
	for key, score := range f.scores {
		if key.submissionID == submissionID {
			scores = append(scores, score)
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].QuestionID != scores[j].QuestionID {
			return scores[i].QuestionID < scores[j].QuestionID
		}
		return scores[i].ScorerType < scores[j].ScorerType
	})
	return scores, nil
}

func (f *fakeScoringRepo) CompleteScoring(_ context.Context, id uint, finishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	submission := f.submissions[id]
	submission.ScoringStatus = models.ScoringStatusComplete
	submission.ScoringError = nil
	submission.ScoringFinishedAt = &finishedAt
	f.writes++
	return nil
}

func (f *fakeScoringRepo) FailScoring(_ context.Context, id uint, message string, finishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	submission := f.submissions[id]
	submission.ScoringStatus = models.ScoringStatusError
	submission.ScoringError = &message
	submission.ScoringFinishedAt = &finishedAt
	f.writes++
	return nil
}

func (f *fakeScoringRepo) submission(id uint) models.OracySubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.submissions[id]
}

func (f *fakeScoringRepo) scoreCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scores)
}

func (f *fakeScoringRepo) score(submissionID, questionID uint, scorerType string) (models.QuestionScore, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	score, ok := f.scores[scoreKey{submissionID, questionID, scorerType}]
	return score, ok
}

func (f *fakeScoringRepo) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

const (
	testSubmissionID = uint(1)
	testAssessmentID = uint(10)
)

// seedAssessment stores a submitted, pending submission with the given
// number of questions, both rubrics and one primary recording per question.
func seedAssessment(repo *fakeScoringRepo, questionCount int) {
	repo.submissions[testSubmissionID] = &models.OracySubmission{
		ID:            testSubmissionID,
		AssessmentID:  testAssessmentID,
		StudentID:     7,
		Status:        models.SubmissionStatusSubmitted,
		ScoringStatus: models.ScoringStatusPending,
	}
	repo.rubrics = []models.Rubric{
		{ID: 1, AssessmentID: testAssessmentID, Type: models.RubricTypeReasoning, Instructions: "Reward clear causal reasoning."},
		{ID: 2, AssessmentID: testAssessmentID, Type: models.RubricTypeEvidence, Instructions: "Reward specific evidence."},
	}
	for i := 0; i < questionCount; i++ {
		questionID := uint(101 + i)
		repo.questions = append(repo.questions, models.Question{
			ID:           questionID,
			AssessmentID: testAssessmentID,
			OrderIndex:   i,
			Prompt:       fmt.Sprintf("Question %d", i+1),
			Type:         models.QuestionTypeStandard,
		})
		repo.responses = append(repo.responses, models.OracyResponse{
			ID:           uint(1001 + i),
			SubmissionID: testSubmissionID,
			QuestionID:   questionID,
			Stage:        models.ResponseStagePrimary,
			AudioBucket:  "oracy-recordings",
			AudioPath:    fmt.Sprintf("submissions/1/q%d.webm", i+1),
		})
	}
}

type stubAudioStore struct {
	mu    sync.Mutex
	calls int
	paths []string
	fail  map[string]error
}

func (s *stubAudioStore) Download(_ context.Context, _ string, path string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.paths = append(s.paths, path)
	if err, ok := s.fail[path]; ok {
		return nil, "", err
	}
	return []byte("answer for " + path), "audio/webm", nil
}

type stubTranscriber struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, audio []byte) (ai.Transcript, error)
}

func (s *stubTranscriber) Name() string { return "stub_transcriber" }

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte, _ string) (ai.Transcript, error) {
	s.mu.Lock()
	s.calls++
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, audio)
	}
	return ai.Transcript{Text: "transcript of " + string(audio), Duration: 42, Provider: "stub"}, nil
}

func (s *stubTranscriber) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubScorer struct {
	name   string
	mu     sync.Mutex
	inputs []ai.ScoringInput
	fn     func(ctx context.Context, input ai.ScoringInput) (ai.ScoringResult, error)
}

func (s *stubScorer) Name() string { return s.name }

func (s *stubScorer) Score(ctx context.Context, input ai.ScoringInput) (ai.ScoringResult, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, input)
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, input)
	}
	return fixedResult(s.name, 4, 3), nil
}

func (s *stubScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

func fixedResult(provider string, reasoning, evidence int) ai.ScoringResult {
	return ai.ScoringResult{
		Reasoning: ai.DimensionScore{Score: reasoning, Justification: provider + " reasoning note"},
		Evidence:  ai.DimensionScore{Score: evidence, Justification: provider + " evidence note"},
		Provider:  provider,
		Model:     provider + "-model",
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []dto.ScoringEvent
}

func (n *recordingNotifier) Publish(_ context.Context, event dto.ScoringEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type scoringFixture struct {
	repo        *fakeScoringRepo
	audio       *stubAudioStore
	transcriber *stubTranscriber
	primary     *stubScorer
	reviewer    *stubScorer
	notifier    *recordingNotifier
	cfg         ScoringConfig
}

func newScoringFixture(questionCount int) *scoringFixture {
	repo := newFakeScoringRepo()
	seedAssessment(repo, questionCount)
	return &scoringFixture{
		repo:        repo,
		audio:       &stubAudioStore{},
		transcriber: &stubTranscriber{},
		primary:     &stubScorer{name: "primary"},
		reviewer:    &stubScorer{name: "reviewer"},
		notifier:    &recordingNotifier{},
		cfg:         ScoringConfig{ProviderTimeout: time.Second},
	}
}

func (f *scoringFixture) service() ScoringService {
	providers := &ai.Providers{}
	if f.transcriber != nil {
		providers.Transcriber = f.transcriber
	}
	if f.primary != nil {
		providers.Primary = f.primary
	}
	if f.reviewer != nil {
		providers.Reviewer = f.reviewer
	}
	return NewScoringService(f.repo, f.audio, providers, f.notifier, f.cfg, testLogger())
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

var errDownload = errors.New("object not found")
