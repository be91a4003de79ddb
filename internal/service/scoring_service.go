package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/oracy-scoring-api/internal/dto"
	"github.com/noah-isme/oracy-scoring-api/internal/models"
	"github.com/noah-isme/oracy-scoring-api/internal/observability"
	"github.com/noah-isme/oracy-scoring-api/internal/repository"
	"github.com/noah-isme/oracy-scoring-api/pkg/ai"
)

var (
	// ErrSubmissionNotFound indicates the submission does not exist.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionNotSubmitted indicates the attempt has not been handed in yet.
	ErrSubmissionNotSubmitted = errors.New("submission has not been submitted")
	// ErrRubricMissing indicates the assessment lacks its reasoning or evidence rubric.
	ErrRubricMissing = errors.New("assessment rubric missing")
	// ErrNoRecordings indicates no question had a primary recording.
	ErrNoRecordings = errors.New("no recordings found")
	// ErrQuestionsFailed indicates every attempted question failed to score.
	ErrQuestionsFailed = errors.New("no question could be scored")
	// ErrScoringInProgress indicates a live run holds the scoring claim.
	ErrScoringInProgress = errors.New("scoring already in progress")

	errEmptyTranscript = errors.New("empty transcript")
)

const (
	defaultProviderTimeout = 2 * time.Minute
	defaultStaleRunAfter   = 30 * time.Minute
	defaultMaxErrorLength  = 500
)

// AudioStore downloads recorded answers from blob storage.
type AudioStore interface {
	Download(ctx context.Context, bucket, path string) ([]byte, string, error)
}

// ScoringNotifier is told about every terminal scoring status.
type ScoringNotifier interface {
	Publish(ctx context.Context, event dto.ScoringEvent)
}

// ScoringConfig tunes the orchestrator.
type ScoringConfig struct {
	ProviderTimeout time.Duration
	StaleRunAfter   time.Duration
	MaxErrorLength  int
}

// ScoringService transcribes, grades and reconciles the answers of a submission.
type ScoringService interface {
	Score(ctx context.Context, submissionID uint) (dto.ScoringOutcome, error)
	Rescore(ctx context.Context, submissionID uint) (dto.ScoringOutcome, error)
	Status(ctx context.Context, submissionID uint) (dto.ScoringStatusResponse, error)
}

type scoringService struct {
	repo        repository.ScoringRepository
	audio       AudioStore
	transcriber ai.Transcriber
	primary     ai.Scorer
	reviewer    ai.Scorer
	notifier    ScoringNotifier
	cfg         ScoringConfig
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewScoringService constructs the submission scoring orchestrator. The
// provider set is resolved once by the caller; nil providers surface as a
// configuration error when a run starts.
func NewScoringService(repo repository.ScoringRepository, audio AudioStore, providers *ai.Providers, notifier ScoringNotifier, cfg ScoringConfig, logger zerolog.Logger) ScoringService {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.StaleRunAfter <= 0 {
		cfg.StaleRunAfter = defaultStaleRunAfter
	}
	if cfg.MaxErrorLength <= 0 {
		cfg.MaxErrorLength = defaultMaxErrorLength
	}

	svc := &scoringService{
		repo:     repo,
		audio:    audio,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "scoring_service").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/oracy-scoring-api/internal/service/scoring"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if providers != nil {
		svc.transcriber = providers.Transcriber
		svc.primary = providers.Primary
		svc.reviewer = providers.Reviewer
	}
	return svc
}

// scoringRun carries the state loaded once per claimed run.
type scoringRun struct {
	id              string
	submission      models.OracySubmission
	reasoningRubric string
	evidenceRubric  string
	responses       map[responseKey]models.OracyResponse
	evidence        map[uint]models.EvidenceImage
	logger          zerolog.Logger
}

// scoringTally accumulates per-question outcomes of a run.
type scoringTally struct {
	attempted int
	scored    int
	failed    int
	firstErr  string
}

func (t *scoringTally) fail(err error) {
	t.failed++
	if t.firstErr == "" {
		t.firstErr = describeFailure(err)
	}
}

func (t scoringTally) summary() string {
	return fmt.Sprintf("%d question(s) failed: %s", t.failed, t.firstErr)
}

func (s *scoringService) Score(ctx context.Context, submissionID uint) (dto.ScoringOutcome, error) {
	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.ScoringOutcome{}, err
	}

	outcome := dto.ScoringOutcome{SubmissionID: submission.ID, Status: submission.ScoringStatus}
	if submission.IsScored() {
		observability.ScoringRuns().WithLabelValues("skipped").Inc()
		outcome.Skipped = true
		outcome.Reason = "already scored"
		return outcome, nil
	}

	startedAt := s.now()
	claimed, err := s.repo.ClaimScoring(ctx, submission.ID, startedAt)
	if err != nil {
		return outcome, fmt.Errorf("claim submission %d: %w", submission.ID, err)
	}
	if !claimed {
		s.logger.Info().Uint("submission_id", submission.ID).Str("scoring_status", submission.ScoringStatus).Msg("scoring claim not acquired")
		observability.ScoringRuns().WithLabelValues("skipped").Inc()
		outcome.Skipped = true
		outcome.Reason = "scoring claimed by another run"
		return outcome, nil
	}

	runID := uuid.NewString()
	logger := s.logger.With().Uint("submission_id", submission.ID).Str("run_id", runID).Logger()
	logger.Info().Msg("scoring claim acquired")

	spanCtx, span := s.tracer.Start(ctx, "scoring.run", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submission.ID)),
		attribute.String("scoring.run_id", runID),
	))
	defer span.End()

	tally, runErr := s.execute(spanCtx, runID, submission, logger)
	if runErr == nil {
		switch {
		case tally.attempted == 0:
			runErr = ErrNoRecordings
		case tally.scored == 0:
			runErr = fmt.Errorf("%w: %s", ErrQuestionsFailed, tally.summary())
		}
	}

	outcome.Attempted = tally.attempted
	outcome.Scored = tally.scored
	outcome.Failed = tally.failed

	// The terminal write must land even when the caller has gone away.
	finalCtx := context.WithoutCancel(spanCtx)
	finishedAt := s.now()
	label := models.ScoringStatusComplete

	var writeErr error
	switch {
	case runErr != nil:
		label = "failed"
		outcome.Status = models.ScoringStatusError
		outcome.Message = s.boundMessage(failureMessage(runErr, tally))
		writeErr = s.repo.FailScoring(finalCtx, submission.ID, outcome.Message, finishedAt)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, outcome.Message)
		logger.Error().Err(runErr).Int("attempted", tally.attempted).Int("failed", tally.failed).Msg("scoring run failed")
	case tally.failed > 0:
		label = models.ScoringStatusError
		outcome.Status = models.ScoringStatusError
		outcome.Message = s.boundMessage(tally.summary())
		writeErr = s.repo.FailScoring(finalCtx, submission.ID, outcome.Message, finishedAt)
		logger.Warn().Int("attempted", tally.attempted).Int("scored", tally.scored).Int("failed", tally.failed).Msg("scoring finished with failed questions")
	default:
		outcome.Status = models.ScoringStatusComplete
		writeErr = s.repo.CompleteScoring(finalCtx, submission.ID, finishedAt)
		logger.Info().Int("scored", tally.scored).Msg("scoring complete")
	}

	observability.ScoringRuns().WithLabelValues(label).Inc()
	observability.ScoringRunDuration().WithLabelValues(label).Observe(finishedAt.Sub(startedAt).Seconds())

	if writeErr != nil {
		logger.Error().Err(writeErr).Msg("failed to record terminal scoring status")
		return outcome, errors.Join(runErr, fmt.Errorf("record scoring status: %w", writeErr))
	}

	s.publish(finalCtx, outcome, finishedAt)
	return outcome, runErr
}

func (s *scoringService) Rescore(ctx context.Context, submissionID uint) (dto.ScoringOutcome, error) {
	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.ScoringOutcome{}, err
	}

	staleBefore := s.now().Add(-s.cfg.StaleRunAfter)
	if submission.ScoringStatus == models.ScoringStatusRunning && !submission.ScoringStale(staleBefore) {
		return dto.ScoringOutcome{SubmissionID: submission.ID, Status: models.ScoringStatusRunning}, ErrScoringInProgress
	}
	// The snapshot may be old; the reset re-checks staleness in the store.
	reset, err := s.repo.ResetScoring(ctx, submission.ID, staleBefore)
	if err != nil {
		return dto.ScoringOutcome{}, fmt.Errorf("reset submission %d: %w", submission.ID, err)
	}
	if !reset {
		return dto.ScoringOutcome{SubmissionID: submission.ID, Status: models.ScoringStatusRunning}, ErrScoringInProgress
	}

	s.logger.Info().Uint("submission_id", submission.ID).Str("previous_status", submission.ScoringStatus).Msg("scoring reset for re-score")
	return s.Score(ctx, submission.ID)
}

func (s *scoringService) Status(ctx context.Context, submissionID uint) (dto.ScoringStatusResponse, error) {
	submission, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ScoringStatusResponse{}, ErrSubmissionNotFound
		}
		return dto.ScoringStatusResponse{}, err
	}

	scores, err := s.repo.ListQuestionScores(ctx, submission.ID)
	if err != nil {
		return dto.ScoringStatusResponse{}, err
	}

	return dto.NewScoringStatusResponse(submission, scores), nil
}

func (s *scoringService) loadSubmission(ctx context.Context, submissionID uint) (models.OracySubmission, error) {
	submission, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.OracySubmission{}, ErrSubmissionNotFound
		}
		return models.OracySubmission{}, err
	}
	if !submission.IsSubmitted() {
		return models.OracySubmission{}, ErrSubmissionNotSubmitted
	}
	return submission, nil
}

// execute runs setup and the per-question loop. Per-question failures are
// tallied; the returned error is reserved for failures that abort the run.
func (s *scoringService) execute(ctx context.Context, runID string, submission models.OracySubmission, logger zerolog.Logger) (tally scoringTally, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("scoring run panicked: %v", recovered)
		}
	}()

	if s.transcriber == nil || s.primary == nil {
		return tally, fmt.Errorf("%w: a transcriber and a primary scorer are required", ai.ErrProviderUnconfigured)
	}

	run, err := s.setup(ctx, runID, submission, logger)
	if err != nil {
		return tally, err
	}

	questions, err := s.repo.ListQuestions(ctx, submission.AssessmentID)
	if err != nil {
		return tally, fmt.Errorf("load questions: %w", err)
	}

	for _, question := range questions {
		primary, ok := run.responses[responseKey{questionID: question.ID, stage: models.ResponseStagePrimary}]
		if !ok {
			observability.ScoringQuestions().WithLabelValues("unanswered").Inc()
			continue
		}
		tally.attempted++

		qlog := run.logger.With().Uint("question_id", question.ID).Logger()
		result, qerr := s.scoreQuestion(ctx, run, question, primary, qlog)
		if qerr != nil {
			tally.fail(qerr)
			observability.ScoringQuestions().WithLabelValues("failed").Inc()
			event := qlog.Warn()
			if ai.IsAuthError(qerr) {
				// A rejected credential fails every question until an operator fixes it.
				event = qlog.Error()
			}
			event.Err(qerr).Msg("question scoring failed")
			continue
		}

		if err := s.repo.UpsertQuestionScores(ctx, questionScores(run, question, result)); err != nil {
			return tally, fmt.Errorf("persist scores for question %d: %w", question.ID, err)
		}
		tally.scored++
		observability.ScoringQuestions().WithLabelValues("scored").Inc()
	}

	return tally, nil
}

func (s *scoringService) setup(ctx context.Context, runID string, submission models.OracySubmission, logger zerolog.Logger) (*scoringRun, error) {
	rubrics, err := s.repo.ListRubrics(ctx, submission.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("load rubrics: %w", err)
	}

	run := &scoringRun{id: runID, submission: submission, logger: logger}
	for _, rubric := range rubrics {
		switch strings.ToLower(strings.TrimSpace(rubric.Type)) {
		case models.RubricTypeReasoning:
			run.reasoningRubric = rubric.Instructions
		case models.RubricTypeEvidence:
			run.evidenceRubric = rubric.Instructions
		}
	}
	if strings.TrimSpace(run.reasoningRubric) == "" {
		return nil, fmt.Errorf("%w: %s", ErrRubricMissing, models.RubricTypeReasoning)
	}
	if strings.TrimSpace(run.evidenceRubric) == "" {
		return nil, fmt.Errorf("%w: %s", ErrRubricMissing, models.RubricTypeEvidence)
	}

	responses, err := s.repo.ListResponses(ctx, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}
	images, err := s.repo.ListEvidenceImages(ctx, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("load evidence images: %w", err)
	}

	run.responses = indexResponses(responses)
	run.evidence = indexEvidence(images)
	return run, nil
}

type questionResult struct {
	final    ReconciledResult
	primary  ai.ScoringResult
	reviewer *ai.ScoringResult
}

func (s *scoringService) scoreQuestion(ctx context.Context, run *scoringRun, question models.Question, primary models.OracyResponse, logger zerolog.Logger) (questionResult, error) {
	answer, err := s.transcript(ctx, primary, logger)
	if err != nil {
		return questionResult{}, err
	}

	var followUpPrompt, followUp string
	if question.ExpectsSpokenFollowUp() {
		if response, ok := run.responses[responseKey{questionID: question.ID, stage: models.ResponseStageFollowUp}]; ok {
			followUpPrompt = response.FollowUpPrompt
			if followUpPrompt == "" {
				followUpPrompt = primary.FollowUpPrompt
			}
			text, ferr := s.transcript(ctx, response, logger)
			if ferr != nil {
				// Follow-up answers enrich scoring but never block it.
				logger.Warn().Err(ferr).Uint("response_id", response.ID).Msg("follow-up transcription failed, scoring primary answer only")
			}
			followUp = text
		}
	}

	transcript := scoringTranscript(answer, followUpPrompt, followUp)
	if transcript == "" {
		return questionResult{}, errEmptyTranscript
	}

	var evidence *models.EvidenceImage
	if image, ok := run.evidence[question.ID]; ok {
		evidence = &image
	}

	input := ai.ScoringInput{
		Question:        questionText(question, evidence),
		Transcript:      transcript,
		ReasoningRubric: run.reasoningRubric,
		EvidenceRubric:  run.evidenceRubric,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	first, err := s.primary.Score(callCtx, input)
	cancel()
	if err != nil {
		return questionResult{}, fmt.Errorf("%s scoring: %w", s.primary.Name(), asTransport(err))
	}

	result := questionResult{primary: first}
	if second, ok := s.review(ctx, input, first, logger); ok {
		result.reviewer = &second
	}
	result.final = Reconcile(first, result.reviewer)

	observability.ScoringReconciled().WithLabelValues(models.RubricTypeReasoning, result.final.Reasoning.Decision).Inc()
	observability.ScoringReconciled().WithLabelValues(models.RubricTypeEvidence, result.final.Evidence.Decision).Inc()
	return result, nil
}

// review asks the reviewer for an independent grading. Reviewer failures are
// logged and discarded so the primary result stands alone.
func (s *scoringService) review(ctx context.Context, input ai.ScoringInput, first ai.ScoringResult, logger zerolog.Logger) (ai.ScoringResult, bool) {
	if s.reviewer == nil {
		return ai.ScoringResult{}, false
	}

	input.Prior = &first
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	second, err := s.reviewer.Score(callCtx, input)
	if err != nil {
		logger.Warn().Err(err).Str("reviewer", s.reviewer.Name()).Msg("reviewer scoring failed, keeping primary result")
		return ai.ScoringResult{}, false
	}
	return second, true
}

// transcript returns the cached transcript of a response, or downloads and
// transcribes the recording and writes the result back onto the response.
func (s *scoringService) transcript(ctx context.Context, response models.OracyResponse, logger zerolog.Logger) (string, error) {
	if cached, ok := response.CachedTranscript(); ok {
		return cached, nil
	}
	if s.audio == nil {
		return "", fmt.Errorf("%w: no audio store configured", ai.ErrProviderUnconfigured)
	}
	if strings.TrimSpace(response.AudioPath) == "" {
		return "", fmt.Errorf("response %d has no recording", response.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	audio, mimeType, err := s.audio.Download(callCtx, response.AudioBucket, response.AudioPath)
	cancel()
	if err != nil {
		return "", fmt.Errorf("download recording %s: %w", response.AudioPath, asTransport(err))
	}

	callCtx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	transcript, err := s.transcriber.Transcribe(callCtx, audio, mimeType)
	cancel()
	if err != nil {
		return "", fmt.Errorf("%s transcription: %w", s.transcriber.Name(), asTransport(err))
	}

	var duration *float64
	if response.DurationSeconds == nil && transcript.Duration > 0 {
		duration = &transcript.Duration
	}
	if err := s.repo.SaveTranscript(ctx, response.ID, transcript.Text, duration); err != nil {
		logger.Warn().Err(err).Uint("response_id", response.ID).Msg("failed to cache transcript")
	}

	return transcript.Text, nil
}

func (s *scoringService) publish(ctx context.Context, outcome dto.ScoringOutcome, finishedAt time.Time) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, dto.ScoringEvent{
		SubmissionID: outcome.SubmissionID,
		Status:       outcome.Status,
		Attempted:    outcome.Attempted,
		Scored:       outcome.Scored,
		Failed:       outcome.Failed,
		Message:      outcome.Message,
		FinishedAt:   finishedAt,
	})
}

func (s *scoringService) boundMessage(message string) string {
	runes := []rune(strings.TrimSpace(message))
	if len(runes) <= s.cfg.MaxErrorLength {
		return string(runes)
	}
	return string(runes[:s.cfg.MaxErrorLength])
}

func questionScores(run *scoringRun, question models.Question, result questionResult) []models.QuestionScore {
	build := func(dimension string, final ReconciledScore) models.QuestionScore {
		details := datatypes.JSONMap{
			"decision":         final.Decision,
			"primary_score":    final.PrimaryScore,
			"primary_provider": result.primary.Provider,
			"primary_model":    result.primary.Model,
			"run_id":           run.id,
		}
		if final.ReviewerScore != nil && result.reviewer != nil {
			details["reviewer_score"] = *final.ReviewerScore
			details["reviewer_provider"] = result.reviewer.Provider
			details["reviewer_model"] = result.reviewer.Model
		}
		return models.QuestionScore{
			SubmissionID:  run.submission.ID,
			QuestionID:    question.ID,
			ScorerType:    dimension,
			Score:         final.Score,
			Justification: final.Justification,
			Details:       details,
		}
	}

	return []models.QuestionScore{
		build(models.RubricTypeReasoning, result.final.Reasoning),
		build(models.RubricTypeEvidence, result.final.Evidence),
	}
}

// asTransport maps an expired call deadline onto the transport error class.
func asTransport(err error) error {
	if errors.Is(err, ai.ErrTransport) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ai.ErrTransport, err)
	}
	return err
}

// describeFailure renders an error as the human readable text stored on the submission.
func describeFailure(err error) string {
	switch {
	case errors.Is(err, errEmptyTranscript):
		return "Empty transcript"
	case errors.Is(err, ErrNoRecordings):
		return "No recordings found"
	default:
		return err.Error()
	}
}

func failureMessage(err error, tally scoringTally) string {
	if errors.Is(err, ErrQuestionsFailed) {
		return tally.summary()
	}
	return describeFailure(err)
}
