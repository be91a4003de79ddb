package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/oracy-scoring-api/internal/dto"
	"github.com/noah-isme/oracy-scoring-api/internal/models"
	"github.com/noah-isme/oracy-scoring-api/pkg/ai"
)

type stubScoringService struct {
	scored    []uint
	rescored  []uint
	outcome   dto.ScoringOutcome
	err       error
	statusErr error
}

func (s *stubScoringService) Score(_ context.Context, submissionID uint) (dto.ScoringOutcome, error) {
	s.scored = append(s.scored, submissionID)
	outcome := s.outcome
	outcome.SubmissionID = submissionID
	return outcome, s.err
}

func (s *stubScoringService) Rescore(_ context.Context, submissionID uint) (dto.ScoringOutcome, error) {
	s.rescored = append(s.rescored, submissionID)
	outcome := s.outcome
	outcome.SubmissionID = submissionID
	return outcome, s.err
}

func (s *stubScoringService) Status(_ context.Context, submissionID uint) (dto.ScoringStatusResponse, error) {
	return dto.ScoringStatusResponse{SubmissionID: submissionID}, s.statusErr
}

func TestDispatcherRunsInlineWithoutNATS(t *testing.T) {
	scoring := &stubScoringService{outcome: dto.ScoringOutcome{Status: models.ScoringStatusComplete, Scored: 2}}
	dispatcher := NewScoringDispatcher(scoring, nil, "oracy", true, testLogger())
	require.NoError(t, dispatcher.Start(context.Background()))

	outcome, err := dispatcher.Dispatch(context.Background(), dto.ScoringRequest{SubmissionID: 4})
	require.NoError(t, err)
	require.False(t, outcome.Queued)
	require.Equal(t, models.ScoringStatusComplete, outcome.Status)
	require.Equal(t, []uint{4}, scoring.scored)
	require.Empty(t, scoring.rescored)

	dispatcher.Wait()
}

func TestDispatcherRoutesRescore(t *testing.T) {
	scoring := &stubScoringService{outcome: dto.ScoringOutcome{Status: models.ScoringStatusComplete}}
	dispatcher := NewScoringDispatcher(scoring, nil, "oracy", false, testLogger())

	_, err := dispatcher.Dispatch(context.Background(), dto.ScoringRequest{SubmissionID: 9, Rescore: true})
	require.NoError(t, err)
	require.Equal(t, []uint{9}, scoring.rescored)
	require.Empty(t, scoring.scored)
}

func TestDispatcherPropagatesErrors(t *testing.T) {
	scoring := &stubScoringService{err: ErrScoringInProgress}
	dispatcher := NewScoringDispatcher(scoring, nil, "oracy", false, testLogger())

	_, err := dispatcher.Dispatch(context.Background(), dto.ScoringRequest{SubmissionID: 3, Rescore: true})
	require.ErrorIs(t, err, ErrScoringInProgress)
}

func TestDispatcherHandleIgnoresBadPayloads(t *testing.T) {
	scoring := &stubScoringService{}
	dispatcher := NewScoringDispatcher(scoring, nil, "oracy", false, testLogger()).(*scoringDispatcher)

	dispatcher.handle(context.Background(), []byte("not json"))
	dispatcher.handle(context.Background(), []byte(`{"submission_id":0}`))
	require.Empty(t, scoring.scored)

	dispatcher.handle(context.Background(), []byte(`{"submission_id":15}`))
	require.Equal(t, []uint{15}, scoring.scored)
}

func TestDispatcherWorkerFinishesRunAfterShutdown(t *testing.T) {
	fx := newScoringFixture(2)
	fx.cfg.ProviderTimeout = time.Minute
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fx.transcriber.fn = func(ctx context.Context, audio []byte) (ai.Transcript, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return ai.Transcript{}, err
		}
		return ai.Transcript{Text: "answer for " + string(audio)}, nil
	}
	dispatcher := NewScoringDispatcher(fx.service(), nil, "oracy", true, testLogger()).(*scoringDispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	handler := dispatcher.worker(ctx)
	go handler(&nats.Msg{Data: []byte(`{"submission_id":1,"correlation_id":"corr-1"}`)})

	<-started
	cancel()
	close(release)
	dispatcher.Wait()

	submission := fx.repo.submission(testSubmissionID)
	require.Equal(t, models.ScoringStatusComplete, submission.ScoringStatus)
	require.Nil(t, submission.ScoringError)
	require.Equal(t, 4, fx.repo.scoreCount())

	// Requests delivered after Wait returned are not started.
	handler(&nats.Msg{Data: []byte(`{"submission_id":1,"rescore":true}`)})
	require.Equal(t, 2, fx.transcriber.callCount())
}
