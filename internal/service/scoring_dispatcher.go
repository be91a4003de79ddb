package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/oracy-scoring-api/internal/dto"
	"github.com/noah-isme/oracy-scoring-api/internal/models"
)

const (
	scoringQueueGroup = "oracy-scoring-workers"
	// drainTimeout bounds how long shutdown waits for NATS to hand over the
	// requests already delivered to this worker.
	drainTimeout = 30 * time.Second
)

// ScoringDispatcher decides whether a scoring request runs inline or is
// queued for a worker.
type ScoringDispatcher interface {
	Dispatch(ctx context.Context, request dto.ScoringRequest) (dto.ScoringOutcome, error)
	Start(ctx context.Context) error
	Wait()
}

type scoringDispatcher struct {
	scoring ScoringService
	nats    *nats.Conn
	subject string
	async   bool
	logger  zerolog.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	drained chan struct{}
}

// NewScoringDispatcher constructs a dispatcher. Requests are queued on NATS
// only when a connection is available and async dispatch is enabled.
func NewScoringDispatcher(scoring ScoringService, natsConn *nats.Conn, channelBase string, async bool, logger zerolog.Logger) ScoringDispatcher {
	subject := ""
	if channelBase != "" {
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".scoring.requests"
	}

	return &scoringDispatcher{
		scoring: scoring,
		nats:    natsConn,
		subject: subject,
		async:   async && natsConn != nil && subject != "",
		logger:  logger.With().Str("component", "scoring_dispatcher").Logger(),
	}
}

func (d *scoringDispatcher) Dispatch(ctx context.Context, request dto.ScoringRequest) (dto.ScoringOutcome, error) {
	if request.RequestedAt.IsZero() {
		request.RequestedAt = time.Now().UTC()
	}

	if !d.async {
		return d.run(ctx, request)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return dto.ScoringOutcome{}, err
	}
	if err := d.nats.Publish(d.subject, payload); err != nil {
		d.logger.Warn().Err(err).Uint("submission_id", request.SubmissionID).Msg("failed to queue scoring request, scoring inline")
		return d.run(ctx, request)
	}

	return dto.ScoringOutcome{
		SubmissionID: request.SubmissionID,
		Status:       models.ScoringStatusPending,
		Queued:       true,
	}, nil
}

// Start subscribes the queue-group worker. It is a no-op for inline dispatch.
// Cancelling ctx drains the subscription; runs already delivered keep going
// on a context that is not cancelled with it, so shutdown never leaves a
// submission failed half way through.
func (d *scoringDispatcher) Start(ctx context.Context) error {
	if !d.async {
		return nil
	}

	sub, err := d.nats.QueueSubscribe(d.subject, scoringQueueGroup, d.worker(ctx))
	if err != nil {
		return err
	}
	closed := sub.StatusChanged(nats.SubscriptionClosed)

	d.mu.Lock()
	d.drained = make(chan struct{})
	drained := d.drained
	d.mu.Unlock()

	go func() {
		defer close(drained)
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			d.logger.Warn().Err(err).Msg("failed to drain scoring nats subscription")
			return
		}
		select {
		case <-closed:
		case <-time.After(drainTimeout):
			d.logger.Warn().Dur("timeout", drainTimeout).Msg("scoring nats subscription did not drain in time")
		}
	}()

	d.logger.Info().Str("subject", d.subject).Msg("scoring worker subscribed")
	return nil
}

// worker returns the NATS handler for queued requests. Runs are tracked so
// Wait can block on them; requests delivered after Wait began are dropped.
func (d *scoringDispatcher) worker(ctx context.Context) nats.MsgHandler {
	ctx = context.WithoutCancel(ctx)
	return func(msg *nats.Msg) {
		if !d.begin() {
			d.logger.Warn().Msg("scoring worker stopped, dropping queued request")
			return
		}
		defer d.wg.Done()
		d.handle(ctx, msg.Data)
	}
}

func (d *scoringDispatcher) begin() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	d.wg.Add(1)
	return true
}

// Wait blocks until the subscription has drained and in-flight queued runs
// finish. Call it after cancelling the context given to Start.
func (d *scoringDispatcher) Wait() {
	d.mu.Lock()
	drained := d.drained
	d.mu.Unlock()
	if drained != nil {
		<-drained
	}

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *scoringDispatcher) handle(ctx context.Context, payload []byte) {
	var request dto.ScoringRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		d.logger.Warn().Err(err).Msg("invalid scoring request payload")
		return
	}
	if request.SubmissionID == 0 {
		d.logger.Warn().Msg("scoring request without submission id")
		return
	}

	logger := d.logger.With().Str("correlation_id", request.CorrelationID).Logger()
	outcome, err := d.run(ctx, request)
	if err != nil {
		event := logger.Error()
		if errors.Is(err, ErrScoringInProgress) || errors.Is(err, ErrSubmissionNotSubmitted) {
			event = logger.Warn()
		}
		event.Err(err).Uint("submission_id", request.SubmissionID).Msg("queued scoring request failed")
		return
	}

	logger.Info().
		Uint("submission_id", outcome.SubmissionID).
		Str("status", outcome.Status).
		Bool("skipped", outcome.Skipped).
		Msg("queued scoring request handled")
}

func (d *scoringDispatcher) run(ctx context.Context, request dto.ScoringRequest) (dto.ScoringOutcome, error) {
	if request.Rescore {
		return d.scoring.Rescore(ctx, request.SubmissionID)
	}
	return d.scoring.Score(ctx, request.SubmissionID)
}
