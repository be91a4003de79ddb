package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/oracy-scoring-api/internal/dto"
	"github.com/noah-isme/oracy-scoring-api/internal/observability"
)

const scoringFinishedTopic = "scoring.finished"

// ScoringEventPublisher broadcasts terminal scoring results to Redis pub/sub
// and NATS. Broker failures are logged and never reach the caller.
type ScoringEventPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	nodeID       string
}

// NewScoringEventPublisher constructs a publisher. Either broker may be nil.
func NewScoringEventPublisher(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) *ScoringEventPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":" + scoringFinishedTopic
		subject = strings.ReplaceAll(channelBase, ":", ".") + "." + scoringFinishedTopic
	}

	return &ScoringEventPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "scoring_events").Logger(),
		nodeID:       uuid.NewString(),
	}
}

// RedisChannel is the pub/sub channel events are published on.
func (p *ScoringEventPublisher) RedisChannel() string {
	return p.redisChannel
}

// NATSSubject is the subject events are published on.
func (p *ScoringEventPublisher) NATSSubject() string {
	return p.natsSubject
}

func (p *ScoringEventPublisher) Publish(ctx context.Context, event dto.ScoringEvent) {
	event.Source = p.nodeID
	if event.FinishedAt.IsZero() {
		event.FinishedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Uint("submission_id", event.SubmissionID).Msg("failed to encode scoring event")
		return
	}

	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			observability.ScoringEvents().WithLabelValues("redis", "error").Inc()
			p.logger.Warn().Err(err).Uint("submission_id", event.SubmissionID).Msg("failed to publish scoring event to redis")
		} else {
			observability.ScoringEvents().WithLabelValues("redis", "ok").Inc()
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject, payload); err != nil {
			observability.ScoringEvents().WithLabelValues("nats", "error").Inc()
			p.logger.Warn().Err(err).Uint("submission_id", event.SubmissionID).Msg("failed to publish scoring event to nats")
		} else {
			observability.ScoringEvents().WithLabelValues("nats", "ok").Inc()
		}
	}
}
