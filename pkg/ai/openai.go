package ai

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	providerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "oracy",
		Subsystem: "ai",
		Name:      "provider_call_duration_seconds",
		Help:      "Duration of transcription and scoring provider calls",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"provider", "operation"})

	providerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oracy",
		Subsystem: "ai",
		Name:      "provider_call_failures_total",
		Help:      "Number of failed transcription and scoring provider calls",
	}, []string{"provider", "operation"})
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google_speech"
)

// OpenAITranscriberConfig defines configuration for Whisper transcription.
type OpenAITranscriberConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Language       string
	PauseThreshold time.Duration
	Logger         zerolog.Logger
}

// OpenAITranscriber implements Transcriber against the OpenAI audio API.
type OpenAITranscriber struct {
	client *openai.Client
	cfg    OpenAITranscriberConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAITranscriber builds a transcriber from the provided configuration.
func NewOpenAITranscriber(cfg OpenAITranscriberConfig) (*OpenAITranscriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: openai api key is required", ErrProviderUnconfigured)
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.PauseThreshold <= 0 {
		cfg.PauseThreshold = DefaultPauseThreshold
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAITranscriber{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/oracy-scoring-api/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_transcriber").Logger(),
	}, nil
}

func (t *OpenAITranscriber) Name() string {
	return ProviderOpenAI
}

// Transcribe sends the audio to Whisper, asking for word timestamps so that
// long silences can be annotated.
func (t *OpenAITranscriber) Transcribe(parent context.Context, audio []byte, mimeType string) (Transcript, error) {
	ctx, span := t.tracer.Start(parent, "openai.transcribe", trace.WithAttributes(
		attribute.String("model", t.cfg.Model),
		attribute.Int("audio.bytes", len(audio)),
	))
	defer span.End()

	if len(audio) == 0 {
		err := fmt.Errorf("%w: no audio to transcribe", ErrProviderEmptyResponse)
		span.SetStatus(codes.Error, err.Error())
		return Transcript{}, err
	}

	request := openai.AudioRequest{
		Model:    t.cfg.Model,
		FilePath: "answer" + audioExtension(mimeType),
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: t.cfg.Language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	}

	start := time.Now()
	resp, err := t.client.CreateTranscription(ctx, request)
	providerDuration.WithLabelValues(ProviderOpenAI, "transcribe").Observe(time.Since(start).Seconds())
	if err != nil {
		providerFailures.WithLabelValues(ProviderOpenAI, "transcribe").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Transcript{}, classifyOpenAIError(ProviderOpenAI, err)
	}

	words := make([]Word, 0, len(resp.Words))
	for _, w := range resp.Words {
		words = append(words, Word{Text: w.Word, Start: w.Start, End: w.End})
	}

	text := strings.TrimSpace(resp.Text)
	if len(words) > 0 {
		text = AnnotatePauses(words, t.cfg.PauseThreshold)
	}
	if text == "" {
		providerFailures.WithLabelValues(ProviderOpenAI, "transcribe").Inc()
		err := fmt.Errorf("%w: %s transcription was blank", ErrProviderEmptyResponse, ProviderOpenAI)
		span.SetStatus(codes.Error, err.Error())
		return Transcript{}, err
	}

	return Transcript{
		Text:     text,
		Words:    words,
		Duration: resp.Duration,
		Provider: ProviderOpenAI,
	}, nil
}

// ChatScorerConfig defines configuration for a chat-completion based scorer.
type ChatScorerConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	// JSONMode requests a JSON object response format where the endpoint supports it.
	JSONMode bool
	Logger   zerolog.Logger
}

// ChatScorer implements Scorer against an OpenAI-compatible chat completion API.
type ChatScorer struct {
	client *openai.Client
	cfg    ChatScorerConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIScorer builds the OpenAI chat scorer.
func NewOpenAIScorer(cfg ChatScorerConfig) (*ChatScorer, error) {
	cfg.Provider = ProviderOpenAI
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	cfg.JSONMode = true
	return newChatScorer(cfg)
}

func newChatScorer(cfg ChatScorerConfig) (*ChatScorer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: %s api key is required", ErrProviderUnconfigured, cfg.Provider)
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 800
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &ChatScorer{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/oracy-scoring-api/pkg/ai/" + cfg.Provider),
		logger: cfg.Logger.With().Str("component", cfg.Provider+"_scorer").Logger(),
	}, nil
}

func (s *ChatScorer) Name() string {
	return s.cfg.Provider
}

// Score issues a single structured request and parses the two-dimension reply.
func (s *ChatScorer) Score(parent context.Context, input ScoringInput) (ScoringResult, error) {
	ctx, span := s.tracer.Start(parent, s.cfg.Provider+".score", trace.WithAttributes(
		attribute.String("model", s.cfg.Model),
		attribute.Bool("reviewer", input.Prior != nil),
	))
	defer span.End()

	systemPrompt := scoringSystemPrompt()
	if input.Prior != nil {
		systemPrompt = reviewerSystemPrompt()
	}

	request := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildScoringPrompt(input)},
		},
	}
	if s.cfg.JSONMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, request)
	providerDuration.WithLabelValues(s.cfg.Provider, "score").Observe(time.Since(start).Seconds())
	if err != nil {
		return ScoringResult{}, s.fail(span, classifyOpenAIError(s.cfg.Provider, err))
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return ScoringResult{}, s.fail(span, fmt.Errorf("%w: %s returned no content", ErrProviderEmptyResponse, s.cfg.Provider))
	}

	result, err := ParseScoringOutput(resp.Choices[0].Message.Content)
	if err != nil {
		return ScoringResult{}, s.fail(span, err)
	}

	result.Provider = s.cfg.Provider
	result.Model = s.cfg.Model
	span.SetAttributes(
		attribute.Int("score.reasoning", result.Reasoning.Score),
		attribute.Int("score.evidence", result.Evidence.Score),
	)
	return result, nil
}

func (s *ChatScorer) fail(span trace.Span, err error) error {
	providerFailures.WithLabelValues(s.cfg.Provider, "score").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func audioExtension(mimeType string) string {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(m, ";"); idx >= 0 {
		m = strings.TrimSpace(m[:idx])
	}
	switch m {
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "video/mp4":
		return ".m4a"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	default:
		return ".webm"
	}
}
