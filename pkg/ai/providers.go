package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ProvidersConfig is the provider section of the application configuration.
type ProvidersConfig struct {
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	TranscriptionModel    string
	TranscriptionLanguage string
	ScoringModel          string

	GoogleSpeechEnabled  bool
	GoogleSpeechLanguage string
	GoogleCredentials    string

	PrimaryScorer   string
	ReviewerEnabled bool
	ReviewerScorer  string

	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicModel   string

	PauseThreshold time.Duration
	Logger         zerolog.Logger
}

// Providers is the provider set resolved once at start-up. Any field may be
// nil when the matching provider is not configured.
type Providers struct {
	Transcriber Transcriber
	Primary     Scorer
	Reviewer    Scorer

	closers []io.Closer
}

// Close releases provider connections.
func (p *Providers) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, closer := range p.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolveProviders picks the transcriber and scorers from configuration.
// The OpenAI transcriber wins when its key is present; Google Speech is only
// used when explicitly enabled. A reviewer without a primary scorer is a
// configuration error.
func ResolveProviders(ctx context.Context, cfg ProvidersConfig) (*Providers, error) {
	logger := cfg.Logger.With().Str("component", "ai_providers").Logger()
	providers := &Providers{}

	switch {
	case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
		transcriber, err := NewOpenAITranscriber(OpenAITranscriberConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			Model:          cfg.TranscriptionModel,
			Language:       cfg.TranscriptionLanguage,
			PauseThreshold: cfg.PauseThreshold,
			Logger:         cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		providers.Transcriber = transcriber
	case cfg.GoogleSpeechEnabled:
		transcriber, err := NewGoogleSpeechTranscriber(ctx, GoogleSpeechConfig{
			LanguageCode:   cfg.GoogleSpeechLanguage,
			Credentials:    cfg.GoogleCredentials,
			PauseThreshold: cfg.PauseThreshold,
			Logger:         cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		providers.Transcriber = transcriber
		providers.closers = append(providers.closers, transcriber)
	default:
		logger.Warn().Msg("no transcription provider configured")
	}

	primaryName := normaliseProvider(cfg.PrimaryScorer, ProviderOpenAI)
	primary, err := buildScorer(primaryName, cfg)
	if err != nil && !errors.Is(err, ErrProviderUnconfigured) {
		return nil, err
	}
	if primary != nil {
		providers.Primary = primary
	} else {
		logger.Warn().Str("provider", primaryName).Msg("primary scoring provider not configured")
	}

	if cfg.ReviewerEnabled {
		reviewerName := normaliseProvider(cfg.ReviewerScorer, ProviderAnthropic)
		reviewer, err := buildScorer(reviewerName, cfg)
		switch {
		case err != nil && !errors.Is(err, ErrProviderUnconfigured):
			return nil, err
		case reviewer == nil:
			logger.Warn().Str("provider", reviewerName).Msg("reviewer enabled but not configured; scoring without review")
		case providers.Primary == nil:
			return nil, ErrReviewerWithoutPrimary
		default:
			providers.Reviewer = reviewer
		}
	}

	logger.Info().
		Str("transcriber", providerName(providers.Transcriber)).
		Str("primary", providerName(providers.Primary)).
		Str("reviewer", providerName(providers.Reviewer)).
		Msg("ai providers resolved")

	return providers, nil
}

func buildScorer(name string, cfg ProvidersConfig) (Scorer, error) {
	switch name {
	case ProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, ErrProviderUnconfigured
		}
		scorer, err := NewOpenAIScorer(ChatScorerConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.ScoringModel,
			Logger:  cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return scorer, nil
	case ProviderAnthropic:
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, ErrProviderUnconfigured
		}
		scorer, err := NewAnthropicScorer(ChatScorerConfig{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Model:   cfg.AnthropicModel,
			Logger:  cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return scorer, nil
	default:
		return nil, fmt.Errorf("unknown scoring provider %q", name)
	}
}

func normaliseProvider(name, fallback string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fallback
	}
	return name
}

func providerName(p interface{ Name() string }) string {
	if p == nil {
		return "none"
	}
	return p.Name()
}
