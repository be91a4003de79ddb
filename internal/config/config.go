package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Blob providers recordings can be stored in.
const (
	BlobProviderGCS        = "gcs"
	BlobProviderCloudinary = "cloudinary"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName      string
	AppEnv       string
	AppPort      string
	DatabaseURL  string
	RedisURL     string
	NATSURL      string
	EventChannel string
	JWTSecret    string
	CORSOrigins  []string

	BlobProvider         string
	GCSCredentials       string
	CloudinaryCloudName  string
	CloudinaryAPIKey     string
	CloudinaryAPISecret  string
	BlobDownloadTimeout  time.Duration
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	TranscriptionModel   string
	TranscriptionLang    string
	ScoringModel         string
	GoogleSpeechEnabled  bool
	GoogleSpeechLanguage string
	PrimaryScorer        string
	ReviewerEnabled      bool
	ReviewerScorer       string
	AnthropicAPIKey      string
	AnthropicBaseURL     string
	AnthropicModel       string

	ProviderTimeout     time.Duration
	PauseThreshold      time.Duration
	StaleRunAfter       time.Duration
	MaxScoringErrorSize int
	AsyncScoring        bool
	ScoreRateLimit      int
	ScoreRateWindow     time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ORACY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Oracy Scoring API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel", "oracy")
	v.SetDefault("blob.provider", BlobProviderGCS)
	v.SetDefault("blob.download_timeout", "2m")
	v.SetDefault("openai.transcription_model", "whisper-1")
	v.SetDefault("openai.scoring_model", "gpt-4o-mini")
	v.SetDefault("google_speech.enabled", false)
	v.SetDefault("google_speech.language", "en-GB")
	v.SetDefault("scoring.primary", "openai")
	v.SetDefault("scoring.reviewer_enabled", true)
	v.SetDefault("scoring.reviewer", "anthropic")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("scoring.provider_timeout", "2m")
	v.SetDefault("scoring.pause_threshold", "5s")
	v.SetDefault("scoring.stale_after", "30m")
	v.SetDefault("scoring.max_error_length", 500)
	v.SetDefault("scoring.async", false)
	v.SetDefault("scoring.rate_limit", 10)
	v.SetDefault("scoring.rate_window", "1m")

	durations := map[string]time.Duration{}
	for _, key := range []string{"blob.download_timeout", "scoring.provider_timeout", "scoring.pause_threshold", "scoring.stale_after", "scoring.rate_window"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		DatabaseURL:          v.GetString("database.url"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		EventChannel:         v.GetString("events.channel"),
		JWTSecret:            v.GetString("jwt.secret"),
		CORSOrigins:          splitList(v.GetString("cors.origins")),
		BlobProvider:         strings.ToLower(strings.TrimSpace(v.GetString("blob.provider"))),
		GCSCredentials:       v.GetString("gcs.credentials"),
		CloudinaryCloudName:  v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:     v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:  v.GetString("cloudinary.api_secret"),
		BlobDownloadTimeout:  durations["blob.download_timeout"],
		OpenAIAPIKey:         v.GetString("openai.api_key"),
		OpenAIBaseURL:        v.GetString("openai.base_url"),
		TranscriptionModel:   v.GetString("openai.transcription_model"),
		TranscriptionLang:    v.GetString("openai.transcription_language"),
		ScoringModel:         v.GetString("openai.scoring_model"),
		GoogleSpeechEnabled:  v.GetBool("google_speech.enabled"),
		GoogleSpeechLanguage: v.GetString("google_speech.language"),
		PrimaryScorer:        strings.ToLower(strings.TrimSpace(v.GetString("scoring.primary"))),
		ReviewerEnabled:      v.GetBool("scoring.reviewer_enabled"),
		ReviewerScorer:       strings.ToLower(strings.TrimSpace(v.GetString("scoring.reviewer"))),
		AnthropicAPIKey:      v.GetString("anthropic.api_key"),
		AnthropicBaseURL:     v.GetString("anthropic.base_url"),
		AnthropicModel:       v.GetString("anthropic.model"),
		ProviderTimeout:      durations["scoring.provider_timeout"],
		PauseThreshold:       durations["scoring.pause_threshold"],
		StaleRunAfter:        durations["scoring.stale_after"],
		MaxScoringErrorSize:  v.GetInt("scoring.max_error_length"),
		AsyncScoring:         v.GetBool("scoring.async"),
		ScoreRateLimit:       v.GetInt("scoring.rate_limit"),
		ScoreRateWindow:      durations["scoring.rate_window"],
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.BlobProvider {
	case BlobProviderGCS, BlobProviderCloudinary:
	default:
		return Config{}, fmt.Errorf("unsupported blob provider %q", cfg.BlobProvider)
	}

	if cfg.MaxScoringErrorSize <= 0 {
		cfg.MaxScoringErrorSize = 500
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
