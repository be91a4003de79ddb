package ai

import "strings"

const defaultAnthropicBaseURL = "https://api.anthropic.com/v1"

// NewAnthropicScorer builds a scorer backed by Anthropic's OpenAI-compatible
// chat endpoint. The endpoint ignores response_format, so the JSON shape is
// enforced by the prompt and by ParseScoringOutput.
func NewAnthropicScorer(cfg ChatScorerConfig) (*ChatScorer, error) {
	cfg.Provider = ProviderAnthropic
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	cfg.JSONMode = false
	return newChatScorer(cfg)
}
