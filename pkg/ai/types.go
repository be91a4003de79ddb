package ai

import "context"

// Word is a single recognised word with its offsets in seconds.
type Word struct {
	Text  string
	Start float64
	End   float64
}

// Transcript is the output of a transcription provider. Text carries inline
// pause annotations when the provider returned word timings.
type Transcript struct {
	Text     string
	Words    []Word
	Duration float64
	Provider string
}

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, mimeType string) (Transcript, error)
}

// DimensionScore is a score on one rubric dimension.
type DimensionScore struct {
	Score         int    `json:"score"`
	Justification string `json:"justification"`
}

// ScoringResult holds the two rubric dimensions returned by a scorer.
type ScoringResult struct {
	Reasoning DimensionScore `json:"reasoning"`
	Evidence  DimensionScore `json:"evidence"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
}

// ScoringInput contains everything a scorer needs to grade one answer.
// Prior is set when asking a reviewer to check a first-pass result.
type ScoringInput struct {
	Question        string
	Transcript      string
	ReasoningRubric string
	EvidenceRubric  string
	Prior           *ScoringResult
}

// Scorer grades a transcript against the reasoning and evidence rubrics.
type Scorer interface {
	Name() string
	Score(ctx context.Context, input ScoringInput) (ScoringResult, error)
}
