package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/noah-isme/oracy-scoring-api/pkg/ai"
)

// Reconciliation decisions recorded alongside every final dimension score.
const (
	DecisionPrimaryOnly       = "primary_only"
	DecisionAgreement         = "agreement"
	DecisionMinorDisagreement = "minor_disagreement"
	DecisionReviewOverride    = "review_override"
)

const (
	agreementLabel         = "agreement"
	minorDisagreementLabel = "minor disagreement"
	reviewOverrideLabel    = "review override"
)

// ReconciledScore is the final score for one rubric dimension.
type ReconciledScore struct {
	Score         int
	Justification string
	Decision      string
	PrimaryScore  int
	ReviewerScore *int
}

// ReconciledResult holds the final scores for both rubric dimensions.
type ReconciledResult struct {
	Reasoning ReconciledScore
	Evidence  ReconciledScore
}

// Reconcile merges a primary result with an optional reviewer result. Each
// dimension is decided independently; without a reviewer the primary stands.
func Reconcile(primary ai.ScoringResult, reviewer *ai.ScoringResult) ReconciledResult {
	if reviewer == nil {
		return ReconciledResult{
			Reasoning: primaryOnly(primary.Reasoning),
			Evidence:  primaryOnly(primary.Evidence),
		}
	}

	return ReconciledResult{
		Reasoning: ReconcileDimension(primary.Reasoning, reviewer.Reasoning),
		Evidence:  ReconcileDimension(primary.Evidence, reviewer.Evidence),
	}
}

// ReconcileDimension applies the tie-break policy to one dimension: equal
// scores keep the primary, a difference of one takes the rounded average and
// a difference of two or more defers to the reviewer.
func ReconcileDimension(primary, reviewer ai.DimensionScore) ReconciledScore {
	reviewerScore := reviewer.Score
	result := ReconciledScore{
		PrimaryScore:  primary.Score,
		ReviewerScore: &reviewerScore,
	}

	delta := primary.Score - reviewer.Score
	if delta < 0 {
		delta = -delta
	}

	var header string
	switch {
	case delta == 0:
		result.Score = primary.Score
		result.Decision = DecisionAgreement
		header = fmt.Sprintf("Final %d (%s: both scored %d).", result.Score, agreementLabel, primary.Score)
	case delta == 1:
		average := float64(primary.Score+reviewer.Score) / 2
		result.Score = ai.ClampScore(math.Round(average))
		result.Decision = DecisionMinorDisagreement
		header = fmt.Sprintf("Final %d (%s: primary %d, reviewer %d, rounded average).", result.Score, minorDisagreementLabel, primary.Score, reviewer.Score)
	default:
		result.Score = ai.ClampScore(float64(reviewer.Score))
		result.Decision = DecisionReviewOverride
		header = fmt.Sprintf("Final %d (%s: primary %d, reviewer %d).", result.Score, reviewOverrideLabel, primary.Score, reviewer.Score)
	}

	result.Justification = joinJustifications(header, primary.Justification, reviewer.Justification)
	return result
}

func primaryOnly(primary ai.DimensionScore) ReconciledScore {
	score := ai.ClampScore(float64(primary.Score))
	return ReconciledScore{
		Score:         score,
		Justification: fmt.Sprintf("Final %d (primary only).\n%s", score, strings.TrimSpace(primary.Justification)),
		Decision:      DecisionPrimaryOnly,
		PrimaryScore:  primary.Score,
	}
}

func joinJustifications(header, primary, reviewer string) string {
	var builder strings.Builder
	builder.WriteString(header)
	builder.WriteString("\nPrimary: ")
	builder.WriteString(strings.TrimSpace(primary))
	builder.WriteString("\nReviewer: ")
	builder.WriteString(strings.TrimSpace(reviewer))
	return builder.String()
}
