package ai

import (
	"fmt"
	"strings"
)

func scoringSystemPrompt() string {
	return "You are an experienced oracy assessor grading a student's spoken answer from its transcript. " +
		"Grade two independent dimensions on an integer scale from 1 to 5 using the rubric given for each. " +
		"Respond with only a JSON object of the form " +
		`{"reasoning":{"score":<1-5>,"justification":"..."},"evidence":{"score":<1-5>,"justification":"..."}}` +
		" and nothing else. Keep each justification under 120 words and quote the student where it helps."
}

func reviewerSystemPrompt() string {
	return scoringSystemPrompt() + " A first-pass grader has already scored this answer. " +
		"Review the transcript yourself and give your own independent scores; agree only where the evidence supports it."
}

func buildScoringPrompt(input ScoringInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Question\n")
	builder.WriteString(strings.TrimSpace(input.Question))
	builder.WriteString("\n\n## Reasoning rubric\n")
	builder.WriteString(strings.TrimSpace(input.ReasoningRubric))
	builder.WriteString("\n\n## Evidence rubric\n")
	builder.WriteString(strings.TrimSpace(input.EvidenceRubric))
	builder.WriteString("\n\n## Transcript\n")
	builder.WriteString(strings.TrimSpace(input.Transcript))
	if input.Prior != nil {
		builder.WriteString("\n\n## First-pass grading\n")
		builder.WriteString(fmt.Sprintf("Reasoning: %d - %s\n", input.Prior.Reasoning.Score, input.Prior.Reasoning.Justification))
		builder.WriteString(fmt.Sprintf("Evidence: %d - %s", input.Prior.Evidence.Score, input.Prior.Evidence.Justification))
	}
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}
