package service

import (
	"encoding/json"
	"strings"

	"github.com/noah-isme/oracy-scoring-api/internal/models"
	"github.com/noah-isme/oracy-scoring-api/pkg/ai"
)

type responseKey struct {
	questionID uint
	stage      string
}

// indexResponses keys responses by question and stage. The first response
// seen for a key wins; later duplicates are ignored.
func indexResponses(responses []models.OracyResponse) map[responseKey]models.OracyResponse {
	index := make(map[responseKey]models.OracyResponse, len(responses))
	for _, response := range responses {
		stage := strings.ToLower(strings.TrimSpace(response.Stage))
		if stage == "" {
			stage = models.ResponseStagePrimary
		}
		key := responseKey{questionID: response.QuestionID, stage: stage}
		if _, exists := index[key]; exists {
			continue
		}
		index[key] = response
	}
	return index
}

// indexEvidence keys evidence images by question, first image wins.
func indexEvidence(images []models.EvidenceImage) map[uint]models.EvidenceImage {
	index := make(map[uint]models.EvidenceImage, len(images))
	for _, image := range images {
		if _, exists := index[image.QuestionID]; exists {
			continue
		}
		index[image.QuestionID] = image
	}
	return index
}

type evidenceAnalysis struct {
	Summary   string   `json:"summary"`
	Questions []string `json:"questions"`
}

// parseEvidenceAnalysis reads the stored {summary, questions[]} description of
// an evidence image. It reports false when the blob is absent, malformed or
// carries nothing usable.
func parseEvidenceAnalysis(raw []byte) (evidenceAnalysis, bool) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return evidenceAnalysis{}, false
	}

	var analysis evidenceAnalysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return evidenceAnalysis{}, false
	}

	analysis.Summary = strings.TrimSpace(analysis.Summary)
	questions := analysis.Questions[:0]
	for _, question := range analysis.Questions {
		if trimmed := strings.TrimSpace(question); trimmed != "" {
			questions = append(questions, trimmed)
		}
	}
	analysis.Questions = questions

	return analysis, analysis.Summary != "" || len(analysis.Questions) > 0
}

// questionText is the prompt given to the scorer, with the evidence image
// description folded in when the question expects one.
func questionText(question models.Question, evidence *models.EvidenceImage) string {
	prompt := strings.TrimSpace(question.Prompt)
	if !question.ExpectsEvidenceFollowUp() || evidence == nil {
		return prompt
	}

	analysis, ok := parseEvidenceAnalysis(evidence.Analysis)
	if !ok {
		return prompt
	}

	var builder strings.Builder
	builder.WriteString(prompt)
	builder.WriteString("\n\nEvidence image provided by the student.")
	if analysis.Summary != "" {
		builder.WriteString("\nDescription: ")
		builder.WriteString(analysis.Summary)
	}
	if len(analysis.Questions) > 0 {
		builder.WriteString("\nFollow-up questions raised by the image:")
		for _, q := range analysis.Questions {
			builder.WriteString("\n- ")
			builder.WriteString(q)
		}
	}
	return builder.String()
}

// scoringTranscript normalises the primary answer for grading and appends the
// follow-up answer as a labelled section when one is present.
func scoringTranscript(primary, followUpPrompt, followUp string) string {
	primary = ai.StripPauses(primary)
	followUp = ai.StripPauses(followUp)
	if followUp == "" {
		return primary
	}

	var builder strings.Builder
	if primary != "" {
		builder.WriteString("Initial answer:\n")
		builder.WriteString(primary)
		builder.WriteString("\n\n")
	}
	if prompt := strings.TrimSpace(followUpPrompt); prompt != "" {
		builder.WriteString("Follow-up question:\n")
		builder.WriteString(prompt)
		builder.WriteString("\n\n")
	}
	builder.WriteString("Follow-up answer:\n")
	builder.WriteString(followUp)
	return builder.String()
}
