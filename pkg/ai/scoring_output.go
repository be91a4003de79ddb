package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	MinScore = 1
	MaxScore = 5

	// MaxJustificationLength bounds the justification kept from a single provider call.
	MaxJustificationLength = 1000
)

const scoringOutputSchemaSource = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["reasoning", "evidence"],
  "properties": {
    "reasoning": {"$ref": "#/definitions/dimension"},
    "evidence": {"$ref": "#/definitions/dimension"}
  },
  "definitions": {
    "dimension": {
      "type": "object",
      "required": ["score", "justification"],
      "properties": {
        "score": {"type": ["number", "string"]},
        "justification": {"type": "string"}
      }
    }
  }
}`

var (
	scoringOutputSchema = jsonschema.MustCompileString("scoring-output.json", scoringOutputSchemaSource)
	justificationPolicy = bluemonday.StrictPolicy()
)

type scoringPayload struct {
	Reasoning dimensionPayload `json:"reasoning"`
	Evidence  dimensionPayload `json:"evidence"`
}

type dimensionPayload struct {
	Score         json.RawMessage `json:"score"`
	Justification string          `json:"justification"`
}

// ParseScoringOutput decodes a model reply into a ScoringResult. The reply
// must hold a JSON object with reasoning and evidence dimensions; numeric
// strings are accepted as scores, anything else non-numeric is rejected.
func ParseScoringOutput(content string) (ScoringResult, error) {
	body := extractJSONObject(content)
	if body == "" {
		return ScoringResult{}, fmt.Errorf("%w: no json object in reply", ErrMalformedOutput)
	}

	decoder := json.NewDecoder(strings.NewReader(body))
	decoder.UseNumber()
	var document interface{}
	if err := decoder.Decode(&document); err != nil {
		return ScoringResult{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := scoringOutputSchema.Validate(document); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return ScoringResult{}, fmt.Errorf("%w: %s", ErrMalformedOutput, describeValidationError(validationErr))
		}
		return ScoringResult{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var payload scoringPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ScoringResult{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	reasoning, err := payload.Reasoning.toDimension("reasoning")
	if err != nil {
		return ScoringResult{}, err
	}
	evidence, err := payload.Evidence.toDimension("evidence")
	if err != nil {
		return ScoringResult{}, err
	}

	return ScoringResult{Reasoning: reasoning, Evidence: evidence}, nil
}

func (p dimensionPayload) toDimension(field string) (DimensionScore, error) {
	value, err := coerceScore(p.Score)
	if err != nil {
		return DimensionScore{}, fmt.Errorf("%w: %s.score: %v", ErrMalformedOutput, field, err)
	}
	return DimensionScore{
		Score:         ClampScore(value),
		Justification: CleanJustification(p.Justification),
	}, nil
}

func coerceScore(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, errors.New("missing")
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
		text = strings.TrimSpace(text)
	}

	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		// Out of range numbers come back as ±Inf and are clamped like any other non-finite score.
		if errors.Is(err, strconv.ErrRange) {
			return value, nil
		}
		return 0, fmt.Errorf("%q is not numeric", text)
	}
	return value, nil
}

// ClampScore rounds value to the nearest integer inside [MinScore, MaxScore].
// NaN is treated as the lower bound.
func ClampScore(value float64) int {
	switch {
	case math.IsNaN(value), math.IsInf(value, -1):
		return MinScore
	case math.IsInf(value, 1):
		return MaxScore
	}

	rounded := math.Round(value)
	if rounded < MinScore {
		return MinScore
	}
	if rounded > MaxScore {
		return MaxScore
	}
	return int(rounded)
}

// CleanJustification strips markup from model text and bounds its length.
func CleanJustification(text string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(justificationPolicy.Sanitize(text)))
	return truncateRunes(cleaned, MaxJustificationLength)
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// extractJSONObject trims code fences and prose around the outermost JSON object.
func extractJSONObject(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return ""
	}
	return trimmed[start : end+1]
}

func describeValidationError(err *jsonschema.ValidationError) string {
	leaf := err
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	location := leaf.InstanceLocation
	if location == "" {
		location = "/"
	}
	return fmt.Sprintf("%s: %s", location, leaf.Message)
}
