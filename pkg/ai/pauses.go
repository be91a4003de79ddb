package ai

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultPauseThreshold is the shortest silence rendered as a pause marker.
const DefaultPauseThreshold = 5 * time.Second

var pauseMarkerPattern = regexp.MustCompile(`\(pause \d+(?:\.\d+)?s\)`)

// FormatPause renders a silence gap as an inline marker, e.g. "(pause 7.2s)".
func FormatPause(gapSeconds float64) string {
	return fmt.Sprintf("(pause %.1fs)", gapSeconds)
}

// AnnotatePauses joins words into a transcript and inserts a pause marker
// before any word that starts at least threshold after the previous word ended.
func AnnotatePauses(words []Word, threshold time.Duration) string {
	if threshold <= 0 {
		threshold = DefaultPauseThreshold
	}
	limit := threshold.Seconds()

	var builder strings.Builder
	var previousEnd float64
	seen := false
	for _, word := range words {
		text := strings.TrimSpace(word.Text)
		if text == "" {
			continue
		}
		if seen {
			builder.WriteByte(' ')
			if gap := word.Start - previousEnd; gap >= limit {
				builder.WriteString(FormatPause(gap))
				builder.WriteByte(' ')
			}
		}
		builder.WriteString(text)
		previousEnd = word.End
		seen = true
	}
	return builder.String()
}

// StripPauses removes pause markers and collapses whitespace, producing the
// copy of a transcript that is sent for scoring.
func StripPauses(text string) string {
	return strings.Join(strings.Fields(pauseMarkerPattern.ReplaceAllString(text, " ")), " ")
}
