// Package sentiment classifies message text into coarse emotional labels.
// The keyword implementation here is a deliberately simple default; the
// Analyzer interface is the contract, the word lists are policy.
package sentiment

import (
	"strings"

	"github.com/chatrealm/chatrealm/internal/types"
)

// Analyzer classifies a message and reports a confidence in 0..1.
type Analyzer interface {
	Analyze(text string) (types.Sentiment, float64)
}

var positiveKeywords = []string{
	"thanks", "thank you", "great", "awesome", "good", "yes", "understand",
	"got it", "perfect", "excellent", "amazing", "love", "helpful", "clear",
}

var negativeKeywords = []string{
	"confused", "don't understand", "what", "huh", "lost", "unclear",
	"difficult", "hard", "frustrated", "no", "can't", "wrong", "stuck",
}

var questionIndicators = []string{"?", "what", "how", "why", "when", "where", "who"}

var confusionPhrases = []string{
	"don't understand", "confused", "lost", "what do you mean",
	"i don't get", "unclear", "can you explain", "help",
}

// KeywordAnalyzer is the default lexical classifier.
type KeywordAnalyzer struct{}

func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{}
}

func (a *KeywordAnalyzer) Analyze(text string) (types.Sentiment, float64) {
	lower := strings.ToLower(text)

	var negative, positive int
	for _, w := range negativeKeywords {
		if strings.Contains(lower, w) {
			negative++
		}
	}
	for _, w := range positiveKeywords {
		if strings.Contains(lower, w) {
			positive++
		}
	}

	isQuestion := false
	for _, q := range questionIndicators {
		if strings.Contains(lower, q) {
			isQuestion = true
			break
		}
	}

	switch {
	case negative > positive:
		if negative >= 2 || strings.Contains(lower, "confused") || strings.Contains(lower, "don't understand") {
			return types.SentimentFrustrated, 0.7
		}
		return types.SentimentNegative, 0.6
	case positive > negative:
		return types.SentimentPositive, 0.7
	case isQuestion && len(text) > 30:
		// long questions often signal confusion, but not reliably
		return types.SentimentNeutral, 0.5
	default:
		return types.SentimentNeutral, 0.5
	}
}

// IsConfused reports whether the text carries an explicit confusion marker.
func IsConfused(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range confusionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// EngagementLevel buckets a user's activity for prompt summaries.
func EngagementLevel(messageCount int, silence int) string {
	switch {
	case silence > 300:
		return "inactive"
	case silence > 120:
		return "low"
	case messageCount > 10:
		return "high"
	case messageCount > 3:
		return "medium"
	default:
		return "low"
	}
}
