package moderation

import (
	"strings"
)

var toxicityKeywords = []string{
	"idiot", "stupid", "moron", "loser", "shut up", "hate you",
	"pathetic", "worthless", "trash", "kill yourself",
}

var severeToxicityKeywords = []string{
	"kill yourself", "worthless", "hate you",
}

// ToxicityScorer is the default lexical toxicity policy.
type ToxicityScorer struct{}

func NewToxicityScorer() *ToxicityScorer { return &ToxicityScorer{} }

func (t *ToxicityScorer) Score(text string) (Signal, bool) {
	lower := strings.ToLower(text)

	hits := 0
	severe := false
	for _, w := range toxicityKeywords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	for _, w := range severeToxicityKeywords {
		if strings.Contains(lower, w) {
			severe = true
		}
	}

	if hits == 0 {
		return Signal{}, false
	}

	sev := SeverityLow
	conf := 0.5
	switch {
	case severe:
		sev = SeverityHigh
		conf = 0.9
	case hits >= 2:
		sev = SeverityMedium
		conf = 0.7
	}

	return Signal{
		Scorer:     "toxicity",
		Severity:   sev,
		Confidence: conf,
		Reason:     "hostile language",
	}, true
}

var crisisPhrases = []string{
	"kill myself", "suicide", "end it all", "not worth living",
	"want to die", "hurt myself", "self harm", "no reason to live",
}

var crisisAmbiguousPhrases = []string{
	"give up", "hopeless", "can't go on", "no point anymore",
}

// CrisisScorer detects self-harm language. It is biased toward caution:
// ambiguous phrasing still produces a nonzero-confidence crisis signal,
// which the pipeline never resolves to silence.
type CrisisScorer struct{}

func NewCrisisScorer() *CrisisScorer { return &CrisisScorer{} }

func (c *CrisisScorer) Score(text string) (Signal, bool) {
	lower := strings.ToLower(text)

	for _, p := range crisisPhrases {
		if strings.Contains(lower, p) {
			return Signal{
				Scorer:     "crisis",
				Severity:   SeverityCritical,
				Confidence: 0.9,
				Crisis:     true,
				Reason:     "crisis language detected",
			}, true
		}
	}

	for _, p := range crisisAmbiguousPhrases {
		if strings.Contains(lower, p) {
			return Signal{
				Scorer:     "crisis",
				Severity:   SeverityHigh,
				Confidence: 0.3,
				Crisis:     true,
				Reason:     "possible crisis language",
			}, true
		}
	}

	return Signal{}, false
}

// CrisisResources is the payload sent to the room alongside an
// escalation; the wording is configuration-grade, not contract.
var CrisisResources = []string{
	"988 Suicide & Crisis Lifeline (call or text 988)",
	"Crisis Text Line (text HOME to 741741)",
	"International Association for Suicide Prevention: https://www.iasp.info/resources/Crisis_Centres/",
}
