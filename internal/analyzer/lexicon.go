package analyzer

import (
	"github.com/jonreiter/govader"

	"github.com/pricepulse/pricepulse-bot/internal/models"
)

// Compound-score cutoffs for bucketing lexicon sentiment. Scores at exactly
// the cutoff are Neutral.
const (
	positiveThreshold = 0.05
	negativeThreshold = -0.05
)

// LexiconScorer is the deterministic local fallback for sentiment when the
// primary scorer fails. It cannot estimate significance.
type LexiconScorer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

// Score returns the compound polarity of text in [-1, 1].
func (l *LexiconScorer) Score(text string) float64 {
	return l.analyzer.PolarityScores(text).Compound
}

// LabelForCompound maps a compound score to its sentiment bucket.
func LabelForCompound(score float64) models.SentimentLabel {
	switch {
	case score > positiveThreshold:
		return models.SentimentPositive
	case score < negativeThreshold:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}
