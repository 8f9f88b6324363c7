package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pricepulse/pricepulse-bot/internal/models"
)

// ItemClaimStore is the slice of the persistence layer the analyzer needs:
// the atomic claim that enforces single-attempt-per-item, and the write that
// attaches the finished analysis.
type ItemClaimStore interface {
	ClaimItem(ctx context.Context, externalID string) error
	ReleaseClaim(ctx context.Context, externalID string) error
	AttachAnalysis(ctx context.Context, analysis models.Analysis) error
}

// PrimaryScorer is the generative scorer interface. ErrSentimentMissing from
// Score signals a usable partial result.
type PrimaryScorer interface {
	Score(ctx context.Context, text string) (significance, sentiment float64, summary, raw string, err error)
}

// Service scores candidate items: primary generative scorer first, local
// lexicon fallback. A primary failure that still yields significance and
// summary only falls back for sentiment; a full failure falls back entirely.
type Service struct {
	store       ItemClaimStore
	primary     PrimaryScorer
	lexicon     *LexiconScorer
	callTimeout time.Duration
}

func NewService(store ItemClaimStore, primary PrimaryScorer, lexicon *LexiconScorer, callTimeout time.Duration) *Service {
	return &Service{
		store:       store,
		primary:     primary,
		lexicon:     lexicon,
		callTimeout: callTimeout,
	}
}

// AnalyzeItem claims the item, scores it, and attaches the result. Safe to
// call concurrently for different items; for the same item exactly one caller
// wins the claim and the rest return models.ErrAlreadyClaimed.
func (s *Service) AnalyzeItem(ctx context.Context, item models.CandidateItem) (models.Analysis, error) {
	if err := s.store.ClaimItem(ctx, item.ExternalID); err != nil {
		return models.Analysis{}, err
	}

	analysis := s.score(ctx, item)

	if err := s.store.AttachAnalysis(ctx, analysis); err != nil {
		if errors.Is(err, models.ErrAnalysisExists) {
			return models.Analysis{}, err
		}
		// The claim is released so the item can be retried next cycle.
		if relErr := s.store.ReleaseClaim(ctx, item.ExternalID); relErr != nil {
			slog.Warn("Failed to release claim after attach failure", "id", item.ExternalID, "error", relErr)
		}
		return models.Analysis{}, fmt.Errorf("failed to attach analysis for %s: %w", item.ExternalID, err)
	}
	return analysis, nil
}

func (s *Service) score(ctx context.Context, item models.CandidateItem) models.Analysis {
	analysis := models.Analysis{
		ItemID:          item.ExternalID,
		AnalyzedAt:      time.Now(),
		ItemPublishedAt: item.PublishedAt,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	primaryErr := errors.New("primary scorer not configured")
	if s.primary != nil {
		significance, sentiment, summary, raw, err := s.primary.Score(callCtx, item.RawText)
		switch {
		case err == nil:
			analysis.SignificanceScore = significance
			analysis.SignificanceLabel = models.SignificanceLabelForScore(significance)
			analysis.SentimentScore = sentiment
			analysis.SentimentLabel = LabelForCompound(sentiment)
			analysis.SentimentSource = models.SentimentSourcePrimary
			analysis.Summary = summary
			analysis.RawResult = raw
			return analysis
		case errors.Is(err, ErrSentimentMissing):
			// The primary result is kept; only sentiment comes from the lexicon.
			slog.Warn("Primary response missing sentiment, scoring sentiment locally", "id", item.ExternalID)
			compound := s.lexicon.Score(item.RawText)
			analysis.SignificanceScore = significance
			analysis.SignificanceLabel = models.SignificanceLabelForScore(significance)
			analysis.SentimentScore = compound
			analysis.SentimentLabel = LabelForCompound(compound)
			analysis.SentimentSource = models.SentimentSourceFallback
			analysis.Summary = summary
			analysis.RawResult = raw
			return analysis
		}
		primaryErr = err
	}

	slog.Warn("Primary scorer failed, using lexicon fallback", "id", item.ExternalID, "error", primaryErr)

	// No significance or summary is available on this path. Significance
	// stays unknown/low rather than invented.
	compound := s.lexicon.Score(item.RawText)
	analysis.SignificanceScore = 0
	analysis.SignificanceLabel = models.SignificanceLow
	analysis.SentimentScore = compound
	analysis.SentimentLabel = LabelForCompound(compound)
	analysis.SentimentSource = models.SentimentSourceFallback
	return analysis
}
