package selector

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/pricepulse/pricepulse-bot/internal/models"
)

// ErrNoPrice is returned when no price sample is available at all; every
// payload leads with a price line, so selection cannot proceed without one.
var ErrNoPrice = errors.New("no price sample available")

// Payload is the single message produced per publish cycle, plus the
// consumption side effects the caller must apply after a successful publish.
type Payload struct {
	ContentType models.ContentType
	Text        string

	// Exactly one of these is set for non-price content types.
	ConsumedItemID string
	UsedStaticID   string
}

// Inputs is everything the selection state machine reads. Select is pure
// given these inputs, which keeps it independently testable.
type Inputs struct {
	Current    *models.PriceSample
	Baseline   *models.PriceSample // sample nearest to 24h ago, may be nil
	Candidates []models.Analysis   // qualifying analyzed items
	StaticPool []models.StaticContentItem

	ReuseWindow time.Duration
	Now         time.Time

	// Intn picks the random static item; nil uses math/rand.
	Intn func(n int) int
}

// Select walks the fallback chain: analyzed item, then static content, then a
// bare price update when no auxiliary content exists.
func Select(in Inputs) (Payload, error) {
	if in.Current == nil {
		return Payload{}, ErrNoPrice
	}
	priceLine := renderPriceLine(*in.Current, in.Baseline)

	if best, ok := bestCandidate(in.Candidates); ok {
		return Payload{
			ContentType:    models.ContentTypeAnalyzedItem,
			Text:           priceLine + "\n" + renderItemLine(best),
			ConsumedItemID: best.ItemID,
		}, nil
	}

	if static, ok := pickStatic(in.StaticPool, in.ReuseWindow, in.Now, in.Intn); ok {
		return Payload{
			ContentType:  models.ContentTypeStaticFallback,
			Text:         priceLine + "\n" + static.Text,
			UsedStaticID: static.ID,
		}, nil
	}

	return Payload{ContentType: models.ContentTypePrice, Text: priceLine}, nil
}

// bestCandidate orders by significance desc, then item recency desc. The
// ordering is total, so the same input set always yields the same winner.
func bestCandidate(candidates []models.Analysis) (models.Analysis, bool) {
	eligible := make([]models.Analysis, 0, len(candidates))
	for _, a := range candidates {
		if !a.Consumed() {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return models.Analysis{}, false
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].SignificanceScore != eligible[j].SignificanceScore {
			return eligible[i].SignificanceScore > eligible[j].SignificanceScore
		}
		return eligible[i].ItemPublishedAt.After(eligible[j].ItemPublishedAt)
	})
	return eligible[0], true
}

// pickStatic selects a random item unused within the reuse window; with none
// available it falls back to the least-recently-used item.
func pickStatic(pool []models.StaticContentItem, reuseWindow time.Duration, now time.Time, intn func(n int) int) (models.StaticContentItem, bool) {
	if len(pool) == 0 {
		return models.StaticContentItem{}, false
	}
	if intn == nil {
		intn = rand.Intn
	}

	cutoff := now.Add(-reuseWindow)
	var fresh []models.StaticContentItem
	for _, item := range pool {
		if item.LastUsedAt.IsZero() || item.LastUsedAt.Before(cutoff) {
			fresh = append(fresh, item)
		}
	}
	if len(fresh) > 0 {
		return fresh[intn(len(fresh))], true
	}

	lru := pool[0]
	for _, item := range pool[1:] {
		if item.LastUsedAt.Before(lru.LastUsedAt) {
			lru = item
		}
	}
	return lru, true
}

func renderPriceLine(current models.PriceSample, baseline *models.PriceSample) string {
	line := fmt.Sprintf("BTC %s %s", formatAmount(current.Value), current.Currency)
	if baseline == nil || baseline.Value <= 0 {
		return line
	}
	delta := (current.Value - baseline.Value) / baseline.Value * 100
	arrow := "▲"
	if delta < 0 {
		arrow = "▼"
	}
	return fmt.Sprintf("%s (%s%.1f%% 24h)", line, arrow, math.Abs(delta))
}

// renderItemLine frames the summary with a tone chosen by sentiment label.
func renderItemLine(a models.Analysis) string {
	summary := a.Summary
	switch a.SentimentLabel {
	case models.SentimentPositive:
		return fmt.Sprintf("Good news: %s 🚀", summary)
	case models.SentimentNegative:
		return fmt.Sprintf("Keeping an eye on this: %s", summary)
	default:
		return fmt.Sprintf("In the news: %s", summary)
	}
}

func formatAmount(v float64) string {
	// Thousands separators keep the price line readable on every platform.
	whole := int64(v)
	frac := int64(math.Round((v - float64(whole)) * 100))
	if frac >= 100 {
		whole++
		frac -= 100
	}
	out := ""
	for whole >= 1000 {
		out = fmt.Sprintf(",%03d%s", whole%1000, out)
		whole /= 1000
	}
	return fmt.Sprintf("$%d%s.%02d", whole, out, frac)
}
