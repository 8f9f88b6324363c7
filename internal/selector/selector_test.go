package selector

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pricepulse/pricepulse-bot/internal/models"
)

func samplePrice(value float64) *models.PriceSample {
	return &models.PriceSample{
		Value:      value,
		Currency:   "USD",
		ObservedAt: time.Now(),
		Source:     "coingecko",
	}
}

func analysisWith(id string, score float64, publishedAt time.Time, label models.SentimentLabel) models.Analysis {
	return models.Analysis{
		ItemID:            id,
		SignificanceScore: score,
		SignificanceLabel: models.SignificanceLabelForScore(score),
		SentimentLabel:    label,
		SentimentSource:   models.SentimentSourcePrimary,
		Summary:           "ETF inflows surge",
		ItemPublishedAt:   publishedAt,
	}
}

func TestSelect_NoPriceFails(t *testing.T) {
	_, err := Select(Inputs{Now: time.Now()})
	if !errors.Is(err, ErrNoPrice) {
		t.Fatalf("Select() error = %v, want ErrNoPrice", err)
	}
}

func TestSelect_PrefersAnalyzedItemOverStatic(t *testing.T) {
	now := time.Now()
	in := Inputs{
		Current:    samplePrice(67432.10),
		Candidates: []models.Analysis{analysisWith("item-1", 8, now.Add(-2*time.Hour), models.SentimentPositive)},
		StaticPool: []models.StaticContentItem{{ID: "s1", Text: "HODL wisdom"}},
		Now:        now,
	}

	payload, err := Select(in)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if payload.ContentType != models.ContentTypeAnalyzedItem {
		t.Fatalf("ContentType = %s, want analyzedItem", payload.ContentType)
	}
	if payload.ConsumedItemID != "item-1" {
		t.Errorf("ConsumedItemID = %s, want item-1", payload.ConsumedItemID)
	}
	if payload.UsedStaticID != "" {
		t.Errorf("UsedStaticID should be empty, got %s", payload.UsedStaticID)
	}
}

// Scenario: one qualifying high-significance positive item must produce an
// upbeat rendering that carries the summary and the price.
func TestSelect_PositiveItemRendering(t *testing.T) {
	now := time.Now()
	in := Inputs{
		Current:    samplePrice(67432.10),
		Candidates: []models.Analysis{analysisWith("item-1", 8, now.Add(-time.Hour), models.SentimentPositive)},
		Now:        now,
	}

	payload, err := Select(in)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if !strings.Contains(payload.Text, "ETF inflows surge") {
		t.Errorf("Rendered text missing summary: %q", payload.Text)
	}
	if !strings.Contains(payload.Text, "Good news") {
		t.Errorf("Positive sentiment should use upbeat framing: %q", payload.Text)
	}
	if !strings.Contains(payload.Text, "$67,432.10") {
		t.Errorf("Rendered text missing formatted price: %q", payload.Text)
	}
}

func TestSelect_NegativeAndNeutralTone(t *testing.T) {
	now := time.Now()
	for _, tc := range []struct {
		label models.SentimentLabel
		want  string
	}{
		{models.SentimentNegative, "Keeping an eye on this"},
		{models.SentimentNeutral, "In the news"},
	} {
		in := Inputs{
			Current:    samplePrice(50000),
			Candidates: []models.Analysis{analysisWith("item-1", 6, now, tc.label)},
			Now:        now,
		}
		payload, err := Select(in)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if !strings.Contains(payload.Text, tc.want) {
			t.Errorf("%s rendering %q missing %q", tc.label, payload.Text, tc.want)
		}
	}
}

func TestSelect_TieBreakRecencyDeterministic(t *testing.T) {
	now := time.Now()
	older := analysisWith("older", 8, now.Add(-10*time.Hour), models.SentimentNeutral)
	newer := analysisWith("newer", 8, now.Add(-1*time.Hour), models.SentimentNeutral)

	// Same input set in both orders must pick the same winner.
	for _, candidates := range [][]models.Analysis{{older, newer}, {newer, older}} {
		payload, err := Select(Inputs{
			Current:    samplePrice(50000),
			Candidates: candidates,
			Now:        now,
		})
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if payload.ConsumedItemID != "newer" {
			t.Errorf("Tie on significance must prefer the more recent item, got %s", payload.ConsumedItemID)
		}
	}
}

func TestSelect_HigherSignificanceWins(t *testing.T) {
	now := time.Now()
	payload, err := Select(Inputs{
		Current: samplePrice(50000),
		Candidates: []models.Analysis{
			analysisWith("medium", 5, now, models.SentimentNeutral),
			analysisWith("high", 9, now.Add(-24*time.Hour), models.SentimentNeutral),
		},
		Now: now,
	})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if payload.ConsumedItemID != "high" {
		t.Errorf("Expected highest significance to win despite being older, got %s", payload.ConsumedItemID)
	}
}

func TestSelect_ConsumedItemsSkipped(t *testing.T) {
	now := time.Now()
	consumed := analysisWith("used", 9, now, models.SentimentNeutral)
	consumed.ConsumedAt = now.Add(-time.Hour)

	payload, err := Select(Inputs{
		Current:    samplePrice(50000),
		Candidates: []models.Analysis{consumed},
		StaticPool: []models.StaticContentItem{{ID: "s1", Text: "Stay patient."}},
		Now:        now,
	})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if payload.ContentType != models.ContentTypeStaticFallback {
		t.Errorf("Consumed item must not be reselected; got %s", payload.ContentType)
	}
}

func TestSelect_StaticFallbackPicksUnused(t *testing.T) {
	now := time.Now()
	reuseWindow := 7 * 24 * time.Hour
	pool := []models.StaticContentItem{
		{ID: "fresh", Text: "Patience pays."},
		{ID: "recent", Text: "Zoom out.", LastUsedAt: now.Add(-time.Hour)},
	}

	payload, err := Select(Inputs{
		Current:     samplePrice(50000),
		StaticPool:  pool,
		ReuseWindow: reuseWindow,
		Now:         now,
		Intn:        func(n int) int { return 0 },
	})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if payload.ContentType != models.ContentTypeStaticFallback {
		t.Fatalf("ContentType = %s, want staticFallback", payload.ContentType)
	}
	if payload.UsedStaticID != "fresh" {
		t.Errorf("Expected unused item to be selected, got %s", payload.UsedStaticID)
	}
}

func TestSelect_StaticFallbackLRUWhenAllRecentlyUsed(t *testing.T) {
	now := time.Now()
	pool := []models.StaticContentItem{
		{ID: "newer", Text: "A", LastUsedAt: now.Add(-time.Hour)},
		{ID: "oldest", Text: "B", LastUsedAt: now.Add(-48 * time.Hour)},
	}

	payload, err := Select(Inputs{
		Current:     samplePrice(50000),
		StaticPool:  pool,
		ReuseWindow: 7 * 24 * time.Hour,
		Now:         now,
	})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if payload.UsedStaticID != "oldest" {
		t.Errorf("Expected least-recently-used item, got %s", payload.UsedStaticID)
	}
}

func TestSelect_BarePriceWhenNothingElse(t *testing.T) {
	payload, err := Select(Inputs{
		Current: samplePrice(50000),
		Now:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if payload.ContentType != models.ContentTypePrice {
		t.Errorf("ContentType = %s, want price", payload.ContentType)
	}
	if payload.ConsumedItemID != "" || payload.UsedStaticID != "" {
		t.Error("Bare price payload must have no consumption side effects")
	}
}

func TestRenderPriceLine_Delta(t *testing.T) {
	current := samplePrice(51000)
	baseline := samplePrice(50000)

	up := renderPriceLine(*current, baseline)
	if !strings.Contains(up, "▲2.0% 24h") {
		t.Errorf("Expected upward delta in %q", up)
	}

	down := renderPriceLine(*baseline, current)
	if !strings.Contains(down, "▼2.0% 24h") {
		t.Errorf("Expected downward delta in %q", down)
	}

	flat := renderPriceLine(*current, nil)
	if strings.Contains(flat, "24h") {
		t.Errorf("No baseline must omit the delta, got %q", flat)
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{67432.10, "$67,432.10"},
		{999.99, "$999.99"},
		{1000000, "$1,000,000.00"},
		{0.5, "$0.50"},
	}
	for _, tc := range cases {
		if got := formatAmount(tc.in); got != tc.want {
			t.Errorf("formatAmount(%v) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
