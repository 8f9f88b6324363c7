package models

import (
	"errors"
	"time"
)

// ErrItemExists is returned when inserting a candidate item that was already fetched.
var ErrItemExists = errors.New("candidate item already exists")

// ErrAlreadyClaimed is returned when an item has been claimed for analysis by
// another task.
var ErrAlreadyClaimed = errors.New("item already claimed for analysis")

// ErrAnalysisExists is returned when attaching an analysis to an item that
// already has one. Re-analysis is an explicit operation, never an overwrite.
var ErrAnalysisExists = errors.New("analysis already exists")

// SignificanceLabel buckets how newsworthy a candidate item is.
type SignificanceLabel string

const (
	SignificanceLow    SignificanceLabel = "low"
	SignificanceMedium SignificanceLabel = "medium"
	SignificanceHigh   SignificanceLabel = "high"
)

// SentimentLabel buckets the emotional polarity of an item's text.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// SentimentSource records which scorer produced a sentiment value.
type SentimentSource string

const (
	SentimentSourcePrimary  SentimentSource = "primary"
	SentimentSourceFallback SentimentSource = "fallback"
)

// ContentType tags what kind of payload a publish cycle produced.
type ContentType string

const (
	ContentTypePrice          ContentType = "price"
	ContentTypeAnalyzedItem   ContentType = "analyzedItem"
	ContentTypeStaticFallback ContentType = "staticFallback"
)

// PriceSample is one observed quote. Immutable once stored.
type PriceSample struct {
	Value      float64   `firestore:"value" validate:"gt=0"`
	Currency   string    `firestore:"currency" validate:"required"`
	ObservedAt time.Time `firestore:"observedAt" validate:"required"`
	Source     string    `firestore:"source" validate:"required"`
}

// CandidateItem is an ingested external item awaiting (or holding) an analysis.
type CandidateItem struct {
	ExternalID  string    `firestore:"-" validate:"required"` // document ID
	RawText     string    `firestore:"rawText" validate:"required"`
	Author      string    `firestore:"author"`
	PublishedAt time.Time `firestore:"publishedAt" validate:"required"`
	FetchedAt   time.Time `firestore:"fetchedAt"`

	// Set when an analysis task claims the item and reset to the zero value
	// when a claim is released. Written explicitly on insert (no omitempty)
	// so the unanalyzed-items query can match the zero timestamp.
	AnalysisClaimedAt time.Time `firestore:"analysisClaimedAt"`
}

// Analysis is the scored result for one candidate item, attached at most once.
type Analysis struct {
	ItemID            string            `firestore:"-" validate:"required"` // document ID, 1:1 with CandidateItem
	SignificanceLabel SignificanceLabel `firestore:"significanceLabel" validate:"required"`
	SignificanceScore float64           `firestore:"significanceScore" validate:"gte=0,lte=10"`
	SentimentLabel    SentimentLabel    `firestore:"sentimentLabel" validate:"required"`
	SentimentScore    float64           `firestore:"sentimentScore" validate:"gte=-1,lte=1"`
	SentimentSource   SentimentSource   `firestore:"sentimentSource" validate:"required"`
	Summary           string            `firestore:"summary"`
	RawResult         string            `firestore:"rawResult,omitempty"`
	AnalyzedAt        time.Time         `firestore:"analyzedAt"`

	// Denormalized from the item so selection queries hit a single collection.
	ItemPublishedAt time.Time `firestore:"itemPublishedAt"`

	// Set when the content selector consumes the item. Consumed items are
	// never selected again.
	ConsumedAt time.Time `firestore:"consumedAt,omitempty"`
}

// Consumed reports whether the analyzed item has already been published.
func (a Analysis) Consumed() bool {
	return !a.ConsumedAt.IsZero()
}

// SignificanceLabelForScore maps a 0-10 significance score to its bucket.
func SignificanceLabelForScore(score float64) SignificanceLabel {
	switch {
	case score >= 7:
		return SignificanceHigh
	case score >= 4:
		return SignificanceMedium
	default:
		return SignificanceLow
	}
}

// StaticContentItem is evergreen fallback content. Usage counters are the only
// fields the core mutates; creation and deletion belong to the dashboard.
type StaticContentItem struct {
	ID         string    `firestore:"-"`
	Text       string    `firestore:"text" validate:"required"`
	Category   string    `firestore:"category"`
	UsedCount  int       `firestore:"usedCount"`
	LastUsedAt time.Time `firestore:"lastUsedAt,omitempty"`
}

// PlatformResult is the outcome of one adapter's send attempt.
type PlatformResult struct {
	ExternalMessageID string `firestore:"externalMessageId,omitempty"`
	Error             string `firestore:"error,omitempty"`
}

// PublishRecord is one entry in the post ledger, created once per content
// selection pass with per-platform results appended as adapters complete.
type PublishRecord struct {
	ID                string                    `firestore:"-"`
	ContentType       ContentType               `firestore:"contentType" validate:"required"`
	RenderedText      string                    `firestore:"renderedText" validate:"required"`
	CreatedAt         time.Time                 `firestore:"createdAt" validate:"required"`
	Succeeded         bool                      `firestore:"succeeded"`
	PerPlatformResult map[string]PlatformResult `firestore:"perPlatformResult"`
}

// TaskKind identifies a scheduled unit of work in the task-run ledger.
type TaskKind string

const (
	TaskPublish TaskKind = "publish"
	TaskIngest  TaskKind = "ingest"
	TaskAnalyze TaskKind = "analyze"
)

// TaskRun records the outcome of one scheduled task firing.
type TaskRun struct {
	Kind       TaskKind  `firestore:"kind"`
	StartedAt  time.Time `firestore:"startedAt"`
	FinishedAt time.Time `firestore:"finishedAt"`
	Outcome    string    `firestore:"outcome"` // ok, skipped, failed
	Detail     string    `firestore:"detail,omitempty"`
}

// TimeOfDay is a single wall-clock publish trigger in the configured timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// NextAfter returns the next occurrence of the trigger strictly after t.
func (d TimeOfDay) NextAfter(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
