package pipeline

import (
	"context"
	"time"

	"github.com/pricepulse/pricepulse-bot/internal/models"
	"github.com/pricepulse/pricepulse-bot/internal/selector"
)

// PriceSource fetches the current quote.
type PriceSource interface {
	Fetch(ctx context.Context) (models.PriceSample, error)
}

// ItemSource pulls a bounded batch of candidate items from the feed provider.
type ItemSource interface {
	Fetch(ctx context.Context, maxResults int, sinceCursor time.Time) ([]models.CandidateItem, error)
}

// ItemAnalyzer scores one claimed item.
type ItemAnalyzer interface {
	AnalyzeItem(ctx context.Context, item models.CandidateItem) (models.Analysis, error)
}

// PublishGate is the duplicate-suppression check run before each cycle.
type PublishGate interface {
	MayPublish(ctx context.Context) (bool, error)
}

// PayloadPublisher fans a payload out to the platform adapters.
type PayloadPublisher interface {
	Publish(ctx context.Context, payload selector.Payload) (models.PublishRecord, error)
}

// Store abstracts the persistence operations the pipeline itself performs.
type Store interface {
	StorePrice(ctx context.Context, sample models.PriceSample) error
	LatestPrice(ctx context.Context) (*models.PriceSample, error)
	PriceNear(ctx context.Context, t time.Time) (*models.PriceSample, error)
	TrimOldPrices(ctx context.Context, maxSamples int) error

	InsertItemIfNew(ctx context.Context, item models.CandidateItem) error
	UnanalyzedItems(ctx context.Context, limit int) ([]models.CandidateItem, error)

	QualifyingAnalyses(ctx context.Context, minScore float64, since time.Time) ([]models.Analysis, error)
	MarkItemConsumed(ctx context.Context, itemID string) error

	StaticContent(ctx context.Context) ([]models.StaticContentItem, error)
	MarkStaticContentUsed(ctx context.Context, id string) error

	RecordTaskRun(ctx context.Context, run models.TaskRun) error
}
