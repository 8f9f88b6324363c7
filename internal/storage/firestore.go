package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pricepulse/pricepulse-bot/internal/models"
	"github.com/pricepulse/pricepulse-bot/internal/validator"
)

const (
	pricesCollection        = "prices"
	itemsCollection         = "items"
	analysesCollection      = "analyses"
	staticContentCollection = "static_content"
	publishCollection       = "publish_records"
	taskRunsCollection      = "task_runs"
)

// Client is the single shared handle to the persistence layer. All components
// go through its repository methods rather than holding Firestore references.
type Client struct {
	client   *firestore.Client
	validate *validator.Validator
}

func New(ctx context.Context, projectID string) (*Client, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &Client{client: client, validate: validator.New()}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// --- Prices ---

// StorePrice appends one immutable price sample.
func (c *Client) StorePrice(ctx context.Context, sample models.PriceSample) error {
	if err := c.validate.ValidateStruct(sample); err != nil {
		return fmt.Errorf("refusing to store price sample: %w", err)
	}
	_, _, err := c.client.Collection(pricesCollection).Add(ctx, sample)
	if err != nil {
		return fmt.Errorf("failed to store price sample: %w", err)
	}
	return nil
}

// LatestPrice returns the most recently observed sample, or nil if none exist.
func (c *Client) LatestPrice(ctx context.Context) (*models.PriceSample, error) {
	iter := c.client.Collection(pricesCollection).
		OrderBy("observedAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price: %w", err)
	}

	var sample models.PriceSample
	if err := doc.DataTo(&sample); err != nil {
		return nil, fmt.Errorf("failed to unmarshal price sample: %w", err)
	}
	return &sample, nil
}

// PriceNear returns the sample closest to t from the older side, used as the
// baseline for delta computation. Nil when no sample is old enough.
func (c *Client) PriceNear(ctx context.Context, t time.Time) (*models.PriceSample, error) {
	iter := c.client.Collection(pricesCollection).
		Where("observedAt", "<=", t).
		OrderBy("observedAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price near %s: %w", t.Format(time.RFC3339), err)
	}

	var sample models.PriceSample
	if err := doc.DataTo(&sample); err != nil {
		return nil, fmt.Errorf("failed to unmarshal price sample: %w", err)
	}
	return &sample, nil
}

// TrimOldPrices deletes the oldest samples once the collection exceeds maxSamples.
func (c *Client) TrimOldPrices(ctx context.Context, maxSamples int) error {
	collectionRef := c.client.Collection(pricesCollection)

	countSnapshot, err := collectionRef.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to count price samples: %w", err)
	}
	countValue, ok := countSnapshot["all"]
	if !ok {
		return fmt.Errorf("count aggregation result was invalid: 'all' key missing")
	}
	pbValue, ok := countValue.(*firestorepb.Value)
	if !ok {
		return fmt.Errorf("count aggregation result has unexpected type %T", countValue)
	}
	current := int(pbValue.GetIntegerValue())

	if current <= maxSamples {
		return nil
	}
	numToDelete := current - maxSamples

	iter := collectionRef.
		OrderBy("observedAt", firestore.Asc).
		Limit(numToDelete).
		Documents(ctx)
	defer iter.Stop()

	bulkWriter := c.client.BulkWriter(ctx)
	defer bulkWriter.End()

	deleted := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to iterate prices for trimming: %w", err)
		}
		if _, delErr := bulkWriter.Delete(doc.Ref); delErr != nil {
			slog.Warn("Failed to queue price delete", "id", doc.Ref.ID, "error", delErr)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		bulkWriter.Flush()
		slog.Info("Trimmed old price samples", "deleted", deleted)
	}
	return nil
}

// --- Candidate items ---

// InsertItemIfNew stores a fetched item keyed by its external ID. Returns
// models.ErrItemExists if the item was already ingested; re-fetching is a no-op.
func (c *Client) InsertItemIfNew(ctx context.Context, item models.CandidateItem) error {
	if err := c.validate.ValidateStruct(item); err != nil {
		return fmt.Errorf("refusing to store candidate item: %w", err)
	}
	docRef := c.client.Collection(itemsCollection).Doc(item.ExternalID)
	// Create fails if the document already exists.
	if _, err := docRef.Create(ctx, item); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return models.ErrItemExists
		}
		return fmt.Errorf("failed to create candidate item %s: %w", item.ExternalID, err)
	}
	return nil
}

// UnanalyzedItems returns up to limit items with no attached analysis and no
// live claim. The claim timestamp doubles as the analyzed marker, so the query
// matches the explicit zero value written at insert; older analyzed items can
// never push newer unanalyzed ones out of reach.
func (c *Client) UnanalyzedItems(ctx context.Context, limit int) ([]models.CandidateItem, error) {
	iter := c.client.Collection(itemsCollection).
		Where("analysisClaimedAt", "==", time.Time{}).
		OrderBy("fetchedAt", firestore.Asc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var items []models.CandidateItem
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate items: %w", err)
		}

		var item models.CandidateItem
		if err := doc.DataTo(&item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item %s: %w", doc.Ref.ID, err)
		}
		item.ExternalID = doc.Ref.ID
		items = append(items, item)
	}
	return items, nil
}

// ClaimItem atomically marks an item as being analyzed. Returns
// models.ErrAlreadyClaimed when another task got there first, so analysis is
// attempted at most once per unanalyzed item.
func (c *Client) ClaimItem(ctx context.Context, externalID string) error {
	docRef := c.client.Collection(itemsCollection).Doc(externalID)
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var item models.CandidateItem
		if err := doc.DataTo(&item); err != nil {
			return fmt.Errorf("failed to unmarshal item: %w", err)
		}
		if !item.AnalysisClaimedAt.IsZero() {
			return models.ErrAlreadyClaimed
		}
		return tx.Update(docRef, []firestore.Update{
			{Path: "analysisClaimedAt", Value: time.Now()},
		})
	})
	if err != nil {
		if errors.Is(err, models.ErrAlreadyClaimed) {
			return models.ErrAlreadyClaimed
		}
		return fmt.Errorf("failed to claim item %s: %w", externalID, err)
	}
	return nil
}

// ReleaseClaim clears a claim after a failed analysis attempt so a later
// cycle can retry the item. The field is reset to the zero timestamp rather
// than deleted so the unanalyzed-items query picks the item up again.
func (c *Client) ReleaseClaim(ctx context.Context, externalID string) error {
	docRef := c.client.Collection(itemsCollection).Doc(externalID)
	_, err := docRef.Update(ctx, []firestore.Update{
		{Path: "analysisClaimedAt", Value: time.Time{}},
	})
	if err != nil {
		return fmt.Errorf("failed to release claim on %s: %w", externalID, err)
	}
	return nil
}

// --- Analyses ---

// AttachAnalysis stores the analysis for an item. The document ID mirrors the
// item ID, so a second attach fails with models.ErrAnalysisExists instead of
// overwriting.
func (c *Client) AttachAnalysis(ctx context.Context, analysis models.Analysis) error {
	if err := c.validate.ValidateStruct(analysis); err != nil {
		return fmt.Errorf("refusing to store analysis: %w", err)
	}
	docRef := c.client.Collection(analysesCollection).Doc(analysis.ItemID)
	if _, err := docRef.Create(ctx, analysis); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return models.ErrAnalysisExists
		}
		return fmt.Errorf("failed to attach analysis for %s: %w", analysis.ItemID, err)
	}
	return nil
}

// QualifyingAnalyses returns unconsumed analyses with significance at or above
// minScore whose source item was published after since, ordered by
// significance desc then item recency desc. Recency and consumption are
// filtered here because Firestore allows range conditions on a single field.
func (c *Client) QualifyingAnalyses(ctx context.Context, minScore float64, since time.Time) ([]models.Analysis, error) {
	iter := c.client.Collection(analysesCollection).
		Where("significanceScore", ">=", minScore).
		OrderBy("significanceScore", firestore.Desc).
		OrderBy("itemPublishedAt", firestore.Desc).
		Limit(100).
		Documents(ctx)
	defer iter.Stop()

	var analyses []models.Analysis
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate analyses: %w", err)
		}

		var a models.Analysis
		if err := doc.DataTo(&a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis %s: %w", doc.Ref.ID, err)
		}
		a.ItemID = doc.Ref.ID

		if a.Consumed() || a.ItemPublishedAt.Before(since) {
			continue
		}
		analyses = append(analyses, a)
	}
	return analyses, nil
}

// MarkItemConsumed stamps an analysis so its item is never selected again.
func (c *Client) MarkItemConsumed(ctx context.Context, itemID string) error {
	docRef := c.client.Collection(analysesCollection).Doc(itemID)
	_, err := docRef.Update(ctx, []firestore.Update{
		{Path: "consumedAt", Value: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to mark item %s consumed: %w", itemID, err)
	}
	return nil
}

// --- Static content ---

// StaticContent returns the fallback content pool.
func (c *Client) StaticContent(ctx context.Context) ([]models.StaticContentItem, error) {
	iter := c.client.Collection(staticContentCollection).Documents(ctx)
	defer iter.Stop()

	var items []models.StaticContentItem
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate static content: %w", err)
		}
		var item models.StaticContentItem
		if err := doc.DataTo(&item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal static content %s: %w", doc.Ref.ID, err)
		}
		item.ID = doc.Ref.ID
		items = append(items, item)
	}
	return items, nil
}

// MarkStaticContentUsed bumps the usage counter and timestamp on selection.
func (c *Client) MarkStaticContentUsed(ctx context.Context, id string) error {
	docRef := c.client.Collection(staticContentCollection).Doc(id)
	_, err := docRef.Update(ctx, []firestore.Update{
		{Path: "usedCount", Value: firestore.Increment(1)},
		{Path: "lastUsedAt", Value: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to mark static content %s used: %w", id, err)
	}
	return nil
}

// --- Publish ledger ---

// HasRecentPublish reports whether any publish record was created within window.
func (c *Client) HasRecentPublish(ctx context.Context, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window)
	iter := c.client.Collection(publishCollection).
		Where("createdAt", ">=", cutoff).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query recent publishes: %w", err)
	}
	return true, nil
}

// InsertPublishRecord appends one entry to the post ledger.
func (c *Client) InsertPublishRecord(ctx context.Context, record models.PublishRecord) error {
	if err := c.validate.ValidateStruct(record); err != nil {
		return fmt.Errorf("refusing to store publish record: %w", err)
	}
	_, _, err := c.client.Collection(publishCollection).Add(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to insert publish record: %w", err)
	}
	return nil
}

// RecentPublishes returns the latest ledger entries, newest first.
func (c *Client) RecentPublishes(ctx context.Context, limit int) ([]models.PublishRecord, error) {
	iter := c.client.Collection(publishCollection).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var records []models.PublishRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate publish records: %w", err)
		}
		var record models.PublishRecord
		if err := doc.DataTo(&record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal publish record %s: %w", doc.Ref.ID, err)
		}
		record.ID = doc.Ref.ID
		records = append(records, record)
	}
	return records, nil
}

// RecordTaskRun appends one ingestion/analysis/publish outcome to the ledger.
func (c *Client) RecordTaskRun(ctx context.Context, run models.TaskRun) error {
	_, _, err := c.client.Collection(taskRunsCollection).Add(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to record task run: %w", err)
	}
	return nil
}

// --- Stats (read surface for the dashboard) ---

// DailySentiment is the average sentiment score of analyses for one day.
type DailySentiment struct {
	Day     string  `json:"day"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// AnalysisStats summarizes stored analyses for the monitoring surface.
type AnalysisStats struct {
	Total          int                               `json:"total"`
	BySignificance map[models.SignificanceLabel]int  `json:"bySignificance"`
	BySentiment    map[models.SentimentLabel]int     `json:"bySentiment"`
	Daily          []DailySentiment                  `json:"dailySentiment"`
}

// AnalysisStatistics aggregates label counts and a per-day sentiment average
// over analyses created after since.
func (c *Client) AnalysisStatistics(ctx context.Context, since time.Time) (*AnalysisStats, error) {
	iter := c.client.Collection(analysesCollection).
		Where("analyzedAt", ">=", since).
		Documents(ctx)
	defer iter.Stop()

	stats := &AnalysisStats{
		BySignificance: make(map[models.SignificanceLabel]int),
		BySentiment:    make(map[models.SentimentLabel]int),
	}
	daySums := make(map[string]float64)
	dayCounts := make(map[string]int)

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate analyses for stats: %w", err)
		}
		var a models.Analysis
		if err := doc.DataTo(&a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis %s: %w", doc.Ref.ID, err)
		}
		stats.Total++
		stats.BySignificance[a.SignificanceLabel]++
		stats.BySentiment[a.SentimentLabel]++

		day := a.AnalyzedAt.UTC().Format("2006-01-02")
		daySums[day] += a.SentimentScore
		dayCounts[day]++
	}

	days := make([]string, 0, len(daySums))
	for day := range daySums {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		stats.Daily = append(stats.Daily, DailySentiment{
			Day:     day,
			Average: daySums[day] / float64(dayCounts[day]),
			Count:   dayCounts[day],
		})
	}
	return stats, nil
}
