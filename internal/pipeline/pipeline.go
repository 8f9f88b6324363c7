package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pricepulse/pricepulse-bot/internal/config"
	"github.com/pricepulse/pricepulse-bot/internal/feed"
	"github.com/pricepulse/pricepulse-bot/internal/models"
	"github.com/pricepulse/pricepulse-bot/internal/price"
	"github.com/pricepulse/pricepulse-bot/internal/selector"
)

// Pipeline orchestrates the publish, ingest, and analysis cycles. All
// collaborators are constructed once at process start and injected here;
// cycles never rebuild them.
type Pipeline struct {
	store     Store
	prices    PriceSource
	items     ItemSource
	analyzer  ItemAnalyzer
	gate      PublishGate
	publisher PayloadPublisher
	cfg       *config.Config
}

func New(store Store, prices PriceSource, items ItemSource, analyzer ItemAnalyzer,
	gate PublishGate, pub PayloadPublisher, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store:     store,
		prices:    prices,
		items:     items,
		analyzer:  analyzer,
		gate:      gate,
		publisher: pub,
		cfg:       cfg,
	}
}

// RunPublishCycle runs one complete publish pass: suppression gate, price
// fetch with degraded fallback, content selection, fan-out, and consumption
// marking. Returning an error ends only this cycle; the scheduler never lets
// a cycle failure crash the process.
func (p *Pipeline) RunPublishCycle(ctx context.Context) error {
	started := time.Now()

	allowed, err := p.gate.MayPublish(ctx)
	if err != nil {
		p.recordRun(ctx, models.TaskPublish, started, "failed", "suppression check: "+err.Error())
		return fmt.Errorf("suppression check failed: %w", err)
	}
	if !allowed {
		slog.Info("Recent publish found, suppressing cycle")
		p.recordRun(ctx, models.TaskPublish, started, "skipped", "suppression window")
		return nil
	}

	current := p.obtainPrice(ctx)
	baseline, err := p.store.PriceNear(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		slog.Warn("Failed to load baseline price, omitting delta", "error", err)
		baseline = nil
	}

	candidates, err := p.store.QualifyingAnalyses(ctx, p.cfg.MinSignificance, time.Now().Add(-p.cfg.RecencyWindow))
	if err != nil {
		slog.Warn("Failed to load analyzed items, falling back to static content", "error", err)
		candidates = nil
	}

	staticPool, err := p.store.StaticContent(ctx)
	if err != nil {
		slog.Warn("Failed to load static content", "error", err)
		staticPool = nil
	}

	payload, err := selector.Select(selector.Inputs{
		Current:     current,
		Baseline:    baseline,
		Candidates:  candidates,
		StaticPool:  staticPool,
		ReuseWindow: time.Duration(p.cfg.ReuseWindowDays) * 24 * time.Hour,
		Now:         time.Now(),
	})
	if err != nil {
		p.recordRun(ctx, models.TaskPublish, started, "failed", err.Error())
		return fmt.Errorf("content selection failed: %w", err)
	}

	record, err := p.publisher.Publish(ctx, payload)
	if err != nil {
		p.recordRun(ctx, models.TaskPublish, started, "failed", err.Error())
		return fmt.Errorf("publish failed: %w", err)
	}
	slog.Info("Published status update", "contentType", record.ContentType, "platforms", len(record.PerPlatformResult))

	// Consumption marks happen only after at least one adapter succeeded,
	// so an entirely failed cycle leaves the content available for retry.
	if payload.ConsumedItemID != "" {
		if err := p.store.MarkItemConsumed(ctx, payload.ConsumedItemID); err != nil {
			slog.Warn("Failed to mark item consumed", "id", payload.ConsumedItemID, "error", err)
		}
	}
	if payload.UsedStaticID != "" {
		if err := p.store.MarkStaticContentUsed(ctx, payload.UsedStaticID); err != nil {
			slog.Warn("Failed to mark static content used", "id", payload.UsedStaticID, "error", err)
		}
	}

	p.recordRun(ctx, models.TaskPublish, started, "ok", string(record.ContentType))
	return nil
}

// obtainPrice fetches and stores a fresh sample, degrading to the most recent
// stored one when the source is unavailable. Price failure never blocks
// publishing; a nil result is handled by the selector.
func (p *Pipeline) obtainPrice(ctx context.Context) *models.PriceSample {
	sample, err := p.prices.Fetch(ctx)
	if err != nil {
		if errors.Is(err, price.ErrUnavailable) {
			slog.Warn("Price source unavailable, reusing last stored sample", "error", err)
		} else {
			slog.Warn("Price fetch failed, reusing last stored sample", "error", err)
		}
		stored, loadErr := p.store.LatestPrice(ctx)
		if loadErr != nil {
			slog.Error("Failed to load last stored price", "error", loadErr)
			return nil
		}
		return stored
	}

	if err := p.store.StorePrice(ctx, sample); err != nil {
		// Write rejection is a data-integrity failure; surface it loudly but
		// keep publishing with the in-memory sample.
		slog.Error("Failed to store price sample", "error", err)
	} else if err := p.store.TrimOldPrices(ctx, p.cfg.MaxStoredPrices); err != nil {
		slog.Warn("Failed to trim old price samples", "error", err)
	}
	return &sample
}

// RunIngestCycle fetches a bounded batch of candidate items and stores the
// new ones. A rate-limit signal skips the whole cycle; it is expected under
// free-tier quotas and resolves on the next firing.
func (p *Pipeline) RunIngestCycle(ctx context.Context) error {
	started := time.Now()

	items, err := p.items.Fetch(ctx, p.cfg.FeedMaxResults, time.Now().Add(-p.cfg.IngestInterval))
	if err != nil {
		if errors.Is(err, feed.ErrRateLimited) {
			slog.Warn("Feed provider rate limited, skipping ingestion cycle")
			p.recordRun(ctx, models.TaskIngest, started, "skipped", "rate limited")
			return nil
		}
		p.recordRun(ctx, models.TaskIngest, started, "failed", err.Error())
		return fmt.Errorf("item fetch failed: %w", err)
	}

	var inserted, duplicates int
	for _, item := range items {
		err := p.store.InsertItemIfNew(ctx, item)
		switch {
		case err == nil:
			inserted++
		case errors.Is(err, models.ErrItemExists):
			duplicates++
		default:
			p.recordRun(ctx, models.TaskIngest, started, "failed", err.Error())
			return fmt.Errorf("failed to store candidate item %s: %w", item.ExternalID, err)
		}
	}

	slog.Info("Ingestion cycle complete", "fetched", len(items), "inserted", inserted, "duplicates", duplicates)
	p.recordRun(ctx, models.TaskIngest, started, "ok", fmt.Sprintf("inserted=%d duplicates=%d", inserted, duplicates))
	return nil
}

// RunAnalysisCycle scores a batch of unanalyzed items. Per-item failures are
// logged and skipped so one bad item cannot starve the rest of the batch.
func (p *Pipeline) RunAnalysisCycle(ctx context.Context) error {
	started := time.Now()

	items, err := p.store.UnanalyzedItems(ctx, p.cfg.AnalysisBatch)
	if err != nil {
		p.recordRun(ctx, models.TaskAnalyze, started, "failed", err.Error())
		return fmt.Errorf("failed to load unanalyzed items: %w", err)
	}
	if len(items) == 0 {
		p.recordRun(ctx, models.TaskAnalyze, started, "ok", "nothing to analyze")
		return nil
	}

	var analyzed, skipped int
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		_, err := p.analyzer.AnalyzeItem(ctx, item)
		switch {
		case err == nil:
			analyzed++
		case errors.Is(err, models.ErrAlreadyClaimed), errors.Is(err, models.ErrAnalysisExists):
			skipped++
		default:
			slog.Warn("Analysis failed for item", "id", item.ExternalID, "error", err)
			skipped++
		}
	}

	slog.Info("Analysis cycle complete", "analyzed", analyzed, "skipped", skipped)
	p.recordRun(ctx, models.TaskAnalyze, started, "ok", fmt.Sprintf("analyzed=%d skipped=%d", analyzed, skipped))
	return nil
}

func (p *Pipeline) recordRun(ctx context.Context, kind models.TaskKind, started time.Time, outcome, detail string) {
	run := models.TaskRun{
		Kind:       kind,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Outcome:    outcome,
		Detail:     detail,
	}
	if err := p.store.RecordTaskRun(ctx, run); err != nil {
		slog.Warn("Failed to record task run", "kind", kind, "error", err)
	}
}
