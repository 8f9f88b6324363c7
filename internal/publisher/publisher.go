package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pricepulse/pricepulse-bot/internal/models"
	"github.com/pricepulse/pricepulse-bot/internal/platform"
	"github.com/pricepulse/pricepulse-bot/internal/selector"
)

// ErrAllPlatformsFailed is returned when no adapter accepted the payload. The
// record is still persisted with every error; the next scheduled cycle
// naturally attempts again.
var ErrAllPlatformsFailed = errors.New("all platform sends failed")

// ErrNoAdapters is returned when no platform is enabled.
var ErrNoAdapters = errors.New("no enabled platform adapters")

// RecordStore is the ledger slice the publisher writes to.
type RecordStore interface {
	InsertPublishRecord(ctx context.Context, record models.PublishRecord) error
}

// Publisher fans one payload out to every enabled adapter. Sends run
// concurrently; one adapter's failure never prevents another's attempt.
type Publisher struct {
	adapters    []platform.Adapter
	store       RecordStore
	sendTimeout time.Duration
}

func New(adapters []platform.Adapter, store RecordStore, sendTimeout time.Duration) *Publisher {
	return &Publisher{
		adapters:    adapters,
		store:       store,
		sendTimeout: sendTimeout,
	}
}

// Publish attempts every adapter, collects per-platform results, and persists
// the record once after all sends have completed or timed out.
func (p *Publisher) Publish(ctx context.Context, payload selector.Payload) (models.PublishRecord, error) {
	record := models.PublishRecord{
		ContentType:       payload.ContentType,
		RenderedText:      payload.Text,
		CreatedAt:         time.Now(),
		PerPlatformResult: make(map[string]models.PlatformResult, len(p.adapters)),
	}
	if len(p.adapters) == 0 {
		return record, ErrNoAdapters
	}

	var mu sync.Mutex
	var g errgroup.Group

	for _, adapter := range p.adapters {
		adapter := adapter
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
			defer cancel()

			externalID, err := adapter.Send(sendCtx, payload.Text)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("Platform send failed", "platform", adapter.Name(), "error", err)
				record.PerPlatformResult[adapter.Name()] = models.PlatformResult{Error: err.Error()}
				// Failure stays in the record; it must not cancel sibling sends.
				return nil
			}
			record.PerPlatformResult[adapter.Name()] = models.PlatformResult{ExternalMessageID: externalID}
			return nil
		})
	}
	_ = g.Wait()

	for _, result := range record.PerPlatformResult {
		if result.Error == "" {
			record.Succeeded = true
			break
		}
	}

	if err := p.store.InsertPublishRecord(ctx, record); err != nil {
		return record, fmt.Errorf("failed to persist publish record: %w", err)
	}

	if !record.Succeeded {
		return record, ErrAllPlatformsFailed
	}
	return record, nil
}
