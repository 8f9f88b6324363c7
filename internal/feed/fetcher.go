package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pricepulse/pricepulse-bot/internal/models"
)

// ErrRateLimited is returned when the feed provider signals quota exhaustion.
// Callers skip the whole ingestion cycle; this is a normal operating mode
// under free-tier quotas, not a fatal error.
var ErrRateLimited = errors.New("feed provider rate limited")

// Fetcher pulls a bounded batch of candidate items from a JSON feed API.
// A client-side limiter keeps bursts under the provider quota; a 429 from
// the provider still maps to ErrRateLimited.
type Fetcher struct {
	apiURL      string
	apiKey      string
	callTimeout time.Duration
	client      *http.Client
	limiter     *rate.Limiter
}

func NewFetcher(apiURL, apiKey string, callTimeout time.Duration) *Fetcher {
	return &Fetcher{
		apiURL:      apiURL,
		apiKey:      apiKey,
		callTimeout: callTimeout,
		client:      &http.Client{Timeout: callTimeout},
		// Free tiers commonly allow ~1 request per minute sustained.
		limiter: rate.NewLimiter(rate.Every(time.Minute), 2),
	}
}

type feedItem struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Author      string `json:"author"`
	PublishedAt string `json:"published_at"`
}

type feedResponse struct {
	Items []feedItem `json:"items"`
}

// Fetch returns up to maxResults items published after sinceCursor.
func (f *Fetcher) Fetch(ctx context.Context, maxResults int, sinceCursor time.Time) ([]models.CandidateItem, error) {
	if f.apiURL == "" {
		return nil, fmt.Errorf("feed fetcher not configured")
	}
	if !f.limiter.Allow() {
		return nil, ErrRateLimited
	}

	callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	endpoint, err := url.Parse(f.apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	q := endpoint.Query()
	q.Set("max_results", strconv.Itoa(maxResults))
	if !sinceCursor.IsZero() {
		q.Set("since", sinceCursor.UTC().Format(time.RFC3339))
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed provider status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var parsed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}

	now := time.Now()
	items := make([]models.CandidateItem, 0, len(parsed.Items))
	for _, raw := range parsed.Items {
		if raw.ID == "" || strings.TrimSpace(raw.Text) == "" {
			continue
		}
		publishedAt, err := time.Parse(time.RFC3339, raw.PublishedAt)
		if err != nil {
			continue
		}
		items = append(items, models.CandidateItem{
			ExternalID:  raw.ID,
			RawText:     raw.Text,
			Author:      raw.Author,
			PublishedAt: publishedAt,
			FetchedAt:   now,
		})
		if len(items) >= maxResults {
			break
		}
	}
	return items, nil
}
