package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pricepulse/pricepulse-bot/internal/models"
	"github.com/pricepulse/pricepulse-bot/internal/util"
)

// ErrUnavailable is returned once all retries are exhausted. Callers must
// degrade to the most recent stored sample rather than abort the cycle.
var ErrUnavailable = errors.New("price source unavailable")

const sourceName = "coingecko"

// Service fetches the current quote from a CoinGecko-style simple-price endpoint.
type Service struct {
	apiURL      string
	currency    string
	maxRetries  int
	callTimeout time.Duration
	client      *http.Client

	// retryBaseDelay is shortened in tests.
	retryBaseDelay time.Duration
}

func NewService(apiURL, currency string, maxRetries int, callTimeout time.Duration) *Service {
	return &Service{
		apiURL:         apiURL,
		currency:       strings.ToLower(currency),
		maxRetries:     maxRetries,
		callTimeout:    callTimeout,
		client:         &http.Client{Timeout: callTimeout},
		retryBaseDelay: time.Second,
	}
}

// Fetch returns one quote, retrying transient failures with exponential
// backoff. Returns ErrUnavailable after maxRetries attempts fail.
func (s *Service) Fetch(ctx context.Context) (models.PriceSample, error) {
	var sample models.PriceSample

	err := util.RetryWithBackoff(ctx, s.maxRetries, s.retryBaseDelay, func(attempt int) error {
		if attempt > 0 {
			slog.Warn("Retrying price fetch", "attempt", attempt)
		}
		fetched, err := s.fetchOnce(ctx)
		if err != nil {
			return err
		}
		sample = fetched
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.PriceSample{}, ctx.Err()
		}
		return models.PriceSample{}, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return sample, nil
}

func (s *Service) fetchOnce(ctx context.Context) (models.PriceSample, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, s.apiURL, nil)
	if err != nil {
		return models.PriceSample{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.PriceSample{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.PriceSample{}, fmt.Errorf("quote source status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	// Response shape: {"bitcoin": {"usd": 67432.1}}
	var parsed map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return models.PriceSample{}, fmt.Errorf("decode quote response: %w", err)
	}

	for _, quotes := range parsed {
		value, ok := quotes[s.currency]
		if !ok {
			break
		}
		if value <= 0 {
			return models.PriceSample{}, fmt.Errorf("quote source returned non-positive price %v", value)
		}
		return models.PriceSample{
			Value:      value,
			Currency:   strings.ToUpper(s.currency),
			ObservedAt: time.Now(),
			Source:     sourceName,
		}, nil
	}
	return models.PriceSample{}, fmt.Errorf("quote response missing %q price", s.currency)
}
