package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pricepulse/pricepulse-bot/internal/models"
)

// PlatformConfig describes one publishing target. Adapters with missing
// credentials are loaded disabled rather than failing startup.
type PlatformConfig struct {
	Name    string
	Enabled bool

	WebhookURL string // discord
	BotToken   string // telegram
	ChatID     string // telegram
}

// Config is the validated, immutable snapshot built once at startup and passed
// into every component constructor.
type Config struct {
	ProjectID string `validate:"required"`
	Port      string `validate:"required"`

	PriceAPIURL   string `validate:"required,url"`
	PriceCurrency string `validate:"required"`
	MaxRetries    int    `validate:"gte=0,lte=10"`

	FeedAPIURL     string `validate:"omitempty,url"`
	FeedAPIKey     string
	FeedMaxResults int `validate:"gt=0"`

	GeminiAPIKey string
	GeminiModel  string `validate:"required"`

	SchedulePlan []models.TimeOfDay `validate:"min=1"`
	Timezone     *time.Location     `validate:"required"`

	IngestInterval   time.Duration `validate:"gt=0"`
	AnalysisInterval time.Duration `validate:"gt=0"`
	AnalysisBatch    int           `validate:"gt=0"`

	MinSignificance   float64       `validate:"gte=0,lte=10"`
	RecencyWindow     time.Duration `validate:"gt=0"`
	ReuseWindowDays   int           `validate:"gt=0"`
	SuppressionWindow time.Duration `validate:"gt=0"`

	PriceCallTimeout    time.Duration `validate:"gt=0"`
	FeedCallTimeout     time.Duration `validate:"gt=0"`
	AnalyzerCallTimeout time.Duration `validate:"gt=0"`
	SendTimeout         time.Duration `validate:"gt=0"`

	MaxStoredPrices int `validate:"gt=0"`

	Platforms []PlatformConfig
}

// Load builds the configuration from the environment. Missing platform
// credentials disable that platform; anything else marked required is fatal.
func Load() (*Config, error) {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable is required but not set")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
		slog.Info("Defaulting to port", "port", port)
	}

	tzName := envOr("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tzName, err)
	}

	plan, err := ParseSchedulePlan(envOr("SCHEDULE", "08:00,20:00"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE: %w", err)
	}

	cfg := &Config{
		ProjectID: projectID,
		Port:      port,

		PriceAPIURL:   envOr("PRICE_API_URL", "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"),
		PriceCurrency: envOr("PRICE_CURRENCY", "usd"),

		FeedAPIURL:   os.Getenv("FEED_API_URL"),
		FeedAPIKey:   os.Getenv("FEED_API_KEY"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  envOr("GEMINI_MODEL", "gemini-2.0-flash"),

		SchedulePlan: plan,
		Timezone:     loc,
	}

	if cfg.MaxRetries, err = envInt("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.FeedMaxResults, err = envInt("FEED_MAX_RESULTS", 25); err != nil {
		return nil, err
	}
	if cfg.AnalysisBatch, err = envInt("ANALYSIS_BATCH", 10); err != nil {
		return nil, err
	}
	if cfg.ReuseWindowDays, err = envInt("REUSE_WINDOW_DAYS", 7); err != nil {
		return nil, err
	}
	if cfg.MaxStoredPrices, err = envInt("MAX_STORED_PRICES", 2000); err != nil {
		return nil, err
	}
	if cfg.MinSignificance, err = envFloat("MIN_SIGNIFICANCE", 4.0); err != nil {
		return nil, err
	}
	if cfg.IngestInterval, err = envDuration("INGEST_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.AnalysisInterval, err = envDuration("ANALYSIS_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RecencyWindow, err = envDuration("RECENCY_WINDOW", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SuppressionWindow, err = envDuration("SUPPRESSION_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PriceCallTimeout, err = envDuration("PRICE_CALL_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.FeedCallTimeout, err = envDuration("FEED_CALL_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.AnalyzerCallTimeout, err = envDuration("ANALYZER_CALL_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SendTimeout, err = envDuration("SEND_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	cfg.Platforms = loadPlatforms()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return cfg, nil
}

// EnabledPlatforms returns only the platforms usable for publishing.
func (c *Config) EnabledPlatforms() []PlatformConfig {
	var enabled []PlatformConfig
	for _, p := range c.Platforms {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

func loadPlatforms() []PlatformConfig {
	discord := PlatformConfig{
		Name:       "discord",
		WebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
	}
	discord.Enabled = discord.WebhookURL != ""
	if !discord.Enabled {
		slog.Warn("DISCORD_WEBHOOK_URL not set, discord publishing disabled")
	}

	telegram := PlatformConfig{
		Name:     "telegram",
		BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		ChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}
	telegram.Enabled = telegram.BotToken != "" && telegram.ChatID != ""
	if !telegram.Enabled {
		slog.Warn("TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID not set, telegram publishing disabled")
	}

	return []PlatformConfig{discord, telegram}
}

// ParseSchedulePlan parses a comma-separated list of HH:MM entries into a
// sorted, deduplicated plan.
func ParseSchedulePlan(raw string) ([]models.TimeOfDay, error) {
	seen := make(map[models.TimeOfDay]bool)
	var plan []models.TimeOfDay
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hh, mm, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("entry %q is not HH:MM", part)
		}
		hour, err := strconv.Atoi(hh)
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("entry %q has invalid hour", part)
		}
		minute, err := strconv.Atoi(mm)
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("entry %q has invalid minute", part)
		}
		tod := models.TimeOfDay{Hour: hour, Minute: minute}
		if seen[tod] {
			continue
		}
		seen[tod] = true
		plan = append(plan, tod)
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("schedule plan is empty")
	}
	sort.Slice(plan, func(i, j int) bool {
		if plan[i].Hour != plan[j].Hour {
			return plan[i].Hour < plan[j].Hour
		}
		return plan[i].Minute < plan[j].Minute
	})
	return plan, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}
