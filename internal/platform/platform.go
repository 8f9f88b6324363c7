package platform

import (
	"context"
	"log/slog"

	"github.com/pricepulse/pricepulse-bot/internal/config"
)

// Adapter is one publishing target. Send returns the platform's external
// message ID on success.
type Adapter interface {
	Name() string
	Send(ctx context.Context, text string) (string, error)
}

// BuildAdapters constructs adapters for every enabled platform in the
// configuration. Unknown names are skipped with a warning so a stale config
// entry cannot break startup.
func BuildAdapters(platforms []config.PlatformConfig) []Adapter {
	var adapters []Adapter
	for _, p := range platforms {
		if !p.Enabled {
			continue
		}
		switch p.Name {
		case "discord":
			adapters = append(adapters, NewDiscord(p.WebhookURL))
		case "telegram":
			adapters = append(adapters, NewTelegram(p.BotToken, p.ChatID))
		default:
			slog.Warn("Unknown platform in configuration, skipping", "name", p.Name)
		}
	}
	return adapters
}
