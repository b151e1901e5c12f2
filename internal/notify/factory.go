package notify

import (
	"log"

	"github.com/pingtower/pingtower/internal/config"
)

// BuildFromEnv assembles the composite notifier from the configured
// channels. The log channel is always present.
func BuildFromEnv(cfg *config.EnvConfig) *Composite {
	channels := []Notifier{LogNotifier{}}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		channels = append(channels, NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[notify] telegram channel enabled")
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, NewWebhook(cfg.WebhookURL))
		log.Println("[notify] webhook channel enabled")
	}
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, NewSlack(cfg.SlackWebhookURL))
		log.Println("[notify] slack channel enabled")
	}
	return NewComposite(channels...)
}
