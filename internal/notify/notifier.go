// Package notify implements best-effort notification fan-out over
// configurable channels: log, Telegram, HTTP webhook, and Slack.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/pingtower/pingtower/internal/model"
)

// Notifier delivers a single alert event to one channel.
type Notifier interface {
	Send(ctx context.Context, event model.AlertEvent) error
}

// Per-channel delivery budgets. A channel that stalls beyond sendTimeout is
// abandoned so it cannot hold up fan-out.
const (
	connectTimeout = 3 * time.Second
	sendTimeout    = 8 * time.Second
)

// Composite forwards an event to every channel in order, swallowing and
// logging per-channel failures. Send never returns an error: notification
// delivery is best-effort by contract.
type Composite struct {
	channels []Notifier
}

// NewComposite wraps the given channels.
func NewComposite(channels ...Notifier) *Composite {
	return &Composite{channels: channels}
}

func (c *Composite) Send(ctx context.Context, event model.AlertEvent) error {
	for _, ch := range c.channels {
		chCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		if err := ch.Send(chCtx, event); err != nil {
			log.Printf("[notify] channel %T failed for event %s: %v", ch, event.ID, err)
		}
		cancel()
	}
	return nil
}

// LogNotifier writes every event to the process log. Always configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, event model.AlertEvent) error {
	target := int64(-1)
	if event.TargetID != nil {
		target = *event.TargetID
	}
	log.Printf("[alert] level=%s title=%q msg=%q target_id=%d event=%s ts=%s",
		event.Level, event.Title, event.Message, target, event.ID, event.TS.Format(time.RFC3339))
	return nil
}
