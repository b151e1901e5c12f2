package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/pingtower/pingtower/internal/model"
)

// SlackNotifier posts events to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string

	// post is the webhook sender, replaceable in tests.
	post func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlack creates a Slack channel for the given incoming-webhook URL.
func NewSlack(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		post:       slack.PostWebhookContext,
	}
}

func (s *SlackNotifier) Send(ctx context.Context, event model.AlertEvent) error {
	target := int64(-1)
	if event.TargetID != nil {
		target = *event.TargetID
	}
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("*%s*\n%s\ntarget_id=%d", event.Title, event.Message, target),
	}
	if err := s.post(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("slack: send: %w", err)
	}
	return nil
}
