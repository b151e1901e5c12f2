package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pingtower/pingtower/internal/model"
)

// WebhookNotifier posts events as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhook creates an HTTP webhook channel.
func NewWebhook(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
}

// webhookPayload is the outbound wire format.
type webhookPayload struct {
	TargetID *int64 `json:"target_id"`
	Level    string `json:"level"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	TS       string `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, event model.AlertEvent) error {
	payload, err := json.Marshal(webhookPayload{
		TargetID: event.TargetID,
		Level:    string(event.Level),
		Title:    event.Title,
		Message:  event.Message,
		TS:       event.TS.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: send: status %d", resp.StatusCode)
	}
	return nil
}
