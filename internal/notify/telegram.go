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

const telegramTextLimit = 4096

// TelegramNotifier posts events to a Telegram chat via the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client

	// baseURL is overridable in tests.
	baseURL string
}

// NewTelegram creates a Telegram channel for the given bot and chat.
func NewTelegram(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		baseURL: "https://api.telegram.org",
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, event model.AlertEvent) error {
	target := int64(-1)
	if event.TargetID != nil {
		target = *event.TargetID
	}
	text := fmt.Sprintf("%s\n%s\ntarget_id=%d ts=%s",
		event.Title, event.Message, target, event.TS.Format(time.RFC3339))
	if len(text) > telegramTextLimit {
		text = text[:telegramTextLimit]
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telegram: send: status %d", resp.StatusCode)
	}
	return nil
}
