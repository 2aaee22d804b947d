package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mawared-attendance-backend/config"
)

// TelegramSender posts notices to a single chat through the Bot API.
type TelegramSender struct {
	cfg    config.TelegramConfig
	client *http.Client
}

// NewTelegramSender creates a sender for the configured bot and chat.
func NewTelegramSender(cfg config.TelegramConfig) *TelegramSender {
	return &TelegramSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramSender) Name() string { return "telegram" }

// Send calls sendMessage. A non-200 reply is an error.
func (t *TelegramSender) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.cfg.ChatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	endpoint := strings.TrimRight(t.cfg.BaseURL, "/") + "/bot" + t.cfg.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return fmt.Errorf("telegram request failed: %s", redact(err.Error(), t.cfg.Token))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status code: %d", resp.StatusCode)
	}
	return nil
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}
