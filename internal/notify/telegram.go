package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/marketops/alertd/internal/alerting"
)

// telegramAPIBase is overridable in tests
const telegramAPIBase = "https://api.telegram.org"

// TelegramConfig holds bot API settings
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID string `mapstructure:"chat_id"`
	// APIBase overrides the Telegram API endpoint, mainly for tests
	APIBase string `mapstructure:"api_base"`
}

// TelegramChannel delivers alerts through the Telegram bot API
type TelegramChannel struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramChannel creates a bot-API channel
func NewTelegramChannel(cfg TelegramConfig) (*TelegramChannel, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram channel requires token and chat_id")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = telegramAPIBase
	}
	return &TelegramChannel{cfg: cfg, client: &http.Client{}}, nil
}

// Name identifies the channel in logs and results
func (c *TelegramChannel) Name() string {
	return "telegram"
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts the alert via sendMessage
func (c *TelegramChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	text := fmt.Sprintf("<b>[%s] %s</b>\n\n%s", severityTag(alert.Severity), alert.Title, plainBody(alert))

	body, err := json.Marshal(telegramMessage{
		ChatID:    c.cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("failed to encode telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.cfg.APIBase, c.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	var apiResp telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiResp); err != nil {
		return fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram API rejected message: %s", apiResp.Description)
	}
	return nil
}
