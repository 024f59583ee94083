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

// SlackConfig holds incoming-webhook settings for Slack-compatible chat tools
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	Username   string `mapstructure:"username"`
}

// SlackChannel delivers alerts as webhook attachments with severity colors
type SlackChannel struct {
	cfg    SlackConfig
	client *http.Client
}

// NewSlackChannel creates a chat-webhook channel
func NewSlackChannel(cfg SlackConfig) (*SlackChannel, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("slack channel requires a webhook URL")
	}
	if cfg.Username == "" {
		cfg.Username = "alertd"
	}
	return &SlackChannel{cfg: cfg, client: &http.Client{}}, nil
}

// Name identifies the channel in logs and results
func (c *SlackChannel) Name() string {
	return "slack"
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username"`
	Attachments []slackAttachment `json:"attachments"`
}

// Send posts the alert to the incoming webhook
func (c *SlackChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	payload := slackPayload{
		Channel:  c.cfg.Channel,
		Username: c.cfg.Username,
		Attachments: []slackAttachment{{
			Color: severityColor(alert.Severity),
			Title: fmt.Sprintf("[%s] %s", severityTag(alert.Severity), alert.Title),
			Text:  alert.Message,
			Fields: []slackField{
				{Title: "Metrics", Value: FormatMetrics(alert), Short: false},
				{Title: "Recommended action", Value: RecommendedAction(alert.RuleName), Short: false},
			},
			Ts: alert.Timestamp.Unix(),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
