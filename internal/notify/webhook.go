package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marketops/alertd/internal/alerting"
)

// SignatureHeader carries the HMAC-SHA256 signature of the request body when
// a webhook secret is configured
const SignatureHeader = "X-Alertd-Signature"

// WebhookConfig holds generic webhook settings
type WebhookConfig struct {
	URL string `mapstructure:"url"`
	// Secret enables HMAC-SHA256 payload signing when non-empty
	Secret string `mapstructure:"secret"`
}

// WebhookChannel delivers alerts as signed JSON payloads to arbitrary
// endpoints
type WebhookChannel struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a generic webhook channel
func NewWebhookChannel(cfg WebhookConfig) (*WebhookChannel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook channel requires a URL")
	}
	return &WebhookChannel{cfg: cfg, client: &http.Client{}}, nil
}

// Name identifies the channel in logs and results
func (c *WebhookChannel) Name() string {
	return "webhook"
}

type webhookPayload struct {
	ID                string             `json:"id"`
	Rule              string             `json:"rule"`
	Severity          string             `json:"severity"`
	Title             string             `json:"title"`
	Message           string             `json:"message"`
	Metrics           map[string]float64 `json:"metrics"`
	RecommendedAction string             `json:"recommended_action"`
	Timestamp         time.Time          `json:"timestamp"`
}

// Send posts the alert payload, signing it when a secret is configured
func (c *WebhookChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	body, err := json.Marshal(webhookPayload{
		ID:                alert.ID,
		Rule:              alert.RuleName,
		Severity:          string(alert.Severity),
		Title:             alert.Title,
		Message:           alert.Message,
		Metrics:           alert.Metrics,
		RecommendedAction: RecommendedAction(alert.RuleName),
		Timestamp:         alert.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, c.cfg.Secret))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature receivers verify against
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
