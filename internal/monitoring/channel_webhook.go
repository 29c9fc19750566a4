package monitoring

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

	"github.com/cenkalti/backoff/v4"

	"github.com/vya-digital/backupd/internal/config"
)

// webhookEnvelope is the JSON body POSTed to the webhook endpoint. The
// "text" field keeps the payload readable by Slack/Discord-style
// receivers while "metadata" carries the structured bag.
type webhookEnvelope struct {
	Type      string         `json:"type"`
	Subject   string         `json:"subject"`
	Text      string         `json:"text"`
	Priority  string         `json:"priority"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// webhookMaxAttempts bounds the retry loop for 5xx responses.
const webhookMaxAttempts = 4

// WebhookChannel POSTs a normalized JSON envelope to a configured URL.
// Responses in the 5xx range are retried with exponential backoff up to
// webhookMaxAttempts; 4xx responses fail immediately since retrying a
// rejected payload cannot succeed. When a secret is configured the body
// is signed with HMAC-SHA256 in the X-Backupd-Signature header.
type WebhookChannel struct {
	cfg    config.WebhookSettings
	client *http.Client
}

// NewWebhookChannel creates the webhook channel.
func NewWebhookChannel(cfg config.WebhookSettings) *WebhookChannel {
	return &WebhookChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, ev *Event) error {
	if !c.cfg.Enabled || c.cfg.URL == "" {
		return nil
	}

	body, err := json.Marshal(webhookEnvelope{
		Type:      string(ev.Type),
		Subject:   ev.Subject,
		Text:      ev.Body,
		Priority:  string(ev.Priority),
		Metadata:  ev.Metadata,
		Timestamp: ev.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%w: marshal envelope: %v", ErrSendFailed, err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), webhookMaxAttempts-1),
		ctx,
	)

	op := func() error {
		return c.post(ctx, body)
	}
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("%w: webhook: %v", ErrSendFailed, err)
	}
	return nil
}

func (c *WebhookChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "backupd-webhook/1.0")
	if c.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
		mac.Write(body)
		req.Header.Set("X-Backupd-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("server returned %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("server returned %d", resp.StatusCode))
	}
}
