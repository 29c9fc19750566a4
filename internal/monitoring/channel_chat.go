package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vya-digital/backupd/internal/config"
)

// ChatChannel posts to a Slack-compatible incoming webhook using the
// attachment format, with the sidebar color mapped from the event's
// severity.
type ChatChannel struct {
	cfg    config.ChatSettings
	client *http.Client
}

// NewChatChannel creates the chat channel.
func NewChatChannel(cfg config.ChatSettings) *ChatChannel {
	return &ChatChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *ChatChannel) Name() string { return "chat" }

type chatPayload struct {
	Channel     string           `json:"channel,omitempty"`
	Attachments []chatAttachment `json:"attachments"`
}

type chatAttachment struct {
	Color  string      `json:"color"`
	Title  string      `json:"title"`
	Text   string      `json:"text"`
	Fields []chatField `json:"fields,omitempty"`
	TS     int64       `json:"ts"`
}

type chatField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (c *ChatChannel) Send(ctx context.Context, ev *Event) error {
	if !c.cfg.Enabled || c.cfg.WebhookURL == "" {
		return nil
	}

	fields := make([]chatField, 0, len(ev.Metadata))
	for k, v := range ev.Metadata {
		fields = append(fields, chatField{Title: k, Value: fmt.Sprint(v), Short: true})
	}

	body, err := json.Marshal(chatPayload{
		Channel: c.cfg.Channel,
		Attachments: []chatAttachment{{
			Color:  colorFor(ev),
			Title:  ev.Subject,
			Text:   ev.Body,
			Fields: fields,
			TS:     ev.Timestamp.Unix(),
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: marshal chat payload: %v", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: chat webhook returned %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}

// colorFor maps the event (and, for alerts, the severity in metadata)
// to Slack sidebar colors.
func colorFor(ev *Event) string {
	if ev.Type == EventSuccess {
		return "good"
	}
	if ev.Type == EventFailure {
		return "danger"
	}
	switch Severity(stringMeta(ev, "severity")) {
	case SeverityCritical, SeverityError:
		return "danger"
	case SeverityWarning:
		return "warning"
	}
	return "#439FE0"
}

func stringMeta(ev *Event, key string) string {
	if v, ok := ev.Metadata[key].(string); ok {
		return v
	}
	return ""
}
