package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Channel types a WebhookSender can post to.
const (
	ChannelDiscord = "discord"
	ChannelSlack   = "slack"
	ChannelGeneric = "generic"
)

// WebhookSender posts messages to one webhook.
type WebhookSender struct {
	client      *http.Client
	url         string
	channelType string
	now         func() time.Time
}

// NewWebhookSender returns nil when url is empty. An unknown channel type
// is treated as generic.
func NewWebhookSender(url, channelType string) *WebhookSender {
	if url == "" {
		return nil
	}
	switch channelType {
	case ChannelDiscord, ChannelSlack:
	default:
		channelType = ChannelGeneric
	}
	return &WebhookSender{
		client:      &http.Client{Timeout: 10 * time.Second},
		url:         url,
		channelType: channelType,
		now:         time.Now,
	}
}

func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	switch w.channelType {
	case ChannelDiscord:
		return w.postJSON(ctx, w.discordPayload(title, message))
	case ChannelSlack:
		return w.postJSON(ctx, w.slackPayload(title, message))
	default:
		return w.postJSON(ctx, w.genericPayload(title, message))
	}
}

func (w *WebhookSender) discordPayload(title, message string) map[string]interface{} {
	return map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"color":       15105570,
				"footer":      map[string]string{"text": "VideoJockey"},
				"timestamp":   w.now().UTC().Format(time.RFC3339),
			},
		},
	}
}

func (w *WebhookSender) slackPayload(title, message string) map[string]interface{} {
	return map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{"type": "plain_text", "text": title},
			},
			{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": message},
			},
		},
	}
}

func (w *WebhookSender) genericPayload(title, message string) map[string]interface{} {
	return map[string]interface{}{
		"title":     title,
		"message":   message,
		"source":    "videojockey",
		"timestamp": w.now().UTC().Format(time.RFC3339),
	}
}

func (w *WebhookSender) postJSON(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s webhook: %w", w.channelType, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s webhook returned status %d", w.channelType, resp.StatusCode)
	}
	return nil
}
