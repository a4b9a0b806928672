package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// webhookPayload is the JSON body POSTed for each alert. Symbol is empty
// for alerts that do not concern a single instrument.
type webhookPayload struct {
	Source  string `json:"source"`
	Level   string `json:"level"`
	Symbol  string `json:"symbol,omitempty"`
	Title   string `json:"title"`
	Message string `json:"message"`
	At      string `json:"at"`
}

// WebhookNotifier POSTs trade alerts to a generic HTTP endpoint, for
// wiring into incident tooling that Telegram does not cover.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier for the given endpoint.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	at := alert.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	body, err := json.Marshal(webhookPayload{
		Source:  "tradebot",
		Level:   string(alert.Level),
		Symbol:  alert.Symbol,
		Title:   alert.Title,
		Message: alert.Message,
		At:      at.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, snippet)
	}

	log.Printf("[webhook] delivered %s alert for %q", alert.Level, alert.Symbol)
	return nil
}
