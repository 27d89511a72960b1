package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier posts the raw event JSON to a user-supplied endpoint.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// WebhookConfig holds generic webhook configuration
type WebhookConfig struct {
	URL     string
	Enabled bool
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     config.URL,
		enabled: config.Enabled && config.URL != "",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string {
	return "webhook"
}

func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

func (w *WebhookNotifier) Send(ctx context.Context, event *Event) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":        string(event.Type),
		"strategy_id": event.StrategyID,
		"symbol":      event.Symbol,
		"signal_type": event.SignalType,
		"price":       event.Price,
		"amount":      event.Amount,
		"title":       event.Title,
		"message":     event.Message,
		"timestamp":   event.Timestamp.Unix(),
	}
	for k, v := range event.Extra {
		payload[k] = v
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
