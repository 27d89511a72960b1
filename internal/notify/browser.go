package notify

import (
	"context"
	"encoding/json"
	"strconv"

	"quantdinger-engine/internal/database"
)

// BrowserNotifier records events as rows in qd_strategy_notifications so the
// frontend can poll them. It is always on: rejections and signal dispatches
// must be visible in-app even when no external channel is configured.
type BrowserNotifier struct {
	repo *database.Repository
}

// NewBrowserNotifier creates the in-app feed channel.
func NewBrowserNotifier(repo *database.Repository) *BrowserNotifier {
	return &BrowserNotifier{repo: repo}
}

func (b *BrowserNotifier) Name() string {
	return "browser"
}

func (b *BrowserNotifier) IsEnabled() bool {
	return b.repo != nil
}

func (b *BrowserNotifier) Send(ctx context.Context, event *Event) error {
	payload := map[string]interface{}{
		"type":   string(event.Type),
		"price":  event.Price,
		"amount": event.Amount,
	}
	for k, v := range event.Extra {
		payload[k] = v
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return b.repo.InsertNotification(ctx, &database.Notification{
		UserID:      strconv.FormatInt(event.UserID, 10),
		StrategyID:  event.StrategyID,
		Symbol:      event.Symbol,
		SignalType:  event.SignalType,
		Channels:    "browser",
		Title:       event.Title,
		Message:     event.Message,
		PayloadJSON: string(payloadJSON),
	})
}
