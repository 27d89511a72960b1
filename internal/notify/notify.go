// Package notify fans signal events out to the channels a strategy has
// enabled: telegram, discord, generic webhooks, and the in-app browser feed.
package notify

import (
	"context"
	"fmt"
	"time"

	"quantdinger-engine/internal/logging"
)

// EventType classifies a notification
type EventType string

const (
	EventSignal   EventType = "signal"
	EventExecuted EventType = "executed"
	EventFailed   EventType = "failed"
	EventRejected EventType = "rejected"
)

// Event is one notification payload.
type Event struct {
	Type       EventType
	StrategyID int64
	UserID     int64
	Symbol     string
	SignalType string
	Price      float64
	Amount     float64
	Title      string
	Message    string
	Timestamp  time.Time
	Extra      map[string]interface{}
}

// Result records one channel's delivery outcome. The worker folds these into
// the pending order's dispatch note.
type Result struct {
	Channel string `json:"channel"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// Notifier is one delivery channel.
type Notifier interface {
	Send(ctx context.Context, event *Event) error
	Name() string
	IsEnabled() bool
}

// Manager fans events out to registered channels.
type Manager struct {
	notifiers []Notifier
	logger    *logging.Logger
}

// NewManager creates an empty notification manager.
func NewManager() *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		logger:    logging.WithComponent("notify"),
	}
}

// AddNotifier registers a delivery channel.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Channels lists registered channel names.
func (m *Manager) Channels() []string {
	out := make([]string, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		out = append(out, n.Name())
	}
	return out
}

// Dispatch sends the event to the selected channels and reports per-channel
// outcomes. A nil or empty channel list means every enabled channel. One
// channel failing never blocks the others.
func (m *Manager) Dispatch(ctx context.Context, event *Event, channels []string) []Result {
	wanted := map[string]bool{}
	for _, ch := range channels {
		wanted[ch] = true
	}

	results := make([]Result, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		if len(wanted) > 0 && !wanted[n.Name()] {
			continue
		}
		if !n.IsEnabled() {
			continue
		}
		res := Result{Channel: n.Name(), OK: true}
		if err := n.Send(ctx, event); err != nil {
			res.OK = false
			res.Error = err.Error()
			m.logger.Warn("Notification delivery failed",
				"channel", n.Name(), "strategy_id", event.StrategyID, "error", err)
		}
		results = append(results, res)
	}
	return results
}

// FormatSignalEvent builds the standard signal message.
func FormatSignalEvent(strategyID int64, name, symbol, signalType string, price, amount float64, ts time.Time) *Event {
	return &Event{
		Type:       EventSignal,
		StrategyID: strategyID,
		Symbol:     symbol,
		SignalType: signalType,
		Price:      price,
		Amount:     amount,
		Title:      fmt.Sprintf("Signal: %s %s", symbol, signalType),
		Message: fmt.Sprintf("%s\n%s %s\nPrice: %.6f\nAmount: %.8f",
			name, symbol, signalType, price, amount),
		Timestamp: ts,
	}
}
