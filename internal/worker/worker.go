// Package worker drains the pending_orders queue: signal-mode orders become
// notifications, live-mode orders become venue executions.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quantdinger-engine/config"
	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/exchange"
	"quantdinger-engine/internal/logging"
	"quantdinger-engine/internal/notify"
)

// Worker is the single long-lived queue consumer.
type Worker struct {
	repo     *database.Repository
	factory  *exchange.Factory
	notifier *notify.Manager
	orderCfg config.OrderConfig
	cfg      config.WorkerConfig
	logger   *logging.Logger
}

// New creates the pending-order worker.
func New(repo *database.Repository, factory *exchange.Factory, notifier *notify.Manager, orderCfg config.OrderConfig, cfg config.WorkerConfig) *Worker {
	return &Worker{
		repo:     repo,
		factory:  factory,
		notifier: notifier,
		orderCfg: orderCfg,
		cfg:      cfg,
		logger:   logging.WithComponent("worker"),
	}
}

// Run polls the queue until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("Pending-order worker started",
		"poll_interval", interval, "batch_size", w.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Pending-order worker stopped")
			return
		case <-ticker.C:
			w.drainOnce(ctx)
		}
	}
}

// drainOnce requeues stale claims, then claims and processes one batch.
func (w *Worker) drainOnce(ctx context.Context) {
	staleAfter := w.cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 90 * time.Second
	}
	if n, err := w.repo.RequeueStale(ctx, staleAfter); err != nil {
		w.logger.Warn("Stale requeue failed", "error", err)
	} else if n > 0 {
		w.logger.Info("Requeued stale orders", "count", n)
	}

	batch, err := w.repo.FetchBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.Warn("Queue poll failed", "error", err)
		return
	}

	for _, order := range batch {
		claimed, err := w.repo.Claim(ctx, order.ID)
		if err != nil {
			w.logger.Warn("Claim failed", "order_id", order.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		w.process(ctx, order)
	}
}

// process dispatches one claimed order.
func (w *Worker) process(ctx context.Context, order *database.PendingOrder) {
	strategy, err := w.repo.GetStrategy(ctx, order.StrategyID)
	if err != nil {
		w.fail(ctx, order, nil, fmt.Sprintf("strategy_lookup_failed: %v", err))
		return
	}
	if order.Symbol == "" || order.SignalType == "" {
		w.fail(ctx, order, strategy, "invalid_order_missing_fields")
		return
	}

	// A strategy stopped between enqueue and claim parks its orders instead
	// of executing them.
	if reason := deferReason(strategy); reason != "" {
		if err := w.repo.MarkDeferred(ctx, order.ID, reason); err != nil {
			w.logger.Error("Mark deferred failed", "order_id", order.ID, "error", err)
			return
		}
		w.logger.Info("Order deferred", "order_id", order.ID, "reason", reason)
		return
	}

	switch order.ExecutionMode {
	case database.ExecutionModeLive:
		w.processLive(ctx, order, strategy)
	default:
		w.processSignal(ctx, order, strategy)
	}
}

// processSignal fans the order out to the strategy's channels. Any single
// success marks the order sent; total failure marks it failed with the first
// error.
func (w *Worker) processSignal(ctx context.Context, order *database.PendingOrder, strategy *database.Strategy) {
	event := notify.FormatSignalEvent(order.StrategyID, strategy.StrategyName,
		order.Symbol, order.SignalType, order.Price, order.Amount,
		time.Unix(order.SignalTS, 0).UTC())
	event.UserID = parseUserID(order.UserID)

	results := w.notifier.Dispatch(ctx, event, enabledChannels(strategy))

	var ok, failed []string
	firstErr := ""
	for _, res := range results {
		if res.OK {
			ok = append(ok, res.Channel)
		} else {
			failed = append(failed, res.Channel)
			if firstErr == "" {
				firstErr = fmt.Sprintf("%s: %s", res.Channel, res.Error)
			}
		}
	}

	if len(ok) == 0 {
		if firstErr == "" {
			firstErr = "no notification channels enabled"
		}
		w.fail(ctx, order, strategy, firstErr)
		return
	}

	note := fmt.Sprintf("notified_ok=%s;fail=%s", strings.Join(ok, ","), strings.Join(failed, ","))
	if err := w.repo.MarkSent(ctx, order.ID, database.SentResult{Note: note}); err != nil {
		w.logger.Error("Mark sent failed", "order_id", order.ID, "error", err)
		return
	}
	w.logger.Info("Signal dispatched", "order_id", order.ID, "note", note)
}

// fail finalizes the order and surfaces the failure to the user's channels.
func (w *Worker) fail(ctx context.Context, order *database.PendingOrder, strategy *database.Strategy, msg string) {
	if err := w.repo.MarkFailed(ctx, order.ID, msg); err != nil {
		w.logger.Error("Mark failed errored", "order_id", order.ID, "error", err)
	}
	w.logger.Warn("Order failed", "order_id", order.ID, "signal_type", order.SignalType, "error", msg)

	if strategy == nil {
		return
	}
	event := &notify.Event{
		Type:       notify.EventFailed,
		StrategyID: order.StrategyID,
		UserID:     parseUserID(order.UserID),
		Symbol:     order.Symbol,
		SignalType: order.SignalType,
		Price:      order.Price,
		Amount:     order.Amount,
		Title:      fmt.Sprintf("Order failed: %s", order.Symbol),
		Message:    fmt.Sprintf("%s %s failed: %s", order.Symbol, order.SignalType, msg),
		Timestamp:  time.Now().UTC(),
	}
	w.notifier.Dispatch(ctx, event, enabledChannels(strategy))
}

// deferReason returns a non-empty reason when a claimed order must be parked
// rather than dispatched.
func deferReason(strategy *database.Strategy) string {
	if strategy.Status != database.StrategyStatusRunning {
		return "strategy_not_running"
	}
	return ""
}

// enabledChannels reads the per-strategy notification_config. Nil means
// every enabled channel.
func enabledChannels(strategy *database.Strategy) []string {
	nc := strategy.NotificationConfig
	if nc == nil {
		return nil
	}
	var out []string
	for _, ch := range []string{"telegram", "discord", "webhook", "browser"} {
		if nc.Bool(ch, false) || nc.Bool(ch+"_enabled", false) {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseUserID(raw string) int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	return id
}
