package database

import (
	"context"
	"strings"
	"time"
)

// ============================================================================
// PENDING ORDERS (durable dispatch queue)
// ============================================================================

// enqueueCooldown suppresses a repeat enqueue of the same non-entry signal
// shortly after one was sent.
const enqueueCooldown = 30 * time.Second

const pendingOrderColumns = `id, user_id, strategy_id, symbol, signal_type, signal_ts,
	market_type, order_type, amount, price, execution_mode, status, priority,
	attempts, max_attempts, last_error, payload_json, exchange_id, exchange_order_id,
	exchange_response_json, filled, avg_price, dispatch_note,
	created_at, updated_at, processed_at, sent_at, executed_at`

func scanPendingOrder(row interface{ Scan(...interface{}) error }) (*PendingOrder, error) {
	o := &PendingOrder{}
	err := row.Scan(
		&o.ID, &o.UserID, &o.StrategyID, &o.Symbol, &o.SignalType, &o.SignalTS,
		&o.MarketType, &o.OrderType, &o.Amount, &o.Price, &o.ExecutionMode, &o.Status, &o.Priority,
		&o.Attempts, &o.MaxAttempts, &o.LastError, &o.PayloadJSON, &o.ExchangeID, &o.ExchangeOrderID,
		&o.ExchangeResponseJSON, &o.Filled, &o.AvgPrice, &o.DispatchNote,
		&o.CreatedAt, &o.UpdatedAt, &o.ProcessedAt, &o.SentAt, &o.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Enqueue inserts a pending order after the DB-side duplicate guard.
//
// Entry signals (open_*) are strict: the same (strategy, symbol, type,
// candle timestamp) is never enqueued twice regardless of status. Other
// signals are guarded by an inflight check plus a short cooldown on rows
// sent moments ago, so exits retried on the next tick still go through.
//
// Returns the row id and whether a row was inserted.
func (r *Repository) Enqueue(ctx context.Context, o *PendingOrder) (int64, bool, error) {
	now := time.Now().Unix()

	if strings.HasPrefix(o.SignalType, "open_") {
		var exists bool
		err := r.db.Pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pending_orders
				WHERE strategy_id = $1 AND symbol = $2 AND signal_type = $3 AND signal_ts = $4
			)`,
			o.StrategyID, o.Symbol, o.SignalType, o.SignalTS,
		).Scan(&exists)
		if err != nil {
			return 0, false, err
		}
		if exists {
			return 0, false, nil
		}
	} else {
		var dup bool
		err := r.db.Pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pending_orders
				WHERE strategy_id = $1 AND symbol = $2 AND signal_type = $3
				  AND (status IN ('pending', 'processing')
				       OR (status = 'sent' AND sent_at IS NOT NULL AND sent_at > $4))
			)`,
			o.StrategyID, o.Symbol, o.SignalType, now-int64(enqueueCooldown/time.Second),
		).Scan(&dup)
		if err != nil {
			return 0, false, err
		}
		if dup {
			return 0, false, nil
		}
	}

	o.MaxAttempts = resolveMaxAttempts(o.MaxAttempts, r.maxAttempts)
	if o.OrderType == "" {
		o.OrderType = "market"
	}
	if o.Status == "" {
		o.Status = OrderStatusPending
	}
	o.CreatedAt = now
	o.UpdatedAt = now

	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO pending_orders (
			user_id, strategy_id, symbol, signal_type, signal_ts, market_type,
			order_type, amount, price, execution_mode, status, priority,
			attempts, max_attempts, payload_json, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13, $14, $15, $15)
		RETURNING id`,
		o.UserID, o.StrategyID, o.Symbol, o.SignalType, o.SignalTS, o.MarketType,
		o.OrderType, o.Amount, o.Price, o.ExecutionMode, o.Status, o.Priority,
		o.MaxAttempts, o.PayloadJSON, now,
	).Scan(&o.ID)
	if err != nil {
		return 0, false, err
	}
	return o.ID, true, nil
}

// resolveMaxAttempts picks the attempt budget for a new row: explicit value
// first, then the configured default, then 10.
func resolveMaxAttempts(rowVal, configured int) int {
	if rowVal > 0 {
		return rowVal
	}
	if configured > 0 {
		return configured
	}
	return 10
}

// RequeueStale flips processing rows whose updated_at is older than staleAfter
// back to pending, provided they still have attempts left. Idempotent crash
// recovery: a worker that died mid-claim leaves such rows behind.
func (r *Repository) RequeueStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	now := time.Now().Unix()
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE pending_orders
		SET status = 'pending',
		    dispatch_note = 'requeued_stale_processing',
		    updated_at = $1
		WHERE status = 'processing'
		  AND updated_at < $2
		  AND attempts < max_attempts`,
		now, now-int64(staleAfter/time.Second),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FetchBatch returns claimable rows in dispatch order.
func (r *Repository) FetchBatch(ctx context.Context, limit int) ([]*PendingOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + pendingOrderColumns + `
		FROM pending_orders
		WHERE status = 'pending' AND attempts < max_attempts
		ORDER BY priority DESC, id ASC
		LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PendingOrder
	for rows.Next() {
		o, err := scanPendingOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Claim transitions pending -> processing by compare-and-set. Exactly one
// worker wins; a false return means another worker got there first (or the
// row moved on).
func (r *Repository) Claim(ctx context.Context, orderID int64) (bool, error) {
	now := time.Now().Unix()
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE pending_orders
		SET status = 'processing',
		    attempts = attempts + 1,
		    processed_at = $2,
		    updated_at = $2
		WHERE id = $1 AND status = 'pending'`,
		orderID, now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SentResult carries the terminal bookkeeping for a dispatched order.
type SentResult struct {
	Note                 string
	ExchangeID           string
	ExchangeOrderID      string
	ExchangeResponseJSON string
	Filled               float64
	AvgPrice             float64
	ExecutedAt           *int64
}

// MarkSent finalizes an order as sent.
func (r *Repository) MarkSent(ctx context.Context, orderID int64, res SentResult) error {
	now := time.Now().Unix()
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE pending_orders
		SET status = 'sent',
		    last_error = '',
		    dispatch_note = $2,
		    sent_at = $3,
		    executed_at = $4,
		    exchange_id = $5,
		    exchange_order_id = $6,
		    exchange_response_json = $7,
		    filled = $8,
		    avg_price = $9,
		    updated_at = $3
		WHERE id = $1`,
		orderID, res.Note, now, res.ExecutedAt,
		res.ExchangeID, res.ExchangeOrderID, res.ExchangeResponseJSON,
		res.Filled, res.AvgPrice,
	)
	return err
}

// MarkFailed finalizes an order as failed.
func (r *Repository) MarkFailed(ctx context.Context, orderID int64, errMsg string) error {
	if errMsg == "" {
		errMsg = "failed"
	}
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE pending_orders
		SET status = 'failed', last_error = $2, updated_at = $3
		WHERE id = $1`,
		orderID, errMsg, time.Now().Unix(),
	)
	return err
}

// MarkDeferred parks an order without consuming its remaining attempts.
func (r *Repository) MarkDeferred(ctx context.Context, orderID int64, reason string) error {
	if reason == "" {
		reason = "deferred"
	}
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE pending_orders
		SET status = 'deferred', last_error = $2, updated_at = $3
		WHERE id = $1`,
		orderID, reason, time.Now().Unix(),
	)
	return err
}

// GetPendingOrder retrieves one row by id
func (r *Repository) GetPendingOrder(ctx context.Context, id int64) (*PendingOrder, error) {
	query := `SELECT ` + pendingOrderColumns + ` FROM pending_orders WHERE id = $1`
	return scanPendingOrder(r.db.Pool.QueryRow(ctx, query, id))
}

// ListRecentOrders returns the newest queue rows. Used by the ops API.
func (r *Repository) ListRecentOrders(ctx context.Context, limit int) ([]*PendingOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + pendingOrderColumns + ` FROM pending_orders ORDER BY id DESC LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PendingOrder
	for rows.Next() {
		o, err := scanPendingOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
