package database

import (
	"context"
)

// ============================================================================
// TRADES
// ============================================================================

// RecordTrade appends a qd_strategy_trades row. Value is derived from price
// and amount; commission is persisted even when its currency is not a
// stablecoin (profit adjustment is the caller's concern).
func (r *Repository) RecordTrade(ctx context.Context, t *Trade) error {
	t.Value = t.Price * t.Amount
	query := `
		INSERT INTO qd_strategy_trades (
			user_id, strategy_id, symbol, type, price, amount, value,
			commission, commission_ccy, profit
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		t.UserID, t.StrategyID, t.Symbol, t.Type, t.Price, t.Amount, t.Value,
		t.Commission, t.CommissionCcy, t.Profit,
	).Scan(&t.ID, &t.CreatedAt)
}

// GetTrades retrieves recent trades for a strategy, newest first
func (r *Repository) GetTrades(ctx context.Context, strategyID int64, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, strategy_id, symbol, type, price, amount, value,
		       commission, commission_ccy, profit, created_at
		FROM qd_strategy_trades
		WHERE strategy_id = $1
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, strategyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Trade
	for rows.Next() {
		t := &Trade{}
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.StrategyID, &t.Symbol, &t.Type, &t.Price, &t.Amount,
			&t.Value, &t.Commission, &t.CommissionCcy, &t.Profit, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
