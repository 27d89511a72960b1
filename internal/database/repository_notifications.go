package database

import (
	"context"

	"github.com/google/uuid"
)

// ============================================================================
// NOTIFICATIONS
// ============================================================================

// InsertNotification persists a browser-channel notification row. Rejections
// that deny an order (AI filter, guardrails) and dispatch results both land
// here so the frontend can surface them.
func (r *Repository) InsertNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	query := `
		INSERT INTO qd_strategy_notifications (
			id, user_id, strategy_id, symbol, signal_type, channels, title, message, payload_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		n.ID, n.UserID, n.StrategyID, n.Symbol, n.SignalType,
		n.Channels, n.Title, n.Message, n.PayloadJSON,
	).Scan(&n.CreatedAt)
}

// ListNotifications returns recent notification rows for a strategy
func (r *Repository) ListNotifications(ctx context.Context, strategyID int64, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, strategy_id, symbol, signal_type, channels, title, message, payload_json, created_at
		FROM qd_strategy_notifications
		WHERE strategy_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, strategyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.StrategyID, &n.Symbol, &n.SignalType,
			&n.Channels, &n.Title, &n.Message, &n.PayloadJSON, &n.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
