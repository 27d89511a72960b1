package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

// closeEpsilonRatio: a reduce leaving less than this fraction of the prior
// size behind collapses into a close.
const closeEpsilonRatio = 0.001

// ============================================================================
// POSITIONS
// ============================================================================

const positionColumns = `id, user_id, strategy_id, symbol, side, size, entry_price,
	current_price, highest_price, lowest_price, updated_at`

func scanPosition(row interface{ Scan(...interface{}) error }) (*Position, error) {
	p := &Position{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.StrategyID, &p.Symbol, &p.Side, &p.Size, &p.EntryPrice,
		&p.CurrentPrice, &p.HighestPrice, &p.LowestPrice, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPosition retrieves the position row for (strategy, symbol, side).
// Returns nil when flat.
func (r *Repository) GetPosition(ctx context.Context, strategyID int64, symbol, side string) (*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM qd_strategy_positions
		WHERE strategy_id = $1 AND symbol = $2 AND side = $3`
	p, err := scanPosition(r.db.Pool.QueryRow(ctx, query, strategyID, symbol, side))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetPositions retrieves all position rows for a strategy
func (r *Repository) GetPositions(ctx context.Context, strategyID int64) ([]*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM qd_strategy_positions
		WHERE strategy_id = $1 ORDER BY symbol, side`
	rows, err := r.db.Pool.Query(ctx, query, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListAllPositions retrieves every position row. Used by the ops API.
func (r *Repository) ListAllPositions(ctx context.Context) ([]*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM qd_strategy_positions ORDER BY strategy_id, symbol, side`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateCurrentPrice refreshes the mark price and price extremes for an open
// position. Extremes only ever widen.
func (r *Repository) UpdateCurrentPrice(ctx context.Context, strategyID int64, symbol, side string, price float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE qd_strategy_positions
		SET current_price = $4,
		    highest_price = GREATEST(highest_price, $4),
		    lowest_price = CASE WHEN lowest_price <= 0 THEN $4 ELSE LEAST(lowest_price, $4) END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE strategy_id = $1 AND symbol = $2 AND side = $3`,
		strategyID, symbol, side, price,
	)
	return err
}

// UpdatePositionSize overwrites the size of an existing position row.
// Reconciliation uses this when the exchange diverges from the local record.
func (r *Repository) UpdatePositionSize(ctx context.Context, strategyID int64, symbol, side string, size float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE qd_strategy_positions SET size = $4, updated_at = CURRENT_TIMESTAMP
		WHERE strategy_id = $1 AND symbol = $2 AND side = $3`,
		strategyID, symbol, side, size,
	)
	return err
}

// DeletePosition removes a position row
func (r *Repository) DeletePosition(ctx context.Context, strategyID int64, symbol, side string) error {
	_, err := r.db.Pool.Exec(ctx, `
		DELETE FROM qd_strategy_positions
		WHERE strategy_id = $1 AND symbol = $2 AND side = $3`,
		strategyID, symbol, side,
	)
	return err
}

// sideForSignal maps a signal type onto the position side it operates on.
func sideForSignal(signalType string) string {
	if strings.HasSuffix(signalType, "_short") {
		return SideShort
	}
	return SideLong
}

// ApplyFill applies an executed fill to the local position snapshot inside a
// single transaction and returns the realized profit (nil for entries) plus
// the resulting position (nil when the fill closed it).
//
// Transitions:
//
//	flat + open   -> create (entry = fill price)
//	open + add    -> weighted-average entry, size grows
//	open + reduce -> size shrinks, entry unchanged; collapses to close when
//	                 the remainder is below 0.1% of the prior size
//	open + close  -> row deleted, profit realized over the whole size
func (r *Repository) ApplyFill(ctx context.Context, userID string, strategyID int64, symbol, signalType string, filled, avgPrice float64) (*float64, *Position, error) {
	if filled <= 0 || avgPrice <= 0 {
		return nil, nil, errors.New("fill requires positive amount and price")
	}

	side := sideForSignal(signalType)
	kind := signalKind(signalType)

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + positionColumns + ` FROM qd_strategy_positions
		WHERE strategy_id = $1 AND symbol = $2 AND side = $3 FOR UPDATE`
	pos, err := scanPosition(tx.QueryRow(ctx, query, strategyID, symbol, side))
	if errors.Is(err, pgx.ErrNoRows) {
		pos = nil
	} else if err != nil {
		return nil, nil, err
	}

	var profit *float64
	var result *Position

	switch kind {
	case "open", "add":
		if pos == nil {
			p := &Position{
				UserID:       userID,
				StrategyID:   strategyID,
				Symbol:       symbol,
				Side:         side,
				Size:         filled,
				EntryPrice:   avgPrice,
				CurrentPrice: avgPrice,
				HighestPrice: avgPrice,
				LowestPrice:  avgPrice,
			}
			err = tx.QueryRow(ctx, `
				INSERT INTO qd_strategy_positions (
					user_id, strategy_id, symbol, side, size, entry_price,
					current_price, highest_price, lowest_price, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $6, $6, $6, CURRENT_TIMESTAMP)
				RETURNING id`,
				userID, strategyID, symbol, side, filled, avgPrice,
			).Scan(&p.ID)
			if err != nil {
				return nil, nil, err
			}
			result = p
		} else {
			newSize, newEntry := blendEntry(pos.Size, pos.EntryPrice, filled, avgPrice)
			_, err = tx.Exec(ctx, `
				UPDATE qd_strategy_positions
				SET size = $4, entry_price = $5, current_price = $6,
				    highest_price = GREATEST(highest_price, $6),
				    lowest_price = CASE WHEN lowest_price <= 0 THEN $6 ELSE LEAST(lowest_price, $6) END,
				    updated_at = CURRENT_TIMESTAMP
				WHERE strategy_id = $1 AND symbol = $2 AND side = $3`,
				strategyID, symbol, side, newSize, newEntry, avgPrice,
			)
			if err != nil {
				return nil, nil, err
			}
			pos.Size = newSize
			pos.EntryPrice = newEntry
			pos.CurrentPrice = avgPrice
			result = pos
		}

	case "reduce":
		if pos == nil || pos.Size <= 0 {
			// Nothing to reduce; the fill is recorded by the caller.
			break
		}
		qty := filled
		if qty > pos.Size {
			qty = pos.Size
		}
		p := realizedProfit(side, pos.EntryPrice, avgPrice, qty)
		profit = &p

		remaining := pos.Size - qty
		if reduceCollapses(pos.Size, qty) {
			if _, err = tx.Exec(ctx, `
				DELETE FROM qd_strategy_positions
				WHERE strategy_id = $1 AND symbol = $2 AND side = $3`,
				strategyID, symbol, side,
			); err != nil {
				return nil, nil, err
			}
		} else {
			if _, err = tx.Exec(ctx, `
				UPDATE qd_strategy_positions
				SET size = $4, current_price = $5, updated_at = CURRENT_TIMESTAMP
				WHERE strategy_id = $1 AND symbol = $2 AND side = $3`,
				strategyID, symbol, side, remaining, avgPrice,
			); err != nil {
				return nil, nil, err
			}
			pos.Size = remaining
			pos.CurrentPrice = avgPrice
			result = pos
		}

	case "close":
		if pos == nil || pos.Size <= 0 {
			break
		}
		p := realizedProfit(side, pos.EntryPrice, avgPrice, pos.Size)
		profit = &p
		if _, err = tx.Exec(ctx, `
			DELETE FROM qd_strategy_positions
			WHERE strategy_id = $1 AND symbol = $2 AND side = $3`,
			strategyID, symbol, side,
		); err != nil {
			return nil, nil, err
		}

	default:
		return nil, nil, errors.New("unsupported signal type: " + signalType)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return profit, result, nil
}

// signalKind strips the direction suffix: open_long -> open.
func signalKind(signalType string) string {
	if i := strings.IndexByte(signalType, '_'); i > 0 {
		return signalType[:i]
	}
	return signalType
}

func realizedProfit(side string, entry, exit, qty float64) float64 {
	if side == SideShort {
		return (entry - exit) * qty
	}
	return (exit - entry) * qty
}

// blendEntry folds an add into an existing position: size grows, entry
// becomes the size-weighted average.
func blendEntry(prevSize, prevEntry, filled, price float64) (newSize, newEntry float64) {
	newSize = prevSize + filled
	newEntry = (prevEntry*prevSize + price*filled) / newSize
	return newSize, newEntry
}

// reduceCollapses reports whether the remainder after a reduce is small
// enough to close the position outright.
func reduceCollapses(priorSize, qty float64) bool {
	return priorSize-qty <= priorSize*closeEpsilonRatio
}
