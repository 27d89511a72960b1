package database

import (
	"context"
	"encoding/json"
	"fmt"
)

// Repository provides data access methods
type Repository struct {
	db          *DB
	maxAttempts int
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SetMaxAttempts overrides the attempt budget stamped on new queue rows.
func (r *Repository) SetMaxAttempts(n int) {
	if n > 0 {
		r.maxAttempts = n
	}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// GetDB returns the underlying DB instance
func (r *Repository) GetDB() *DB {
	return r.db
}

// ============================================================================
// STRATEGIES
// ============================================================================

const strategyColumns = `id, user_id, status, strategy_name, strategy_type, initial_capital,
	leverage, decide_interval, execution_mode,
	COALESCE(notification_config, 'null'::jsonb), COALESCE(indicator_config, 'null'::jsonb),
	COALESCE(exchange_config, 'null'::jsonb), COALESCE(trading_config, 'null'::jsonb),
	COALESCE(ai_model_config, 'null'::jsonb), created_at, updated_at`

func (r *Repository) scanStrategy(row interface{ Scan(...interface{}) error }) (*Strategy, error) {
	s := &Strategy{}
	var notifRaw, indRaw, exRaw, trRaw, aiRaw []byte
	err := row.Scan(
		&s.ID, &s.UserID, &s.Status, &s.StrategyName, &s.StrategyType, &s.InitialCapital,
		&s.Leverage, &s.DecideInterval, &s.ExecutionMode,
		&notifRaw, &indRaw, &exRaw, &trRaw, &aiRaw,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.NotificationConfig = DecodeJSONMap(notifRaw)
	s.IndicatorConfig = DecodeJSONMap(indRaw)
	s.ExchangeConfig = DecodeJSONMap(exRaw)
	s.TradingConfig = DecodeJSONMap(trRaw)
	s.AIModelConfig = DecodeJSONMap(aiRaw)
	return s, nil
}

// GetStrategy retrieves a strategy by ID
func (r *Repository) GetStrategy(ctx context.Context, id int64) (*Strategy, error) {
	query := `SELECT ` + strategyColumns + ` FROM qd_strategies_trading WHERE id = $1`
	return r.scanStrategy(r.db.Pool.QueryRow(ctx, query, id))
}

// ListRunningStrategies retrieves all strategies with status running
func (r *Repository) ListRunningStrategies(ctx context.Context) ([]*Strategy, error) {
	query := `SELECT ` + strategyColumns + ` FROM qd_strategies_trading WHERE status = $1 ORDER BY id`
	rows, err := r.db.Pool.Query(ctx, query, StrategyStatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Strategy
	for rows.Next() {
		s, err := r.scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListStrategies retrieves all strategies
func (r *Repository) ListStrategies(ctx context.Context) ([]*Strategy, error) {
	query := `SELECT ` + strategyColumns + ` FROM qd_strategies_trading ORDER BY id`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Strategy
	for rows.Next() {
		s, err := r.scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateStrategyStatus persists a strategy status change
func (r *Repository) UpdateStrategyStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE qd_strategies_trading SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("strategy %d not found", id)
	}
	return nil
}

// CreateStrategy inserts a strategy row. Used by the ops API and tests.
func (r *Repository) CreateStrategy(ctx context.Context, s *Strategy) error {
	marshal := func(m JSONMap) ([]byte, error) {
		if m == nil {
			return []byte("null"), nil
		}
		return json.Marshal(m)
	}
	notifRaw, _ := marshal(s.NotificationConfig)
	indRaw, _ := marshal(s.IndicatorConfig)
	exRaw, _ := marshal(s.ExchangeConfig)
	trRaw, _ := marshal(s.TradingConfig)
	aiRaw, _ := marshal(s.AIModelConfig)

	query := `
		INSERT INTO qd_strategies_trading (
			user_id, status, strategy_name, strategy_type, initial_capital,
			leverage, decide_interval, execution_mode,
			notification_config, indicator_config, exchange_config, trading_config, ai_model_config
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		s.UserID, s.Status, s.StrategyName, s.StrategyType, s.InitialCapital,
		s.Leverage, s.DecideInterval, s.ExecutionMode,
		notifRaw, indRaw, exRaw, trRaw, aiRaw,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}
