package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"quantdinger-engine/config"
	"quantdinger-engine/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.WithComponent("database").Info("connected to PostgreSQL", "database", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logging.WithComponent("database").Info("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log := logging.WithComponent("database")
	log.Info("running database migrations")

	migrations := []string{
		// Strategy configuration and status
		`CREATE TABLE IF NOT EXISTS qd_strategies_trading (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'stopped',
			strategy_name VARCHAR(200) NOT NULL DEFAULT '',
			strategy_type VARCHAR(50) NOT NULL DEFAULT 'indicator',
			initial_capital DECIMAL(20, 8) NOT NULL DEFAULT 0,
			leverage INTEGER NOT NULL DEFAULT 1,
			decide_interval INTEGER NOT NULL DEFAULT 10,
			execution_mode VARCHAR(20) NOT NULL DEFAULT 'signal',
			notification_config JSONB,
			indicator_config JSONB,
			exchange_config JSONB,
			trading_config JSONB,
			ai_model_config JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_strategies_trading_status ON qd_strategies_trading(status)`,
		`CREATE INDEX IF NOT EXISTS idx_strategies_trading_user ON qd_strategies_trading(user_id)`,

		// Live position snapshot, one row per (strategy, symbol, side)
		`CREATE TABLE IF NOT EXISTS qd_strategy_positions (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL DEFAULT '',
			strategy_id INTEGER NOT NULL,
			symbol VARCHAR(50) NOT NULL,
			side VARCHAR(10) NOT NULL,
			size DECIMAL(30, 12) NOT NULL DEFAULT 0,
			entry_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			current_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			highest_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			lowest_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (strategy_id, symbol, side)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_positions_strategy ON qd_strategy_positions(strategy_id)`,

		// Append-only trade log
		`CREATE TABLE IF NOT EXISTS qd_strategy_trades (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL DEFAULT '',
			strategy_id INTEGER NOT NULL,
			symbol VARCHAR(50) NOT NULL,
			type VARCHAR(20) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			amount DECIMAL(30, 12) NOT NULL,
			value DECIMAL(30, 8) NOT NULL,
			commission DECIMAL(20, 8) NOT NULL DEFAULT 0,
			commission_ccy VARCHAR(20) NOT NULL DEFAULT '',
			profit DECIMAL(20, 8),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_trades_strategy ON qd_strategy_trades(strategy_id)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_trades_created ON qd_strategy_trades(created_at)`,

		// Durable dispatch queue. Epoch-second timestamps so stale
		// reclamation compares integers.
		`CREATE TABLE IF NOT EXISTS pending_orders (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL DEFAULT '',
			strategy_id INTEGER NOT NULL,
			symbol VARCHAR(50) NOT NULL,
			signal_type VARCHAR(20) NOT NULL,
			signal_ts BIGINT NOT NULL DEFAULT 0,
			market_type VARCHAR(20) NOT NULL DEFAULT 'swap',
			order_type VARCHAR(20) NOT NULL DEFAULT 'market',
			amount DECIMAL(30, 12) NOT NULL DEFAULT 0,
			price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			execution_mode VARCHAR(20) NOT NULL DEFAULT 'signal',
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			priority INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 10,
			last_error TEXT NOT NULL DEFAULT '',
			payload_json TEXT NOT NULL DEFAULT '',
			exchange_id VARCHAR(50) NOT NULL DEFAULT '',
			exchange_order_id VARCHAR(100) NOT NULL DEFAULT '',
			exchange_response_json TEXT NOT NULL DEFAULT '',
			filled DECIMAL(30, 12) NOT NULL DEFAULT 0,
			avg_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			dispatch_note TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0,
			processed_at BIGINT,
			sent_at BIGINT,
			executed_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_orders_status ON pending_orders(status, priority DESC, id ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_orders_strategy ON pending_orders(strategy_id)`,

		// Browser-channel notification rows
		`CREATE TABLE IF NOT EXISTS qd_strategy_notifications (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL DEFAULT '',
			strategy_id INTEGER NOT NULL,
			symbol VARCHAR(50) NOT NULL DEFAULT '',
			signal_type VARCHAR(30) NOT NULL DEFAULT '',
			channels VARCHAR(200) NOT NULL DEFAULT '',
			title VARCHAR(300) NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			payload_json TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_notifications_strategy ON qd_strategy_notifications(strategy_id)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_notifications_created ON qd_strategy_notifications(created_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info("database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
