// Package database persists decision history in PostgreSQL and mirrors
// volatile orchestration state (daily LLM budget, market cooldowns) in
// Redis so a restart does not reset them.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database connection settings
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a connection pool and verifies connectivity.
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
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
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")
	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the decision-history schema.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS autopilot_ticks (
			id BIGSERIAL PRIMARY KEY,
			ticked_at TIMESTAMPTZ NOT NULL,
			trading_mode VARCHAR(16) NOT NULL,
			blocked_by_daily_loss BOOLEAN NOT NULL DEFAULT FALSE,
			candidate_count INT NOT NULL DEFAULT 0,
			worker_count INT NOT NULL DEFAULT 0,
			llm_used_today INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS autopilot_decisions (
			id BIGSERIAL PRIMARY KEY,
			tick_id BIGINT NOT NULL REFERENCES autopilot_ticks(id) ON DELETE CASCADE,
			market VARCHAR(20) NOT NULL,
			stage VARCHAR(24) NOT NULL,
			score DECIMAL(6, 2) NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			decided_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_autopilot_decisions_market
			ON autopilot_decisions(market, decided_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_autopilot_ticks_at
			ON autopilot_ticks(ticked_at DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	db.logger.Info().Msg("database migrations complete")
	return nil
}
