package database

import (
	"context"
	"fmt"
	"time"

	"upbit-autopilot/internal/autopilot"
)

// Repository persists tick decision history.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over the given DB.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// DecisionRow is one stored candidate decision.
type DecisionRow struct {
	ID        int64     `json:"id"`
	Market    string    `json:"market"`
	Stage     string    `json:"stage"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decided_at"`
}

// SaveTick records one orchestrator tick and its candidate decisions in a
// single transaction.
func (r *Repository) SaveTick(ctx context.Context, state autopilot.State, tradingMode string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tick transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var tickID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO autopilot_ticks
			(ticked_at, trading_mode, blocked_by_daily_loss, candidate_count, worker_count, llm_used_today)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		state.UpdatedAt, tradingMode, state.BlockedByDailyLoss,
		len(state.Candidates), len(state.Workers), state.LLMUsage.UsedToday,
	).Scan(&tickID)
	if err != nil {
		return fmt.Errorf("insert tick: %w", err)
	}

	for _, cand := range state.Candidates {
		_, err = tx.Exec(ctx,
			`INSERT INTO autopilot_decisions (tick_id, market, stage, score, reason, decided_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			tickID, cand.Opportunity.Market, string(cand.Stage),
			cand.Opportunity.Score, cand.Reason, cand.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert decision for %s: %w", cand.Opportunity.Market, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tick transaction: %w", err)
	}
	return nil
}

// RecentDecisions returns the newest decisions, optionally filtered by
// market, newest first.
func (r *Repository) RecentDecisions(ctx context.Context, market string, limit int) ([]DecisionRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, market, stage, score, reason, decided_at
		FROM autopilot_decisions`
	args := []interface{}{}
	if market != "" {
		query += ` WHERE market = $1`
		args = append(args, market)
	}
	query += fmt.Sprintf(` ORDER BY decided_at DESC LIMIT %d`, limit)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRow
	for rows.Next() {
		var row DecisionRow
		if err := rows.Scan(&row.ID, &row.Market, &row.Stage, &row.Score, &row.Reason, &row.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}
	return out, nil
}

// PruneDecisions drops history older than the retention window.
func (r *Repository) PruneDecisions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM autopilot_ticks WHERE ticked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune ticks: %w", err)
	}
	return tag.RowsAffected(), nil
}
