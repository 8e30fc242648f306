package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"multi-venue-trading-bot/internal/oms"
	"multi-venue-trading-bot/internal/portfolio"
)

// Repository provides persistence for snapshots, equity history and
// backtest runs. It satisfies oms.SnapshotStore.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over the pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Save upserts one venue's OMS snapshot as a JSONB document.
func (r *Repository) Save(ctx context.Context, snapshot *oms.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO oms_snapshots (venue_id, snapshot, last_sync_ts, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (venue_id)
		DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			last_sync_ts = EXCLUDED.last_sync_ts,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.Pool.Exec(ctx, query, snapshot.VenueID, payload, snapshot.LastSyncTs); err != nil {
		return fmt.Errorf("save snapshot for %s: %w", snapshot.VenueID, err)
	}
	return nil
}

// Load returns the stored snapshot for the venue, or nil when none exists.
func (r *Repository) Load(ctx context.Context, venueID string) (*oms.Snapshot, error) {
	var payload []byte
	query := `SELECT snapshot FROM oms_snapshots WHERE venue_id = $1`
	err := r.db.Pool.QueryRow(ctx, query, venueID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", venueID, err)
	}

	var snapshot oms.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot for %s: %w", venueID, err)
	}
	return &snapshot, nil
}

// SaveEquityPoint appends one equity history sample.
func (r *Repository) SaveEquityPoint(ctx context.Context, point portfolio.PortfolioEquityPoint) error {
	perSymbol, err := json.Marshal(point.PerSymbol)
	if err != nil {
		return fmt.Errorf("marshal per-symbol equity: %w", err)
	}
	query := `INSERT INTO equity_history (ts, equity, per_symbol) VALUES ($1, $2, $3)`
	if _, err := r.db.Pool.Exec(ctx, query, point.Timestamp, point.Equity, perSymbol); err != nil {
		return fmt.Errorf("save equity point: %w", err)
	}
	return nil
}

// RecentEquity returns the newest equity samples, oldest first.
func (r *Repository) RecentEquity(ctx context.Context, limit int) ([]portfolio.PortfolioEquityPoint, error) {
	query := `
		SELECT ts, equity, per_symbol FROM (
			SELECT ts, equity, per_symbol FROM equity_history ORDER BY ts DESC LIMIT $1
		) recent ORDER BY ts ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query equity history: %w", err)
	}
	defer rows.Close()

	var out []portfolio.PortfolioEquityPoint
	for rows.Next() {
		var p portfolio.PortfolioEquityPoint
		var perSymbol []byte
		if err := rows.Scan(&p.Timestamp, &p.Equity, &perSymbol); err != nil {
			return nil, fmt.Errorf("scan equity point: %w", err)
		}
		if len(perSymbol) > 0 {
			if err := json.Unmarshal(perSymbol, &p.PerSymbol); err != nil {
				return nil, fmt.Errorf("unmarshal per-symbol equity: %w", err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveBacktestRun records a completed backtest.
func (r *Repository) SaveBacktestRun(ctx context.Context, symbols []string, result *portfolio.MultiSymbolResult) error {
	query := `
		INSERT INTO backtest_runs (symbols, initial_capital, final_equity, roi, max_drawdown, ticks)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		strings.Join(symbols, ","),
		result.InitialCapital,
		result.FinalEquity,
		result.ROI,
		result.MaxDrawdown,
		result.Ticks,
	)
	if err != nil {
		return fmt.Errorf("save backtest run: %w", err)
	}
	return nil
}
